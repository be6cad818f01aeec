package repositories

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/your-org/consolegrid/internal/graphql"
)

// Doer executes GraphQL operations; *graphql.Client implements it
type Doer interface {
	Do(ctx context.Context, req graphql.Request) (*graphql.Response, error)
}

var _ Doer = (*graphql.Client)(nil)

// rowsAt returns the raw JSON objects of the array at path
func rowsAt(res gjson.Result) []json.RawMessage {
	if !res.IsArray() {
		return []json.RawMessage{}
	}
	items := res.Array()
	rows := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		rows = append(rows, json.RawMessage(item.Raw))
	}
	return rows
}

// intAt returns nil when the backend did not report a number
func intAt(res gjson.Result) *int {
	if res.Type != gjson.Number {
		return nil
	}
	n := int(res.Int())
	return &n
}

// stringAt returns nil for a missing or null value
func stringAt(res gjson.Result) *string {
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	s := res.String()
	return &s
}
