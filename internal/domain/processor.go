package domain

import (
	"context"
	"encoding/json"
)

// RowProjector turns raw backend rows into grid rows.
// The order of results matches the order of input rows.
type RowProjector interface {
	Project(ctx context.Context, columns []Column, raws []json.RawMessage) ([]Row, error)
}
