package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Direction is a sort direction understood by the grid widget
type Direction string

const (
	DirectionAsc  Direction = "asc"
	DirectionDesc Direction = "desc"
)

// ParseDirection normalises a widget supplied direction, anything unknown sorts ascending
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(DirectionDesc)) {
		return DirectionDesc
	}
	return DirectionAsc
}

// SortOrder is one sort key; position in a slice is the tie-break priority
type SortOrder struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// FallbackSort is used when neither the request nor the grid supplies an order.
// Paging over an unordered result is not stable, so a grid always sorts by something.
var FallbackSort = []SortOrder{{Field: "updatedAt", Direction: DirectionDesc}}

// GridRequest is emitted by a grid widget on every draw
type GridRequest struct {
	PageIndex  int         `json:"pageIndex"`
	PageSize   int         `json:"pageSize"`
	Sort       []SortOrder `json:"sort"`
	SearchTerm string      `json:"searchTerm"`
	DrawToken  string      `json:"drawToken"`
}

// Row is a single projected grid row
type Row map[string]any

// GridResponse is what the grid widget renders.
// TotalRows is 0 while TotalKnown is false; the pair replaces an "unset" total.
type GridResponse struct {
	DrawToken   string `json:"drawToken"`
	TotalRows   int    `json:"totalRows"`
	TotalKnown  bool   `json:"totalKnown"`
	PageIndex   int    `json:"pageIndex"`
	HasNext     bool   `json:"hasNext"`
	HasPrevious bool   `json:"hasPrevious"`
	Rows        []Row  `json:"rows"`
	Error       string `json:"error,omitempty"`
}

// PagingMode tells the adapter how a backend pages
type PagingMode int

const (
	PagingOffset PagingMode = iota
	PagingCursor
)

func (m PagingMode) String() string {
	if m == PagingCursor {
		return "cursor"
	}
	return "offset"
}

// Filter is the merged search input sent to a backend
type Filter struct {
	Term   string            // space joined free text
	Fields map[string]string // named parameters, e.g. thread id
}

// BackendQuery is the single query an adapter issues per fetch.
// Offset backends read PageIndex/Offset/Limit, cursor backends read PageToken/Limit.
type BackendQuery struct {
	Filter    Filter
	Sort      []SortOrder
	PageIndex int
	Offset    int
	Limit     int
	PageToken string
}

// BackendPage is one page as returned by a backend.
// Total and NextPageToken are nil when the backend did not report them.
type BackendPage struct {
	Rows          []json.RawMessage
	Total         *int
	NextPageToken *string
}

// Column describes one grid column; Path is a gjson path into the raw row
type Column struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// GridState is the persisted position of a grid (widget "state save")
type GridState struct {
	ID         string            `json:"id" reindex:"id,,pk"`
	Grid       string            `json:"grid" reindex:"grid"`
	PageIndex  int               `json:"page_index"`
	PageSize   int               `json:"page_size"`
	Sort       []SortOrder       `json:"sort"`
	SearchTerm string            `json:"search_term"`
	Filters    map[string]string `json:"filters"`
	UpdatedAt  time.Time         `json:"updated_at" reindex:"updated_at"`
}
