package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/middleware"
	"github.com/your-org/consolegrid/internal/usecases"
)

const maxOrderColumns = 8

// SearchSetter publishes the process-wide search query
type SearchSetter interface {
	Current() string
	Set(query string)
}

// GridHandler serves grid widgets, both the DataTables server-side protocol
// and a plain JSON form of GridRequest
type GridHandler struct {
	responder
	grids       *usecases.GridUsecase
	search      SearchSetter
	maxPageSize int
}

// NewGridHandler creates a new grid handler
func NewGridHandler(grids *usecases.GridUsecase, search SearchSetter, maxPageSize int, logger *zap.Logger) *GridHandler {
	if maxPageSize < 1 {
		maxPageSize = 100
	}
	return &GridHandler{
		responder:   responder{logger: logger},
		grids:       grids,
		search:      search,
		maxPageSize: maxPageSize,
	}
}

// Register mounts the grid routes
func (h *GridHandler) Register(r chi.Router) {
	r.Route("/grids/{grid}", func(r chi.Router) {
		r.Get("/", h.DataTables)                 // GET /grids/{grid}
		r.Post("/fetch", h.Fetch)                // POST /grids/{grid}/fetch
		r.Put("/filters/{filter}", h.SetFilter)  // PUT /grids/{grid}/filters/{filter}
		r.Post("/pages/{direction}", h.Paginate) // POST /grids/{grid}/pages/{direction}
		r.Get("/snapshot", h.Snapshot)           // GET /grids/{grid}/snapshot
		r.Get("/state", h.State)                 // GET /grids/{grid}/state
	})
	r.Get("/search", h.GetSearch)
	r.Put("/search", h.SetSearch)
}

// DataTablesResponse is the server-side processing reply DataTables expects
type DataTablesResponse struct {
	Draw            int          `json:"draw"`
	RecordsTotal    int          `json:"recordsTotal"`
	RecordsFiltered int          `json:"recordsFiltered"`
	Data            []domain.Row `json:"data"`
	Error           string       `json:"error,omitempty"`
	TotalKnown      bool         `json:"totalKnown"`
	HasNext         bool         `json:"hasNext"`
	HasPrevious     bool         `json:"hasPrevious"`
}

// DataTables handles GET /grids/{grid} with DataTables query parameters
func (h *GridHandler) DataTables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	name := chi.URLParam(r, "grid")

	req, err := h.parseDataTables(r.URL.Query())
	if err != nil {
		h.logger.Warn("invalid datatables request",
			zap.String("request_id", requestID),
			zap.String("grid", name),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	resp, err := h.grids.Fetch(ctx, name, sessionID(r), req)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, toDataTables(resp, req.PageSize), requestID)
}

// parseDataTables maps draw/start/length/order/columns/search onto a GridRequest
func (h *GridHandler) parseDataTables(q url.Values) (domain.GridRequest, error) {
	req := domain.GridRequest{
		DrawToken:  q.Get("draw"),
		SearchTerm: q.Get("search[value]"),
	}

	start, err := intParam(q, "start", 0)
	if err != nil || start < 0 {
		return req, fmt.Errorf("invalid start parameter: must be a non-negative integer")
	}
	length, err := intParam(q, "length", 0)
	if err != nil {
		return req, fmt.Errorf("invalid length parameter: must be an integer")
	}
	// -1 means "all rows" in DataTables
	if length < 0 || length > h.maxPageSize {
		length = h.maxPageSize
	}
	req.PageSize = length
	if length > 0 {
		req.PageIndex = start / length
	}

	for i := 0; i < maxOrderColumns; i++ {
		colParam := q.Get(fmt.Sprintf("order[%d][column]", i))
		if colParam == "" {
			break
		}
		col, err := strconv.Atoi(colParam)
		if err != nil || col < 0 {
			return req, fmt.Errorf("invalid order[%d][column] parameter", i)
		}
		field := q.Get(fmt.Sprintf("columns[%d][data]", col))
		if field == "" {
			continue
		}
		req.Sort = append(req.Sort, domain.SortOrder{
			Field:     field,
			Direction: domain.ParseDirection(q.Get(fmt.Sprintf("order[%d][dir]", i))),
		})
	}

	return req, nil
}

func toDataTables(resp domain.GridResponse, pageSize int) DataTablesResponse {
	draw, _ := strconv.Atoi(resp.DrawToken)

	total := resp.TotalRows
	if !resp.TotalKnown {
		// без точного числа показываем уже пройденные строки (+1, если есть следующая страница)
		total = resp.PageIndex*pageSize + len(resp.Rows)
		if resp.HasNext {
			total++
		}
	}

	rows := resp.Rows
	if rows == nil {
		rows = []domain.Row{}
	}
	return DataTablesResponse{
		Draw:            draw,
		RecordsTotal:    total,
		RecordsFiltered: total,
		Data:            rows,
		Error:           resp.Error,
		TotalKnown:      resp.TotalKnown,
		HasNext:         resp.HasNext,
		HasPrevious:     resp.HasPrevious,
	}
}

// Fetch handles POST /grids/{grid}/fetch with a JSON GridRequest
func (h *GridHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	name := chi.URLParam(r, "grid")

	var req domain.GridRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}
	if req.PageSize > h.maxPageSize {
		req.PageSize = h.maxPageSize
	}

	resp, err := h.grids.Fetch(ctx, name, sessionID(r), req)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, resp, requestID)
}

type filterBody struct {
	Value string `json:"value"`
}

// SetFilter handles PUT /grids/{grid}/filters/{filter}
func (h *GridHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	name := chi.URLParam(r, "grid")
	filter := chi.URLParam(r, "filter")

	var body filterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}

	resp, err := h.grids.SetFilter(ctx, name, sessionID(r), filter, body.Value)
	if err != nil {
		h.logger.Warn("failed to set filter",
			zap.String("request_id", requestID),
			zap.String("grid", name),
			zap.String("filter", filter),
			zap.Error(err),
		)
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, resp, requestID)
}

// Paginate handles POST /grids/{grid}/pages/{direction}, direction is next or previous
func (h *GridHandler) Paginate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	name := chi.URLParam(r, "grid")

	var next bool
	switch strings.ToLower(chi.URLParam(r, "direction")) {
	case "next":
		next = true
	case "previous", "prev":
		next = false
	default:
		h.respondError(w, http.StatusBadRequest, "direction must be next or previous", requestID)
		return
	}

	resp, err := h.grids.Paginate(ctx, name, sessionID(r), next, r.URL.Query().Get("draw"))
	if err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, resp, requestID)
}

// Snapshot handles GET /grids/{grid}/snapshot
func (h *GridHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	name := chi.URLParam(r, "grid")

	resp, ok, err := h.grids.Snapshot(name, sessionID(r))
	if err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	if !ok {
		h.respondError(w, http.StatusNotFound, "no snapshot yet", requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, resp, requestID)
}

// State handles GET /grids/{grid}/state
func (h *GridHandler) State(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	name := chi.URLParam(r, "grid")

	state, err := h.grids.Restore(ctx, name, sessionID(r))
	if err != nil {
		h.respondError(w, statusFor(err), err.Error(), requestID)
		return
	}
	h.respondJSON(w, http.StatusOK, state, requestID)
}

type searchBody struct {
	Query string `json:"query"`
}

// GetSearch handles GET /search
func (h *GridHandler) GetSearch(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	h.respondJSON(w, http.StatusOK, searchBody{Query: h.search.Current()}, requestID)
}

// SetSearch handles PUT /search; every bound grid refetches its first page
func (h *GridHandler) SetSearch(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}

	h.search.Set(body.Query)
	h.respondJSON(w, http.StatusAccepted, searchBody{Query: h.search.Current()}, requestID)
}

func intParam(q url.Values, key string, def int) (int, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
