package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/processor"
)

const (
	defaultPageSize       = 10
	defaultRefreshTimeout = 30 * time.Second
)

// FilterKind says how a bound filter reaches the backend
type FilterKind int

const (
	// FilterTerm values are joined into the free text term
	FilterTerm FilterKind = iota
	// FilterField values are sent as a separate named parameter
	FilterField
)

// FilterBinding declares a settable filter of a grid
type FilterBinding struct {
	Name  string
	Kind  FilterKind
	Param string // backend parameter for FilterField, defaults to Name
}

func (b FilterBinding) param() string {
	if b.Param != "" {
		return b.Param
	}
	return b.Name
}

// Option configures an Adapter
type Option func(*Adapter)

// WithDefaultSort sets the order used when a request carries none
func WithDefaultSort(orders ...domain.SortOrder) Option {
	return func(a *Adapter) {
		a.defaultSort = append([]domain.SortOrder(nil), orders...)
	}
}

// WithFieldMap translates widget field names into backend sort keys
func WithFieldMap(m map[string]string) Option {
	return func(a *Adapter) {
		a.fieldMap = m
	}
}

// WithFilters declares the filters a host can set
func WithFilters(bindings ...FilterBinding) Option {
	return func(a *Adapter) {
		a.bindings = append(a.bindings, bindings...)
	}
}

// WithColumns restricts rows to the given columns
func WithColumns(columns ...domain.Column) Option {
	return func(a *Adapter) {
		a.columns = append([]domain.Column(nil), columns...)
	}
}

// WithProjector sets a concurrent row projector; without one rows are projected inline
func WithProjector(p domain.RowProjector) Option {
	return func(a *Adapter) {
		a.projector = p
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDefaultPageSize sets the page size used for requests without one
func WithDefaultPageSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.defaultPageSize = n
		}
	}
}

// WithRefreshTimeout bounds refetches triggered by the search subscription
func WithRefreshTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.refreshTimeout = d
		}
	}
}

// Adapter bridges a grid widget's fetch callback to a backend query.
// It is safe for concurrent use; the lock is never held across a backend call.
type Adapter struct {
	name            string
	backend         domain.GridBackend
	paging          domain.PagingMode
	defaultSort     []domain.SortOrder
	fieldMap        map[string]string
	bindings        []FilterBinding
	columns         []domain.Column
	projector       domain.RowProjector
	logger          *zap.Logger
	listener        func(domain.GridResponse)
	defaultPageSize int
	refreshTimeout  time.Duration

	mu         sync.Mutex
	total      int
	totalKnown bool
	cursor     PageCursor
	filters    map[string]string
	globalTerm string
	lastReq    domain.GridRequest
	lastErr    string
	generation uint64
	seq        uint64
	snapshot   *domain.GridResponse
	release    func()
}

// NewAdapter creates an adapter for the given backend
func NewAdapter(name string, backend domain.GridBackend, opts ...Option) *Adapter {
	a := &Adapter{
		name:            name,
		backend:         backend,
		paging:          backend.Paging(),
		logger:          zap.NewNop(),
		defaultPageSize: defaultPageSize,
		refreshTimeout:  defaultRefreshTimeout,
		filters:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("grid", name), zap.Stringer("paging", a.paging))
	a.lastReq = domain.GridRequest{PageSize: a.defaultPageSize}
	return a
}

// Name returns the grid name
func (a *Adapter) Name() string {
	return a.name
}

// Paging returns the paging strategy of the backend
func (a *Adapter) Paging() domain.PagingMode {
	return a.paging
}

// fetchPlan is everything decided under the lock before the backend call
type fetchPlan struct {
	draw       string
	pageIndex  int
	query      domain.BackendQuery
	seq        uint64
	generation uint64
}

// OnFetch serves one grid draw. It never returns an error: failures are
// reported in GridResponse.Error and the draw token is always echoed.
func (a *Adapter) OnFetch(ctx context.Context, req domain.GridRequest) (resp domain.GridResponse) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("grid fetch panicked",
				zap.String("draw", req.DrawToken),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			resp = a.errorResponse(req.DrawToken, req.PageIndex, fmt.Sprintf("internal error: %v", r))
		}
	}()

	plan := a.plan(req)

	start := time.Now()
	page, err := a.backend.Query(ctx, plan.query)
	if err == nil && page == nil {
		err = fmt.Errorf("backend returned no page")
	}
	if err != nil {
		return a.fail(plan, err)
	}

	rows, err := a.project(ctx, page.Rows)
	if err != nil {
		return a.fail(plan, fmt.Errorf("failed to read rows: %w", err))
	}

	resp = a.succeed(plan, page, rows)
	a.logger.Debug("grid fetch completed",
		zap.String("draw", plan.draw),
		zap.Int("page_index", plan.pageIndex),
		zap.Int("rows", len(rows)),
		zap.Int("total", resp.TotalRows),
		zap.Duration("duration", time.Since(start)),
	)
	return resp
}

// plan maps the widget request onto a backend query and moves paging state
func (a *Adapter) plan(req domain.GridRequest) fetchPlan {
	a.mu.Lock()
	defer a.mu.Unlock()

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = a.defaultPageSize
	}
	pageIndex := req.PageIndex
	if pageIndex < 0 {
		pageIndex = 0
	}

	q := domain.BackendQuery{
		Filter: a.buildFilterLocked(req.SearchTerm),
		Sort:   a.mapSort(req.Sort),
		Limit:  pageSize,
	}

	switch a.paging {
	case domain.PagingCursor:
		current := a.cursor.Depth()
		switch {
		case pageIndex == 0:
			a.cursor.Reset()
		case pageIndex == current+1:
			if !a.cursor.Advance() {
				a.logger.Debug("no next page token, refetching current page")
			}
		case pageIndex == current-1:
			a.cursor.Back()
		case pageIndex != current:
			a.logger.Debug("cursor grid cannot jump, refetching current page",
				zap.Int("requested", pageIndex),
				zap.Int("current", current),
			)
		}
		pageIndex = a.cursor.Depth()
		q.PageToken = a.cursor.Current
	default:
		if a.totalKnown {
			lastPage := 0
			if a.total > 0 {
				lastPage = (a.total+pageSize-1)/pageSize - 1
			}
			if pageIndex > lastPage {
				pageIndex = lastPage
			}
		}
		q.Offset = pageIndex * pageSize
	}
	q.PageIndex = pageIndex

	a.seq++
	a.lastReq = domain.GridRequest{
		PageIndex:  pageIndex,
		PageSize:   pageSize,
		Sort:       append([]domain.SortOrder(nil), req.Sort...),
		SearchTerm: req.SearchTerm,
		DrawToken:  req.DrawToken,
	}

	return fetchPlan{
		draw:       req.DrawToken,
		pageIndex:  pageIndex,
		query:      q,
		seq:        a.seq,
		generation: a.generation,
	}
}

// mapSort never returns an empty order
func (a *Adapter) mapSort(in []domain.SortOrder) []domain.SortOrder {
	out := make([]domain.SortOrder, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		field := strings.TrimSpace(s.Field)
		if field == "" {
			continue
		}
		if mapped, ok := a.fieldMap[field]; ok {
			field = mapped
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, domain.SortOrder{Field: field, Direction: domain.ParseDirection(string(s.Direction))})
	}
	if len(out) > 0 {
		return out
	}
	if len(a.defaultSort) > 0 {
		return append(out, a.defaultSort...)
	}
	return append(out, domain.FallbackSort...)
}

// buildFilterLocked joins term filters, the global search and the request term
func (a *Adapter) buildFilterLocked(search string) domain.Filter {
	var parts []string
	var fields map[string]string

	for _, b := range a.bindings {
		v := strings.TrimSpace(a.filters[b.Name])
		if v == "" {
			continue
		}
		switch b.Kind {
		case FilterField:
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[b.param()] = v
		default:
			parts = append(parts, v)
		}
	}

	global := strings.TrimSpace(a.globalTerm)
	if global != "" {
		parts = append(parts, global)
	}
	// the widget usually echoes the global search back as its own term
	if s := strings.TrimSpace(search); s != "" && s != global {
		parts = append(parts, s)
	}

	return domain.Filter{Term: strings.Join(parts, " "), Fields: fields}
}

func (a *Adapter) project(ctx context.Context, raws []json.RawMessage) ([]domain.Row, error) {
	if len(raws) == 0 {
		return []domain.Row{}, nil
	}
	if a.projector != nil {
		return a.projector.Project(ctx, a.columns, raws)
	}
	rows := make([]domain.Row, 0, len(raws))
	for i, raw := range raws {
		row, err := processor.ProjectRow(a.columns, raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// isCurrentLocked reports whether a response may update adapter state:
// it answers the latest issued request and no reset happened since.
func (a *Adapter) isCurrentLocked(p fetchPlan) bool {
	return p.generation == a.generation && p.seq == a.seq
}

func (a *Adapter) succeed(p fetchPlan, page *domain.BackendPage, rows []domain.Row) domain.GridResponse {
	a.mu.Lock()
	defer a.mu.Unlock()

	total, known := a.total, a.totalKnown
	next := ""
	if page.NextPageToken != nil {
		next = *page.NextPageToken
	}

	if a.isCurrentLocked(p) {
		a.lastErr = ""
		if page.Total != nil {
			a.total = max(*page.Total, 0)
			a.totalKnown = true
		}
		if a.paging == domain.PagingCursor {
			a.cursor.Next = next
		}
		total, known = a.total, a.totalKnown
	} else if page.Total != nil {
		total, known = max(*page.Total, 0), true
	}

	resp := domain.GridResponse{
		DrawToken:   p.draw,
		TotalRows:   total,
		TotalKnown:  known,
		PageIndex:   p.pageIndex,
		HasPrevious: p.pageIndex > 0,
		Rows:        rows,
	}
	if a.paging == domain.PagingCursor {
		resp.HasNext = next != ""
	} else if known {
		resp.HasNext = (p.pageIndex+1)*p.query.Limit < total
	} else {
		resp.HasNext = len(rows) >= p.query.Limit
	}
	return resp
}

func (a *Adapter) fail(p fetchPlan, err error) domain.GridResponse {
	msg := err.Error()
	a.logger.Warn("grid fetch failed",
		zap.String("draw", p.draw),
		zap.Int("page_index", p.pageIndex),
		zap.Error(err),
	)

	a.mu.Lock()
	if a.isCurrentLocked(p) {
		a.lastErr = msg
	}
	a.mu.Unlock()

	return a.errorResponse(p.draw, p.pageIndex, msg)
}

// errorResponse keeps the cached total so pagination controls do not collapse
func (a *Adapter) errorResponse(draw string, pageIndex int, msg string) domain.GridResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.GridResponse{
		DrawToken:   draw,
		TotalRows:   a.total,
		TotalKnown:  a.totalKnown,
		PageIndex:   pageIndex,
		HasPrevious: pageIndex > 0,
		Rows:        []domain.Row{},
		Error:       msg,
	}
}

// SetFilter changes a bound filter, discards the paging position and refetches
func (a *Adapter) SetFilter(ctx context.Context, name, value string) (domain.GridResponse, error) {
	if !a.bound(name) {
		return domain.GridResponse{}, fmt.Errorf("%w: %s has no filter %q", domain.ErrUnknownFilter, a.name, name)
	}

	a.mu.Lock()
	a.filters[name] = value
	a.resetLocked()
	a.mu.Unlock()

	return a.refresh(ctx), nil
}

// Filters returns a copy of the bound filter values
func (a *Adapter) Filters() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.filters))
	for k, v := range a.filters {
		out[k] = v
	}
	return out
}

func (a *Adapter) bound(name string) bool {
	for _, b := range a.bindings {
		if b.Name == name {
			return true
		}
	}
	return false
}

// resetLocked discards paging position; responses issued before the reset
// can no longer change state
func (a *Adapter) resetLocked() {
	a.cursor.Reset()
	a.lastReq.PageIndex = 0
	a.generation++
}

// refresh refetches the first page with the last known size, sort and term
func (a *Adapter) refresh(ctx context.Context) domain.GridResponse {
	a.mu.Lock()
	req := a.lastReq
	req.PageIndex = 0
	req.DrawToken = fmt.Sprintf("refresh-%d", a.generation)
	a.mu.Unlock()

	resp := a.OnFetch(ctx, req)

	a.mu.Lock()
	snap := resp
	a.snapshot = &snap
	listener := a.listener
	a.mu.Unlock()

	if listener != nil {
		listener(resp)
	}
	return resp
}

// Paginate moves one page forward or back from the last request
func (a *Adapter) Paginate(ctx context.Context, next bool, draw string) domain.GridResponse {
	a.mu.Lock()
	req := a.lastReq
	if a.paging == domain.PagingCursor {
		req.PageIndex = a.cursor.Depth()
	}
	a.mu.Unlock()

	if next {
		req.PageIndex++
	} else if req.PageIndex > 0 {
		req.PageIndex--
	}
	req.DrawToken = draw
	return a.OnFetch(ctx, req)
}

// BindSearch follows the process-wide search query. Every change resets paging
// and refetches. The returned function releases the subscription; Close does
// the same.
func (a *Adapter) BindSearch(src domain.SearchSource) (release func()) {
	// subscribe before reading Current so a Set in between is not lost
	unsubscribe := src.Subscribe(a.applySearch)

	a.mu.Lock()
	if a.seq == 0 {
		// nothing fetched yet: adopt the query, the first draw will use it
		a.globalTerm = src.Current()
		a.mu.Unlock()
	} else {
		a.mu.Unlock()
		a.applySearch(src.Current())
	}

	var once sync.Once
	release = func() {
		once.Do(unsubscribe)
	}

	a.mu.Lock()
	prev := a.release
	a.release = release
	a.mu.Unlock()
	if prev != nil {
		prev()
	}
	return release
}

// applySearch resets paging and refetches when the global query changed
func (a *Adapter) applySearch(query string) {
	a.mu.Lock()
	if query == a.globalTerm {
		a.mu.Unlock()
		return
	}
	a.globalTerm = query
	a.resetLocked()
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.refreshTimeout)
	defer cancel()
	a.refresh(ctx)
}

// Close releases the search subscription, if any
func (a *Adapter) Close() {
	a.mu.Lock()
	release := a.release
	a.release = nil
	a.mu.Unlock()
	if release != nil {
		release()
	}
}

// SetRefreshListener receives responses of fetches the adapter starts itself
// (filter or search changes)
func (a *Adapter) SetRefreshListener(fn func(domain.GridResponse)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = fn
}

// Invalidate forgets the cached total, e.g. after rows were created
func (a *Adapter) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = 0
	a.totalKnown = false
}

// Snapshot returns the last response of an adapter initiated refetch
func (a *Adapter) Snapshot() (domain.GridResponse, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snapshot == nil {
		return domain.GridResponse{}, false
	}
	return *a.snapshot, true
}

// LastError returns the message of the last failed fetch, empty after a success
func (a *Adapter) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Cursor returns a copy of the cursor state
func (a *Adapter) Cursor() PageCursor {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.cursor
	c.History = append([]string(nil), a.cursor.History...)
	return c
}

// State exports the grid position for persistence
func (a *Adapter) State() domain.GridState {
	a.mu.Lock()
	defer a.mu.Unlock()
	filters := make(map[string]string, len(a.filters))
	for k, v := range a.filters {
		filters[k] = v
	}
	return domain.GridState{
		Grid:       a.name,
		PageIndex:  a.lastReq.PageIndex,
		PageSize:   a.lastReq.PageSize,
		Sort:       append([]domain.SortOrder(nil), a.lastReq.Sort...),
		SearchTerm: a.lastReq.SearchTerm,
		Filters:    filters,
	}
}
