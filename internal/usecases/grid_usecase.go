package usecases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/grid"
	"github.com/your-org/consolegrid/internal/metrics"
)

const (
	// GraphQLErrorTitle is the title of notifications raised for failed grid fetches
	GraphQLErrorTitle = "GraphQL Error"

	stateSaveTimeout = 2 * time.Second
)

// GridUsecase hosts the registered grids. Every (grid, session) pair gets its
// own adapter, created on first use, so sessions never share paging state.
// It limits concurrent backend work, raises notifications for failed fetches,
// records metrics and persists the grid position per session.
type GridUsecase struct {
	notifier domain.Notifier
	states   domain.GridStateRepository // nil when the state store is disabled
	search   domain.SearchSource
	metrics  *metrics.GridMetrics
	logger   *zap.Logger
	limiter  *RateLimiter
	now      func() time.Time

	mu       sync.Mutex
	grids    map[string]grid.Definition
	sessions map[sessionKey]*sessionGrid

	wg sync.WaitGroup
}

type sessionKey struct {
	grid    string
	session string
}

type sessionGrid struct {
	adapter  *grid.Adapter
	lastUsed time.Time
}

// NewGridUsecase creates the grid host. states and search may be nil.
func NewGridUsecase(
	notifier domain.Notifier,
	states domain.GridStateRepository,
	search domain.SearchSource,
	m *metrics.GridMetrics,
	logger *zap.Logger,
	maxConcurrentOps int,
) *GridUsecase {
	if m == nil {
		m = metrics.NewGridMetrics(nil)
	}
	return &GridUsecase{
		notifier: notifier,
		states:   states,
		search:   search,
		metrics:  m,
		logger:   logger,
		limiter:  NewRateLimiter(maxConcurrentOps),
		now:      time.Now,
		grids:    make(map[string]grid.Definition),
		sessions: make(map[sessionKey]*sessionGrid),
	}
}

// Register adds a grid definition
func (u *GridUsecase) Register(def grid.Definition) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.grids[def.Name]; exists {
		return fmt.Errorf("grid %q already registered", def.Name)
	}
	u.grids[def.Name] = def

	u.logger.Info("grid registered",
		zap.String("grid", def.Name),
		zap.Stringer("paging", def.Backend.Paging()),
	)
	return nil
}

// Adapter returns the adapter of a session, creating it on first use. The new
// adapter follows the search query and reports its own refetches into
// notifications and metrics. Callers without a session share one adapter.
func (u *GridUsecase) Adapter(name, session string) (*grid.Adapter, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	def, ok := u.grids[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownGrid, name)
	}

	key := sessionKey{grid: name, session: session}
	if sg, ok := u.sessions[key]; ok {
		sg.lastUsed = u.now()
		return sg.adapter, nil
	}

	a := def.NewAdapter()
	a.SetRefreshListener(func(resp domain.GridResponse) {
		u.observe(context.Background(), name, resp)
	})
	if u.search != nil {
		a.BindSearch(u.search)
	}
	u.sessions[key] = &sessionGrid{adapter: a, lastUsed: u.now()}

	u.logger.Debug("grid session opened",
		zap.String("grid", name),
		zap.String("session", session),
	)
	return a, nil
}

// existing returns the adapter of a session without creating one
func (u *GridUsecase) existing(name, session string) (*grid.Adapter, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.grids[name]; !ok {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrUnknownGrid, name)
	}
	sg, ok := u.sessions[sessionKey{grid: name, session: session}]
	if !ok {
		return nil, false, nil
	}
	return sg.adapter, true, nil
}

// Names returns the registered grid names in order
func (u *GridUsecase) Names() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	names := make([]string, 0, len(u.grids))
	for name := range u.grids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sessions returns the number of live adapters of a grid
func (u *GridUsecase) Sessions(name string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for key := range u.sessions {
		if key.grid == name {
			n++
		}
	}
	return n
}

// EvictIdle closes adapters not used for longer than maxIdle and returns
// how many were closed
func (u *GridUsecase) EvictIdle(maxIdle time.Duration) int {
	cutoff := u.now().Add(-maxIdle)

	u.mu.Lock()
	var idle []*grid.Adapter
	for key, sg := range u.sessions {
		if sg.lastUsed.Before(cutoff) {
			idle = append(idle, sg.adapter)
			delete(u.sessions, key)
		}
	}
	u.mu.Unlock()

	// Close ждет обработчик поиска, поэтому вне блокировки
	for _, a := range idle {
		a.Close()
	}
	if len(idle) > 0 {
		u.logger.Debug("idle grid sessions closed", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Fetch serves a widget draw. Only an unknown grid is a Go error; everything
// else is reported in the response.
func (u *GridUsecase) Fetch(ctx context.Context, name, session string, req domain.GridRequest) (domain.GridResponse, error) {
	a, err := u.Adapter(name, session)
	if err != nil {
		return domain.GridResponse{}, err
	}

	resp := u.limited(ctx, name, req.DrawToken, req.PageIndex, func(ctx context.Context) domain.GridResponse {
		return a.OnFetch(ctx, req)
	})
	if resp.Error == "" {
		u.saveStateAsync(a, session)
	}
	return resp, nil
}

// Paginate moves a grid one page forward or back
func (u *GridUsecase) Paginate(ctx context.Context, name, session string, next bool, draw string) (domain.GridResponse, error) {
	a, err := u.Adapter(name, session)
	if err != nil {
		return domain.GridResponse{}, err
	}

	resp := u.limited(ctx, name, draw, 0, func(ctx context.Context) domain.GridResponse {
		return a.Paginate(ctx, next, draw)
	})
	if resp.Error == "" {
		u.saveStateAsync(a, session)
	}
	return resp, nil
}

// SetFilter sets a bound filter; the adapter refetches the first page and the
// refresh listener reports the outcome
func (u *GridUsecase) SetFilter(ctx context.Context, name, session, filter, value string) (domain.GridResponse, error) {
	a, err := u.Adapter(name, session)
	if err != nil {
		return domain.GridResponse{}, err
	}

	if err := u.limiter.Acquire(ctx); err != nil {
		return domain.GridResponse{}, fmt.Errorf("превышен лимит запросов: %w", err)
	}
	defer u.limiter.Release()

	return a.SetFilter(ctx, filter, value)
}

// Snapshot returns the last adapter initiated response of a session's grid
func (u *GridUsecase) Snapshot(name, session string) (domain.GridResponse, bool, error) {
	a, ok, err := u.existing(name, session)
	if err != nil || !ok {
		return domain.GridResponse{}, false, err
	}
	resp, ok := a.Snapshot()
	return resp, ok, nil
}

// Invalidate forgets the cached total of a grid in every session
func (u *GridUsecase) Invalidate(name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.grids[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownGrid, name)
	}
	for key, sg := range u.sessions {
		if key.grid == name {
			sg.adapter.Invalidate()
		}
	}
	return nil
}

// Restore returns the saved position of a grid for a session
func (u *GridUsecase) Restore(ctx context.Context, name, session string) (*domain.GridState, error) {
	if _, _, err := u.existing(name, session); err != nil {
		return nil, err
	}
	if u.states == nil {
		return nil, fmt.Errorf("grid state %s: %w", stateID(name, session), domain.ErrNotFound)
	}
	return u.states.Get(ctx, stateID(name, session))
}

// Shutdown releases search subscriptions and waits for pending state saves
func (u *GridUsecase) Shutdown() {
	u.mu.Lock()
	adapters := make([]*grid.Adapter, 0, len(u.sessions))
	for key, sg := range u.sessions {
		adapters = append(adapters, sg.adapter)
		delete(u.sessions, key)
	}
	u.mu.Unlock()

	for _, a := range adapters {
		a.Close()
	}
	u.wg.Wait()
	u.logger.Info("grid usecase stopped")
}

// limited runs fn inside a limiter slot and records the outcome. A request
// that cannot get a slot still resolves with the draw token echoed.
func (u *GridUsecase) limited(ctx context.Context, name, draw string, pageIndex int, fn func(context.Context) domain.GridResponse) domain.GridResponse {
	done := u.metrics.Begin(name)

	var resp domain.GridResponse
	if err := u.limiter.Acquire(ctx); err != nil {
		resp = domain.GridResponse{
			DrawToken:   draw,
			PageIndex:   pageIndex,
			HasPrevious: pageIndex > 0,
			Rows:        []domain.Row{},
			Error:       fmt.Sprintf("request limit: %v", err),
		}
	} else {
		resp = fn(ctx)
		u.limiter.Release()
	}

	if resp.Error != "" {
		done(metrics.OutcomeError)
		u.notifyFailure(ctx, name, resp.Error)
	} else {
		done(metrics.OutcomeOK)
	}
	return resp
}

// observe handles responses of fetches the adapter started itself
func (u *GridUsecase) observe(ctx context.Context, name string, resp domain.GridResponse) {
	outcome := metrics.OutcomeOK
	if resp.Error != "" {
		outcome = metrics.OutcomeError
		u.notifyFailure(ctx, name, resp.Error)
	}
	u.metrics.Fetches().WithLabelValues(name, outcome).Inc()
}

func (u *GridUsecase) notifyFailure(ctx context.Context, name, msg string) {
	if u.notifier == nil {
		return
	}
	u.notifier.Notify(ctx, domain.Notification{
		Severity: domain.SeverityError,
		Title:    GraphQLErrorTitle,
		Message:  msg,
		Source:   name,
	})
}

// saveStateAsync persists the grid position in the background
func (u *GridUsecase) saveStateAsync(a *grid.Adapter, session string) {
	if u.states == nil || session == "" {
		return
	}

	state := a.State()
	state.ID = stateID(a.Name(), session)
	state.UpdatedAt = time.Now()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		// Короткий таймаут, потеря позиции таблицы не критична
		ctx, cancel := context.WithTimeout(context.Background(), stateSaveTimeout)
		defer cancel()
		if err := u.states.Save(ctx, &state); err != nil {
			u.logger.Warn("не удалось сохранить состояние таблицы",
				zap.String("grid", a.Name()),
				zap.String("state_id", state.ID),
				zap.Error(err),
			)
		}
	}()
}

func stateID(name, session string) string {
	return name + ":" + session
}
