package repositories

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restream/reindexer/v4"
	// cproto (RPC) протокол быстрее встроенного HTTP.
	_ "github.com/restream/reindexer/v4/bindings/cproto"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
)

const (
	// Неймспейс, в котором живут сохраненные состояния гридов.
	gridStatesNamespace = "grid_states"

	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultQueryTimeout   = 5 * time.Second
)

// HealthStatus хранит текущее состояние подключения к базе.
type HealthStatus struct {
	IsHealthy   bool
	LastCheck   time.Time
	LastError   error
	Connections int
}

// ReindexerStateRepository сохраняет позицию гридов (страница, сортировка, поиск, фильтры)
// между сессиями, серверный аналог "stateSave" у виджета.
type ReindexerStateRepository struct {
	dsn       string
	namespace string
	poolSize  int
	logger    *zap.Logger

	mu          sync.RWMutex
	db          *reindexer.Reindexer
	connections []*reindexer.Reindexer
	next        atomic.Uint64 // round-robin по пулу

	healthStatus atomic.Value // *HealthStatus

	collectionsMu          sync.Mutex
	collectionsInitialized atomic.Bool
}

// NewReindexerStateRepository создает репозиторий и сразу подключается.
func NewReindexerStateRepository(dsn, namespace string, maxConnections int, logger *zap.Logger) (*ReindexerStateRepository, error) {
	if maxConnections < 1 {
		maxConnections = 1
	}
	if namespace == "" {
		namespace = gridStatesNamespace
	}

	repo := &ReindexerStateRepository{
		dsn:       dsn,
		namespace: namespace,
		poolSize:  maxConnections,
		logger:    logger,
	}
	repo.healthStatus.Store(&HealthStatus{LastCheck: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := repo.Connect(ctx); err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}
	return repo, nil
}

// Connect устанавливает соединения с повторными попытками.
func (r *ReindexerStateRepository) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			delay := defaultRetryDelay * time.Duration(attempt)
			r.logger.Info("повторная попытка подключения",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", delay),
			)
			time.Sleep(delay)
		}

		db := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
		if err := db.Ping(); err != nil {
			lastErr = err
			db.Close()
			r.logger.Warn("тест соединения провален",
				zap.Int("попытка", attempt+1),
				zap.Error(err),
			)
			continue
		}

		r.closeLocked()
		r.db = db

		// Дополнительные соединения; если какое-то не поднялось, работаем с тем, что есть.
		for i := 0; i < r.poolSize-1; i++ {
			conn := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
			if err := conn.Ping(); err != nil {
				conn.Close()
				r.logger.Warn("не удалось создать соединение в пуле",
					zap.Int("индекс", i),
					zap.Error(err),
				)
				continue
			}
			r.connections = append(r.connections, conn)
		}

		r.updateHealthStatus(true, nil, len(r.connections)+1)
		r.logger.Info("подключились к Reindexer",
			zap.Int("размер_пула", len(r.connections)+1),
		)
		return nil
	}

	r.updateHealthStatus(false, lastErr, 0)
	return fmt.Errorf("не удалось подключиться после %d попыток: %w", defaultMaxRetries, lastErr)
}

// getConnection отдает соединения по кругу.
func (r *ReindexerStateRepository) getConnection() *reindexer.Reindexer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.connections) == 0 {
		return r.db
	}
	n := r.next.Add(1)
	if n%uint64(len(r.connections)+1) == 0 {
		return r.db
	}
	return r.connections[n%uint64(len(r.connections)+1)-1]
}

func (r *ReindexerStateRepository) updateHealthStatus(isHealthy bool, err error, connections int) {
	r.healthStatus.Store(&HealthStatus{
		IsHealthy:   isHealthy,
		LastCheck:   time.Now(),
		LastError:   err,
		Connections: connections,
	})
}

// Health возвращает последнее известное состояние.
func (r *ReindexerStateRepository) Health() HealthStatus {
	if status, ok := r.healthStatus.Load().(*HealthStatus); ok && status != nil {
		return *status
	}
	return HealthStatus{}
}

// EnsureCollections открывает (и создает при отсутствии) неймспейс на всех соединениях.
func (r *ReindexerStateRepository) EnsureCollections(ctx context.Context) error {
	if r.collectionsInitialized.Load() {
		return nil
	}

	r.collectionsMu.Lock()
	defer r.collectionsMu.Unlock()

	if r.collectionsInitialized.Load() {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.RLock()
	db := r.db
	pool := append([]*reindexer.Reindexer(nil), r.connections...)
	r.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("соединение с базой не установлено")
	}

	opts := reindexer.DefaultNamespaceOptions()
	if err := db.OpenNamespace(r.namespace, opts, domain.GridState{}); err != nil {
		return fmt.Errorf("ошибка открытия неймспейса: %w", err)
	}
	for i, conn := range pool {
		if err := conn.OpenNamespace(r.namespace, opts, domain.GridState{}); err != nil {
			r.logger.Warn("ошибка открытия неймспейса для соединения из пула",
				zap.Int("индекс", i),
				zap.Error(err),
			)
		}
	}

	r.collectionsInitialized.Store(true)
	r.logger.Info("коллекции инициализированы", zap.String("namespace", r.namespace))
	return nil
}

// Save сохраняет (upsert) состояние грида.
func (r *ReindexerStateRepository) Save(ctx context.Context, state *domain.GridState) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if state.ID == "" {
		return fmt.Errorf("%w: grid state id is required", domain.ErrInvalidInput)
	}
	if err := r.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db := r.getConnection()
	if db == nil {
		return fmt.Errorf("нет доступного соединения с БД")
	}

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	if err := db.Upsert(r.namespace, state); err != nil {
		r.updateHealthStatus(false, err, r.Health().Connections)
		return fmt.Errorf("ошибка при сохранении состояния: %w", err)
	}
	return nil
}

// Get возвращает сохраненное состояние или domain.ErrNotFound.
func (r *ReindexerStateRepository) Get(ctx context.Context, id string) (*domain.GridState, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := r.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db := r.getConnection()
	if db == nil {
		return nil, fmt.Errorf("нет доступного соединения с БД")
	}

	item, found := db.Query(r.namespace).WhereString("id", reindexer.EQ, id).Get()
	if !found {
		return nil, fmt.Errorf("grid state %s: %w", id, domain.ErrNotFound)
	}
	state, ok := item.(*domain.GridState)
	if !ok {
		r.logger.Error("ошибка приведения типов",
			zap.String("id", id),
			zap.String("тип", fmt.Sprintf("%T", item)),
		)
		return nil, fmt.Errorf("внутренняя ошибка десериализации")
	}
	return state, nil
}

// Delete удаляет состояние грида.
func (r *ReindexerStateRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := r.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db := r.getConnection()
	if db == nil {
		return fmt.Errorf("нет доступного соединения с БД")
	}

	if _, err := db.Query(r.namespace).WhereString("id", reindexer.EQ, id).Delete(); err != nil {
		r.updateHealthStatus(false, err, r.Health().Connections)
		return fmt.Errorf("ошибка при удалении: %w", err)
	}
	return nil
}

// CheckConnection проверяет связь с базой (для health check'ов).
func (r *ReindexerStateRepository) CheckConnection(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("соединение не установлено")
	}
	if err := db.Ping(); err != nil {
		r.updateHealthStatus(false, err, r.Health().Connections)
		return fmt.Errorf("проверка связи не прошла: %w", err)
	}
	r.updateHealthStatus(true, nil, r.Health().Connections)
	return nil
}

// Close закрывает все соединения.
func (r *ReindexerStateRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	r.updateHealthStatus(false, fmt.Errorf("соединение закрыто"), 0)
	return nil
}

func (r *ReindexerStateRepository) closeLocked() {
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	for _, conn := range r.connections {
		if conn != nil {
			conn.Close()
		}
	}
	r.connections = nil
}

var (
	_ domain.GridStateRepository = (*ReindexerStateRepository)(nil)
	_ domain.HealthChecker       = (*ReindexerStateRepository)(nil)
)
