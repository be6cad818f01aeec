package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/cache"
	"github.com/your-org/consolegrid/internal/config"
	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/graphql"
	"github.com/your-org/consolegrid/internal/grid"
	"github.com/your-org/consolegrid/internal/handlers"
	"github.com/your-org/consolegrid/internal/metrics"
	"github.com/your-org/consolegrid/internal/middleware"
	"github.com/your-org/consolegrid/internal/notify"
	"github.com/your-org/consolegrid/internal/processor"
	"github.com/your-org/consolegrid/internal/repositories"
	"github.com/your-org/consolegrid/internal/search"
	"github.com/your-org/consolegrid/internal/usecases"
	"github.com/your-org/consolegrid/pkg/logger"
)

const (
	// Хранилище состояния гридов может стартовать медленнее нас.
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second

	shutdownTimeout = 30 * time.Second

	threadsGrid = "email-threads"
)

// App держит вместе все зависимости и управляет их жизненным циклом.
type App struct {
	config   *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	client    *graphql.Client
	states    *repositories.ReindexerStateRepository // nil, если state_store выключен
	orgCache  *cache.ShardedCache[*domain.Organisation]
	projector *processor.OrderedProjector
	hub       *search.Hub
	feed      *notify.Feed

	grids         *usecases.GridUsecase
	organisations *usecases.OrganisationUsecase
	templates     *usecases.TemplateUsecase

	server *http.Server

	initOnce sync.Once
	initErr  error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// NewApp создает заготовку приложения; настройка в Initialize().
func NewApp() *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize настраивает все компоненты, повторный вызов возвращает тот же результат.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

// doInitialize: конфиг -> логгер -> транспорт -> репозитории -> usecases -> HTTP.
func (a *App) doInitialize() error {
	configPath := os.Getenv("CONSOLE_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Нет файла, работаем на defaults + ENV.
	configErr := config.Load(configPath)
	if configErr != nil {
		if err := config.Load(""); err != nil {
			return fmt.Errorf("критическая ошибка конфигурации: %w", err)
		}
	}
	a.config = config.Get()

	if err := logger.Init(a.config.Log.Level, a.config.Log.Development); err != nil {
		return fmt.Errorf("не удалось инициализировать логгер: %w", err)
	}
	a.logger = logger.Get()
	if configErr != nil {
		a.logger.Warn("не удалось загрузить конфиг-файл, используем значения по умолчанию и ENV",
			zap.String("path", configPath),
			zap.Error(configErr),
		)
	}
	a.logger.Info("конфигурация загружена",
		zap.String("server_host", a.config.Server.Host),
		zap.Int("server_port", a.config.Server.Port),
		zap.String("graphql_endpoint", a.config.GraphQL.Endpoint),
		zap.Bool("state_store", a.config.StateStore.Enabled),
	)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client, err := graphql.NewClient(graphql.Config{
		Endpoint:     a.config.GraphQL.Endpoint,
		Token:        a.config.GraphQL.Token,
		Timeout:      a.config.GraphQL.Timeout,
		RetryCount:   a.config.GraphQL.RetryCount,
		RetryWait:    a.config.GraphQL.RetryWait,
		RetryMaxWait: a.config.GraphQL.RetryMaxWait,
		Debug:        a.config.GraphQL.Debug,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("ошибка настройки GraphQL клиента: %w", err)
	}
	a.client = client

	if a.config.StateStore.Enabled {
		if err := a.initializeStateStore(); err != nil {
			return fmt.Errorf("ошибка инициализации хранилища состояний: %w", err)
		}
	}

	a.orgCache = cache.NewShardedCache[*domain.Organisation](a.config.Cache.Shards, a.config.Cache.TTL)
	a.orgCache.StartCleanupWorker()

	a.projector = processor.NewOrderedProjector(a.config.Concurrency.ProjectorWorkers, 100, a.logger)
	a.projector.Start()

	a.hub = search.NewHub(a.logger.Named("search"))
	a.feed = notify.NewFeed(a.config.Notifications.Capacity, a.logger)

	var states domain.GridStateRepository
	if a.states != nil {
		states = a.states
	}
	a.grids = usecases.NewGridUsecase(
		a.feed,
		states,
		a.hub,
		metrics.NewGridMetrics(a.registry),
		a.logger,
		a.config.Concurrency.MaxConcurrentOps,
	)
	if err := a.registerGrids(); err != nil {
		return fmt.Errorf("ошибка регистрации гридов: %w", err)
	}

	a.organisations = usecases.NewOrganisationUsecase(
		repositories.NewOrganisationRepository(a.client, a.logger),
		a.orgCache,
		a.feed,
		a.logger,
		a.config.Concurrency.MaxConcurrentOps,
	)
	a.templates = usecases.NewTemplateUsecase(
		repositories.NewEmailTemplateRepository(a.client, a.logger),
		a.grids,
		a.feed,
		a.logger,
	)

	a.initializeServer()

	a.logger.Info("приложение готово к работе", zap.Strings("grids", a.grids.Names()))
	return nil
}

// registerGrids описывает гриды консоли: шаблоны писем (постранично) и
// треды почтового ящика (по токену продолжения).
func (a *App) registerGrids() error {
	gridLogger := a.logger.Named("grid")

	templates := grid.NewDefinition(usecases.TemplatesGrid,
		repositories.NewEmailTemplateRepository(a.client, a.logger),
		grid.WithDefaultSort(a.config.Grids.Sort()...),
		grid.WithColumns(
			domain.Column{Name: "id"},
			domain.Column{Name: "subject"},
			domain.Column{Name: "active"},
			domain.Column{Name: "createdAt"},
			domain.Column{Name: "updatedAt"},
		),
		grid.WithProjector(a.projector),
		grid.WithDefaultPageSize(a.config.Grids.DefaultPageSize),
		grid.WithRefreshTimeout(a.config.Grids.RefreshTimeout),
		grid.WithLogger(gridLogger),
	)

	threads := grid.NewDefinition(threadsGrid,
		repositories.NewEmailThreadRepository(a.client, a.config.Grids.ThreadsPageSize, a.logger),
		grid.WithFilters(
			grid.FilterBinding{Name: "email", Kind: grid.FilterTerm},
			grid.FilterBinding{Name: "thread", Kind: grid.FilterField, Param: repositories.ThreadIDParam},
		),
		grid.WithColumns(
			domain.Column{Name: "id"},
			domain.Column{Name: "snippet"},
			domain.Column{Name: "subject", Path: "messages.0.payload.subject.0.value"},
			domain.Column{Name: "to", Path: "messages.0.payload.to.0.value"},
			domain.Column{Name: "date", Path: "messages.0.internalDate"},
			domain.Column{Name: "messages", Path: "messages.#"},
		),
		grid.WithProjector(a.projector),
		grid.WithDefaultPageSize(a.config.Grids.ThreadsPageSize),
		grid.WithRefreshTimeout(a.config.Grids.RefreshTimeout),
		grid.WithLogger(gridLogger),
	)

	for _, def := range []grid.Definition{templates, threads} {
		if err := a.grids.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// initializeStateStore подключается к Reindexer с повторными попытками.
func (a *App) initializeStateStore() error {
	var err error

	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("повторная попытка подключения к БД",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", healthCheckRetryDelay),
			)
			time.Sleep(healthCheckRetryDelay)
		}

		repo, initErr := repositories.NewReindexerStateRepository(
			a.config.StateStore.DSN,
			a.config.StateStore.Namespace,
			a.config.StateStore.MaxConnections,
			a.logger,
		)
		if initErr != nil {
			err = initErr
			a.logger.Warn("не удалось создать клиент репозитория",
				zap.Int("попытка", attempt+1),
				zap.Error(initErr),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		checkErr := repo.CheckConnection(ctx)
		cancel()
		if checkErr != nil {
			_ = repo.Close()
			err = checkErr
			a.logger.Warn("нет связи с Reindexer",
				zap.Int("попытка", attempt+1),
				zap.Error(checkErr),
			)
			continue
		}

		// Неймспейс создается, если его нет.
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		ensureErr := repo.EnsureCollections(ctx)
		cancel()
		if ensureErr != nil {
			_ = repo.Close()
			err = ensureErr
			a.logger.Warn("проблема с неймспейсом",
				zap.Int("попытка", attempt+1),
				zap.Error(ensureErr),
			)
			continue
		}

		a.states = repo
		a.logger.Info("хранилище состояний гридов готово",
			zap.Int("попыток_затрачено", attempt+1),
			zap.String("namespace", a.config.StateStore.Namespace),
		)
		return nil
	}

	return fmt.Errorf("не удалось подключиться к БД после %d попыток: %w", healthCheckRetries, err)
}

// initializeServer настраивает HTTP-роутинг и middleware.
func (a *App) initializeServer() {
	r := chi.NewRouter()

	// /health и /metrics без middleware, чтобы отвечать быстро
	r.Get("/health", a.healthCheckHandler)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	rateLimiter := middleware.NewRateLimiter(a.config.Server.RateLimit, a.config.Server.RateBurst)

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(a.logger))
		r.Use(middleware.RecoveryMiddleware(a.logger))
		r.Use(middleware.TimeoutMiddleware(a.config.Server.RequestTimeout))
		r.Use(middleware.RateLimitMiddleware(rateLimiter, a.logger))

		handlers.NewGridHandler(a.grids, a.hub, a.config.Grids.MaxPageSize, a.logger).Register(r)
		handlers.NewOrganisationHandler(a.organisations, a.logger).Register(r)
		handlers.NewTemplateHandler(a.templates, a.logger).Register(r)
		handlers.NewNotificationHandler(a.feed, a.logger).Register(r)
	})

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// healthCheckHandler отвечает 503, если включенное хранилище состояний недоступно.
func (a *App) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"grids":     a.grids.Names(),
	}

	w.Header().Set("Content-Type", "application/json")
	if a.states != nil {
		if err := a.states.CheckConnection(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			health["status"] = "unhealthy"
			health["error"] = err.Error()
			_ = json.NewEncoder(w).Encode(health)
			return
		}
		health["state_store"] = "connected"
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)
}

// StartBackgroundJobs запускает фоновые процессы.
func (a *App) StartBackgroundJobs() {
	if a.states != nil {
		a.wg.Add(1)
		go a.periodicHealthCheck()
	}
	a.wg.Add(1)
	go a.evictIdleSessions()
}

// evictIdleSessions закрывает адаптеры сессий, которые давно не запрашивались.
func (a *App) evictIdleSessions() {
	defer a.wg.Done()

	idle := a.config.Grids.SessionIdle
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if n := a.grids.EvictIdle(idle); n > 0 {
				a.logger.Info("закрыты простаивающие сессии гридов", zap.Int("count", n))
			}
		}
	}
}

// periodicHealthCheck раз в 30 секунд пишет в лог состояние хранилища.
func (a *App) periodicHealthCheck() {
	defer a.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("фоновая проверка здоровья остановлена")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.states.CheckConnection(ctx); err != nil {
				a.logger.Warn("фоновая проверка: проблема с БД", zap.Error(err))
			} else {
				a.logger.Debug("фоновая проверка: полёт нормальный",
					zap.Int("connections", a.states.Health().Connections),
				)
			}
			cancel()
		}
	}
}

// Start запускает сервер в отдельной горутине.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	a.StartBackgroundJobs()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("запуск HTTP сервера", zap.String("адрес", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("сервер упал с ошибкой", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown дожидается текущих запросов и останавливает компоненты в обратном порядке.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("начинаем остановку приложения...")
		a.cancel()

		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Error("ошибка при остановке сервера", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		// гриды отписываются от поиска до закрытия хаба
		if a.grids != nil {
			a.grids.Shutdown()
		}
		if a.hub != nil {
			a.hub.Close()
		}
		if a.organisations != nil {
			a.organisations.Shutdown()
		}
		if a.projector != nil {
			a.projector.Stop()
		}
		if a.orgCache != nil {
			a.orgCache.StopCleanupWorker()
		}
		if a.states != nil {
			if err := a.states.Close(); err != nil {
				a.logger.Error("ошибка при закрытии БД", zap.Error(err))
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			a.logger.Info("все фоновые процессы завершены")
		case <-time.After(shutdownTimeout):
			a.logger.Warn("таймаут ожидания завершения процессов (принудительный выход)")
		}

		a.logger.Info("приложение остановлено успешно")
		_ = logger.Sync()
	})

	return shutdownErr
}

func main() {
	app := NewApp()

	if err := app.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Фатальная ошибка инициализации: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Фатальная ошибка запуска: %v\n", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка при остановке: %v\n", err)
		os.Exit(1)
	}
}
