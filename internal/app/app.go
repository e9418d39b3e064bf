package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/utafrali/catalogsearch/internal/catalog"
	"github.com/utafrali/catalogsearch/internal/catalog/postgres"
	"github.com/utafrali/catalogsearch/internal/catalog/productapi"
	"github.com/utafrali/catalogsearch/internal/config"
	"github.com/utafrali/catalogsearch/internal/document"
	"github.com/utafrali/catalogsearch/internal/engine"
	esengine "github.com/utafrali/catalogsearch/internal/engine/elasticsearch"
	"github.com/utafrali/catalogsearch/internal/engine/memory"
	"github.com/utafrali/catalogsearch/internal/event"
	handler "github.com/utafrali/catalogsearch/internal/handler/http"
	"github.com/utafrali/catalogsearch/internal/service"
	"github.com/utafrali/catalogsearch/pkg/database"
	"github.com/utafrali/catalogsearch/pkg/health"
	"github.com/utafrali/catalogsearch/pkg/httpclient"
	pkgkafka "github.com/utafrali/catalogsearch/pkg/kafka"
	"github.com/utafrali/catalogsearch/pkg/middleware"
	"github.com/utafrali/catalogsearch/pkg/tracing"
	"github.com/utafrali/catalogsearch/pkg/worker"
)

// catalogSource is a system of record that can also resolve the lazily
// loaded parts of a product.
type catalogSource interface {
	catalog.Catalog
	document.Lookup
}

// App wires together all dependencies and runs the catalog search service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// lifecycle outlives requests; it is canceled once background work has
	// been given a chance to drain.
	lifecycle       context.Context
	cancelLifecycle context.CancelFunc

	tracerShutdown func(context.Context) error
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumer       *pkgkafka.Consumer
	workers        *worker.Pool
	scheduler      *cron.Cron
	cancelSchedule context.CancelFunc
	syncService    *service.SyncService
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	lifecycle, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:             cfg,
		logger:          logger,
		lifecycle:       lifecycle,
		cancelLifecycle: cancel,
	}

	if err := a.init(); err != nil {
		_ = a.release()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg, logger := a.cfg, a.logger
	healthHandler := health.NewHandler()

	// Tracing.
	shutdown, err := tracing.InitTracer(a.lifecycle, cfg.Tracing())
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = shutdown

	// Search engine.
	eng, err := a.newEngine(healthHandler)
	if err != nil {
		return err
	}

	// Catalog source of record.
	src, err := a.newCatalog(healthHandler)
	if err != nil {
		return err
	}

	// Redis backs the sync watermark and event deduplication when enabled.
	var (
		watermarks  service.WatermarkStore = service.NewMemoryWatermarkStore()
		idempotency pkgkafka.IdempotencyStore
	)
	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(a.lifecycle, cfg.Redis())
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		watermarks = service.NewRedisWatermarkStore(client, cfg.WatermarkKey)
		idempotency = pkgkafka.NewRedisIdempotencyStore(client, cfg.ServiceName+":events:", cfg.IdempotencyTTL)
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.Info("redis connected", slog.String("addr", cfg.Redis().Addr()))
	} else {
		idempotency = pkgkafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
		logger.Warn("redis disabled, sync watermark and event deduplication are process-local")
	}

	// Background workers for asynchronous index tasks.
	a.workers = worker.New(a.lifecycle, worker.Config{
		Name:      "sync",
		Workers:   cfg.SyncWorkers,
		QueueSize: cfg.SyncQueueSize,
	}, logger)

	deps := service.SyncDeps{
		Catalog:    src,
		Mapper:     document.NewMapper(src, logger),
		Engine:     eng,
		Guard:      service.NewSyncGuard(),
		Watermarks: watermarks,
		Tasks:      a.workers,
	}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		deps.Publisher = a.producer
	}

	a.syncService = service.NewSyncService(deps, service.SyncConfig{
		PageSize:       cfg.SyncPageSize,
		PagesPerSecond: cfg.SyncPagesPerSecond,
		ServiceName:    cfg.ServiceName,
	}, logger)
	searchService := service.NewSearchService(eng, logger)

	// Change events from the catalog and inventory services.
	if cfg.KafkaEnabled {
		a.consumer = a.newConsumer(idempotency)
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
		})
	}

	// Scheduled incremental sync.
	a.scheduler = newScheduler(logger)
	var scheduleCtx context.Context
	scheduleCtx, a.cancelSchedule = context.WithCancel(a.lifecycle)
	if err := scheduleIncrementalSync(scheduleCtx, a.scheduler, cfg.SyncIncrementalCron, a.syncService.IncrementalSync, logger); err != nil {
		return err
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.Environment = cfg.Environment

	router := handler.NewRouter(searchService, a.syncService, healthHandler, handler.RouterConfig{
		ServiceName:    cfg.ServiceName,
		OperatorToken:  cfg.OperatorToken,
		JWTSecret:      cfg.JWTSecret,
		RequestTimeout: cfg.RequestTimeout,
		CORS:           cors,
		PprofEnabled:   cfg.PprofEnabled,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (a *App) newEngine(healthHandler *health.Handler) (engine.Engine, error) {
	cfg, logger := a.cfg, a.logger

	if cfg.SearchEngine == config.EngineMemory {
		logger.Info("in-memory search engine initialized")
		return memory.New(), nil
	}

	esEng, err := esengine.New(esengine.Config{
		URL:      cfg.ElasticsearchURL,
		Index:    cfg.ElasticsearchIndex,
		Username: cfg.ElasticsearchUsername,
		Password: cfg.ElasticsearchPassword,
		Refresh:  cfg.ElasticsearchRefresh,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init elasticsearch engine: %w", err)
	}
	healthHandler.RegisterCritical("elasticsearch", esEng.Ping)
	logger.Info("elasticsearch search engine initialized",
		slog.String("url", cfg.ElasticsearchURL),
		slog.String("index", esEng.IndexName()),
	)
	return esEng, nil
}

func (a *App) newCatalog(healthHandler *health.Handler) (catalogSource, error) {
	cfg, logger := a.cfg, a.logger

	if cfg.CatalogSource == config.SourceProductAPI {
		client := httpclient.New(httpclient.Config{
			Timeout:         cfg.ProductServiceTimeout,
			MaxRetries:      2,
			RetryWaitMin:    200 * time.Millisecond,
			RetryWaitMax:    2 * time.Second,
			MaxConnsPerHost: 50,
		})
		cbCfg := httpclient.DefaultCircuitBreakerConfig("product-service")
		cbCfg.MaxRequests = cfg.CBMaxRequests
		cbCfg.Interval = time.Duration(cfg.CBInterval) * time.Second
		cbCfg.Timeout = time.Duration(cfg.CBTimeout) * time.Second
		cbCfg.FailureRatio = cfg.CBFailureRatio
		cbCfg.MinRequests = cfg.CBMinRequests
		breaker := httpclient.NewCircuitBreakerClient(client, cbCfg, logger)
		logger.Info("catalog source: product service", slog.String("url", cfg.ProductServiceURL))
		return productapi.New(breaker, cfg.ProductServiceURL, logger), nil
	}

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(a.lifecycle, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect catalog database: %w", err)
	}
	a.pool = pool

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, cfg.ServiceName); err != nil {
		logger.Warn("register pool metrics failed", slog.String("error", err.Error()))
	}
	database.SetSlowQueryLogging(cfg.PostgresSlowQuery, logger)
	healthHandler.RegisterCritical("postgres", pool.Ping)

	logger.Info("catalog source: postgres", slog.String("database", pgCfg.DBName))
	return postgres.NewProductRepository(pool, logger), nil
}

func (a *App) newConsumer(idempotency pkgkafka.IdempotencyStore) *pkgkafka.Consumer {
	cfg, logger := a.cfg, a.logger

	handle := pkgkafka.IdempotentHandler(idempotency, event.NewConsumer(a.syncService, logger).Handle, logger)

	var opts []pkgkafka.ConsumerOption
	if cfg.KafkaDLQ {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		opts = append(opts, pkgkafka.WithDeadLetter(a.dlq))
	}

	topics := event.Topics()
	consumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topics:   topics,
		MinBytes: 1,
		MaxBytes: 10e6, // 10 MB
	}, handle, logger, opts...)

	logger.Info("kafka consumer initialized",
		slog.Any("brokers", cfg.KafkaBrokers),
		slog.Int("topic_count", len(topics)),
		slog.Bool("dlq", cfg.KafkaDLQ),
	)
	return consumer
}

// Run starts the HTTP server, the event consumer and the sync scheduler,
// blocking until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(a.lifecycle); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	a.scheduler.Start()

	if a.cfg.SyncBootstrapEnabled {
		go func() {
			if err := a.syncService.Bootstrap(a.lifecycle); err != nil {
				a.logger.Error("index bootstrap failed", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Scheduler and event consumer (stop accepting new sync work)
// 3. Worker pool (drain queued index tasks, then cancel the rest)
// 4. Tracer (flush pending spans)
// 5. Kafka producers, Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// A running incremental sync is canceled and given the drain timeout to
	// return.
	schedCtx, schedCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer schedCancel()
	if err := stopScheduler(schedCtx, a.scheduler, a.cancelSchedule); err != nil {
		a.logger.Error("scheduler stop error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// A running full sync observes cancellation and leaves the guard free.
	a.syncService.CancelFullSync(context.Background())

	drainCtx, drainCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer drainCancel()
	if err := a.workers.Stop(drainCtx); err != nil {
		a.logger.Error("worker pool stop error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.release(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// release cancels background work and closes every client opened so far.
func (a *App) release() error {
	a.cancelLifecycle()

	var errs []error
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
