package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"herald/internal/batching"
	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/delivery"
	"herald/internal/logger"
	"herald/internal/outbox"
	"herald/internal/redelivery"
	"herald/internal/registry"
	"herald/internal/subscription"
	"herald/pkg/bootstrap"
	"herald/pkg/circuitbreaker"
	"herald/pkg/health"
	"herald/pkg/metrics"
	"herald/pkg/middleware"
	"herald/pkg/ratelimit"
	"herald/pkg/retry"
	"herald/pkg/tracing"
	"herald/pkg/worker"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	tracerProvider *tracing.TracerProvider

	repo     outbox.Repository
	groups   subscription.Repository
	service  outbox.Service
	engine   *batching.Engine
	enqueuer outbox.Enqueuer
	locator  *registry.Registry
	limiter  *ratelimit.Limiter
	workers  []*worker.Periodic

	router      *gin.Engine
	server      *http.Server
	stopWorkers context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) identity() outbox.Producer {
	return outbox.Producer{
		ServiceID:  a.Config.Service.ServiceID,
		InstanceID: a.Config.Service.InstanceID,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameProducer)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.InitProducer(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	metrics.RegisterProducerMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initService()
	a.initWorkers()

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if !a.Config.Registry.Enabled {
		return nil
	}
	rdb, err := a.dbConnector.InitRegistryRedis(ctx)
	if err != nil {
		// Retries fall back to broadcast without the registry.
		a.Logger.WarnwCtx(ctx, "Redis unavailable, agent registry disabled", "error", err)
		return nil
	}
	a.redis = rdb
	return nil
}

func (a *App) initService() {
	a.repo = outbox.NewRepository(a.db)
	a.groups = subscription.NewRepository(a.db)
	a.service = outbox.NewService(a.repo, a.groups, a.Logger)

	if a.Config.Batching.Enabled {
		a.engine = batching.NewEngine(batching.ConfigFrom(a.Config.Batching), a.repo, a.groups, a.identity(), a.Logger)
		a.enqueuer = a.engine
	} else {
		a.enqueuer = outbox.NewDirectEnqueuer(a.repo, a.groups, a.identity(), a.Logger)
	}

	if a.redis != nil {
		a.locator = registry.New(registry.NewRedisStore(a.redis), a.Config.Registry.StaleAfter, a.Logger)
	}
}

func (a *App) initWorkers() {
	cfg := a.Config

	breaker := circuitbreaker.FromConfig("kafka-producer", cfg.CircuitBreaker)
	pipeline := delivery.NewPipeline(a.repo, a.groups, a.Producer, cfg.Delivery.BatchSize, a.Logger,
		delivery.WithBreaker(breaker),
	)

	opts := []redelivery.Option{
		redelivery.WithSchedule(retry.Schedule{
			InitialInterval: cfg.Redelivery.Backoff.InitialInterval,
			MaxInterval:     cfg.Redelivery.Backoff.MaxInterval,
			Multiplier:      cfg.Redelivery.Backoff.Multiplier,
		}),
	}
	if a.locator != nil {
		opts = append(opts, redelivery.WithLocator(a.locator))
	}
	orchestrator := redelivery.NewOrchestrator(a.repo, a.groups, a.identity(), cfg.Redelivery.BatchSize, a.Logger, opts...)

	a.workers = []*worker.Periodic{
		worker.NewPeriodic("delivery", cfg.Delivery.Interval, pipeline.Run, a.Logger),
		worker.NewPeriodic("redelivery", cfg.Redelivery.Interval, orchestrator.Run, a.Logger),
		worker.NewPeriodic("status_gauges", cfg.Delivery.Interval, a.refreshStatusGauges, a.Logger),
	}
	if cfg.Cleanup.Enabled {
		cleaner := outbox.NewCleaner(a.repo, cfg.Cleanup.Retention, a.Logger)
		a.workers = append(a.workers, worker.NewPeriodic("cleanup", cfg.Cleanup.Interval, cleaner.Run, a.Logger))
	}
}

func (a *App) refreshStatusGauges(ctx context.Context) error {
	stats, err := a.service.Stats(ctx)
	if err != nil {
		return err
	}
	for status, n := range stats.Counts {
		metrics.SetStatusCount(string(status), n)
	}
	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceNameProducer))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	var enqueueMiddleware []gin.HandlerFunc
	if a.Config.RateLimit.Enabled {
		a.limiter = ratelimit.NewLimiter(ratelimit.Config{
			RPS:             a.Config.RateLimit.RPS,
			Burst:           a.Config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.RateLimit.MaxAge) * time.Second,
		})
		enqueueMiddleware = append(enqueueMiddleware, a.limiter.Middleware())
		a.Logger.InfowCtx(context.Background(), "Rate limiting enabled",
			"rps", a.Config.RateLimit.RPS,
			"burst", a.Config.RateLimit.Burst,
		)
	}

	handler := outbox.NewHandler(a.service, a.enqueuer, a.Logger,
		outbox.WithEnqueueTimeout(a.Config.Server.EnqueueWait()),
	)
	handler.RegisterRoutes(router, enqueueMiddleware...)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	router.GET("/health", health.Handler(healthRegistry))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

// Run blocks until ctx is cancelled or a component fails, then drains:
// HTTP intake first, then the batching engine's final flush, then the
// periodic workers.
func (a *App) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	a.stopWorkers = stopWorkers
	defer stopWorkers()

	g, gCtx := errgroup.WithContext(workerCtx)

	if a.engine != nil {
		a.engine.Start()
	}

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	for _, w := range a.workers {
		g.Go(func() error {
			return w.Start(gCtx)
		})
	}

	if a.limiter != nil {
		g.Go(func() error {
			return a.limiter.RunCleanup(gCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-gCtx.Done():
		}
		return a.drain()
	})

	return g.Wait()
}

func (a *App) drain() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
	}
	if a.engine != nil {
		if err := a.engine.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("batching engine shutdown error: %w", err))
		}
	}
	a.stopWorkers()

	return errors.Join(errs...)
}

// Shutdown releases what Initialize acquired. Run must have returned.
func (a *App) Shutdown(ctx context.Context) error {
	after := func(ctx context.Context) []error {
		var errs []error
		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}
		return append(errs, a.dbConnector.ShutdownDatabases(a.db, a.redis)...)
	}

	return a.Base.Shutdown(ctx, nil, after)
}
