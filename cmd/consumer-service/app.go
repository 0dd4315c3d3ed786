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
	"golang.org/x/sync/errgroup"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/consumer"
	"herald/internal/logger"
	"herald/internal/registry"
	"herald/pkg/bootstrap"
	"herald/pkg/circuitbreaker"
	"herald/pkg/health"
	"herald/pkg/logging"
	"herald/pkg/metrics"
	"herald/pkg/middleware"
	"herald/pkg/tracing"
	"herald/pkg/worker"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	registryRedis  *redis.Client
	tracerProvider *tracing.TracerProvider

	service     *consumer.Service
	handlers    *consumer.HandlerRegistry
	heartbeater *registry.Heartbeater
	heartbeat   *worker.Periodic

	router *gin.Engine
	server *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameConsumer)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Each group reads every record; the group filter happens in Process.
	if a.Config.Broker.Kafka.GroupID == "" {
		a.Config.Broker.Kafka.GroupID = a.Config.Consumer.Group
	}
	if err := a.InitConsumer(constants.ServiceNameConsumer); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	metrics.RegisterConsumerMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initService()
	a.initRegistry()

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

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis unavailable, dedup cache disabled", "error", err)
	}
	a.redis = rdb

	if !a.Config.Registry.Enabled {
		return nil
	}
	if a.dbConnector.SharesRegistryRedis() {
		a.registryRedis = a.redis
		return nil
	}
	registryRedis, err := a.dbConnector.InitRegistryRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Registry Redis unavailable, heartbeats stay local", "error", err)
		return nil
	}
	a.registryRedis = registryRedis
	return nil
}

func (a *App) initService() {
	cfg := a.Config.Consumer

	var repo consumer.Repository = consumer.NewRepository(a.db)
	if a.redis != nil {
		repo = consumer.NewCachedRepository(repo, a.redis, cfg.DedupCacheTTL, a.Logger).
			WithBreaker(circuitbreaker.FromConfig("redis-dedup", a.Config.CircuitBreaker))
	}

	a.handlers = consumer.NewHandlerRegistry(consumer.UnknownTopicHandler(cfg.UnknownTopicPolicy, a.Logger))
	for _, topic := range cfg.Topics {
		a.handlers.Register(topic, consumer.LoggingHandler(a.Logger))
	}

	breaker := circuitbreaker.FromConfig("producer-ack", a.Config.CircuitBreaker)
	acker := consumer.NewAckClient(cfg.Ack, breaker, a.Logger)

	a.service = consumer.NewService(repo, a.handlers, acker, cfg.Group, a.Config.Service.ServiceID, a.Logger)
}

func (a *App) initRegistry() {
	agent := registry.Agent{
		ServiceID:  a.Config.Service.ServiceID,
		InstanceID: a.Config.Service.InstanceID,
		BaseURL:    a.Config.Service.BaseURL,
		Topics:     a.Config.Consumer.Topics,
		Groups:     []string{a.Config.Consumer.Group},
		StartedAt:  time.Now().UTC(),
	}

	var store registry.Store = registry.NewMemoryStore()
	if a.registryRedis != nil {
		store = registry.NewRedisStore(a.registryRedis)
	}
	a.heartbeater = registry.NewHeartbeater(store, agent, a.Config.Registry.HeartbeatInterval, a.Config.Registry.StaleAfter, a.Logger)
	a.heartbeat = worker.NewPeriodic("heartbeat", a.heartbeater.Interval(), a.heartbeater.Beat, a.Logger)
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceNameConsumer))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	consumer.NewAgentHandler(a.heartbeater).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	router.GET("/health", health.Handler(healthRegistry))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if err := a.heartbeater.Beat(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Initial heartbeat failed", "error", err)
	}
	g.Go(func() error {
		return a.heartbeat.Start(gCtx)
	})

	for _, topic := range a.Config.Consumer.Topics {
		g.Go(func() error {
			topicCtx := logging.WithTopic(logging.WithConsumerGroup(gCtx, a.Config.Consumer.Group), topic)
			return a.Consumer.Consume(topicCtx, topic, a.service.Handle)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		if err := a.heartbeater.Deregister(shutdownCtx); err != nil {
			a.Logger.WarnwCtx(shutdownCtx, "Failed to deregister agent", "error", err)
		}
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	after := func(ctx context.Context) []error {
		var errs []error
		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}
		clients := []*redis.Client{a.redis}
		if a.registryRedis != a.redis {
			clients = append(clients, a.registryRedis)
		}
		return append(errs, a.dbConnector.ShutdownDatabases(a.db, clients...)...)
	}

	return a.Base.Shutdown(ctx, nil, after)
}
