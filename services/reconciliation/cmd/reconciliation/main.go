package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cohortmanager/platform/pkg/health"
	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/pkg/shutdown"
	"github.com/cohortmanager/platform/services/reconciliation/config"
	deliveryhttp "github.com/cohortmanager/platform/services/reconciliation/delivery/http"
	"github.com/cohortmanager/platform/services/reconciliation/usecase"
	"github.com/cohortmanager/platform/shared/database/postgres"
	"github.com/cohortmanager/platform/shared/database/redis"
)

const (
	serviceName = "reconciliation"
	version     = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: serviceName,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting reconciliation service",
		logging.String("version", version),
		logging.String("environment", cfg.Service.Environment),
		logging.Duration("interval", cfg.Reconciliation.Interval))

	collector := metrics.NewCollector(cfg.Metrics.Namespace)
	healthManager := health.NewManager(serviceName, version, logger.Logger)
	shutdownManager := shutdown.New(cfg.Server.ShutdownTimeout, logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres
	db, err := postgres.NewClient(cfg.Database.PostgreSQL, logger.Logger, collector)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", logging.Error(err))
	}
	if err := postgres.NewSchemaManager(db, logger.Logger).CreateSchema(ctx); err != nil {
		logger.Fatal("Failed to create schema", logging.Error(err))
	}

	// Redis
	cacheClient, err := redis.NewClient(cfg.Cache.Redis, logger.Logger, collector)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", logging.Error(err))
	}

	// Use cases
	engine := usecase.NewReconciliationEngine(
		postgres.NewMetricStore(db),
		postgres.NewExceptionStore(db),
		postgres.NewDistributionStore(db),
		cfg.Reconciliation.ReadTimeout,
		logger,
		collector,
	)
	scheduler := usecase.NewScheduler(engine, redis.NewRunState(cacheClient),
		cfg.Reconciliation.Interval, cfg.Reconciliation.Lookback, logger)

	// Health checks
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "liveness", Type: health.CheckTypeLiveness, Critical: true}, health.AliveCheck())
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "postgres", Type: health.CheckTypeReadiness, Timeout: 5 * time.Second, Critical: true}, health.PingCheck("postgres", db.Ping))
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "redis", Type: health.CheckTypeReadiness, Timeout: 3 * time.Second}, health.PingCheck("redis", cacheClient.Ping))

	// HTTP server: ops endpoints and manual trigger
	if cfg.Service.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), collector.GinMiddleware())
	healthManager.RegisterRoutes(router)
	router.GET(cfg.Metrics.Path, gin.WrapH(collector.CreateHandler()))
	deliveryhttp.NewReconciliationHandlers(engine, scheduler).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("Starting HTTP server", logging.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", logging.Error(err))
		}
	}()

	// Scheduler
	var workers sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workers.Add(1)
	go func() {
		defer workers.Done()
		scheduler.Run(workerCtx, cfg.Reconciliation.RunOnStart)
	}()

	// Shutdown hooks
	shutdownManager.AddHook(shutdown.BackgroundTaskHook("reconciliation-scheduler", stopWorkers, &workers))
	shutdownManager.AddHook(shutdown.HTTPServerHook("http-server", server))
	shutdownManager.AddHook(shutdown.CloserHook("redis", 30, cacheClient))
	shutdownManager.AddHook(shutdown.CloserHook("postgres", 30, db))
	shutdownManager.AddHook(shutdown.LoggerHook(logger))

	shutdownManager.Listen()
	logger.Info("Reconciliation service started successfully")

	shutdownManager.Wait()
	logger.Info("Reconciliation service shutdown completed")
}
