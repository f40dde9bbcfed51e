package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cohortmanager/platform/pkg/health"
	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/pkg/shutdown"
	"github.com/cohortmanager/platform/services/intake/config"
	"github.com/cohortmanager/platform/services/intake/domain/service"
	"github.com/cohortmanager/platform/services/intake/infrastructure/messaging"
	"github.com/cohortmanager/platform/services/intake/infrastructure/source"
	"github.com/cohortmanager/platform/services/intake/usecase"
	"github.com/cohortmanager/platform/shared/database/postgres"
	"github.com/cohortmanager/platform/shared/database/redis"
	"github.com/cohortmanager/platform/shared/exceptions"
	"github.com/cohortmanager/platform/shared/messaging/kafka"
	"github.com/cohortmanager/platform/shared/types"
)

const (
	serviceName = "intake"
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

	logger.Info("Starting intake service",
		logging.String("version", version),
		logging.String("environment", cfg.Service.Environment),
		logging.String("source", cfg.Intake.Source.Type))

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

	screeningStore := postgres.NewScreeningStore(db)
	for _, seed := range cfg.Intake.ScreeningServices {
		svc := types.ScreeningService{ID: seed.ID, Name: seed.Name, Acronym: seed.Acronym}
		if err := screeningStore.Register(ctx, seed.WorkflowCode, svc); err != nil {
			logger.Fatal("Failed to register screening service",
				logging.String("workflow_code", seed.WorkflowCode), logging.Error(err))
		}
	}

	// Redis
	cacheClient, err := redis.NewClient(cfg.Cache.Redis, logger.Logger, collector)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", logging.Error(err))
	}

	// Kafka
	producer := kafka.NewProducer(cfg.MessageQueue.Kafka, logger, collector)

	// Source
	var src service.FileSource
	switch strings.ToLower(cfg.Intake.Source.Type) {
	case "s3":
		src, err = source.NewS3Source(ctx, cfg.Intake.Source.Bucket, cfg.Intake.Source.Prefix,
			cfg.Intake.Source.PoisonPrefix, cfg.Intake.Source.Region, logger.Logger)
	default:
		src, err = source.NewLocalSource(cfg.Intake.Source.Directory, cfg.Intake.Source.PoisonDirectory, logger.Logger)
	}
	if err != nil {
		logger.Fatal("Failed to initialize file source", logging.Error(err))
	}

	// Use cases
	resolver := usecase.NewScreeningServiceResolver(
		screeningStore,
		redis.NewScreeningCache(cacheClient, cfg.Intake.ScreeningCacheTTL),
		logger,
	)
	intake := usecase.NewBatchIntake(
		resolver,
		messaging.NewKafkaBatchDispatcher(producer, cfg.MessageQueue.Kafka.Topics.Batches),
		postgres.NewMetricStore(db),
		exceptions.NewHandler(postgres.NewExceptionStore(db), logger, collector),
		usecase.Options{
			BatchSize:         cfg.Intake.BatchSize,
			Parallelism:       cfg.Intake.Parallelism,
			CheckDigit:        cfg.Intake.CheckDigit,
			AllowedExtensions: cfg.Intake.AllowedExtensions,
		},
		logger,
		collector,
	)
	poller := usecase.NewPoller(src, intake, cfg.Intake.PollInterval, logger)

	// Health checks
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "liveness", Type: health.CheckTypeLiveness, Critical: true}, health.AliveCheck())
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "postgres", Type: health.CheckTypeReadiness, Timeout: 5 * time.Second, Critical: true}, health.PingCheck("postgres", db.Ping))
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "redis", Type: health.CheckTypeReadiness, Timeout: 3 * time.Second}, health.PingCheck("redis", cacheClient.Ping))
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "kafka", Type: health.CheckTypeReadiness, Timeout: 5 * time.Second, Critical: true}, health.PingCheck("kafka", producer.Ping))

	// Ops server
	if cfg.Service.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), collector.GinMiddleware())
	healthManager.RegisterRoutes(router)
	router.GET(cfg.Metrics.Path, gin.WrapH(collector.CreateHandler()))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("Starting ops server", logging.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Ops server failed", logging.Error(err))
		}
	}()

	// Workers
	var workers sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workers.Add(1)
	go func() {
		defer workers.Done()
		poller.Run(workerCtx)
	}()

	// Shutdown hooks
	shutdownManager.AddHook(shutdown.BackgroundTaskHook("intake-poller", stopWorkers, &workers))
	shutdownManager.AddHook(shutdown.HTTPServerHook("ops-server", server))
	shutdownManager.AddHook(shutdown.CloserHook("kafka-producer", 20, producer))
	shutdownManager.AddHook(shutdown.CloserHook("redis", 30, cacheClient))
	shutdownManager.AddHook(shutdown.CloserHook("postgres", 30, db))
	shutdownManager.AddHook(shutdown.LoggerHook(logger))

	shutdownManager.Listen()
	logger.Info("Intake service started successfully")

	shutdownManager.Wait()
	logger.Info("Intake service shutdown completed")
}
