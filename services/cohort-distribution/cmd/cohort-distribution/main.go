package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cohortmanager/platform/pkg/health"
	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/pkg/shutdown"
	"github.com/cohortmanager/platform/services/cohort-distribution/config"
	deliveryhttp "github.com/cohortmanager/platform/services/cohort-distribution/delivery/http"
	"github.com/cohortmanager/platform/services/cohort-distribution/domain/repository"
	"github.com/cohortmanager/platform/services/cohort-distribution/domain/service"
	"github.com/cohortmanager/platform/services/cohort-distribution/infrastructure/allocation"
	"github.com/cohortmanager/platform/services/cohort-distribution/infrastructure/lock"
	"github.com/cohortmanager/platform/services/cohort-distribution/infrastructure/messaging"
	"github.com/cohortmanager/platform/services/cohort-distribution/infrastructure/rules"
	"github.com/cohortmanager/platform/services/cohort-distribution/usecase"
	"github.com/cohortmanager/platform/shared/database/postgres"
	"github.com/cohortmanager/platform/shared/database/redis"
	"github.com/cohortmanager/platform/shared/exceptions"
	"github.com/cohortmanager/platform/shared/external"
	"github.com/cohortmanager/platform/shared/messaging/kafka"
)

const (
	serviceName = "cohort-distribution"
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

	dist := cfg.Distribution
	logger.Info("Starting cohort distribution service",
		logging.String("version", version),
		logging.String("environment", cfg.Service.Environment),
		logging.Bool("ignore_existing_exceptions", dist.IgnoreExistingExceptions),
		logging.String("lock_backend", dist.LockBackend))

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
	distributions := postgres.NewDistributionStore(db)

	// Key lock
	var locker service.KeyLocker = lock.NewLocal()
	var cacheClient *redis.Client
	if dist.LockBackend == "redis" {
		cacheClient, err = redis.NewClient(cfg.Cache.Redis, logger.Logger, collector)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", logging.Error(err))
		}
		locker = redis.NewKeyLock(cacheClient, dist.LockTTL)
	}

	// Collaborators: remote services when configured, local fallbacks otherwise
	collaborators := cfg.Collaborator
	var demographics repository.DemographicReader = postgres.NewDemographicStore(db)
	if collaborators.Demographic.BaseURL != "" {
		demographics = external.NewDemographicClient(external.NewClient("demographic", collaborators.Demographic, logger.Logger, collector))
	}
	var allocator service.Allocator = allocation.NewTable(dist.Allocation.Prefixes, dist.Allocation.DefaultProvider)
	if collaborators.Allocation.BaseURL != "" {
		allocator = external.NewAllocationClient(external.NewClient("allocation", collaborators.Allocation, logger.Logger, collector))
	}
	// Config validation only lets an empty rules URL through when
	// distribution.allow_unvalidated is set.
	var validator service.Validator
	if collaborators.Rules.BaseURL != "" {
		validator = external.NewRulesClient(external.NewClient("rules", collaborators.Rules, logger.Logger, collector))
	} else {
		validator = rules.NewPassAll(logger)
	}

	// Kafka
	producer := kafka.NewProducer(cfg.MessageQueue.Kafka, logger, collector)
	topics := cfg.MessageQueue.Kafka.Topics

	orchestrator := usecase.NewDistributionOrchestrator(usecase.Dependencies{
		Participants:  postgres.NewParticipantStore(db),
		Demographics:  demographics,
		Distributions: distributions,
		Allocator:     allocator,
		Validator:     validator,
		Locker:        locker,
		Queue:         messaging.NewKafkaQueue(producer),
		Exceptions:    exceptions.NewHandler(postgres.NewExceptionStore(db), logger, collector),
	}, usecase.Options{
		CallTimeout:              dist.CallTimeout,
		MaxRetryAttempts:         dist.MaxRetryAttempts,
		IgnoreExistingExceptions: dist.IgnoreExistingExceptions,
		ExtractedDefault:         dist.ExtractedDefault,
		Workflow:                 dist.Workflow,
		RetryTopic:               topics.Retry,
		DeadLetterTopic:          topics.DeadLetter,
	}, logger, collector)

	distributionConsumer := kafka.NewConsumer(cfg.MessageQueue.Kafka, kafka.ConsumerConfig{
		Topic:             topics.Distribution,
		GroupID:           serviceName,
		Workers:           dist.Workers,
		MaxRetries:        cfg.MessageQueue.Kafka.RetryMax,
		ProcessingTimeout: 6 * dist.CallTimeout,
		DLQTopic:          topics.DeadLetter,
	}, messaging.NewDistributionHandler(orchestrator), producer, logger, collector)

	retryConsumer := kafka.NewConsumer(cfg.MessageQueue.Kafka, kafka.ConsumerConfig{
		Topic:             topics.Retry,
		GroupID:           serviceName + "-retry",
		Workers:           dist.RetryWorkers,
		MaxRetries:        cfg.MessageQueue.Kafka.RetryMax,
		ProcessingTimeout: dist.MaxRetryBackoff + 6*dist.CallTimeout,
		DLQTopic:          topics.DeadLetter,
	}, messaging.NewRetryHandler(orchestrator, messaging.Backoff{Base: dist.RetryBackoff, Max: dist.MaxRetryBackoff}, nil),
		producer, logger, collector)

	// Health checks
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "liveness", Type: health.CheckTypeLiveness, Critical: true}, health.AliveCheck())
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "postgres", Type: health.CheckTypeReadiness, Timeout: 5 * time.Second, Critical: true}, health.PingCheck("postgres", db.Ping))
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "kafka", Type: health.CheckTypeReadiness, Timeout: 5 * time.Second, Critical: true}, health.PingCheck("kafka", producer.Ping))
	if cacheClient != nil {
		_ = healthManager.RegisterCheck(health.CheckConfig{Name: "redis", Type: health.CheckTypeReadiness, Timeout: 3 * time.Second, Critical: true}, health.PingCheck("redis", cacheClient.Ping))
	}

	// HTTP server: ops endpoints and downstream extraction
	if cfg.Service.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), collector.GinMiddleware())
	healthManager.RegisterRoutes(router)
	router.GET(cfg.Metrics.Path, gin.WrapH(collector.CreateHandler()))
	deliveryhttp.NewExtractHandlers(distributions, dist.Extract.DefaultLimit, dist.Extract.MaxLimit, logger).RegisterRoutes(router)

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

	// Consumers
	if err := distributionConsumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start distribution consumer", logging.Error(err))
	}
	if err := retryConsumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start retry consumer", logging.Error(err))
	}

	// Shutdown hooks
	shutdownManager.AddHook(shutdown.CloserHook("distribution-consumer", 10, distributionConsumer))
	shutdownManager.AddHook(shutdown.CloserHook("retry-consumer", 10, retryConsumer))
	shutdownManager.AddHook(shutdown.HTTPServerHook("http-server", server))
	shutdownManager.AddHook(shutdown.CloserHook("kafka-producer", 20, producer))
	if cacheClient != nil {
		shutdownManager.AddHook(shutdown.CloserHook("redis", 30, cacheClient))
	}
	shutdownManager.AddHook(shutdown.CloserHook("postgres", 30, db))
	shutdownManager.AddHook(shutdown.LoggerHook(logger))

	shutdownManager.Listen()
	logger.Info("Cohort distribution service started successfully")

	shutdownManager.Wait()
	logger.Info("Cohort distribution service shutdown completed")
}
