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
	"github.com/cohortmanager/platform/services/participant-manager/config"
	"github.com/cohortmanager/platform/services/participant-manager/domain/repository"
	"github.com/cohortmanager/platform/services/participant-manager/infrastructure/messaging"
	"github.com/cohortmanager/platform/services/participant-manager/usecase"
	"github.com/cohortmanager/platform/shared/database/postgres"
	"github.com/cohortmanager/platform/shared/exceptions"
	"github.com/cohortmanager/platform/shared/external"
	"github.com/cohortmanager/platform/shared/messaging/kafka"
)

const (
	serviceName = "participant-manager"
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

	logger.Info("Starting participant manager",
		logging.String("version", version),
		logging.String("environment", cfg.Service.Environment),
		logging.Bool("allow_delete_distribution", cfg.Processing.AllowDeleteDistribution))

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

	// Demographic service: remote when configured, local table otherwise
	var demographics repository.DemographicService = postgres.NewDemographicStore(db)
	if endpoint := cfg.Collaborator.Demographic; endpoint.BaseURL != "" {
		demographics = external.NewDemographicClient(external.NewClient("demographic", endpoint, logger.Logger, collector))
		logger.Info("Using remote demographic service", logging.String("base_url", endpoint.BaseURL))
	}

	// Kafka
	producer := kafka.NewProducer(cfg.MessageQueue.Kafka, logger, collector)
	topics := cfg.MessageQueue.Kafka.Topics

	processor := usecase.NewRecordProcessor(
		demographics,
		messaging.NewKafkaForwarder(producer, topics.Distribution),
		exceptions.NewHandler(postgres.NewExceptionStore(db), logger, collector),
		usecase.Options{
			RowParallelism:          cfg.Processing.RowParallelism,
			CallTimeout:             cfg.Processing.CallTimeout,
			AllowDeleteDistribution: cfg.Processing.AllowDeleteDistribution,
		},
		logger,
		collector,
	)

	consumer := kafka.NewConsumer(cfg.MessageQueue.Kafka, kafka.ConsumerConfig{
		Topic:             topics.Batches,
		GroupID:           serviceName,
		Workers:           cfg.Processing.Workers,
		MaxRetries:        cfg.MessageQueue.Kafka.RetryMax,
		ProcessingTimeout: cfg.Processing.BatchTimeout,
		DLQTopic:          topics.DeadLetter,
	}, messaging.NewBatchHandler(processor, cfg.Processing.BatchTimeout, logger), producer, logger, collector)

	// Health checks
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "liveness", Type: health.CheckTypeLiveness, Critical: true}, health.AliveCheck())
	_ = healthManager.RegisterCheck(health.CheckConfig{Name: "postgres", Type: health.CheckTypeReadiness, Timeout: 5 * time.Second, Critical: true}, health.PingCheck("postgres", db.Ping))
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

	// Consumers
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start batch consumer", logging.Error(err))
	}

	// Shutdown hooks
	shutdownManager.AddHook(shutdown.CloserHook("batch-consumer", 10, consumer))
	shutdownManager.AddHook(shutdown.HTTPServerHook("ops-server", server))
	shutdownManager.AddHook(shutdown.CloserHook("kafka-producer", 20, producer))
	shutdownManager.AddHook(shutdown.CloserHook("postgres", 30, db))
	shutdownManager.AddHook(shutdown.LoggerHook(logger))

	shutdownManager.Listen()
	logger.Info("Participant manager started successfully")

	shutdownManager.Wait()
	logger.Info("Participant manager shutdown completed")
}
