package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/shared/common"
)

// Handler processes one message. A returned error means the message was not
// accounted for and must be retried.
type Handler func(ctx context.Context, msg Message) error

// ConsumerConfig configures one consumer group subscription
type ConsumerConfig struct {
	Topic             string
	GroupID           string
	Workers           int
	MaxRetries        int
	RetryDelay        time.Duration
	ProcessingTimeout time.Duration
	DLQTopic          string
}

// Publisher is the subset of Producer the consumer needs for dead-lettering
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error
}

// Consumer reads one topic with a pool of workers and commits each message
// once its handler succeeded or the message was dead-lettered
type Consumer struct {
	kafkaConfig common.KafkaConfig
	config      ConsumerConfig
	handler     Handler
	dlq         Publisher
	logger      *logging.Logger
	metrics     *metrics.Collector

	reader *kafka.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewConsumer creates a consumer. dlq may be nil when no dead-letter topic is used.
func NewConsumer(kafkaConfig common.KafkaConfig, config ConsumerConfig, handler Handler, dlq Publisher,
	logger *logging.Logger, metrics *metrics.Collector) *Consumer {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.GroupID == "" {
		config.GroupID = kafkaConfig.GroupID
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = 2 * time.Minute
	}

	return &Consumer{
		kafkaConfig: kafkaConfig,
		config:      config,
		handler:     handler,
		dlq:         dlq,
		logger:      logger.WithComponent("kafka-consumer").WithFields(logging.String("topic", config.Topic)),
		metrics:     metrics,
	}
}

// Start launches the worker pool
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reader != nil {
		return fmt.Errorf("consumer is already running")
	}

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.kafkaConfig.Brokers,
		GroupID:        c.config.GroupID,
		Topic:          c.config.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        c.kafkaConfig.MaxWait,
		CommitInterval: c.kafkaConfig.CommitInterval,
		StartOffset:    kafka.FirstOffset,
		Logger:         kafka.LoggerFunc(c.logKafkaMessage),
		ErrorLogger:    kafka.LoggerFunc(c.logKafkaError),
	})

	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	c.logger.Info("Kafka consumer started",
		logging.String("group_id", c.config.GroupID),
		logging.Int("workers", c.config.Workers),
	)
	return nil
}

// Close stops the workers, waits for in-flight messages and closes the reader
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reader == nil {
		return nil
	}

	c.cancel()
	c.wg.Wait()

	err := c.reader.Close()
	c.reader = nil
	c.logger.Info("Kafka consumer stopped")
	return err
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	logger := c.logger.WithFields(logging.Int("worker", id))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to fetch message", logging.Error(err))
			c.metrics.RecordError("kafka_fetch_error", "kafka-consumer")
			if !sleep(ctx, c.config.RetryDelay) {
				return
			}
			continue
		}

		if !c.process(ctx, fromKafka(msg), logger) {
			return
		}

		if err := c.reader.CommitMessages(context.Background(), msg); err != nil {
			logger.Error("Failed to commit message", logging.Error(err))
		}
	}
}

// process runs the handler with in-place retries and dead-letters the
// message once they are exhausted. It returns false when shutdown interrupted
// processing, in which case the message must stay uncommitted.
func (c *Consumer) process(ctx context.Context, msg Message, logger *logging.Logger) bool {
	start := time.Now()
	defer func() {
		c.metrics.RecordMessageProcessing(msg.Topic, time.Since(start))
	}()

	var err error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		err = c.handle(ctx, msg)
		if err == nil {
			c.metrics.RecordMessageReceived(msg.Topic, "success")
			return true
		}

		logger.Warn("Message handler failed",
			logging.Int64("offset", msg.Offset),
			logging.Int("attempt", attempt+1),
			logging.Error(err),
		)
		if attempt < c.config.MaxRetries && !sleep(ctx, c.config.RetryDelay) {
			break
		}
	}

	if ctx.Err() != nil {
		return false
	}

	c.metrics.RecordMessageReceived(msg.Topic, "failed")
	c.deadLetter(msg, err, logger)
	return true
}

func (c *Consumer) handle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.RecoverHandler(r)
		}
	}()

	handlerCtx, cancel := context.WithTimeout(ctx, c.config.ProcessingTimeout)
	defer cancel()
	return c.handler(handlerCtx, msg)
}

func (c *Consumer) deadLetter(msg Message, cause error, logger *logging.Logger) {
	if c.dlq == nil || c.config.DLQTopic == "" {
		logger.Error("Message dropped without dead-letter topic", logging.Int64("offset", msg.Offset))
		return
	}

	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderDLQReason] = errorText(cause)
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderAttempt] = strconv.Itoa(msg.Attempt())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var payload interface{} = rawJSON(msg.Value)
	if err := c.dlq.Publish(ctx, c.config.DLQTopic, msg.Key, payload, headers); err != nil {
		logger.Error("Failed to send message to DLQ", logging.Error(err))
		c.metrics.RecordError("dlq_send_error", "kafka-consumer")
		return
	}

	logger.Warn("Message sent to DLQ",
		logging.String("dlq_topic", c.config.DLQTopic),
		logging.Int64("original_offset", msg.Offset),
	)
}

func (c *Consumer) logKafkaMessage(msg string, args ...interface{}) {
	c.logger.Debug(fmt.Sprintf("Kafka: "+msg, args...))
}

func (c *Consumer) logKafkaError(msg string, args ...interface{}) {
	c.logger.Error(fmt.Sprintf("Kafka Error: "+msg, args...))
}

// rawJSON keeps an already encoded payload from being encoded twice
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

