package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/shared/common"
)

// Producer publishes JSON payloads, one writer per topic
type Producer struct {
	config  common.KafkaConfig
	logger  *logging.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool
}

// NewProducer creates a producer. Writers are opened on first use.
func NewProducer(config common.KafkaConfig, logger *logging.Logger, metrics *metrics.Collector) *Producer {
	return &Producer{
		config:  config,
		logger:  logger.WithComponent("kafka-producer"),
		metrics: metrics,
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *Producer) writer(topic string) (*kafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, common.NewAppError(common.ErrCodeServiceUnavailable, "producer is closed")
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(p.config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  p.config.RetryMax,
		BatchSize:    p.config.BatchSize,
		BatchTimeout: p.config.BatchTimeout,
		WriteTimeout: p.config.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Lz4,
		Logger:       kafka.LoggerFunc(p.logKafkaMessage),
		ErrorLogger:  kafka.LoggerFunc(p.logKafkaError),
	}
	p.writers[topic] = w
	return w, nil
}

// Publish writes value as JSON to topic. Messages with the same key land on
// the same partition, which keeps one participant's records in order.
func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error {
	w, err := p.writer(topic)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return common.WrapError(err, common.ErrCodeInternal, "failed to marshal message")
	}

	all := map[string]string{
		HeaderMessageID:  uuid.NewString(),
		HeaderProducedAt: time.Now().UTC().Format(time.RFC3339),
		HeaderProducerID: p.config.ClientID,
	}
	for k, v := range headers {
		all[k] = v
	}

	start := time.Now()
	err = w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: toKafkaHeaders(all),
	})
	if err != nil {
		p.metrics.RecordMessageSent(topic, "error")
		p.logger.Error("Failed to publish message",
			logging.String("topic", topic),
			logging.String("key", key),
			logging.Error(err),
		)
		return common.ErrTransient(fmt.Sprintf("publish to %s", topic), err)
	}

	p.metrics.RecordMessageSent(topic, "success")
	p.logger.Debug("Message published",
		logging.String("topic", topic),
		logging.String("key", key),
		logging.Duration("duration", time.Since(start)),
	)
	return nil
}

// Close flushes and closes every writer
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.Error("Failed to close Kafka writer", logging.String("topic", topic), logging.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Ping dials the first reachable broker
func (p *Producer) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range p.config.Brokers {
		conn, err := (&kafka.Dialer{Timeout: 5 * time.Second}).DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	return lastErr
}

func (p *Producer) logKafkaMessage(msg string, args ...interface{}) {
	p.logger.Debug(fmt.Sprintf("Kafka: "+msg, args...))
}

func (p *Producer) logKafkaError(msg string, args ...interface{}) {
	p.logger.Error(fmt.Sprintf("Kafka Error: "+msg, args...))
}
