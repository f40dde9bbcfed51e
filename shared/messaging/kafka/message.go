package kafka

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header names shared by every producer and consumer in the pipeline
const (
	HeaderMessageID     = "message_id"
	HeaderCorrelationID = "correlation_id"
	HeaderFileName      = "file_name"
	HeaderAttempt       = "attempt"
	HeaderProducedAt    = "produced_at"
	HeaderProducerID    = "producer_id"
	HeaderDLQReason     = "dlq_reason"
	HeaderOriginalTopic = "original_topic"
)

// Message is a consumed record with decoded headers
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Decode unmarshals the JSON payload into v
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Value, v)
}

// Attempt returns the delivery attempt recorded by the producer, 0 when absent
func (m Message) Attempt() int {
	attempt, err := strconv.Atoi(m.Headers[HeaderAttempt])
	if err != nil {
		return 0
	}
	return attempt
}

func fromKafka(msg kafka.Message) Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Time:      msg.Time,
	}
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
