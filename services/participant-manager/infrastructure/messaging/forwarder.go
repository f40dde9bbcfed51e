package messaging

import (
	"context"
	"strconv"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/messaging/kafka"
)

// KafkaForwarder publishes distribution requests keyed by identity key, so
// every request for one participant lands on the same partition
type KafkaForwarder struct {
	publisher kafka.Publisher
	topic     string
}

// NewKafkaForwarder creates a forwarder for topic
func NewKafkaForwarder(publisher kafka.Publisher, topic string) *KafkaForwarder {
	return &KafkaForwarder{publisher: publisher, topic: topic}
}

// Forward publishes req
func (f *KafkaForwarder) Forward(ctx context.Context, req entity.DistributionRequest) error {
	return f.publisher.Publish(ctx, f.topic, req.IdentityKey.String(), req, map[string]string{
		kafka.HeaderFileName: req.FileName,
		kafka.HeaderAttempt:  strconv.Itoa(req.Attempt),
	})
}
