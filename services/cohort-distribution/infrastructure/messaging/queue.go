package messaging

import (
	"context"
	"strconv"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/messaging/kafka"
)

// KafkaQueue publishes distribution requests keyed by identity key
type KafkaQueue struct {
	publisher kafka.Publisher
}

// NewKafkaQueue creates a queue over publisher
func NewKafkaQueue(publisher kafka.Publisher) *KafkaQueue {
	return &KafkaQueue{publisher: publisher}
}

// Enqueue publishes req to topic with its attempt number
func (q *KafkaQueue) Enqueue(ctx context.Context, req entity.DistributionRequest, topic string) error {
	return q.publisher.Publish(ctx, topic, req.IdentityKey.String(), req, map[string]string{
		kafka.HeaderFileName: req.FileName,
		kafka.HeaderAttempt:  strconv.Itoa(req.Attempt),
	})
}
