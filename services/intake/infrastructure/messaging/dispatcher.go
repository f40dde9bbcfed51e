package messaging

import (
	"context"
	"strconv"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/messaging/kafka"
)

// KafkaBatchDispatcher publishes batches to the record processor topic
type KafkaBatchDispatcher struct {
	publisher kafka.Publisher
	topic     string
}

// NewKafkaBatchDispatcher creates a dispatcher for topic
func NewKafkaBatchDispatcher(publisher kafka.Publisher, topic string) *KafkaBatchDispatcher {
	return &KafkaBatchDispatcher{publisher: publisher, topic: topic}
}

// Dispatch publishes one batch keyed by its id
func (d *KafkaBatchDispatcher) Dispatch(ctx context.Context, batch *entity.Batch) error {
	return d.publisher.Publish(ctx, d.topic, batch.BatchID, batch, map[string]string{
		kafka.HeaderFileName:      batch.FileName,
		kafka.HeaderCorrelationID: batch.BatchID,
		"batch_index":             strconv.Itoa(batch.Index),
	})
}
