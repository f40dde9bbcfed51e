package messaging

import (
	"context"
	"time"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/services/participant-manager/usecase"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/messaging/kafka"
	"github.com/cohortmanager/platform/shared/types"
)

// BatchProcessor is the use case the batch handler drives
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []entity.IntakeRecord, screening types.ScreeningService, fileName string) usecase.BatchSummary
}

// NewBatchHandler decodes batch messages for the record processor. A batch
// that started is always finished, even during shutdown, so no record is
// forwarded twice on redelivery.
func NewBatchHandler(processor BatchProcessor, timeout time.Duration, logger *logging.Logger) kafka.Handler {
	logger = logger.WithComponent("batch-handler")
	return func(ctx context.Context, msg kafka.Message) error {
		var batch entity.Batch
		if err := msg.Decode(&batch); err != nil {
			return common.WrapError(err, common.ErrCodeInvalidInput, "malformed batch message")
		}
		if !batch.ScreeningService.Valid() {
			return common.ErrShape("batch carries no screening service")
		}

		ctx = logging.ContextWithFileName(ctx, batch.FileName)
		ctx = logging.ContextWithCorrelationID(ctx, msg.Headers[kafka.HeaderCorrelationID])
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		summary := processor.ProcessBatch(runCtx, batch.Records, batch.ScreeningService, batch.FileName)
		logger.WithContext(ctx).Debug("Batch message handled",
			logging.String("batch_id", batch.BatchID),
			logging.Int("forwarded", summary.Forwarded),
			logging.Int("excepted", summary.Excepted),
		)
		return nil
	}
}
