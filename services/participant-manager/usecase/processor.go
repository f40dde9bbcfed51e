package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/services/participant-manager/domain/repository"
	"github.com/cohortmanager/platform/services/participant-manager/domain/service"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/exceptions"
	"github.com/cohortmanager/platform/shared/types"
)

// Options tunes RecordProcessor
type Options struct {
	RowParallelism          int
	CallTimeout             time.Duration
	AllowDeleteDistribution bool
}

// BatchSummary counts the outcome of every record of one batch. Forwarded
// and Excepted always add up to Received.
type BatchSummary struct {
	Received         int
	Forwarded        int
	Excepted         int
	Duplicates       int
	Removed          int
	UnknownKind      int
	Failed           int
	ExceptionsFailed int
	Duration         time.Duration
}

type outcome int

const (
	outcomeForwarded outcome = iota
	outcomeDuplicate
	outcomeRemoved
	outcomeUnknown
	outcomeFailed
)

// RecordProcessor classifies every record of a batch, correlates the admitted
// ones with the demographic service and forwards them for distribution
type RecordProcessor struct {
	demographics repository.DemographicService
	forwarder    service.Forwarder
	exceptions   *exceptions.Handler
	options      Options
	logger       *logging.Logger
	metrics      *metrics.Collector
}

// NewRecordProcessor creates a RecordProcessor
func NewRecordProcessor(
	demographics repository.DemographicService,
	forwarder service.Forwarder,
	exceptionHandler *exceptions.Handler,
	options Options,
	logger *logging.Logger,
	metrics *metrics.Collector,
) *RecordProcessor {
	if options.RowParallelism <= 0 {
		options.RowParallelism = 1
	}
	if options.CallTimeout <= 0 {
		options.CallTimeout = 15 * time.Second
	}
	return &RecordProcessor{
		demographics: demographics,
		forwarder:    forwarder,
		exceptions:   exceptionHandler,
		options:      options,
		logger:       logger.WithComponent("record-processor"),
		metrics:      metrics,
	}
}

// ProcessBatch gives every record exactly one outcome: forwarded, or an
// exception row. It never fails; problems become exceptions.
func (p *RecordProcessor) ProcessBatch(ctx context.Context, records []entity.IntakeRecord, screening types.ScreeningService, fileName string) BatchSummary {
	start := time.Now()
	logger := p.logger.WithContext(ctx).WithFields(
		logging.String("file_name", fileName),
		logging.String("screening_service", screening.Name),
	)

	var (
		mu       sync.Mutex
		summary = BatchSummary{Received: len(records)}
		excFails int64
	)
	tally := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeForwarded:
			summary.Forwarded++
			return
		case outcomeDuplicate:
			summary.Duplicates++
		case outcomeRemoved:
			summary.Removed++
		case outcomeUnknown:
			summary.UnknownKind++
		case outcomeFailed:
			summary.Failed++
		}
		summary.Excepted++
	}

	seen := NewKeySet()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.options.RowParallelism)

	for i := range records {
		record := records[i]
		p.metrics.RecordReceived(string(record.OperationKind))

		// Admission runs in row order so the first occurrence of a key wins.
		if !seen.TryAdd(record.IdentityKey) {
			if err := p.reject(ctx, record, screening, fileName, common.ErrDuplicateRecord(record.IdentityKey.String())); err != nil {
				atomic.AddInt64(&excFails, 1)
			}
			tally(outcomeDuplicate)
			continue
		}

		g.Go(func() error {
			o, err := p.processRecord(gctx, record, screening, fileName)
			if err != nil {
				atomic.AddInt64(&excFails, 1)
			}
			tally(o)
			return nil
		})
	}
	_ = g.Wait()

	summary.ExceptionsFailed = int(atomic.LoadInt64(&excFails))
	summary.Duration = time.Since(start)
	p.metrics.RecordBatch("record-processor", summary.Duration)

	fields := []logging.Field{
		logging.Int("received", summary.Received),
		logging.Int("forwarded", summary.Forwarded),
		logging.Int("excepted", summary.Excepted),
		logging.Int("duplicates", summary.Duplicates),
		logging.Duration("duration", summary.Duration),
	}
	if summary.ExceptionsFailed > 0 {
		logger.Error("Batch processed with unwritten exceptions",
			append(fields, logging.Int("exceptions_failed", summary.ExceptionsFailed))...)
	} else {
		logger.Info("Batch processed", fields...)
	}
	return summary
}

// processRecord routes one admitted record. The returned error is set only
// when the exception describing the outcome could not be written.
func (p *RecordProcessor) processRecord(ctx context.Context, record entity.IntakeRecord, screening types.ScreeningService, fileName string) (outcome, error) {
	switch record.OperationKind {
	case types.OperationNew, types.OperationAmended:
		return p.correlateAndForward(ctx, record, screening, fileName)

	case types.OperationRemoved:
		if p.options.AllowDeleteDistribution {
			return p.forward(ctx, record, screening, fileName)
		}
		return outcomeRemoved, p.reject(ctx, record, screening, fileName, common.ErrRecordRemoved(record.IdentityKey.String()))

	default:
		return outcomeUnknown, p.reject(ctx, record, screening, fileName, common.ErrUnknownRecordType(string(record.OperationKind)))
	}
}

// exceptionContext outlives the batch deadline so that a record cut short by
// it is still excepted
func (p *RecordProcessor) exceptionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.options.CallTimeout)
}

func (p *RecordProcessor) reject(ctx context.Context, record entity.IntakeRecord, screening types.ScreeningService, fileName string, cause error) error {
	ctx, cancel := p.exceptionContext(ctx)
	defer cancel()
	return p.exceptions.Reject(ctx, record, fileName, screening.Name, cause)
}

func (p *RecordProcessor) fail(ctx context.Context, record entity.IntakeRecord, screening types.ScreeningService, fileName string, cause error) error {
	ctx, cancel := p.exceptionContext(ctx)
	defer cancel()
	return p.exceptions.SystemException(ctx, record, fileName, screening.Name, cause, true)
}

func (p *RecordProcessor) correlateAndForward(ctx context.Context, record entity.IntakeRecord, screening types.ScreeningService, fileName string) (outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.options.CallTimeout)
	_, err := p.demographics.Upsert(callCtx, record.IdentityKey, record.Demographic())
	cancel()
	if err != nil {
		cause := common.WrapError(err, common.ErrCodeExternalService, "demographic upsert failed")
		return outcomeFailed, p.fail(ctx, record, screening, fileName, cause)
	}
	return p.forward(ctx, record, screening, fileName)
}

func (p *RecordProcessor) forward(ctx context.Context, record entity.IntakeRecord, screening types.ScreeningService, fileName string) (outcome, error) {
	req := entity.DistributionRequest{
		IdentityKey:      record.IdentityKey,
		ScreeningService: screening,
		OperationKind:    record.OperationKind,
		FileName:         fileName,
		Record:           record,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.options.CallTimeout)
	err := p.forwarder.Forward(callCtx, req)
	cancel()
	if err != nil {
		cause := common.WrapError(err, common.ErrCodeExternalService, "forward for distribution failed")
		return outcomeFailed, p.fail(ctx, record, screening, fileName, cause)
	}
	return outcomeForwarded, nil
}
