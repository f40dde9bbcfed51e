package usecase

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/services/intake/domain/repository"
	"github.com/cohortmanager/platform/services/intake/domain/service"
	"github.com/cohortmanager/platform/services/intake/infrastructure/decoder"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/exceptions"
	"github.com/cohortmanager/platform/shared/types"
)

// Options tunes BatchIntake
type Options struct {
	BatchSize         int
	Parallelism       int
	CheckDigit        bool
	AllowedExtensions []string
}

// IntakeResult summarises one file. SourceConsumed reports whether the file
// left the inbound location, by deletion or quarantine.
type IntakeResult struct {
	FileName          string
	ScreeningService  types.ScreeningService
	ClaimedCount      int
	RowsRead          int
	RowsRejected      int
	RecordsDispatched int
	RecordsFailed     int
	Batches           int
	Quarantined       bool
	SourceConsumed    bool
	Duration          time.Duration
}

// BatchIntake reads bulk extracts into batches for the record processor
type BatchIntake struct {
	resolver   *ScreeningServiceResolver
	dispatcher service.BatchDispatcher
	metricRepo repository.MetricRepository
	exceptions *exceptions.Handler
	options    Options
	logger     *logging.Logger
	metrics    *metrics.Collector
	now        func() time.Time
}

// NewBatchIntake creates a BatchIntake
func NewBatchIntake(
	resolver *ScreeningServiceResolver,
	dispatcher service.BatchDispatcher,
	metricRepo repository.MetricRepository,
	exceptionHandler *exceptions.Handler,
	options Options,
	logger *logging.Logger,
	metrics *metrics.Collector,
) *BatchIntake {
	if options.BatchSize <= 0 {
		options.BatchSize = 1000
	}
	if options.Parallelism <= 0 {
		options.Parallelism = 1
	}
	return &BatchIntake{
		resolver:   resolver,
		dispatcher: dispatcher,
		metricRepo: metricRepo,
		exceptions: exceptionHandler,
		options:    options,
		logger:     logger.WithComponent("batch-intake"),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Intake processes one file from src. A non-nil error means the file was
// rejected as a whole; the result still reports what happened to the source.
func (b *BatchIntake) Intake(ctx context.Context, src service.FileSource, fileName string) (*IntakeResult, error) {
	start := b.now()
	result := &IntakeResult{FileName: fileName}
	logger := b.logger.WithContext(logging.ContextWithFileName(ctx, fileName))

	name, err := ParseFileName(fileName, b.options.AllowedExtensions)
	if err != nil {
		return b.reject(ctx, src, result, err, logger)
	}
	result.ClaimedCount = name.ClaimedCount

	screening, err := b.resolver.Resolve(ctx, name.WorkflowCode)
	if err != nil {
		return b.rejectOrDefer(ctx, src, result, err, logger)
	}
	result.ScreeningService = screening

	body, err := src.Open(ctx, fileName)
	if err != nil {
		return b.rejectOrDefer(ctx, src, result, err, logger)
	}
	rows, err := decoder.Open(fileName, body)
	if err != nil {
		return b.reject(ctx, src, result, common.ErrShape(err.Error()), logger)
	}

	readErr := b.stream(ctx, rows, fileName, screening, result, logger)
	if closeErr := rows.Close(); closeErr != nil {
		logger.Warn("Failed to close source file", logging.Error(closeErr))
	}
	if readErr != nil {
		return b.reject(ctx, src, result, readErr, logger)
	}
	if result.RowsRead == 0 {
		return b.reject(ctx, src, result, common.ErrShape("file contains no records"), logger)
	}

	metric := &entity.InboundMetric{
		MetricAuditID:    uuid.NewString(),
		ProcessName:      entity.AuditProcessName,
		ReceivedDateTime: b.now().UTC(),
		Source:           fileName,
		RecordCount:      name.ClaimedCount,
	}
	if err := b.metricRepo.Insert(ctx, metric); err != nil {
		return b.reject(ctx, src, result, err, logger)
	}

	if err := src.Delete(ctx, fileName); err != nil {
		logger.Error("Failed to delete processed file", logging.Error(err))
	} else {
		result.SourceConsumed = true
	}

	result.Duration = b.now().Sub(start)
	b.metrics.RecordFile("processed")
	logger.Info("File processed",
		logging.String("screening_service", screening.Name),
		logging.Int("claimed_count", result.ClaimedCount),
		logging.Int("rows_read", result.RowsRead),
		logging.Int("rows_rejected", result.RowsRejected),
		logging.Int("records_dispatched", result.RecordsDispatched),
		logging.Int("records_failed", result.RecordsFailed),
		logging.Int("batches", result.Batches),
		logging.Duration("duration", result.Duration))
	return result, nil
}

// stream reads every row and fans batches out with bounded parallelism. The
// returned error is a read failure that ends the file early; rows already
// dispatched stay dispatched.
func (b *BatchIntake) stream(ctx context.Context, rows service.RowReader, fileName string,
	screening types.ScreeningService, result *IntakeResult, logger *logging.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.options.Parallelism)

	mapper := RowMapper{CheckDigit: b.options.CheckDigit, Now: b.now}
	var dispatched, failed atomic.Int64
	batch := make([]entity.IntakeRecord, 0, b.options.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		out := &entity.Batch{
			BatchID:          fileName + "#" + strconv.Itoa(result.Batches),
			FileName:         fileName,
			Index:            result.Batches,
			ScreeningService: screening,
			Records:          batch,
		}
		result.Batches++
		batch = make([]entity.IntakeRecord, 0, b.options.BatchSize)

		g.Go(func() error {
			started := time.Now()
			if err := b.dispatcher.Dispatch(gctx, out); err != nil {
				failed.Add(int64(len(out.Records)))
				b.failBatch(ctx, out, err, logger)
				return nil
			}
			dispatched.Add(int64(len(out.Records)))
			b.metrics.RecordBatch("intake", time.Since(started))
			return nil
		})
	}

	var readErr error
	for {
		if err := ctx.Err(); err != nil {
			readErr = err
			break
		}

		raw, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		var rowErr *decoder.RowError
		if errors.As(err, &rowErr) {
			result.RowsRead++
			result.RowsRejected++
			b.rejectRow(ctx, fileName, screening, rowErr.Row, "", rowErr.Cause, logger)
			continue
		}
		if err != nil {
			readErr = common.ErrShape(err.Error())
			break
		}

		result.RowsRead++
		record, err := mapper.Map(raw)
		if err != nil {
			result.RowsRejected++
			var failure *RowFailure
			if errors.As(err, &failure) {
				b.rejectRow(ctx, fileName, screening, failure.Row, failure.Key, failure.Cause, logger)
			} else {
				b.rejectRow(ctx, fileName, screening, raw.Number, "", err, logger)
			}
			continue
		}

		b.metrics.RecordReceived(string(record.OperationKind))
		batch = append(batch, record)
		if len(batch) == b.options.BatchSize {
			flush()
		}
	}

	if readErr == nil {
		flush()
	}
	_ = g.Wait()

	result.RecordsDispatched = int(dispatched.Load())
	result.RecordsFailed = int(failed.Load())
	return readErr
}

func (b *BatchIntake) rejectRow(ctx context.Context, fileName string, screening types.ScreeningService,
	row int, key types.IdentityKey, cause error, logger *logging.Logger) {
	if err := b.exceptions.RowException(ctx, key, fileName, screening.Name, row, cause); err != nil {
		logger.Error("Failed to record row exception", logging.Int("row", row), logging.Error(err))
	}
}

// failBatch accounts for every record of a batch that could not be handed on
func (b *BatchIntake) failBatch(ctx context.Context, batch *entity.Batch, cause error, logger *logging.Logger) {
	logger.Error("Failed to dispatch batch",
		logging.Int("batch_index", batch.Index),
		logging.Int("records", len(batch.Records)),
		logging.Error(cause))
	for _, record := range batch.Records {
		if err := b.exceptions.SystemException(ctx, record, batch.FileName, batch.ScreeningService.Name, cause, true); err != nil {
			logger.Error("Failed to record dispatch exception",
				logging.String("identity_key", record.IdentityKey.String()),
				logging.Error(err))
		}
	}
}

// rejectOrDefer leaves the file in place for the next poll when err is
// transient and rejects it otherwise
func (b *BatchIntake) rejectOrDefer(ctx context.Context, src service.FileSource, result *IntakeResult,
	err error, logger *logging.Logger) (*IntakeResult, error) {
	if common.IsTransient(err) {
		logger.Warn("File deferred", logging.Error(err))
		b.metrics.RecordFile("deferred")
		return result, err
	}
	return b.reject(ctx, src, result, err, logger)
}

// reject quarantines the file and records one file-level exception
func (b *BatchIntake) reject(ctx context.Context, src service.FileSource, result *IntakeResult,
	cause error, logger *logging.Logger) (*IntakeResult, error) {
	logger.Error("File rejected", logging.Error(cause))
	b.metrics.RecordFile("quarantined")

	if err := b.exceptions.FileException(ctx, result.FileName, cause); err != nil {
		logger.Error("Failed to record file exception", logging.Error(err))
	}

	if err := src.Quarantine(ctx, result.FileName); err != nil {
		logger.Error("Failed to quarantine file", logging.Error(err))
	} else {
		result.Quarantined = true
		result.SourceConsumed = true
	}
	return result, cause
}
