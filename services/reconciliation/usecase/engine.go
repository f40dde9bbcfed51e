package usecase

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/services/reconciliation/domain/repository"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
)

// Result is the snapshot one reconciliation run compared
type Result struct {
	From        time.Time `json:"from"`
	Expected    int       `json:"expected"`
	Distributed int       `json:"distributed"`
	Excepted    int       `json:"excepted"`
	Processed   int       `json:"processed"`
	Matched     bool      `json:"matched"`
}

// ReconciliationEngine compares the records announced by inbound files with
// the records that reached an outcome. It only reads and holds no locks.
type ReconciliationEngine struct {
	metrics       repository.MetricReader
	exceptions    repository.ExceptionReader
	distributions repository.DistributionCounter
	readTimeout   time.Duration
	logger        *logging.Logger
	collector     *metrics.Collector
}

// NewReconciliationEngine creates an engine
func NewReconciliationEngine(
	metricReader repository.MetricReader,
	exceptionReader repository.ExceptionReader,
	distributions repository.DistributionCounter,
	readTimeout time.Duration,
	logger *logging.Logger,
	collector *metrics.Collector,
) *ReconciliationEngine {
	if readTimeout <= 0 {
		readTimeout = time.Minute
	}
	return &ReconciliationEngine{
		metrics:       metricReader,
		exceptions:    exceptionReader,
		distributions: distributions,
		readTimeout:   readTimeout,
		logger:        logger.WithComponent("reconciliation"),
		collector:     collector,
	}
}

// RunReconciliation reports whether the run completed. A mismatch still
// completes; only a failed read does not.
func (e *ReconciliationEngine) RunReconciliation(ctx context.Context, from time.Time) bool {
	_, err := e.Reconcile(ctx, from)
	return err == nil
}

// Reconcile compares expected and processed counts since from and logs the
// verdict
func (e *ReconciliationEngine) Reconcile(ctx context.Context, from time.Time) (*Result, error) {
	logger := e.logger.WithContext(ctx).WithFields(logging.Time("from", from))

	readCtx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	var (
		inbound     []entity.InboundMetric
		excepted    int
		distributed int
	)
	g, gctx := errgroup.WithContext(readCtx)
	g.Go(func() error {
		var err error
		inbound, err = e.metrics.ListSince(gctx, from)
		return wrapRead(err, "inbound metrics")
	})
	g.Go(func() error {
		var err error
		excepted, err = e.exceptions.CountFatalKeysSince(gctx, from)
		return wrapRead(err, "exceptions")
	})
	g.Go(func() error {
		var err error
		distributed, err = e.distributions.CountSince(gctx, from)
		return wrapRead(err, "distribution rows")
	})
	if err := g.Wait(); err != nil {
		logger.Error("Reconciliation could not read its inputs", logging.Error(err))
		e.collector.RecordError("reconciliation_read", "reconciliation")
		return nil, err
	}

	result := &Result{
		From:        from,
		Expected:    ExpectedRecords(inbound),
		Distributed: distributed,
		Excepted:    excepted,
	}
	result.Processed = result.Distributed + result.Excepted
	result.Matched = result.Expected == result.Processed

	fields := []logging.Field{
		logging.Int("expected", result.Expected),
		logging.Int("distributed", result.Distributed),
		logging.Int("excepted", result.Excepted),
	}
	if result.Matched {
		logger.Info(fmt.Sprintf("Expected Records %d equaled Records Processed %d", result.Expected, result.Processed), fields...)
		e.collector.RecordReconciliation("match", result.Expected, result.Processed)
	} else {
		logger.Critical(fmt.Sprintf("Expected Records %d Didn't equal Records Processed %d", result.Expected, result.Processed),
			append(fields, logging.String("error_code", string(common.ErrCodeReconciliationMismatch)))...)
		e.collector.RecordReconciliation("mismatch", result.Expected, result.Processed)
	}
	return result, nil
}

// ExpectedRecords sums the claimed counts of audited inbound files
func ExpectedRecords(inbound []entity.InboundMetric) int {
	total := 0
	for _, m := range inbound {
		if m.ProcessName == entity.AuditProcessName {
			total += m.RecordCount
		}
	}
	return total
}

func wrapRead(err error, what string) error {
	if err == nil {
		return nil
	}
	return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to read "+what)
}
