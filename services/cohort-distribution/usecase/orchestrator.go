package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/services/cohort-distribution/domain/repository"
	"github.com/cohortmanager/platform/services/cohort-distribution/domain/service"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/exceptions"
	"github.com/cohortmanager/platform/shared/types"
)

// Outcome is the terminal state one request reached
type Outcome string

const (
	OutcomeDistributed Outcome = "distributed"
	OutcomeException   Outcome = "exception"
	OutcomeRetry       Outcome = "retry"
)

// Options tunes the orchestrator
type Options struct {
	CallTimeout              time.Duration
	MaxRetryAttempts         int
	IgnoreExistingExceptions bool
	ExtractedDefault         bool
	Workflow                 string
	RetryTopic               string
	DeadLetterTopic          string
}

// Dependencies groups the stores and collaborators the orchestrator drives
type Dependencies struct {
	Participants  repository.ParticipantRepository
	Demographics  repository.DemographicReader
	Distributions repository.DistributionRepository
	Allocator     service.Allocator
	Validator     service.Validator
	Locker        service.KeyLocker
	Queue         service.Queue
	Exceptions    *exceptions.Handler
}

// DistributionOrchestrator turns admitted records into distribution rows
type DistributionOrchestrator struct {
	deps    Dependencies
	options Options
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewDistributionOrchestrator creates an orchestrator
func NewDistributionOrchestrator(deps Dependencies, options Options, logger *logging.Logger, metrics *metrics.Collector) *DistributionOrchestrator {
	if options.CallTimeout <= 0 {
		options.CallTimeout = 10 * time.Second
	}
	if options.Workflow == "" {
		options.Workflow = "CohortDistribution"
	}
	return &DistributionOrchestrator{
		deps:    deps,
		options: options,
		logger:  logger.WithComponent("distribution-orchestrator"),
		metrics: metrics,
	}
}

// Distribute runs one request to an outcome. Calls for the same participant
// are serialized, including the exception flag written for a retry or a
// terminal failure. A returned error means the outcome could not be recorded
// and the request must be delivered again.
func (o *DistributionOrchestrator) Distribute(ctx context.Context, req entity.DistributionRequest) (Outcome, error) {
	start := time.Now()
	ctx = logging.ContextWithFileName(ctx, req.FileName)
	logger := o.logger.WithContext(ctx).WithRecord(req.IdentityKey.String(), req.FileName)

	outcome, err := o.distributeLocked(ctx, req, logger)
	if outcome != "" {
		o.metrics.RecordDistribution(string(outcome), time.Since(start))
	}
	return outcome, err
}

// HandleRetry re-runs a request from the retry topic, or dead-letters it
// once its attempts are exhausted
func (o *DistributionOrchestrator) HandleRetry(ctx context.Context, req entity.DistributionRequest) (Outcome, error) {
	if req.Attempt <= o.options.MaxRetryAttempts {
		return o.Distribute(ctx, req)
	}

	logger := o.logger.WithContext(ctx).WithRecord(req.IdentityKey.String(), req.FileName)
	unlock, err := o.acquire(ctx, req)
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := o.deps.Queue.Enqueue(ctx, req, o.options.DeadLetterTopic); err != nil {
		return "", common.WrapError(err, common.ErrCodeExternalService, "failed to dead-letter request")
	}

	description := fmt.Sprintf("retries exhausted after %d attempts", req.Attempt-1)
	if err := o.deps.Exceptions.RecordException(ctx, req.Record, req.FileName, req.ScreeningService.Name,
		exceptions.RuleRetriesExhausted, description); err != nil {
		return "", err
	}
	o.setFlag(ctx, req, types.ExceptionFlagFatal, logger)
	o.metrics.RecordRetry("exhausted")
	logger.Warn("Request dead-lettered", logging.Int("attempt", req.Attempt))
	return OutcomeException, nil
}

func (o *DistributionOrchestrator) acquire(ctx context.Context, req entity.DistributionRequest) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, o.options.CallTimeout)
	defer cancel()
	unlock, err := o.deps.Locker.Acquire(lockCtx, req.ScreeningService.ID+":"+req.IdentityKey.String())
	if err != nil {
		return nil, common.ErrTransient("acquire key lock", err)
	}
	return unlock, nil
}

// distributeLocked runs the pipeline and routes its failure while the key
// lock is held. Only a lock that cannot be taken is routed without it.
func (o *DistributionOrchestrator) distributeLocked(ctx context.Context, req entity.DistributionRequest, logger *logging.Logger) (Outcome, error) {
	unlock, err := o.acquire(ctx, req)
	if err != nil {
		return o.retry(ctx, req, err, logger)
	}
	defer unlock()

	outcome, err := o.distribute(ctx, req, logger)
	if outcome != "" {
		return outcome, err
	}
	if common.IsTransient(err) {
		return o.retry(ctx, req, err, logger)
	}
	return o.terminal(ctx, req, err, logger)
}

// distribute runs the pipeline steps. An empty outcome means err still has
// to be routed to retry or to a terminal exception. An error next to an
// outcome means the outcome was reached but its exception row was not written.
func (o *DistributionOrchestrator) distribute(ctx context.Context, req entity.DistributionRequest, logger *logging.Logger) (Outcome, error) {
	// Retrieve
	pm, err := o.upsertManagement(ctx, req)
	if err != nil {
		return "", err
	}

	demographic, err := o.lookupDemographic(ctx, req.IdentityKey)
	if err != nil {
		return "", err
	}
	if demographic == nil {
		o.setFlag(ctx, req, types.ExceptionFlagFatal, logger)
		return OutcomeException, o.deps.Exceptions.RecordException(ctx, req.Record, req.FileName,
			req.ScreeningService.Name, exceptions.RuleParticipantAbsent, "participant not found")
	}

	// Pre-check
	if pm.ExceptionFlag.Blocks() {
		if !o.options.IgnoreExistingExceptions {
			return OutcomeException, o.deps.Exceptions.ExistingException(ctx, req, false)
		}
		if err := o.deps.Exceptions.ExistingException(ctx, req, true); err != nil {
			logger.Warn("Failed to record bypassed exception", logging.Error(err))
		}
	}

	// Allocate
	provider, err := o.allocate(ctx, req, demographic.Postcode)
	if err != nil {
		return "", err
	}

	// Validate
	candidate := candidateRow(pm, demographic, req, provider)
	existing, err := o.deps.Distributions.Latest(ctx, req.IdentityKey, req.ScreeningService.ID)
	if err != nil {
		return "", err
	}
	results, err := o.validate(ctx, &candidate, existing)
	if err != nil {
		return "", err
	}
	verdict, fatalSeen, err := o.foldResults(ctx, req, results, logger)
	if common.HasErrorCode(verdict, common.ErrCodeRuleFailed) {
		o.setFlag(ctx, req, types.ExceptionFlagFatal, logger)
		logger.Warn("Distribution blocked", logging.Error(verdict))
		return OutcomeException, err
	}
	if verdict != nil {
		logger.Info("Distributing despite failed rules", logging.Error(verdict))
	}

	// Transform and persist
	row := Transform(candidate)
	row.IsExtracted = o.options.ExtractedDefault
	if err := o.deps.Distributions.Commit(ctx, &row, !fatalSeen); err != nil {
		return "", err
	}

	o.metrics.RecordDistributed(req.ScreeningService.Name)
	logger.Info("Record distributed",
		logging.Int64("cohort_distribution_id", row.CohortDistributionID),
		logging.String("service_provider", row.ServiceProvider),
		logging.String("record_type", string(row.RecordType)),
	)
	return OutcomeDistributed, nil
}

func (o *DistributionOrchestrator) upsertManagement(ctx context.Context, req entity.DistributionRequest) (*entity.ParticipantManagement, error) {
	return o.deps.Participants.UpsertManagement(ctx, &entity.ParticipantManagement{
		IdentityKey:          req.IdentityKey,
		ScreeningID:          req.ScreeningService.ID,
		RecordType:           req.OperationKind,
		EligibilityFlag:      req.OperationKind != types.OperationRemoved,
		ReasonForRemoval:     req.Record.ReasonForRemoval,
		ReasonForRemovalFrom: req.Record.ReasonForRemovalFrom,
		BusinessRuleVersion:  o.options.Workflow,
	})
}

func (o *DistributionOrchestrator) lookupDemographic(ctx context.Context, key types.IdentityKey) (*entity.Demographic, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.options.CallTimeout)
	defer cancel()
	d, err := o.deps.Demographics.Get(callCtx, key)
	if err != nil {
		return nil, common.ErrTransient("demographic lookup", err)
	}
	return d, nil
}

func (o *DistributionOrchestrator) allocate(ctx context.Context, req entity.DistributionRequest, postcode string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.options.CallTimeout)
	defer cancel()
	provider, err := o.deps.Allocator.Allocate(callCtx, req.IdentityKey, req.ScreeningService.Acronym, postcode)
	if err != nil {
		if common.IsTransient(err) {
			return "", common.ErrTransient("allocate service provider", err)
		}
		return "", err
	}
	return provider, nil
}

func (o *DistributionOrchestrator) validate(ctx context.Context, candidate, existing *entity.CohortDistribution) ([]types.RuleResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.options.CallTimeout)
	defer cancel()
	results, err := o.deps.Validator.Validate(callCtx, candidate, existing, o.options.Workflow)
	if err != nil && common.IsTransient(err) {
		return nil, common.ErrTransient("validate", err)
	}
	return results, err
}

// foldResults writes one exception per failed rule and folds the outcomes
// into a verdict: nil when every rule passed, RULE_FAILED when a fatal
// failure stops distribution, VALIDATION_FAILED when failures were recorded
// but distribution may proceed. fatalSeen reports a fatal outcome even when
// the ignore switch let it through. err is set when a blocking exception
// could not be written.
func (o *DistributionOrchestrator) foldResults(ctx context.Context, req entity.DistributionRequest, results []types.RuleResult, logger *logging.Logger) (verdict error, fatalSeen bool, err error) {
	var failed []string
	for _, result := range results {
		if !result.Failed() {
			continue
		}
		failed = append(failed, result.RuleName)
		fatal := result.Fatal() && !o.options.IgnoreExistingExceptions
		if result.Fatal() {
			fatalSeen = true
		}
		if fatal && verdict == nil {
			verdict = common.ErrRuleFailed(result.RuleName)
		}
		if werr := o.deps.Exceptions.ValidationException(ctx, req, result, fatal); werr != nil {
			if fatal {
				err = werr
			} else {
				logger.Warn("Failed to record validation exception", logging.String("rule", result.RuleName), logging.Error(werr))
			}
		}
	}

	if verdict == nil && len(failed) > 0 {
		verdict = common.ErrValidationFailed(strings.Join(failed, ", "))
	}
	if appErr := common.GetAppError(verdict); appErr != nil {
		o.metrics.RecordError(string(appErr.Code), "distribution-orchestrator")
	}
	return verdict, fatalSeen, err
}

// retry parks a request on the retry topic and marks the participant
func (o *DistributionOrchestrator) retry(ctx context.Context, req entity.DistributionRequest, cause error, logger *logging.Logger) (Outcome, error) {
	next := req
	next.Attempt = req.Attempt + 1
	if err := o.deps.Queue.Enqueue(ctx, next, o.options.RetryTopic); err != nil {
		logger.Error("Failed to enqueue retry", logging.Error(err), logging.String("cause", cause.Error()))
		return "", common.WrapError(err, common.ErrCodeExternalService, "failed to enqueue retry")
	}

	if err := o.deps.Exceptions.SystemException(ctx, req.Record, req.FileName, req.ScreeningService.Name, cause, false); err != nil {
		logger.Warn("Failed to record transient exception", logging.Error(err))
	}
	o.setFlag(ctx, req, types.ExceptionFlagTransient, logger)
	o.metrics.RecordRetry("transient")
	logger.Warn("Distribution deferred to retry",
		logging.Int("attempt", next.Attempt),
		logging.Error(cause),
	)
	return OutcomeRetry, nil
}

// terminal records a failure that no retry can fix
func (o *DistributionOrchestrator) terminal(ctx context.Context, req entity.DistributionRequest, cause error, logger *logging.Logger) (Outcome, error) {
	if err := o.deps.Exceptions.SystemException(ctx, req.Record, req.FileName, req.ScreeningService.Name, cause, true); err != nil {
		return "", err
	}
	o.setFlag(ctx, req, types.ExceptionFlagFatal, logger)
	return OutcomeException, nil
}

func (o *DistributionOrchestrator) setFlag(ctx context.Context, req entity.DistributionRequest, flag types.ExceptionFlag, logger *logging.Logger) {
	if err := o.deps.Participants.SetExceptionFlag(ctx, req.IdentityKey, req.ScreeningService.ID, flag); err != nil {
		logger.Warn("Failed to set exception flag", logging.Int("flag", int(flag)), logging.Error(err))
	}
}
