package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	testutil "github.com/cohortmanager/platform/pkg/testing"
	"github.com/cohortmanager/platform/services/cohort-distribution/infrastructure/lock"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/exceptions"
	"github.com/cohortmanager/platform/shared/types"
)

const (
	retryTopic      = "cohort.retry"
	deadLetterTopic = "cohort.dlq"
	participantKey1 = types.IdentityKey("9434765919")
)

var breastScreening = types.ScreeningService{ID: "1", Name: "Breast Screening", Acronym: "BSS"}

type OrchestratorSuite struct {
	testutil.TestSuite
	exceptionStore *testutil.ExceptionStore
	participants   *memoryParticipants
	demographics   *memoryDemographics
	distributions  *memoryDistributions
	allocator      *stubAllocator
	validator      *stubValidator
	queue          *recordingQueue
	locker         *trackingLocker
	options        Options
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.TestSuite.SetupTest()
	s.exceptionStore = &testutil.ExceptionStore{}
	s.participants = newMemoryParticipants()
	s.demographics = &memoryDemographics{records: map[types.IdentityKey]entity.Demographic{
		participantKey1: {
			IdentityKey:  participantKey1,
			NamePrefix:   "Drs.",
			GivenName:    "Jane",
			FamilyName:   strings.Repeat("L", 40),
			AddressLine1: "1 Long Street",
			Postcode:     "BS1 4DJ",
			Email:        strings.Repeat("e", 40) + "@example.com",
			Gender:       7,
		},
	}}
	s.distributions = &memoryDistributions{participants: s.participants}
	s.allocator = &stubAllocator{provider: "BS SELECT"}
	s.validator = &stubValidator{}
	s.queue = &recordingQueue{}
	s.locker = &trackingLocker{inner: lock.NewLocal()}
	s.participants.lockHeld = s.locker.isHeld
	s.options = Options{
		MaxRetryAttempts: 3,
		RetryTopic:       retryTopic,
		DeadLetterTopic:  deadLetterTopic,
	}
}

func (s *OrchestratorSuite) orchestrator() *DistributionOrchestrator {
	return NewDistributionOrchestrator(Dependencies{
		Participants:  s.participants,
		Demographics:  s.demographics,
		Distributions: s.distributions,
		Allocator:     s.allocator,
		Validator:     s.validator,
		Locker:        s.locker,
		Queue:         s.queue,
		Exceptions:    exceptions.NewHandler(s.exceptionStore, s.Logger, s.Metrics),
	}, s.options, s.Logger, s.Metrics)
}

func request(kind types.OperationKind) entity.DistributionRequest {
	return entity.DistributionRequest{
		IdentityKey:      participantKey1,
		ScreeningService: breastScreening,
		OperationKind:    kind,
		FileName:         "BSS_-_BSSelect_20240101120000_n1.csv",
		Record:           entity.IntakeRecord{IdentityKey: participantKey1, OperationKind: kind},
	}
}

func (s *OrchestratorSuite) flag() types.ExceptionFlag {
	return s.participants.flag(participantKey1, breastScreening.ID)
}

func (s *OrchestratorSuite) TestDistributesTransformedRow() {
	s.options.ExtractedDefault = true

	outcome, err := s.orchestrator().Distribute(context.Background(), request(types.OperationNew))
	s.Require().NoError(err)
	s.Equal(OutcomeDistributed, outcome)

	rows := s.distributions.all()
	s.Require().Len(rows, 1)
	row := rows[0]
	s.Equal("DR", row.NamePrefix)
	s.Len(row.FamilyName, 35)
	s.Len(row.Email, 32)
	s.Equal(types.GenderNotSpecified, row.Gender)
	s.Equal("BS SELECT", row.ServiceProvider)
	s.Equal(types.OperationNew, row.RecordType)
	s.True(row.IsExtracted)
	s.NotZero(row.ParticipantID)
	s.Empty(s.exceptionStore.Records())
	s.Equal(types.ExceptionFlagNone, s.flag())
	s.Equal("CohortDistribution", s.participants.get(participantKey1, breastScreening.ID).BusinessRuleVersion)
}

func (s *OrchestratorSuite) TestExistingExceptionStopsDistribution() {
	s.participants.seed(participantKey1, breastScreening.ID, types.ExceptionFlagFatal)
	o := s.orchestrator()

	for i := 0; i < 2; i++ {
		outcome, err := o.Distribute(context.Background(), request(types.OperationAmended))
		s.Require().NoError(err)
		s.Equal(OutcomeException, outcome)
	}

	s.Empty(s.distributions.all())
	s.Equal(types.ExceptionFlagFatal, s.flag())

	fatal := s.exceptionStore.Fatal()
	s.Require().Len(fatal, 2)
	for _, e := range fatal {
		s.Equal(exceptions.RuleExistingException, e.RuleID)
		s.Equal("unable to add - existing exception", e.RuleDescription)
		s.Equal(participantKey1, e.IdentityKey)
	}
}

func (s *OrchestratorSuite) TestIgnoreSwitchBypassesExistingException() {
	s.options.IgnoreExistingExceptions = true
	s.participants.seed(participantKey1, breastScreening.ID, types.ExceptionFlagFatal)

	outcome, err := s.orchestrator().Distribute(context.Background(), request(types.OperationAmended))
	s.Require().NoError(err)
	s.Equal(OutcomeDistributed, outcome)

	s.Len(s.distributions.all(), 1)
	s.Empty(s.exceptionStore.Fatal())
	records := s.exceptionStore.Records()
	s.Require().Len(records, 1)
	s.Equal(exceptions.RuleExistingException, records[0].RuleID)
	s.False(records[0].Fatal)
	s.Equal(types.ExceptionFlagNone, s.flag())
}

func (s *OrchestratorSuite) TestFatalRuleStopsAndFlags() {
	s.validator.results = []types.RuleResult{
		{RuleName: "3.Postcode", Outcome: types.RulePass},
		{RuleName: "12.DateOfBirthInFuture", Outcome: types.RuleFailFatal},
	}

	outcome, err := s.orchestrator().Distribute(context.Background(), request(types.OperationNew))
	s.Require().NoError(err)
	s.Equal(OutcomeException, outcome)

	s.Empty(s.distributions.all())
	s.Equal(types.ExceptionFlagFatal, s.flag())
	fatal := s.exceptionStore.Fatal()
	s.Require().Len(fatal, 1)
	s.Equal(12, fatal[0].RuleID)
	s.Equal("DateOfBirthInFuture", fatal[0].RuleDescription)
	s.Equal(types.CategoryValidation, fatal[0].Category)
}

func (s *OrchestratorSuite) TestFatalRuleRecordedAsAuditUnderIgnoreSwitch() {
	s.options.IgnoreExistingExceptions = true
	s.participants.seed(participantKey1, breastScreening.ID, types.ExceptionFlagFatal)
	s.validator.results = []types.RuleResult{{RuleName: "12.DateOfBirthInFuture", Outcome: types.RuleFailFatal}}

	outcome, err := s.orchestrator().Distribute(context.Background(), request(types.OperationNew))
	s.Require().NoError(err)
	s.Equal(OutcomeDistributed, outcome)

	s.Len(s.distributions.all(), 1)
	s.Empty(s.exceptionStore.Fatal())
	s.Equal(types.ExceptionFlagFatal, s.flag())
}

func (s *OrchestratorSuite) TestNonFatalRuleProceeds() {
	s.validator.results = []types.RuleResult{{RuleName: "40.MissingEmail", Outcome: types.RuleFailNonFatal}}

	outcome, err := s.orchestrator().Distribute(context.Background(), request(types.OperationNew))
	s.Require().NoError(err)
	s.Equal(OutcomeDistributed, outcome)

	records := s.exceptionStore.Records()
	s.Require().Len(records, 1)
	s.False(records[0].Fatal)
	s.Equal(40, records[0].RuleID)
}

func (s *OrchestratorSuite) TestValidatesAgainstLatestRow() {
	o := s.orchestrator()
	for _, kind := range []types.OperationKind{types.OperationNew, types.OperationAmended, types.OperationAmended} {
		_, err := o.Distribute(context.Background(), request(kind))
		s.Require().NoError(err)
	}

	s.Require().Len(s.validator.existing, 3)
	s.Nil(s.validator.existing[0])
	s.Equal(int64(1), s.validator.existing[1].CohortDistributionID)
	s.Equal(int64(2), s.validator.existing[2].CohortDistributionID)
	s.Len(s.distributions.all(), 3)
}

func (s *OrchestratorSuite) TestTransientFailureGoesToRetry() {
	s.demographics.err = common.ErrExternalService("demographic", errors.New("503"))
	o := s.orchestrator()

	outcome, err := o.Distribute(context.Background(), request(types.OperationNew))
	s.Require().NoError(err)
	s.Equal(OutcomeRetry, outcome)

	retried := s.queue.on(retryTopic)
	s.Require().Len(retried, 1)
	s.Equal(1, retried[0].Attempt)
	s.Equal(types.ExceptionFlagTransient, s.flag())
	s.Empty(s.exceptionStore.Fatal())
	records := s.exceptionStore.Records()
	s.Require().Len(records, 1)
	s.Equal(exceptions.RuleTransient, records[0].RuleID)

	s.demographics.err = nil
	outcome, err = o.HandleRetry(context.Background(), retried[0])
	s.Require().NoError(err)
	s.Equal(OutcomeDistributed, outcome)
	s.Equal(types.ExceptionFlagNone, s.flag())
}

func (s *OrchestratorSuite) TestRetryEnqueueFailureIsReturned() {
	s.allocator.err = common.ErrTimeout("allocate")
	s.queue.err = errors.New("broker down")

	outcome, err := s.orchestrator().Distribute(context.Background(), request(types.OperationNew))
	s.Error(err)
	s.Empty(outcome)
	s.Empty(s.distributions.all())
}

func (s *OrchestratorSuite) TestExhaustedRetryIsDeadLettered() {
	req := request(types.OperationNew)
	req.Attempt = s.options.MaxRetryAttempts + 1
	s.participants.seed(participantKey1, breastScreening.ID, types.ExceptionFlagTransient)

	outcome, err := s.orchestrator().HandleRetry(context.Background(), req)
	s.Require().NoError(err)
	s.Equal(OutcomeException, outcome)

	s.Len(s.queue.on(deadLetterTopic), 1)
	s.Empty(s.distributions.all())
	s.Equal(types.ExceptionFlagFatal, s.flag())
	fatal := s.exceptionStore.Fatal()
	s.Require().Len(fatal, 1)
	s.Equal(exceptions.RuleRetriesExhausted, fatal[0].RuleID)
}

func (s *OrchestratorSuite) TestMissingParticipantIsTerminal() {
	req := request(types.OperationNew)
	req.IdentityKey = "9000000009"
	req.Record.IdentityKey = "9000000009"

	outcome, err := s.orchestrator().Distribute(context.Background(), req)
	s.Require().NoError(err)
	s.Equal(OutcomeException, outcome)

	fatal := s.exceptionStore.Fatal()
	s.Require().Len(fatal, 1)
	s.Equal(exceptions.RuleParticipantAbsent, fatal[0].RuleID)
	s.Equal(types.ExceptionFlagFatal, s.participants.flag("9000000009", breastScreening.ID))
}

func (s *OrchestratorSuite) TestTerminalCollaboratorErrorIsSystemException() {
	s.allocator.err = common.NewAppError(common.ErrCodeMissingRequired, "postcode is required for allocation")

	outcome, err := s.orchestrator().Distribute(context.Background(), request(types.OperationNew))
	s.Require().NoError(err)
	s.Equal(OutcomeException, outcome)

	s.Empty(s.queue.on(retryTopic))
	fatal := s.exceptionStore.Fatal()
	s.Require().Len(fatal, 1)
	s.Equal(exceptions.RuleSystem, fatal[0].RuleID)
	s.Equal(types.ExceptionFlagFatal, s.flag())
}

func (s *OrchestratorSuite) TestSameKeyIsSerialized() {
	o := s.orchestrator()
	fns := make([]func(), 8)
	for i := range fns {
		fns[i] = func() {
			_, err := o.Distribute(context.Background(), request(types.OperationAmended))
			s.NoError(err)
		}
	}
	testutil.RunConcurrently(s.T(), fns...)

	s.Equal(int32(1), s.validator.maxActive)
	s.Len(s.distributions.all(), 8)
}

func (s *OrchestratorSuite) TestFoldResultsVerdict() {
	o := s.orchestrator()
	req := request(types.OperationNew)

	verdict, fatalSeen, err := o.foldResults(context.Background(), req, []types.RuleResult{
		{RuleName: "3.Postcode", Outcome: types.RulePass},
	}, o.logger)
	s.Require().NoError(err)
	s.NoError(verdict)
	s.False(fatalSeen)

	verdict, fatalSeen, err = o.foldResults(context.Background(), req, []types.RuleResult{
		{RuleName: "40.MissingEmail", Outcome: types.RuleFailNonFatal},
	}, o.logger)
	s.Require().NoError(err)
	s.True(common.HasErrorCode(verdict, common.ErrCodeValidationFailed))
	s.False(fatalSeen)

	verdict, fatalSeen, err = o.foldResults(context.Background(), req, []types.RuleResult{
		{RuleName: "40.MissingEmail", Outcome: types.RuleFailNonFatal},
		{RuleName: "12.DateOfBirthInFuture", Outcome: types.RuleFailFatal},
	}, o.logger)
	s.Require().NoError(err)
	s.True(common.HasErrorCode(verdict, common.ErrCodeRuleFailed))
	s.Contains(verdict.Error(), "12.DateOfBirthInFuture")
	s.True(fatalSeen)
}

func (s *OrchestratorSuite) TestFatalRuleUnderIgnoreSwitchDoesNotBlock() {
	s.options.IgnoreExistingExceptions = true
	o := s.orchestrator()

	verdict, fatalSeen, err := o.foldResults(context.Background(), request(types.OperationNew), []types.RuleResult{
		{RuleName: "12.DateOfBirthInFuture", Outcome: types.RuleFailFatal},
	}, o.logger)
	s.Require().NoError(err)
	s.True(common.HasErrorCode(verdict, common.ErrCodeValidationFailed))
	s.True(fatalSeen)
}

func (s *OrchestratorSuite) TestUnknownRuleOutcomeIsTerminal() {
	s.validator.err = common.NewAppError(common.ErrCodeInvalidInput, "rules returned an unknown outcome")

	outcome, err := s.orchestrator().Distribute(context.Background(), request(types.OperationNew))
	s.Require().NoError(err)
	s.Equal(OutcomeException, outcome)

	s.Empty(s.distributions.all())
	s.Empty(s.queue.on(retryTopic))
	fatal := s.exceptionStore.Fatal()
	s.Require().Len(fatal, 1)
	s.Equal(exceptions.RuleSystem, fatal[0].RuleID)
	s.Equal(types.ExceptionFlagFatal, s.flag())
}

func (s *OrchestratorSuite) TestFlagsAreWrittenUnderKeyLock() {
	o := s.orchestrator()

	s.demographics.err = common.ErrExternalService("demographic", errors.New("503"))
	outcome, err := o.Distribute(context.Background(), request(types.OperationNew))
	s.Require().NoError(err)
	s.Equal(OutcomeRetry, outcome)

	s.demographics.err = nil
	s.allocator.err = common.NewAppError(common.ErrCodeMissingRequired, "postcode is required for allocation")
	outcome, err = o.Distribute(context.Background(), request(types.OperationAmended))
	s.Require().NoError(err)
	s.Equal(OutcomeException, outcome)

	exhausted := request(types.OperationAmended)
	exhausted.Attempt = s.options.MaxRetryAttempts + 1
	outcome, err = o.HandleRetry(context.Background(), exhausted)
	s.Require().NoError(err)
	s.Equal(OutcomeException, outcome)

	s.Equal(types.ExceptionFlagFatal, s.flag())
	s.Zero(s.participants.unlockedWrites)
	s.False(s.locker.isHeld())
}
