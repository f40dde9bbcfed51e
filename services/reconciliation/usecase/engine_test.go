package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"

	testutil "github.com/cohortmanager/platform/pkg/testing"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

var windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type memoryMetrics struct {
	metrics []entity.InboundMetric
	err     error
}

func (m *memoryMetrics) ListSince(_ context.Context, from time.Time) ([]entity.InboundMetric, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []entity.InboundMetric
	for _, metric := range m.metrics {
		if !metric.ReceivedDateTime.Before(from) {
			out = append(out, metric)
		}
	}
	return out, nil
}

type fixedCounter struct {
	count int
	err   error
}

func (c *fixedCounter) CountSince(context.Context, time.Time) (int, error) {
	return c.count, c.err
}

type memoryRunState struct {
	mu   sync.Mutex
	last map[string]time.Time
	err  error
}

func (s *memoryRunState) LastRun(_ context.Context, job string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	at, ok := s.last[job]
	return at, ok, nil
}

func (s *memoryRunState) SetLastRun(_ context.Context, job string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = map[string]time.Time{}
	}
	s.last[job] = at
	return nil
}

type EngineSuite struct {
	testutil.TestSuite
	metricReader   *memoryMetrics
	exceptionStore *testutil.ExceptionStore
	counter        *fixedCounter
	engine         *ReconciliationEngine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.TestSuite.SetupTest()
	s.metricReader = &memoryMetrics{}
	s.exceptionStore = &testutil.ExceptionStore{}
	s.counter = &fixedCounter{}
	s.engine = NewReconciliationEngine(s.metricReader, s.exceptionStore, s.counter, time.Second, s.Logger, s.Metrics)
}

func (s *EngineSuite) addMetric(count int, process string, at time.Time) {
	s.metricReader.metrics = append(s.metricReader.metrics, entity.InboundMetric{
		MetricAuditID:    fmt.Sprintf("m-%d", len(s.metricReader.metrics)),
		ProcessName:      process,
		ReceivedDateTime: at,
		Source:           "file.csv",
		RecordCount:      count,
	})
}

func (s *EngineSuite) addException(key string, fatal bool) {
	s.Require().NoError(s.exceptionStore.Insert(context.Background(), &entity.ExceptionRecord{
		IdentityKey: types.IdentityKey(key),
		Fatal:       fatal,
		DateCreated: windowStart.Add(time.Hour),
	}))
}

func (s *EngineSuite) addFatalKeys(n int) {
	for i := 0; i < n; i++ {
		s.addException(fmt.Sprintf("90000%05d", i), true)
	}
}

func (s *EngineSuite) TestMatchLogsInfo() {
	s.addMetric(125, entity.AuditProcessName, windowStart.Add(time.Minute))
	s.counter.count = 100
	s.addFatalKeys(25)

	s.True(s.engine.RunReconciliation(context.Background(), windowStart))

	s.Contains(s.LogMessages(zapcore.InfoLevel), "Expected Records 125 equaled Records Processed 125")
	s.Empty(s.LogMessages(zapcore.ErrorLevel))
}

func (s *EngineSuite) TestMismatchLogsCriticalAndStillCompletes() {
	s.addMetric(125, entity.AuditProcessName, windowStart.Add(time.Minute))
	s.counter.count = 150
	s.addFatalKeys(25)

	s.True(s.engine.RunReconciliation(context.Background(), windowStart))

	entries := s.Logs.FilterMessage("Expected Records 125 Didn't equal Records Processed 175").All()
	s.Require().Len(entries, 1)
	s.Equal(zapcore.ErrorLevel, entries[0].Level)
	s.Equal("critical", entries[0].ContextMap()["severity"])
}

func (s *EngineSuite) TestExceptionsCollapsePerParticipant() {
	s.addMetric(60, entity.AuditProcessName, windowStart)
	s.addMetric(40, entity.AuditProcessName, windowStart.Add(time.Hour))
	s.addMetric(999, "OtherProcess", windowStart)
	s.addMetric(500, entity.AuditProcessName, windowStart.Add(-time.Second))
	s.counter.count = 97

	s.addException("9434765919", true)
	s.addException("9434765919", true)
	s.addException("9434765870", true)
	s.addException("9000000009", true)
	s.addException("9000000017", false)
	s.addException("", true)

	result, err := s.engine.Reconcile(context.Background(), windowStart)
	s.Require().NoError(err)
	s.Equal(100, result.Expected)
	s.Equal(3, result.Excepted)
	s.Equal(100, result.Processed)
	s.True(result.Matched)
}

func (s *EngineSuite) TestExceptionsBeforeWindowDoNotCount() {
	s.Require().NoError(s.exceptionStore.Insert(context.Background(), &entity.ExceptionRecord{
		IdentityKey: "9434765919",
		Fatal:       true,
		DateCreated: windowStart.Add(-time.Minute),
	}))
	s.addException("9434765870", true)

	result, err := s.engine.Reconcile(context.Background(), windowStart)
	s.Require().NoError(err)
	s.Equal(1, result.Excepted)
}

func (s *EngineSuite) TestReadFailureReturnsFalse() {
	s.counter.err = errors.New("connection refused")
	s.False(s.engine.RunReconciliation(context.Background(), windowStart))
	s.Contains(s.LogMessages(zapcore.ErrorLevel), "Reconciliation could not read its inputs")

	s.counter.err = nil
	s.exceptionStore.Err = errors.New("timeout")
	s.False(s.engine.RunReconciliation(context.Background(), windowStart))
}

func (s *EngineSuite) TestConcurrentRunsAgree() {
	s.addMetric(10, entity.AuditProcessName, windowStart)
	s.counter.count = 10

	results := make([]bool, 6)
	fns := make([]func(), len(results))
	for i := range fns {
		i := i
		fns[i] = func() { results[i] = s.engine.RunReconciliation(context.Background(), windowStart) }
	}
	testutil.RunConcurrently(s.T(), fns...)

	for _, ok := range results {
		s.True(ok)
	}
}

func (s *EngineSuite) TestSchedulerAdvancesWindow() {
	state := &memoryRunState{}
	scheduler := NewScheduler(s.engine, state, time.Hour, 24*time.Hour, s.Logger)
	now := windowStart.Add(48 * time.Hour)
	scheduler.now = func() time.Time { return now }

	s.Equal(now.Add(-24*time.Hour), scheduler.From(context.Background()))
	s.True(scheduler.RunOnce(context.Background()))
	s.Equal(now, state.last[JobName])

	now = now.Add(time.Hour)
	s.Equal(now.Add(-time.Hour), scheduler.From(context.Background()))

	s.counter.err = errors.New("down")
	s.False(scheduler.RunOnce(context.Background()))
	s.Equal(now.Add(-time.Hour), state.last[JobName])
}

func (s *EngineSuite) TestSchedulerFallsBackWhenStateUnreadable() {
	state := &memoryRunState{err: errors.New("redis down")}
	scheduler := NewScheduler(s.engine, state, time.Hour, 24*time.Hour, s.Logger)
	now := windowStart
	scheduler.now = func() time.Time { return now }

	s.Equal(now.Add(-24*time.Hour), scheduler.From(context.Background()))
}
