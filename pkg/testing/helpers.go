package testing

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/pkg/metrics"
)

// TestSuite provides common testing utilities
type TestSuite struct {
	suite.Suite
	Logger  *logging.Logger
	Logs    *observer.ObservedLogs
	Metrics *metrics.Collector
	TempDir string
}

// SetupTest gives every test a fresh logger, log observer, metrics registry
// and temp directory
func (ts *TestSuite) SetupTest() {
	core, logs := observer.New(zap.DebugLevel)
	testLogger := zaptest.NewLogger(ts.T(), zaptest.WrapOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, core)
	})))

	ts.Logger = logging.FromZap(testLogger, "test")
	ts.Logs = logs
	ts.Metrics = metrics.NewCollector("cohort_test")
	ts.TempDir = ts.T().TempDir()
}

// CreateTempFile creates a file under the test temp directory
func (ts *TestSuite) CreateTempFile(name string, content []byte) string {
	filePath := filepath.Join(ts.TempDir, name)
	require.NoError(ts.T(), os.MkdirAll(filepath.Dir(filePath), 0o755))
	require.NoError(ts.T(), os.WriteFile(filePath, content, 0o644))
	return filePath
}

// LogMessages returns the messages logged at or above the given level
func (ts *TestSuite) LogMessages(level zapcore.Level) []string {
	var messages []string
	for _, entry := range ts.Logs.All() {
		if entry.Level >= level {
			messages = append(messages, entry.Message)
		}
	}
	return messages
}

// RunConcurrently runs fns in parallel and waits for all of them
func RunConcurrently(t *testing.T, fns ...func()) {
	t.Helper()
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func(f func()) {
			defer wg.Done()
			f()
		}(fn)
	}
	wg.Wait()
}

// AssertEventuallyTrue polls condition until it holds or timeout expires
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, condition, timeout, 5*time.Millisecond, msgAndArgs...)
}
