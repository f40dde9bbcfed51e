package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	m.RegisterRoutes(router)
	return router
}

func TestLivenessIgnoresReadinessFailures(t *testing.T) {
	m := NewManager("intake", "test", zaptest.NewLogger(t))
	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "process", Type: CheckTypeLiveness}, AliveCheck()))
	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "postgres", Type: CheckTypeReadiness, Critical: true},
		PingCheck("postgres", func(context.Context) error { return errors.New("refused") })))

	router := newRouter(m)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body OverallHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Equal(t, "refused", body.Checks["postgres"].Error)
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager("intake", "test", nil)
	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "redis"},
		PingCheck("redis", func(context.Context) error { return errors.New("timeout") })))

	health := m.Evaluate(context.Background(), "")
	assert.Equal(t, StatusDegraded, health.Status)
}

func TestCheckTimeout(t *testing.T) {
	m := NewManager("intake", "test", nil)
	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "slow", Timeout: 10 * time.Millisecond, Critical: true},
		func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		}))

	health := m.Evaluate(context.Background(), CheckTypeReadiness)
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Equal(t, "Check timed out", health.Checks["slow"].Message)
}

func TestRegisterCheckValidation(t *testing.T) {
	m := NewManager("intake", "test", nil)
	assert.Error(t, m.RegisterCheck(CheckConfig{}, AliveCheck()))
	assert.Error(t, m.RegisterCheck(CheckConfig{Name: "x"}, nil))
}
