package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeLiveness  CheckType = "liveness"
	CheckTypeReadiness CheckType = "readiness"
)

// Check represents a health check function
type Check func(context.Context) CheckResult

// CheckResult represents the result of a health check
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// CheckConfig represents configuration for a health check
type CheckConfig struct {
	Name     string
	Type     CheckType
	Timeout  time.Duration
	Interval time.Duration
	Critical bool
}

// Manager runs registered checks and serves them over HTTP
type Manager struct {
	serviceName string
	version     string
	startTime   time.Time
	logger      *zap.Logger

	checks map[string]*healthCheck
	mutex  sync.RWMutex
}

type healthCheck struct {
	config     CheckConfig
	check      Check
	lastRun    time.Time
	lastResult CheckResult
	mu         sync.Mutex
}

// OverallHealth represents the overall health status
type OverallHealth struct {
	Status    Status                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// NewManager creates a new health check manager
func NewManager(serviceName, version string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		logger:      logger,
		checks:      make(map[string]*healthCheck),
	}
}

// RegisterCheck registers a new health check
func (m *Manager) RegisterCheck(config CheckConfig, check Check) error {
	if config.Name == "" {
		return fmt.Errorf("check name is required")
	}
	if check == nil {
		return fmt.Errorf("check function is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Type == "" {
		config.Type = CheckTypeReadiness
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.checks[config.Name] = &healthCheck{config: config, check: check}

	m.logger.Info("Health check registered",
		zap.String("name", config.Name),
		zap.String("type", string(config.Type)),
		zap.Bool("critical", config.Critical),
	)

	return nil
}

// Evaluate runs every check of the given type. An empty type runs all checks.
func (m *Manager) Evaluate(ctx context.Context, checkType CheckType) *OverallHealth {
	m.mutex.RLock()
	selected := make([]*healthCheck, 0, len(m.checks))
	for _, hc := range m.checks {
		if checkType == "" || hc.config.Type == checkType {
			selected = append(selected, hc)
		}
	}
	m.mutex.RUnlock()

	results := make(map[string]CheckResult, len(selected))
	critical := make(map[string]bool, len(selected))
	for _, hc := range selected {
		results[hc.config.Name] = m.runCheck(ctx, hc)
		critical[hc.config.Name] = hc.config.Critical
	}

	return &OverallHealth{
		Status:    calculateOverallStatus(results, critical),
		Service:   m.serviceName,
		Version:   m.version,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    results,
	}
}

func (m *Manager) runCheck(ctx context.Context, hc *healthCheck) CheckResult {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.config.Interval > 0 && time.Since(hc.lastRun) < hc.config.Interval {
		return hc.lastResult
	}

	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, hc.config.Timeout)
	defer cancel()

	resultChan := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- CheckResult{
					Status:  StatusUnhealthy,
					Message: fmt.Sprintf("Check panicked: %v", r),
				}
			}
		}()
		resultChan <- hc.check(checkCtx)
	}()

	var result CheckResult
	select {
	case result = <-resultChan:
	case <-checkCtx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "Check timed out",
			Error:   checkCtx.Err().Error(),
		}
	}
	result.Timestamp = time.Now()
	result.Duration = time.Since(start)

	hc.lastRun = time.Now()
	hc.lastResult = result
	return result
}

func calculateOverallStatus(results map[string]CheckResult, critical map[string]bool) Status {
	if len(results) == 0 {
		return StatusHealthy
	}

	degraded := false
	for name, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			if critical[name] {
				return StatusUnhealthy
			}
			degraded = true
		case StatusDegraded:
			degraded = true
		}
	}

	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// RegisterRoutes mounts /health, /health/live and /health/ready
func (m *Manager) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/health")
	group.GET("", m.handle(""))
	group.GET("/live", m.handle(CheckTypeLiveness))
	group.GET("/ready", m.handle(CheckTypeReadiness))
}

func (m *Manager) handle(checkType CheckType) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		health := m.Evaluate(ctx, checkType)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// PingCheck adapts any context-aware ping into a check
func PingCheck(name string, ping func(context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s is unreachable", name),
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%s is healthy", name),
		}
	}
}

// AliveCheck always reports healthy while the process can serve requests
func AliveCheck() Check {
	return func(context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy, Message: "process is running"}
	}
}
