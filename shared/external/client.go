package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/shared/common"
)

// Client is the shared HTTP plumbing behind every collaborator service:
// a per-call timeout, client-side rate limiting and a circuit breaker
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewClient builds a client for one collaborator
func NewClient(name string, config common.EndpointConfig, logger *zap.Logger, collector *metrics.Collector) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = 5
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		name:    name,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("collaborator", name)),
		metrics: collector,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return c
}

// statusError carries a non-2xx response that is the caller's to interpret
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// do sends a JSON request and decodes a JSON response into out. It returns
// the HTTP status so callers can treat 404 as "absent".
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.record("rate_limited")
		return 0, common.ErrRateLimited().WithCause(err)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, common.WrapError(err, common.ErrCodeInternal, "failed to marshal request")
		}
	}

	var status int
	var rejected string
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}

		switch {
		case status >= 500:
			return nil, &statusError{status: status, body: string(data)}
		case status == http.StatusNotFound || status == http.StatusNoContent:
			return nil, nil
		case status >= 400:
			// client errors are not collaborator failures and must not trip the breaker
			rejected = string(data)
			return nil, nil
		}

		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	if err != nil {
		c.record("error")
		c.logger.Warn("Collaborator call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return status, common.ErrTimeout(c.name).WithCause(err)
		}
		return status, common.ErrExternalService(c.name, err)
	}

	if status >= 400 && status != http.StatusNotFound {
		c.record("rejected")
		return status, common.NewAppErrorWithDetails(common.ErrCodeInvalidInput,
			fmt.Sprintf("%s rejected request", c.name), fmt.Sprintf("status %d: %s", status, rejected))
	}

	c.record("success")
	return status, nil
}

func (c *Client) record(status string) {
	if c.metrics != nil {
		c.metrics.RecordExternalCall(c.name, status)
	}
}
