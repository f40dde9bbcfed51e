package messaging

import (
	"context"
	"time"

	"github.com/cohortmanager/platform/services/cohort-distribution/usecase"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/messaging/kafka"
)

// Orchestrator is the use case the distribution consumers drive
type Orchestrator interface {
	Distribute(ctx context.Context, req entity.DistributionRequest) (usecase.Outcome, error)
	HandleRetry(ctx context.Context, req entity.DistributionRequest) (usecase.Outcome, error)
}

// NewDistributionHandler feeds distribution requests to the orchestrator
func NewDistributionHandler(orchestrator Orchestrator) kafka.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		req, err := decodeRequest(msg)
		if err != nil {
			return err
		}
		_, err = orchestrator.Distribute(ctx, req)
		return err
	}
}

// Backoff spaces out retries of one request. The delay doubles per attempt
// up to Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns how long after publication attempt may run
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// NewRetryHandler waits out the backoff of each retried request before
// handing it back to the orchestrator
func NewRetryHandler(orchestrator Orchestrator, backoff Backoff, now func() time.Time) kafka.Handler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, msg kafka.Message) error {
		req, err := decodeRequest(msg)
		if err != nil {
			return err
		}

		if wait := msg.Time.Add(backoff.Delay(req.Attempt)).Sub(now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		_, err = orchestrator.HandleRetry(ctx, req)
		return err
	}
}

func decodeRequest(msg kafka.Message) (entity.DistributionRequest, error) {
	var req entity.DistributionRequest
	if err := msg.Decode(&req); err != nil {
		return req, common.WrapError(err, common.ErrCodeInvalidInput, "malformed distribution request")
	}
	if req.IdentityKey.IsZero() || !req.ScreeningService.Valid() {
		return req, common.ErrShape("distribution request lacks identity key or screening service")
	}
	if attempt := msg.Attempt(); attempt > req.Attempt {
		req.Attempt = attempt
	}
	return req, nil
}
