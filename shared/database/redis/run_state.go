package redis

import (
	"context"
	"errors"
	"time"
)

// RunState remembers when a scheduled job last completed
type RunState struct {
	client *Client
}

// NewRunState creates a run state store
func NewRunState(client *Client) *RunState {
	return &RunState{client: client}
}

// LastRun returns the last completion time of job. ok is false when the job
// never ran.
func (s *RunState) LastRun(ctx context.Context, job string) (time.Time, bool, error) {
	data, err := s.client.Get(ctx, s.client.Key("last-run", job))
	if errors.Is(err, ErrMiss) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	var at time.Time
	if err := at.UnmarshalText(data); err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// SetLastRun records the completion time of job
func (s *RunState) SetLastRun(ctx context.Context, job string, at time.Time) error {
	data, err := at.UTC().MarshalText()
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.client.Key("last-run", job), data, 0)
}
