package redis

import (
	"context"
	"errors"
	"time"

	"github.com/cohortmanager/platform/shared/types"
)

// ScreeningCache caches workflow code to screening service lookups
type ScreeningCache struct {
	client *Client
	ttl    time.Duration
}

// NewScreeningCache creates a screening service cache
func NewScreeningCache(client *Client, ttl time.Duration) *ScreeningCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ScreeningCache{client: client, ttl: ttl}
}

// Get returns the cached service. ok is false on a miss.
func (c *ScreeningCache) Get(ctx context.Context, code string) (types.ScreeningService, bool, error) {
	var service types.ScreeningService

	data, err := c.client.Get(ctx, c.client.Key("screening", code))
	if errors.Is(err, ErrMiss) {
		return service, false, nil
	}
	if err != nil {
		return service, false, err
	}

	if err := Decode(data, &service); err != nil {
		return service, false, err
	}
	return service, true, nil
}

// Set caches the service resolved for code
func (c *ScreeningCache) Set(ctx context.Context, code string, service types.ScreeningService) error {
	data, err := Encode(service)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.client.Key("screening", code), data, c.ttl)
}
