package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/shared/common"
)

// ErrMiss is returned when a key does not exist
var ErrMiss = errors.New("cache miss")

// Client wraps a go-redis client with key prefixing and circuit breaking
type Client struct {
	rdb     *redis.Client
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Collector
	breaker *gobreaker.CircuitBreaker
	mu      sync.RWMutex
	closed  bool
}

// NewClient connects to Redis and verifies the connection
func NewClient(config common.RedisConfig, logger *zap.Logger, collector *metrics.Collector) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        config.Addr(),
		Password:    config.Password,
		DB:          config.Database,
		MaxRetries:  config.MaxRetries,
		PoolSize:    config.PoolSize,
		IdleTimeout: config.IdleTimeout,
	})

	client := NewClientWithRedis(rdb, config.KeyPrefix, logger, collector)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		rdb.Close()
		return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "failed to ping Redis")
	}

	client.logger.Info("Redis client initialized", zap.String("addr", config.Addr()))
	return client, nil
}

// NewClientWithRedis wraps an existing go-redis client
func NewClientWithRedis(rdb *redis.Client, prefix string, logger *zap.Logger, collector *metrics.Collector) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &Client{
		rdb:     rdb,
		prefix:  prefix,
		logger:  logger.With(zap.String("component", "redis")),
		metrics: collector,
	}

	client.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-client",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			client.logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return client
}

// Key joins parts under the configured prefix
func (c *Client) Key(parts ...string) string {
	if c.prefix == "" {
		return strings.Join(parts, ":")
	}
	return c.prefix + ":" + strings.Join(parts, ":")
}

// Get returns the raw value at key or ErrMiss
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.execute("get", func() error {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		value = data
		return err
	})
	return value, err
}

// Set stores value at key with an optional TTL
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.execute("set", func() error {
		return c.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// SetNX stores value only when key is absent
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var ok bool
	err := c.execute("setnx", func() error {
		var err error
		ok, err = c.rdb.SetNX(ctx, key, value, ttl).Result()
		return err
	})
	return ok, err
}

// Run executes a Lua script
func (c *Client) Run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	var result interface{}
	err := c.execute("eval", func() error {
		var err error
		result, err = script.Run(ctx, c.rdb, keys, args...).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	return result, err
}

// execute runs one command through the breaker. A miss is not a failure.
func (c *Client) execute(operation string, fn func() error) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return common.NewAppError(common.ErrCodeServiceUnavailable, "redis client is closed")
	}

	var miss bool
	_, err := c.breaker.Execute(func() (interface{}, error) {
		err := fn()
		if errors.Is(err, ErrMiss) {
			miss = true
			return nil, nil
		}
		return nil, err
	})

	result := "hit"
	switch {
	case miss:
		result = "miss"
	case err != nil:
		result = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(operation, result)
	}

	if miss {
		return ErrMiss
	}
	if err != nil {
		return common.WrapError(err, common.ErrCodeServiceUnavailable, "redis "+operation+" failed")
	}
	return nil
}

// Ping verifies the server is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the client
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Info("Redis client closed")
	return c.rdb.Close()
}
