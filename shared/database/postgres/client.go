package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/shared/common"
)

const maxBackoff = 5 * time.Second

// Client wraps a sqlx pool with retry, circuit breaking and query metrics
type Client struct {
	db      *sqlx.DB
	config  common.PostgreSQLConfig
	logger  *zap.Logger
	metrics *metrics.Collector
	breaker *gobreaker.CircuitBreaker
	mu      sync.RWMutex
	closed  bool
}

// NewClient connects to PostgreSQL and verifies the connection
func NewClient(config common.PostgreSQLConfig, logger *zap.Logger, collector *metrics.Collector) (*Client, error) {
	db, err := sqlx.Connect("postgres", config.DSN())
	if err != nil {
		return nil, common.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	client := NewClientWithDB(db, config, logger, collector)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		db.Close()
		return nil, common.ErrDatabaseConnection(err)
	}

	client.logger.Info("PostgreSQL client initialized",
		zap.String("host", config.Host),
		zap.String("database", config.Database),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return client, nil
}

// NewClientWithDB wraps an existing pool
func NewClientWithDB(db *sqlx.DB, config common.PostgreSQLConfig, logger *zap.Logger, collector *metrics.Collector) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 10 * time.Second
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = 5
	}

	client := &Client{
		db:      db,
		config:  config,
		logger:  logger.With(zap.String("component", "postgres")),
		metrics: collector,
	}

	client.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "postgres-client",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerThreshold
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

// Get runs a single-row query into dest. sql.ErrNoRows is returned unwrapped.
func (c *Client) Get(ctx context.Context, dest interface{}, table, query string, args ...interface{}) error {
	return c.run(ctx, "select", table, func(ctx context.Context) error {
		return c.db.GetContext(ctx, dest, query, args...)
	})
}

// Select runs a multi-row query into dest
func (c *Client) Select(ctx context.Context, dest interface{}, table, query string, args ...interface{}) error {
	return c.run(ctx, "select", table, func(ctx context.Context) error {
		return c.db.SelectContext(ctx, dest, query, args...)
	})
}

// Exec runs a statement
func (c *Client) Exec(ctx context.Context, table, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := c.run(ctx, "exec", table, func(ctx context.Context) error {
		var execErr error
		result, execErr = c.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// NamedExec runs a statement bound from a struct's db tags
func (c *Client) NamedExec(ctx context.Context, table, query string, arg interface{}) error {
	return c.run(ctx, "insert", table, func(ctx context.Context) error {
		_, err := c.db.NamedExecContext(ctx, query, arg)
		return err
	})
}

// Transaction executes fn within a database transaction. The whole
// transaction is retried on retryable failures.
func (c *Client) Transaction(ctx context.Context, table string, fn func(*sqlx.Tx) error) error {
	return c.run(ctx, "transaction", table, func(ctx context.Context) error {
		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				c.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
			return err
		}

		return tx.Commit()
	})
}

// WithKeyLock runs fn in a transaction holding a transaction-scoped advisory
// lock on key, so writes for the same participant never interleave
func (c *Client) WithKeyLock(ctx context.Context, table, key string, fn func(*sqlx.Tx) error) error {
	return c.Transaction(ctx, table, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return err
		}
		return fn(tx)
	})
}

// run applies the closed check, query timeout, circuit breaker, retry loop
// and metrics to one database operation
func (c *Client) run(ctx context.Context, operation, table string, fn func(context.Context) error) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return common.NewAppError(common.ErrCodeDatabaseConnection, "client is closed")
	}

	start := time.Now()
	err := c.executeWithRetry(ctx, func() error {
		queryCtx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
		defer cancel()
		return fn(queryCtx)
	})

	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordDatabaseQuery(operation, table, status, time.Since(start))
	}

	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return common.WrapError(err, common.ErrCodeServiceUnavailable, "database circuit open")
	}
	return common.WrapError(err, common.ErrCodeDatabaseQuery, fmt.Sprintf("%s on %s failed", operation, table))
}

// executeWithRetry executes a function with retry logic
func (c *Client) executeWithRetry(ctx context.Context, fn func() error) error {
	attempts := c.config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var noRows bool
		_, err := c.breaker.Execute(func() (interface{}, error) {
			err := fn()
			if errors.Is(err, sql.ErrNoRows) {
				noRows = true
				return nil, nil
			}
			return nil, err
		})
		if noRows {
			return sql.ErrNoRows
		}
		if err == nil {
			return nil
		}

		lastErr = err
		if !shouldRetry(err) || attempt == attempts-1 {
			break
		}

		delay := backoffDelay(c.config.RetryBackoff, attempt)
		c.logger.Warn("Database operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// shouldRetry determines if an error is retryable
func shouldRetry(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "08000", // connection_exception
			"08003", // connection_does_not_exist
			"08006", // connection_failure
			"53300", // too_many_connections
			"40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}
	return errors.Is(err, sql.ErrConnDone)
}

// backoffDelay doubles the base delay per attempt up to maxBackoff
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << uint(attempt)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}

// Ping verifies the pool can reach the server
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB exposes the underlying pool for schema management
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close closes the pool
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.logger.Info("PostgreSQL client closed")
	return nil
}
