package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// GracefulShutdown runs registered hooks in priority order once a signal
// arrives or Shutdown is called
type GracefulShutdown struct {
	timeout  time.Duration
	logger   *zap.Logger
	hooks    []Hook
	done     chan struct{}
	mu       sync.Mutex
	shutdown bool
}

// Hook represents a function to be called during shutdown
type Hook struct {
	Name     string
	Priority int // Lower numbers run first
	Timeout  time.Duration
	Fn       func(context.Context) error
}

// New creates a new graceful shutdown manager
func New(timeout time.Duration, logger *zap.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GracefulShutdown{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// AddHook adds a shutdown hook with priority and timeout
func (gs *GracefulShutdown) AddHook(hook Hook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if hook.Timeout == 0 {
		hook.Timeout = gs.timeout
	}

	inserted := false
	for i, h := range gs.hooks {
		if hook.Priority < h.Priority {
			gs.hooks = append(gs.hooks[:i], append([]Hook{hook}, gs.hooks[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		gs.hooks = append(gs.hooks, hook)
	}

	gs.logger.Debug("Shutdown hook added",
		zap.String("name", hook.Name),
		zap.Int("priority", hook.Priority),
		zap.Duration("timeout", hook.Timeout),
	)
}

// Listen starts listening for shutdown signals
func (gs *GracefulShutdown) Listen(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)

	go func() {
		select {
		case sig := <-c:
			gs.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
			gs.Shutdown()
		case <-gs.done:
		}
		signal.Stop(c)
	}()
}

// Shutdown triggers graceful shutdown programmatically. Only the first call
// runs the hooks.
func (gs *GracefulShutdown) Shutdown() {
	gs.mu.Lock()
	if gs.shutdown {
		gs.mu.Unlock()
		return
	}
	gs.shutdown = true
	hooks := append([]Hook(nil), gs.hooks...)
	gs.mu.Unlock()

	gs.executeShutdown(hooks)
}

func (gs *GracefulShutdown) executeShutdown(hooks []Hook) {
	defer close(gs.done)

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.logger.Info("Starting graceful shutdown",
		zap.Duration("timeout", gs.timeout),
		zap.Int("hooks", len(hooks)),
	)

	start := time.Now()
	for _, hook := range hooks {
		gs.executeHook(ctx, hook)
	}

	gs.logger.Info("Graceful shutdown completed", zap.Duration("duration", time.Since(start)))
}

func (gs *GracefulShutdown) executeHook(ctx context.Context, hook Hook) {
	hookCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- hook.Fn(hookCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			gs.logger.Error("Shutdown hook failed",
				zap.String("name", hook.Name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		gs.logger.Info("Shutdown hook completed",
			zap.String("name", hook.Name),
			zap.Duration("duration", time.Since(start)),
		)
	case <-hookCtx.Done():
		gs.logger.Warn("Shutdown hook timed out",
			zap.String("name", hook.Name),
			zap.Duration("timeout", hook.Timeout),
		)
	}
}

// Wait blocks until shutdown has completed
func (gs *GracefulShutdown) Wait() {
	<-gs.done
}

// Done returns a channel that closes when shutdown is complete
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// HTTPServerHook creates a shutdown hook for HTTP servers
func HTTPServerHook(name string, server interface{ Shutdown(context.Context) error }) Hook {
	return Hook{
		Name:     name,
		Priority: 10,
		Timeout:  30 * time.Second,
		Fn:       server.Shutdown,
	}
}

// CloserHook creates a shutdown hook for connections such as databases and
// message writers
func CloserHook(name string, priority int, closer interface{ Close() error }) Hook {
	return Hook{
		Name:     name,
		Priority: priority,
		Timeout:  10 * time.Second,
		Fn: func(ctx context.Context) error {
			return closer.Close()
		},
	}
}

// BackgroundTaskHook cancels background workers and waits for them to drain
func BackgroundTaskHook(name string, cancel context.CancelFunc, wg *sync.WaitGroup) Hook {
	return Hook{
		Name:     name,
		Priority: 5,
		Timeout:  30 * time.Second,
		Fn: func(ctx context.Context) error {
			cancel()

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()

			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("background tasks did not finish in time")
			}
		},
	}
}

// LoggerHook creates a shutdown hook for logger syncing
func LoggerHook(logger interface{ Sync() error }) Hook {
	return Hook{
		Name:     "logger",
		Priority: 40,
		Timeout:  2 * time.Second,
		Fn: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	}
}
