package redis

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cohortmanager/platform/shared/common"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// leaseStore is the subset of Client the lock needs
type leaseStore interface {
	Key(parts ...string) string
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
}

// KeyLock serializes work on one key across service instances. A held lock
// is renewed until released, so the ttl only bounds how long a crashed holder
// can keep the key.
type KeyLock struct {
	store  leaseStore
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewKeyLock creates a distributed key lock
func NewKeyLock(client *Client, ttl time.Duration) *KeyLock {
	return newKeyLock(client, ttl, client.logger)
}

func newKeyLock(store leaseStore, ttl time.Duration, logger *zap.Logger) *KeyLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyLock{store: store, ttl: ttl, poll: 50 * time.Millisecond, logger: logger}
}

// Acquire blocks until the lock on key is held or ctx ends. The returned
// function stops renewal and releases the lock if this holder still owns it.
func (l *KeyLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := l.store.Key("lock", key)
	token := uuid.NewString()

	for {
		ok, err := l.store.SetNX(ctx, lockKey, []byte(token), l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return l.hold(lockKey, token), nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, common.WrapError(ctx.Err(), common.ErrCodeTimeout, "timed out waiting for key lock")
		case <-timer.C:
		}
	}
}

// hold renews the lease every third of the ttl until the returned release
// function runs
func (l *KeyLock) hold(lockKey, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	interval := l.ttl / 3
	if interval <= 0 {
		interval = l.ttl
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !l.extend(lockKey, token) {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := l.store.Run(releaseCtx, releaseScript, []string{lockKey}, token); err != nil {
				l.logger.Warn("Failed to release key lock", zap.String("key", lockKey), zap.Error(err))
			}
		})
	}
}

// extend pushes the expiry out by one ttl. It reports false once the lease
// is lost to another holder.
func (l *KeyLock) extend(lockKey, token string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
	defer cancel()

	result, err := l.store.Run(ctx, extendScript, []string{lockKey}, token, l.ttl.Milliseconds())
	if err != nil {
		l.logger.Warn("Failed to extend key lock", zap.String("key", lockKey), zap.Error(err))
		return true
	}
	if n, ok := result.(int64); !ok || n == 0 {
		l.logger.Error("Key lock lease lost", zap.String("key", lockKey))
		return false
	}
	return true
}
