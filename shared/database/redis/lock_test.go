package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cohortmanager/platform/shared/common"
)

type lease struct {
	token   string
	expires time.Time
}

// memoryLeases mimics the SET NX PX and script semantics the lock relies on
type memoryLeases struct {
	mu      sync.Mutex
	leases  map[string]lease
	extends int
}

func newMemoryLeases() *memoryLeases {
	return &memoryLeases{leases: map[string]lease{}}
}

func (m *memoryLeases) Key(parts ...string) string {
	return (&Client{}).Key(parts...)
}

func (m *memoryLeases) live(key string) (lease, bool) {
	l, ok := m.leases[key]
	if ok && time.Now().After(l.expires) {
		delete(m.leases, key)
		return lease{}, false
	}
	return l, ok
}

func (m *memoryLeases) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.leases[key] = lease{token: string(value), expires: time.Now().Add(ttl)}
	return true, nil
}

func (m *memoryLeases) Run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.live(keys[0])
	if !ok || current.token != args[0].(string) {
		return int64(0), nil
	}
	switch script {
	case releaseScript:
		delete(m.leases, keys[0])
	case extendScript:
		ms := args[1].(int64)
		current.expires = time.Now().Add(time.Duration(ms) * time.Millisecond)
		m.leases[keys[0]] = current
		m.extends++
	}
	return int64(1), nil
}

func (m *memoryLeases) held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok
}

func TestKeyLockLeaseOutlivesTTL(t *testing.T) {
	store := newMemoryLeases()
	lock := newKeyLock(store, 60*time.Millisecond, zaptest.NewLogger(t))
	lock.poll = 5 * time.Millisecond

	release, err := lock.Acquire(context.Background(), "1:9434765919")
	require.NoError(t, err)

	// Hold well past several ttls; a second holder must still be shut out.
	waitCtx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(waitCtx, "1:9434765919")
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeTimeout))
	assert.True(t, store.held("lock:1:9434765919"))

	store.mu.Lock()
	extends := store.extends
	store.mu.Unlock()
	assert.GreaterOrEqual(t, extends, 3)

	release()
	assert.False(t, store.held("lock:1:9434765919"))

	again, err := lock.Acquire(context.Background(), "1:9434765919")
	require.NoError(t, err)
	again()
}

func TestKeyLockReleaseIsIdempotent(t *testing.T) {
	store := newMemoryLeases()
	lock := newKeyLock(store, time.Second, zaptest.NewLogger(t))

	release, err := lock.Acquire(context.Background(), "1:9434765919")
	require.NoError(t, err)
	release()
	release()
	assert.False(t, store.held("lock:1:9434765919"))
}

func TestKeyLockStopsRenewingLostLease(t *testing.T) {
	store := newMemoryLeases()
	lock := newKeyLock(store, 30*time.Millisecond, zaptest.NewLogger(t))

	release, err := lock.Acquire(context.Background(), "1:9434765919")
	require.NoError(t, err)
	defer release()

	// Another holder takes the key over once the lease is gone.
	store.mu.Lock()
	store.leases["lock:1:9434765919"] = lease{token: "other", expires: time.Now().Add(time.Minute)}
	store.mu.Unlock()

	time.Sleep(80 * time.Millisecond)
	store.mu.Lock()
	owner := store.leases["lock:1:9434765919"].token
	store.mu.Unlock()
	assert.Equal(t, "other", owner)
}
