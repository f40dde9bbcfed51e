package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/cohortmanager/platform/shared/types"
)

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(&pq.Error{Code: "40001"}))
	assert.True(t, shouldRetry(fmt.Errorf("wrapped: %w", &pq.Error{Code: "08006"})))
	assert.True(t, shouldRetry(sql.ErrConnDone))
	assert.False(t, shouldRetry(&pq.Error{Code: "23505"}))
	assert.False(t, shouldRetry(errors.New("syntax error")))
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoffDelay(0, 0))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(100*time.Millisecond, 2))
	assert.Equal(t, maxBackoff, backoffDelay(time.Second, 10))
}

func TestLockKeyScopesByScreeningService(t *testing.T) {
	key := types.IdentityKey("9434765919")
	assert.Equal(t, "1:9434765919", LockKey(key, "1"))
	assert.NotEqual(t, LockKey(key, "1"), LockKey(key, "2"))
}

func TestCountFatalKeysQueryCountsDistinctKeyedFatalRows(t *testing.T) {
	assert.Contains(t, countFatalKeysQuery, "COUNT(DISTINCT identity_key)")
	assert.Contains(t, countFatalKeysQuery, "WHERE fatal AND identity_key <> ''")
	assert.Contains(t, countFatalKeysQuery, "date_created >= $1")
}
