package testing

import (
	"context"
	"sync"
	"time"

	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

// ExceptionStore is an in-memory exception store
type ExceptionStore struct {
	mu      sync.Mutex
	records []entity.ExceptionRecord
	nextID  int64
	Err     error
}

// Insert stores a copy of record. Like a database call it fails once ctx
// is done.
func (s *ExceptionStore) Insert(ctx context.Context, record *entity.ExceptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.nextID++
	record.ExceptionID = s.nextID
	s.records = append(s.records, *record)
	return nil
}

// CountFatalKeysSince counts the distinct identity keys with a fatal record
// created at or after from. Records without a key do not count.
func (s *ExceptionStore) CountFatalKeysSince(ctx context.Context, from time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	keys := make(map[types.IdentityKey]struct{})
	for _, r := range s.records {
		if r.Fatal && !r.IdentityKey.IsZero() && !r.DateCreated.Before(from) {
			keys[r.IdentityKey] = struct{}{}
		}
	}
	return len(keys), nil
}

// Records returns every stored record
func (s *ExceptionStore) Records() []entity.ExceptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.ExceptionRecord(nil), s.records...)
}

// Fatal returns the fatal records
func (s *ExceptionStore) Fatal() []entity.ExceptionRecord {
	var out []entity.ExceptionRecord
	for _, r := range s.Records() {
		if r.Fatal {
			out = append(out, r)
		}
	}
	return out
}

// ForKey returns the records raised against key
func (s *ExceptionStore) ForKey(key types.IdentityKey) []entity.ExceptionRecord {
	var out []entity.ExceptionRecord
	for _, r := range s.Records() {
		if r.IdentityKey == key {
			out = append(out, r)
		}
	}
	return out
}
