package usecase

import (
	"sync"

	"github.com/cohortmanager/platform/shared/types"
)

// KeySet remembers the identity keys already admitted within one batch
type KeySet struct {
	keys sync.Map
}

// NewKeySet creates an empty key set
func NewKeySet() *KeySet {
	return &KeySet{}
}

// TryAdd admits key and reports whether it was absent. Exactly one of any
// number of concurrent callers with the same key observes true.
func (s *KeySet) TryAdd(key types.IdentityKey) bool {
	_, loaded := s.keys.LoadOrStore(key, struct{}{})
	return !loaded
}

// Len counts the admitted keys
func (s *KeySet) Len() int {
	n := 0
	s.keys.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
