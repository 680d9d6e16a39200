package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// MemoryStore implements AttemptStore and LockStore in memory. Safe for
// concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string][]types.FailedLoginAttempt
	locks    map[string]*types.AccountLockout
}

// NewMemoryStore creates an empty in-memory lockout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string][]types.FailedLoginAttempt),
		locks:    make(map[string]*types.AccountLockout),
	}
}

// RecordAttempt inserts one failed attempt.
func (s *MemoryStore) RecordAttempt(_ context.Context, attempt *types.FailedLoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.Identifier] = append(s.attempts[attempt.Identifier], *attempt)
	return nil
}

// CountAttempts counts attempts for an identifier since the cutoff.
func (s *MemoryStore) CountAttempts(_ context.Context, identifier string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.attempts[identifier] {
		if !a.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// ClearAttempts wipes the window for an identifier.
func (s *MemoryStore) ClearAttempts(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, identifier)
	return nil
}

// DeleteOlderThan prunes attempts before the cutoff.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for identifier, list := range s.attempts {
		kept := list[:0]
		for _, a := range list {
			if a.Timestamp.Before(cutoff) {
				n++
			} else {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(s.attempts, identifier)
		} else {
			s.attempts[identifier] = kept
		}
	}
	return n, nil
}

// UpsertLock creates or refreshes the lock for an identifier.
func (s *MemoryStore) UpsertLock(_ context.Context, lock *types.AccountLockout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *lock
	s.locks[lock.Identifier] = &copied
	return nil
}

// GetLock retrieves the lock for an identifier, or nil when none.
func (s *MemoryStore) GetLock(_ context.Context, identifier string) (*types.AccountLockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[identifier]
	if !ok {
		return nil, nil
	}
	copied := *lock
	return &copied, nil
}

// DeleteLock removes the lock for an identifier.
func (s *MemoryStore) DeleteLock(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, identifier)
	return nil
}
