package reset

import (
	"context"
	"sync"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// MemoryStore implements Store in memory. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*types.PasswordResetToken
	byHash map[string]string
}

// NewMemoryStore creates an empty in-memory reset token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*types.PasswordResetToken),
		byHash: make(map[string]string),
	}
}

// Create stores a new reset token record.
func (s *MemoryStore) Create(_ context.Context, token *types.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *token
	s.byID[token.ID] = &copied
	s.byHash[token.TokenHash] = token.ID
	return nil
}

// GetByHash retrieves a record by its lookup digest.
func (s *MemoryStore) GetByHash(_ context.Context, tokenHash string) (*types.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return nil, types.ErrTokenNotFound
	}
	copied := *s.byID[id]
	return &copied, nil
}

// Consume flips used_at from nil and reports whether this call won.
func (s *MemoryStore) Consume(_ context.Context, tokenHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return false, nil
	}
	token := s.byID[id]
	if token.UsedAt != nil {
		return false, nil
	}
	token.UsedAt = &at
	return true, nil
}

// Delete removes one record by id.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.byID[id]; ok {
		delete(s.byHash, token.TokenHash)
		delete(s.byID, id)
	}
	return nil
}

// RevokeAllForUser marks every live reset token of a user used.
func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, token := range s.byID {
		if token.UserID == userID && token.UsedAt == nil {
			token.UsedAt = &at
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes records that expired before the cutoff.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, token := range s.byID {
		if token.ExpiresAt.Before(cutoff) {
			delete(s.byHash, token.TokenHash)
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}
