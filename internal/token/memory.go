package token

import (
	"context"
	"sync"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// MemoryStore implements Store in memory. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*types.Token
	byHash map[string]string // digest -> id
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*types.Token),
		byHash: make(map[string]string),
	}
}

// CreateToken stores a new token record.
func (s *MemoryStore) CreateToken(_ context.Context, token *types.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *token
	s.byID[token.ID] = &copied
	s.byHash[token.TokenHash] = token.ID
	return nil
}

// GetTokenByHash retrieves a token record by its lookup digest.
func (s *MemoryStore) GetTokenByHash(_ context.Context, tokenHash string) (*types.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return nil, types.ErrTokenNotFound
	}
	copied := *s.byID[id]
	return &copied, nil
}

// GetChildToken retrieves the rotation child of the given parent token.
// A parent can accumulate revoked children over replay recoveries; the
// live one wins, then the newest.
func (s *MemoryStore) GetChildToken(_ context.Context, parentTokenID string) (*types.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.Token
	for _, token := range s.byID {
		if token.ParentTokenID == nil || *token.ParentTokenID != parentTokenID {
			continue
		}
		if best == nil ||
			(best.Revoked && !token.Revoked) ||
			(best.Revoked == token.Revoked && token.CreatedAt.After(best.CreatedAt)) {
			best = token
		}
	}
	if best == nil {
		return nil, types.ErrTokenNotFound
	}
	copied := *best
	return &copied, nil
}

// MarkFirstUse flips first_used_at from nil and reports whether this
// call won the flip.
func (s *MemoryStore) MarkFirstUse(_ context.Context, tokenID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byID[tokenID]
	if !ok {
		return false, types.ErrTokenNotFound
	}
	if token.FirstUsedAt != nil {
		return false, nil
	}
	token.FirstUsedAt = &at
	return true, nil
}

// UpdateLastUsed records token activity.
func (s *MemoryStore) UpdateLastUsed(_ context.Context, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byID[tokenID]
	if !ok {
		return types.ErrTokenNotFound
	}
	token.LastUsedAt = &at
	return nil
}

// Revoke marks one token revoked.
func (s *MemoryStore) Revoke(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byID[tokenID]
	if !ok {
		return types.ErrTokenNotFound
	}
	token.Revoked = true
	return nil
}

// RevokeAllForUser marks every live token of a user revoked.
func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, token := range s.byID {
		if token.UserID == userID && !token.Revoked {
			token.Revoked = true
			n++
		}
	}
	return n, nil
}

// RevokeFamily marks every token of a family revoked.
func (s *MemoryStore) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, token := range s.byID {
		if token.TokenFamily == familyID && !token.Revoked {
			token.Revoked = true
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes tokens that expired before the cutoff.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, token := range s.byID {
		if token.ExpiresAt.Before(cutoff) {
			delete(s.byID, id)
			delete(s.byHash, token.TokenHash)
			n++
		}
	}
	return n, nil
}
