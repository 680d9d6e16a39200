package token

import (
	"context"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// Store defines token record persistence. Records hold digests only;
// the token secret never reaches storage.
type Store interface {
	// CreateToken stores a new token record.
	CreateToken(ctx context.Context, token *types.Token) error

	// GetTokenByHash retrieves a token record by its lookup digest.
	GetTokenByHash(ctx context.Context, tokenHash string) (*types.Token, error)

	// GetChildToken retrieves the token issued as the rotation child of
	// the given parent token.
	GetChildToken(ctx context.Context, parentTokenID string) (*types.Token, error)

	// MarkFirstUse flips first_used_at from null to at and reports
	// whether this call won the flip. The update is conditional so that
	// exactly one concurrent caller observes true.
	MarkFirstUse(ctx context.Context, tokenID string, at time.Time) (bool, error)

	// UpdateLastUsed records token activity.
	UpdateLastUsed(ctx context.Context, tokenID string, at time.Time) error

	// Revoke marks one token revoked.
	Revoke(ctx context.Context, tokenID string) error

	// RevokeAllForUser marks every live token of a user revoked and
	// returns the affected count.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// RevokeFamily marks every token of a family revoked and returns the
	// affected count.
	RevokeFamily(ctx context.Context, familyID string) (int64, error)

	// DeleteExpired removes tokens that expired before the cutoff and
	// returns the removed count.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
