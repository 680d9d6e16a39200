// Package reset implements the password reset pipeline: enumeration-safe
// requests behind three parallel rate-limit reservations, opaque
// single-use tokens persisted by digest, and two-operation verification
// and consumption.
package reset

import (
	"context"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// Store defines password reset token persistence.
type Store interface {
	// Create stores a new reset token record.
	Create(ctx context.Context, token *types.PasswordResetToken) error

	// GetByHash retrieves a record by its lookup digest.
	GetByHash(ctx context.Context, tokenHash string) (*types.PasswordResetToken, error)

	// Consume flips used_at from null to at under a conditional update and
	// reports whether this call won the flip.
	Consume(ctx context.Context, tokenHash string, at time.Time) (bool, error)

	// Delete removes one record by id.
	Delete(ctx context.Context, id string) error

	// RevokeAllForUser marks every live reset token of a user used and
	// returns the affected count.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)

	// DeleteExpired removes records that expired before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
