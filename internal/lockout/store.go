// Package lockout implements failed-attempt tracking and account
// lockout: a sliding window of failures per normalized identifier and a
// policy that converts threshold breaches into timed or indefinite locks.
package lockout

import (
	"context"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// AttemptStore persists the failed-attempt sliding window.
type AttemptStore interface {
	// RecordAttempt inserts one failed attempt.
	RecordAttempt(ctx context.Context, attempt *types.FailedLoginAttempt) error

	// CountAttempts counts attempts for an identifier since the cutoff.
	CountAttempts(ctx context.Context, identifier string, since time.Time) (int, error)

	// ClearAttempts wipes the window for an identifier.
	ClearAttempts(ctx context.Context, identifier string) error

	// DeleteOlderThan prunes attempts before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockStore persists active lockouts, one row per identifier.
type LockStore interface {
	// UpsertLock creates or refreshes the lock for an identifier.
	UpsertLock(ctx context.Context, lock *types.AccountLockout) error

	// GetLock retrieves the lock for an identifier, or nil when none.
	GetLock(ctx context.Context, identifier string) (*types.AccountLockout, error)

	// DeleteLock removes the lock for an identifier.
	DeleteLock(ctx context.Context, identifier string) error
}
