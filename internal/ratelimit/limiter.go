// Package ratelimit provides sliding-window rate limiting with two-phase
// reservations: a reservation is taken before the guarded work runs,
// committed once the work succeeded, and rolled back when it failed so
// retries stay possible until the limit is genuinely reached.
package ratelimit

import (
	"context"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// Limiter reserves slots in a per-key sliding window.
type Limiter interface {
	// Reserve atomically counts the key in its window. It returns
	// types.ErrRateLimitExceeded when the reservation would exceed limit
	// attempts within window.
	Reserve(ctx context.Context, key string, limit int, window time.Duration) (*Reservation, error)
}

// Reservation is one reserved slot. Exactly one of Commit or Rollback
// should be called; both are idempotent.
type Reservation struct {
	// Key is the limiter key the slot was reserved under.
	Key string

	settled  bool
	commit   func(ctx context.Context) error
	rollback func(ctx context.Context) error
}

// Commit makes the reservation permanent.
func (r *Reservation) Commit(ctx context.Context) error {
	if r == nil || r.settled {
		return nil
	}
	r.settled = true
	if r.commit == nil {
		return nil
	}
	return r.commit(ctx)
}

// Rollback releases the reserved slot.
func (r *Reservation) Rollback(ctx context.Context) error {
	if r == nil || r.settled {
		return nil
	}
	r.settled = true
	if r.rollback == nil {
		return nil
	}
	return r.rollback(ctx)
}

// Key pairs a limiter key with its own limit.
type Key struct {
	Key   string
	Limit int
}

// ReserveAll reserves a slot under every key or none: when any single
// reservation is refused, the ones already taken are rolled back and
// types.ErrRateLimitExceeded is returned with the offending key.
func ReserveAll(ctx context.Context, limiter Limiter, keys []Key, window time.Duration) ([]*Reservation, string, error) {
	reservations := make([]*Reservation, 0, len(keys))
	for _, k := range keys {
		res, err := limiter.Reserve(ctx, k.Key, k.Limit, window)
		if err != nil {
			for _, taken := range reservations {
				_ = taken.Rollback(ctx)
			}
			if err == types.ErrRateLimitExceeded {
				return nil, k.Key, err
			}
			return nil, k.Key, err
		}
		reservations = append(reservations, res)
	}
	return reservations, "", nil
}

// CommitAll commits every reservation.
func CommitAll(ctx context.Context, reservations []*Reservation) {
	for _, r := range reservations {
		_ = r.Commit(ctx)
	}
}

// RollbackAll releases every reservation.
func RollbackAll(ctx context.Context, reservations []*Reservation) {
	for _, r := range reservations {
		_ = r.Rollback(ctx)
	}
}
