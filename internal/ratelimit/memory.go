package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kodex-auth/go-core/pkg/types"
)

// entry is one reserved slot in a key's window.
type entry struct {
	id string
	at time.Time
}

// MemoryLimiter implements Limiter with in-process sliding windows.
// Safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]entry
	now     func() time.Time
}

// NewMemoryLimiter creates an in-memory sliding window limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string][]entry),
		now:     time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Reserve counts the key in its window under one lock, so concurrent
// reservations can never jointly exceed the limit.
func (l *MemoryLimiter) Reserve(_ context.Context, key string, limit int, window time.Duration) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	live := l.windows[key][:0]
	for _, e := range l.windows[key] {
		if e.at.After(cutoff) {
			live = append(live, e)
		}
	}
	l.windows[key] = live

	if len(live) >= limit {
		return nil, types.ErrRateLimitExceeded
	}

	id := uuid.NewString()
	l.windows[key] = append(l.windows[key], entry{id: id, at: now})

	return &Reservation{
		Key: key,
		rollback: func(context.Context) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			kept := l.windows[key][:0]
			for _, e := range l.windows[key] {
				if e.id != id {
					kept = append(kept, e)
				}
			}
			l.windows[key] = kept
			return nil
		},
	}, nil
}
