package audit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RetentionConfig tunes the retention sweep.
type RetentionConfig struct {
	// Period is how long records are kept. Zero disables Cleanup.
	Period time.Duration

	Logger *zap.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate applies defaults.
func (c *RetentionConfig) Validate() error {
	if c.Period < 0 {
		return errors.New("audit retention period must not be negative")
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Retention deletes audit records past their keep window. Both cleanup
// operations are idempotent across runs.
type Retention struct {
	store  Store
	cfg    RetentionConfig
	logger *zap.Logger
}

// NewRetention creates a retention service.
func NewRetention(store Store, cfg RetentionConfig) (*Retention, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Retention{store: store, cfg: cfg, logger: cfg.Logger}, nil
}

// CleanupOlderThan removes records timestamped before the cutoff and
// returns how many were removed.
func (r *Retention) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("audit retention sweep removed records",
			zap.Int64("removed", n),
			zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Cleanup removes records older than the configured retention period.
// With no period configured it removes nothing.
func (r *Retention) Cleanup(ctx context.Context) (int64, error) {
	if r.cfg.Period == 0 {
		return 0, nil
	}
	return r.CleanupOlderThan(ctx, r.cfg.Now().Add(-r.cfg.Period))
}
