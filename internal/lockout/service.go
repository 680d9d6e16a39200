package lockout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/eventbus"
	"github.com/kodex-auth/go-core/internal/metrics"
	"github.com/kodex-auth/go-core/pkg/types"
)

// Policy configures the lockout sliding window. A zero Threshold
// disables lockout entirely. A zero LockDuration locks indefinitely
// until manual unlock.
type Policy struct {
	Threshold    int
	Window       time.Duration
	LockDuration time.Duration
}

// Enabled reports whether the policy locks at all.
func (p Policy) Enabled() bool { return p.Threshold > 0 }

// Preset policies.
var (
	PolicyStrict   = Policy{Threshold: 3, Window: 5 * time.Minute, LockDuration: 15 * time.Minute}
	PolicyModerate = Policy{Threshold: 5, Window: 15 * time.Minute, LockDuration: 30 * time.Minute}
	PolicyLenient  = Policy{Threshold: 10, Window: time.Hour, LockDuration: time.Hour}
	PolicyDisabled = Policy{}
)

// PolicyByName resolves a preset name.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "strict":
		return PolicyStrict, nil
	case "moderate", "":
		return PolicyModerate, nil
	case "lenient":
		return PolicyLenient, nil
	case "disabled":
		return PolicyDisabled, nil
	default:
		return Policy{}, fmt.Errorf("unknown lockout policy %q", name)
	}
}

// Status is the outcome of a lockout check.
type Status struct {
	Locked bool
	// UnlockAt is nil for indefinite locks.
	UnlockAt *time.Time
}

// Config tunes the lockout service.
type Config struct {
	Policy  Policy
	Logger  *zap.Logger
	Metrics metrics.Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.Policy.Enabled() && c.Policy.Window <= 0 {
		return errors.New("lockout window must be positive when lockout is enabled")
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Service tracks failed attempts and manages locks.
type Service struct {
	attempts AttemptStore
	locks    LockStore
	bus      *eventbus.Bus
	cfg      Config
	logger   *zap.Logger
	metrics  metrics.Metrics
}

// NewService creates a lockout service.
func NewService(attempts AttemptStore, locks LockStore, bus *eventbus.Bus, cfg Config) (*Service, error) {
	if attempts == nil || locks == nil {
		return nil, errors.New("attempt and lock stores are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		attempts: attempts,
		locks:    locks,
		bus:      bus,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// RecordFailedAttempt inserts the attempt and locks the identifier when
// the window crosses the policy threshold.
func (s *Service) RecordFailedAttempt(ctx context.Context, realmID, identifier, ip, userAgent, userID, reason string) error {
	identifier = Normalize(identifier)
	now := s.cfg.Now()

	attempt := &types.FailedLoginAttempt{
		ID:         uuid.New(),
		Identifier: identifier,
		Timestamp:  now,
		Reason:     reason,
	}
	if ip != "" {
		attempt.IPAddress = &ip
	}
	if userAgent != "" {
		attempt.UserAgent = &userAgent
	}
	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		return err
	}

	if !s.cfg.Policy.Enabled() {
		return nil
	}

	count, err := s.attempts.CountAttempts(ctx, identifier, now.Add(-s.cfg.Policy.Window))
	if err != nil {
		return err
	}
	if count < s.cfg.Policy.Threshold {
		return nil
	}

	lock := &types.AccountLockout{
		Identifier: identifier,
		LockedAt:   now,
		Reason:     fmt.Sprintf("%d failed attempts within %s", count, s.cfg.Policy.Window),
	}
	if s.cfg.Policy.LockDuration > 0 {
		unlockAt := now.Add(s.cfg.Policy.LockDuration)
		lock.UnlockAt = &unlockAt
	}
	if err := s.locks.UpsertLock(ctx, lock); err != nil {
		return err
	}

	s.metrics.AccountLocked()
	s.logger.Warn("account locked",
		zap.String("identifier", identifier),
		zap.Int("failed_attempts", count),
		zap.Timep("unlock_at", lock.UnlockAt))
	s.publish(realmID, types.SeverityCritical, types.AccountLocked{
		Identifier: identifier,
		UserID:     userID,
		UnlockAt:   lock.UnlockAt,
		Reason:     lock.Reason,
	})
	return nil
}

// CheckLockout reports whether the identifier is currently locked,
// clearing expired locks as a side effect.
func (s *Service) CheckLockout(ctx context.Context, identifier string) (Status, error) {
	identifier = Normalize(identifier)

	lock, err := s.locks.GetLock(ctx, identifier)
	if err != nil {
		return Status{}, err
	}
	if lock == nil {
		return Status{}, nil
	}

	if lock.Expired(s.cfg.Now()) {
		if err := s.locks.DeleteLock(ctx, identifier); err != nil {
			return Status{}, err
		}
		if err := s.attempts.ClearAttempts(ctx, identifier); err != nil {
			return Status{}, err
		}
		return Status{}, nil
	}

	return Status{Locked: true, UnlockAt: lock.UnlockAt}, nil
}

// ClearFailedAttempts wipes the window on successful authentication.
func (s *Service) ClearFailedAttempts(ctx context.Context, identifier string) error {
	return s.attempts.ClearAttempts(ctx, Normalize(identifier))
}

// Unlock removes the lock and its window, and publishes the unlock.
func (s *Service) Unlock(ctx context.Context, realmID, identifier, actorID string) error {
	identifier = Normalize(identifier)

	if err := s.locks.DeleteLock(ctx, identifier); err != nil {
		return err
	}
	if err := s.attempts.ClearAttempts(ctx, identifier); err != nil {
		return err
	}
	s.publish(realmID, types.SeverityInfo, types.AccountUnlocked{
		Identifier: identifier,
		ActorID:    actorID,
	})
	return nil
}

// PruneAttempts removes attempts older than the cutoff.
func (s *Service) PruneAttempts(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.attempts.DeleteOlderThan(ctx, s.cfg.Now().Add(-olderThan))
}

// Normalize canonicalizes an identifier for window and lock keys.
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (s *Service) publish(realmID string, sev types.Severity, p types.Payload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(types.NewEvent(realmID, sev, p))
}
