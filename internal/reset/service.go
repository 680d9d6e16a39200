package reset

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/eventbus"
	"github.com/kodex-auth/go-core/internal/hashing"
	"github.com/kodex-auth/go-core/internal/metrics"
	"github.com/kodex-auth/go-core/internal/ratelimit"
	"github.com/kodex-auth/go-core/internal/user"
	"github.com/kodex-auth/go-core/pkg/types"
)

// Config tunes the reset service.
type Config struct {
	// TokenValidity bounds reset token lifetime. Default 1h; must stay
	// between 5m and 24h.
	TokenValidity time.Duration

	// MaxAttemptsPerUser caps accepted requests per user id per window.
	MaxAttemptsPerUser int
	// MaxAttemptsPerIdentifier caps accepted requests per identifier.
	MaxAttemptsPerIdentifier int
	// MaxAttemptsPerIP caps accepted requests per source ip.
	MaxAttemptsPerIP int

	// RateLimitWindow is the sliding window length shared by the three
	// limiters. Default 1h.
	RateLimitWindow time.Duration

	// CooldownPeriod, when > 0, enforces a per-identifier minimum delay
	// between accepted requests. Must stay between 1s and 1h.
	CooldownPeriod time.Duration

	Logger  *zap.Logger
	Metrics metrics.Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate applies defaults and bounds.
func (c *Config) Validate() error {
	if c.TokenValidity == 0 {
		c.TokenValidity = time.Hour
	}
	if c.TokenValidity < 5*time.Minute || c.TokenValidity > 24*time.Hour {
		return fmt.Errorf("reset token validity %s must be between 5m and 24h", c.TokenValidity)
	}
	if c.MaxAttemptsPerUser <= 0 {
		c.MaxAttemptsPerUser = 3
	}
	if c.MaxAttemptsPerIdentifier <= 0 {
		c.MaxAttemptsPerIdentifier = 5
	}
	if c.MaxAttemptsPerIP <= 0 {
		c.MaxAttemptsPerIP = 10
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Hour
	}
	if c.CooldownPeriod != 0 && (c.CooldownPeriod < time.Second || c.CooldownPeriod > time.Hour) {
		return fmt.Errorf("cooldown period %s must be between 1s and 1h", c.CooldownPeriod)
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

// Request describes one reset request.
type Request struct {
	RealmID    string
	Identifier string
	IP         string
}

// Service runs the password reset pipeline.
type Service struct {
	store   Store
	users   user.Store
	limiter ratelimit.Limiter
	sender  Sender
	hasher  *hashing.TokenHasher
	bus     *eventbus.Bus
	cfg     Config
	logger  *zap.Logger
	metrics metrics.Metrics
}

// NewService creates a reset service.
func NewService(store Store, users user.Store, limiter ratelimit.Limiter, sender Sender, bus *eventbus.Bus, cfg Config) (*Service, error) {
	if store == nil || users == nil {
		return nil, errors.New("reset token store and user store are required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		store:   store,
		users:   users,
		limiter: limiter,
		sender:  sender,
		hasher:  hashing.NewTokenHasher(),
		bus:     bus,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// RequestReset runs one reset request. A nil return means "Success" on
// the wire whether or not the identifier resolves to a user; only rate
// limiting and cooldown surface as errors.
func (s *Service) RequestReset(ctx context.Context, req Request) error {
	identifier := strings.TrimSpace(strings.ToLower(req.Identifier))
	if identifier == "" {
		return nil
	}

	// The cooldown reservation is settled with the rest of the request:
	// committed once the message is dispatched (or the identifier is
	// unknown, which mirrors the accepted path outwardly), rolled back on
	// every failure so an immediate retry stays possible.
	var cooldown *ratelimit.Reservation
	if s.cfg.CooldownPeriod > 0 {
		res, err := s.limiter.Reserve(ctx, "reset:cooldown:"+identifier, 1, s.cfg.CooldownPeriod)
		if errors.Is(err, types.ErrRateLimitExceeded) {
			s.metrics.ResetRequest("cooldown")
			return fmt.Errorf("reset requested too soon: %w", types.ErrCooldownActive)
		}
		if err != nil {
			return err
		}
		cooldown = res
	}

	// The user is resolved before reservation so the per-user limiter can
	// key on the real id; an unresolved identifier reserves a synthetic
	// key so the amount of work does not depend on user existence.
	target, lookupErr := s.lookupUser(ctx, req.RealmID, identifier)
	userKey := "reset:user:unknown:" + identifier
	if target != nil {
		userKey = "reset:user:" + target.ID
	}

	keys := []ratelimit.Key{
		{Key: userKey, Limit: s.cfg.MaxAttemptsPerUser},
		{Key: "reset:ident:" + identifier, Limit: s.cfg.MaxAttemptsPerIdentifier},
		{Key: "reset:ip:" + req.IP, Limit: s.cfg.MaxAttemptsPerIP},
	}
	reservations, limitKey, err := ratelimit.ReserveAll(ctx, s.limiter, keys, s.cfg.RateLimitWindow)
	if err != nil {
		_ = cooldown.Rollback(ctx)
		if errors.Is(err, types.ErrRateLimitExceeded) {
			s.metrics.ResetRequest("rate_limited")
			s.metrics.RateLimitRejected("reset")
			s.publish(req.RealmID, types.SeverityWarning, types.RateLimitExceeded{LimitKey: limitKey})
			return types.ErrRateLimitExceeded
		}
		return err
	}

	if lookupErr != nil || target == nil {
		// Unknown identifier: same outward motions, nothing persisted or
		// dispatched, reservations released. The cooldown commits as it
		// does on the accepted path.
		_, _ = generateToken()
		ratelimit.RollbackAll(ctx, reservations)
		_ = cooldown.Commit(ctx)
		s.metrics.ResetRequest("unknown_identifier")
		s.logger.Debug("reset requested for unknown identifier")
		return nil
	}

	plain, err := generateToken()
	if err != nil {
		ratelimit.RollbackAll(ctx, reservations)
		_ = cooldown.Rollback(ctx)
		return err
	}
	salted, err := s.hasher.Hash(plain)
	if err != nil {
		ratelimit.RollbackAll(ctx, reservations)
		_ = cooldown.Rollback(ctx)
		return err
	}

	now := s.cfg.Now()
	record := &types.PasswordResetToken{
		ID:           uuid.NewString(),
		UserID:       target.ID,
		TokenHash:    hashing.LookupDigest(plain),
		SaltedHash:   salted,
		ContactValue: identifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.TokenValidity),
	}
	if req.IP != "" {
		ip := req.IP
		record.IPAddress = &ip
	}
	if err := s.store.Create(ctx, record); err != nil {
		ratelimit.RollbackAll(ctx, reservations)
		_ = cooldown.Rollback(ctx)
		return err
	}

	if err := s.sender.Send(ctx, Message{
		UserID:    target.ID,
		Recipient: identifier,
		Token:     plain,
		ExpiresAt: record.ExpiresAt,
	}); err != nil {
		// The caller still sees Success; the reservations and the token
		// are unwound so a retry is possible.
		_ = s.store.Delete(ctx, record.ID)
		ratelimit.RollbackAll(ctx, reservations)
		_ = cooldown.Rollback(ctx)
		s.metrics.ResetRequest("sender_failed")
		s.logger.Error("reset dispatch failed",
			zap.String("user_id", target.ID),
			zap.Error(err))
		return nil
	}

	ratelimit.CommitAll(ctx, reservations)
	_ = cooldown.Commit(ctx)
	s.metrics.ResetRequest("accepted")
	s.publish(req.RealmID, types.SeverityInfo, types.VerificationEvent{
		K:       types.KindVerificationSent,
		UserID:  target.ID,
		Channel: channelOf(identifier),
	})
	return nil
}

// Verify reports the owning user of a live reset token without
// consuming it. The unsalted digest finds the record, the salted digest
// authenticates it.
func (s *Service) Verify(ctx context.Context, plain string) (string, error) {
	record, err := s.store.GetByHash(ctx, hashing.LookupDigest(plain))
	if err != nil {
		return "", types.ErrTokenNotFound
	}
	if !s.hasher.Verify(plain, record.SaltedHash) {
		return "", types.ErrTokenNotFound
	}
	if !record.IsLive(s.cfg.Now()) {
		return "", types.ErrTokenExpired
	}
	return record.UserID, nil
}

// Consume atomically marks the token used and returns the owning user.
// A consumed token fails every subsequent Verify and Consume.
func (s *Service) Consume(ctx context.Context, plain string) (string, error) {
	digest := hashing.LookupDigest(plain)
	record, err := s.store.GetByHash(ctx, digest)
	if err != nil {
		return "", types.ErrTokenNotFound
	}
	if !s.hasher.Verify(plain, record.SaltedHash) {
		return "", types.ErrTokenNotFound
	}
	now := s.cfg.Now()
	if !record.ExpiresAt.After(now) {
		return "", types.ErrTokenExpired
	}

	won, err := s.store.Consume(ctx, digest, now)
	if err != nil {
		return "", err
	}
	if !won {
		return "", types.ErrTokenNotFound
	}
	return record.UserID, nil
}

// RevokeAll voids every live reset token of a user. Called on password
// change.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return s.store.RevokeAllForUser(ctx, userID, s.cfg.Now())
}

// Cleanup removes expired reset tokens.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.cfg.Now())
}

// lookupUser resolves an identifier to a user by shape: an "@" means
// email, anything else is treated as a phone number.
func (s *Service) lookupUser(ctx context.Context, realmID, identifier string) (*types.User, error) {
	if strings.Contains(identifier, "@") {
		return s.users.GetUserByEmail(ctx, realmID, identifier)
	}
	return s.users.GetUserByPhone(ctx, realmID, identifier)
}

func channelOf(identifier string) string {
	if strings.Contains(identifier, "@") {
		return "email"
	}
	return "phone"
}

// generateToken produces a 256-bit opaque secret.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Service) publish(realmID string, sev types.Severity, p types.Payload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(types.NewEvent(realmID, sev, p))
}
