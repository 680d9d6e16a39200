package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/eventbus"
	"github.com/kodex-auth/go-core/internal/hashing"
	"github.com/kodex-auth/go-core/internal/metrics"
	"github.com/kodex-auth/go-core/pkg/types"
)

// RotationPolicy selects how refresh calls treat the refresh token.
type RotationPolicy string

const (
	// RotateAlways replaces the refresh token on every refresh.
	RotateAlways RotationPolicy = "rotate"
	// RotateNever issues fresh access tokens but keeps the refresh token.
	// Family-wide revocation on replay applies regardless of policy.
	RotateNever RotationPolicy = "fixed"
)

// Config tunes the token manager.
type Config struct {
	// AccessValidity bounds access token lifetime. Defaults to 15m and is
	// capped at 1h.
	AccessValidity time.Duration

	// RefreshValidity bounds refresh token lifetime. Defaults to 30 days.
	RefreshValidity time.Duration

	// PersistAccess records access tokens by digest alongside refresh
	// tokens. Off by default.
	PersistAccess bool

	// RotationPolicy defaults to RotateAlways.
	RotationPolicy RotationPolicy

	// ReplayGracePeriod tolerates client retry after a successful refresh:
	// re-use of the same refresh within this window returns the pair the
	// original use produced. Defaults to 5s; 0 disables the window.
	ReplayGracePeriod time.Duration

	Logger  *zap.Logger
	Metrics metrics.Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate applies defaults and bounds.
func (c *Config) Validate() error {
	if c.AccessValidity <= 0 {
		c.AccessValidity = 15 * time.Minute
	}
	if c.AccessValidity > time.Hour {
		return fmt.Errorf("access validity %s exceeds the 1h cap", c.AccessValidity)
	}
	if c.RefreshValidity <= 0 {
		c.RefreshValidity = 30 * 24 * time.Hour
	}
	if c.RotationPolicy == "" {
		c.RotationPolicy = RotateAlways
	}
	if c.RotationPolicy != RotateAlways && c.RotationPolicy != RotateNever {
		return fmt.Errorf("unknown rotation policy %q", c.RotationPolicy)
	}
	if c.ReplayGracePeriod < 0 {
		return errors.New("replay grace period must be >= 0")
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

// graceEntry caches the pair issued on a refresh token's first use so a
// retried call inside the grace window gets the identical pair back.
type graceEntry struct {
	pair      types.TokenPair
	expiresAt time.Time
}

// Manager issues, verifies, refreshes and revokes token pairs.
type Manager struct {
	signer  Signer
	store   Store
	hasher  *hashing.TokenHasher
	bus     *eventbus.Bus
	cfg     Config
	logger  *zap.Logger
	metrics metrics.Metrics

	graceMu sync.Mutex
	grace   map[string]graceEntry // parent token id -> pair
}

// NewManager creates a token manager.
func NewManager(signer Signer, store Store, bus *eventbus.Bus, cfg Config) (*Manager, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if store == nil {
		return nil, errors.New("token store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		signer:  signer,
		store:   store,
		hasher:  hashing.NewTokenHasher(),
		bus:     bus,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		grace:   make(map[string]graceEntry),
	}, nil
}

// Issue produces a fresh token pair for a login: a new token family, a
// refresh with no parent and no first use, and a matching access token.
func (m *Manager) Issue(ctx context.Context, user *types.User, roles []string) (*types.TokenPair, error) {
	now := m.cfg.Now()
	family := uuid.NewString()

	pair, refreshRecord, accessRecord, err := m.mint(user.ID, user.RealmID, roles, family, nil, now)
	if err != nil {
		m.metrics.TokenOperation("issue", "error")
		return nil, err
	}

	if err := m.store.CreateToken(ctx, refreshRecord); err != nil {
		m.metrics.TokenOperation("issue", "error")
		return nil, err
	}
	if accessRecord != nil {
		if err := m.store.CreateToken(ctx, accessRecord); err != nil {
			m.metrics.TokenOperation("issue", "error")
			return nil, err
		}
	}

	m.metrics.TokenOperation("issue", "success")
	m.publish(user.RealmID, types.SeverityInfo, types.TokenIssued{
		UserID:      user.ID,
		TokenID:     pair.RefreshTokenID,
		TokenFamily: family,
	})
	return pair, nil
}

// mint signs an access and a refresh token sharing one family and
// returns the pair plus the records to persist.
func (m *Manager) mint(userID, realmID string, roles []string, family string, parentID *string, now time.Time) (*types.TokenPair, *types.Token, *types.Token, error) {
	accessID := uuid.NewString()
	refreshID := uuid.NewString()
	accessExp := now.Add(m.cfg.AccessValidity)
	refreshExp := now.Add(m.cfg.RefreshValidity)

	accessToken, err := m.signer.Sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        accessID,
		},
		Realm:       realmID,
		TokenFamily: family,
		Roles:       roles,
		TokenType:   string(types.TokenTypeAccess),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	refreshToken, err := m.signer.Sign(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
			ID:        refreshID,
		},
		Realm:       realmID,
		TokenFamily: family,
		Roles:       roles,
		TokenType:   string(types.TokenTypeRefresh),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	refreshSalted, err := m.hasher.Hash(refreshToken)
	if err != nil {
		return nil, nil, nil, err
	}

	refreshRecord := &types.Token{
		ID:            refreshID,
		UserID:        userID,
		Type:          types.TokenTypeRefresh,
		TokenHash:     hashing.LookupDigest(refreshToken),
		SaltedHash:    refreshSalted,
		CreatedAt:     now,
		ExpiresAt:     refreshExp,
		TokenFamily:   family,
		ParentTokenID: parentID,
		RealmID:       realmID,
	}

	var accessRecord *types.Token
	if m.cfg.PersistAccess {
		accessSalted, err := m.hasher.Hash(accessToken)
		if err != nil {
			return nil, nil, nil, err
		}
		accessRecord = &types.Token{
			ID:          accessID,
			UserID:      userID,
			Type:        types.TokenTypeAccess,
			TokenHash:   hashing.LookupDigest(accessToken),
			SaltedHash:  accessSalted,
			CreatedAt:   now,
			ExpiresAt:   accessExp,
			TokenFamily: family,
			RealmID:     realmID,
		}
	}

	pair := &types.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(m.cfg.AccessValidity.Seconds()),
		AccessTokenID:    accessID,
		RefreshTokenID:   refreshID,
		TokenFamily:      family,
		RefreshExpiresAt: refreshExp,
	}
	return pair, refreshRecord, accessRecord, nil
}

// Verify decodes and checks a token. For refresh tokens the stored
// record is additionally consulted for revocation and prior use.
func (m *Manager) Verify(ctx context.Context, tokenStr string, expected types.TokenType) (*Claims, error) {
	claims, err := m.signer.Verify(tokenStr)
	if err != nil {
		m.metrics.TokenOperation("verify", "error")
		return nil, err
	}
	if err := checkClaims(claims, expected); err != nil {
		m.metrics.TokenOperation("verify", "error")
		return nil, err
	}

	if expected == types.TokenTypeRefresh {
		record, err := m.lookup(ctx, tokenStr)
		if err != nil {
			m.metrics.TokenOperation("verify", "error")
			return nil, err
		}
		if err := m.checkRecord(record, claims); err != nil {
			m.metrics.TokenOperation("verify", "error")
			return nil, err
		}
		if record.FirstUsedAt != nil {
			m.metrics.TokenOperation("verify", "error")
			return nil, types.ErrTokenRevoked
		}
	}

	m.metrics.TokenOperation("verify", "success")
	return claims, nil
}

// checkClaims enforces the claim invariants shared by both token types.
func checkClaims(claims *Claims, expected types.TokenType) error {
	if claims.TokenType != string(expected) {
		return fmt.Errorf("token type mismatch: %w", types.ErrTokenNotFound)
	}
	if claims.Subject == "" || claims.ID == "" || claims.Realm == "" || claims.TokenFamily == "" {
		return fmt.Errorf("required claim missing: %w", types.ErrTokenNotFound)
	}
	return nil
}

// lookup resolves the stored record for a presented token: the unsalted
// digest finds the row, the salted digest authenticates it.
func (m *Manager) lookup(ctx context.Context, tokenStr string) (*types.Token, error) {
	digest := hashing.LookupDigest(tokenStr)
	record, err := m.store.GetTokenByHash(ctx, digest)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(digest), []byte(record.TokenHash)) != 1 {
		return nil, types.ErrTokenNotFound
	}
	if !m.hasher.Verify(tokenStr, record.SaltedHash) {
		return nil, types.ErrTokenNotFound
	}
	return record, nil
}

// checkRecord enforces record-level invariants against the claims.
func (m *Manager) checkRecord(record *types.Token, claims *Claims) error {
	if record.Revoked {
		return types.ErrTokenRevoked
	}
	if !record.ExpiresAt.After(m.cfg.Now()) {
		return types.ErrTokenExpired
	}
	if record.RealmID != claims.Realm || record.UserID != claims.Subject {
		return types.ErrTokenNotFound
	}
	return nil
}

// Refresh runs the per-token state machine: first use rotates, re-use
// inside the grace window replays the cached pair, re-use outside it
// revokes the whole family.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	claims, err := m.signer.Verify(refreshToken)
	if err != nil {
		m.refreshFailed("", err.Error())
		return nil, err
	}
	if err := checkClaims(claims, types.TokenTypeRefresh); err != nil {
		m.refreshFailed("", "claim check failed")
		return nil, err
	}

	record, err := m.lookup(ctx, refreshToken)
	if err != nil {
		m.refreshFailed(claims.Realm, "unknown token")
		return nil, err
	}
	if err := m.checkRecord(record, claims); err != nil {
		m.refreshFailed(claims.Realm, err.Error())
		return nil, err
	}

	now := m.cfg.Now()

	if m.cfg.RotationPolicy == RotateNever {
		return m.refreshFixed(ctx, record, claims, now)
	}

	wonFirstUse, err := m.store.MarkFirstUse(ctx, record.ID, now)
	if err != nil {
		m.refreshFailed(claims.Realm, "first-use update failed")
		return nil, err
	}

	if wonFirstUse {
		return m.rotate(ctx, record, claims, now)
	}
	return m.handleReuse(ctx, record, claims, now)
}

// refreshFixed serves the no-rotation policy: a fresh access token is
// issued and the presented refresh stays the active one, so the
// first-use marker is never flipped.
func (m *Manager) refreshFixed(ctx context.Context, record *types.Token, claims *Claims, now time.Time) (*types.TokenPair, error) {
	pair, _, accessRecord, err := m.mint(record.UserID, record.RealmID, claims.Roles, record.TokenFamily, nil, now)
	if err != nil {
		m.refreshFailed(record.RealmID, "mint failed")
		return nil, err
	}
	pair.RefreshToken = ""
	pair.RefreshTokenID = record.ID
	pair.RefreshExpiresAt = record.ExpiresAt

	if accessRecord != nil {
		if err := m.store.CreateToken(ctx, accessRecord); err != nil {
			m.refreshFailed(record.RealmID, "store failed")
			return nil, err
		}
	}
	_ = m.store.UpdateLastUsed(ctx, record.ID, now)

	m.metrics.TokenOperation("refresh", "success")
	m.publish(record.RealmID, types.SeverityInfo, types.TokenRefreshed{
		UserID:     record.UserID,
		OldTokenID: record.ID,
		NewTokenID: record.ID,
	})
	return pair, nil
}

// rotate issues the child pair after winning the first-use flip.
func (m *Manager) rotate(ctx context.Context, record *types.Token, claims *Claims, now time.Time) (*types.TokenPair, error) {
	pair, refreshRecord, accessRecord, err := m.mint(record.UserID, record.RealmID, claims.Roles, record.TokenFamily, &record.ID, now)
	if err != nil {
		m.refreshFailed(record.RealmID, "mint failed")
		return nil, err
	}

	if err := m.store.CreateToken(ctx, refreshRecord); err != nil {
		m.refreshFailed(record.RealmID, "store failed")
		return nil, err
	}
	if accessRecord != nil {
		if err := m.store.CreateToken(ctx, accessRecord); err != nil {
			m.refreshFailed(record.RealmID, "store failed")
			return nil, err
		}
	}
	_ = m.store.UpdateLastUsed(ctx, record.ID, now)

	if m.cfg.ReplayGracePeriod > 0 {
		m.graceMu.Lock()
		m.grace[record.ID] = graceEntry{pair: *pair, expiresAt: now.Add(m.cfg.ReplayGracePeriod)}
		m.graceMu.Unlock()
	}

	m.metrics.TokenOperation("refresh", "success")
	m.publish(record.RealmID, types.SeverityInfo, types.TokenRefreshed{
		UserID:     record.UserID,
		OldTokenID: record.ID,
		NewTokenID: pair.RefreshTokenID,
	})
	return pair, nil
}

// handleReuse decides between grace replay and family revocation for a
// refresh token that has already been used. The record is re-read first:
// the caller's copy predates the lost first-use flip.
func (m *Manager) handleReuse(ctx context.Context, record *types.Token, claims *Claims, now time.Time) (*types.TokenPair, error) {
	if fresh, err := m.store.GetTokenByHash(ctx, record.TokenHash); err == nil {
		record = fresh
	}

	if record.FirstUsedAt != nil && m.cfg.ReplayGracePeriod > 0 &&
		now.Sub(*record.FirstUsedAt) <= m.cfg.ReplayGracePeriod {
		if pair, ok := m.awaitGracePair(ctx, record.ID, now); ok {
			m.metrics.TokenOperation("refresh", "grace_replay")
			return pair, nil
		}
		if pair, ok := m.graceFromStore(ctx, record, claims, now); ok {
			m.metrics.TokenOperation("refresh", "grace_replay")
			return pair, nil
		}
	}

	// Replay: compromise assumed, the whole family dies.
	if _, err := m.store.RevokeFamily(ctx, record.TokenFamily); err != nil {
		m.logger.Error("failed to revoke token family on replay",
			zap.String("token_family", record.TokenFamily),
			zap.Error(err))
	}
	m.metrics.ReplayDetected()
	m.metrics.TokenOperation("refresh", "replay")
	m.logger.Warn("refresh token replay detected",
		zap.String("token_id", record.ID),
		zap.String("token_family", record.TokenFamily),
		zap.String("user_id", record.UserID))
	m.publish(record.RealmID, types.SeverityCritical, types.TokenReplayDetected{
		UserID:      record.UserID,
		TokenID:     record.ID,
		TokenFamily: record.TokenFamily,
	})
	return nil, types.ErrTokenReplayDetected
}

// graceFromStore recovers a within-grace retry the local cache cannot
// serve, e.g. after a process restart. A live rotation child proves the
// first use was a legitimate refresh; the original pair is gone, so the
// child is revoked and the retry is re-rotated, keeping exactly one live
// refresh leaf.
func (m *Manager) graceFromStore(ctx context.Context, record *types.Token, claims *Claims, now time.Time) (*types.TokenPair, bool) {
	child, err := m.store.GetChildToken(ctx, record.ID)
	if err != nil || child.Revoked || child.FirstUsedAt != nil {
		// A used child means the original pair reached a client; a retry
		// of the parent is then treated as replay.
		return nil, false
	}
	if err := m.store.Revoke(ctx, child.ID); err != nil {
		m.logger.Warn("failed to revoke superseded rotation child",
			zap.String("token_id", child.ID),
			zap.Error(err))
		return nil, false
	}
	pair, err := m.rotate(ctx, record, claims, now)
	if err != nil {
		return nil, false
	}
	return pair, true
}

// awaitGracePair polls the grace cache briefly: a concurrent winner of
// the first-use flip may still be minting the child pair when a retried
// call arrives.
func (m *Manager) awaitGracePair(ctx context.Context, tokenID string, now time.Time) (*types.TokenPair, bool) {
	for attempt := 0; attempt < 100; attempt++ {
		m.graceMu.Lock()
		entry, ok := m.grace[tokenID]
		m.graceMu.Unlock()
		if ok && now.Before(entry.expiresAt) {
			pair := entry.pair
			return &pair, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(2 * time.Millisecond):
		}
	}
	return nil, false
}

// Revoke marks the presented token's record revoked.
func (m *Manager) Revoke(ctx context.Context, tokenStr string) error {
	record, err := m.lookup(ctx, tokenStr)
	if err != nil {
		m.metrics.TokenOperation("revoke", "error")
		return err
	}
	if err := m.store.Revoke(ctx, record.ID); err != nil {
		m.metrics.TokenOperation("revoke", "error")
		return err
	}
	m.metrics.TokenOperation("revoke", "success")
	m.publish(record.RealmID, types.SeverityInfo, types.TokenRevoked{
		UserID:   record.UserID,
		TokenIDs: []string{record.ID},
	})
	return nil
}

// RevokeAllForUser revokes every live token of a user.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID, realmID string) (int64, error) {
	n, err := m.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		m.metrics.TokenOperation("revoke_all", "error")
		return 0, err
	}
	m.metrics.TokenOperation("revoke_all", "success")
	m.publish(realmID, types.SeverityInfo, types.TokenRevoked{UserID: userID})
	return n, nil
}

// RevokeFamily revokes every token of a family.
func (m *Manager) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	n, err := m.store.RevokeFamily(ctx, familyID)
	if err != nil {
		m.metrics.TokenOperation("revoke_family", "error")
		return 0, err
	}
	m.metrics.TokenOperation("revoke_family", "success")
	return n, nil
}

// CleanupExpired removes expired token records and sweeps stale grace
// cache entries.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	now := m.cfg.Now()

	m.graceMu.Lock()
	for id, entry := range m.grace {
		if !now.Before(entry.expiresAt) {
			delete(m.grace, id)
		}
	}
	m.graceMu.Unlock()

	return m.store.DeleteExpired(ctx, now)
}

func (m *Manager) refreshFailed(realmID, reason string) {
	m.metrics.TokenOperation("refresh", "error")
	if realmID != "" {
		m.publish(realmID, types.SeverityWarning, types.TokenRefreshFailed{Reason: reason})
	}
}

func (m *Manager) publish(realmID string, sev types.Severity, p types.Payload) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(types.NewEvent(realmID, sev, p))
}
