// Package authflow orchestrates password-based authentication: lockout
// gating, hook chains, constant-time credential verification, and token
// pair issuance.
package authflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/eventbus"
	"github.com/kodex-auth/go-core/internal/hashing"
	"github.com/kodex-auth/go-core/internal/hooks"
	"github.com/kodex-auth/go-core/internal/lockout"
	"github.com/kodex-auth/go-core/internal/metrics"
	"github.com/kodex-auth/go-core/internal/reset"
	"github.com/kodex-auth/go-core/internal/token"
	"github.com/kodex-auth/go-core/internal/user"
	"github.com/kodex-auth/go-core/internal/validation"
	"github.com/kodex-auth/go-core/pkg/types"
)

// dummyPassword feeds the pre-computed digest used on the missing-user
// path so verification work does not depend on user existence.
const dummyPassword = "kodex-dummy-credential-for-constant-time"

// Credentials carries one login attempt.
type Credentials struct {
	RealmID    string
	Identifier string
	Password   string
	IP         string
	UserAgent  string
}

// Config tunes the authenticator.
type Config struct {
	PasswordPolicy validation.PasswordPolicy

	Logger  *zap.Logger
	Metrics metrics.Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate applies defaults.
func (c *Config) Validate() error {
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

// Authenticator runs the password login and password change flows.
type Authenticator struct {
	users    user.Store
	roles    user.RoleStore
	hasher   hashing.Hasher
	tokens   *token.Manager
	lockouts *lockout.Service
	resets   *reset.Service
	hooks    *hooks.Executor
	bus      *eventbus.Bus
	cfg      Config
	logger   *zap.Logger
	metrics  metrics.Metrics

	dummyHash string
}

// NewAuthenticator creates an authenticator. The dummy digest is
// computed once here so every missing-user login performs one real
// verification.
func NewAuthenticator(users user.Store, roles user.RoleStore, hasher hashing.Hasher,
	tokens *token.Manager, lockouts *lockout.Service, resets *reset.Service,
	executor *hooks.Executor, bus *eventbus.Bus, cfg Config) (*Authenticator, error) {
	if users == nil || roles == nil {
		return nil, errors.New("user and role stores are required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if lockouts == nil {
		return nil, errors.New("lockout service is required")
	}
	if executor == nil {
		return nil, errors.New("hook executor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		users:     users,
		roles:     roles,
		hasher:    hasher,
		tokens:    tokens,
		lockouts:  lockouts,
		resets:    resets,
		hooks:     executor,
		bus:       bus,
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		dummyHash: dummyHash,
	}, nil
}

// TokenByEmail authenticates against the email identifier variant.
func (a *Authenticator) TokenByEmail(ctx context.Context, creds Credentials) (*types.TokenPair, error) {
	return a.login(ctx, creds, a.users.GetUserByEmail, "password_email")
}

// TokenByPhone authenticates against the phone identifier variant.
func (a *Authenticator) TokenByPhone(ctx context.Context, creds Credentials) (*types.TokenPair, error) {
	return a.login(ctx, creds, a.users.GetUserByPhone, "password_phone")
}

type lookupFn func(ctx context.Context, realmID, identifier string) (*types.User, error)

// login runs the credential flow. Every failure on the credential path
// surfaces as ErrInvalidCredentials on the wire; the actual reason stays
// in logs and events.
func (a *Authenticator) login(ctx context.Context, creds Credentials, lookup lookupFn, method string) (*types.TokenPair, error) {
	identifier := lockout.Normalize(creds.Identifier)

	status, err := a.lockouts.CheckLockout(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		a.metrics.LoginAttempt("locked")
		a.publish(creds.RealmID, types.SeverityWarning, types.LoginFailed{
			Identifier: identifier,
			Reason:     "account_locked",
		})
		return nil, types.ErrAccountLocked
	}

	identifier, err = a.hooks.BeforeLogin(ctx, identifier)
	if err != nil {
		a.metrics.LoginAttempt("hook_rejected")
		return nil, err
	}

	target, lookupErr := lookup(ctx, creds.RealmID, identifier)

	// Constant-time credential check: the missing-user path verifies the
	// password against the dummy digest so total work is identical.
	var verified bool
	if target == nil {
		_ = a.hasher.Verify(creds.Password, a.dummyHash)
		verified = false
	} else {
		verified = a.hasher.Verify(creds.Password, target.PasswordHash)
	}

	if lookupErr != nil && !errors.Is(lookupErr, types.ErrUserNotFound) {
		return nil, lookupErr
	}

	if !verified {
		return nil, a.loginFailed(ctx, creds, identifier, target, "invalid_credentials")
	}
	if !target.IsActive() {
		return nil, a.loginFailed(ctx, creds, identifier, target, "account_"+string(target.Status))
	}
	if !target.IsVerified {
		a.metrics.LoginAttempt("unverified")
		a.publish(creds.RealmID, types.SeverityWarning, types.LoginFailed{
			UserID:     target.ID,
			Identifier: identifier,
			Reason:     "unverified_account",
		})
		return nil, types.ErrUnverifiedAccount
	}

	if err := a.lockouts.ClearFailedAttempts(ctx, identifier); err != nil {
		a.logger.Warn("failed to clear login attempts", zap.Error(err))
	}
	if err := a.users.UpdateLastLogin(ctx, target.ID, a.cfg.Now()); err != nil {
		a.logger.Warn("failed to update last login", zap.String("user_id", target.ID), zap.Error(err))
	}

	target, err = a.hooks.AfterAuthentication(ctx, target)
	if err != nil {
		a.metrics.LoginAttempt("hook_rejected")
		return nil, err
	}

	roles, err := a.roles.ListRolesForUser(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	pair, err := a.tokens.Issue(ctx, target, roles)
	if err != nil {
		return nil, err
	}

	a.metrics.LoginAttempt("success")
	a.publish(creds.RealmID, types.SeverityInfo, types.LoginSucceeded{
		UserID: target.ID,
		Method: method,
	})
	return pair, nil
}

// loginFailed records the failure with its actual reason and returns
// the generic credential error.
func (a *Authenticator) loginFailed(ctx context.Context, creds Credentials, identifier string, target *types.User, reason string) error {
	userID := ""
	if target != nil {
		userID = target.ID
	}

	failure, err := a.hooks.AfterLoginFailure(ctx, hooks.LoginFailure{
		Identifier: identifier,
		UserID:     userID,
		Reason:     reason,
	})
	if err != nil {
		a.logger.Warn("afterLoginFailure hook failed", zap.Error(err))
	} else {
		identifier, userID, reason = failure.Identifier, failure.UserID, failure.Reason
	}

	if err := a.lockouts.RecordFailedAttempt(ctx, creds.RealmID, identifier, creds.IP, creds.UserAgent, userID, reason); err != nil {
		a.logger.Error("failed to record login attempt", zap.Error(err))
	}

	a.metrics.LoginAttempt("failure")
	a.logger.Info("login failed",
		zap.String("identifier", identifier),
		zap.String("reason", reason))
	a.publish(creds.RealmID, types.SeverityWarning, types.LoginFailed{
		UserID:     userID,
		Identifier: identifier,
		Reason:     reason,
	})
	return types.ErrInvalidCredentials
}

// ChangePassword verifies the old credential, applies the password
// policy, stores the new hash and voids outstanding reset tokens. The
// hash appears in no event, log or audit record.
func (a *Authenticator) ChangePassword(ctx context.Context, realmID, userID, oldPassword, newPassword string) error {
	target, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !a.hasher.Verify(oldPassword, target.PasswordHash) {
		a.publish(realmID, types.SeverityWarning, types.PasswordChangeFailed{
			UserID:  userID,
			ActorID: userID,
			Reason:  "invalid_credentials",
		})
		return types.ErrInvalidCredentials
	}

	if res := validation.ValidatePassword(newPassword, a.cfg.PasswordPolicy); !res.Valid() {
		a.publish(realmID, types.SeverityWarning, types.PasswordChangeFailed{
			UserID:  userID,
			ActorID: userID,
			Reason:  "weak_password",
		})
		return &hooks.ValidationError{Errors: res.Errors}
	}

	newHash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := a.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}

	if a.resets != nil {
		if _, err := a.resets.RevokeAll(ctx, userID); err != nil {
			a.logger.Warn("failed to revoke reset tokens after password change",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	a.publish(realmID, types.SeverityInfo, types.PasswordChanged{
		UserID:  userID,
		ActorID: userID,
	})
	return nil
}

// CompleteReset consumes a reset token, applies the password policy and
// stores the new hash. Every live session of the user is revoked.
func (a *Authenticator) CompleteReset(ctx context.Context, realmID, resetToken, newPassword string) error {
	if a.resets == nil {
		return errors.New("reset service is not configured")
	}

	if res := validation.ValidatePassword(newPassword, a.cfg.PasswordPolicy); !res.Valid() {
		return &hooks.ValidationError{Errors: res.Errors}
	}

	userID, err := a.resets.Consume(ctx, resetToken)
	if err != nil {
		return err
	}

	newHash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := a.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return err
	}

	if _, err := a.resets.RevokeAll(ctx, userID); err != nil {
		a.logger.Warn("failed to revoke sibling reset tokens", zap.Error(err))
	}
	if _, err := a.tokens.RevokeAllForUser(ctx, userID, realmID); err != nil {
		a.logger.Warn("failed to revoke sessions after reset", zap.Error(err))
	}

	a.publish(realmID, types.SeverityInfo, types.PasswordChanged{
		UserID:  userID,
		ActorID: userID,
	})
	return nil
}

func (a *Authenticator) publish(realmID string, sev types.Severity, p types.Payload) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(types.NewEvent(realmID, sev, p))
}
