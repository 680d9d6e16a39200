package types

import "errors"

// Domain errors shared across the core. Credential-path failures are
// reported through these values rather than exception-style control flow.
var (
	// ErrInvalidCredentials is the only error the wire ever sees for a
	// credential mismatch, regardless of the underlying reason.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnverifiedAccount is returned when the account exists but has not
	// completed contact verification.
	ErrUnverifiedAccount = errors.New("account not verified")

	// ErrAccountLocked is returned while a lockout is active.
	ErrAccountLocked = errors.New("account locked")

	// ErrUserNotFound is returned by lookups that miss.
	ErrUserNotFound = errors.New("user not found")

	// ErrProfileNotFound is returned when a user has no profile record.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrRoleNotFound is returned when assigning a role that does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrEmailAlreadyExists is returned on an email uniqueness conflict.
	ErrEmailAlreadyExists = errors.New("email already exists")

	// ErrPhoneAlreadyExists is returned on a phone uniqueness conflict.
	ErrPhoneAlreadyExists = errors.New("phone already exists")

	// ErrTokenNotFound is returned when a presented token has no record.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenRevoked is returned when a presented token is revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenExpired is returned when a presented token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenReplayDetected is returned when a refresh token is re-used
	// outside the grace window. The token family is revoked as a side
	// effect before this is returned.
	ErrTokenReplayDetected = errors.New("token replay detected")

	// ErrRateLimitExceeded is returned when a reservation is refused.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCooldownActive is returned when a reset request arrives too soon
	// after the previous accepted request for the same identifier.
	ErrCooldownActive = errors.New("cooldown active: request too soon")
)
