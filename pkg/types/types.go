// Package types contains the domain entities and events shared across the
// Kodex authentication core.
package types

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus represents the lifecycle state of a user account.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
	UserStatusLocked   UserStatus = "locked"
	UserStatusPending  UserStatus = "pending"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// User represents a user account within a realm.
// Email is stored lowercase-normalized, Phone in E.164 canonical form.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        *string    `db:"email" json:"email,omitempty"`
	Phone        *string    `db:"phone" json:"phone,omitempty"`
	PasswordHash string     `db:"password_hash" json:"-"` // Never expose in JSON
	Status       UserStatus `db:"status" json:"status"`
	IsVerified   bool       `db:"is_verified" json:"is_verified"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	RealmID      string     `db:"realm_id" json:"realm_id"`
}

// IsActive returns true if the account can authenticate.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// UserProfile holds the optional zero-or-one profile record per user.
type UserProfile struct {
	UserID     string  `db:"user_id" json:"user_id"`
	FirstName  *string `db:"first_name" json:"first_name,omitempty"`
	LastName   *string `db:"last_name" json:"last_name,omitempty"`
	Address    *string `db:"address" json:"address,omitempty"`
	PictureURL *string `db:"picture_url" json:"picture_url,omitempty"`
}

// Role is a named role scoped to a realm.
type Role struct {
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	RealmID     string `db:"realm_id" json:"realm_id"`
}

// Token represents a stored access or refresh token record.
// Only digests of the token secret are persisted, never the secret:
// TokenHash is the unsalted lookup digest, SaltedHash the salted digest
// verified after lookup.
type Token struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Type          TokenType  `db:"type" json:"type"`
	TokenHash     string     `db:"token_hash" json:"-"` // Never expose in JSON
	SaltedHash    string     `db:"salted_hash" json:"-"`
	Revoked       bool       `db:"revoked" json:"revoked"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	TokenFamily   string     `db:"token_family" json:"token_family"`
	ParentTokenID *string    `db:"parent_token_id" json:"parent_token_id,omitempty"`
	FirstUsedAt   *time.Time `db:"first_used_at" json:"first_used_at,omitempty"`
	LastUsedAt    *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RealmID       string     `db:"realm_id" json:"realm_id"`
}

// IsValid returns true if the token is neither revoked nor expired.
func (t *Token) IsValid(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

// PasswordResetToken represents a single-use password reset token record.
type PasswordResetToken struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	TokenHash    string     `db:"token_hash" json:"-"`
	SaltedHash   string     `db:"salted_hash" json:"-"`
	ContactValue string     `db:"contact_value" json:"contact_value"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt       *time.Time `db:"used_at" json:"used_at,omitempty"`
	IPAddress    *string    `db:"ip_address" json:"ip_address,omitempty"`
}

// IsLive returns true if the token can still be consumed.
func (t *PasswordResetToken) IsLive(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}

// FailedLoginAttempt is one entry in the lockout sliding window.
type FailedLoginAttempt struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Identifier string    `db:"identifier" json:"identifier"`
	IPAddress  *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string   `db:"user_agent" json:"user_agent,omitempty"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
	Reason     string    `db:"reason" json:"reason"`
}

// AccountLockout represents an active lock on an identifier.
// A nil UnlockAt means the lock is indefinite until manually cleared.
type AccountLockout struct {
	Identifier string     `db:"identifier" json:"identifier"`
	LockedAt   time.Time  `db:"locked_at" json:"locked_at"`
	UnlockAt   *time.Time `db:"unlock_at" json:"unlock_at,omitempty"`
	Reason     string     `db:"reason" json:"reason"`
}

// Expired reports whether a timed lock has elapsed.
func (l *AccountLockout) Expired(now time.Time) bool {
	return l.UnlockAt != nil && !l.UnlockAt.After(now)
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessTokenID    string    `json:"-"`
	RefreshTokenID   string    `json:"-"`
	TokenFamily      string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}
