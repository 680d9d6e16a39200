package types

import (
	"time"

	"github.com/google/uuid"
)

// EventKind tags the payload variant carried by an Event.
type EventKind string

const (
	KindLoginSucceeded       EventKind = "login_succeeded"
	KindLoginFailed          EventKind = "login_failed"
	KindPasswordChanged      EventKind = "password_changed"
	KindPasswordChangeFailed EventKind = "password_change_failed"
	KindTokenIssued          EventKind = "token_issued"
	KindTokenRefreshed       EventKind = "token_refreshed"
	KindTokenRefreshFailed   EventKind = "token_refresh_failed"
	KindTokenVerifyFailed    EventKind = "token_verify_failed"
	KindTokenRevoked         EventKind = "token_revoked"
	KindTokenReplayDetected  EventKind = "token_replay_detected"
	KindRateLimitExceeded    EventKind = "rate_limit_exceeded"
	KindAccountLocked        EventKind = "account_locked"
	KindAccountUnlocked      EventKind = "account_unlocked"
	KindSessionCreated       EventKind = "session_created"
	KindSessionRevoked       EventKind = "session_revoked"
	KindSessionExpired       EventKind = "session_expired"
	KindSessionActivity      EventKind = "session_activity"
	KindSessionAnomaly       EventKind = "session_anomaly"
	KindUserCreated          EventKind = "user_created"
	KindUserUpdated          EventKind = "user_updated"
	KindUserRolesUpdated     EventKind = "user_roles_updated"
	KindUserAttrsUpdated     EventKind = "user_attributes_updated"
	KindUserAttrsReplaced    EventKind = "user_attributes_replaced"
	KindVerificationSent     EventKind = "verification_sent"
	KindVerificationDone     EventKind = "verification_succeeded"
	KindVerificationFailed   EventKind = "verification_failed"

	// KindAll subscribes to every event regardless of tag.
	KindAll EventKind = "*"
)

// Severity classifies an event for downstream consumers.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Header carries the fields common to every published event.
type Header struct {
	EventID        string            `json:"event_id"`
	Timestamp      time.Time         `json:"timestamp"`
	RealmID        string            `json:"realm_id"`
	Severity       Severity          `json:"severity"`
	SchemaVersion  int               `json:"schema_version"`
	RequestID      string            `json:"request_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	SourceIP       string            `json:"source_ip,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	CausedByEvent  string            `json:"caused_by_event_id,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// Payload is the per-kind body of an event.
type Payload interface {
	Kind() EventKind
}

// Event is a tagged variant: a common header plus a typed payload.
type Event struct {
	Header  Header
	Payload Payload
}

// Kind returns the tag of the carried payload.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// NewEvent builds an event with a fresh id, the given realm and severity,
// and a timestamp of now.
func NewEvent(realmID string, sev Severity, p Payload) Event {
	return Event{
		Header: Header{
			EventID:       uuid.NewString(),
			Timestamp:     time.Now(),
			RealmID:       realmID,
			Severity:      sev,
			SchemaVersion: 1,
		},
		Payload: p,
	}
}

// LoginSucceeded is published after a successful credential login.
type LoginSucceeded struct {
	UserID string `json:"user_id"`
	Method string `json:"method"`
}

func (LoginSucceeded) Kind() EventKind { return KindLoginSucceeded }

// LoginFailed is published when a credential login is rejected.
// UserID is empty when the identifier did not resolve to a user.
type LoginFailed struct {
	UserID     string `json:"user_id,omitempty"`
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

func (LoginFailed) Kind() EventKind { return KindLoginFailed }

// PasswordChanged is published after a password update.
type PasswordChanged struct {
	UserID  string `json:"user_id"`
	ActorID string `json:"actor_id"`
}

func (PasswordChanged) Kind() EventKind { return KindPasswordChanged }

// PasswordChangeFailed is published when a password update is rejected.
type PasswordChangeFailed struct {
	UserID  string `json:"user_id"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

func (PasswordChangeFailed) Kind() EventKind { return KindPasswordChangeFailed }

// TokenIssued is published for every freshly issued token pair.
type TokenIssued struct {
	UserID      string `json:"user_id"`
	TokenID     string `json:"token_id"`
	TokenFamily string `json:"token_family"`
}

func (TokenIssued) Kind() EventKind { return KindTokenIssued }

// TokenRefreshed is published after a successful refresh rotation.
type TokenRefreshed struct {
	UserID     string `json:"user_id"`
	OldTokenID string `json:"old_token_id"`
	NewTokenID string `json:"new_token_id"`
}

func (TokenRefreshed) Kind() EventKind { return KindTokenRefreshed }

// TokenRefreshFailed is published when a refresh call is rejected.
type TokenRefreshFailed struct {
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason"`
}

func (TokenRefreshFailed) Kind() EventKind { return KindTokenRefreshFailed }

// TokenVerifyFailed is published when token verification is rejected.
type TokenVerifyFailed struct {
	Reason string `json:"reason"`
}

func (TokenVerifyFailed) Kind() EventKind { return KindTokenVerifyFailed }

// TokenRevoked is published after explicit token revocation.
type TokenRevoked struct {
	UserID   string   `json:"user_id"`
	TokenIDs []string `json:"token_ids"`
}

func (TokenRevoked) Kind() EventKind { return KindTokenRevoked }

// TokenReplayDetected is published when a refresh token is re-used outside
// its grace window. The whole family is revoked before this is published.
type TokenReplayDetected struct {
	UserID      string `json:"user_id"`
	TokenID     string `json:"token_id"`
	TokenFamily string `json:"token_family"`
}

func (TokenReplayDetected) Kind() EventKind { return KindTokenReplayDetected }

// RateLimitExceeded is published when a reservation is refused.
type RateLimitExceeded struct {
	LimitKey string `json:"limit_key"`
}

func (RateLimitExceeded) Kind() EventKind { return KindRateLimitExceeded }

// AccountLocked is published when the failure threshold locks an identifier.
type AccountLocked struct {
	Identifier string     `json:"identifier"`
	UserID     string     `json:"user_id,omitempty"`
	UnlockAt   *time.Time `json:"unlock_at,omitempty"`
	Reason     string     `json:"reason"`
}

func (AccountLocked) Kind() EventKind { return KindAccountLocked }

// AccountUnlocked is published on manual unlock.
type AccountUnlocked struct {
	Identifier string `json:"identifier"`
	ActorID    string `json:"actor_id"`
}

func (AccountUnlocked) Kind() EventKind { return KindAccountUnlocked }

// SessionEvent covers session created / revoked / expired / activity /
// anomaly; the concrete kind is carried explicitly.
type SessionEvent struct {
	K         EventKind `json:"-"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Detail    string    `json:"detail,omitempty"`
}

func (s SessionEvent) Kind() EventKind { return s.K }

// UserMutated covers user created / updated / roles-updated /
// attributes-updated / attributes-replaced.
type UserMutated struct {
	K       EventKind      `json:"-"`
	UserID  string         `json:"user_id"`
	ActorID string         `json:"actor_id,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
}

func (u UserMutated) Kind() EventKind { return u.K }

// VerificationEvent covers email/phone verification sent / verified / failed.
type VerificationEvent struct {
	K       EventKind `json:"-"`
	UserID  string    `json:"user_id"`
	Channel string    `json:"channel"` // "email" or "phone"
	Reason  string    `json:"reason,omitempty"`
}

func (v VerificationEvent) Kind() EventKind { return v.K }
