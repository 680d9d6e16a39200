package types

import "time"

// ActorType classifies who performed an audited action.
type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorAdmin     ActorType = "admin"
	ActorSystem    ActorType = "system"
	ActorAnonymous ActorType = "anonymous"
)

// AuditResult classifies the outcome of an audited action.
type AuditResult string

const (
	ResultSuccess        AuditResult = "success"
	ResultFailure        AuditResult = "failure"
	ResultPartialSuccess AuditResult = "partial_success"
)

// Audit event type strings, stable across releases.
const (
	AuditLoginSuccess         = "LOGIN_SUCCESS"
	AuditLoginFailed          = "LOGIN_FAILED"
	AuditPasswordChanged      = "PASSWORD_CHANGED"
	AuditPasswordChangeFailed = "PASSWORD_CHANGE_FAILED"
	AuditTokenIssued          = "TOKEN_ISSUED"
	AuditTokenRefreshed       = "TOKEN_REFRESHED"
	AuditTokenRefreshFailed   = "TOKEN_REFRESH_FAILED"
	AuditTokenVerifyFailed    = "TOKEN_VERIFY_FAILED"
	AuditTokenRevoked         = "TOKEN_REVOKED"
	AuditSecurityViolation    = "SECURITY_VIOLATION"
	AuditRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	AuditAccountLocked        = "ACCOUNT_LOCKED"
	AuditAccountUnlocked      = "ACCOUNT_UNLOCKED"
	AuditSessionCreated       = "SESSION_CREATED"
	AuditSessionRevoked       = "SESSION_REVOKED"
	AuditSessionExpired       = "SESSION_EXPIRED"
	AuditSessionActivity      = "SESSION_ACTIVITY"
	AuditSessionAnomaly       = "SESSION_ANOMALY"
	AuditUserCreated          = "USER_CREATED"
	AuditUserUpdated          = "USER_UPDATED"
	AuditUserRolesUpdated     = "USER_ROLES_UPDATED"
	AuditUserAttrsUpdated     = "USER_ATTRIBUTES_UPDATED"
	AuditUserAttrsReplaced    = "USER_ATTRIBUTES_REPLACED"
)

// AuditRecord is one persisted audit log entry. Metadata is sanitized
// before the record reaches any store.
type AuditRecord struct {
	ID         string         `db:"id" json:"id"`
	EventType  string         `db:"event_type" json:"event_type"`
	Timestamp  time.Time      `db:"timestamp" json:"timestamp"`
	ActorID    *string        `db:"actor_id" json:"actor_id,omitempty"`
	ActorType  ActorType      `db:"actor_type" json:"actor_type"`
	TargetID   *string        `db:"target_id" json:"target_id,omitempty"`
	TargetType *string        `db:"target_type" json:"target_type,omitempty"`
	Result     AuditResult    `db:"result" json:"result"`
	RealmID    string         `db:"realm_id" json:"realm_id"`
	Metadata   map[string]any `db:"metadata" json:"metadata,omitempty"`
	SessionID  *string        `db:"session_id" json:"session_id,omitempty"`
	Severity   Severity       `db:"severity" json:"severity"`
}
