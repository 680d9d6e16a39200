package db

// Table names.
const (
	TableUsers               = "users"
	TableUserProfiles        = "user_profiles"
	TableUserAttributes      = "user_attributes"
	TableRoles               = "roles"
	TableUserRoles           = "user_roles"
	TableTokens              = "tokens"
	TablePasswordResetTokens = "password_reset_tokens"
	TableFailedLoginAttempts = "failed_login_attempts"
	TableAccountLockouts     = "account_lockouts"
	TableAuditLogs           = "audit_logs"
)

// Column names shared across stores.
const (
	ColID        = "id"
	ColRealmID   = "realm_id"
	ColUserID    = "user_id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColExpiresAt = "expires_at"

	ColEmail        = "email"
	ColPhone        = "phone"
	ColPasswordHash = "password_hash"
	ColStatus       = "status"
	ColIsVerified   = "is_verified"
	ColLastLoginAt  = "last_login_at"

	ColTokenHash     = "token_hash"
	ColSaltedHash    = "salted_hash"
	ColTokenFamily   = "token_family"
	ColParentTokenID = "parent_token_id"
	ColFirstUsedAt   = "first_used_at"
	ColLastUsedAt    = "last_used_at"
	ColRevoked       = "revoked"

	ColIdentifier = "identifier"
	ColIPAddress  = "ip_address"
	ColUserAgent  = "user_agent"
	ColTimestamp  = "timestamp"
	ColReason     = "reason"
	ColLockedAt   = "locked_at"
	ColUnlockAt   = "unlock_at"

	ColEventType = "event_type"
	ColActorID   = "actor_id"
	ColActorType = "actor_type"
	ColTargetID  = "target_id"
	ColResult    = "result"
	ColMetadata  = "metadata"
	ColSessionID = "session_id"
	ColSeverity  = "severity"
)

// Unique constraint names mapped to domain errors by the user store.
const (
	ConstraintUserEmail = "users_realm_email_key"
	ConstraintUserPhone = "users_realm_phone_key"
)
