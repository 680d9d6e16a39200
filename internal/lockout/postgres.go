package lockout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// PostgresStore implements AttemptStore and LockStore on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed lockout store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RecordAttempt inserts one failed attempt.
func (s *PostgresStore) RecordAttempt(ctx context.Context, attempt *types.FailedLoginAttempt) error {
	query := `
		INSERT INTO failed_login_attempts (id, identifier, ip_address, user_agent, timestamp, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.Identifier,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Timestamp,
		attempt.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// CountAttempts counts attempts for an identifier since the cutoff.
func (s *PostgresStore) CountAttempts(ctx context.Context, identifier string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_login_attempts WHERE identifier = $1 AND timestamp >= $2`,
		identifier, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

// ClearAttempts wipes the window for an identifier.
func (s *PostgresStore) ClearAttempts(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM failed_login_attempts WHERE identifier = $1`, identifier)
	if err != nil {
		return fmt.Errorf("failed to clear attempts: %w", err)
	}
	return nil
}

// DeleteOlderThan prunes attempts before the cutoff.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM failed_login_attempts WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", err)
	}
	return res.RowsAffected()
}

// UpsertLock creates or refreshes the lock for an identifier.
func (s *PostgresStore) UpsertLock(ctx context.Context, lock *types.AccountLockout) error {
	query := `
		INSERT INTO account_lockouts (identifier, locked_at, unlock_at, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier) DO UPDATE SET
			locked_at = EXCLUDED.locked_at,
			unlock_at = EXCLUDED.unlock_at,
			reason = EXCLUDED.reason
	`
	_, err := s.db.ExecContext(ctx, query,
		lock.Identifier,
		lock.LockedAt,
		lock.UnlockAt,
		lock.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert lockout: %w", err)
	}
	return nil
}

// GetLock retrieves the lock for an identifier, or nil when none.
func (s *PostgresStore) GetLock(ctx context.Context, identifier string) (*types.AccountLockout, error) {
	lock := &types.AccountLockout{}
	err := s.db.QueryRowContext(ctx,
		`SELECT identifier, locked_at, unlock_at, reason FROM account_lockouts WHERE identifier = $1`,
		identifier).Scan(&lock.Identifier, &lock.LockedAt, &lock.UnlockAt, &lock.Reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lockout: %w", err)
	}
	return lock, nil
}

// DeleteLock removes the lock for an identifier.
func (s *PostgresStore) DeleteLock(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM account_lockouts WHERE identifier = $1`, identifier)
	if err != nil {
		return fmt.Errorf("failed to delete lockout: %w", err)
	}
	return nil
}
