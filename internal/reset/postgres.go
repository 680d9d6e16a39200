package reset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reset token store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const resetColumns = `id, user_id, token_hash, salted_hash, contact_value, created_at, expires_at, used_at, ip_address`

// Create stores a new reset token record.
func (s *PostgresStore) Create(ctx context.Context, token *types.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (` + resetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.SaltedHash,
		token.ContactValue,
		token.CreatedAt,
		token.ExpiresAt,
		token.UsedAt,
		token.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}
	return nil
}

// GetByHash retrieves a record by its lookup digest.
func (s *PostgresStore) GetByHash(ctx context.Context, tokenHash string) (*types.PasswordResetToken, error) {
	token := &types.PasswordResetToken{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+resetColumns+` FROM password_reset_tokens WHERE token_hash = $1`,
		tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.SaltedHash,
		&token.ContactValue,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.IPAddress,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}
	return token, nil
}

// Consume flips used_at from null. The WHERE clause makes the flip
// atomic across concurrent consumers.
func (s *PostgresStore) Consume(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used_at = $2 WHERE token_hash = $1 AND used_at IS NULL`,
		tokenHash, at)
	if err != nil {
		return false, fmt.Errorf("failed to consume reset token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to consume reset token: %w", err)
	}
	return rows == 1, nil
}

// Delete removes one record by id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reset token: %w", err)
	}
	return nil
}

// RevokeAllForUser marks every live reset token of a user used.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used_at = $2 WHERE user_id = $1 AND used_at IS NULL`,
		userID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke reset tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes records that expired before the cutoff.
func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", err)
	}
	return res.RowsAffected()
}
