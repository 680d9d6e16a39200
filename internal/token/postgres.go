package token

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

// NewPostgresStore creates a new PostgreSQL-backed token store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `id, user_id, type, token_hash, salted_hash, revoked, created_at, expires_at, token_family, parent_token_id, first_used_at, last_used_at, realm_id`

// CreateToken stores a new token record.
func (s *PostgresStore) CreateToken(ctx context.Context, token *types.Token) error {
	query := `
		INSERT INTO tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.Type,
		token.TokenHash,
		token.SaltedHash,
		token.Revoked,
		token.CreatedAt,
		token.ExpiresAt,
		token.TokenFamily,
		token.ParentTokenID,
		token.FirstUsedAt,
		token.LastUsedAt,
		token.RealmID,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// GetTokenByHash retrieves a token record by its lookup digest.
func (s *PostgresStore) GetTokenByHash(ctx context.Context, tokenHash string) (*types.Token, error) {
	return s.getToken(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE token_hash = $1`, tokenHash)
}

// GetChildToken retrieves the rotation child of the given parent token.
// A parent can accumulate revoked children over replay recoveries; the
// live one wins, then the newest.
func (s *PostgresStore) GetChildToken(ctx context.Context, parentTokenID string) (*types.Token, error) {
	return s.getToken(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE parent_token_id = $1 ORDER BY revoked ASC, created_at DESC LIMIT 1`,
		parentTokenID)
}

func (s *PostgresStore) getToken(ctx context.Context, query string, args ...any) (*types.Token, error) {
	token := &types.Token{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.Type,
		&token.TokenHash,
		&token.SaltedHash,
		&token.Revoked,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.TokenFamily,
		&token.ParentTokenID,
		&token.FirstUsedAt,
		&token.LastUsedAt,
		&token.RealmID,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// MarkFirstUse flips first_used_at from null. The WHERE clause makes the
// flip atomic: exactly one concurrent caller sees one affected row.
func (s *PostgresStore) MarkFirstUse(ctx context.Context, tokenID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET first_used_at = $2 WHERE id = $1 AND first_used_at IS NULL`,
		tokenID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark first use: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark first use: %w", err)
	}
	return rows == 1, nil
}

// UpdateLastUsed records token activity.
func (s *PostgresStore) UpdateLastUsed(ctx context.Context, tokenID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET last_used_at = $2 WHERE id = $1`, tokenID, at)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// Revoke marks one token revoked.
func (s *PostgresStore) Revoke(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET revoked = TRUE WHERE id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if rows == 0 {
		return types.ErrTokenNotFound
	}
	return nil
}

// RevokeAllForUser marks every live token of a user revoked.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return res.RowsAffected()
}

// RevokeFamily marks every token of a family revoked.
func (s *PostgresStore) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET revoked = TRUE WHERE token_family = $1 AND revoked = FALSE`, familyID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke token family: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes tokens that expired before the cutoff.
func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}
