package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/kodex-auth/go-core/pkg/types"
)

// PostgresStore implements Store, ProfileStore, AttributeStore and
// RoleStore on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, email, phone, password_hash, status, is_verified, created_at, updated_at, last_login_at, realm_id`

// CreateUser stores a new user account.
func (s *PostgresStore) CreateUser(ctx context.Context, user *types.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Phone,
		user.PasswordHash,
		user.Status,
		user.IsVerified,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLoginAt,
		user.RealmID,
	)
	if err != nil {
		return mapConstraintErr(err, "failed to create user")
	}
	return nil
}

// GetUserByID retrieves a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by normalized email within a realm.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, realmID, email string) (*types.User, error) {
	return s.getUser(ctx,
		`SELECT `+userColumns+` FROM users WHERE realm_id = $1 AND email = $2`,
		realmID, email)
}

// GetUserByPhone retrieves a user by E.164 phone within a realm.
func (s *PostgresStore) GetUserByPhone(ctx context.Context, realmID, phone string) (*types.User, error) {
	return s.getUser(ctx,
		`SELECT `+userColumns+` FROM users WHERE realm_id = $1 AND phone = $2`,
		realmID, phone)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, args ...any) (*types.User, error) {
	user := &types.User{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Phone,
		&user.PasswordHash,
		&user.Status,
		&user.IsVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
		&user.RealmID,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateUser writes the mutable columns of the user row.
func (s *PostgresStore) UpdateUser(ctx context.Context, user *types.User) error {
	return updateUserExec(ctx, s.db, user)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateUserExec(ctx context.Context, db execer, user *types.User) error {
	query := `
		UPDATE users
		SET email = $2, phone = $3, status = $4, is_verified = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Phone,
		user.Status,
		user.IsVerified,
		time.Now().UTC(),
	)
	if err != nil {
		return mapConstraintErr(err, "failed to update user")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if rows == 0 {
		return types.ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if rows == 0 {
		return types.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin records a successful authentication timestamp.
func (s *PostgresStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`,
		userID, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// DeleteUser removes a user account. Dependent rows are removed by the
// ON DELETE CASCADE constraints on the child tables.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if rows == 0 {
		return types.ErrUserNotFound
	}
	return nil
}

// ApplyBatch applies the batch inside a single transaction.
func (s *PostgresStore) ApplyBatch(ctx context.Context, batch *Batch) error {
	if batch.IsEmpty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	if batch.User != nil {
		if err := updateUserExec(ctx, tx, batch.User); err != nil {
			return err
		}
	}
	if batch.Profile != nil {
		if err := upsertProfileExec(ctx, tx, batch.Profile); err != nil {
			return err
		}
	}
	if batch.Attributes != nil {
		if err := replaceAttributesExec(ctx, tx, batch.UserID, batch.Attributes); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return mapConstraintErr(err, "failed to commit batch")
	}
	return nil
}

// GetProfile retrieves the profile for a user.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	query := `
		SELECT user_id, first_name, last_name, address, picture_url
		FROM user_profiles
		WHERE user_id = $1
	`
	profile := &types.UserProfile{}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.FirstName,
		&profile.LastName,
		&profile.Address,
		&profile.PictureURL,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

// UpsertProfile creates or replaces the profile row.
func (s *PostgresStore) UpsertProfile(ctx context.Context, profile *types.UserProfile) error {
	return upsertProfileExec(ctx, s.db, profile)
}

func upsertProfileExec(ctx context.Context, db execer, profile *types.UserProfile) error {
	query := `
		INSERT INTO user_profiles (user_id, first_name, last_name, address, picture_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			address = EXCLUDED.address,
			picture_url = EXCLUDED.picture_url
	`
	_, err := db.ExecContext(ctx, query,
		profile.UserID,
		profile.FirstName,
		profile.LastName,
		profile.Address,
		profile.PictureURL,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetAttributes returns the full attribute map for a user.
func (s *PostgresStore) GetAttributes(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM user_attributes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		attrs[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}
	return attrs, nil
}

// ReplaceAttributes replaces the full attribute map for a user.
func (s *PostgresStore) ReplaceAttributes(ctx context.Context, userID string, attrs map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin attribute replace: %w", err)
	}
	defer tx.Rollback()

	if err := replaceAttributesExec(ctx, tx, userID, attrs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attribute replace: %w", err)
	}
	return nil
}

func replaceAttributesExec(ctx context.Context, db execer, userID string, attrs map[string]string) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM user_attributes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear attributes: %w", err)
	}
	for k, v := range attrs {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO user_attributes (user_id, key, value) VALUES ($1, $2, $3)`,
			userID, k, v); err != nil {
			return fmt.Errorf("failed to write attribute %s: %w", k, err)
		}
	}
	return nil
}

// CreateRole stores a new role.
func (s *PostgresStore) CreateRole(ctx context.Context, role *types.Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (name, description, realm_id) VALUES ($1, $2, $3)`,
		role.Name, role.Description, role.RealmID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by name within a realm.
func (s *PostgresStore) GetRole(ctx context.Context, realmID, name string) (*types.Role, error) {
	role := &types.Role{}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, realm_id FROM roles WHERE realm_id = $1 AND name = $2`,
		realmID, name).Scan(&role.Name, &role.Description, &role.RealmID)
	if err == sql.ErrNoRows {
		return nil, types.ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRolesForUser returns the role names assigned to a user.
func (s *PostgresStore) ListRolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name
		FROM roles r
		JOIN user_roles ur ON ur.role_name = r.name AND ur.realm_id = r.realm_id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", err)
	}
	return names, nil
}

// AssignRole grants a role to a user.
func (s *PostgresStore) AssignRole(ctx context.Context, userID, realmID, roleName string) error {
	if _, err := s.GetRole(ctx, realmID, roleName); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_name, realm_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, userID, roleName, realmID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RemoveRole revokes a role from a user.
func (s *PostgresStore) RemoveRole(ctx context.Context, userID, realmID, roleName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_name = $2 AND realm_id = $3`,
		userID, roleName, realmID)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// mapConstraintErr converts unique-violation errors on the email and
// phone indexes into their domain sentinels.
func mapConstraintErr(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch {
		case strings.Contains(pqErr.Constraint, "email"):
			return types.ErrEmailAlreadyExists
		case strings.Contains(pqErr.Constraint, "phone"):
			return types.ErrPhoneAlreadyExists
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
