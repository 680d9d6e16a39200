// Package user provides the storage interfaces and implementations for
// user accounts, profiles, roles and custom attributes.
package user

import (
	"context"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// Store defines user account storage operations.
type Store interface {
	// CreateUser stores a new user account.
	CreateUser(ctx context.Context, user *types.User) error

	// GetUserByID retrieves a user by id.
	GetUserByID(ctx context.Context, id string) (*types.User, error)

	// GetUserByEmail retrieves a user by normalized email within a realm.
	GetUserByEmail(ctx context.Context, realmID, email string) (*types.User, error)

	// GetUserByPhone retrieves a user by E.164 phone within a realm.
	GetUserByPhone(ctx context.Context, realmID, phone string) (*types.User, error)

	// UpdateUser writes the mutable columns of the user row.
	UpdateUser(ctx context.Context, user *types.User) error

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// UpdateLastLogin records a successful authentication timestamp.
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	// DeleteUser removes a user account and its dependent rows.
	DeleteUser(ctx context.Context, userID string) error

	// ApplyBatch applies a batch of user, profile and attribute writes
	// atomically. Either every write lands or none do.
	ApplyBatch(ctx context.Context, batch *Batch) error
}

// ProfileStore defines profile storage operations. Each user has zero or
// one profile record.
type ProfileStore interface {
	// GetProfile retrieves the profile for a user.
	GetProfile(ctx context.Context, userID string) (*types.UserProfile, error)

	// UpsertProfile creates or replaces the profile row.
	UpsertProfile(ctx context.Context, profile *types.UserProfile) error
}

// AttributeStore defines custom attribute storage operations.
type AttributeStore interface {
	// GetAttributes returns the full attribute map for a user.
	GetAttributes(ctx context.Context, userID string) (map[string]string, error)

	// ReplaceAttributes replaces the full attribute map for a user.
	ReplaceAttributes(ctx context.Context, userID string, attrs map[string]string) error
}

// RoleStore defines role storage operations.
type RoleStore interface {
	// CreateRole stores a new role.
	CreateRole(ctx context.Context, role *types.Role) error

	// GetRole retrieves a role by name within a realm.
	GetRole(ctx context.Context, realmID, name string) (*types.Role, error)

	// ListRolesForUser returns the role names assigned to a user.
	ListRolesForUser(ctx context.Context, userID string) ([]string, error)

	// AssignRole grants a role to a user. Assigning an already held role
	// is a no-op.
	AssignRole(ctx context.Context, userID, realmID, roleName string) error

	// RemoveRole revokes a role from a user.
	RemoveRole(ctx context.Context, userID, realmID, roleName string) error
}

// Batch carries the writes of one atomic multi-entity update. Nil members
// are skipped.
type Batch struct {
	UserID string

	// User, when set, replaces the mutable columns of the user row.
	User *types.User

	// Profile, when set, is upserted.
	Profile *types.UserProfile

	// Attributes, when set, replaces the full attribute map.
	Attributes map[string]string
}

// IsEmpty reports whether the batch carries no writes.
func (b *Batch) IsEmpty() bool {
	return b.User == nil && b.Profile == nil && b.Attributes == nil
}
