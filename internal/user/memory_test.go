package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodex-auth/go-core/pkg/types"
)

func strptr(s string) *string { return &s }

func newTestUser(realm, email string) *types.User {
	now := time.Now().UTC()
	return &types.User{
		ID:           uuid.NewString(),
		Email:        strptr(email),
		PasswordHash: "$argon2id$...",
		Status:       types.UserStatusActive,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
		RealmID:      realm,
	}
}

func TestMemoryStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u := newTestUser("acme", "alice@example.com")
	u.Phone = strptr("+14155550123")
	require.NoError(t, store.CreateUser(ctx, u))

	byID, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byID.ID)

	byEmail, err := store.GetUserByEmail(ctx, "acme", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byPhone, err := store.GetUserByPhone(ctx, "acme", "+14155550123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byPhone.ID)

	_, err = store.GetUserByEmail(ctx, "other-realm", "alice@example.com")
	assert.ErrorIs(t, err, types.ErrUserNotFound)
}

func TestMemoryStore_EmailUniquePerRealm(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateUser(ctx, newTestUser("acme", "dup@example.com")))

	err := store.CreateUser(ctx, newTestUser("acme", "dup@example.com"))
	assert.ErrorIs(t, err, types.ErrEmailAlreadyExists)

	// Same email in a different realm is allowed.
	assert.NoError(t, store.CreateUser(ctx, newTestUser("beta", "dup@example.com")))
}

func TestMemoryStore_UpdateUserConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := newTestUser("acme", "a@example.com")
	b := newTestUser("acme", "b@example.com")
	require.NoError(t, store.CreateUser(ctx, a))
	require.NoError(t, store.CreateUser(ctx, b))

	b.Email = strptr("a@example.com")
	assert.ErrorIs(t, store.UpdateUser(ctx, b), types.ErrEmailAlreadyExists)
}

func TestMemoryStore_ApplyBatchRollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := newTestUser("acme", "a@example.com")
	b := newTestUser("acme", "b@example.com")
	require.NoError(t, store.CreateUser(ctx, a))
	require.NoError(t, store.CreateUser(ctx, b))
	require.NoError(t, store.ReplaceAttributes(ctx, b.ID, map[string]string{"plan": "free"}))

	updated := *b
	updated.Email = strptr("a@example.com") // collides with a

	err := store.ApplyBatch(ctx, &Batch{
		UserID:     b.ID,
		User:       &updated,
		Attributes: map[string]string{"plan": "pro"},
	})
	require.ErrorIs(t, err, types.ErrEmailAlreadyExists)

	// Nothing from the batch is visible.
	current, err := store.GetUserByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", *current.Email)

	attrs, err := store.GetAttributes(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plan": "free"}, attrs)
}

func TestMemoryStore_ApplyBatchAtomicSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u := newTestUser("acme", "c@example.com")
	require.NoError(t, store.CreateUser(ctx, u))

	updated := *u
	updated.IsVerified = false

	err := store.ApplyBatch(ctx, &Batch{
		UserID:     u.ID,
		User:       &updated,
		Profile:    &types.UserProfile{UserID: u.ID, FirstName: strptr("Carol")},
		Attributes: map[string]string{"tier": "gold"},
	})
	require.NoError(t, err)

	current, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, current.IsVerified)

	profile, err := store.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carol", *profile.FirstName)

	attrs, err := store.GetAttributes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "gold", attrs["tier"])
}

func TestMemoryStore_DeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u := newTestUser("acme", "d@example.com")
	require.NoError(t, store.CreateUser(ctx, u))
	require.NoError(t, store.UpsertProfile(ctx, &types.UserProfile{UserID: u.ID}))
	require.NoError(t, store.ReplaceAttributes(ctx, u.ID, map[string]string{"k": "v"}))

	require.NoError(t, store.DeleteUser(ctx, u.ID))

	_, err := store.GetUserByID(ctx, u.ID)
	assert.ErrorIs(t, err, types.ErrUserNotFound)
	_, err = store.GetProfile(ctx, u.ID)
	assert.ErrorIs(t, err, types.ErrProfileNotFound)
	attrs, err := store.GetAttributes(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, attrs)

	assert.ErrorIs(t, store.DeleteUser(ctx, u.ID), types.ErrUserNotFound)
}

func TestMemoryStore_Roles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u := newTestUser("acme", "e@example.com")
	require.NoError(t, store.CreateUser(ctx, u))

	require.NoError(t, store.CreateRole(ctx, &types.Role{Name: "admin", RealmID: "acme"}))
	require.NoError(t, store.CreateRole(ctx, &types.Role{Name: "viewer", RealmID: "acme"}))

	assert.ErrorIs(t, store.AssignRole(ctx, u.ID, "acme", "missing"), types.ErrRoleNotFound)

	require.NoError(t, store.AssignRole(ctx, u.ID, "acme", "viewer"))
	require.NoError(t, store.AssignRole(ctx, u.ID, "acme", "admin"))
	// Re-assigning is a no-op.
	require.NoError(t, store.AssignRole(ctx, u.ID, "acme", "admin"))

	names, err := store.ListRolesForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "viewer"}, names)

	require.NoError(t, store.RemoveRole(ctx, u.ID, "acme", "admin"))
	names, err = store.ListRolesForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer"}, names)
}

func TestMemoryStore_UpdatePasswordAndLastLogin(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u := newTestUser("acme", "f@example.com")
	require.NoError(t, store.CreateUser(ctx, u))

	require.NoError(t, store.UpdatePassword(ctx, u.ID, "$argon2id$new"))
	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.UpdateLastLogin(ctx, u.ID, at))

	current, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$new", current.PasswordHash)
	require.NotNil(t, current.LastLoginAt)
	assert.True(t, current.LastLoginAt.Equal(at))

	assert.ErrorIs(t, store.UpdatePassword(ctx, "nope", "x"), types.ErrUserNotFound)
}
