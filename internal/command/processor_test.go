package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/hooks"
	"github.com/kodex-auth/go-core/internal/user"
	"github.com/kodex-auth/go-core/internal/validation"
	"github.com/kodex-auth/go-core/pkg/types"
)

func strptr(s string) *string { return &s }

func newFixture(t *testing.T, hookList ...hooks.Hook) (*Processor, *user.MemoryStore, *types.User) {
	t.Helper()

	store := user.NewMemoryStore()
	registry := hooks.NewRegistry()
	for _, h := range hookList {
		registry.Add(h)
	}
	executor, err := hooks.NewExecutor(registry, hooks.FailFast, zap.NewNop())
	require.NoError(t, err)

	proc, err := NewProcessor(store, store, store, executor, nil, Config{})
	require.NoError(t, err)

	now := time.Now().UTC()
	u := &types.User{
		ID:         uuid.NewString(),
		Email:      strptr("alice@example.com"),
		Status:     types.UserStatusActive,
		IsVerified: true,
		CreatedAt:  now,
		UpdatedAt:  now,
		RealmID:    "acme",
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return proc, store, u
}

func TestUpdateUserFields_SetAndClear(t *testing.T) {
	proc, store, u := newFixture(t)
	ctx := context.Background()

	res := proc.UpdateUserFields(ctx, u.ID, UserFieldUpdates{
		Email: SetValue("  Alice+New@Example.COM "),
		Phone: SetValue("+14155550123"),
	})
	success, ok := res.(Success)
	require.True(t, ok, "got %#v", res)
	assert.Len(t, success.Changes, 2)
	assert.Equal(t, "alice+new@example.com", *success.User.Email)
	assert.Equal(t, "+14155550123", *success.User.Phone)

	// Clearing the phone nulls the column.
	res = proc.UpdateUserFields(ctx, u.ID, UserFieldUpdates{Phone: ClearValue[string]()})
	success, ok = res.(Success)
	require.True(t, ok)
	require.Len(t, success.Changes, 1)
	assert.Equal(t, "phone", success.Changes[0].Field)

	current, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, current.Phone)
}

func TestUpdateUserFields_NoChangeIsEmptySuccess(t *testing.T) {
	proc, _, u := newFixture(t)

	// Setting the same email again detects no change.
	res := proc.UpdateUserFields(context.Background(), u.ID, UserFieldUpdates{
		Email: SetValue("alice@example.com"),
	})
	success, ok := res.(Success)
	require.True(t, ok)
	assert.Empty(t, success.Changes)
}

func TestUpdateUserFields_NotFound(t *testing.T) {
	proc, _, _ := newFixture(t)

	res := proc.UpdateUserFields(context.Background(), "missing", UserFieldUpdates{
		IsVerified: SetValue(false),
	})
	assert.IsType(t, NotFound{}, res)
}

func TestUpdateUserFields_InvalidEmail(t *testing.T) {
	proc, store, u := newFixture(t)

	res := proc.UpdateUserFields(context.Background(), u.ID, UserFieldUpdates{
		Email: SetValue("not-an-email"),
	})
	failed, ok := res.(ValidationFailed)
	require.True(t, ok, "got %#v", res)
	assert.NotEmpty(t, failed.Errors)

	// Original state preserved.
	current, err := store.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", *current.Email)
}

func TestUpdateUserFields_ConstraintViolation(t *testing.T) {
	proc, store, u := newFixture(t)
	ctx := context.Background()

	other := &types.User{
		ID:      uuid.NewString(),
		Email:   strptr("taken@example.com"),
		Status:  types.UserStatusActive,
		RealmID: "acme",
	}
	require.NoError(t, store.CreateUser(ctx, other))

	res := proc.UpdateUserFields(ctx, u.ID, UserFieldUpdates{
		Email: SetValue("taken@example.com"),
	})
	violation, ok := res.(ConstraintViolation)
	require.True(t, ok, "got %#v", res)
	assert.Equal(t, "email", violation.Field)
}

// rejectingHook raises a validation error for a blocked email domain.
type rejectingHook struct{}

func (rejectingHook) Name() string  { return "domain-policy" }
func (rejectingHook) Priority() int { return 0 }

func (rejectingHook) BeforeUserUpdate(_ context.Context, u *types.User) (*types.User, error) {
	if u.Email != nil && *u.Email == "blocked@example.com" {
		return u, &hooks.ValidationError{Errors: []validation.FieldError{
			{Code: "email.policy", Message: "domain not allowed"},
		}}
	}
	return u, nil
}

func TestUpdateUserFields_HookValidationBecomesTypedFailure(t *testing.T) {
	proc, _, u := newFixture(t, rejectingHook{})

	res := proc.UpdateUserFields(context.Background(), u.ID, UserFieldUpdates{
		Email: SetValue("blocked@example.com"),
	})
	failed, ok := res.(ValidationFailed)
	require.True(t, ok, "got %#v", res)
	require.Len(t, failed.Errors, 1)
	assert.Equal(t, "email.policy", failed.Errors[0].Code)
}

// erroringHook fails with an infrastructure error.
type erroringHook struct{}

func (erroringHook) Name() string  { return "flaky" }
func (erroringHook) Priority() int { return 0 }

func (erroringHook) BeforeUserUpdate(_ context.Context, u *types.User) (*types.User, error) {
	return u, errors.New("downstream unavailable")
}

func TestUpdateUserFields_HookInfrastructureErrorIsUnknown(t *testing.T) {
	proc, _, u := newFixture(t, erroringHook{})

	res := proc.UpdateUserFields(context.Background(), u.ID, UserFieldUpdates{
		IsVerified: SetValue(false),
	})
	assert.IsType(t, Unknown{}, res)
}

func TestUpdateProfileFields_CreatesProfileOnFirstUpdate(t *testing.T) {
	proc, store, u := newFixture(t)
	ctx := context.Background()

	res := proc.UpdateProfileFields(ctx, u.ID, ProfileFieldUpdates{
		FirstName: SetValue("Alice"),
		LastName:  SetValue("Smith"),
	})
	success, ok := res.(Success)
	require.True(t, ok, "got %#v", res)
	assert.Len(t, success.Changes, 2)

	profile, err := store.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", *profile.FirstName)

	// Clearing a field nulls it.
	res = proc.UpdateProfileFields(ctx, u.ID, ProfileFieldUpdates{LastName: ClearValue[string]()})
	_, ok = res.(Success)
	require.True(t, ok)
	profile, err = store.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, profile.LastName)
}

func TestUpdateAttributes_OrderedSequence(t *testing.T) {
	proc, store, u := newFixture(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAttributes(ctx, u.ID, map[string]string{"plan": "free", "beta": "yes"}))

	res := proc.UpdateAttributes(ctx, u.ID, []AttributeOp{
		Set("plan", "pro"),
		Remove("beta"),
		Set("region", "eu"),
	})
	success, ok := res.(Success)
	require.True(t, ok, "got %#v", res)
	assert.Len(t, success.Changes, 3)

	attrs, err := store.GetAttributes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plan": "pro", "region": "eu"}, attrs)
}

func TestUpdateAttributes_ReplaceAllSupersedes(t *testing.T) {
	proc, store, u := newFixture(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAttributes(ctx, u.ID, map[string]string{"plan": "free"}))

	// Set and Remove around the ReplaceAll are ignored.
	res := proc.UpdateAttributes(ctx, u.ID, []AttributeOp{
		Set("plan", "pro"),
		ReplaceAll(map[string]string{"tier": "gold"}),
		Remove("tier"),
	})
	_, ok := res.(Success)
	require.True(t, ok, "got %#v", res)

	attrs, err := store.GetAttributes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tier": "gold"}, attrs)
}

func TestUpdateAttributes_LimitViolation(t *testing.T) {
	proc, _, u := newFixture(t)

	res := proc.UpdateAttributes(context.Background(), u.ID, []AttributeOp{
		Set("email", "attacker@example.com"), // reserved key
	})
	failed, ok := res.(ValidationFailed)
	require.True(t, ok, "got %#v", res)
	assert.NotEmpty(t, failed.Errors)
}

func TestUpdateUserBatch_AtomicAbortOnConflict(t *testing.T) {
	proc, store, u := newFixture(t)
	ctx := context.Background()

	other := &types.User{
		ID:      uuid.NewString(),
		Email:   strptr("taken@example.com"),
		Status:  types.UserStatusActive,
		RealmID: "acme",
	}
	require.NoError(t, store.CreateUser(ctx, other))
	require.NoError(t, store.ReplaceAttributes(ctx, u.ID, map[string]string{"plan": "free"}))

	res := proc.UpdateUserBatch(ctx, u.ID, BatchUpdate{
		User:       UserFieldUpdates{Email: SetValue("taken@example.com")},
		Attributes: []AttributeOp{Set("plan", "pro")},
	})
	violation, ok := res.(ConstraintViolation)
	require.True(t, ok, "got %#v", res)
	assert.Equal(t, "email", violation.Field)

	// Neither sub-update is visible.
	current, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", *current.Email)
	attrs, err := store.GetAttributes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "free", attrs["plan"])
}

func TestUpdateUserBatch_AllEntitiesApplied(t *testing.T) {
	proc, store, u := newFixture(t)
	ctx := context.Background()

	res := proc.UpdateUserBatch(ctx, u.ID, BatchUpdate{
		User:       UserFieldUpdates{Status: SetValue(types.UserStatusDisabled)},
		Profile:    ProfileFieldUpdates{FirstName: SetValue("Alice")},
		Attributes: []AttributeOp{Set("plan", "pro")},
	})
	success, ok := res.(Success)
	require.True(t, ok, "got %#v", res)
	assert.Equal(t, types.UserStatusDisabled, success.User.Status)
	assert.Len(t, success.Changes, 3)

	profile, err := store.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", *profile.FirstName)
	attrs, err := store.GetAttributes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", attrs["plan"])
}

func TestField_ZeroValueIsNoChange(t *testing.T) {
	var f Field[string]
	assert.True(t, f.IsNoChange())
	assert.False(t, f.IsSet())
	assert.False(t, f.IsClear())
	_, ok := f.Value()
	assert.False(t, ok)
}
