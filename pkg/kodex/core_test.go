package kodex

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodex-auth/go-core/internal/audit"
	"github.com/kodex-auth/go-core/internal/authflow"
	"github.com/kodex-auth/go-core/internal/lockout"
	"github.com/kodex-auth/go-core/pkg/types"
)

func testConfig() Config {
	return Config{
		Signing: SigningConfig{HMACSecret: "0123456789abcdef0123456789abcdef"},
	}
}

func newCore(t *testing.T) *Core {
	t.Helper()
	core, err := New(testConfig(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, core.Close(ctx))
	})
	return core
}

func seedUser(t *testing.T, core *Core, email, password string) *types.User {
	t.Helper()
	hash, err := core.Hasher().Hash(password)
	require.NoError(t, err)
	u := &types.User{
		ID:           uuid.NewString(),
		Email:        &email,
		PasswordHash: hash,
		Status:       types.UserStatusActive,
		IsVerified:   true,
		RealmID:      "default",
	}
	require.NoError(t, core.Users().CreateUser(context.Background(), u))
	return u
}

func TestCore_LoginRefreshAudit(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	seedUser(t, core, "alice@example.com", "correct horse battery staple")

	pair, err := core.Authenticator().TokenByEmail(ctx, authflow.Credentials{
		RealmID:    "default",
		Identifier: "alice@example.com",
		Password:   "correct horse battery staple",
	})
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)

	rotated, err := core.Tokens().Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The audit subscriber observes the login asynchronously.
	require.Eventually(t, func() bool {
		records, err := core.AuditLogs().Query(ctx, audit.Filter{
			EventType: types.AuditLoginSuccess,
		})
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCore_RequiresSigner(t *testing.T) {
	_, err := New(Config{}, Options{})
	assert.Error(t, err)
}

func TestCore_RejectsUnknownPreset(t *testing.T) {
	cfg := testConfig()
	cfg.Hashing.Preset = "bcrypt"
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestCore_RejectsUnknownLockoutPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.Policy = "draconian"
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestCore_ExplicitLockoutPolicyWins(t *testing.T) {
	policy, err := lockoutPolicy(LockoutConfig{
		Policy:       "strict",
		Threshold:    7,
		Window:       Duration(10 * time.Minute),
		LockDuration: Duration(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, lockout.Policy{
		Threshold:    7,
		Window:       10 * time.Minute,
		LockDuration: time.Hour,
	}, policy)
}

func TestCore_CloseIsIdempotent(t *testing.T) {
	core, err := New(testConfig(), Options{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, core.Close(ctx))
	require.NoError(t, core.Close(ctx))
}

func TestCore_MigrateRequiresDatabase(t *testing.T) {
	core := newCore(t)
	assert.Error(t, core.Migrate())
}
