package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T, policy Policy) (*Service, *MemoryStore, *clock) {
	t.Helper()
	ck := &clock{now: time.Now().UTC()}
	store := NewMemoryStore()
	svc, err := NewService(store, store, nil, Config{Policy: policy, Now: ck.Now})
	require.NoError(t, err)
	return svc, store, ck
}

func fail(t *testing.T, svc *Service, identifier string) {
	t.Helper()
	require.NoError(t, svc.RecordFailedAttempt(
		context.Background(), "acme", identifier, "10.0.0.1", "cli", "", "bad password"))
}

func TestLockout_ThresholdLocks(t *testing.T) {
	svc, _, _ := newService(t, PolicyStrict)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		fail(t, svc, "alice@example.com")
		status, err := svc.CheckLockout(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.False(t, status.Locked, "attempt %d is below threshold", i+1)
	}

	fail(t, svc, "alice@example.com")
	status, err := svc.CheckLockout(ctx, "alice@example.com")
	require.NoError(t, err)
	require.True(t, status.Locked)
	require.NotNil(t, status.UnlockAt)
}

func TestLockout_IdentifierIsNormalized(t *testing.T) {
	svc, _, _ := newService(t, PolicyStrict)
	ctx := context.Background()

	fail(t, svc, "Alice@Example.COM")
	fail(t, svc, "  alice@example.com ")
	fail(t, svc, "ALICE@EXAMPLE.COM")

	status, err := svc.CheckLockout(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, status.Locked, "case and whitespace variants share one window")
}

func TestLockout_WindowSlides(t *testing.T) {
	svc, _, ck := newService(t, PolicyStrict)
	ctx := context.Background()

	fail(t, svc, "bob")
	fail(t, svc, "bob")

	// The early failures age out of the 5m window.
	ck.Advance(6 * time.Minute)
	fail(t, svc, "bob")

	status, err := svc.CheckLockout(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestLockout_ExpiredLockAutoClears(t *testing.T) {
	svc, store, ck := newService(t, PolicyStrict)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fail(t, svc, "carol")
	}
	status, err := svc.CheckLockout(ctx, "carol")
	require.NoError(t, err)
	require.True(t, status.Locked)

	ck.Advance(16 * time.Minute)
	status, err = svc.CheckLockout(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, status.Locked)

	// The lock row and the window are gone.
	lock, err := store.GetLock(ctx, "carol")
	require.NoError(t, err)
	assert.Nil(t, lock)
	count, err := store.CountAttempts(ctx, "carol", ck.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLockout_IndefiniteLock(t *testing.T) {
	svc, _, ck := newService(t, Policy{Threshold: 2, Window: time.Hour})
	ctx := context.Background()

	fail(t, svc, "dave")
	fail(t, svc, "dave")

	status, err := svc.CheckLockout(ctx, "dave")
	require.NoError(t, err)
	require.True(t, status.Locked)
	assert.Nil(t, status.UnlockAt)

	// Indefinite locks never expire on their own.
	ck.Advance(240 * time.Hour)
	status, err = svc.CheckLockout(ctx, "dave")
	require.NoError(t, err)
	assert.True(t, status.Locked)

	// Manual unlock clears lock and window.
	require.NoError(t, svc.Unlock(ctx, "acme", "dave", "admin-1"))
	status, err = svc.CheckLockout(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestLockout_DisabledPolicyNeverLocks(t *testing.T) {
	svc, _, _ := newService(t, PolicyDisabled)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		fail(t, svc, "eve")
	}
	status, err := svc.CheckLockout(ctx, "eve")
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestLockout_ClearFailedAttemptsResetsWindow(t *testing.T) {
	svc, _, _ := newService(t, PolicyStrict)
	ctx := context.Background()

	fail(t, svc, "frank")
	fail(t, svc, "frank")
	require.NoError(t, svc.ClearFailedAttempts(ctx, "frank"))
	fail(t, svc, "frank")
	fail(t, svc, "frank")

	status, err := svc.CheckLockout(ctx, "frank")
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestLockout_PruneAttempts(t *testing.T) {
	svc, store, ck := newService(t, PolicyModerate)
	ctx := context.Background()

	fail(t, svc, "gina")
	ck.Advance(2 * time.Hour)
	fail(t, svc, "gina")

	n, err := svc.PruneAttempts(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	count, err := store.CountAttempts(ctx, "gina", ck.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPolicyByName(t *testing.T) {
	tests := []struct {
		name    string
		want    Policy
		wantErr bool
	}{
		{name: "strict", want: PolicyStrict},
		{name: "moderate", want: PolicyModerate},
		{name: "lenient", want: PolicyLenient},
		{name: "disabled", want: PolicyDisabled},
		{name: "", want: PolicyModerate},
		{name: "draconian", wantErr: true},
	}
	for _, tt := range tests {
		got, err := PolicyByName(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestRecordFailedAttempt_CapturesMetadata(t *testing.T) {
	svc, store, _ := newService(t, PolicyModerate)
	ctx := context.Background()

	require.NoError(t, svc.RecordFailedAttempt(ctx, "acme", "henry", "192.0.2.1", "browser", "u1", "account_locked"))

	count, err := store.CountAttempts(ctx, "henry", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Empty ip and agent stay null.
	require.NoError(t, svc.RecordFailedAttempt(ctx, "acme", "henry", "", "", "", "bad password"))
	count, err = store.CountAttempts(ctx, "henry", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
