package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodex-auth/go-core/pkg/types"
)

func insertAt(t *testing.T, store *MemoryStore, id string, ts time.Time) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), &types.AuditRecord{
		ID:        id,
		EventType: types.AuditLoginSuccess,
		Timestamp: ts,
		ActorType: types.ActorUser,
		Result:    types.ResultSuccess,
		RealmID:   "acme",
	}))
}

func TestRetention_Cleanup(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	insertAt(t, store, "old", now.Add(-45*24*time.Hour))
	insertAt(t, store, "recent", now.Add(-15*24*time.Hour))

	ret, err := NewRetention(store, RetentionConfig{
		Period: 30 * 24 * time.Hour,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)

	n, err := ret.Cleanup(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	records, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "recent", records[0].ID)

	// Idempotent across runs.
	n, err = ret.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetention_CleanupOlderThan(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	insertAt(t, store, "a", now.Add(-3*time.Hour))
	insertAt(t, store, "b", now.Add(-time.Hour))

	ret, err := NewRetention(store, RetentionConfig{})
	require.NoError(t, err)

	n, err := ret.CleanupOlderThan(context.Background(), now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRetention_NoPeriodRemovesNothing(t *testing.T) {
	store := NewMemoryStore()
	insertAt(t, store, "a", time.Now().Add(-1000*time.Hour))

	ret, err := NewRetention(store, RetentionConfig{})
	require.NoError(t, err)

	n, err := ret.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	records, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRetention_RejectsNegativePeriod(t *testing.T) {
	_, err := NewRetention(NewMemoryStore(), RetentionConfig{Period: -time.Hour})
	assert.Error(t, err)
}
