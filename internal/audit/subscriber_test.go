package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodex-auth/go-core/pkg/types"
)

func handle(t *testing.T, store Store, p types.Payload, sev types.Severity) {
	t.Helper()
	sub := NewSubscriber(store, nil, nil, nil)
	sub.Handle(context.Background(), types.NewEvent("acme", sev, p))
}

func lastRecord(t *testing.T, store *MemoryStore) *types.AuditRecord {
	t.Helper()
	records, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	return records[0]
}

func TestSubscriber_LoginSuccess(t *testing.T) {
	store := NewMemoryStore()
	handle(t, store, types.LoginSucceeded{UserID: "u1", Method: "password_email"}, types.SeverityInfo)

	rec := lastRecord(t, store)
	assert.Equal(t, types.AuditLoginSuccess, rec.EventType)
	assert.Equal(t, types.ActorUser, rec.ActorType)
	require.NotNil(t, rec.ActorID)
	assert.Equal(t, "u1", *rec.ActorID)
	require.NotNil(t, rec.TargetID)
	assert.Equal(t, "u1", *rec.TargetID)
	assert.Equal(t, types.ResultSuccess, rec.Result)
	assert.Equal(t, "acme", rec.RealmID)
	assert.Equal(t, "password_email", rec.Metadata["method"])
}

func TestSubscriber_LoginFailedUnknownUserIsAnonymous(t *testing.T) {
	store := NewMemoryStore()
	handle(t, store, types.LoginFailed{Identifier: "ghost@example.com", Reason: "invalid_credentials"}, types.SeverityWarning)

	rec := lastRecord(t, store)
	assert.Equal(t, types.AuditLoginFailed, rec.EventType)
	assert.Equal(t, types.ActorAnonymous, rec.ActorType)
	assert.Nil(t, rec.ActorID)
	assert.Nil(t, rec.TargetID)
	assert.Equal(t, types.ResultFailure, rec.Result)
}

func TestSubscriber_ReplayIsSecurityViolation(t *testing.T) {
	store := NewMemoryStore()
	handle(t, store, types.TokenReplayDetected{
		UserID: "u1", TokenID: "t9", TokenFamily: "fam-1",
	}, types.SeverityCritical)

	rec := lastRecord(t, store)
	assert.Equal(t, types.AuditSecurityViolation, rec.EventType)
	assert.Equal(t, types.ResultFailure, rec.Result)
	assert.Equal(t, types.SeverityCritical, rec.Severity)
	require.NotNil(t, rec.TargetType)
	assert.Equal(t, "token", *rec.TargetType)
	require.NotNil(t, rec.TargetID)
	assert.Equal(t, "t9", *rec.TargetID)
}

func TestSubscriber_RefreshMetadataCarriesBothIDs(t *testing.T) {
	store := NewMemoryStore()
	handle(t, store, types.TokenRefreshed{UserID: "u1", OldTokenID: "t1", NewTokenID: "t2"}, types.SeverityInfo)

	rec := lastRecord(t, store)
	assert.Equal(t, types.AuditTokenRefreshed, rec.EventType)
	assert.Equal(t, "t1", rec.Metadata["old_token_id"])
	assert.Equal(t, "t2", rec.Metadata["new_token_id"])
	require.NotNil(t, rec.TargetID)
	assert.Equal(t, "t2", *rec.TargetID)
}

func TestSubscriber_AccountLockedIsSystemActor(t *testing.T) {
	store := NewMemoryStore()
	handle(t, store, types.AccountLocked{
		Identifier: "alice@example.com", UserID: "u1", Reason: "3 failed attempts within 5m0s",
	}, types.SeverityCritical)

	rec := lastRecord(t, store)
	assert.Equal(t, types.AuditAccountLocked, rec.EventType)
	assert.Equal(t, types.ActorSystem, rec.ActorType)
	require.NotNil(t, rec.TargetID)
	assert.Equal(t, "u1", *rec.TargetID)
	assert.Equal(t, types.ResultSuccess, rec.Result)
}

func TestSubscriber_AccountUnlockedIsAdminActor(t *testing.T) {
	store := NewMemoryStore()
	handle(t, store, types.AccountUnlocked{Identifier: "alice@example.com", ActorID: "admin-7"}, types.SeverityInfo)

	rec := lastRecord(t, store)
	assert.Equal(t, types.AuditAccountUnlocked, rec.EventType)
	assert.Equal(t, types.ActorAdmin, rec.ActorType)
	require.NotNil(t, rec.ActorID)
	assert.Equal(t, "admin-7", *rec.ActorID)
}

func TestSubscriber_SessionAndUserEventTypes(t *testing.T) {
	store := NewMemoryStore()
	handle(t, store, types.SessionEvent{K: types.KindSessionAnomaly, SessionID: "s1", UserID: "u1"}, types.SeverityWarning)
	handle(t, store, types.UserMutated{K: types.KindUserAttrsReplaced, UserID: "u1"}, types.SeverityInfo)

	records, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	byType := map[string]*types.AuditRecord{}
	for _, rec := range records {
		byType[rec.EventType] = rec
	}
	anomaly := byType[types.AuditSessionAnomaly]
	require.NotNil(t, anomaly)
	assert.Equal(t, types.ResultFailure, anomaly.Result)

	replaced := byType[types.AuditUserAttrsReplaced]
	require.NotNil(t, replaced)
	assert.Equal(t, types.ActorSystem, replaced.ActorType, "no actor id means system")
	assert.Equal(t, types.ResultSuccess, replaced.Result)
}

func TestSubscriber_VerificationEventTypes(t *testing.T) {
	tests := []struct {
		payload types.VerificationEvent
		want    string
	}{
		{types.VerificationEvent{K: types.KindVerificationSent, UserID: "u1", Channel: "email"}, "EMAIL_VERIFICATION_SENT"},
		{types.VerificationEvent{K: types.KindVerificationDone, UserID: "u1", Channel: "phone"}, "PHONE_VERIFICATION_VERIFIED"},
		{types.VerificationEvent{K: types.KindVerificationFailed, UserID: "u1", Channel: "email"}, "EMAIL_VERIFICATION_FAILED"},
	}
	for _, tt := range tests {
		store := NewMemoryStore()
		handle(t, store, tt.payload, types.SeverityInfo)
		rec := lastRecord(t, store)
		assert.Equal(t, tt.want, rec.EventType)
	}
}

func TestSubscriber_MetadataIsSanitized(t *testing.T) {
	store := NewMemoryStore()
	handle(t, store, types.LoginFailed{
		Identifier: `<script>alert("x")</script>`,
		Reason:     "invalid_credentials",
	}, types.SeverityWarning)

	rec := lastRecord(t, store)
	identifier, _ := rec.Metadata["identifier"].(string)
	assert.NotContains(t, identifier, "<script>")
	assert.Contains(t, identifier, "&lt;script&gt;")
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Insert(context.Context, *types.AuditRecord) error {
	return errors.New("disk full")
}

func TestSubscriber_StoreFailureDoesNotPropagate(t *testing.T) {
	sub := NewSubscriber(&failingStore{}, nil, nil, nil)
	assert.NotPanics(t, func() {
		sub.Handle(context.Background(), types.NewEvent("acme", types.SeverityInfo, types.LoginSucceeded{UserID: "u1"}))
	})
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	insert := func(eventType, realm string, actor string, ts time.Time) {
		rec := &types.AuditRecord{
			ID: eventType + "/" + realm, EventType: eventType, Timestamp: ts,
			ActorType: types.ActorUser, Result: types.ResultSuccess, RealmID: realm,
		}
		if actor != "" {
			rec.ActorID = &actor
		}
		require.NoError(t, store.Insert(ctx, rec))
	}
	insert(types.AuditLoginSuccess, "acme", "u1", base.Add(-2*time.Hour))
	insert(types.AuditLoginFailed, "acme", "u2", base.Add(-time.Hour))
	insert(types.AuditLoginSuccess, "globex", "u1", base)

	records, err := store.Query(ctx, Filter{RealmID: "acme"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Timestamp.After(records[1].Timestamp), "newest first")

	records, err = store.Query(ctx, Filter{ActorID: "u1"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = store.Query(ctx, Filter{From: base.Add(-90 * time.Minute), To: base})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.AuditLoginFailed, records[0].EventType)

	records, err = store.Query(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
}
