package reset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodex-auth/go-core/internal/hashing"
	"github.com/kodex-auth/go-core/internal/ratelimit"
	"github.com/kodex-auth/go-core/internal/user"
	"github.com/kodex-auth/go-core/pkg/types"
)

func tokenDigestForTest(tok string) string { return hashing.LookupDigest(tok) }

// captureSender records dispatched messages and can be told to fail.
type captureSender struct {
	mu       sync.Mutex
	messages []Message
	fail     error
}

func (s *captureSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *captureSender) last(t *testing.T) Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.messages)
	return s.messages[len(s.messages)-1]
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func strptr(s string) *string { return &s }

func newService(t *testing.T, cfg Config) (*Service, *MemoryStore, *captureSender, *types.User) {
	t.Helper()

	store := NewMemoryStore()
	users := user.NewMemoryStore()
	sender := &captureSender{}

	u := &types.User{
		ID:         uuid.NewString(),
		Email:      strptr("alice@example.com"),
		Status:     types.UserStatusActive,
		IsVerified: true,
		RealmID:    "acme",
	}
	require.NoError(t, users.CreateUser(context.Background(), u))

	svc, err := NewService(store, users, ratelimit.NewMemoryLimiter(), sender, nil, cfg)
	require.NoError(t, err)
	return svc, store, sender, u
}

func TestRequestReset_KnownUserDispatchesToken(t *testing.T) {
	svc, store, sender, u := newService(t, Config{})
	ctx := context.Background()

	require.NoError(t, svc.RequestReset(ctx, Request{
		RealmID: "acme", Identifier: "alice@example.com", IP: "10.0.0.1",
	}))

	msg := sender.last(t)
	assert.Equal(t, u.ID, msg.UserID)
	assert.Equal(t, "alice@example.com", msg.Recipient)
	assert.NotEmpty(t, msg.Token)

	// The stored record holds only a digest of the token.
	userID, err := svc.Verify(ctx, msg.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)

	record, err := store.GetByHash(ctx, tokenDigestForTest(msg.Token))
	require.NoError(t, err)
	assert.NotEqual(t, msg.Token, record.TokenHash)
	require.NotNil(t, record.IPAddress)
	assert.Equal(t, "10.0.0.1", *record.IPAddress)
}

func TestRequestReset_UnknownIdentifierIsSilentSuccess(t *testing.T) {
	svc, _, sender, _ := newService(t, Config{})

	err := svc.RequestReset(context.Background(), Request{
		RealmID: "acme", Identifier: "ghost@example.com", IP: "10.0.0.1",
	})
	require.NoError(t, err, "unknown identifiers must look like success")
	assert.Zero(t, sender.count())
}

func TestRequestReset_UnknownIdentifierReleasesReservations(t *testing.T) {
	svc, _, _, _ := newService(t, Config{MaxAttemptsPerIP: 2})
	ctx := context.Background()

	// Unknown identifiers release their slots, so far more than the ip
	// limit of accepted requests pass.
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RequestReset(ctx, Request{
			RealmID: "acme", Identifier: "ghost@example.com", IP: "10.0.0.9",
		}), "request %d", i)
	}
}

func TestRequestReset_RateLimitPerUser(t *testing.T) {
	svc, _, sender, _ := newService(t, Config{MaxAttemptsPerUser: 2})
	ctx := context.Background()
	req := Request{RealmID: "acme", Identifier: "alice@example.com", IP: "10.0.0.1"}

	require.NoError(t, svc.RequestReset(ctx, req))
	require.NoError(t, svc.RequestReset(ctx, req))

	err := svc.RequestReset(ctx, req)
	assert.ErrorIs(t, err, types.ErrRateLimitExceeded)
	assert.Equal(t, 2, sender.count())
}

func TestRequestReset_SenderFailureRollsBack(t *testing.T) {
	svc, store, sender, u := newService(t, Config{MaxAttemptsPerUser: 1})
	ctx := context.Background()
	req := Request{RealmID: "acme", Identifier: "alice@example.com", IP: "10.0.0.1"}

	sender.fail = errors.New("smtp down")
	require.NoError(t, svc.RequestReset(ctx, req), "sender failure still looks like success")

	// No token persisted.
	n, err := store.RevokeAllForUser(ctx, u.ID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	// The reservation was rolled back, so the retry succeeds despite the
	// limit of one.
	sender.fail = nil
	require.NoError(t, svc.RequestReset(ctx, req))
	assert.Equal(t, 1, sender.count())
}

func TestRequestReset_SenderFailureReleasesCooldown(t *testing.T) {
	svc, _, sender, _ := newService(t, Config{CooldownPeriod: time.Minute})
	ctx := context.Background()
	req := Request{RealmID: "acme", Identifier: "alice@example.com", IP: "10.0.0.1"}

	sender.fail = errors.New("smtp down")
	require.NoError(t, svc.RequestReset(ctx, req), "sender failure still looks like success")

	// The cooldown slot was rolled back with the other reservations, so
	// an immediate retry dispatches.
	sender.fail = nil
	require.NoError(t, svc.RequestReset(ctx, req))
	assert.Equal(t, 1, sender.count())
}

func TestRequestReset_StoresSaltedDigest(t *testing.T) {
	svc, store, sender, _ := newService(t, Config{})
	ctx := context.Background()

	require.NoError(t, svc.RequestReset(ctx, Request{RealmID: "acme", Identifier: "alice@example.com"}))
	token := sender.last(t).Token

	record, err := store.GetByHash(ctx, tokenDigestForTest(token))
	require.NoError(t, err)
	require.NotEmpty(t, record.SaltedHash)
	assert.NotEqual(t, record.TokenHash, record.SaltedHash)
	assert.True(t, hashing.NewTokenHasher().Verify(token, record.SaltedHash))
}

func TestVerify_RejectsMismatchedSaltedDigest(t *testing.T) {
	svc, store, _, u := newService(t, Config{})
	ctx := context.Background()

	// A record whose lookup digest matches but whose salted digest was
	// derived from another secret must not verify or consume.
	forged, err := hashing.NewTokenHasher().Hash("some-other-secret")
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, &types.PasswordResetToken{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		TokenHash:    tokenDigestForTest("forged-token"),
		SaltedHash:   forged,
		ContactValue: "alice@example.com",
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	_, err = svc.Verify(ctx, "forged-token")
	assert.ErrorIs(t, err, types.ErrTokenNotFound)
	_, err = svc.Consume(ctx, "forged-token")
	assert.ErrorIs(t, err, types.ErrTokenNotFound)
}

func TestRequestReset_Cooldown(t *testing.T) {
	svc, _, _, _ := newService(t, Config{CooldownPeriod: time.Minute})
	ctx := context.Background()
	req := Request{RealmID: "acme", Identifier: "alice@example.com", IP: "10.0.0.1"}

	require.NoError(t, svc.RequestReset(ctx, req))

	err := svc.RequestReset(ctx, req)
	require.ErrorIs(t, err, types.ErrCooldownActive)
	assert.Contains(t, err.Error(), "too soon")
}

func TestConsume_OneShot(t *testing.T) {
	svc, _, sender, u := newService(t, Config{})
	ctx := context.Background()

	require.NoError(t, svc.RequestReset(ctx, Request{
		RealmID: "acme", Identifier: "alice@example.com",
	}))
	token := sender.last(t).Token

	userID, err := svc.Consume(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)

	// A consumed token fails verify and consume alike.
	_, err = svc.Verify(ctx, token)
	assert.ErrorIs(t, err, types.ErrTokenExpired)
	_, err = svc.Consume(ctx, token)
	assert.ErrorIs(t, err, types.ErrTokenNotFound)
}

func TestConsume_ConcurrentSingleWinner(t *testing.T) {
	svc, _, sender, _ := newService(t, Config{})
	ctx := context.Background()

	require.NoError(t, svc.RequestReset(ctx, Request{
		RealmID: "acme", Identifier: "alice@example.com",
	}))
	token := sender.last(t).Token

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Consume(ctx, token); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestVerify_UnknownAndExpired(t *testing.T) {
	clock := time.Now()
	svc, _, sender, _ := newService(t, Config{
		TokenValidity: 5 * time.Minute,
		Now: func() time.Time { return clock },
	})
	ctx := context.Background()

	_, err := svc.Verify(ctx, "no-such-token")
	assert.ErrorIs(t, err, types.ErrTokenNotFound)

	require.NoError(t, svc.RequestReset(ctx, Request{RealmID: "acme", Identifier: "alice@example.com"}))
	token := sender.last(t).Token

	clock = clock.Add(6 * time.Minute)
	_, err = svc.Verify(ctx, token)
	assert.ErrorIs(t, err, types.ErrTokenExpired)
	_, err = svc.Consume(ctx, token)
	assert.ErrorIs(t, err, types.ErrTokenExpired)
}

func TestRevokeAll(t *testing.T) {
	svc, _, sender, u := newService(t, Config{})
	ctx := context.Background()

	require.NoError(t, svc.RequestReset(ctx, Request{RealmID: "acme", Identifier: "alice@example.com"}))
	token := sender.last(t).Token

	n, err := svc.RevokeAll(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = svc.Verify(ctx, token)
	assert.Error(t, err)
}

func TestConfig_ResetBounds(t *testing.T) {
	cfg := Config{TokenValidity: time.Minute}
	assert.Error(t, cfg.Validate(), "below the 5m floor")

	cfg = Config{TokenValidity: 48 * time.Hour}
	assert.Error(t, cfg.Validate(), "above the 24h cap")

	cfg = Config{CooldownPeriod: 2 * time.Hour}
	assert.Error(t, cfg.Validate())

	cfg = Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Hour, cfg.TokenValidity)
}
