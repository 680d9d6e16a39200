package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/authflow"
	"github.com/kodex-auth/go-core/internal/hashing"
	"github.com/kodex-auth/go-core/internal/hooks"
	"github.com/kodex-auth/go-core/internal/lockout"
	"github.com/kodex-auth/go-core/internal/ratelimit"
	"github.com/kodex-auth/go-core/internal/reset"
	"github.com/kodex-auth/go-core/internal/token"
	"github.com/kodex-auth/go-core/internal/user"
	"github.com/kodex-auth/go-core/pkg/types"
)

const testPassword = "correct horse battery staple"

type fixture struct {
	srv    *Server
	sender *captureSender
}

type captureSender struct{ tokens []string }

func (s *captureSender) Send(_ context.Context, msg reset.Message) error {
	s.tokens = append(s.tokens, msg.Token)
	return nil
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, reset.Config{})
}

func newFixtureWith(t *testing.T, resetCfg reset.Config) *fixture {
	t.Helper()
	ctx := context.Background()

	users := user.NewMemoryStore()
	hasher, err := hashing.NewPasswordHasher(hashing.PresetOWASPMin)
	require.NoError(t, err)

	signer, err := token.NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	tokens, err := token.NewManager(signer, token.NewMemoryStore(), nil, token.Config{})
	require.NoError(t, err)

	lockouts, err := lockout.NewService(lockout.NewMemoryStore(), lockout.NewMemoryStore(), nil, lockout.Config{Policy: lockout.PolicyStrict})
	require.NoError(t, err)

	sender := &captureSender{}
	resets, err := reset.NewService(reset.NewMemoryStore(), users, ratelimit.NewMemoryLimiter(), sender, nil, resetCfg)
	require.NoError(t, err)

	executor, err := hooks.NewExecutor(hooks.NewRegistry(), hooks.FailFast, zap.NewNop())
	require.NoError(t, err)

	auth, err := authflow.NewAuthenticator(users, users, hasher, tokens, lockouts, resets, executor, nil, authflow.Config{})
	require.NoError(t, err)

	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	email := "alice@example.com"
	require.NoError(t, users.CreateUser(ctx, &types.User{
		ID:           uuid.NewString(),
		Email:        &email,
		PasswordHash: hash,
		Status:       types.UserStatusActive,
		IsVerified:   true,
		RealmID:      "default",
	}))

	srv, err := New(auth, tokens, resets, nil, Config{})
	require.NoError(t, err)
	return &fixture{srv: srv, sender: sender}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodePair(t *testing.T, rec *httptest.ResponseRecorder) types.TokenPair {
	t.Helper()
	var pair types.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func TestLoginEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "alice@example.com", Password: testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	pair := decodePair(t, rec)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestLoginEndpoint_BadCredentials(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "alice@example.com", Password: "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown identifiers answer identically.
	rec = f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "ghost@example.com", Password: "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginEndpoint_LockedAccount(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
			Identifier: "alice@example.com", Password: "wrong",
		}, nil)
	}
	rec := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "alice@example.com", Password: testPassword,
	}, nil)
	assert.Equal(t, http.StatusLocked, rec.Code)
}

func TestLoginEndpoint_MissingFields(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/auth/login", map[string]any{"identifier": "alice@example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshAndLogout(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "alice@example.com", Password: testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodePair(t, rec)

	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decodePair(t, rec)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	rec = f.do(t, http.MethodPost, "/v1/auth/logout", refreshRequest{RefreshToken: rotated.RefreshToken}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", refreshRequest{RefreshToken: rotated.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResetFlowEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/password/reset", resetRequest{Identifier: "alice@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.sender.tokens, 1)

	// Unknown identifiers get the same answer and no dispatch.
	rec = f.do(t, http.MethodPost, "/v1/auth/password/reset", resetRequest{Identifier: "ghost@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.sender.tokens, 1)

	rec = f.do(t, http.MethodPost, "/v1/auth/password/reset/complete", resetCompleteRequest{
		Token: f.sender.tokens[0], NewPassword: "Fresh Sec0nd Passphrase!",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "alice@example.com", Password: "Fresh Sec0nd Passphrase!",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetEndpoint_RateLimitedAnswersAccepted(t *testing.T) {
	f := newFixtureWith(t, reset.Config{MaxAttemptsPerIdentifier: 1})

	rec := f.do(t, http.MethodPost, "/v1/auth/password/reset", resetRequest{Identifier: "alice@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.sender.tokens, 1)

	// The second request exceeds the per-identifier limit; the response
	// must not change, only the dispatch is suppressed.
	rec = f.do(t, http.MethodPost, "/v1/auth/password/reset", resetRequest{Identifier: "alice@example.com"}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Len(t, f.sender.tokens, 1)
}

func TestResetEndpoint_CooldownAnswersAccepted(t *testing.T) {
	f := newFixtureWith(t, reset.Config{CooldownPeriod: time.Minute})

	rec := f.do(t, http.MethodPost, "/v1/auth/password/reset", resetRequest{Identifier: "alice@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.sender.tokens, 1)

	rec = f.do(t, http.MethodPost, "/v1/auth/password/reset", resetRequest{Identifier: "alice@example.com"}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Len(t, f.sender.tokens, 1)
}

func TestResetComplete_WeakPassword(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/password/reset", resetRequest{Identifier: "alice@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.sender.tokens, 1)

	rec = f.do(t, http.MethodPost, "/v1/auth/password/reset/complete", resetCompleteRequest{
		Token: f.sender.tokens[0], NewPassword: "abc",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "alice@example.com", Password: testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodePair(t, rec)
	bearer := map[string]string{"Authorization": "Bearer " + pair.AccessToken}

	rec = f.do(t, http.MethodPost, "/v1/auth/password/change", changePasswordRequest{
		OldPassword: testPassword, NewPassword: "An0ther Go0d Passphrase!",
	}, bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "alice@example.com", Password: "An0ther Go0d Passphrase!",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{"Authorization": "Bearer nonsense"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := f.do(t, http.MethodPost, "/v1/auth/login", loginRequest{
		Identifier: "alice@example.com", Password: testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, login.Code)
	pair := decodePair(t, login)

	// A refresh token is not accepted as a bearer credential.
	rec = f.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{"Authorization": "Bearer " + pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID string `json:"user_id"`
		Realm  string `json:"realm"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.UserID)
	assert.Equal(t, "default", body.Realm)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
