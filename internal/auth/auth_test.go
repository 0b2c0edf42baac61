package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestTokenManager_IssueAndParse(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	tm, err := NewTokenManager([]byte("secret-secret-secret"), time.Hour, fixedNow(now))
	require.NoError(t, err)

	issued, err := tm.Issue("user-1", "alice@example.com", "Alice")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, now.Add(time.Hour), issued.ExpiresAt)

	claims, err := tm.Parse(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, issued.ID, claims.ID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "Alice", claims.Name)
}

func TestTokenManager_RejectsBadTokens(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	tm, err := NewTokenManager([]byte("secret-secret-secret"), time.Hour, fixedNow(now))
	require.NoError(t, err)
	issued, err := tm.Issue("user-1", "", "")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later, err := NewTokenManager([]byte("secret-secret-secret"), time.Hour, fixedNow(now.Add(2*time.Hour)))
		require.NoError(t, err)
		_, err = later.Parse(issued.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other key", func(t *testing.T) {
		other, err := NewTokenManager([]byte("another-secret-value"), time.Hour, fixedNow(now))
		require.NoError(t, err)
		_, err = other.Parse(issued.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tm.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := NewTokenManager(nil, time.Hour, nil)
		assert.Error(t, err)
	})
}

func TestPasswordHasher(t *testing.T) {
	hasher := NewPasswordHasher(Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})

	encoded, err := hasher.Hash("correct horse")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	assert.NoError(t, hasher.Verify(encoded, "correct horse"))
	assert.ErrorIs(t, hasher.Verify(encoded, "wrong horse"), ErrPasswordMismatch)
	assert.ErrorIs(t, hasher.Verify("plaintext", "x"), ErrInvalidPasswordHash)

	other, err := hasher.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, other, "salts differ")

	assert.Equal(t, DefaultArgon2idParams, NewPasswordHasher(Argon2idParams{}).Params)
}

func TestStateCodec(t *testing.T) {
	codec := NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), time.Minute)

	state, cookie, err := codec.New()
	require.NoError(t, err)
	assert.NotEmpty(t, state)

	assert.NoError(t, codec.Verify(state, cookie))
	assert.ErrorIs(t, codec.Verify("other", cookie), ErrInvalidState)
	assert.ErrorIs(t, codec.Verify(state, ""), ErrInvalidState)
	assert.ErrorIs(t, codec.Verify(state, cookie+"x"), ErrInvalidState)

	foreign := NewStateCodec([]byte("fedcba9876543210fedcba9876543210"), time.Minute)
	assert.ErrorIs(t, foreign.Verify(state, cookie), ErrInvalidState)
}

func TestGoogleProvider_AuthCodeURL(t *testing.T) {
	p := NewGoogleProvider("client", "secret", "https://attendance.example.com")
	assert.Equal(t, ProviderGoogle, p.Name())

	parsed, err := url.Parse(p.AuthCodeURL("state-1"))
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "https://attendance.example.com/auth/oauth/google/callback", q.Get("redirect_uri"))
}

func TestGoogleProvider_Exchange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(googleUserInfo{ID: "g-1", Email: "bob@example.com", EmailVerified: true, Name: "Bob"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewGoogleProvider("client", "secret", "http://localhost")
	p.config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	p.userInfoURL = srv.URL + "/userinfo"

	identity, err := p.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, ExternalIdentity{Subject: "g-1", Email: "bob@example.com", EmailVerified: true, Name: "Bob"}, identity)

	p.userInfoURL = srv.URL + "/missing"
	_, err = p.Exchange(context.Background(), "code-1")
	assert.Error(t, err)
}
