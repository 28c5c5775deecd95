package social

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/accountcore/store"
)

func TestRegistry(t *testing.T) {
	fb := NewFacebook(Config{ClientID: "id", ClientSecret: "secret"})
	r := NewRegistry(fb, nil)

	p, err := r.Get(store.ProviderFacebook)
	require.NoError(t, err)
	require.Equal(t, store.ProviderFacebook, p.Name())

	_, err = r.Get(store.ProviderGoogle)
	require.ErrorIs(t, err, ErrUnknownProvider)
	require.Equal(t, []store.Provider{store.ProviderFacebook}, r.Names())

	var nilRegistry *Registry
	_, err = nilRegistry.Get(store.ProviderGoogle)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestStateStoreTakeOnce(t *testing.T) {
	s := NewStateStore(time.Minute)

	state, nonce, err := s.Begin(store.ProviderGoogle, ModeLink, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, state)
	require.NotEmpty(t, nonce)
	require.NotEqual(t, state, nonce)

	p, err := s.Take(store.ProviderGoogle, state)
	require.NoError(t, err)
	require.Equal(t, nonce, p.Nonce)
	require.Equal(t, ModeLink, p.Mode)
	require.Equal(t, "user-1", p.UserID)

	_, err = s.Take(store.ProviderGoogle, state)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStateStoreRejectsWrongProviderAndBlank(t *testing.T) {
	s := NewStateStore(time.Minute)
	state, _, err := s.Begin(store.ProviderGoogle, ModeLogin, "")
	require.NoError(t, err)

	_, err = s.Take(store.ProviderFacebook, state)
	require.ErrorIs(t, err, ErrInvalidState)
	// the mismatched attempt burns the state
	_, err = s.Take(store.ProviderGoogle, state)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = s.Take(store.ProviderGoogle, "")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStateStoreExpires(t *testing.T) {
	s := NewStateStore(5 * time.Millisecond)
	state, _, err := s.Begin(store.ProviderGoogle, ModeLogin, "")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	_, err = s.Take(store.ProviderGoogle, state)
	require.ErrorIs(t, err, ErrInvalidState)
}

type googleFixture struct {
	srv      *httptest.Server
	provider *Google
	key      *rsa.PrivateKey
	claims   jwtlib.MapClaims
}

const testIssuer = "https://issuer.example"

func newGoogleFixture(t *testing.T) *googleFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &googleFixture{key: key}
	f.claims = jwtlib.MapClaims{
		"iss":            testIssuer,
		"aud":            "client-id",
		"sub":            "google-123",
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
		"picture":        "https://img.example/alice.png",
		"nonce":          "nonce-1",
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		now := time.Now()
		claims := jwtlib.MapClaims{"iat": now.Unix(), "exp": now.Add(time.Hour).Unix()}
		for k, v := range f.claims {
			claims[k] = v
		}
		idToken, err := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims).SignedString(f.key)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	t.Cleanup(f.srv.Close)

	verifier := oidc.NewVerifier(testIssuer,
		&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
		&oidc.Config{ClientID: "client-id"})
	cfg := googleOAuthConfig(Config{ClientID: "client-id", ClientSecret: "secret", RedirectURL: "https://app.example/cb"},
		oauth2.Endpoint{AuthURL: f.srv.URL + "/auth", TokenURL: f.srv.URL + "/token"})
	f.provider = newGoogle(cfg, verifier)
	return f
}

func TestGoogleExchange(t *testing.T) {
	f := newGoogleFixture(t)

	id, err := f.provider.Exchange(context.Background(), "good-code", "nonce-1")
	require.NoError(t, err)
	require.Equal(t, store.ProviderGoogle, id.Provider)
	require.Equal(t, "google-123", id.ProviderUserID)
	require.Equal(t, "alice@example.com", id.Email)
	require.True(t, id.EmailVerified)
	require.Equal(t, "Alice", id.Name)
	require.Equal(t, "https://img.example/alice.png", id.AvatarURL)
}

func TestGoogleExchangeRejects(t *testing.T) {
	t.Run("nonce mismatch", func(t *testing.T) {
		f := newGoogleFixture(t)
		_, err := f.provider.Exchange(context.Background(), "good-code", "other-nonce")
		require.ErrorIs(t, err, ErrInvalidIDToken)
	})
	t.Run("wrong audience", func(t *testing.T) {
		f := newGoogleFixture(t)
		f.claims["aud"] = "someone-else"
		_, err := f.provider.Exchange(context.Background(), "good-code", "nonce-1")
		require.ErrorIs(t, err, ErrInvalidIDToken)
	})
	t.Run("wrong signer", func(t *testing.T) {
		f := newGoogleFixture(t)
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		f.key = other
		_, err = f.provider.Exchange(context.Background(), "good-code", "nonce-1")
		require.ErrorIs(t, err, ErrInvalidIDToken)
	})
	t.Run("bad code", func(t *testing.T) {
		f := newGoogleFixture(t)
		_, err := f.provider.Exchange(context.Background(), "bad-code", "nonce-1")
		require.ErrorIs(t, err, ErrExchange)
	})
}

func TestGoogleAuthCodeURL(t *testing.T) {
	f := newGoogleFixture(t)
	u, err := url.Parse(f.provider.AuthCodeURL("st", "nn"))
	require.NoError(t, err)

	q := u.Query()
	require.Equal(t, "st", q.Get("state"))
	require.Equal(t, "nn", q.Get("nonce"))
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Contains(t, q.Get("scope"), "openid")
}

func newFacebookServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fb-at","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fb-at" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
			return
		}
		if r.URL.Query().Get("fields") != "id,name,email,picture" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"fb-42","name":"Bob","email":"bob@example.com","picture":{"data":{"url":"https://img.example/bob.png"}}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFacebookExchange(t *testing.T) {
	srv := newFacebookServer(t, http.StatusOK)
	ep := oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}

	fb := NewFacebook(Config{ClientID: "id", ClientSecret: "secret"}, WithEndpoint(ep), WithGraphURL(srv.URL))
	id, err := fb.Exchange(context.Background(), "code", "")
	require.NoError(t, err)
	require.Equal(t, store.ProviderFacebook, id.Provider)
	require.Equal(t, "fb-42", id.ProviderUserID)
	require.Equal(t, "bob@example.com", id.Email)
	require.False(t, id.EmailVerified)
	require.Equal(t, "https://img.example/bob.png", id.AvatarURL)

	trusted := NewFacebook(Config{ClientID: "id", ClientSecret: "secret"}, WithEndpoint(ep), WithGraphURL(srv.URL), WithTrustedEmail(true))
	id, err = trusted.Exchange(context.Background(), "code", "")
	require.NoError(t, err)
	require.True(t, id.EmailVerified)
}

func TestFacebookGraphFailure(t *testing.T) {
	srv := newFacebookServer(t, http.StatusInternalServerError)
	ep := oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}

	fb := NewFacebook(Config{ClientID: "id", ClientSecret: "secret"}, WithEndpoint(ep), WithGraphURL(srv.URL))
	_, err := fb.Exchange(context.Background(), "code", "")
	require.ErrorIs(t, err, ErrExchange)
}
