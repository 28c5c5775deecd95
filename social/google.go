package social

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/store"
)

// GoogleIssuer is Google's OpenID Connect issuer.
const GoogleIssuer = "https://accounts.google.com"

// Config is the client registration for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Google verifies Google sign-ins through OpenID Connect.
type Google struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogle runs OIDC discovery against Google.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	provider, err := oidc.NewProvider(ctx, GoogleIssuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	oauthCfg := googleOAuthConfig(cfg, provider.Endpoint())
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newGoogle(oauthCfg, verifier), nil
}

func newGoogle(oauthCfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *Google {
	return &Google{oauth: oauthCfg, verifier: verifier}
}

func googleOAuthConfig(cfg Config, endpoint oauth2.Endpoint) *oauth2.Config {
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"email", "profile"}
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       append([]string{oidc.ScopeOpenID}, scopes...),
	}
}

// Name implements Provider.
func (g *Google) Name() store.Provider { return store.ProviderGoogle }

// AuthCodeURL implements Provider.
func (g *Google) AuthCodeURL(state, nonce string) string {
	return g.oauth.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
		oidc.Nonce(nonce),
	)
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Nonce         string `json:"nonce"`
}

// Exchange implements Provider.
func (g *Google) Exchange(ctx context.Context, code, nonce string) (accountcore.OAuthIdentity, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: no id_token in response", ErrInvalidIDToken)
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if nonce == "" || claims.Nonce != nonce {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: nonce mismatch", ErrInvalidIDToken)
	}
	if idToken.Subject == "" {
		return accountcore.OAuthIdentity{}, ErrMissingSubject
	}

	return accountcore.OAuthIdentity{
		Provider:       store.ProviderGoogle,
		ProviderUserID: idToken.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		Name:           claims.Name,
		AvatarURL:      claims.Picture,
	}, nil
}
