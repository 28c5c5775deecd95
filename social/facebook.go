package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/store"
)

// FacebookGraphURL is the Graph API base.
const FacebookGraphURL = "https://graph.facebook.com/v19.0"

// Facebook signs users in through Facebook Login and the Graph API.
type Facebook struct {
	oauth    *oauth2.Config
	graphURL string
	// trustEmail marks Graph emails as verified. Off by default, which keeps
	// Facebook identities from auto-linking by email.
	trustEmail bool
}

// FacebookOption customizes a Facebook provider.
type FacebookOption func(*Facebook)

// WithGraphURL points the provider at another Graph API base.
func WithGraphURL(u string) FacebookOption {
	return func(f *Facebook) { f.graphURL = u }
}

// WithEndpoint overrides the OAuth endpoint.
func WithEndpoint(ep oauth2.Endpoint) FacebookOption {
	return func(f *Facebook) { f.oauth.Endpoint = ep }
}

// WithTrustedEmail treats the Graph email as verified.
func WithTrustedEmail(trust bool) FacebookOption {
	return func(f *Facebook) { f.trustEmail = trust }
}

// NewFacebook returns a Facebook provider.
func NewFacebook(cfg Config, opts ...FacebookOption) *Facebook {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"email", "public_profile"}
	}
	f := &Facebook{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     facebook.Endpoint,
			Scopes:       scopes,
		},
		graphURL: FacebookGraphURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements Provider.
func (f *Facebook) Name() store.Provider { return store.ProviderFacebook }

// AuthCodeURL implements Provider. Facebook has no nonce; state alone binds
// the callback.
func (f *Facebook) AuthCodeURL(state, _ string) string {
	return f.oauth.AuthCodeURL(state)
}

type graphMe struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// Exchange implements Provider.
func (f *Facebook) Exchange(ctx context.Context, code, _ string) (accountcore.OAuthIdentity, error) {
	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	q := url.Values{"fields": {"id,name,email,picture"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.graphURL+"/me?"+q.Encode(), nil)
	if err != nil {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	resp, err := f.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: graph status %d: %s", ErrExchange, resp.StatusCode, body)
	}
	var me graphMe
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&me); err != nil {
		return accountcore.OAuthIdentity{}, fmt.Errorf("%w: decode graph: %v", ErrExchange, err)
	}
	if me.ID == "" {
		return accountcore.OAuthIdentity{}, ErrMissingSubject
	}

	return accountcore.OAuthIdentity{
		Provider:       store.ProviderFacebook,
		ProviderUserID: me.ID,
		Email:          me.Email,
		EmailVerified:  f.trustEmail && me.Email != "",
		Name:           me.Name,
		AvatarURL:      me.Picture.Data.URL,
	}, nil
}
