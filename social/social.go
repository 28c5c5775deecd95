// Package social adapts third-party identity providers to
// accountcore.OAuthIdentity.
//
// A provider runs the authorization code flow and verifies what the provider
// returns. The Engine never talks to providers itself; it trusts only
// identities produced here.
package social

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/store"
)

var (
	// ErrUnknownProvider is returned for providers that are not configured.
	ErrUnknownProvider = errors.New("social: unknown provider")
	// ErrInvalidState is returned when a callback state is unknown, expired
	// or already used.
	ErrInvalidState = errors.New("social: invalid state")
	// ErrExchange wraps failures talking to the provider.
	ErrExchange = errors.New("social: code exchange failed")
	// ErrInvalidIDToken is returned when an ID token fails verification.
	ErrInvalidIDToken = errors.New("social: invalid id token")
	// ErrMissingSubject is returned when the provider omits its user ID.
	ErrMissingSubject = errors.New("social: provider returned no subject")
)

// Provider runs one provider's authorization code flow.
type Provider interface {
	Name() store.Provider
	// AuthCodeURL returns the consent URL for state and nonce.
	AuthCodeURL(state, nonce string) string
	// Exchange redeems code and returns the verified identity.
	Exchange(ctx context.Context, code, nonce string) (accountcore.OAuthIdentity, error)
}

// Registry holds the configured providers.
type Registry struct {
	providers map[store.Provider]Provider
}

// NewRegistry indexes providers by name. Later duplicates replace earlier ones.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[store.Provider]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Get returns the provider for name.
func (r *Registry) Get(name store.Provider) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Names lists configured providers in a stable order.
func (r *Registry) Names() []store.Provider {
	if r == nil {
		return nil
	}
	out := make([]store.Provider, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
