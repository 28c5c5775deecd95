package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/accountcore"
)

type principalContextKey struct{}
type identityContextKey struct{}

// DefaultCookieName is the session cookie name used when none is configured.
const DefaultCookieName = "ac_session"

// Authenticator is satisfied by *accountcore.Engine.
type Authenticator interface {
	Authenticate(ctx context.Context, rawSessionToken string) (*accountcore.Principal, error)
}

// PrincipalFromContext returns the principal set by RequireSession.
func PrincipalFromContext(ctx context.Context) (*accountcore.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*accountcore.Principal)
	return p, ok && p != nil
}

// IdentityFromContext returns the identity set by ResolveIdentity or
// RequireAssertion, or the guest identity.
func IdentityFromContext(ctx context.Context) accountcore.Identity {
	id, ok := ctx.Value(identityContextKey{}).(accountcore.Identity)
	if !ok {
		return accountcore.Guest
	}
	return id
}

// WithPrincipal returns ctx carrying p. Handlers under test use it to skip
// the guard.
func WithPrincipal(ctx context.Context, p *accountcore.Principal) context.Context {
	ctx = context.WithValue(ctx, principalContextKey{}, p)
	return context.WithValue(ctx, identityContextKey{}, accountcore.Identity{UserID: p.User.ID})
}

// Unauthorized writes the rejection. Override it to render JSON.
type Unauthorized func(w http.ResponseWriter, r *http.Request, err error)

func defaultUnauthorized(w http.ResponseWriter, _ *http.Request, _ error) {
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// RequireSession authenticates the session handle from the cookie named
// cookieName or an Authorization bearer header.
func RequireSession(auth Authenticator, cookieName string, onFail Unauthorized) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if onFail == nil {
		onFail = defaultUnauthorized
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				onFail(w, r, accountcore.ErrEngineNotReady)
				return
			}
			token, ok := SessionToken(r, cookieName)
			if !ok {
				onFail(w, r, accountcore.ErrSessionNotFound)
				return
			}
			p, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				onFail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// SessionToken extracts the raw session handle. A bearer header wins over
// the cookie.
func SessionToken(r *http.Request, cookieName string) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
