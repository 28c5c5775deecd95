package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/accountcore"
)

// IdentityResolver is satisfied by *accountcore.Engine.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, rawSessionToken string) accountcore.Identity
}

// ResolveIdentity attaches the caller's identity without rejecting anyone.
func ResolveIdentity(res IdentityResolver, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := accountcore.Guest
			if token, ok := SessionToken(r, cookieName); ok && res != nil {
				id = res.ResolveIdentity(r.Context(), token)
			}
			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
