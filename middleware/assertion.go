package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/accountcore"
)

// AssertionVerifier is satisfied by *jwt.Manager.
type AssertionVerifier interface {
	Identity(token string) accountcore.Identity
}

// AssertionHeader carries identity assertions when no Authorization header
// is used.
const AssertionHeader = "X-Identity-Assertion"

// RequireAssertion resolves the identity from a signed assertion in the
// Authorization bearer header or AssertionHeader. With allowGuest set,
// requests without a valid assertion continue as the guest identity;
// otherwise they get 401.
func RequireAssertion(v AssertionVerifier, allowGuest bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := accountcore.Guest
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				token = r.Header.Get(AssertionHeader)
			}
			if token != "" && v != nil {
				id = v.Identity(token)
			}
			if id.IsGuest() && !allowGuest {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
