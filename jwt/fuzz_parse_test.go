package jwt

import (
	"strings"
	"testing"
	"time"
)

// FuzzIdentity mangles a valid assertion and feeds it back. Anything that is
// not the untouched token must resolve to the guest identity.
func FuzzIdentity(f *testing.F) {
	mgr, err := NewManager(Config{
		TTL:           time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte(strings.Repeat("k", 32)),
		Issuer:        "accounts",
	})
	if err != nil {
		f.Fatal(err)
	}
	valid, _, err := mgr.Issue(principal(time.Time{}))
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ1c2VyLTEifQ.")
	f.Add(valid[:len(valid)-2])

	f.Fuzz(func(t *testing.T, input string) {
		id := mgr.Identity(input)
		if input == valid {
			if id.UserID != "user-1" {
				t.Fatalf("valid assertion resolved to %q", id.UserID)
			}
			return
		}
		if !id.IsGuest() && id.UserID != "user-1" {
			t.Fatalf("forged assertion resolved to %q", id.UserID)
		}
	})
}
