package internal

import (
	"testing"
)

func TestOpaqueTokenRoundTrip(t *testing.T) {
	token, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	if len(token) != 43 {
		t.Fatalf("expected 43 chars, got %d", len(token))
	}
	if err := ValidateOpaqueToken(token); err != nil {
		t.Fatalf("expected valid token: %v", err)
	}
	if err := ValidateOpaqueToken(token[:20]); err == nil {
		t.Fatal("expected truncated token to be rejected")
	}
}

func TestTokenHasherPepper(t *testing.T) {
	plain := NewTokenHasher(nil)
	peppered := NewTokenHasher([]byte("pepper"))

	if plain.Hash("x") == peppered.Hash("x") {
		t.Fatal("pepper must change the digest")
	}
	if peppered.Hash("x") != NewTokenHasher([]byte("pepper")).Hash("x") {
		t.Fatal("digest must be deterministic")
	}
	if len(plain.Hash("x")) != 64 {
		t.Fatalf("expected hex sha256, got %q", plain.Hash("x"))
	}
}
