package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// OpaqueTokenSize is the number of random bytes behind every session and
// single-use token.
const OpaqueTokenSize = 32

var errInvalidTokenSize = errors.New("invalid token size")

// NewOpaqueToken returns a fresh base64url (no padding) random token.
func NewOpaqueToken() (string, error) {
	var raw [OpaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidateOpaqueToken checks encoding and size without touching storage.
func ValidateOpaqueToken(token string) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return err
	}
	if len(raw) != OpaqueTokenSize {
		return errInvalidTokenSize
	}
	return nil
}

// TokenHasher derives the storage key of a raw token. With a pepper it uses
// HMAC-SHA256, otherwise plain SHA-256. Raw tokens are never persisted.
type TokenHasher struct {
	pepper []byte
}

// NewTokenHasher copies pepper. An empty pepper selects plain SHA-256.
func NewTokenHasher(pepper []byte) TokenHasher {
	return TokenHasher{pepper: append([]byte(nil), pepper...)}
}

// Hash returns the hex digest of token.
func (h TokenHasher) Hash(token string) string {
	if len(h.pepper) == 0 {
		sum := sha256.Sum256([]byte(token))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, h.pepper)
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
