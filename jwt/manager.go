package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/accountcore"
)

// SigningMethod selects the assertion signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrNoPrincipal is returned when asked to sign for nobody.
	ErrNoPrincipal = errors.New("jwt: principal required")
	// ErrInvalidAssertion wraps every verification failure.
	ErrInvalidAssertion = errors.New("jwt: invalid assertion")
)

// Config configures a Manager.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	// KeyID is stamped into the header and must be present in VerifyKeys
	// when both are set.
	KeyID      string
	VerifyKeys map[string][]byte
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager signs and verifies identity assertions. Keys are decoded once at
// construction.
type Manager struct {
	config  Config
	method  jwt.SigningMethod
	signKey any // nil for verify-only managers
	defKey  any
	byKID   map[string]any
}

// IdentityClaims is the assertion payload. Subject is the user ID.
type IdentityClaims struct {
	SID           string `json:"sid"`
	EmailVerified bool   `json:"ev,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager. A manager without a
// private key can only verify.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.TTL <= 0:
		return nil, errors.New("jwt: TTL must be positive")
	case cfg.TTL > time.Hour:
		return nil, errors.New("jwt: assertion TTL above one hour")
	case cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute:
		return nil, errors.New("jwt: leeway must be within [0, 2m]")
	case cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour:
		return nil, errors.New("jwt: MaxFutureIAT must be within [0, 24h]")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, byKID: make(map[string]any, len(cfg.VerifyKeys))}
	var decode func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("jwt: hs256 requires a key of at least 32 bytes")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey, m.defKey = cfg.PrivateKey, cfg.PrivateKey
		decode = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
			m.defKey = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.defKey = pub
		}
		decode = func(b []byte) (any, error) { return parseEdPublicKey(b) }
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt: verify key with empty kid")
		}
		key, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
		}
		m.byKID[kid] = key
	}
	if m.defKey == nil && len(m.byKID) == 0 {
		return nil, errors.New("jwt: no verification key configured")
	}
	if cfg.KeyID != "" && len(m.byKID) > 0 {
		if _, ok := m.byKID[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID missing from VerifyKeys")
		}
	}
	return m, nil
}

// Issue signs an assertion for p. The expiry never outlives the session.
func (j *Manager) Issue(p *accountcore.Principal) (string, time.Time, error) {
	if p == nil || p.User.ID == "" {
		return "", time.Time{}, ErrNoPrincipal
	}
	now := j.config.Now()
	exp := now.Add(j.config.TTL)
	if !p.Session.ExpiresAt.IsZero() && p.Session.ExpiresAt.Before(exp) {
		exp = p.Session.ExpiresAt
	}

	claims := IdentityClaims{
		SID:           p.Session.ID,
		EmailVerified: p.User.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.User.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	if j.signKey == nil {
		return "", time.Time{}, errors.New("jwt: verify-only manager cannot sign")
	}
	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	signed, err := token.SignedString(j.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates an assertion.
func (j *Manager) Verify(tokenStr string) (*IdentityClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &IdentityClaims{}, j.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidAssertion)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalidAssertion)
	}
	return claims, nil
}

// Identity resolves an assertion to an identity. Any failure yields the
// guest identity.
func (j *Manager) Identity(tokenStr string) accountcore.Identity {
	if j == nil || tokenStr == "" {
		return accountcore.Guest
	}
	claims, err := j.Verify(tokenStr)
	if err != nil {
		return accountcore.Guest
	}
	return accountcore.Identity{UserID: claims.Subject}
}

func (j *Manager) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if len(j.byKID) > 0 {
		if key, ok := j.byKID[kid]; ok {
			return key, nil
		}
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	if j.config.KeyID != "" && kid != j.config.KeyID {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return j.defKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
