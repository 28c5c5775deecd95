package accountcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// totpSecretBytes matches the HMAC-SHA1 block size recommended by RFC 4226.
const totpSecretBytes = 20

var (
	errEmptyTOTPSecret      = errors.New("empty totp secret")
	errUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpManager generates enrollment secrets and checks RFC 6238 codes.
type totpManager struct {
	issuer    string
	algorithm string
	newHash   func() hash.Hash
	digits    int
	modulus   uint32
	period    int64
	skew      int64
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	alg := strings.ToUpper(cfg.Algorithm)
	if alg == "" {
		alg = "SHA1"
	}
	m := &totpManager{
		issuer:    cfg.Issuer,
		algorithm: alg,
		digits:    cfg.Digits,
		modulus:   1,
		period:    int64(cfg.Period),
		skew:      int64(cfg.Skew),
	}
	m.newHash, _ = hmacFunc(alg)
	for i := 0; i < cfg.Digits; i++ {
		m.modulus *= 10
	}
	return m
}

// GenerateSecret returns a fresh secret and its unpadded base32 form.
func (m *totpManager) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, secretEncoding.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI authenticator apps scan.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	q := url.Values{
		"secret":    {secretBase32},
		"issuer":    {m.issuer},
		"algorithm": {m.algorithm},
		"digits":    {strconv.Itoa(m.digits)},
		"period":    {strconv.FormatInt(m.period, 10)},
	}
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + m.issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// VerifyCode checks code against secret within the configured skew. It
// returns the matched time-step counter so callers can reject replays of a
// counter at or below the last accepted one.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != m.digits || strings.IndexFunc(code, notDigit) >= 0 {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errEmptyTOTPSecret
	}
	if m.newHash == nil {
		return false, 0, errUnsupportedAlgorithm
	}

	// current step first, then alternate outward
	base := now.Unix() / m.period
	for d := int64(0); d <= m.skew; d++ {
		for _, counter := range [2]int64{base - d, base + d} {
			if counter < 0 {
				continue
			}
			if subtle.ConstantTimeCompare([]byte(m.code(secret, counter)), []byte(code)) == 1 {
				return true, counter, nil
			}
			if d == 0 {
				break
			}
		}
	}
	return false, 0, nil
}

// CodeAt returns the code for the time step containing t.
func (m *totpManager) CodeAt(secret []byte, t time.Time) (string, error) {
	if m.newHash == nil {
		return "", errUnsupportedAlgorithm
	}
	return m.code(secret, t.Unix()/m.period), nil
}

func (m *totpManager) code(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(m.newHash, secret)
	_, _ = mac.Write(msg[:])
	return fmt.Sprintf("%0*d", m.digits, truncate(mac.Sum(nil))%m.modulus)
}

// truncate is the RFC 4226 dynamic truncation.
func truncate(sum []byte) uint32 {
	offset := sum[len(sum)-1] & 0x0f
	return binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
}

// hotpCode computes a single HOTP value.
func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	m := newTOTPManager(TOTPConfig{Digits: digits, Period: 1, Algorithm: algorithm})
	if m.newHash == nil {
		return "", errUnsupportedAlgorithm
	}
	return m.code(secret, counter), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errUnsupportedAlgorithm
	}
}

func notDigit(r rune) bool { return r < '0' || r > '9' }
