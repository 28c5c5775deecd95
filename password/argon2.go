package password

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// DefaultMaxPasswordBytes caps input length when Config leaves it unset.
const DefaultMaxPasswordBytes = 1024

const paramsFormat = "argon2id$v=%d$m=%d,t=%d,p=%d"

var (
	// ErrPasswordTooLong is returned for input above MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedDigest is returned when a stored digest cannot be used.
	ErrMalformedDigest = errors.New("malformed password digest")
)

// floor is the weakest cost a config or stored digest may carry.
var floor = cost{memory: 8 * 1024, time: 1, parallelism: 1}

const minSaltBytes, minKeyBytes = 16, 16

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxPasswordBytes bounds hashing work per call. 0 means
	// DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

// DefaultConfig returns the recommended interactive-login parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Config) cost() cost {
	return cost{memory: c.Memory, time: c.Time, parallelism: c.Parallelism}
}

func (c Config) validate() error {
	switch {
	case c.Memory < floor.memory:
		return fmt.Errorf("password memory must be >= %d KB", floor.memory)
	case c.Time < floor.time:
		return errors.New("password time must be >= 1")
	case c.Parallelism < floor.parallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltBytes:
		return fmt.Errorf("password salt length must be >= %d", minSaltBytes)
	case c.KeyLength < minKeyBytes:
		return fmt.Errorf("password key length must be >= %d", minKeyBytes)
	}
	return nil
}

// cost is the tunable part of an Argon2id derivation.
type cost struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func (c cost) String() string {
	return fmt.Sprintf(paramsFormat, argon2.Version, c.memory, c.time, c.parallelism)
}

func (c cost) weakerThan(o cost) bool {
	return c.memory < o.memory || c.time < o.time || c.parallelism < o.parallelism
}

// parseCost reads a Digest.Params string. Only the canonical encoding is
// accepted, so anything Sscanf tolerates but String would not produce fails.
func parseCost(s string) (cost, error) {
	var (
		c       cost
		version int
	)
	if _, err := fmt.Sscanf(s, paramsFormat, &version, &c.memory, &c.time, &c.parallelism); err != nil {
		return cost{}, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}
	if version != argon2.Version || c.String() != s {
		return cost{}, fmt.Errorf("%w: unsupported params %q", ErrMalformedDigest, s)
	}
	if c.weakerThan(floor) {
		return cost{}, fmt.Errorf("%w: params below minimum", ErrMalformedDigest)
	}
	return c, nil
}

// Digest is a derived key with its salt and the parameters that produced it.
// Params has the form "argon2id$v=19$m=65536,t=3,p=2".
type Digest struct {
	Params string
	Salt   []byte
	Key    []byte
}

// Argon2 hashes and verifies passwords with Argon2id.
type Argon2 struct {
	config Config
	dummy  Digest
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}

	a := &Argon2{config: cfg}
	dummy, err := a.Hash("accountcore-dummy-password")
	if err != nil {
		return nil, err
	}
	a.dummy = dummy
	return a, nil
}

// Hash derives a key from password with a fresh random salt. Password bytes
// are used as given, without Unicode normalization.
func (a *Argon2) Hash(password string) (Digest, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return Digest{}, ErrPasswordTooLong
	}
	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return Digest{}, err
	}
	c := a.config.cost()
	return Digest{
		Params: c.String(),
		Salt:   salt,
		Key:    derive(password, salt, c, a.config.KeyLength),
	}, nil
}

// Verify compares password against d in constant time.
func (a *Argon2) Verify(password string, d Digest) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	c, err := parseCost(d.Params)
	if err != nil {
		return false, err
	}
	if len(d.Salt) < minSaltBytes || len(d.Key) == 0 {
		return false, fmt.Errorf("%w: salt or key too short", ErrMalformedDigest)
	}
	got := derive(password, d.Salt, c, uint32(len(d.Key)))
	return subtle.ConstantTimeCompare(got, d.Key) == 1, nil
}

// VerifyDummy burns the same work as Verify against a throwaway digest so a
// lookup miss costs the same as a wrong password.
func (a *Argon2) VerifyDummy(password string) {
	_, _ = a.Verify(password, a.dummy)
}

// NeedsUpgrade reports whether d was produced with weaker parameters or a
// different key length than the current configuration.
func (a *Argon2) NeedsUpgrade(d Digest) (bool, error) {
	c, err := parseCost(d.Params)
	if err != nil {
		return false, err
	}
	return c.weakerThan(a.config.cost()) || uint32(len(d.Key)) != a.config.KeyLength, nil
}

func derive(password string, salt []byte, c cost, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, c.time, c.memory, c.parallelism, keyLen)
}
