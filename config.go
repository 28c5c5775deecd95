package accountcore

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	Password     PasswordConfig
	Lockout      LockoutConfig
	Tokens       TokenConfig
	Session      SessionConfig
	TOTP         TOTPConfig
	Throttle     ThrottleConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Account      AccountConfig
	StoreTimeout time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig sets Argon2id cost parameters and the password policy.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin rehashes stored passwords whose parameters are weaker
	// than the current ones after a successful login.
	UpgradeOnLogin bool

	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool
	RejectIdentity bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls failed-login lockout. Threshold failures inside
// Window lock the account for BaseDuration doubled per previous lockout,
// capped at MaxDuration.
type LockoutConfig struct {
	Threshold    int
	Window       time.Duration
	BaseDuration time.Duration
	MaxDuration  time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls single-use tokens.
type TokenConfig struct {
	// Pepper keys the HMAC used to hash tokens and session handles at rest.
	// Empty means plain SHA-256.
	Pepper          []byte
	ResetTTL        time.Duration
	VerificationTTL time.Duration
	MFAChallengeTTL time.Duration
	MFAMaxAttempts  int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL time.Duration
	// Sliding extends the expiry on use, never past AbsoluteLifetime.
	Sliding          bool
	AbsoluteLifetime time.Duration
	// TouchInterval throttles LastUsedAt writes.
	TouchInterval time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures time-based one-time passwords.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string
}

/*
====================================
THROTTLE CONFIG
====================================
*/

// ThrottleConfig sets request budgets per Window. It only takes effect when
// the Builder is given a Redis client. A zero budget disables that check.
type ThrottleConfig struct {
	Window          time.Duration
	LoginPerIP      int
	SignupPerIP     int
	ResetPerEmail   int
	VerifyPerEmail  int
	MFAPerChallenge int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls asynchronous delivery of activity items to an
// AuditSink. The activity store is always written synchronously.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls account naming and export.
type AccountConfig struct {
	UsernameMinLength int
	UsernameMaxLength int
	// ExportActivityLimit bounds the activity items included in an export.
	ExportActivityLimit int
	// SendVerificationOnSignup mails a verification token after Signup when
	// a Mailer is configured.
	SendVerificationOnSignup bool
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			MinLength:      8,
			MaxLength:      128,
			RequireLower:   true,
			RequireDigit:   true,
			RejectIdentity: true,
		},
		Lockout: LockoutConfig{
			Threshold:    5,
			Window:       15 * time.Minute,
			BaseDuration: 15 * time.Minute,
			MaxDuration:  24 * time.Hour,
		},
		Tokens: TokenConfig{
			ResetTTL:        time.Hour,
			VerificationTTL: 24 * time.Hour,
			MFAChallengeTTL: 5 * time.Minute,
			MFAMaxAttempts:  5,
		},
		Session: SessionConfig{
			TTL:              12 * time.Hour,
			AbsoluteLifetime: 7 * 24 * time.Hour,
			TouchInterval:    time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:    "accountcore",
			Digits:    6,
			Period:    30,
			Skew:      1,
			Algorithm: "SHA1",
		},
		Throttle: ThrottleConfig{
			Window:          15 * time.Minute,
			LoginPerIP:      50,
			SignupPerIP:     10,
			ResetPerEmail:   3,
			VerifyPerEmail:  3,
			MFAPerChallenge: 10,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Account: AccountConfig{
			UsernameMinLength:        3,
			UsernameMaxLength:        32,
			ExportActivityLimit:      500,
			SendVerificationOnSignup: true,
		},
		StoreTimeout: 5 * time.Second,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Tokens.Pepper = cloneBytes(cfg.Tokens.Pepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength != 0 && c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}
	if c.Lockout.BaseDuration <= 0 {
		return errors.New("Lockout BaseDuration must be > 0")
	}
	if c.Lockout.MaxDuration < c.Lockout.BaseDuration {
		return errors.New("Lockout MaxDuration must be >= BaseDuration")
	}

	// Tokens
	if c.Tokens.ResetTTL <= 0 || c.Tokens.VerificationTTL <= 0 || c.Tokens.MFAChallengeTTL <= 0 {
		return errors.New("Tokens TTLs must be > 0")
	}
	if c.Tokens.MFAMaxAttempts < 1 {
		return errors.New("Tokens MFAMaxAttempts must be >= 1")
	}
	if len(c.Tokens.Pepper) > 0 && len(c.Tokens.Pepper) < 16 {
		return errors.New("Tokens Pepper must be empty or >= 16 bytes")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.Sliding && c.Session.AbsoluteLifetime < c.Session.TTL {
		return errors.New("Session AbsoluteLifetime must be >= TTL in sliding mode")
	}
	if c.Session.TouchInterval < 0 {
		return errors.New("Session TouchInterval must be >= 0")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Throttle
	if c.Throttle.Window < 0 {
		return errors.New("Throttle Window must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Account
	if c.Account.UsernameMinLength < 1 || c.Account.UsernameMaxLength < c.Account.UsernameMinLength {
		return errors.New("Account username length bounds are invalid")
	}
	if c.Account.ExportActivityLimit < 0 {
		return errors.New("Account ExportActivityLimit must be >= 0")
	}

	if c.StoreTimeout < 0 {
		return errors.New("StoreTimeout must be >= 0")
	}

	return nil
}
