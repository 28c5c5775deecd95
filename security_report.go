package accountcore

import "time"

// SecurityReport is a read-only snapshot of the engine's security posture,
// returned by [Engine.SecurityReport].
type SecurityReport struct {
	Argon2             PasswordConfigReport
	HashUpgradeOnLogin bool
	PasswordMinLength  int

	LockoutThreshold int
	LockoutWindow    time.Duration
	LockoutMax       time.Duration

	SessionTTL       time.Duration
	SlidingSessions  bool
	AbsoluteLifetime time.Duration

	TokensPeppered  bool
	ResetTTL        time.Duration
	VerificationTTL time.Duration
	MFAChallengeTTL time.Duration
	MFAMaxAttempts  int

	RateLimitingActive bool
	MailerConfigured   bool
	AuditSinkActive    bool
}

// PasswordConfigReport mirrors the Argon2id cost parameters.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport describes the effective configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	report := SecurityReport{
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		HashUpgradeOnLogin: c.Password.UpgradeOnLogin,
		PasswordMinLength:  c.Password.MinLength,
		LockoutThreshold:   c.Lockout.Threshold,
		LockoutWindow:      c.Lockout.Window,
		LockoutMax:         c.Lockout.MaxDuration,
		SessionTTL:         c.Session.TTL,
		SlidingSessions:    c.Session.Sliding,
		TokensPeppered:     len(c.Tokens.Pepper) > 0,
		ResetTTL:           c.Tokens.ResetTTL,
		VerificationTTL:    c.Tokens.VerificationTTL,
		MFAChallengeTTL:    c.Tokens.MFAChallengeTTL,
		MFAMaxAttempts:     c.Tokens.MFAMaxAttempts,
		RateLimitingActive: e.throttle != nil,
		MailerConfigured:   e.mailer != nil,
		AuditSinkActive:    c.Audit.Enabled,
	}
	if c.Session.Sliding {
		report.AbsoluteLifetime = c.Session.AbsoluteLifetime
	}
	return report
}
