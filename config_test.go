package accountcore

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
		wantMsg   string
	}{
		{
			name:      "weak argon2 memory",
			mutate:    func(c *Config) { c.Password.Memory = 4 * 1024 },
			wantValid: false,
			wantMsg:   "Memory",
		},
		{
			name:      "password max below min",
			mutate:    func(c *Config) { c.Password.MinLength = 12; c.Password.MaxLength = 10 },
			wantValid: false,
			wantMsg:   "MaxLength",
		},
		{
			name:      "lockout threshold zero",
			mutate:    func(c *Config) { c.Lockout.Threshold = 0 },
			wantValid: false,
			wantMsg:   "Threshold",
		},
		{
			name:      "lockout max below base",
			mutate:    func(c *Config) { c.Lockout.MaxDuration = time.Minute },
			wantValid: false,
			wantMsg:   "MaxDuration",
		},
		{
			name:      "short pepper",
			mutate:    func(c *Config) { c.Tokens.Pepper = []byte("short") },
			wantValid: false,
			wantMsg:   "Pepper",
		},
		{
			name:      "pepper ok",
			mutate:    func(c *Config) { c.Tokens.Pepper = []byte("0123456789abcdef") },
			wantValid: true,
		},
		{
			name: "sliding lifetime below ttl",
			mutate: func(c *Config) {
				c.Session.Sliding = true
				c.Session.AbsoluteLifetime = time.Hour
			},
			wantValid: false,
			wantMsg:   "AbsoluteLifetime",
		},
		{
			name:      "fixed expiry ignores lifetime",
			mutate:    func(c *Config) { c.Session.AbsoluteLifetime = 0 },
			wantValid: true,
		},
		{
			name:      "totp digits invalid",
			mutate:    func(c *Config) { c.TOTP.Digits = 7 },
			wantValid: false,
			wantMsg:   "Digits",
		},
		{
			name:      "totp algorithm invalid",
			mutate:    func(c *Config) { c.TOTP.Algorithm = "MD5" },
			wantValid: false,
			wantMsg:   "Algorithm",
		},
		{
			name:      "totp algorithm sha512",
			mutate:    func(c *Config) { c.TOTP.Algorithm = "sha512" },
			wantValid: true,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
			wantMsg:   "BufferSize",
		},
		{
			name:      "username bounds inverted",
			mutate:    func(c *Config) { c.Account.UsernameMaxLength = 2 },
			wantValid: false,
			wantMsg:   "username",
		},
		{
			name:      "negative store timeout",
			mutate:    func(c *Config) { c.StoreTimeout = -time.Second },
			wantValid: false,
			wantMsg:   "StoreTimeout",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !strings.Contains(err.Error(), tc.wantMsg) {
					t.Fatalf("expected error mentioning %q, got %v", tc.wantMsg, err)
				}
			}
		})
	}
}

func TestCloneConfigCopiesPepper(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tokens.Pepper = []byte("0123456789abcdef")

	cp := cloneConfig(cfg)
	cp.Tokens.Pepper[0] = 'X'
	if cfg.Tokens.Pepper[0] != '0' {
		t.Fatal("cloneConfig shares the pepper slice")
	}
}
