// Package appconfig loads the service configuration for cmd/accountcore from
// a YAML file, an optional .env file and ACCOUNTCORE_* environment variables.
package appconfig

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/internal/logger"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "ACCOUNTCORE_"

type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// PublicURL is the externally reachable base used in mailed links and
		// OAuth callbacks.
		PublicURL         string        `yaml:"public_url"`
		CookieName        string        `yaml:"cookie_name"`
		CookieSecure      bool          `yaml:"cookie_secure"`
		TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
		// Migrate applies pending migrations on serve.
		Migrate bool `yaml:"migrate"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
		// Sessions moves sessions and tokens from the primary storage to Redis.
		Sessions bool `yaml:"sessions"`
	} `yaml:"redis"`

	Security struct {
		// Pepper is base64 encoded.
		Pepper            string        `yaml:"pepper"`
		PasswordMinLength int           `yaml:"password_min_length"`
		LockoutThreshold  int           `yaml:"lockout_threshold"`
		LockoutWindow     time.Duration `yaml:"lockout_window"`
		LockoutBase       time.Duration `yaml:"lockout_base"`
		LockoutMax        time.Duration `yaml:"lockout_max"`
		SessionTTL        time.Duration `yaml:"session_ttl"`
		SessionSliding    bool          `yaml:"session_sliding"`
		ResetTTL          time.Duration `yaml:"reset_ttl"`
		VerifyTTL         time.Duration `yaml:"verify_ttl"`
		TOTPIssuer        string        `yaml:"totp_issuer"`
	} `yaml:"security"`

	JWT struct {
		// SigningKey is base64 encoded; empty disables identity assertions.
		SigningKey string        `yaml:"signing_key"`
		Issuer     string        `yaml:"issuer"`
		Audience   string        `yaml:"audience"`
		TTL        time.Duration `yaml:"ttl"`
	} `yaml:"jwt"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		// auto | starttls | ssl | none
		TLS                string `yaml:"tls"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"smtp"`

	Providers struct {
		StateTTL time.Duration  `yaml:"state_ttl"`
		Google   ProviderConfig `yaml:"google"`
		Facebook ProviderConfig `yaml:"facebook"`
	} `yaml:"providers"`

	GC struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"gc"`
}

// ProviderConfig holds OAuth client credentials for one provider.
type ProviderConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// Load reads envFile (when it exists), then path (when non-empty), applies
// defaults and environment overrides and validates the result.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("dotenv %s: %w", envFile, err)
			}
		}
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = "http://localhost:8080"
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Server.CookieName == "" {
		c.Server.CookieName = "ac_session"
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 10
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "ac"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = c.Server.PublicURL
	}
	if c.JWT.TTL == 0 {
		c.JWT.TTL = 5 * time.Minute
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Providers.StateTTL == 0 {
		c.Providers.StateTTL = 10 * time.Minute
	}
	if len(c.Providers.Google.Scopes) == 0 {
		c.Providers.Google.Scopes = []string{"openid", "email", "profile"}
	}
	if len(c.Providers.Facebook.Scopes) == 0 {
		c.Providers.Facebook.Scopes = []string{"email", "public_profile"}
	}
	if c.Providers.Google.RedirectURL == "" {
		c.Providers.Google.RedirectURL = c.Server.PublicURL + "/v1/oauth/google/callback"
	}
	if c.Providers.Facebook.RedirectURL == "" {
		c.Providers.Facebook.RedirectURL = c.Server.PublicURL + "/v1/oauth/facebook/callback"
	}
	if c.GC.Interval == 0 {
		c.GC.Interval = 15 * time.Minute
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.App.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("app.env must be dev or prod, got %q", c.App.Env)
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory or postgres, got %q", c.Storage.Driver)
	}
	if c.Redis.Sessions && c.Redis.Addr == "" {
		return errors.New("redis.sessions requires redis.addr")
	}
	switch c.SMTP.TLS {
	case "auto", "starttls", "ssl", "none":
	default:
		return fmt.Errorf("smtp.tls must be auto, starttls, ssl or none, got %q", c.SMTP.TLS)
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return errors.New("smtp.from is required when smtp.host is set")
	}
	for name, p := range map[string]ProviderConfig{"google": c.Providers.Google, "facebook": c.Providers.Facebook} {
		if p.Enabled && (p.ClientID == "" || p.ClientSecret == "") {
			return fmt.Errorf("providers.%s requires client_id and client_secret", name)
		}
	}
	if _, err := c.PepperBytes(); err != nil {
		return err
	}
	if _, err := c.JWTKey(); err != nil {
		return err
	}
	if c.App.Env == "prod" && !c.Server.CookieSecure {
		return errors.New("server.cookie_secure must be true in prod")
	}
	return nil
}

// PepperBytes decodes Security.Pepper.
func (c *Config) PepperBytes() ([]byte, error) {
	return decodeKey("security.pepper", c.Security.Pepper, 16)
}

// JWTKey decodes JWT.SigningKey. A nil key means assertions are disabled.
func (c *Config) JWTKey() ([]byte, error) {
	return decodeKey("jwt.signing_key", c.JWT.SigningKey, 32)
}

func decodeKey(name, v string, min int) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", name, err)
	}
	if len(b) < min {
		return nil, fmt.Errorf("%s must decode to at least %d bytes", name, min)
	}
	return b, nil
}

// Logger returns the logger settings.
func (c *Config) Logger(version string) logger.Config {
	return logger.Config{
		Env:         c.App.Env,
		Level:       c.App.LogLevel,
		ServiceName: "accountcore",
		Version:     version,
	}
}

// Engine maps the service settings onto the engine configuration. Unset
// values keep the engine defaults.
func (c *Config) Engine() (accountcore.Config, error) {
	cfg := accountcore.DefaultConfig()
	pepper, err := c.PepperBytes()
	if err != nil {
		return cfg, err
	}
	cfg.Tokens.Pepper = pepper

	s := c.Security
	if s.PasswordMinLength > 0 {
		cfg.Password.MinLength = s.PasswordMinLength
	}
	if s.LockoutThreshold > 0 {
		cfg.Lockout.Threshold = s.LockoutThreshold
	}
	if s.LockoutWindow > 0 {
		cfg.Lockout.Window = s.LockoutWindow
	}
	if s.LockoutBase > 0 {
		cfg.Lockout.BaseDuration = s.LockoutBase
	}
	if s.LockoutMax > 0 {
		cfg.Lockout.MaxDuration = s.LockoutMax
	}
	if s.SessionTTL > 0 {
		cfg.Session.TTL = s.SessionTTL
	}
	cfg.Session.Sliding = s.SessionSliding
	if s.ResetTTL > 0 {
		cfg.Tokens.ResetTTL = s.ResetTTL
	}
	if s.VerifyTTL > 0 {
		cfg.Tokens.VerificationTTL = s.VerifyTTL
	}
	if s.TOTPIssuer != "" {
		cfg.TOTP.Issuer = s.TOTPIssuer
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("PUBLIC_URL"); ok {
		c.Server.PublicURL = v
	}
	if v, ok := getEnvBool("COOKIE_SECURE"); ok {
		c.Server.CookieSecure = v
	}
	if v, ok := getEnvBool("TRUST_PROXY_HEADERS"); ok {
		c.Server.TrustProxyHeaders = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("STORAGE_MAX_CONNS"); ok {
		c.Storage.MaxConns = int32(v)
	}
	if v, ok := getEnvBool("STORAGE_MIGRATE"); ok {
		c.Storage.Migrate = v
	}

	// REDIS
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Redis.Prefix = v
	}
	if v, ok := getEnvBool("REDIS_SESSIONS"); ok {
		c.Redis.Sessions = v
	}

	// SECURITY
	if v, ok := getEnvStr("PEPPER"); ok {
		c.Security.Pepper = v
	}
	if v, ok := getEnvInt("PASSWORD_MIN_LENGTH"); ok {
		c.Security.PasswordMinLength = v
	}
	if v, ok := getEnvInt("LOCKOUT_THRESHOLD"); ok {
		c.Security.LockoutThreshold = v
	}
	if v, ok := getEnvDur("LOCKOUT_WINDOW"); ok {
		c.Security.LockoutWindow = v
	}
	if v, ok := getEnvDur("SESSION_TTL"); ok {
		c.Security.SessionTTL = v
	}
	if v, ok := getEnvBool("SESSION_SLIDING"); ok {
		c.Security.SessionSliding = v
	}

	// JWT
	if v, ok := getEnvStr("JWT_SIGNING_KEY"); ok {
		c.JWT.SigningKey = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvDur("JWT_TTL"); ok {
		c.JWT.TTL = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}

	// PROVIDERS
	overrideProvider("GOOGLE", &c.Providers.Google)
	overrideProvider("FACEBOOK", &c.Providers.Facebook)

	// GC
	if v, ok := getEnvDur("GC_INTERVAL"); ok {
		c.GC.Interval = v
	}
}

func overrideProvider(name string, p *ProviderConfig) {
	if v, ok := getEnvBool(name + "_ENABLED"); ok {
		p.Enabled = v
	}
	if v, ok := getEnvStr(name + "_CLIENT_ID"); ok {
		p.ClientID = v
	}
	if v, ok := getEnvStr(name + "_CLIENT_SECRET"); ok {
		p.ClientSecret = v
	}
	if v, ok := getEnvStr(name + "_REDIRECT_URL"); ok {
		p.RedirectURL = v
	}
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
