package accountcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal"
	"github.com/MrEthical07/accountcore/internal/activity"
	"github.com/MrEthical07/accountcore/internal/audit"
	"github.com/MrEthical07/accountcore/internal/limiters"
	"github.com/MrEthical07/accountcore/internal/linker"
	"github.com/MrEthical07/accountcore/internal/rate"
	"github.com/MrEthical07/accountcore/internal/sessions"
	"github.com/MrEthical07/accountcore/internal/tokens"
	"github.com/MrEthical07/accountcore/password"
	"github.com/MrEthical07/accountcore/store"
)

// Mailer delivers raw tokens to the account's email address. The token is
// passed exactly once and must not be logged.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, username, token string) error
	SendEmailVerification(ctx context.Context, to, username, token string) error
}

// Builder assembles an Engine. Configure it during initialization, call
// Build once, then discard it.
type Builder struct {
	config Config

	users    store.UserStore
	tokens   store.TokenStore
	sessions store.SessionStore
	oauth    store.OAuthStore
	activity store.ActivityStore

	redis     redis.UniversalClient
	logger    *zap.Logger
	now       func() time.Time
	mailer    Mailer
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore uses s for every repository. Later WithXStore calls override
// individual repositories.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.users = s
	b.tokens = s
	b.sessions = s
	b.oauth = s
	b.activity = s
	return b
}

func (b *Builder) WithUserStore(s store.UserStore) *Builder {
	b.users = s
	return b
}

func (b *Builder) WithTokenStore(s store.TokenStore) *Builder {
	b.tokens = s
	return b
}

func (b *Builder) WithSessionStore(s store.SessionStore) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithOAuthStore(s store.OAuthStore) *Builder {
	b.oauth = s
	return b
}

func (b *Builder) WithActivityStore(s store.ActivityStore) *Builder {
	b.activity = s
	return b
}

// WithRedis enables request throttling backed by client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces time.Now. Tests use it to drive expiry and lockout.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink forwards activity items to sink and enables the audit
// dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case b.users == nil:
		return nil, errors.New("user store required")
	case b.tokens == nil:
		return nil, errors.New("token store required")
	case b.sessions == nil:
		return nil, errors.New("session store required")
	case b.oauth == nil:
		return nil, errors.New("oauth store required")
	case b.activity == nil:
		return nil, errors.New("activity store required")
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: 4 * cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}

	hasher := internal.NewTokenHasher(cloneBytes(cfg.Tokens.Pepper))
	metrics := NewMetrics(cfg.Metrics)

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(item store.ActivityItem) {
			log.Warn("audit sink backpressure, item dropped",
				zap.String("user_id", item.UserID),
				zap.String("action", string(item.Action)),
			)
		},
	}, b.auditSink)

	var throttle *limiters.Throttle
	if b.redis != nil {
		throttle = limiters.NewThrottle(rate.New(b.redis), limiters.ThrottleConfig{
			Window:          cfg.Throttle.Window,
			LoginPerIP:      cfg.Throttle.LoginPerIP,
			SignupPerIP:     cfg.Throttle.SignupPerIP,
			ResetPerEmail:   cfg.Throttle.ResetPerEmail,
			VerifyPerEmail:  cfg.Throttle.VerifyPerEmail,
			MFAPerChallenge: cfg.Throttle.MFAPerChallenge,
		})
	}

	engine := &Engine{
		config:       cfg,
		users:        b.users,
		passwordHash: ph,
		policy: password.Policy{
			MinLength:      cfg.Password.MinLength,
			MaxLength:      cfg.Password.MaxLength,
			RequireUpper:   cfg.Password.RequireUpper,
			RequireLower:   cfg.Password.RequireLower,
			RequireDigit:   cfg.Password.RequireDigit,
			RequireSymbol:  cfg.Password.RequireSymbol,
			RejectIdentity: cfg.Password.RejectIdentity,
		},
		lockout: limiters.NewLockoutPolicy(limiters.LockoutConfig{
			Threshold:    cfg.Lockout.Threshold,
			Window:       cfg.Lockout.Window,
			BaseDuration: cfg.Lockout.BaseDuration,
			MaxDuration:  cfg.Lockout.MaxDuration,
		}),
		throttle: throttle,
		tokens:   tokens.New(b.tokens, hasher, now, log),
		sessions: sessions.New(b.sessions, hasher, sessions.Config{
			TTL:              cfg.Session.TTL,
			Sliding:          cfg.Session.Sliding,
			AbsoluteLifetime: cfg.Session.AbsoluteLifetime,
			TouchInterval:    cfg.Session.TouchInterval,
		}, now, log),
		linker:      linker.New(b.users, b.oauth, now, log),
		activity:    activity.New(b.activity, dispatcher, now, log),
		audit:       dispatcher,
		totp:        newTOTPManager(cfg.TOTP),
		metrics:     metrics,
		mailer:      b.mailer,
		tokenHasher: hasher,
		now:         now,
		log:         log.Named("accountcore"),
	}

	b.built = true

	return engine, nil
}
