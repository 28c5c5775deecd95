// Package sessions issues, validates and revokes login sessions.
//
// A session is addressed two ways: by ID (listing, revocation) and by the
// hash of its bearer token (validation). The raw bearer token is returned once
// from Create and never stored.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal"
	"github.com/MrEthical07/accountcore/store"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrExpired     = errors.New("session expired")
	ErrUnavailable = errors.New("session backend unavailable")
)

// Config controls session lifetime.
type Config struct {
	TTL time.Duration
	// Sliding extends ExpiresAt to now+TTL on touch, never past
	// CreatedAt+AbsoluteLifetime.
	Sliding          bool
	AbsoluteLifetime time.Duration
	// TouchInterval throttles LastUsedAt writes.
	TouchInterval time.Duration
}

// DefaultConfig returns a fixed 12 hour session touched at most once a minute.
func DefaultConfig() Config {
	return Config{
		TTL:              12 * time.Hour,
		AbsoluteLifetime: 7 * 24 * time.Hour,
		TouchInterval:    time.Minute,
	}
}

// Meta describes the client that opened a session.
type Meta struct {
	UserAgent string
	IP        string
}

// Issued is a freshly created session and its bearer token.
type Issued struct {
	Session store.Session
	Token   string
}

// Manager owns session state transitions.
type Manager struct {
	store  store.SessionStore
	hasher internal.TokenHasher
	config Config
	now    func() time.Time
	log    *zap.Logger
}

// New creates a Manager. now and log may be nil.
func New(s store.SessionStore, hasher internal.TokenHasher, cfg Config, now func() time.Time, log *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.AbsoluteLifetime < cfg.TTL {
		cfg.AbsoluteLifetime = cfg.TTL
	}
	if cfg.TouchInterval < 0 {
		cfg.TouchInterval = 0
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: s, hasher: hasher, config: cfg, now: now, log: log.Named("sessions")}
}

// Create opens a session for userID.
func (m *Manager) Create(ctx context.Context, userID string, meta Meta) (*Issued, error) {
	if userID == "" {
		return nil, store.ErrInvalidArgument
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	sess := store.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		TokenHash:  m.hasher.Hash(token),
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(m.config.TTL),
		UserAgent:  truncate(meta.UserAgent, 512),
		IP:         truncate(meta.IP, 64),
	}
	if err := m.store.CreateSession(ctx, &sess); err != nil {
		return nil, mapStoreErr(err)
	}
	return &Issued{Session: sess, Token: token}, nil
}

// Validate resolves a bearer token to its live session. Expired sessions are
// deleted on sight.
func (m *Manager) Validate(ctx context.Context, token string) (*store.Session, error) {
	if internal.ValidateOpaqueToken(token) != nil {
		return nil, ErrNotFound
	}

	sess, err := m.store.GetSessionByTokenHash(ctx, m.hasher.Hash(token))
	if err != nil {
		return nil, mapStoreErr(err)
	}

	now := m.now()
	if sess.Expired(now) {
		if err := m.store.DeleteSession(ctx, sess.ID); err != nil {
			m.log.Warn("expired session cleanup failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
		return nil, ErrExpired
	}

	if now.Sub(sess.LastUsedAt) >= m.config.TouchInterval {
		expires := m.slidingExpiry(sess, now)
		if err := m.store.TouchSession(ctx, sess.ID, now, expires); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotFound
			}
			m.log.Warn("session touch failed", zap.String("session_id", sess.ID), zap.Error(err))
		} else {
			sess.LastUsedAt = now
			if !expires.IsZero() && expires.After(sess.ExpiresAt) {
				sess.ExpiresAt = expires
			}
		}
	}
	return sess, nil
}

// Touch records activity on a session by ID.
func (m *Manager) Touch(ctx context.Context, id string) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return mapStoreErr(err)
	}
	now := m.now()
	if sess.Expired(now) {
		return ErrExpired
	}
	if err := m.store.TouchSession(ctx, id, now, m.slidingExpiry(sess, now)); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// Get returns a live session by ID.
func (m *Manager) Get(ctx context.Context, id string) (*store.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if sess.Expired(m.now()) {
		return nil, ErrExpired
	}
	return sess, nil
}

// Revoke deletes a session. Revoking an unknown session is not an error.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// RevokeAll deletes every session of userID except exceptID (may be empty).
func (m *Manager) RevokeAll(ctx context.Context, userID, exceptID string) (int, error) {
	n, err := m.store.DeleteUserSessions(ctx, userID, exceptID)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return n, nil
}

// List returns the user's live sessions, most recently used first.
func (m *Manager) List(ctx context.Context, userID string) ([]store.Session, error) {
	all, err := m.store.ListUserSessions(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	now := m.now()
	live := all[:0]
	for _, s := range all {
		if !s.Expired(now) {
			live = append(live, s)
		}
	}
	return live, nil
}

// Purge deletes expired sessions.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpiredSessions(ctx, m.now())
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return n, nil
}

func (m *Manager) slidingExpiry(sess *store.Session, now time.Time) time.Time {
	if !m.config.Sliding {
		return time.Time{}
	}
	next := now.Add(m.config.TTL)
	if limit := sess.CreatedAt.Add(m.config.AbsoluteLifetime); next.After(limit) {
		next = limit
	}
	return next
}

// truncate cuts s to at most n bytes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrInvalidArgument):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
