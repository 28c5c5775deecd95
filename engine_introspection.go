package accountcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal/sessions"
)

// Authenticate resolves a raw session handle to its user and session. It is
// the session-restore path: HTTP middleware calls it on every request.
func (e *Engine) Authenticate(ctx context.Context, rawSessionToken string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	sess, err := e.sessions.Validate(ctx, rawSessionToken)
	switch {
	case err == nil:
	case errors.Is(err, sessions.ErrExpired):
		return nil, ErrSessionExpired
	case errors.Is(err, sessions.ErrNotFound):
		return nil, ErrSessionNotFound
	default:
		return nil, unavailable(err)
	}

	rec, err := e.loadUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.log.Error("session points at missing user", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
			e.revokeQuietly(ctx, sess.ID)
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if rec.Disabled {
		e.revokeQuietly(ctx, sess.ID)
		return nil, ErrAccountDisabled
	}

	e.observeLatency(start)
	return &Principal{User: rec.User, Session: *sess}, nil
}

// ResolveIdentity is Authenticate for callers that only need to know who is
// asking. Any failure yields Guest.
func (e *Engine) ResolveIdentity(ctx context.Context, rawSessionToken string) Identity {
	if e == nil || rawSessionToken == "" {
		return Guest
	}
	p, err := e.Authenticate(ctx, rawSessionToken)
	if err != nil {
		if ErrorKind(err) == KindTransient {
			e.log.Warn("identity resolution degraded to guest", zap.Error(err))
		}
		return Guest
	}
	return Identity{UserID: p.User.ID}
}
