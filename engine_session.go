package accountcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/accountcore/internal/sessions"
	"github.com/MrEthical07/accountcore/store"
)

// ListSessions returns the user's live sessions. The one matching
// currentSessionID is flagged IsCurrent.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if userID == "" {
		return nil, ErrUserNotFound
	}
	list, err := e.sessions.List(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	return sessionInfos(list, currentSessionID), nil
}

// RevokeSession ends one of the user's sessions. Sessions owned by someone
// else are reported as not found.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	sess, err := e.sessions.Get(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, sessions.ErrNotFound), errors.Is(err, sessions.ErrExpired), errors.Is(err, store.ErrInvalidArgument):
		return ErrSessionNotFound
	default:
		return unavailable(err)
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}

	if err := e.sessions.Revoke(ctx, sess.ID); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricSessionRevoked)
	return e.recordSuccess(ctx, userID, store.ActionSessionRevoke, sess.ID)
}

// RevokeAllSessions ends every session of the user, including the caller's.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if userID == "" {
		return ErrUserNotFound
	}
	n, err := e.sessions.RevokeAll(ctx, userID, "")
	if err != nil {
		return unavailable(err)
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	return e.recordSuccess(ctx, userID, store.ActionSessionRevoke, "all:"+strconv.Itoa(n))
}

func sessionInfos(list []store.Session, currentID string) []SessionInfo {
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, SessionInfo{
			ID:         s.ID,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
			UserAgent:  s.UserAgent,
			IP:         s.IP,
			IsCurrent:  currentID != "" && s.ID == currentID,
		})
	}
	return out
}
