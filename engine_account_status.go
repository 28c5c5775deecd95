package accountcore

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/store"
)

// DisableAccount blocks sign-in for userID, revokes its sessions and voids
// its outstanding tokens. Disabling a disabled account is a no-op.
func (e *Engine) DisableAccount(ctx context.Context, userID, reason string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	var already bool
	if _, err := e.updateUser(ctx, userID, func(r *store.UserRecord) error {
		already = r.Disabled
		if already {
			return nil
		}
		r.Disabled = true
		r.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return err
	}
	if already {
		return nil
	}

	n, err := e.sessions.RevokeAll(ctx, userID, "")
	if err != nil {
		return unavailable(err)
	}
	for _, kind := range []store.TokenKind{store.TokenPasswordReset, store.TokenEmailVerification, store.TokenMFAChallenge} {
		if err := e.tokens.InvalidateAll(ctx, kind, userID); err != nil {
			return unavailable(err)
		}
	}

	e.metricInc(MetricAccountDisabled)
	e.log.Info("account disabled", zap.String("user_id", userID), zap.Int("sessions_revoked", n))

	details := fmt.Sprintf("sessions revoked: %d", n)
	if reason = strings.TrimSpace(reason); reason != "" {
		details = reason + "; " + details
	}
	return e.recordSuccess(ctx, userID, store.ActionAccountDisabled, details)
}

// EnableAccount lifts a previous DisableAccount.
func (e *Engine) EnableAccount(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	var changed bool
	if _, err := e.updateUser(ctx, userID, func(r *store.UserRecord) error {
		changed = r.Disabled
		r.Disabled = false
		if changed {
			r.UpdatedAt = e.now()
		}
		return nil
	}); err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return e.recordSuccess(ctx, userID, store.ActionAccountEnabled, "")
}

// UnlockAccount clears the lockout state, including the escalation level.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if _, err := e.updateUser(ctx, userID, func(r *store.UserRecord) error {
		r.Lockout = e.lockout.Reset()
		return nil
	}); err != nil {
		return err
	}
	return e.recordSuccess(ctx, userID, store.ActionAccountUnlocked, "")
}
