package accountcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/store"
)

// RequestEmailVerification mails a fresh verification token to the user's
// address. It is a no-op for verified addresses.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if rec.EmailVerified {
		return nil
	}
	if rec.Disabled {
		return ErrAccountDisabled
	}

	if err := e.throttled("email_verification", e.throttle.VerificationRequest(ctx, rec.Email)); err != nil {
		return err
	}
	return e.sendVerification(ctx, rec)
}

func (e *Engine) sendVerification(ctx context.Context, rec *store.UserRecord) error {
	if e.mailer == nil {
		e.log.Warn("email verification requested without a mailer", zap.String("user_id", rec.ID))
		return nil
	}
	raw, err := e.tokens.Issue(ctx, store.TokenEmailVerification, rec.ID, e.config.Tokens.VerificationTTL)
	if err != nil {
		return unavailable(err)
	}
	if err := e.mailer.SendEmailVerification(ctx, rec.Email, rec.Username, raw); err != nil {
		return unavailable(err)
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the address verified.
func (e *Engine) VerifyEmail(ctx context.Context, rawToken string) (*store.User, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if rawToken == "" {
		return nil, ErrInvalidToken
	}

	userID, err := e.tokens.Consume(ctx, store.TokenEmailVerification, rawToken)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.recordTokenRejection(ctx, store.ActionEmailVerify, err, "")
		return nil, mapTokenErr(err)
	}

	rec, err := e.updateUser(ctx, userID, func(r *store.UserRecord) error {
		if !r.EmailVerified {
			r.EmailVerified = true
			r.UpdatedAt = e.now()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	e.metricInc(MetricEmailVerificationSuccess)
	if err := e.recordSuccess(ctx, rec.ID, store.ActionEmailVerify, ""); err != nil {
		return nil, err
	}
	u := rec.User
	return &u, nil
}
