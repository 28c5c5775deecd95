package accountcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal/linker"
	"github.com/MrEthical07/accountcore/store"
)

// LoginWithOAuth signs in with a provider-verified identity, linking it to
// an account with the same verified email or creating a new password-less
// account. Password lockout does not apply; MFA does.
func (e *Engine) LoginWithOAuth(ctx context.Context, id OAuthIdentity) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, outcome, err := e.linker.LinkOrCreate(ctx, linkerIdentity(id))
	if err != nil {
		return nil, mapLinkerErr(err)
	}

	switch outcome {
	case linker.OutcomeCreated:
		e.metricInc(MetricOAuthCreated)
		if err := e.recordSuccess(ctx, rec.ID, store.ActionSignup, string(id.Provider)); err != nil {
			return nil, err
		}
	case linker.OutcomeLinked:
		e.metricInc(MetricOAuthLinked)
		if err := e.recordSuccess(ctx, rec.ID, store.ActionAccountLink, string(id.Provider)); err != nil {
			return nil, err
		}
	}
	e.metricInc(MetricOAuthLogin)
	e.log.Debug("oauth identity resolved",
		zap.String("user_id", rec.ID),
		zap.String("provider", string(id.Provider)),
		zap.Stringer("outcome", outcome),
	)

	if rec.Disabled {
		e.recordFailure(ctx, rec.ID, store.ActionLoginFailed, "account disabled")
		return nil, ErrAccountDisabled
	}
	if rec.Settings.MFAEnabled {
		return e.issueMFAChallenge(ctx, rec.ID)
	}
	return e.completeLogin(ctx, rec.ID)
}

// LinkOAuthAccount attaches a provider identity to a signed-in user. Linking
// an identity the user already holds returns the existing link.
func (e *Engine) LinkOAuthAccount(ctx context.Context, userID string, id OAuthIdentity) (*store.OAuthAccount, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if _, err := e.loadUser(ctx, userID); err != nil {
		return nil, err
	}

	acct, created, err := e.linker.Link(ctx, userID, linkerIdentity(id))
	if err != nil {
		return nil, mapLinkerErr(err)
	}
	if created {
		e.metricInc(MetricOAuthLinked)
		if err := e.recordSuccess(ctx, userID, store.ActionAccountLink, string(id.Provider)); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

// UnlinkOAuthAccount removes the user's link for provider. It fails with
// ErrCannotUnlinkLastMethod when the link is the only way to sign in.
func (e *Engine) UnlinkOAuthAccount(ctx context.Context, userID string, provider store.Provider) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	if err := e.linker.Unlink(ctx, userID, provider); err != nil {
		mapped := mapLinkerErr(err)
		if errors.Is(mapped, ErrCannotUnlinkLastMethod) {
			e.recordFailure(ctx, userID, store.ActionAccountUnlink, "last login method")
		}
		return mapped
	}
	return e.recordSuccess(ctx, userID, store.ActionAccountUnlink, string(provider))
}

// ListOAuthAccounts returns the user's provider links, oldest first.
func (e *Engine) ListOAuthAccounts(ctx context.Context, userID string) ([]store.OAuthAccount, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	links, err := e.linker.List(ctx, userID)
	if err != nil {
		return nil, mapLinkerErr(err)
	}
	return links, nil
}

func linkerIdentity(id OAuthIdentity) linker.Identity {
	return linker.Identity{
		Provider:       id.Provider,
		ProviderUserID: id.ProviderUserID,
		Email:          id.Email,
		EmailVerified:  id.EmailVerified,
		Name:           id.Name,
		AvatarURL:      id.AvatarURL,
	}
}

func mapLinkerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, linker.ErrInvalidIdentity):
		return ErrInvalidInput
	case errors.Is(err, linker.ErrProviderAlreadyLinked):
		return ErrProviderAlreadyLinked
	case errors.Is(err, linker.ErrIdentityInUse):
		return ErrIdentityInUse
	case errors.Is(err, linker.ErrEmailNotVerified):
		return ErrEmailNotVerified
	case errors.Is(err, linker.ErrCannotUnlinkLastMethod):
		return ErrCannotUnlinkLastMethod
	case errors.Is(err, linker.ErrNotLinked):
		return ErrNotLinked
	case errors.Is(err, linker.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrUsernameTaken
	default:
		return unavailable(err)
	}
}
