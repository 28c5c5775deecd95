// Package linker maps third-party identities onto local accounts.
//
// Resolution order for a provider identity:
//  1. an existing link for (provider, provider user id) wins;
//  2. otherwise a local account with the same email is linked, but only when
//     both the provider and the local account have verified that email;
//  3. otherwise a password-less account is created together with the link.
package linker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/store"
)

var (
	ErrInvalidIdentity        = errors.New("invalid provider identity")
	ErrProviderAlreadyLinked  = errors.New("provider already linked to this account")
	ErrIdentityInUse          = errors.New("provider identity linked to another account")
	ErrEmailNotVerified       = errors.New("email not verified for automatic linking")
	ErrCannotUnlinkLastMethod = errors.New("cannot unlink last login method")
	ErrNotLinked              = errors.New("provider not linked")
	ErrUserNotFound           = errors.New("user not found")
	ErrUnavailable            = errors.New("linker backend unavailable")
)

const maxUsernameAttempts = 20

// Identity is a provider-verified identity.
type Identity struct {
	Provider       store.Provider
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	AvatarURL      string
}

func (id Identity) validate() error {
	if !id.Provider.Valid() || strings.TrimSpace(id.ProviderUserID) == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// Outcome tells how LinkOrCreate resolved an identity.
type Outcome int

const (
	OutcomeExisting Outcome = iota
	OutcomeLinked
	OutcomeCreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLinked:
		return "linked"
	case OutcomeCreated:
		return "created"
	default:
		return "existing"
	}
}

// Linker resolves and manages OAuth links.
type Linker struct {
	users store.UserStore
	oauth store.OAuthStore
	now   func() time.Time
	log   *zap.Logger
}

// New creates a Linker. now and log may be nil.
func New(users store.UserStore, oauth store.OAuthStore, now func() time.Time, log *zap.Logger) *Linker {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Linker{users: users, oauth: oauth, now: now, log: log.Named("linker")}
}

// LinkOrCreate resolves id to a local account, linking or creating one when
// needed. Repeating the call with the same identity returns the same user.
func (l *Linker) LinkOrCreate(ctx context.Context, id Identity) (*store.UserRecord, Outcome, error) {
	if err := id.validate(); err != nil {
		return nil, OutcomeExisting, err
	}

	// Each retry follows a lost race against a concurrent call for the same
	// identity or email; the next pass sees the winner's row.
	for attempt := 0; attempt < 3; attempt++ {
		rec, err := l.ownerOf(ctx, id)
		if err == nil {
			return rec, OutcomeExisting, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, OutcomeExisting, mapStoreErr(err)
		}

		email := store.NormalizeEmail(id.Email)
		if email == "" {
			return nil, OutcomeExisting, ErrInvalidIdentity
		}

		local, err := l.users.FindUserByEmail(ctx, email)
		switch {
		case err == nil:
			if !id.EmailVerified || !local.EmailVerified {
				return nil, OutcomeExisting, ErrEmailNotVerified
			}
			_, err := l.createLink(ctx, local.ID, id)
			switch {
			case err == nil:
				return local, OutcomeLinked, nil
			case errors.Is(err, store.ErrIdentityExists):
				continue
			case errors.Is(err, store.ErrProviderLinked):
				return nil, OutcomeExisting, ErrProviderAlreadyLinked
			default:
				return nil, OutcomeExisting, mapStoreErr(err)
			}
		case errors.Is(err, store.ErrNotFound):
			rec, err := l.createUser(ctx, email, id)
			switch {
			case err == nil:
				return rec, OutcomeCreated, nil
			case errors.Is(err, store.ErrIdentityExists), errors.Is(err, store.ErrEmailExists):
				continue
			default:
				return nil, OutcomeExisting, mapStoreErr(err)
			}
		default:
			return nil, OutcomeExisting, mapStoreErr(err)
		}
	}
	return nil, OutcomeExisting, fmt.Errorf("%w: link contention", ErrUnavailable)
}

// Link attaches id to userID. Linking the same identity twice is a no-op that
// returns the existing link with created=false.
func (l *Linker) Link(ctx context.Context, userID string, id Identity) (acct *store.OAuthAccount, created bool, err error) {
	if err := id.validate(); err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := l.oauth.GetOAuthAccount(ctx, id.Provider, id.ProviderUserID)
		switch {
		case err == nil:
			if existing.UserID != userID {
				return nil, false, ErrIdentityInUse
			}
			return existing, false, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, mapStoreErr(err)
		}

		acct, err := l.createLink(ctx, userID, id)
		switch {
		case err == nil:
			return acct, true, nil
		case errors.Is(err, store.ErrIdentityExists):
			continue
		case errors.Is(err, store.ErrProviderLinked):
			return nil, false, ErrProviderAlreadyLinked
		case errors.Is(err, store.ErrNotFound):
			return nil, false, ErrUserNotFound
		default:
			return nil, false, mapStoreErr(err)
		}
	}
	return nil, false, ErrIdentityInUse
}

// Unlink removes the user's link for provider unless it is the last way the
// user can sign in.
func (l *Linker) Unlink(ctx context.Context, userID string, provider store.Provider) error {
	if !provider.Valid() {
		return ErrInvalidIdentity
	}
	err := l.oauth.DeleteOAuthAccount(ctx, userID, provider)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrLastLoginMethod):
		return ErrCannotUnlinkLastMethod
	case errors.Is(err, store.ErrNotFound):
		return ErrNotLinked
	default:
		return mapStoreErr(err)
	}
}

// List returns the user's links, oldest first.
func (l *Linker) List(ctx context.Context, userID string) ([]store.OAuthAccount, error) {
	links, err := l.oauth.ListOAuthAccounts(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return links, nil
}

func (l *Linker) ownerOf(ctx context.Context, id Identity) (*store.UserRecord, error) {
	acct, err := l.oauth.GetOAuthAccount(ctx, id.Provider, id.ProviderUserID)
	if err != nil {
		return nil, err
	}
	rec, err := l.users.GetUser(ctx, acct.UserID)
	if errors.Is(err, store.ErrNotFound) {
		l.log.Error("oauth link points at missing user",
			zap.String("provider", string(id.Provider)),
			zap.String("user_id", acct.UserID),
		)
		return nil, fmt.Errorf("%w: dangling link", ErrUnavailable)
	}
	return rec, err
}

func (l *Linker) createLink(ctx context.Context, userID string, id Identity) (*store.OAuthAccount, error) {
	acct := &store.OAuthAccount{
		ID:             uuid.NewString(),
		UserID:         userID,
		Provider:       id.Provider,
		ProviderUserID: id.ProviderUserID,
		ProviderEmail:  store.NormalizeEmail(id.Email),
		CreatedAt:      l.now(),
	}
	if err := l.oauth.CreateOAuthAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (l *Linker) createUser(ctx context.Context, email string, id Identity) (*store.UserRecord, error) {
	now := l.now()
	base := UsernameFromEmail(email)

	for i := 0; i < maxUsernameAttempts; i++ {
		name := base
		if i > 0 {
			name = base + strconv.Itoa(i+1)
		}
		rec := &store.UserRecord{
			User: store.User{
				ID:            uuid.NewString(),
				Username:      name,
				Email:         email,
				EmailVerified: id.EmailVerified,
				AvatarURL:     id.AvatarURL,
				Settings:      store.Settings{Theme: store.ThemeLight},
				CreatedAt:     now,
				UpdatedAt:     now,
			},
		}
		link := &store.OAuthAccount{
			ID:             uuid.NewString(),
			UserID:         rec.ID,
			Provider:       id.Provider,
			ProviderUserID: id.ProviderUserID,
			ProviderEmail:  email,
			CreatedAt:      now,
		}
		err := l.users.CreateUser(ctx, rec, link)
		if errors.Is(err, store.ErrUsernameExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%w: no free username for %q", store.ErrConflict, base)
}

// UsernameFromEmail derives a username candidate from the email local part.
func UsernameFromEmail(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	if plus := strings.IndexByte(local, '+'); plus >= 0 {
		local = local[:plus]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
		if b.Len() >= 24 {
			break
		}
	}
	name := strings.Trim(b.String(), ".-_")
	for len(name) < 3 {
		name += "user"
	}
	return name
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) || !isDomainErr(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isDomainErr(err error) bool {
	for _, e := range []error{ErrInvalidIdentity, ErrProviderAlreadyLinked, ErrIdentityInUse, ErrEmailNotVerified, ErrCannotUnlinkLastMethod, ErrNotLinked, ErrUserNotFound, store.ErrConflict} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
