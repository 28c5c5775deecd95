package accountcore

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/password"
	"github.com/MrEthical07/accountcore/store"
)

const (
	maxEmailLength     = 254
	maxAvatarURLLength = 2048
)

// Signup creates a password account. The email starts unverified; when a
// mailer is configured a verification token is sent right away.
func (e *Engine) Signup(ctx context.Context, username, email, pw string) (*store.User, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	addr, err := normalizeEmailAddress(email)
	if err != nil {
		return nil, err
	}
	name, err := e.validateUsername(username)
	if err != nil {
		return nil, err
	}
	if err := e.checkPolicy(pw, name, addr); err != nil {
		return nil, err
	}

	if err := e.throttled("signup", e.throttle.Signup(ctx, clientIPFromContext(ctx))); err != nil {
		return nil, err
	}

	cred, err := e.hashPassword(pw)
	if err != nil {
		return nil, ErrWeakPassword
	}

	now := e.now()
	rec := &store.UserRecord{
		User: store.User{
			ID:        uuid.NewString(),
			Username:  name,
			Email:     addr,
			Settings:  store.Settings{Theme: store.ThemeLight},
			CreatedAt: now,
			UpdatedAt: now,
		},
		Credential: cred,
	}
	if err := e.users.CreateUser(ctx, rec, nil); err != nil {
		mapped := mapUserErr(err)
		if errors.Is(mapped, ErrEmailTaken) || errors.Is(mapped, ErrUsernameTaken) {
			e.metricInc(MetricSignupDuplicate)
		}
		return nil, mapped
	}

	if err := e.recordSuccess(ctx, rec.ID, store.ActionSignup, "password"); err != nil {
		return nil, err
	}
	e.metricInc(MetricSignupSuccess)

	if e.mailer != nil && e.config.Account.SendVerificationOnSignup {
		if err := e.sendVerification(ctx, rec); err != nil {
			e.log.Error("signup verification mail failed", zap.String("user_id", rec.ID), zap.Error(err))
		}
	}

	u := rec.User
	return &u, nil
}

// UpdateProfile applies the non-nil fields of upd and returns the updated
// user.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*store.User, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	var changed []string

	var name string
	if upd.Username != nil {
		n, err := e.validateUsername(*upd.Username)
		if err != nil {
			return nil, err
		}
		name = n
		changed = append(changed, "username")
	}
	var avatar string
	if upd.AvatarURL != nil {
		a, err := validateAvatarURL(*upd.AvatarURL)
		if err != nil {
			return nil, err
		}
		avatar = a
		changed = append(changed, "avatar_url")
	}
	if upd.Theme != nil {
		if !upd.Theme.Valid() {
			return nil, ErrInvalidInput
		}
		changed = append(changed, "theme")
	}
	if len(changed) == 0 {
		return e.GetUser(ctx, userID)
	}

	rec, err := e.updateUser(ctx, userID, func(r *store.UserRecord) error {
		if upd.Username != nil {
			r.Username = name
		}
		if upd.AvatarURL != nil {
			r.AvatarURL = avatar
		}
		if upd.Theme != nil {
			r.Settings.Theme = *upd.Theme
		}
		r.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.recordSuccess(ctx, rec.ID, store.ActionProfileUpdate, strings.Join(changed, ",")); err != nil {
		return nil, err
	}
	u := rec.User
	return &u, nil
}

// ExportAccountData returns everything stored about the user except
// secrets. The export is logged before it is returned; if that log entry
// cannot be written no data is released.
func (e *Engine) ExportAccountData(ctx context.Context, userID string) (*AccountExport, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	links, err := e.linker.List(ctx, rec.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	sess, err := e.sessions.List(ctx, rec.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	items, err := e.activity.Query(ctx, rec.ID, store.ActivityFilter{Limit: e.config.Account.ExportActivityLimit})
	if err != nil {
		return nil, unavailable(err)
	}

	if err := e.recordSuccess(ctx, rec.ID, store.ActionDataExport, ""); err != nil {
		return nil, err
	}

	if links == nil {
		links = []store.OAuthAccount{}
	}
	return &AccountExport{
		User:          rec.User,
		HasPassword:   rec.HasPassword(),
		OAuthAccounts: links,
		Sessions:      sessionInfos(sess, ""),
		Activity:      items,
		ExportedAt:    e.now().UTC(),
	}, nil
}

// normalizeEmailAddress parses a bare address and returns its normalized
// form.
func normalizeEmailAddress(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" || len(trimmed) > maxEmailLength {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed || parsed.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(trimmed, '@')
	if at <= 0 || !strings.Contains(trimmed[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return store.NormalizeEmail(trimmed), nil
}

// validateUsername checks length and charset. Usernames start with a letter
// or digit and may contain '.', '_' and '-'. '@' is never allowed so a login
// identifier is unambiguous.
func (e *Engine) validateUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	n := len(name)
	if n < e.config.Account.UsernameMinLength || n > e.config.Account.UsernameMaxLength {
		return "", ErrInvalidUsername
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case i > 0 && (r == '.' || r == '_' || r == '-'):
		default:
			return "", ErrInvalidUsername
		}
	}
	return name, nil
}

func validateAvatarURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if len(raw) > maxAvatarURLLength {
		return "", ErrInvalidInput
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", ErrInvalidInput
	}
	return u.String(), nil
}

// checkPolicy maps policy failures to ErrWeakPassword, keeping the failed
// rule names in the message.
func (e *Engine) checkPolicy(pw, username, email string) error {
	err := e.policy.Check(pw, username, email)
	if err == nil {
		return nil
	}
	var pe *password.PolicyError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(pe.Reasons, ", "))
	}
	return ErrWeakPassword
}
