package store

import (
	"strings"
	"time"
)

// Provider identifies a third-party identity provider.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderFacebook:
		return true
	default:
		return false
	}
}

// Theme is the UI theme preference persisted as a user setting.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Valid reports whether t is a supported theme.
func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Settings holds per-user preferences.
type Settings struct {
	MFAEnabled bool  `json:"mfa_enabled"`
	Theme      Theme `json:"theme"`
}

// User is the public view of an account. It never carries secrets.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	Disabled      bool      `json:"disabled"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	Settings      Settings  `json:"settings"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Credential is a stored password digest. Params names the algorithm and its
// cost parameters, Salt and Hash are kept as separate columns.
type Credential struct {
	Params string
	Salt   []byte
	Hash   []byte
}

// LockoutState tracks failed password attempts for one user.
type LockoutState struct {
	FailedAttempts int
	WindowStart    time.Time
	LockoutUntil   time.Time
	// Escalation counts lockouts since the last successful login.
	Escalation int
}

// MFAState holds TOTP enrollment data.
type MFAState struct {
	Secret        []byte
	PendingSecret []byte
	LastCounter   int64
}

// UserRecord is the persisted account row.
type UserRecord struct {
	User
	Credential *Credential
	Lockout    LockoutState
	MFA        MFAState
	Version    int64
}

// HasPassword reports whether password login is possible for the record.
func (r *UserRecord) HasPassword() bool {
	return r != nil && r.Credential != nil && len(r.Credential.Hash) > 0 && len(r.Credential.Salt) > 0
}

// Clone returns a deep copy of r.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Credential != nil {
		c := *r.Credential
		c.Salt = append([]byte(nil), r.Credential.Salt...)
		c.Hash = append([]byte(nil), r.Credential.Hash...)
		out.Credential = &c
	}
	out.MFA.Secret = append([]byte(nil), r.MFA.Secret...)
	out.MFA.PendingSecret = append([]byte(nil), r.MFA.PendingSecret...)
	return &out
}

// TokenKind scopes single-use tokens.
type TokenKind string

const (
	TokenPasswordReset     TokenKind = "password_reset"
	TokenEmailVerification TokenKind = "email_verification"
	TokenMFAChallenge      TokenKind = "mfa_challenge"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenPasswordReset, TokenEmailVerification, TokenMFAChallenge:
		return true
	default:
		return false
	}
}

// Token is a stored single-use token. Only the hash of the raw value is kept.
type Token struct {
	Hash       string
	Kind       TokenKind
	UserID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UsedAt     time.Time
	Superseded bool
	Attempts   int
}

// Live reports whether the token can still be consumed at now.
func (t *Token) Live(now time.Time) bool {
	return t != nil && t.UsedAt.IsZero() && !t.Superseded && now.Before(t.ExpiresAt)
}

// Session is an authenticated login.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TokenHash  string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IP         string    `json:"ip,omitempty"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OAuthAccount links a provider identity to a user.
type OAuthAccount struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Provider       Provider  `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	ProviderEmail  string    `json:"provider_email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Action is a security activity log action.
type Action string

const (
	ActionLoginSuccess         Action = "LOGIN_SUCCESS"
	ActionLoginFailed          Action = "LOGIN_FAILED"
	ActionSignup               Action = "SIGNUP"
	ActionLogout               Action = "LOGOUT"
	ActionPasswordReset        Action = "PASSWORD_RESET"
	ActionPasswordResetRequest Action = "PASSWORD_RESET_REQUEST"
	ActionPasswordChange       Action = "PASSWORD_CHANGE"
	ActionMFAVerify            Action = "MFA_VERIFY"
	ActionMFAEnable            Action = "MFA_ENABLE"
	ActionMFADisable           Action = "MFA_DISABLE"
	ActionAccountLink          Action = "ACCOUNT_LINK"
	ActionAccountUnlink        Action = "ACCOUNT_UNLINK"
	ActionAccountLocked        Action = "ACCOUNT_LOCKED"
	ActionAccountDisabled      Action = "ACCOUNT_DISABLED"
	ActionAccountEnabled       Action = "ACCOUNT_ENABLED"
	ActionAccountUnlocked      Action = "ACCOUNT_UNLOCKED"
	ActionEmailVerify          Action = "EMAIL_VERIFY"
	ActionSessionRevoke        Action = "SESSION_REVOKE"
	ActionProfileUpdate        Action = "PROFILE_UPDATE"
	ActionDataExport           Action = "DATA_EXPORT"
)

// ActivityStatus is the outcome recorded for an activity item.
type ActivityStatus string

const (
	StatusSuccess ActivityStatus = "SUCCESS"
	StatusFailure ActivityStatus = "FAILURE"
	StatusWarning ActivityStatus = "WARNING"
)

// ActivityItem is one append-only security log entry.
type ActivityItem struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Action    Action         `json:"action"`
	Status    ActivityStatus `json:"status"`
	Details   string         `json:"details,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ActivityFilter narrows an activity query. Zero values match everything.
type ActivityFilter struct {
	Actions  []Action
	Statuses []ActivityStatus
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Match reports whether item passes every filter criterion except Limit.
func (f ActivityFilter) Match(item *ActivityItem) bool {
	if len(f.Actions) > 0 && !containsAction(f.Actions, item.Action) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, item.Status) {
		return false
	}
	if !f.Since.IsZero() && item.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !item.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

func containsAction(list []Action, a Action) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}

func containsStatus(list []ActivityStatus, s ActivityStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NormalizeEmail lowercases and trims an email address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername folds a username for uniqueness checks.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
