package accountcore

import (
	"time"

	"github.com/MrEthical07/accountcore/store"
)

// LoginResult is returned by Login, VerifyMFA and LoginWithOAuth.
//
// When MFARequired is true only TempToken is set; pass it to VerifyMFA
// with a code. Otherwise User, Session and SessionToken describe the new
// session. SessionToken is the only copy of the raw session handle.
type LoginResult struct {
	User         *store.User
	Session      *store.Session
	SessionToken string

	MFARequired bool
	TempToken   string
}

// OAuthIdentity is an identity asserted by a third-party provider after its
// own verification. Only the provider adapter should construct it.
type OAuthIdentity struct {
	Provider       store.Provider
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	AvatarURL      string
}

// SessionInfo describes one of the user's sessions without its handle.
type SessionInfo struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IP         string    `json:"ip,omitempty"`
	IsCurrent  bool      `json:"is_current"`
}

// Principal is the authenticated caller behind a session handle.
type Principal struct {
	User    store.User
	Session store.Session
}

// Identity is what content tools see: a user ID, or the guest identity.
type Identity struct {
	UserID string
}

// Guest is the identity of an unauthenticated caller.
var Guest = Identity{}

// IsGuest reports whether the identity is unauthenticated.
func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// ProfileUpdate changes profile fields. Nil fields are left as they are.
type ProfileUpdate struct {
	Username  *string
	AvatarURL *string
	Theme     *store.Theme
}

// MFAEnrollment carries the secret for an authenticator app. The secret is
// pending until ConfirmMFAEnrollment accepts a code generated from it.
type MFAEnrollment struct {
	SecretBase32 string `json:"secret"`
	URI          string `json:"uri"`
}

// AccountExport is the user's data as returned by ExportAccountData.
type AccountExport struct {
	User          store.User           `json:"user"`
	HasPassword   bool                 `json:"has_password"`
	OAuthAccounts []store.OAuthAccount `json:"oauth_accounts"`
	Sessions      []SessionInfo        `json:"sessions"`
	Activity      []store.ActivityItem `json:"activity"`
	ExportedAt    time.Time            `json:"exported_at"`
}

// PurgeResult reports how many expired records PurgeExpired removed.
type PurgeResult struct {
	Tokens   int
	Sessions int
}
