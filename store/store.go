// Package store defines the persistence contracts of the account core.
//
// Implementations live in subpackages: memory (single process), redisstore
// (sessions and tokens) and postgres (everything). Every method takes the
// caller's context and reports backend failures as ErrUnavailable.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrConflict        = errors.New("store: conflict")
	ErrEmailExists     = errors.New("store: email already exists")
	ErrUsernameExists  = errors.New("store: username already exists")
	ErrIdentityExists  = errors.New("store: oauth identity already linked")
	ErrProviderLinked  = errors.New("store: provider already linked for user")
	ErrLastLoginMethod = errors.New("store: cannot remove last login method")
	ErrTokenUsed       = errors.New("store: token already used")
	ErrTokenExpired    = errors.New("store: token expired")
	ErrUnavailable     = errors.New("store: backend unavailable")
	ErrInvalidArgument = errors.New("store: invalid argument")
	// ErrImmutableField is returned by UpdateUser when fn changes the record ID.
	ErrImmutableField = errors.New("store: update changed immutable field")
)

// UserStore persists accounts and their credentials.
type UserStore interface {
	// CreateUser inserts rec. When link is non-nil it is inserted in the same
	// atomic step.
	CreateUser(ctx context.Context, rec *UserRecord, link *OAuthAccount) error
	GetUser(ctx context.Context, id string) (*UserRecord, error)
	FindUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	// FindUserByLogin resolves an email or a username.
	FindUserByLogin(ctx context.Context, identifier string) (*UserRecord, error)
	// UpdateUser applies fn to the current record under a per-user lock and
	// persists the result. If fn returns an error nothing is written.
	UpdateUser(ctx context.Context, id string, fn func(*UserRecord) error) (*UserRecord, error)
}

// TokenStore persists single-use tokens keyed by their hash.
type TokenStore interface {
	// SaveToken stores t and supersedes every other live token of the same
	// kind for the same user in one atomic step.
	SaveToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, kind TokenKind, hash string) (*Token, error)
	// ConsumeToken marks the token used if it is live. Superseded or unknown
	// tokens yield ErrNotFound, used ones ErrTokenUsed and expired ones
	// ErrTokenExpired. Exactly one concurrent caller can succeed.
	ConsumeToken(ctx context.Context, kind TokenKind, hash string, now time.Time) (*Token, error)
	// IncrementTokenAttempts records a failed attempt against a live token and
	// supersedes it once max attempts are reached.
	IncrementTokenAttempts(ctx context.Context, kind TokenKind, hash string, max int, now time.Time) (*Token, error)
	// InvalidateUserTokens supersedes all live tokens of kind for the user and
	// returns how many were live.
	InvalidateUserTokens(ctx context.Context, kind TokenKind, userID string, now time.Time) (int, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByTokenHash(ctx context.Context, hash string) (*Session, error)
	// TouchSession advances LastUsedAt to at if it is later than the stored
	// value. A non-zero expiresAt replaces ExpiresAt.
	TouchSession(ctx context.Context, id string, at time.Time, expiresAt time.Time) error
	// DeleteSession removes a session. Missing sessions are not an error.
	DeleteSession(ctx context.Context, id string) error
	// DeleteUserSessions removes every session of userID except exceptID.
	DeleteUserSessions(ctx context.Context, userID, exceptID string) (int, error)
	ListUserSessions(ctx context.Context, userID string) ([]Session, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// OAuthStore persists provider links.
type OAuthStore interface {
	GetOAuthAccount(ctx context.Context, provider Provider, providerUserID string) (*OAuthAccount, error)
	ListOAuthAccounts(ctx context.Context, userID string) ([]OAuthAccount, error)
	CreateOAuthAccount(ctx context.Context, acct *OAuthAccount) error
	// DeleteOAuthAccount removes the user's link for provider. It fails with
	// ErrLastLoginMethod when the user has no password and no other link.
	DeleteOAuthAccount(ctx context.Context, userID string, provider Provider) error
}

// ActivityStore is the append-only security log. There is no update or
// delete.
type ActivityStore interface {
	AppendActivity(ctx context.Context, item *ActivityItem) error
	// QueryActivity returns matching items newest first.
	QueryActivity(ctx context.Context, userID string, f ActivityFilter) ([]ActivityItem, error)
}

// Store bundles every repository.
type Store interface {
	UserStore
	TokenStore
	SessionStore
	OAuthStore
	ActivityStore
}

// Composite assembles a Store from independent repositories, e.g. users in
// Postgres with sessions and tokens in Redis.
type Composite struct {
	UserStore
	TokenStore
	SessionStore
	OAuthStore
	ActivityStore
}

var _ Store = Composite{}
