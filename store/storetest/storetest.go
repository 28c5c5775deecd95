// Package storetest holds conformance tests shared by every store
// implementation.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountcore/store"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewUser returns a password user record with unique identifiers.
func NewUser(name string) *store.UserRecord {
	id := uuid.NewString()
	return &store.UserRecord{
		User: store.User{
			ID:        id,
			Username:  name + "-" + id[:8],
			Email:     name + "-" + id[:8] + "@example.com",
			CreatedAt: base,
			UpdatedAt: base,
			Settings:  store.Settings{Theme: store.ThemeLight},
		},
		Credential: &store.Credential{
			Params: "argon2id$v=19$m=8192,t=1,p=1",
			Salt:   []byte("0123456789abcdef"),
			Hash:   []byte("0123456789abcdef0123456789abcdef"),
		},
	}
}

// RunUserStore exercises store.UserStore.
func RunUserStore(t *testing.T, s store.UserStore) {
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		rec := NewUser("alice")
		require.NoError(t, s.CreateUser(ctx, rec, nil))

		got, err := s.GetUser(ctx, rec.ID)
		require.NoError(t, err)
		require.Equal(t, rec.Email, got.Email)
		require.True(t, got.HasPassword())

		byEmail, err := s.FindUserByEmail(ctx, "  "+upper(rec.Email))
		require.NoError(t, err)
		require.Equal(t, rec.ID, byEmail.ID)

		byName, err := s.FindUserByLogin(ctx, upper(rec.Username))
		require.NoError(t, err)
		require.Equal(t, rec.ID, byName.ID)

		_, err = s.GetUser(ctx, uuid.NewString())
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UniqueEmailAndUsername", func(t *testing.T) {
		rec := NewUser("bob")
		require.NoError(t, s.CreateUser(ctx, rec, nil))

		dupEmail := NewUser("bob2")
		dupEmail.Email = upper(rec.Email)
		require.ErrorIs(t, s.CreateUser(ctx, dupEmail, nil), store.ErrEmailExists)

		dupName := NewUser("bob3")
		dupName.Username = upper(rec.Username)
		require.ErrorIs(t, s.CreateUser(ctx, dupName, nil), store.ErrUsernameExists)
	})

	t.Run("UpdateUserAppliesAndAborts", func(t *testing.T) {
		rec := NewUser("carol")
		require.NoError(t, s.CreateUser(ctx, rec, nil))

		updated, err := s.UpdateUser(ctx, rec.ID, func(r *store.UserRecord) error {
			r.Lockout.FailedAttempts = 3
			r.Settings.Theme = store.ThemeDark
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, updated.Lockout.FailedAttempts)

		_, err = s.UpdateUser(ctx, rec.ID, func(r *store.UserRecord) error {
			r.Lockout.FailedAttempts = 99
			return store.ErrConflict
		})
		require.ErrorIs(t, err, store.ErrConflict)

		got, err := s.GetUser(ctx, rec.ID)
		require.NoError(t, err)
		require.Equal(t, 3, got.Lockout.FailedAttempts)
		require.Equal(t, store.ThemeDark, got.Settings.Theme)

		_, err = s.UpdateUser(ctx, uuid.NewString(), func(*store.UserRecord) error { return nil })
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) {
		rec := NewUser("dave")
		require.NoError(t, s.CreateUser(ctx, rec, nil))

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateUser(ctx, rec.ID, func(r *store.UserRecord) error {
					r.Lockout.FailedAttempts++
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.GetUser(ctx, rec.ID)
		require.NoError(t, err)
		require.Equal(t, 20, got.Lockout.FailedAttempts)
	})
}

// RunTokenStore exercises store.TokenStore.
func RunTokenStore(t *testing.T, s store.TokenStore) {
	ctx := context.Background()

	newToken := func(user string, kind store.TokenKind) *store.Token {
		return &store.Token{
			Hash:      uuid.NewString(),
			Kind:      kind,
			UserID:    user,
			CreatedAt: base,
			ExpiresAt: base.Add(time.Hour),
		}
	}

	t.Run("ConsumeOnce", func(t *testing.T) {
		tok := newToken(uuid.NewString(), store.TokenPasswordReset)
		require.NoError(t, s.SaveToken(ctx, tok))

		got, err := s.ConsumeToken(ctx, tok.Kind, tok.Hash, base.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, tok.UserID, got.UserID)

		_, err = s.ConsumeToken(ctx, tok.Kind, tok.Hash, base.Add(2*time.Minute))
		require.ErrorIs(t, err, store.ErrTokenUsed)
	})

	t.Run("ConsumeUnknownAndWrongKind", func(t *testing.T) {
		tok := newToken(uuid.NewString(), store.TokenPasswordReset)
		require.NoError(t, s.SaveToken(ctx, tok))

		_, err := s.ConsumeToken(ctx, store.TokenEmailVerification, tok.Hash, base)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.ConsumeToken(ctx, store.TokenPasswordReset, "missing", base)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ConsumeExpired", func(t *testing.T) {
		tok := newToken(uuid.NewString(), store.TokenEmailVerification)
		require.NoError(t, s.SaveToken(ctx, tok))

		_, err := s.ConsumeToken(ctx, tok.Kind, tok.Hash, tok.ExpiresAt)
		require.ErrorIs(t, err, store.ErrTokenExpired)
	})

	t.Run("SaveSupersedesPrevious", func(t *testing.T) {
		user := uuid.NewString()
		first := newToken(user, store.TokenPasswordReset)
		second := newToken(user, store.TokenPasswordReset)
		other := newToken(user, store.TokenEmailVerification)
		require.NoError(t, s.SaveToken(ctx, other))
		require.NoError(t, s.SaveToken(ctx, first))
		require.NoError(t, s.SaveToken(ctx, second))

		_, err := s.ConsumeToken(ctx, first.Kind, first.Hash, base)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.ConsumeToken(ctx, second.Kind, second.Hash, base)
		require.NoError(t, err)

		_, err = s.ConsumeToken(ctx, other.Kind, other.Hash, base)
		require.NoError(t, err)
	})

	t.Run("ConcurrentConsumeSingleWinner", func(t *testing.T) {
		tok := newToken(uuid.NewString(), store.TokenPasswordReset)
		require.NoError(t, s.SaveToken(ctx, tok))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ConsumeToken(ctx, tok.Kind, tok.Hash, base); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, wins.Load())
	})

	t.Run("AttemptsInvalidateAtMax", func(t *testing.T) {
		tok := newToken(uuid.NewString(), store.TokenMFAChallenge)
		require.NoError(t, s.SaveToken(ctx, tok))

		got, err := s.IncrementTokenAttempts(ctx, tok.Kind, tok.Hash, 2, base)
		require.NoError(t, err)
		require.Equal(t, 1, got.Attempts)
		require.True(t, got.Live(base))

		got, err = s.IncrementTokenAttempts(ctx, tok.Kind, tok.Hash, 2, base)
		require.NoError(t, err)
		require.Equal(t, 2, got.Attempts)
		require.False(t, got.Live(base))

		_, err = s.ConsumeToken(ctx, tok.Kind, tok.Hash, base)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("InvalidateUserTokens", func(t *testing.T) {
		user := uuid.NewString()
		tok := newToken(user, store.TokenEmailVerification)
		require.NoError(t, s.SaveToken(ctx, tok))

		n, err := s.InvalidateUserTokens(ctx, tok.Kind, user, base)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		n, err = s.InvalidateUserTokens(ctx, tok.Kind, user, base)
		require.NoError(t, err)
		require.Equal(t, 0, n)

		_, err = s.ConsumeToken(ctx, tok.Kind, tok.Hash, base)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		tok := newToken(uuid.NewString(), store.TokenEmailVerification)
		require.NoError(t, s.SaveToken(ctx, tok))

		n, err := s.DeleteExpiredTokens(ctx, tok.ExpiresAt.Add(time.Second))
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 1)

		_, err = s.GetToken(ctx, tok.Kind, tok.Hash)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

// RunSessionStore exercises store.SessionStore.
func RunSessionStore(t *testing.T, s store.SessionStore) {
	ctx := context.Background()

	newSession := func(user string, created time.Time) *store.Session {
		return &store.Session{
			ID:         uuid.NewString(),
			UserID:     user,
			TokenHash:  uuid.NewString(),
			CreatedAt:  created,
			LastUsedAt: created,
			ExpiresAt:  created.Add(12 * time.Hour),
			UserAgent:  "test-agent",
			IP:         "203.0.113.7",
		}
	}

	t.Run("CreateGetDelete", func(t *testing.T) {
		sess := newSession(uuid.NewString(), base)
		require.NoError(t, s.CreateSession(ctx, sess))

		got, err := s.GetSessionByTokenHash(ctx, sess.TokenHash)
		require.NoError(t, err)
		require.Equal(t, sess.ID, got.ID)
		require.Equal(t, "test-agent", got.UserAgent)

		require.NoError(t, s.DeleteSession(ctx, sess.ID))
		require.NoError(t, s.DeleteSession(ctx, sess.ID))

		_, err = s.GetSession(ctx, sess.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetSessionByTokenHash(ctx, sess.TokenHash)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("TouchIsMonotonic", func(t *testing.T) {
		sess := newSession(uuid.NewString(), base)
		require.NoError(t, s.CreateSession(ctx, sess))

		later := base.Add(time.Hour)
		require.NoError(t, s.TouchSession(ctx, sess.ID, later, time.Time{}))
		require.NoError(t, s.TouchSession(ctx, sess.ID, base.Add(time.Minute), time.Time{}))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.True(t, got.LastUsedAt.Equal(later))
		require.True(t, got.ExpiresAt.Equal(sess.ExpiresAt))

		require.ErrorIs(t, s.TouchSession(ctx, "missing", later, time.Time{}), store.ErrNotFound)
	})

	t.Run("ListAndRevokeAll", func(t *testing.T) {
		user := uuid.NewString()
		a := newSession(user, base)
		b := newSession(user, base.Add(time.Minute))
		c := newSession(user, base.Add(2*time.Minute))
		other := newSession(uuid.NewString(), base)
		for _, sess := range []*store.Session{a, b, c, other} {
			require.NoError(t, s.CreateSession(ctx, sess))
		}

		list, err := s.ListUserSessions(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, c.ID, list[0].ID)

		n, err := s.DeleteUserSessions(ctx, user, b.ID)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		list, err = s.ListUserSessions(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, b.ID, list[0].ID)

		_, err = s.GetSession(ctx, other.ID)
		require.NoError(t, err)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		sess := newSession(uuid.NewString(), base)
		require.NoError(t, s.CreateSession(ctx, sess))

		n, err := s.DeleteExpiredSessions(ctx, sess.ExpiresAt)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 1)

		_, err = s.GetSession(ctx, sess.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

// RunOAuthStore exercises store.OAuthStore. users must be the same backend so
// links can reference created users.
func RunOAuthStore(t *testing.T, users store.UserStore, s store.OAuthStore) {
	ctx := context.Background()

	t.Run("LinkUniqueness", func(t *testing.T) {
		rec := NewUser("erin")
		require.NoError(t, users.CreateUser(ctx, rec, nil))

		pid := uuid.NewString()
		link := &store.OAuthAccount{ID: uuid.NewString(), UserID: rec.ID, Provider: store.ProviderGoogle, ProviderUserID: pid, CreatedAt: base}
		require.NoError(t, s.CreateOAuthAccount(ctx, link))

		dup := &store.OAuthAccount{ID: uuid.NewString(), UserID: rec.ID, Provider: store.ProviderGoogle, ProviderUserID: uuid.NewString(), CreatedAt: base}
		require.ErrorIs(t, s.CreateOAuthAccount(ctx, dup), store.ErrProviderLinked)

		other := NewUser("frank")
		require.NoError(t, users.CreateUser(ctx, other, nil))
		steal := &store.OAuthAccount{ID: uuid.NewString(), UserID: other.ID, Provider: store.ProviderGoogle, ProviderUserID: pid, CreatedAt: base}
		require.ErrorIs(t, s.CreateOAuthAccount(ctx, steal), store.ErrIdentityExists)

		got, err := s.GetOAuthAccount(ctx, store.ProviderGoogle, pid)
		require.NoError(t, err)
		require.Equal(t, rec.ID, got.UserID)
	})

	t.Run("CreateUserWithLink", func(t *testing.T) {
		rec := NewUser("gina")
		rec.Credential = nil
		link := &store.OAuthAccount{ID: uuid.NewString(), UserID: rec.ID, Provider: store.ProviderFacebook, ProviderUserID: uuid.NewString(), CreatedAt: base}
		require.NoError(t, users.CreateUser(ctx, rec, link))

		links, err := s.ListOAuthAccounts(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, links, 1)
		require.Equal(t, store.ProviderFacebook, links[0].Provider)
	})

	t.Run("LastMethodGuard", func(t *testing.T) {
		rec := NewUser("hank")
		rec.Credential = nil
		google := &store.OAuthAccount{ID: uuid.NewString(), UserID: rec.ID, Provider: store.ProviderGoogle, ProviderUserID: uuid.NewString(), CreatedAt: base}
		require.NoError(t, users.CreateUser(ctx, rec, google))

		require.ErrorIs(t, s.DeleteOAuthAccount(ctx, rec.ID, store.ProviderGoogle), store.ErrLastLoginMethod)

		fb := &store.OAuthAccount{ID: uuid.NewString(), UserID: rec.ID, Provider: store.ProviderFacebook, ProviderUserID: uuid.NewString(), CreatedAt: base.Add(time.Second)}
		require.NoError(t, s.CreateOAuthAccount(ctx, fb))
		require.NoError(t, s.DeleteOAuthAccount(ctx, rec.ID, store.ProviderGoogle))
		require.ErrorIs(t, s.DeleteOAuthAccount(ctx, rec.ID, store.ProviderFacebook), store.ErrLastLoginMethod)
		require.ErrorIs(t, s.DeleteOAuthAccount(ctx, rec.ID, store.ProviderGoogle), store.ErrNotFound)
	})
}

// RunActivityStore exercises store.ActivityStore.
func RunActivityStore(t *testing.T, s store.ActivityStore) {
	ctx := context.Background()
	user := uuid.NewString()

	items := []store.ActivityItem{
		{Action: store.ActionSignup, Status: store.StatusSuccess},
		{Action: store.ActionLoginFailed, Status: store.StatusFailure},
		{Action: store.ActionLoginFailed, Status: store.StatusWarning},
		{Action: store.ActionLoginSuccess, Status: store.StatusSuccess},
	}
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].UserID = user
		items[i].Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.AppendActivity(ctx, &items[i]))
	}
	require.NoError(t, s.AppendActivity(ctx, &store.ActivityItem{
		ID: uuid.NewString(), UserID: uuid.NewString(), Action: store.ActionSignup, Status: store.StatusSuccess, Timestamp: base,
	}))

	all, err := s.QueryActivity(ctx, user, store.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, store.ActionLoginSuccess, all[0].Action)
	require.Equal(t, store.ActionSignup, all[3].Action)

	failed, err := s.QueryActivity(ctx, user, store.ActivityFilter{Actions: []store.Action{store.ActionLoginFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 2)

	warn, err := s.QueryActivity(ctx, user, store.ActivityFilter{Statuses: []store.ActivityStatus{store.StatusWarning}})
	require.NoError(t, err)
	require.Len(t, warn, 1)

	window, err := s.QueryActivity(ctx, user, store.ActivityFilter{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, items[2].ID, window[0].ID)
}

func upper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
