package linker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountcore/store"
	"github.com/MrEthical07/accountcore/store/memory"
)

func fixedNow() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }

func newLinker() (*Linker, *memory.Store) {
	st := memory.New()
	return New(st, st, fixedNow, nil), st
}

func localUser(t *testing.T, st *memory.Store, email string, verified bool) *store.UserRecord {
	t.Helper()
	rec := &store.UserRecord{
		User: store.User{
			ID:            uuid.NewString(),
			Username:      uuid.NewString()[:12],
			Email:         email,
			EmailVerified: verified,
		},
		Credential: &store.Credential{Params: "p", Salt: []byte("s"), Hash: []byte("h")},
	}
	require.NoError(t, st.CreateUser(context.Background(), rec, nil))
	return rec
}

func googleID(email string, verified bool) Identity {
	return Identity{
		Provider:       store.ProviderGoogle,
		ProviderUserID: "g-" + email,
		Email:          email,
		EmailVerified:  verified,
	}
}

func TestLinkOrCreateCreatesPasswordlessUser(t *testing.T) {
	l, st := newLinker()
	ctx := context.Background()

	rec, outcome, err := l.LinkOrCreate(ctx, googleID("New.Person@Example.com", true))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
	require.False(t, rec.HasPassword())
	require.True(t, rec.EmailVerified)
	require.Equal(t, "new.person@example.com", rec.Email)
	require.Equal(t, "new.person", rec.Username)

	links, err := st.ListOAuthAccounts(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestLinkOrCreateIsIdempotent(t *testing.T) {
	l, st := newLinker()
	ctx := context.Background()
	id := googleID("idem@example.com", true)

	first, _, err := l.LinkOrCreate(ctx, id)
	require.NoError(t, err)
	second, outcome, err := l.LinkOrCreate(ctx, id)
	require.NoError(t, err)
	require.Equal(t, OutcomeExisting, outcome)
	require.Equal(t, first.ID, second.ID)

	links, err := st.ListOAuthAccounts(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestLinkOrCreateConcurrentSameIdentity(t *testing.T) {
	l, _ := newLinker()
	ctx := context.Background()
	id := googleID("race@example.com", true)

	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, _, err := l.LinkOrCreate(ctx, id)
			if err == nil {
				ids <- rec.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for v := range ids {
		seen[v] = true
	}
	require.Len(t, seen, 1)
}

func TestLinkOrCreateLinksVerifiedLocalEmail(t *testing.T) {
	l, _ := newLinker()
	ctx := context.Background()
	local := localUser(t, l.users.(*memory.Store), "alice@example.com", true)

	rec, outcome, err := l.LinkOrCreate(ctx, googleID("ALICE@example.com", true))
	require.NoError(t, err)
	require.Equal(t, OutcomeLinked, outcome)
	require.Equal(t, local.ID, rec.ID)
}

func TestLinkOrCreateRefusesUnverifiedEmailMatch(t *testing.T) {
	l, st := newLinker()
	ctx := context.Background()
	localUser(t, st, "bob@example.com", false)

	_, _, err := l.LinkOrCreate(ctx, googleID("bob@example.com", true))
	require.ErrorIs(t, err, ErrEmailNotVerified)

	localUser(t, st, "carol@example.com", true)
	_, _, err = l.LinkOrCreate(ctx, googleID("carol@example.com", false))
	require.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestLinkOrCreateUsernameCollision(t *testing.T) {
	l, st := newLinker()
	ctx := context.Background()
	taken := &store.UserRecord{User: store.User{ID: uuid.NewString(), Username: "dave", Email: "someone-else@example.com"}}
	require.NoError(t, st.CreateUser(ctx, taken, nil))

	rec, _, err := l.LinkOrCreate(ctx, googleID("dave@example.org", true))
	require.NoError(t, err)
	require.Equal(t, "dave2", rec.Username)
}

func TestLinkExplicit(t *testing.T) {
	l, st := newLinker()
	ctx := context.Background()
	u := localUser(t, st, "erin@example.com", true)
	other := localUser(t, st, "frank@example.com", true)

	id := googleID("erin.personal@gmail.com", true)
	acct, created, err := l.Link(ctx, u.ID, id)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, u.ID, acct.UserID)

	_, created, err = l.Link(ctx, u.ID, id)
	require.NoError(t, err)
	require.False(t, created)

	_, _, err = l.Link(ctx, other.ID, id)
	require.ErrorIs(t, err, ErrIdentityInUse)

	_, _, err = l.Link(ctx, u.ID, googleID("erin.work@gmail.com", true))
	require.ErrorIs(t, err, ErrProviderAlreadyLinked)

	_, _, err = l.Link(ctx, uuid.NewString(), Identity{Provider: store.ProviderFacebook, ProviderUserID: "fb-1"})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUnlinkLastMethod(t *testing.T) {
	l, st := newLinker()
	ctx := context.Background()

	rec, _, err := l.LinkOrCreate(ctx, googleID("gina@example.com", true))
	require.NoError(t, err)

	require.ErrorIs(t, l.Unlink(ctx, rec.ID, store.ProviderGoogle), ErrCannotUnlinkLastMethod)
	require.ErrorIs(t, l.Unlink(ctx, rec.ID, store.ProviderFacebook), ErrNotLinked)

	_, err = st.UpdateUser(ctx, rec.ID, func(r *store.UserRecord) error {
		r.Credential = &store.Credential{Params: "p", Salt: []byte("s"), Hash: []byte("h")}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, l.Unlink(ctx, rec.ID, store.ProviderGoogle))
}

func TestInvalidIdentity(t *testing.T) {
	l, _ := newLinker()
	_, _, err := l.LinkOrCreate(context.Background(), Identity{Provider: "github", ProviderUserID: "x"})
	require.ErrorIs(t, err, ErrInvalidIdentity)

	_, _, err = l.LinkOrCreate(context.Background(), Identity{Provider: store.ProviderFacebook, ProviderUserID: "x"})
	require.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestUsernameFromEmail(t *testing.T) {
	require.Equal(t, "john.doe", UsernameFromEmail("John.Doe+tag@x.com"))
	require.Equal(t, "abuser", UsernameFromEmail("ab@x.com"))
	require.Equal(t, "user", UsernameFromEmail("..@x.com")[:4])
}
