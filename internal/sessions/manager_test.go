package sessions

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountcore/internal"
	"github.com/MrEthical07/accountcore/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(cfg Config) (*Manager, *memory.Store, *clock) {
	st := memory.New()
	c := &clock{now: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)}
	return New(st, internal.NewTokenHasher(nil), cfg, c.Now, nil), st, c
}

func TestCreateAndValidate(t *testing.T) {
	m, _, _ := newManager(DefaultConfig())
	ctx := context.Background()

	issued, err := m.Create(ctx, "u1", Meta{UserAgent: "Firefox", IP: "192.0.2.1"})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	require.NotEqual(t, issued.Token, issued.Session.TokenHash)

	sess, err := m.Validate(ctx, issued.Token)
	require.NoError(t, err)
	require.Equal(t, "u1", sess.UserID)
	require.Equal(t, "Firefox", sess.UserAgent)
}

func TestValidateUnknownAndMalformed(t *testing.T) {
	m, _, _ := newManager(DefaultConfig())
	ctx := context.Background()

	_, err := m.Validate(ctx, "garbage")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.Validate(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredSessionIsDeleted(t *testing.T) {
	m, st, clk := newManager(Config{TTL: time.Hour})
	ctx := context.Background()

	issued, err := m.Create(ctx, "u1", Meta{})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	_, err = m.Validate(ctx, issued.Token)
	require.ErrorIs(t, err, ErrExpired)

	_, err = st.GetSession(ctx, issued.Session.ID)
	require.Error(t, err)
}

func TestTouchThrottleAndMonotonic(t *testing.T) {
	m, st, clk := newManager(Config{TTL: time.Hour, TouchInterval: time.Minute})
	ctx := context.Background()

	issued, err := m.Create(ctx, "u1", Meta{})
	require.NoError(t, err)
	created := issued.Session.LastUsedAt

	clk.Advance(30 * time.Second)
	_, err = m.Validate(ctx, issued.Token)
	require.NoError(t, err)
	got, _ := st.GetSession(ctx, issued.Session.ID)
	require.True(t, got.LastUsedAt.Equal(created))

	clk.Advance(time.Minute)
	_, err = m.Validate(ctx, issued.Token)
	require.NoError(t, err)
	got, _ = st.GetSession(ctx, issued.Session.ID)
	require.True(t, got.LastUsedAt.Equal(clk.Now()))
	require.True(t, got.ExpiresAt.Equal(issued.Session.ExpiresAt), "fixed expiry must not move")
}

func TestSlidingExpiryCappedByAbsoluteLifetime(t *testing.T) {
	m, _, clk := newManager(Config{TTL: time.Hour, Sliding: true, AbsoluteLifetime: 90 * time.Minute})
	ctx := context.Background()

	issued, err := m.Create(ctx, "u1", Meta{})
	require.NoError(t, err)

	clk.Advance(50 * time.Minute)
	sess, err := m.Validate(ctx, issued.Token)
	require.NoError(t, err)
	require.True(t, sess.ExpiresAt.Equal(issued.Session.CreatedAt.Add(90*time.Minute)))

	clk.Advance(40 * time.Minute)
	_, err = m.Validate(ctx, issued.Token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestRevokeAllKeepsCurrent(t *testing.T) {
	m, _, _ := newManager(DefaultConfig())
	ctx := context.Background()

	a, _ := m.Create(ctx, "u1", Meta{})
	b, _ := m.Create(ctx, "u1", Meta{})
	c, _ := m.Create(ctx, "u1", Meta{})

	n, err := m.RevokeAll(ctx, "u1", b.Session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, tok := range []string{a.Token, c.Token} {
		_, err := m.Validate(ctx, tok)
		require.ErrorIs(t, err, ErrNotFound)
	}
	_, err = m.Validate(ctx, b.Token)
	require.NoError(t, err)

	n, err = m.RevokeAll(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = m.Validate(ctx, b.Token)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListSkipsExpiredAndRevokeIsIdempotent(t *testing.T) {
	m, _, clk := newManager(Config{TTL: time.Hour})
	ctx := context.Background()

	old, _ := m.Create(ctx, "u1", Meta{})
	clk.Advance(45 * time.Minute)
	fresh, _ := m.Create(ctx, "u1", Meta{})
	clk.Advance(20 * time.Minute)

	list, err := m.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, fresh.Session.ID, list[0].ID)

	require.NoError(t, m.Revoke(ctx, old.Session.ID))
	require.NoError(t, m.Revoke(ctx, old.Session.ID))

	n, err := m.Purge(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTruncateKeepsWholeCharacters(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"abé", 3, "ab"},
		{"ab日本", 4, "ab"},
		{"ab日本", 5, "ab日"},
		{"日本", 1, ""},
	}
	for _, tc := range tests {
		got := truncate(tc.in, tc.n)
		require.Equal(t, tc.want, got, "truncate(%q, %d)", tc.in, tc.n)
		require.True(t, utf8.ValidString(got))
	}
}

func TestCreateTruncatesMultiByteUserAgent(t *testing.T) {
	m, _, _ := newManager(DefaultConfig())
	ctx := context.Background()

	ua := strings.Repeat("a", 511) + "é" + strings.Repeat("b", 20)
	issued, err := m.Create(ctx, "u1", Meta{UserAgent: ua, IP: "192.0.2.1"})
	require.NoError(t, err)

	sess, err := m.Validate(ctx, issued.Token)
	require.NoError(t, err)
	require.True(t, utf8.ValidString(sess.UserAgent))
	require.Equal(t, strings.Repeat("a", 511), sess.UserAgent)
}
