package accountcore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/accountcore/store"
	"github.com/MrEthical07/accountcore/store/memory"
)

const (
	alicePassword = "correct-horse-42"
	aliceEmail    = "alice@example.com"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	kind  string
	to    string
	token string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) SendPasswordReset(_ context.Context, to, _ string, token string) error {
	return m.capture("reset", to, token)
}

func (m *captureMailer) SendEmailVerification(_ context.Context, to, _ string, token string) error {
	return m.capture("verify", to, token)
}

func (m *captureMailer) capture(kind, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{kind: kind, to: to, token: token})
	return nil
}

func (m *captureMailer) last(t *testing.T, kind string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind {
			return m.sent[i].token
		}
	}
	t.Fatalf("no %s mail captured", kind)
	return ""
}

func (m *captureMailer) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	clock  *fakeClock
	mailer *captureMailer
}

// testConfig keeps Argon2 cheap so the suite stays fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*testEnv, *Builder)) *testEnv {
	t.Helper()

	env := &testEnv{
		store:  memory.New(),
		clock:  newFakeClock(),
		mailer: &captureMailer{},
	}
	b := New().
		WithConfig(testConfig()).
		WithStore(env.store).
		WithClock(env.clock.Now).
		WithMailer(env.mailer)
	for _, fn := range mutate {
		fn(env, b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) signupAlice(t *testing.T) *store.User {
	t.Helper()
	u, err := env.engine.Signup(context.Background(), "alice", aliceEmail, alicePassword)
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	return u
}

func (env *testEnv) login(t *testing.T, identifier, pw string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), identifier, pw)
	if err != nil {
		t.Fatalf("Login(%q) failed: %v", identifier, err)
	}
	if res.MFARequired {
		t.Fatal("unexpected MFA challenge")
	}
	return res
}

func (env *testEnv) record(t *testing.T, userID string) *store.UserRecord {
	t.Helper()
	rec, err := env.store.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	return rec
}

func (env *testEnv) actions(t *testing.T, userID string) []store.ActivityItem {
	t.Helper()
	items, err := env.engine.GetActivityLog(context.Background(), userID, store.ActivityFilter{Limit: 500})
	if err != nil {
		t.Fatalf("GetActivityLog failed: %v", err)
	}
	return items
}

func countActivity(items []store.ActivityItem, action store.Action, status store.ActivityStatus) int {
	n := 0
	for _, it := range items {
		if it.Action == action && it.Status == status {
			n++
		}
	}
	return n
}

// failingActivity rejects appends once armed.
type failingActivity struct {
	*memory.Store
	mu    sync.Mutex
	armed bool
}

func (f *failingActivity) arm() {
	f.mu.Lock()
	f.armed = true
	f.mu.Unlock()
}

func (f *failingActivity) AppendActivity(ctx context.Context, item *store.ActivityItem) error {
	f.mu.Lock()
	armed := f.armed
	f.mu.Unlock()
	if armed {
		return fmt.Errorf("%w: disk full", store.ErrUnavailable)
	}
	return f.Store.AppendActivity(ctx, item)
}

// barrierReads holds user lookups until n of them are in flight, so every
// request in a burst works from the same stale snapshot.
type barrierReads struct {
	*memory.Store
	mu      sync.Mutex
	waiting int
	n       int
	open    chan struct{}
}

func (b *barrierReads) arm(n int) {
	b.mu.Lock()
	b.n, b.waiting = n, 0
	b.open = make(chan struct{})
	b.mu.Unlock()
}

func (b *barrierReads) wait() {
	b.mu.Lock()
	open := b.open
	if open == nil {
		b.mu.Unlock()
		return
	}
	b.waiting++
	if b.waiting == b.n {
		close(open)
		b.open = nil
	}
	b.mu.Unlock()
	select {
	case <-open:
	case <-time.After(5 * time.Second):
	}
}

func (b *barrierReads) FindUserByLogin(ctx context.Context, login string) (*store.UserRecord, error) {
	b.wait()
	return b.Store.FindUserByLogin(ctx, login)
}

func (b *barrierReads) GetUser(ctx context.Context, id string) (*store.UserRecord, error) {
	b.wait()
	return b.Store.GetUser(ctx, id)
}
