package accountcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/accountcore/store"
)

func TestLoginByEmailAndUsername(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)

	for _, id := range []string{aliceEmail, "ALICE@example.com", "alice", "Alice"} {
		res := env.login(t, id, alicePassword)
		if res.User == nil || res.User.ID != u.ID {
			t.Fatalf("Login(%q) returned wrong user: %+v", id, res.User)
		}
		if res.SessionToken == "" || res.Session == nil || res.Session.UserID != u.ID {
			t.Fatalf("Login(%q) returned no usable session", id)
		}
	}

	if got := countActivity(env.actions(t, u.ID), store.ActionLoginSuccess, store.StatusSuccess); got != 4 {
		t.Fatalf("expected 4 LOGIN_SUCCESS items, got %d", got)
	}
}

func TestLoginUnknownUserAndWrongPasswordAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.signupAlice(t)
	ctx := context.Background()

	_, errUnknown := env.engine.Login(ctx, "bob@example.com", alicePassword)
	_, errWrong := env.engine.Login(ctx, aliceEmail, "wrong-password-1")

	if !errors.Is(errUnknown, ErrCredentialInvalid) || !errors.Is(errWrong, ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("error messages differ: %q vs %q", errUnknown, errWrong)
	}
	if ErrorKind(errUnknown) != KindAuthFailure {
		t.Fatalf("expected auth failure kind, got %s", ErrorKind(errUnknown))
	}
}

func TestLoginRejectsEmptyInput(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Login(context.Background(), " ", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), "alice", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLockoutAfterThresholdBlocksCorrectPassword(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.engine.Login(ctx, aliceEmail, "wrong-password-1"); !errors.Is(err, ErrCredentialInvalid) {
			t.Fatalf("attempt %d: expected ErrCredentialInvalid, got %v", i+1, err)
		}
	}

	_, err := env.engine.Login(ctx, aliceEmail, alicePassword)
	var lockErr *LockoutError
	if !errors.As(err, &lockErr) || !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected *LockoutError, got %v", err)
	}
	wantUntil := env.clock.Now().Add(15 * time.Minute)
	if !lockErr.Until.Equal(wantUntil) {
		t.Fatalf("expected lockout until %v, got %v", wantUntil, lockErr.Until)
	}

	// attempts while locked do not move the counter or the deadline
	before := env.record(t, u.ID).Lockout
	if _, err := env.engine.Login(ctx, aliceEmail, "wrong-password-1"); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected ErrLockedOut, got %v", err)
	}
	if after := env.record(t, u.ID).Lockout; after != before {
		t.Fatalf("lockout state changed while locked: %+v -> %+v", before, after)
	}

	items := env.actions(t, u.ID)
	if countActivity(items, store.ActionAccountLocked, store.StatusWarning) != 1 {
		t.Fatal("expected one ACCOUNT_LOCKED warning")
	}
	if countActivity(items, store.ActionLoginFailed, store.StatusWarning) != 2 {
		t.Fatal("expected locked attempts logged as LOGIN_FAILED warnings")
	}
	if countActivity(items, store.ActionLoginFailed, store.StatusFailure) != 5 {
		t.Fatal("expected five LOGIN_FAILED failures")
	}

	env.clock.Advance(15 * time.Minute)
	env.login(t, aliceEmail, alicePassword)

	st := env.record(t, u.ID).Lockout
	if st != (store.LockoutState{}) {
		t.Fatalf("expected cleared lockout state after success, got %+v", st)
	}
}

func TestLockoutEscalatesAfterRepeatedLockouts(t *testing.T) {
	env := newTestEnv(t)
	env.signupAlice(t)
	ctx := context.Background()

	fail := func(n int) {
		for i := 0; i < n; i++ {
			_, _ = env.engine.Login(ctx, aliceEmail, "wrong-password-1")
		}
	}

	fail(5)
	env.clock.Advance(15 * time.Minute)
	fail(5)

	_, err := env.engine.Login(ctx, aliceEmail, alicePassword)
	var lockErr *LockoutError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected second lockout, got %v", err)
	}
	if got := lockErr.Until.Sub(env.clock.Now()); got != 30*time.Minute {
		t.Fatalf("expected doubled backoff of 30m, got %v", got)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	ctx := context.Background()

	if err := env.engine.DisableAccount(ctx, u.ID, "abuse"); err != nil {
		t.Fatalf("DisableAccount failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, aliceEmail, alicePassword); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	// a wrong password still reads as a credential failure
	if _, err := env.engine.Login(ctx, aliceEmail, "wrong-password-1"); !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid, got %v", err)
	}
}

func TestLoginFailsWhenSuccessCannotBeLogged(t *testing.T) {
	mem := &failingActivity{}
	env := newTestEnv(t, func(env *testEnv, b *Builder) {
		mem.Store = env.store
		b.WithActivityStore(mem)
	})
	env.signupAlice(t)
	mem.arm()

	_, err := env.engine.Login(context.Background(), aliceEmail, alicePassword)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if ErrorKind(err) != KindTransient {
		t.Fatalf("expected transient kind, got %s", ErrorKind(err))
	}

	sessions, _ := env.store.ListUserSessions(context.Background(), mustFind(t, env, aliceEmail))
	if len(sessions) != 0 {
		t.Fatalf("expected the session to be rolled back, found %d", len(sessions))
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricActivityAppendFailure]; got == 0 {
		t.Fatal("expected activity append failure metric")
	}
}

func TestLoginThrottledByIP(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := newTestEnv(t, func(_ *testEnv, b *Builder) {
		cfg := testConfig()
		cfg.Throttle.LoginPerIP = 2
		b.WithConfig(cfg).WithRedis(rdb)
	})
	env.signupAlice(t)

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, aliceEmail, alicePassword); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i+1, err)
		}
	}
	if _, err := env.engine.Login(ctx, aliceEmail, alicePassword); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	other := WithClientIP(context.Background(), "203.0.113.8")
	if _, err := env.engine.Login(other, aliceEmail, alicePassword); err != nil {
		t.Fatalf("other IP should not be throttled: %v", err)
	}
}

func TestLoginThrottleFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := newTestEnv(t, func(_ *testEnv, b *Builder) { b.WithRedis(rdb) })
	env.signupAlice(t)
	mr.Close()

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if _, err := env.engine.Login(ctx, aliceEmail, alicePassword); err != nil {
		t.Fatalf("expected login to proceed without throttle backend, got %v", err)
	}
}

func TestLoginRecordsClientMetadata(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.4"), "curl/8.0")
	res, err := env.engine.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Session.IP != "198.51.100.4" || res.Session.UserAgent != "curl/8.0" {
		t.Fatalf("session metadata not recorded: %+v", res.Session)
	}

	items, err := env.engine.GetActivityLog(context.Background(), u.ID, store.ActivityFilter{
		Actions: []store.Action{store.ActionLoginSuccess},
	})
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one LOGIN_SUCCESS, got %d (%v)", len(items), err)
	}
	if items[0].IP != "198.51.100.4" || items[0].UserAgent != "curl/8.0" {
		t.Fatalf("activity metadata not recorded: %+v", items[0])
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	ctx := context.Background()

	res := env.login(t, aliceEmail, alicePassword)
	if err := env.engine.Logout(ctx, res.Session.ID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := env.engine.Logout(ctx, res.Session.ID); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, res.SessionToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
	if got := countActivity(env.actions(t, u.ID), store.ActionLogout, store.StatusSuccess); got != 1 {
		t.Fatalf("expected one LOGOUT item, got %d", got)
	}
}

func mustFind(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	rec, err := env.store.FindUserByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("FindUserByEmail failed: %v", err)
	}
	return rec.ID
}

func TestConcurrentFailuresCannotOutrunLockout(t *testing.T) {
	reads := &barrierReads{}
	env := newTestEnv(t, func(env *testEnv, b *Builder) {
		reads.Store = env.store
		b.WithUserStore(reads)
	})
	u := env.signupAlice(t)
	threshold := env.engine.config.Lockout.Threshold

	const burst = 20
	reads.arm(burst)
	errs := make(chan error, burst)
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Login(context.Background(), aliceEmail, "wrong-password-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	compared, locked := 0, 0
	for err := range errs {
		switch {
		case errors.Is(err, ErrCredentialInvalid):
			compared++
		case errors.Is(err, ErrLockedOut):
			locked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if compared != threshold || locked != burst-threshold {
		t.Fatalf("compared=%d locked=%d, want %d and %d", compared, locked, threshold, burst-threshold)
	}

	st := env.record(t, u.ID).Lockout
	if st.FailedAttempts != threshold || st.LockoutUntil.IsZero() || st.Escalation != 1 {
		t.Fatalf("unexpected lockout state after burst: %+v", st)
	}
	if _, err := env.engine.Login(context.Background(), aliceEmail, alicePassword); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected correct password to be refused while locked, got %v", err)
	}
	items := env.actions(t, u.ID)
	if got := countActivity(items, store.ActionLoginFailed, store.StatusFailure); got != threshold {
		t.Fatalf("expected %d LOGIN_FAILED failures, got %d", threshold, got)
	}
	if got := countActivity(items, store.ActionAccountLocked, store.StatusWarning); got != 1 {
		t.Fatalf("expected one ACCOUNT_LOCKED item, got %d", got)
	}
}

func TestConcurrentWrongCurrentPasswordsCannotOutrunLockout(t *testing.T) {
	reads := &barrierReads{}
	env := newTestEnv(t, func(env *testEnv, b *Builder) {
		reads.Store = env.store
		b.WithUserStore(reads)
	})
	u := env.signupAlice(t)
	threshold := env.engine.config.Lockout.Threshold

	const burst = 12
	reads.arm(burst)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		compared int
	)
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.engine.ChangePassword(context.Background(), u.ID, "", "wrong-password-1", "another-pass-77")
			if errors.Is(err, ErrCredentialInvalid) {
				mu.Lock()
				compared++
				mu.Unlock()
			} else if !errors.Is(err, ErrLockedOut) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if compared != threshold {
		t.Fatalf("compared %d wrong passwords, want %d", compared, threshold)
	}
	if st := env.record(t, u.ID).Lockout; st.FailedAttempts != threshold {
		t.Fatalf("FailedAttempts = %d, want %d", st.FailedAttempts, threshold)
	}
}

func TestCorrectPasswordReleasesItsAttempt(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, aliceEmail, "wrong-password-1"); !errors.Is(err, ErrCredentialInvalid) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := env.engine.ChangePassword(ctx, u.ID, "", alicePassword, "brand-new-pass-9"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if st := env.record(t, u.ID).Lockout; st != (store.LockoutState{}) {
		t.Fatalf("expected lockout state cleared, got %+v", st)
	}
}
