package accountcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/accountcore/store"
)

// enrollMFA enables TOTP for userID and returns the secret.
func (env *testEnv) enrollMFA(t *testing.T, userID string) []byte {
	t.Helper()
	ctx := context.Background()

	enrollment, err := env.engine.BeginMFAEnrollment(ctx, userID)
	if err != nil {
		t.Fatalf("BeginMFAEnrollment failed: %v", err)
	}
	if !strings.HasPrefix(enrollment.URI, "otpauth://totp/") || enrollment.SecretBase32 == "" {
		t.Fatalf("unexpected enrollment: %+v", enrollment)
	}

	secret := env.record(t, userID).MFA.PendingSecret
	if len(secret) == 0 {
		t.Fatal("expected pending secret")
	}
	if err := env.engine.ConfirmMFAEnrollment(ctx, userID, env.code(t, secret)); err != nil {
		t.Fatalf("ConfirmMFAEnrollment failed: %v", err)
	}
	// move past the step used for confirmation so the next code is fresh
	env.clock.Advance(30 * time.Second)
	return secret
}

func (env *testEnv) code(t *testing.T, secret []byte) string {
	t.Helper()
	code, err := env.engine.totp.CodeAt(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("CodeAt failed: %v", err)
	}
	return code
}

func TestMFALoginFlow(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	secret := env.enrollMFA(t, u.ID)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, aliceEmail, alicePassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.MFARequired || res.TempToken == "" || res.SessionToken != "" || res.Session != nil {
		t.Fatalf("expected MFA challenge only, got %+v", res)
	}

	final, err := env.engine.VerifyMFA(ctx, res.TempToken, env.code(t, secret))
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if final.SessionToken == "" || final.User.ID != u.ID {
		t.Fatalf("expected a session after MFA, got %+v", final)
	}

	if _, err := env.engine.VerifyMFA(ctx, res.TempToken, env.code(t, secret)); !errors.Is(err, ErrMFAExpired) {
		t.Fatalf("expected consumed challenge to be rejected, got %v", err)
	}

	items := env.actions(t, u.ID)
	if countActivity(items, store.ActionMFAVerify, store.StatusWarning) != 1 {
		t.Fatal("expected MFA_VERIFY warning for the issued challenge")
	}
	if countActivity(items, store.ActionMFAVerify, store.StatusSuccess) != 1 {
		t.Fatal("expected MFA_VERIFY success")
	}
}

func TestMFAWrongCodeAndAttemptLimit(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	secret := env.enrollMFA(t, u.ID)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, aliceEmail, alicePassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := env.engine.VerifyMFA(ctx, res.TempToken, "000000"); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}
	// the challenge is exhausted even for a correct code
	if _, err := env.engine.VerifyMFA(ctx, res.TempToken, env.code(t, secret)); !errors.Is(err, ErrMFAExpired) {
		t.Fatalf("expected ErrMFAExpired after max attempts, got %v", err)
	}
	// five wrong codes plus the refused exhausted challenge
	if got := countActivity(env.actions(t, u.ID), store.ActionMFAVerify, store.StatusFailure); got != 6 {
		t.Fatalf("expected 6 MFA_VERIFY failures, got %d", got)
	}
}

func TestMFAChallengeExpires(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	secret := env.enrollMFA(t, u.ID)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, aliceEmail, alicePassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.clock.Advance(5 * time.Minute)

	if _, err := env.engine.VerifyMFA(ctx, res.TempToken, env.code(t, secret)); !errors.Is(err, ErrMFAExpired) {
		t.Fatalf("expected ErrMFAExpired, got %v", err)
	}
}

func TestMFACodeReplayRejected(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	secret := env.enrollMFA(t, u.ID)
	ctx := context.Background()

	first, err := env.engine.Login(ctx, aliceEmail, alicePassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	code := env.code(t, secret)
	if _, err := env.engine.VerifyMFA(ctx, first.TempToken, code); err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}

	second, err := env.engine.Login(ctx, aliceEmail, alicePassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.engine.VerifyMFA(ctx, second.TempToken, code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricMFAReplay]; got != 1 {
		t.Fatalf("expected one replay metric, got %d", got)
	}

	env.clock.Advance(30 * time.Second)
	if _, err := env.engine.VerifyMFA(ctx, second.TempToken, env.code(t, secret)); err != nil {
		t.Fatalf("fresh code should pass, got %v", err)
	}
}

func TestNewChallengeSupersedesOld(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	secret := env.enrollMFA(t, u.ID)
	ctx := context.Background()

	first, _ := env.engine.Login(ctx, aliceEmail, alicePassword)
	second, _ := env.engine.Login(ctx, aliceEmail, alicePassword)

	if _, err := env.engine.VerifyMFA(ctx, first.TempToken, env.code(t, secret)); !errors.Is(err, ErrMFAExpired) {
		t.Fatalf("expected superseded challenge to fail, got %v", err)
	}
	if _, err := env.engine.VerifyMFA(ctx, second.TempToken, env.code(t, secret)); err != nil {
		t.Fatalf("latest challenge should pass, got %v", err)
	}
}

func TestMFAEnrollmentStateErrors(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	ctx := context.Background()

	if err := env.engine.ConfirmMFAEnrollment(ctx, u.ID, "123456"); !errors.Is(err, ErrMFANotPending) {
		t.Fatalf("expected ErrMFANotPending, got %v", err)
	}
	if err := env.engine.DisableMFA(ctx, u.ID, alicePassword, "123456"); !errors.Is(err, ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}

	if _, err := env.engine.BeginMFAEnrollment(ctx, u.ID); err != nil {
		t.Fatalf("BeginMFAEnrollment failed: %v", err)
	}
	if err := env.engine.ConfirmMFAEnrollment(ctx, u.ID, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if env.record(t, u.ID).Settings.MFAEnabled {
		t.Fatal("MFA must stay disabled after a bad confirmation code")
	}

	env.enrollMFA(t, u.ID)
	if _, err := env.engine.BeginMFAEnrollment(ctx, u.ID); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}
}

func TestDisableMFARequiresPasswordAndCode(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	secret := env.enrollMFA(t, u.ID)
	ctx := context.Background()

	if err := env.engine.DisableMFA(ctx, u.ID, "wrong-password-1", env.code(t, secret)); !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid, got %v", err)
	}
	if err := env.engine.DisableMFA(ctx, u.ID, alicePassword, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	pending, err := env.engine.Login(ctx, aliceEmail, alicePassword)
	if err != nil || !pending.MFARequired {
		t.Fatalf("expected MFA challenge, got %+v (%v)", pending, err)
	}

	if err := env.engine.DisableMFA(ctx, u.ID, alicePassword, env.code(t, secret)); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}
	rec := env.record(t, u.ID)
	if rec.Settings.MFAEnabled || len(rec.MFA.Secret) != 0 {
		t.Fatalf("expected MFA state cleared, got %+v", rec.MFA)
	}
	if _, err := env.engine.VerifyMFA(ctx, pending.TempToken, env.code(t, secret)); !errors.Is(err, ErrMFAExpired) {
		t.Fatalf("expected outstanding challenge voided, got %v", err)
	}

	env.login(t, aliceEmail, alicePassword)
}
