package accountcore

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/accountcore/store"
)

func TestDisableAccountRevokesEverything(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	ctx := context.Background()

	res := env.login(t, aliceEmail, alicePassword)
	_ = env.engine.RequestPasswordReset(ctx, aliceEmail)
	reset := env.mailer.last(t, "reset")

	if err := env.engine.DisableAccount(ctx, u.ID, "fraud review"); err != nil {
		t.Fatalf("DisableAccount failed: %v", err)
	}
	if err := env.engine.DisableAccount(ctx, u.ID, "again"); err != nil {
		t.Fatalf("repeat DisableAccount failed: %v", err)
	}

	if _, err := env.engine.Authenticate(ctx, res.SessionToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session revoked, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, reset, "brand-new-pass-7"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected outstanding reset token voided, got %v", err)
	}
	if err := env.engine.RequestPasswordReset(ctx, aliceEmail); err != nil {
		t.Fatalf("reset request for disabled account must stay silent, got %v", err)
	}
	if n := env.mailer.count("reset"); n != 1 {
		t.Fatalf("expected no new reset mail, got %d total", n)
	}

	items := env.actions(t, u.ID)
	if countActivity(items, store.ActionAccountDisabled, store.StatusSuccess) != 1 {
		t.Fatal("expected exactly one ACCOUNT_DISABLED item")
	}

	if err := env.engine.EnableAccount(ctx, u.ID); err != nil {
		t.Fatalf("EnableAccount failed: %v", err)
	}
	env.login(t, aliceEmail, alicePassword)
	if countActivity(env.actions(t, u.ID), store.ActionAccountEnabled, store.StatusSuccess) != 1 {
		t.Fatal("expected ACCOUNT_ENABLED item")
	}
}

func TestUnlockAccountClearsLockout(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, aliceEmail, "wrong-password-1")
	}
	if _, err := env.engine.Login(ctx, aliceEmail, alicePassword); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("expected lockout, got %v", err)
	}

	if err := env.engine.UnlockAccount(ctx, u.ID); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	env.login(t, aliceEmail, alicePassword)

	if countActivity(env.actions(t, u.ID), store.ActionAccountUnlocked, store.StatusSuccess) != 1 {
		t.Fatal("expected ACCOUNT_UNLOCKED item")
	}
	if err := env.engine.UnlockAccount(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	env := newTestEnv(t)
	u := env.signupAlice(t)
	ctx := context.Background()

	signupToken := env.mailer.last(t, "verify")
	if err := env.engine.RequestEmailVerification(ctx, u.ID); err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	fresh := env.mailer.last(t, "verify")
	if fresh == signupToken {
		t.Fatal("expected a new token")
	}
	if _, err := env.engine.VerifyEmail(ctx, signupToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected superseded token rejected, got %v", err)
	}

	verified, err := env.engine.VerifyEmail(ctx, fresh)
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if !verified.EmailVerified {
		t.Fatal("expected verified email")
	}

	before := env.mailer.count("verify")
	if err := env.engine.RequestEmailVerification(ctx, u.ID); err != nil {
		t.Fatalf("RequestEmailVerification on verified address failed: %v", err)
	}
	if env.mailer.count("verify") != before {
		t.Fatal("verified address must not receive new tokens")
	}
	if countActivity(env.actions(t, u.ID), store.ActionEmailVerify, store.StatusSuccess) != 1 {
		t.Fatal("expected EMAIL_VERIFY item")
	}
}

func TestSignupWithoutMailerSkipsVerification(t *testing.T) {
	env := newTestEnv(t, func(_ *testEnv, b *Builder) { b.WithMailer(nil) })
	u := env.signupAlice(t)

	if env.mailer.count("verify") != 0 {
		t.Fatal("no mail expected without a mailer")
	}
	if err := env.engine.RequestEmailVerification(context.Background(), u.ID); err != nil {
		t.Fatalf("expected nil without a mailer, got %v", err)
	}
}
