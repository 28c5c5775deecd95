package accountcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal"
	"github.com/MrEthical07/accountcore/internal/activity"
	"github.com/MrEthical07/accountcore/internal/audit"
	"github.com/MrEthical07/accountcore/internal/limiters"
	"github.com/MrEthical07/accountcore/internal/linker"
	"github.com/MrEthical07/accountcore/internal/sessions"
	"github.com/MrEthical07/accountcore/internal/tokens"
	"github.com/MrEthical07/accountcore/password"
	"github.com/MrEthical07/accountcore/store"
)

// Engine is the account identity and security facade. It is safe for
// concurrent use after Builder.Build.
type Engine struct {
	config Config

	users        store.UserStore
	passwordHash *password.Argon2
	policy       password.Policy
	lockout      *limiters.LockoutPolicy
	throttle     *limiters.Throttle
	tokens       *tokens.Service
	sessions     *sessions.Manager
	linker       *linker.Linker
	activity     *activity.Log
	audit        *audit.Dispatcher
	totp         *totpManager
	metrics      *Metrics
	mailer       Mailer
	tokenHasher  internal.TokenHasher

	now func() time.Time
	log *zap.Logger
}

// Close flushes queued audit items and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many items the audit dispatcher dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// storeContext bounds store calls by Config.StoreTimeout.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.config.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.StoreTimeout)
}

// GetUser returns the public part of a user record.
func (e *Engine) GetUser(ctx context.Context, userID string) (*store.User, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u := rec.User
	return &u, nil
}

// PurgeExpired deletes expired tokens and sessions. It is optional garbage
// collection; expired records are already inert.
func (e *Engine) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	if e == nil {
		return PurgeResult{}, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	var res PurgeResult
	n, err := e.tokens.Purge(ctx)
	if err != nil {
		return res, unavailable(err)
	}
	res.Tokens = n

	n, err = e.sessions.Purge(ctx)
	if err != nil {
		return res, unavailable(err)
	}
	res.Sessions = n

	e.log.Info("purged expired records", zap.Int("tokens", res.Tokens), zap.Int("sessions", res.Sessions))
	return res, nil
}

func (e *Engine) loadUser(ctx context.Context, userID string) (*store.UserRecord, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	rec, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return rec, nil
}

func (e *Engine) updateUser(ctx context.Context, userID string, fn func(*store.UserRecord) error) (*store.UserRecord, error) {
	rec, err := e.users.UpdateUser(ctx, userID, fn)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return rec, nil
}

// mapUserErr translates credential store errors. Errors returned by update
// callbacks pass through unchanged.
func mapUserErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, store.ErrEmailExists):
		return ErrEmailTaken
	case errors.Is(err, store.ErrUsernameExists):
		return ErrUsernameTaken
	case ErrorKind(err) != KindInternal:
		return err
	default:
		return unavailable(err)
	}
}

func digestOf(c *store.Credential) password.Digest {
	return password.Digest{Params: c.Params, Salt: c.Salt, Key: c.Hash}
}

func credentialOf(d password.Digest) *store.Credential {
	return &store.Credential{Params: d.Params, Salt: d.Salt, Hash: d.Key}
}

// checkPassword verifies pw against rec, spending the same hashing work
// when the account has no password.
func (e *Engine) checkPassword(rec *store.UserRecord, pw string) (bool, error) {
	if rec == nil || !rec.HasPassword() {
		e.passwordHash.VerifyDummy(pw)
		return false, nil
	}
	ok, err := e.passwordHash.Verify(pw, digestOf(rec.Credential))
	if errors.Is(err, password.ErrPasswordTooLong) {
		return false, nil
	}
	if err != nil {
		e.log.Error("stored password digest unusable", zap.String("user_id", rec.ID), zap.Error(err))
		return false, err
	}
	return ok, nil
}

func (e *Engine) hashPassword(pw string) (*store.Credential, error) {
	d, err := e.passwordHash.Hash(pw)
	if err != nil {
		return nil, err
	}
	return credentialOf(d), nil
}

// throttled converts a throttle result. An unreachable throttle backend
// lets the request through; account lockout still bounds password guessing.
func (e *Engine) throttled(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrThrottled):
		return ErrRateLimited
	default:
		e.log.Warn("throttle unavailable, request allowed", zap.String("op", op), zap.Error(err))
		return nil
	}
}
