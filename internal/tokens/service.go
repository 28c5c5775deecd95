// Package tokens issues and consumes single-use tokens: password reset,
// email verification and MFA challenges.
//
// Raw tokens leave the service exactly once, from Issue. Only their hash is
// stored. Consumption is a compare-and-set in the store so concurrent callers
// presenting the same token see exactly one success.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal"
	"github.com/MrEthical07/accountcore/store"
)

var (
	ErrNotFound    = errors.New("token not found")
	ErrExpired     = errors.New("token expired")
	ErrAlreadyUsed = errors.New("token already used")
	ErrUnavailable = errors.New("token backend unavailable")
)

// RejectedError is returned when a token exists but can no longer be used:
// expired, already used or superseded. Owner names the user it was issued to.
type RejectedError struct {
	Owner string
	Err   error
}

func (e *RejectedError) Error() string { return e.Err.Error() }

func (e *RejectedError) Unwrap() error { return e.Err }

// Owner returns the user a rejected token belonged to, or "" when the token
// was never issued or the failure was not a rejection.
func Owner(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Owner
	}
	return ""
}

func rejected(t *store.Token, err error) error {
	return &RejectedError{Owner: t.UserID, Err: err}
}

// Service owns the token lifecycle.
type Service struct {
	store  store.TokenStore
	hasher internal.TokenHasher
	now    func() time.Time
	log    *zap.Logger
}

// New creates a Service. now and log may be nil.
func New(s store.TokenStore, hasher internal.TokenHasher, now func() time.Time, log *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, hasher: hasher, now: now, log: log.Named("tokens")}
}

// Issue creates a token of kind for userID valid for ttl, superseding the
// user's previous live token of that kind.
func (s *Service) Issue(ctx context.Context, kind store.TokenKind, userID string, ttl time.Duration) (string, error) {
	if !kind.Valid() || userID == "" || ttl <= 0 {
		return "", store.ErrInvalidArgument
	}

	raw, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	rec := &store.Token{
		Hash:      s.hasher.Hash(raw),
		Kind:      kind,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.store.SaveToken(ctx, rec); err != nil {
		return "", mapStoreErr(err)
	}
	return raw, nil
}

// Peek returns the live token record without consuming it.
func (s *Service) Peek(ctx context.Context, kind store.TokenKind, raw string) (*store.Token, error) {
	if internal.ValidateOpaqueToken(raw) != nil {
		return nil, ErrNotFound
	}

	t, err := s.store.GetToken(ctx, kind, s.hasher.Hash(raw))
	if err != nil {
		return nil, mapStoreErr(err)
	}
	switch {
	case t.Superseded:
		return nil, rejected(t, ErrNotFound)
	case !t.UsedAt.IsZero():
		return nil, rejected(t, ErrAlreadyUsed)
	case !s.now().Before(t.ExpiresAt):
		return nil, rejected(t, ErrExpired)
	}
	return t, nil
}

// Consume atomically marks the token used and returns its owner.
func (s *Service) Consume(ctx context.Context, kind store.TokenKind, raw string) (string, error) {
	if internal.ValidateOpaqueToken(raw) != nil {
		return "", ErrNotFound
	}

	now := s.now()
	hash := s.hasher.Hash(raw)
	t, err := s.store.ConsumeToken(ctx, kind, hash, now)
	if err != nil {
		mapped := mapStoreErr(err)
		if errors.Is(mapped, ErrUnavailable) {
			return "", mapped
		}
		// the record is still there when the token was used, expired or
		// superseded
		if prev, gerr := s.store.GetToken(ctx, kind, hash); gerr == nil {
			return "", rejected(prev, mapped)
		}
		return "", mapped
	}

	if kind == store.TokenPasswordReset {
		// Issue supersedes older tokens, so a second live reset token means
		// the store lost that guarantee. Kill everything and make the user
		// start over.
		n, err := s.store.InvalidateUserTokens(ctx, kind, t.UserID, now)
		if err != nil {
			return "", mapStoreErr(err)
		}
		if n > 0 {
			s.log.Error("multiple live reset tokens",
				zap.String("user_id", t.UserID),
				zap.Int("extra_live", n),
			)
			return "", rejected(t, fmt.Errorf("%w: concurrent reset tokens", ErrNotFound))
		}
	}

	return t.UserID, nil
}

// RecordAttempt counts a failed use of a live token and returns the attempts
// left. At zero the token is invalidated.
func (s *Service) RecordAttempt(ctx context.Context, kind store.TokenKind, raw string, max int) (int, error) {
	if internal.ValidateOpaqueToken(raw) != nil {
		return 0, ErrNotFound
	}

	t, err := s.store.IncrementTokenAttempts(ctx, kind, s.hasher.Hash(raw), max, s.now())
	if err != nil {
		return 0, mapStoreErr(err)
	}
	left := max - t.Attempts
	if left < 0 {
		left = 0
	}
	return left, nil
}

// InvalidateAll supersedes every live token of kind for userID.
func (s *Service) InvalidateAll(ctx context.Context, kind store.TokenKind, userID string) error {
	if _, err := s.store.InvalidateUserTokens(ctx, kind, userID, s.now()); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// Purge deletes expired token records.
func (s *Service) Purge(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpiredTokens(ctx, s.now())
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return n, nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrTokenUsed):
		return ErrAlreadyUsed
	case errors.Is(err, store.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, store.ErrInvalidArgument):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
