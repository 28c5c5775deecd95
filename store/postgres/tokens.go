package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/accountcore/store"
)

const tokenColumns = `hash, kind, user_id, created_at, expires_at, used_at, superseded, attempts`

func scanToken(row pgx.Row) (*store.Token, error) {
	var (
		t      store.Token
		kind   string
		usedAt *time.Time
	)
	if err := row.Scan(&t.Hash, &kind, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &usedAt, &t.Superseded, &t.Attempts); err != nil {
		return nil, err
	}
	t.Kind = store.TokenKind(kind)
	t.UsedAt = derefTime(usedAt)
	return &t, nil
}

// SaveToken implements store.TokenStore. An advisory lock on (kind, user)
// keeps concurrent issues from leaving two live tokens.
func (s *Store) SaveToken(ctx context.Context, t *store.Token) error {
	if t == nil || t.Hash == "" || !t.Kind.Valid() {
		return store.ErrInvalidArgument
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, string(t.Kind), t.UserID); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx, `
UPDATE tokens SET superseded = true
WHERE user_id = $1 AND kind = $2 AND used_at IS NULL AND NOT superseded`, t.UserID, string(t.Kind)); err != nil {
			return mapErr(err)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO tokens (hash, kind, user_id, created_at, expires_at, used_at, superseded, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.Hash, string(t.Kind), t.UserID, t.CreatedAt, t.ExpiresAt, nullTime(t.UsedAt), t.Superseded, t.Attempts)
		return mapErr(err)
	})
}

// GetToken implements store.TokenStore.
func (s *Store) GetToken(ctx context.Context, kind store.TokenKind, hash string) (*store.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE kind = $1 AND hash = $2`, string(kind), hash))
	return t, mapErr(err)
}

// ConsumeToken implements store.TokenStore.
func (s *Store) ConsumeToken(ctx context.Context, kind store.TokenKind, hash string, now time.Time) (*store.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx, `
UPDATE tokens SET used_at = $3
WHERE kind = $1 AND hash = $2 AND used_at IS NULL AND NOT superseded AND expires_at > $3
RETURNING `+tokenColumns, string(kind), hash, now))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapErr(err)
	}

	// lost the race or never live; classify
	cur, err := s.GetToken(ctx, kind, hash)
	if err != nil {
		return nil, err
	}
	switch {
	case cur.Superseded:
		return nil, store.ErrNotFound
	case !cur.UsedAt.IsZero():
		return nil, store.ErrTokenUsed
	default:
		return nil, store.ErrTokenExpired
	}
}

// IncrementTokenAttempts implements store.TokenStore.
func (s *Store) IncrementTokenAttempts(ctx context.Context, kind store.TokenKind, hash string, max int, now time.Time) (*store.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx, `
UPDATE tokens SET
	attempts = attempts + 1,
	superseded = ($4 > 0 AND attempts + 1 >= $4)
WHERE kind = $1 AND hash = $2 AND used_at IS NULL AND NOT superseded AND expires_at > $3
RETURNING `+tokenColumns, string(kind), hash, now, max))
	return t, mapErr(err)
}

// InvalidateUserTokens implements store.TokenStore.
func (s *Store) InvalidateUserTokens(ctx context.Context, kind store.TokenKind, userID string, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
WITH hit AS (
	UPDATE tokens SET superseded = true
	WHERE user_id = $1 AND kind = $2 AND used_at IS NULL AND NOT superseded
	RETURNING expires_at
)
SELECT count(*) FILTER (WHERE expires_at > $3) FROM hit`, userID, string(kind), now).Scan(&n)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// DeleteExpiredTokens implements store.TokenStore.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}
