package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/accountcore/store"
)

const sessionColumns = `id, user_id, token_hash, created_at, expires_at, last_used_at, user_agent, ip`

func scanSession(row pgx.Row) (*store.Session, error) {
	var sess store.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CreatedAt, &sess.ExpiresAt,
		&sess.LastUsedAt, &sess.UserAgent, &sess.IP)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession implements store.SessionStore.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	if sess == nil || sess.ID == "" || sess.TokenHash == "" {
		return store.ErrInvalidArgument
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at, last_used_at, user_agent, ip)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.CreatedAt, sess.ExpiresAt, sess.LastUsedAt, sess.UserAgent, sess.IP)
	return mapErr(err)
}

// GetSession implements store.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	return sess, mapErr(err)
}

// GetSessionByTokenHash implements store.SessionStore.
func (s *Store) GetSessionByTokenHash(ctx context.Context, hash string) (*store.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, hash))
	return sess, mapErr(err)
}

// TouchSession implements store.SessionStore.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE sessions SET
	last_used_at = GREATEST(last_used_at, $2),
	expires_at = GREATEST(expires_at, coalesce($3::timestamptz, expires_at))
WHERE id = $1`, id, at, nullTime(expiresAt))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteSession implements store.SessionStore.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return mapErr(err)
}

// DeleteUserSessions implements store.SessionStore.
func (s *Store) DeleteUserSessions(ctx context.Context, userID, exceptID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id <> $2`, userID, exceptID)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// ListUserSessions implements store.SessionStore.
func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]store.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY last_used_at DESC`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]store.Session, 0, 4)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *sess)
	}
	return out, mapErr(rows.Err())
}

// DeleteExpiredSessions implements store.SessionStore.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}
