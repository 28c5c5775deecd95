package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/accountcore/store"
)

const userColumns = `id, username, email, email_verified, disabled, avatar_url, mfa_enabled, theme,
	password_params, password_salt, password_hash,
	failed_attempts, window_start, lockout_until, lockout_escalation,
	mfa_secret, mfa_pending_secret, mfa_last_counter, version, created_at, updated_at`

func scanUser(row pgx.Row) (*store.UserRecord, error) {
	var (
		rec          store.UserRecord
		theme        string
		params       *string
		salt, hash   []byte
		windowStart  *time.Time
		lockoutUntil *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.Username, &rec.Email, &rec.EmailVerified, &rec.Disabled, &rec.AvatarURL,
		&rec.Settings.MFAEnabled, &theme,
		&params, &salt, &hash,
		&rec.Lockout.FailedAttempts, &windowStart, &lockoutUntil, &rec.Lockout.Escalation,
		&rec.MFA.Secret, &rec.MFA.PendingSecret, &rec.MFA.LastCounter, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Settings.Theme = store.Theme(theme)
	if hash != nil {
		rec.Credential = &store.Credential{Salt: salt, Hash: hash}
		if params != nil {
			rec.Credential.Params = *params
		}
	}
	rec.Lockout.WindowStart = derefTime(windowStart)
	rec.Lockout.LockoutUntil = derefTime(lockoutUntil)
	return &rec, nil
}

// credentialArgs returns params, salt and hash, all nil for social-only
// accounts so the pair constraint holds.
func credentialArgs(c *store.Credential) (any, any, any) {
	if c == nil || len(c.Hash) == 0 || len(c.Salt) == 0 {
		return nil, nil, nil
	}
	return c.Params, c.Salt, c.Hash
}

// CreateUser implements store.UserStore.
func (s *Store) CreateUser(ctx context.Context, rec *store.UserRecord, link *store.OAuthAccount) error {
	if rec == nil || rec.ID == "" {
		return store.ErrInvalidArgument
	}
	params, salt, hash := credentialArgs(rec.Credential)

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO users (
	id, username, username_norm, email, email_norm, email_verified, disabled, avatar_url,
	mfa_enabled, theme, password_params, password_salt, password_hash,
	failed_attempts, window_start, lockout_until, lockout_escalation,
	mfa_secret, mfa_pending_secret, mfa_last_counter, version, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1, $21, $22)`,
			rec.ID, rec.Username, store.NormalizeUsername(rec.Username), rec.Email, store.NormalizeEmail(rec.Email),
			rec.EmailVerified, rec.Disabled, rec.AvatarURL,
			rec.Settings.MFAEnabled, themeOrDefault(rec.Settings.Theme), params, salt, hash,
			rec.Lockout.FailedAttempts, nullTime(rec.Lockout.WindowStart), nullTime(rec.Lockout.LockoutUntil), rec.Lockout.Escalation,
			nullBytes(rec.MFA.Secret), nullBytes(rec.MFA.PendingSecret), rec.MFA.LastCounter,
			rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			return mapErr(err)
		}
		if link != nil {
			l := *link
			l.UserID = rec.ID
			if err := insertOAuthAccount(ctx, tx, &l); err != nil {
				return err
			}
		}
		rec.Version = 1
		return nil
	})
}

func themeOrDefault(t store.Theme) string {
	if t == "" {
		return string(store.ThemeLight)
	}
	return string(t)
}

// GetUser implements store.UserStore.
func (s *Store) GetUser(ctx context.Context, id string) (*store.UserRecord, error) {
	rec, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return rec, mapErr(err)
}

// FindUserByEmail implements store.UserStore.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.UserRecord, error) {
	rec, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email_norm = $1`, store.NormalizeEmail(email)))
	return rec, mapErr(err)
}

// FindUserByLogin implements store.UserStore. An email match wins over a
// username match.
func (s *Store) FindUserByLogin(ctx context.Context, identifier string) (*store.UserRecord, error) {
	rec, err := scanUser(s.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE email_norm = $1 OR username_norm = $2
ORDER BY (email_norm = $1) DESC
LIMIT 1`, store.NormalizeEmail(identifier), store.NormalizeUsername(identifier)))
	return rec, mapErr(err)
}

// UpdateUser implements store.UserStore.
func (s *Store) UpdateUser(ctx context.Context, id string, fn func(*store.UserRecord) error) (*store.UserRecord, error) {
	var out *store.UserRecord

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return mapErr(err)
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if next.ID != cur.ID {
			return store.ErrImmutableField
		}

		params, salt, hash := credentialArgs(next.Credential)
		err = tx.QueryRow(ctx, `
UPDATE users SET
	username = $2, username_norm = $3, email = $4, email_norm = $5,
	email_verified = $6, disabled = $7, avatar_url = $8, mfa_enabled = $9, theme = $10,
	password_params = $11, password_salt = $12, password_hash = $13,
	failed_attempts = $14, window_start = $15, lockout_until = $16, lockout_escalation = $17,
	mfa_secret = $18, mfa_pending_secret = $19, mfa_last_counter = $20,
	updated_at = $21, version = version + 1
WHERE id = $1
RETURNING version`,
			id, next.Username, store.NormalizeUsername(next.Username), next.Email, store.NormalizeEmail(next.Email),
			next.EmailVerified, next.Disabled, next.AvatarURL, next.Settings.MFAEnabled, themeOrDefault(next.Settings.Theme),
			params, salt, hash,
			next.Lockout.FailedAttempts, nullTime(next.Lockout.WindowStart), nullTime(next.Lockout.LockoutUntil), next.Lockout.Escalation,
			nullBytes(next.MFA.Secret), nullBytes(next.MFA.PendingSecret), next.MFA.LastCounter,
			next.UpdatedAt,
		).Scan(&next.Version)
		if err != nil {
			return mapErr(err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
