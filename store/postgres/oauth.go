package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/accountcore/store"
)

const oauthColumns = `id, user_id, provider, provider_user_id, provider_email, created_at`

func scanOAuthAccount(row pgx.Row) (*store.OAuthAccount, error) {
	var (
		a        store.OAuthAccount
		provider string
	)
	if err := row.Scan(&a.ID, &a.UserID, &provider, &a.ProviderUserID, &a.ProviderEmail, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Provider = store.Provider(provider)
	return &a, nil
}

func insertOAuthAccount(ctx context.Context, q querier, a *store.OAuthAccount) error {
	if a.ID == "" || !a.Provider.Valid() || a.ProviderUserID == "" {
		return store.ErrInvalidArgument
	}
	_, err := q.Exec(ctx, `
INSERT INTO oauth_accounts (id, user_id, provider, provider_user_id, provider_email, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, string(a.Provider), a.ProviderUserID, a.ProviderEmail, a.CreatedAt)
	return mapErr(err)
}

// GetOAuthAccount implements store.OAuthStore.
func (s *Store) GetOAuthAccount(ctx context.Context, provider store.Provider, providerUserID string) (*store.OAuthAccount, error) {
	a, err := scanOAuthAccount(s.pool.QueryRow(ctx,
		`SELECT `+oauthColumns+` FROM oauth_accounts WHERE provider = $1 AND provider_user_id = $2`,
		string(provider), providerUserID))
	return a, mapErr(err)
}

// ListOAuthAccounts implements store.OAuthStore.
func (s *Store) ListOAuthAccounts(ctx context.Context, userID string) ([]store.OAuthAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oauthColumns+` FROM oauth_accounts WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]store.OAuthAccount, 0, 2)
	for rows.Next() {
		a, err := scanOAuthAccount(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *a)
	}
	return out, mapErr(rows.Err())
}

// CreateOAuthAccount implements store.OAuthStore.
func (s *Store) CreateOAuthAccount(ctx context.Context, acct *store.OAuthAccount) error {
	if acct == nil || acct.UserID == "" {
		return store.ErrInvalidArgument
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockUserCredential(ctx, tx, acct.UserID); err != nil {
			return err
		}
		return insertOAuthAccount(ctx, tx, acct)
	})
}

// DeleteOAuthAccount implements store.OAuthStore. The user row lock
// serializes this check with password changes and other unlinks.
func (s *Store) DeleteOAuthAccount(ctx context.Context, userID string, provider store.Provider) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		hasPassword, err := lockUserCredential(ctx, tx, userID)
		if err != nil {
			return err
		}

		var total int
		var linked bool
		err = tx.QueryRow(ctx, `
SELECT count(*), coalesce(bool_or(provider = $2), false)
FROM oauth_accounts
WHERE user_id = $1`, userID, string(provider)).Scan(&total, &linked)
		if err != nil {
			return mapErr(err)
		}
		if !linked {
			return store.ErrNotFound
		}
		if !hasPassword && total <= 1 {
			return store.ErrLastLoginMethod
		}

		_, err = tx.Exec(ctx, `DELETE FROM oauth_accounts WHERE user_id = $1 AND provider = $2`, userID, string(provider))
		return mapErr(err)
	})
}

// lockUserCredential locks the user row and reports whether it can log in
// with a password.
func lockUserCredential(ctx context.Context, tx pgx.Tx, userID string) (bool, error) {
	var hasPassword bool
	err := tx.QueryRow(ctx, `
SELECT coalesce(length(password_hash) > 0 AND length(password_salt) > 0, false)
FROM users
WHERE id = $1
FOR UPDATE`, userID).Scan(&hasPassword)
	if err != nil {
		return false, mapErr(err)
	}
	return hasPassword, nil
}
