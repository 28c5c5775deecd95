package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountcore/store"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, store.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), store.ErrNotFound},
		{"email", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "users_email_norm_key"}, store.ErrEmailExists},
		{"username", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "users_username_norm_key"}, store.ErrUsernameExists},
		{"identity", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "oauth_accounts_identity_key"}, store.ErrIdentityExists},
		{"provider", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "oauth_accounts_user_provider_key"}, store.ErrProviderLinked},
		{"session hash", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "sessions_token_hash_key"}, store.ErrConflict},
		{"unknown unique", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "something_else"}, store.ErrConflict},
		{"fk", &pgconn.PgError{Code: codeForeignKeyViolation}, store.ErrNotFound},
		{"other pg", &pgconn.PgError{Code: "57P01"}, store.ErrUnavailable},
		{"network", errors.New("dial tcp: connection refused"), store.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, mapErr(tc.in), tc.want)
		})
	}
	require.NoError(t, mapErr(nil))
}

func TestEmbeddedMigrationsHaveGooseMarkers(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for _, name := range names {
		body, err := fs.ReadFile(migrationsFS, name)
		require.NoError(t, err)
		require.Contains(t, string(body), "-- +goose Up", name)
		require.Contains(t, string(body), "-- +goose Down", name)
	}
}

func TestMigrationNamesEveryMappedConstraint(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, "migrations/00001_init.sql")
	require.NoError(t, err)

	for name := range constraintErrors {
		if strings.HasSuffix(name, "_pkey") || name == "activity_log_id_key" {
			continue
		}
		require.Contains(t, string(body), name)
	}
}

func TestCredentialArgsSocialOnly(t *testing.T) {
	p, s, h := credentialArgs(nil)
	require.Nil(t, p)
	require.Nil(t, s)
	require.Nil(t, h)

	p, s, h = credentialArgs(&store.Credential{Params: "x", Salt: []byte("salt")})
	require.Nil(t, p)
	require.Nil(t, s)
	require.Nil(t, h)

	p, _, h = credentialArgs(&store.Credential{Params: "x", Salt: []byte("salt"), Hash: []byte("hash")})
	require.Equal(t, "x", p)
	require.Equal(t, []byte("hash"), h)
}
