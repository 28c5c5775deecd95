// Package postgres implements store.Store on PostgreSQL through a pgx pool.
//
// Per-user updates lock the row with SELECT ... FOR UPDATE inside a
// transaction. Token consumption is a single conditional UPDATE, so exactly
// one concurrent caller sees the row change. The schema is embedded and
// applied with goose.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/accountcore/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn. maxConns <= 0 keeps the pgx default.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.pool.Ping(ctx))
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// MigrationVersion reports the applied schema version.
func (s *Store) MigrationVersion(ctx context.Context) (int64, error) {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

// withTx runs fn in a transaction and commits when it returns nil. Errors
// from fn are returned unchanged.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = mapErr(tx.Commit(ctx))
	}()
	return fn(tx)
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// constraintErrors maps unique constraints to store sentinels.
var constraintErrors = map[string]error{
	"users_pkey":                       store.ErrConflict,
	"users_email_norm_key":             store.ErrEmailExists,
	"users_username_norm_key":          store.ErrUsernameExists,
	"oauth_accounts_pkey":              store.ErrConflict,
	"oauth_accounts_identity_key":      store.ErrIdentityExists,
	"oauth_accounts_user_provider_key": store.ErrProviderLinked,
	"tokens_pkey":                      store.ErrConflict,
	"sessions_pkey":                    store.ErrConflict,
	"sessions_token_hash_key":          store.ErrConflict,
	"activity_log_id_key":              store.ErrConflict,
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			if mapped, ok := constraintErrors[pgErr.ConstraintName]; ok {
				return mapped
			}
			return store.ErrConflict
		case codeForeignKeyViolation:
			return store.ErrNotFound
		}
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
