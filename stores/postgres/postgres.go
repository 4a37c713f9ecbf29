// Package postgres implements the userauth stores on PostgreSQL using pgx.
//
// # Database Schema
//
// Tables are created by the embedded migrations (see Migrator):
//   - users: accounts, unique on LOWER(username) and LOWER(email)
//   - social_identities: unique on (provider, external_id) and (provider, user_id)
//   - auth_tokens: one-time tokens keyed by sha256 of the value
//
// # Usage
//
//	pool, _ := postgres.Open(ctx, dsn)
//	stores := postgres.NewStores(pool)
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
)

// poolIface is the subset of *pgxpool.Pool the stores use; pgxmock satisfies it in tests
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Open connects a pool and verifies the connection
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// NewStores returns the three postgres stores sharing pool
func NewStores(pool poolIface) ua.Stores {
	return ua.Stores{
		Users:      NewUserStore(pool),
		Identities: NewIdentityStore(pool),
		Tokens:     NewTokenStore(pool),
	}
}

// uniqueViolation returns the violated constraint name, or "" if err is not
// a unique violation
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		if pgErr.ConstraintName == "" {
			return "unknown"
		}
		return pgErr.ConstraintName
	}
	return ""
}
