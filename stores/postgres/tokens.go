package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
)

// TokenStore implements ua.TokenStore using PostgreSQL.
type TokenStore struct {
	pool poolIface
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool poolIface) *TokenStore {
	return &TokenStore{pool: pool}
}

// ReplaceToken deletes the user's unconsumed tokens for the purpose and
// inserts token in one transaction. An advisory lock on (user, purpose)
// keeps concurrent replacements from both surviving.
func (s *TokenStore) ReplaceToken(ctx context.Context, token *ua.Token) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "begin").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, token.UserID+":"+string(token.Purpose)); err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "lock").Wrap(err)
	}
	if _, err = tx.Exec(ctx, `
		DELETE FROM auth_tokens
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
	`, token.UserID, string(token.Purpose)); err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "invalidate previous").Wrap(err)
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO auth_tokens (hash, purpose, user_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, token.Hash, string(token.Purpose), token.UserID, token.IssuedAt, token.ExpiresAt); err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "insert token").Wrap(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// GetToken retrieves a token by hash.
func (s *TokenStore) GetToken(ctx context.Context, hash string) (*ua.Token, error) {
	var (
		token   ua.Token
		purpose string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT hash, purpose, user_id, issued_at, expires_at, consumed_at
		FROM auth_tokens
		WHERE hash = $1
	`, hash).Scan(&token.Hash, &purpose, &token.UserID, &token.IssuedAt, &token.ExpiresAt, &token.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(ua.CodeNotFound).Wrap(ua.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").Wrap(err)
	}
	token.Purpose = ua.TokenPurpose(purpose)
	return &token, nil
}

// ConsumeToken marks the token used if nobody else has.
func (s *TokenStore) ConsumeToken(ctx context.Context, hash string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE auth_tokens SET consumed_at = $2
		WHERE hash = $1 AND consumed_at IS NULL
	`, hash, at)
	if err != nil {
		return oops.Code("TOKEN_CONSUME_FAILED").Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auth_tokens WHERE hash = $1)`, hash).Scan(&exists); err != nil {
		return oops.Code("TOKEN_CONSUME_FAILED").With("operation", "check existence").Wrap(err)
	}
	if !exists {
		return oops.Code(ua.CodeNotFound).Wrap(ua.ErrNotFound)
	}
	return oops.Code(ua.CodeTokenConsumed).Wrap(ua.ErrTokenConsumed)
}

// DeleteToken removes a token.
func (s *TokenStore) DeleteToken(ctx context.Context, hash string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE hash = $1`, hash); err != nil {
		return oops.Code("TOKEN_DELETE_FAILED").Wrap(err)
	}
	return nil
}

// DeleteExpiredTokens removes tokens that expired before the cutoff.
func (s *TokenStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("TOKEN_SWEEP_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
