package userauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// TokenPurpose identifies what a one-time token may be used for
type TokenPurpose string

const (
	PurposeResetPassword TokenPurpose = "reset_password"
	PurposeConfirmEmail  TokenPurpose = "confirm_email"
)

// Valid reports whether p is a known purpose
func (p TokenPurpose) Valid() bool {
	return p == PurposeResetPassword || p == PurposeConfirmEmail
}

// Token is a one-time token bound to a user and a purpose. Value is only set
// on the token returned by Issue; stores persist Hash.
type Token struct {
	Value      string       `json:"-"`
	Hash       string       `json:"hash"`
	Purpose    TokenPurpose `json:"purpose"`
	UserID     string       `json:"user_id"`
	IssuedAt   time.Time    `json:"issued_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	ConsumedAt *time.Time   `json:"consumed_at,omitempty"`
}

// IsExpired checks if the token has expired at the given time
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsConsumed reports whether the token was already used
func (t *Token) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATION_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the storage key for a token value
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// TokenIssuer issues, validates and consumes one-time tokens.
type TokenIssuer struct {
	store  TokenStore
	events Emitter
	logger *slog.Logger
	now    func() time.Time
}

// NewTokenIssuer creates an issuer over store. events may be nil.
func NewTokenIssuer(store TokenStore, events Emitter, logger *slog.Logger) *TokenIssuer {
	if events == nil {
		events = NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenIssuer{store: store, events: events, logger: logger, now: time.Now}
}

// Issue creates a token for user and purpose, invalidating any earlier
// unconsumed token for the same pair. A non-positive ttl yields a token that
// is already expired.
func (ti *TokenIssuer) Issue(ctx context.Context, userID string, purpose TokenPurpose, ttl time.Duration) (*Token, error) {
	if !purpose.Valid() {
		return nil, validationError("purpose", "unknown token purpose %q", purpose)
	}
	if userID == "" {
		return nil, validationError("user_id", "user id is required")
	}
	value, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := ti.now()
	if ttl < 0 {
		ttl = 0
	}
	token := &Token{
		Value:     value,
		Hash:      HashToken(value),
		Purpose:   purpose,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := ti.store.ReplaceToken(ctx, token); err != nil {
		return nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("user_id", userID).
			With("purpose", string(purpose)).
			Wrap(err)
	}
	ti.logger.Debug("token issued", "user_id", userID, "purpose", purpose, "expires_at", token.ExpiresAt)
	return token, nil
}

// Revoke invalidates every unconsumed token of user for purpose. The store
// only replaces, so an already-expired placeholder whose value is discarded
// takes their place until Sweep removes it.
func (ti *TokenIssuer) Revoke(ctx context.Context, userID string, purpose TokenPurpose) error {
	if _, err := ti.Issue(ctx, userID, purpose, 0); err != nil {
		return err
	}
	ti.logger.Debug("tokens revoked", "user_id", userID, "purpose", purpose)
	return nil
}

// lookup fetches and checks a token without consuming it
func (ti *TokenIssuer) lookup(ctx context.Context, value string) (*Token, error) {
	if value == "" {
		return nil, oops.Code(CodeNotFound).Wrap(ErrNotFound)
	}
	token, err := ti.store.GetToken(ctx, HashToken(value))
	if err != nil {
		return nil, err
	}
	if token.IsConsumed() {
		return nil, oops.Code(CodeTokenConsumed).
			With("purpose", string(token.Purpose)).
			Wrap(ErrTokenConsumed)
	}
	if token.IsExpired(ti.now()) {
		ti.events.Emit(ctx, EventOnExpiredToken, &User{ID: token.UserID}, map[string]any{
			"purpose": string(token.Purpose),
			"user_id": token.UserID,
		})
		return nil, oops.Code(CodeTokenExpired).
			With("purpose", string(token.Purpose)).
			With("expired_at", token.ExpiresAt).
			Wrap(ErrTokenExpired)
	}
	return token, nil
}

// Validate reports which user and purpose a token value belongs to
func (ti *TokenIssuer) Validate(ctx context.Context, value string) (string, TokenPurpose, error) {
	token, err := ti.lookup(ctx, value)
	if err != nil {
		return "", "", err
	}
	return token.UserID, token.Purpose, nil
}

// Consume validates a token for the expected purpose and marks it used.
// Concurrent consumers of the same token see exactly one success.
func (ti *TokenIssuer) Consume(ctx context.Context, value string, purpose TokenPurpose) (string, error) {
	token, err := ti.lookup(ctx, value)
	if err != nil {
		return "", err
	}
	if token.Purpose != purpose {
		return "", validationError("purpose", "token is for %s, not %s", token.Purpose, purpose)
	}
	if err := ti.store.ConsumeToken(ctx, token.Hash, ti.now()); err != nil {
		if errors.Is(err, ErrTokenConsumed) || errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", oops.Code("TOKEN_CONSUME_FAILED").With("purpose", string(purpose)).Wrap(err)
	}
	return token.UserID, nil
}

// Sweep deletes tokens that have already expired
func (ti *TokenIssuer) Sweep(ctx context.Context) (int64, error) {
	n, err := ti.store.DeleteExpiredTokens(ctx, ti.now())
	if err != nil {
		return 0, oops.Code("TOKEN_SWEEP_FAILED").Wrap(err)
	}
	if n > 0 {
		ti.logger.Info("expired tokens removed", "count", n)
	}
	return n, nil
}
