package userauth

import (
	"context"
	"time"
)

// UserStore persists user accounts.
//
// Implementations must enforce case-insensitive username uniqueness (and
// email uniqueness when an email is set) at the storage level so that two
// concurrent CreateUser calls for the same name yield exactly one success.
type UserStore interface {
	// CreateUser inserts a new user. Returns ErrDuplicateUsername or ErrDuplicateEmail on conflict
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by id. Returns ErrNotFound when absent
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username, ignoring case
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserByEmail retrieves a user by email, ignoring case
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	UpdateRole(ctx context.Context, id string, role Role) error
	SetSuperuser(ctx context.Context, id string, isSuperuser bool) error
	// SetActive sets the active flag and clears PendingConfirmation
	SetActive(ctx context.Context, id string, isActive bool) error
	MarkEmailVerified(ctx context.Context, id string) error
}

// SocialIdentityStore persists links between provider accounts and users.
//
// (provider, external_id) is unique across all users and (provider, user_id)
// is unique per user.
type SocialIdentityStore interface {
	// CreateSocialIdentity inserts a link. Returns ErrAlreadyLinked when the
	// provider account belongs to someone else and ErrProviderAlreadyLinked
	// when the user already has a link for the provider
	CreateSocialIdentity(ctx context.Context, identity *SocialIdentity) error

	// GetSocialIdentity looks up a link by provider account
	GetSocialIdentity(ctx context.Context, provider, externalID string) (*SocialIdentity, error)

	// DeleteSocialIdentity removes the user's link for provider
	DeleteSocialIdentity(ctx context.Context, userID, provider string) error

	// ListSocialIdentities returns every link owned by the user
	ListSocialIdentities(ctx context.Context, userID string) ([]*SocialIdentity, error)
}

// TokenStore persists one-time tokens keyed by the hash of their value.
type TokenStore interface {
	// ReplaceToken atomically removes unconsumed tokens for the same user and
	// purpose, then stores the new one
	ReplaceToken(ctx context.Context, token *Token) error

	// GetToken retrieves a token by hash. Returns ErrNotFound when absent
	GetToken(ctx context.Context, hash string) (*Token, error)

	// ConsumeToken marks a token used. Only one caller can succeed; the rest
	// get ErrTokenConsumed
	ConsumeToken(ctx context.Context, hash string, at time.Time) error

	DeleteToken(ctx context.Context, hash string) error

	// DeleteExpiredTokens removes tokens that expired before the given time
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// Stores groups the three persistence contracts a backend provides
type Stores struct {
	Users      UserStore
	Identities SocialIdentityStore
	Tokens     TokenStore
}
