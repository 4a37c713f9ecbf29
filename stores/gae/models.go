//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	ua "github.com/panyam/userauth"
)

// UserEntity is the Datastore entity for users. Key name is the user ID
type UserEntity struct {
	Key                 *datastore.Key `datastore:"__key__"`
	Username            string         `datastore:"username"`
	Email               string         `datastore:"email"`
	PasswordHash        string         `datastore:"password_hash,noindex"`
	FirstName           string         `datastore:"first_name,noindex"`
	LastName            string         `datastore:"last_name,noindex"`
	Role                string         `datastore:"role"`
	IsSuperuser         bool           `datastore:"is_superuser"`
	IsActive            bool           `datastore:"is_active"`
	EmailVerified       bool           `datastore:"email_verified"`
	PendingConfirmation bool           `datastore:"pending_confirmation,noindex"`
	CreatedAt           time.Time      `datastore:"created_at"`
	UpdatedAt           time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *ua.User {
	return &ua.User{
		ID:                  e.Key.Name,
		Username:            e.Username,
		Email:               e.Email,
		PasswordHash:        e.PasswordHash,
		FirstName:           e.FirstName,
		LastName:            e.LastName,
		Role:                ua.Role(e.Role),
		IsSuperuser:         e.IsSuperuser,
		IsActive:            e.IsActive,
		EmailVerified:       e.EmailVerified,
		PendingConfirmation: e.PendingConfirmation,
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
}

func UserToEntity(u *ua.User, key *datastore.Key) *UserEntity {
	return &UserEntity{
		Key:                 key,
		Username:            u.Username,
		Email:               u.Email,
		PasswordHash:        u.PasswordHash,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		Role:                string(u.Role),
		IsSuperuser:         u.IsSuperuser,
		IsActive:            u.IsActive,
		EmailVerified:       u.EmailVerified,
		PendingConfirmation: u.PendingConfirmation,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

// IndexEntity reserves a unique value (username, email, provider per user)
// for an owner. The key name is the normalized value.
type IndexEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	Value     string         `datastore:"value,noindex"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
}

// SocialIdentityEntity is the Datastore entity for provider links.
// Key format: Provider + ":" + ExternalID
type SocialIdentityEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	ID         string         `datastore:"id,noindex"`
	UserID     string         `datastore:"user_id"`
	Provider   string         `datastore:"provider"`
	ExternalID string         `datastore:"external_id"`
	Email      string         `datastore:"email,noindex"`
	Profile    []byte         `datastore:"profile,noindex"` // JSON encoded
	CreatedAt  time.Time      `datastore:"created_at"`
}

func (e *SocialIdentityEntity) ToSocialIdentity() *ua.SocialIdentity {
	out := &ua.SocialIdentity{
		ID:         e.ID,
		UserID:     e.UserID,
		Provider:   e.Provider,
		ExternalID: e.ExternalID,
		Email:      e.Email,
		CreatedAt:  e.CreatedAt,
	}
	if len(e.Profile) > 0 {
		_ = json.Unmarshal(e.Profile, &out.Profile)
	}
	return out
}

func SocialIdentityToEntity(i *ua.SocialIdentity, key *datastore.Key) *SocialIdentityEntity {
	var profile []byte
	if i.Profile != nil {
		profile, _ = json.Marshal(i.Profile)
	}
	return &SocialIdentityEntity{
		Key:        key,
		ID:         i.ID,
		UserID:     i.UserID,
		Provider:   i.Provider,
		ExternalID: i.ExternalID,
		Email:      i.Email,
		Profile:    profile,
		CreatedAt:  i.CreatedAt,
	}
}

// AuthTokenEntity is the Datastore entity for one-time tokens. Key name is the token hash
type AuthTokenEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	Purpose    string         `datastore:"purpose"`
	UserID     string         `datastore:"user_id"`
	IssuedAt   time.Time      `datastore:"issued_at,noindex"`
	ExpiresAt  time.Time      `datastore:"expires_at"`
	Consumed   bool           `datastore:"consumed"`
	ConsumedAt time.Time      `datastore:"consumed_at,noindex"`
}

func (e *AuthTokenEntity) ToToken() *ua.Token {
	out := &ua.Token{
		Hash:      e.Key.Name,
		Purpose:   ua.TokenPurpose(e.Purpose),
		UserID:    e.UserID,
		IssuedAt:  e.IssuedAt,
		ExpiresAt: e.ExpiresAt,
	}
	if e.Consumed {
		at := e.ConsumedAt
		out.ConsumedAt = &at
	}
	return out
}

func TokenToEntity(t *ua.Token, key *datastore.Key) *AuthTokenEntity {
	e := &AuthTokenEntity{
		Key:       key,
		Purpose:   string(t.Purpose),
		UserID:    t.UserID,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
	}
	if t.ConsumedAt != nil {
		e.Consumed = true
		e.ConsumedAt = *t.ConsumedAt
	}
	return e
}
