//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	ua "github.com/panyam/userauth"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// UserModel is the GORM model for users. UsernameKey and EmailKey hold the
// lower-cased values the unique indexes are built on.
type UserModel struct {
	ID                  string  `gorm:"primaryKey;size:64"`
	Username            string  `gorm:"size:64;not null"`
	UsernameKey         string  `gorm:"size:64;not null;uniqueIndex:idx_users_username_key"`
	Email               string  `gorm:"size:255"`
	EmailKey            *string `gorm:"size:255;uniqueIndex:idx_users_email_key"`
	PasswordHash        string  `gorm:"size:255;not null"`
	FirstName           string  `gorm:"size:128"`
	LastName            string  `gorm:"size:128"`
	Role                string  `gorm:"size:16;not null;default:user"`
	IsSuperuser         bool
	IsActive            bool
	EmailVerified       bool
	PendingConfirmation bool
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *ua.User {
	return &ua.User{
		ID:                  m.ID,
		Username:            m.Username,
		Email:               m.Email,
		PasswordHash:        m.PasswordHash,
		FirstName:           m.FirstName,
		LastName:            m.LastName,
		Role:                ua.Role(m.Role),
		IsSuperuser:         m.IsSuperuser,
		IsActive:            m.IsActive,
		EmailVerified:       m.EmailVerified,
		PendingConfirmation: m.PendingConfirmation,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func UserToModel(u *ua.User) *UserModel {
	m := &UserModel{
		ID:                  u.ID,
		Username:            u.Username,
		UsernameKey:         ua.NormalizeUsername(u.Username),
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
	if u.Email != "" {
		key := ua.NormalizeEmail(u.Email)
		m.EmailKey = &key
	}
	return m
}

// SocialIdentityModel is the GORM model for provider links
type SocialIdentityModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	UserID     string    `gorm:"size:64;not null;index;uniqueIndex:idx_social_provider_user,priority:2"`
	Provider   string    `gorm:"size:32;not null;uniqueIndex:idx_social_provider_external,priority:1;uniqueIndex:idx_social_provider_user,priority:1"`
	ExternalID string    `gorm:"size:255;not null;uniqueIndex:idx_social_provider_external,priority:2"`
	Email      string    `gorm:"size:255"`
	Profile    JSONMap   `gorm:"type:jsonb"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (SocialIdentityModel) TableName() string {
	return "social_identities"
}

func (m *SocialIdentityModel) ToSocialIdentity() *ua.SocialIdentity {
	return &ua.SocialIdentity{
		ID:         m.ID,
		UserID:     m.UserID,
		Provider:   m.Provider,
		ExternalID: m.ExternalID,
		Email:      m.Email,
		Profile:    m.Profile,
		CreatedAt:  m.CreatedAt,
	}
}

func SocialIdentityToModel(i *ua.SocialIdentity) *SocialIdentityModel {
	return &SocialIdentityModel{
		ID:         i.ID,
		UserID:     i.UserID,
		Provider:   ua.NormalizeProvider(i.Provider),
		ExternalID: i.ExternalID,
		Email:      i.Email,
		Profile:    i.Profile,
		CreatedAt:  i.CreatedAt,
	}
}

// AuthTokenModel is the GORM model for one-time tokens
type AuthTokenModel struct {
	Hash       string    `gorm:"primaryKey;size:64"`
	Purpose    string    `gorm:"size:32;not null;index:idx_tokens_user_purpose,priority:2"`
	UserID     string    `gorm:"size:64;not null;index:idx_tokens_user_purpose,priority:1"`
	IssuedAt   time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	ConsumedAt *time.Time
}

func (AuthTokenModel) TableName() string {
	return "auth_tokens"
}

func (m *AuthTokenModel) ToToken() *ua.Token {
	return &ua.Token{
		Hash:       m.Hash,
		Purpose:    ua.TokenPurpose(m.Purpose),
		UserID:     m.UserID,
		IssuedAt:   m.IssuedAt,
		ExpiresAt:  m.ExpiresAt,
		ConsumedAt: m.ConsumedAt,
	}
}

func TokenToModel(t *ua.Token) *AuthTokenModel {
	return &AuthTokenModel{
		Hash:       t.Hash,
		Purpose:    string(t.Purpose),
		UserID:     t.UserID,
		IssuedAt:   t.IssuedAt,
		ExpiresAt:  t.ExpiresAt,
		ConsumedAt: t.ConsumedAt,
	}
}
