package userauth

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role is the coarse permission level of a user account
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is a single account in the credential store
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	PasswordHash  string `json:"password_hash"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Role          Role   `json:"role"`
	IsSuperuser   bool   `json:"is_superuser"`
	IsActive      bool   `json:"is_active"`
	EmailVerified bool   `json:"email_verified"`
	// PendingConfirmation marks an account created inactive until its email
	// is confirmed. Any explicit SetActive clears it.
	PendingConfirmation bool      `json:"pending_confirmation,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Clone returns a copy of u so store implementations never hand out shared pointers
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}

// SocialIdentity binds an external provider account to a local user
type SocialIdentity struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Provider   string         `json:"provider"`
	ExternalID string         `json:"external_id"`
	Email      string         `json:"email,omitempty"`
	Profile    map[string]any `json:"profile,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Profile is the provider supplied data used when a social login creates a user
type Profile struct {
	Username      string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	Name          string
	AvatarURL     string
	Raw           map[string]any
}

// NormalizeUsername returns the case-folded key under which usernames are unique
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail returns the case-folded key under which emails are unique
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeProvider returns the canonical lower-case provider name
func NormalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// NewID returns a new sortable unique identifier
func NewID() string {
	return ulid.Make().String()
}
