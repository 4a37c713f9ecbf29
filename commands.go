package userauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Process exit codes used by administrative commands
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitDuplicateUsername = 2
	ExitValidation        = 3
)

// CreateUserRequest describes an account created by an administrative
// command. Empty fields fall back to the defaults of the calling command.
type CreateUserRequest struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Role        Role
	IsSuperuser bool
}

// CreatedUser is the outcome of a command: the stored user plus the
// generated password when none was supplied
type CreatedUser struct {
	User              *User
	GeneratedPassword string
}

// CreateUser is the routine shared by every user-creating command. Values in
// req take precedence over defaults; the account is active and its email
// (when present) is considered verified.
func CreateUser(ctx context.Context, svc *Service, req CreateUserRequest, defaults CreateUserRequest) (*CreatedUser, error) {
	merged := defaults
	if v := strings.TrimSpace(req.Username); v != "" {
		merged.Username = v
	}
	if v := strings.TrimSpace(req.Email); v != "" {
		merged.Email = v
	}
	if req.Password != "" {
		merged.Password = req.Password
	}
	if req.FirstName != "" {
		merged.FirstName = req.FirstName
	}
	if req.LastName != "" {
		merged.LastName = req.LastName
	}
	if req.Role != "" {
		merged.Role = req.Role
	}
	merged.IsSuperuser = merged.IsSuperuser || req.IsSuperuser
	if merged.Role == "" {
		merged.Role = RoleUser
	}
	if !merged.Role.Valid() {
		return nil, validationError("role", "unknown role %q", merged.Role)
	}

	out := &CreatedUser{}
	if merged.Password == "" {
		generated, err := GenerateSecureToken()
		if err != nil {
			return nil, err
		}
		merged.Password = generated[:16]
		out.GeneratedPassword = merged.Password
	}

	reg := RegisterRequest{Username: merged.Username, Email: merged.Email, Password: merged.Password}
	if err := reg.Validate(svc.settings.PasswordMinLength); err != nil {
		return nil, err
	}
	digest, err := svc.hashes.Hash(ctx, merged.Password)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	user := &User{
		ID:            NewID(),
		Username:      merged.Username,
		Email:         merged.Email,
		PasswordHash:  digest,
		FirstName:     merged.FirstName,
		LastName:      merged.LastName,
		Role:          merged.Role,
		IsSuperuser:   merged.IsSuperuser,
		IsActive:      true,
		EmailVerified: merged.Email != "",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := svc.users.CreateUser(ctx, user); err != nil {
		return nil, oops.With("command", "create_user").With("username", user.Username).Wrap(err)
	}
	svc.logger.InfoContext(ctx, "user created", "user_id", user.ID, "username", user.Username,
		"role", string(user.Role), "is_superuser", user.IsSuperuser)
	out.User = user
	return out, nil
}

// CreateSuperuser creates an active admin with superuser rights. The
// username defaults to "superadmin".
func CreateSuperuser(ctx context.Context, svc *Service, username, password string) (*CreatedUser, error) {
	return CreateSuperuserFrom(ctx, svc, CreateUserRequest{Username: username, Password: password})
}

// CreateSuperuserFrom is CreateSuperuser for callers that also supply an
// email or name. Role and superuser rights are always forced.
func CreateSuperuserFrom(ctx context.Context, svc *Service, req CreateUserRequest) (*CreatedUser, error) {
	req.Role = RoleAdmin
	req.IsSuperuser = true
	return CreateUser(ctx, svc, req, CreateUserRequest{
		Username:    DefaultSuperuserUsername,
		Role:        RoleAdmin,
		IsSuperuser: true,
	})
}

// ExitCode maps a command error to a process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrDuplicateUsername):
		return ExitDuplicateUsername
	case errors.Is(err, ErrValidation):
		return ExitValidation
	}
	return ExitFailure
}
