package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
)

const userColumns = `id, username, email, password_hash, first_name, last_name,
       role, is_superuser, is_active, email_verified, pending_confirmation,
       created_at, updated_at`

// UserStore implements ua.UserStore using PostgreSQL.
type UserStore struct {
	pool poolIface
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool poolIface) *UserStore {
	return &UserStore{pool: pool}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateUser stores a new user.
func (s *UserStore) CreateUser(ctx context.Context, user *ua.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (
			id, username, email, password_hash, first_name, last_name,
			role, is_superuser, is_active, email_verified, pending_confirmation,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		user.ID,
		user.Username,
		nullable(user.Email),
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		string(user.Role),
		user.IsSuperuser,
		user.IsActive,
		user.EmailVerified,
		user.PendingConfirmation,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err == nil {
		return nil
	}
	switch uniqueViolation(err) {
	case "":
	case "users_email_lower_idx":
		return oops.Code(ua.CodeDuplicateEmail).With("email", user.Email).Wrap(ua.ErrDuplicateEmail)
	default:
		return oops.Code(ua.CodeDuplicateUsername).With("username", user.Username).Wrap(ua.ErrDuplicateUsername)
	}
	return oops.Code("USER_CREATE_FAILED").
		With("operation", "insert user").
		With("username", user.Username).
		Wrap(err)
}

func (s *UserStore) getOne(ctx context.Context, field, value, query string) (*ua.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(ua.CodeNotFound).With(field, value).Wrap(ua.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With(field, value).Wrap(err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *UserStore) GetUserByID(ctx context.Context, id string) (*ua.User, error) {
	return s.getOne(ctx, "id", id, `SELECT `+userColumns+` FROM users WHERE id = $1`)
}

// GetUserByUsername retrieves a user by username (case-insensitive).
func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*ua.User, error) {
	return s.getOne(ctx, "username", username, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`)
}

// GetUserByEmail retrieves a user by email (case-insensitive).
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*ua.User, error) {
	return s.getOne(ctx, "email", email, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`)
}

func (s *UserStore) update(ctx context.Context, op, id, query string, value any) error {
	tag, err := s.pool.Exec(ctx, query, id, value)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", op).With("id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(ua.CodeNotFound).With("id", id).Wrap(ua.ErrNotFound)
	}
	return nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	return s.update(ctx, "update password", id,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, passwordHash)
}

func (s *UserStore) UpdateRole(ctx context.Context, id string, role ua.Role) error {
	return s.update(ctx, "update role", id,
		`UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, string(role))
}

func (s *UserStore) SetSuperuser(ctx context.Context, id string, isSuperuser bool) error {
	return s.update(ctx, "set superuser", id,
		`UPDATE users SET is_superuser = $2, updated_at = NOW() WHERE id = $1`, isSuperuser)
}

func (s *UserStore) SetActive(ctx context.Context, id string, isActive bool) error {
	return s.update(ctx, "set active", id,
		`UPDATE users SET is_active = $2, pending_confirmation = FALSE, updated_at = NOW() WHERE id = $1`, isActive)
}

func (s *UserStore) MarkEmailVerified(ctx context.Context, id string) error {
	return s.update(ctx, "mark email verified", id,
		`UPDATE users SET email_verified = $2, updated_at = NOW() WHERE id = $1`, true)
}

func scanUser(row pgx.Row) (*ua.User, error) {
	var (
		user  ua.User
		email *string
		role  string
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&role,
		&user.IsSuperuser,
		&user.IsActive,
		&user.EmailVerified,
		&user.PendingConfirmation,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if email != nil {
		user.Email = *email
	}
	user.Role = ua.Role(role)
	return &user, nil
}
