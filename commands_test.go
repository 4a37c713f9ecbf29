package userauth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ua "github.com/panyam/userauth"
)

func TestCreateSuperuser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := ua.CreateSuperuser(ctx, f.svc, "", "")
	require.NoError(t, err)
	u := created.User
	assert.Equal(t, ua.DefaultSuperuserUsername, u.Username)
	assert.Equal(t, ua.RoleAdmin, u.Role)
	assert.True(t, u.IsSuperuser)
	assert.True(t, u.IsActive)
	assert.Len(t, created.GeneratedPassword, 16)

	_, err = f.svc.Login(ctx, ua.DefaultSuperuserUsername, created.GeneratedPassword)
	assert.NoError(t, err)

	_, err = ua.CreateSuperuser(ctx, f.svc, "SuperAdmin", "another-password")
	assert.ErrorIs(t, err, ua.ErrDuplicateUsername)
	assert.Equal(t, ua.ExitDuplicateUsername, ua.ExitCode(err))

	named, err := ua.CreateSuperuser(ctx, f.svc, "root", "root-password")
	require.NoError(t, err)
	assert.Empty(t, named.GeneratedPassword)
	assert.Equal(t, "root", named.User.Username)
}

func TestCreateSuperuserFrom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := ua.CreateSuperuserFrom(ctx, f.svc, ua.CreateUserRequest{
		Email:    "ops@example.com",
		Password: "ops-password",
		Role:     ua.RoleUser,
	})
	require.NoError(t, err)
	u := created.User
	assert.Equal(t, ua.DefaultSuperuserUsername, u.Username)
	assert.Equal(t, "ops@example.com", u.Email)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, ua.RoleAdmin, u.Role, "role is forced")
	assert.True(t, u.IsSuperuser)

	_, err = f.svc.Login(ctx, "ops@example.com", "ops-password")
	assert.NoError(t, err)
}

func TestCreateUser_Defaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	defaults := ua.CreateUserRequest{Role: ua.RoleUser}

	created, err := ua.CreateUser(ctx, f.svc, ua.CreateUserRequest{Username: "carol", Email: "carol@example.com", Password: "correct-horse"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, ua.RoleUser, created.User.Role)
	assert.False(t, created.User.IsSuperuser)
	assert.True(t, created.User.EmailVerified)
	assert.Empty(t, f.events.kinds(), "commands bypass registration events")

	_, err = ua.CreateUser(ctx, f.svc, ua.CreateUserRequest{Username: "dave", Role: ua.Role("owner")}, defaults)
	assert.ErrorIs(t, err, ua.ErrValidation)

	_, err = ua.CreateUser(ctx, f.svc, ua.CreateUserRequest{Username: "dave", Password: "short"}, defaults)
	assert.ErrorIs(t, err, ua.ErrValidation)
	assert.Equal(t, ua.ExitValidation, ua.ExitCode(err))

	_, err = ua.CreateUser(ctx, f.svc, ua.CreateUserRequest{Username: "erin", Email: "CAROL@example.com", Password: "correct-horse"}, defaults)
	assert.ErrorIs(t, err, ua.ErrDuplicateEmail)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, "create_user", oopsErr.Context()["command"])
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ua.ExitOK},
		{"duplicate", oops.Code(ua.CodeDuplicateUsername).Wrap(ua.ErrDuplicateUsername), ua.ExitDuplicateUsername},
		{"validation", ua.ValidateUsername("x"), ua.ExitValidation},
		{"other", errors.New("boom"), ua.ExitFailure},
		{"duplicate email", ua.ErrDuplicateEmail, ua.ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ua.ExitCode(tt.err))
		})
	}
}
