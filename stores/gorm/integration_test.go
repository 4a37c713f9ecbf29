//go:build integration

package gorm_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	ua "github.com/panyam/userauth"
	gormstore "github.com/panyam/userauth/stores/gorm"
)

var testDB *gorm.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("userauth_gorm"),
		tcpostgres.WithUsername("userauth"),
		tcpostgres.WithPassword("userauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err == nil {
		testDB, err = gormstore.Open(dsn)
	}
	if err == nil {
		err = gormstore.AutoMigrate(testDB)
	}
	if err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("setup gorm: %v", err)
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newUser(username, email string) *ua.User {
	now := time.Now().UTC()
	return &ua.User{ID: ua.NewID(), Username: username, Email: email, PasswordHash: "d", Role: ua.RoleUser, IsActive: true, CreatedAt: now, UpdatedAt: now}
}

func TestGORMStores(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(testDB)

	alice := newUser("Alice", "alice@example.com")
	require.NoError(t, stores.Users.CreateUser(ctx, alice))
	assert.ErrorIs(t, stores.Users.CreateUser(ctx, newUser("ALICE", "")), ua.ErrDuplicateUsername)
	assert.ErrorIs(t, stores.Users.CreateUser(ctx, newUser("alice2", "ALICE@example.com")), ua.ErrDuplicateEmail)
	require.NoError(t, stores.Users.CreateUser(ctx, newUser("noemail1", "")))
	require.NoError(t, stores.Users.CreateUser(ctx, newUser("noemail2", "")))

	got, err := stores.Users.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	require.NoError(t, stores.Identities.CreateSocialIdentity(ctx, &ua.SocialIdentity{ID: ua.NewID(), UserID: alice.ID, Provider: "github", ExternalID: "42"}))
	bob := newUser("bob", "")
	require.NoError(t, stores.Users.CreateUser(ctx, bob))
	err = stores.Identities.CreateSocialIdentity(ctx, &ua.SocialIdentity{ID: ua.NewID(), UserID: bob.ID, Provider: "github", ExternalID: "42"})
	assert.ErrorIs(t, err, ua.ErrAlreadyLinked)
	err = stores.Identities.CreateSocialIdentity(ctx, &ua.SocialIdentity{ID: ua.NewID(), UserID: alice.ID, Provider: "github", ExternalID: "43"})
	assert.ErrorIs(t, err, ua.ErrProviderAlreadyLinked)

	issuer := ua.NewTokenIssuer(stores.Tokens, nil, nil)
	first, err := issuer.Issue(ctx, alice.ID, ua.PurposeResetPassword, time.Hour)
	require.NoError(t, err)
	second, err := issuer.Issue(ctx, alice.ID, ua.PurposeResetPassword, time.Hour)
	require.NoError(t, err)
	_, _, err = issuer.Validate(ctx, first.Value)
	assert.ErrorIs(t, err, ua.ErrNotFound)
	_, err = issuer.Consume(ctx, second.Value, ua.PurposeResetPassword)
	require.NoError(t, err)
	_, err = issuer.Consume(ctx, second.Value, ua.PurposeResetPassword)
	assert.ErrorIs(t, err, ua.ErrTokenConsumed)
}
