package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ua "github.com/panyam/userauth"
	"github.com/panyam/userauth/httpauth"
	fsstore "github.com/panyam/userauth/stores/fs"
)

func TestCredential_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future", now.Add(time.Hour), false},
		{"past", now.Add(-time.Second), true},
		{"at expiry", now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, c.IsExpired(now))
		})
	}
}

func TestServerKey(t *testing.T) {
	key, err := ServerKey("http://localhost:8080/auth/login")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", key)

	key, err = ServerKey("//auth.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", key)

	_, err = ServerKey("not a url")
	assert.Error(t, err)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)

	cred := &Credential{Token: "tok", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second)}
	require.NoError(t, s.SetCredential("http://localhost:8080/anything", cred))
	require.NoError(t, s.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	got, err := reopened.GetCredential("http://localhost:8080")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok", got.Token)
	assert.True(t, cred.ExpiresAt.Equal(got.ExpiresAt))

	servers, err := reopened.ListServers()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8080"}, servers)

	require.NoError(t, reopened.RemoveCredential("http://localhost:8080"))
	require.NoError(t, reopened.Save())
	again, err := OpenFileStore(path)
	require.NoError(t, err)
	got, err = again.GetCredential("http://localhost:8080")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpenFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := OpenFileStore(path)
	assert.Error(t, err)
}

func newServer(t *testing.T, mutate ...func(*ua.Settings)) *httptest.Server {
	t.Helper()
	settings := ua.DefaultSettings()
	settings.Session.Secret = "client-secret"
	settings.Hasher.BcryptCost = 4
	for _, m := range mutate {
		m(&settings)
	}
	svc, err := ua.NewService(ua.Deps{Stores: fsstore.NewStores(t.TempDir())}, settings)
	require.NoError(t, err)
	routes := &httpauth.Routes{
		Local:      &httpauth.LocalAuth{Service: svc},
		Middleware: &httpauth.Middleware{Service: svc},
	}
	mux := http.NewServeMux()
	routes.Register(mux)
	mux.Handle("GET /me", routes.Middleware.EnsureUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(httpauth.UserIDFromContext(r.Context())))
	})))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	c, err := New(srv.URL, store, WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.False(t, c.IsLoggedIn())

	cred, err := c.Signup(ctx, SignupRequest{Username: "alice", Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.NotEmpty(t, cred.Token)
	assert.Equal(t, "alice", cred.Username)
	assert.True(t, c.IsLoggedIn())

	resp, err := c.HTTPClient().Get(srv.URL + "/me")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, c.ChangePassword(ctx, "battery-staple"))
	require.NoError(t, c.Logout(ctx))
	assert.False(t, c.IsLoggedIn())

	_, err = c.Login(ctx, "alice", "correct-horse")
	var authErr *httpauth.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, ua.CodeInvalidCredentials, authErr.Code)

	_, err = c.Login(ctx, "alice@example.com", "battery-staple")
	require.NoError(t, err)
	assert.True(t, c.IsLoggedIn())

	// a second client sharing the store file sees the session
	shared, err := OpenFileStore(store.Path())
	require.NoError(t, err)
	other, err := New(srv.URL, shared)
	require.NoError(t, err)
	assert.True(t, other.IsLoggedIn())
}

func TestClient_SignupPendingConfirmation(t *testing.T) {
	srv := newServer(t, func(s *ua.Settings) { s.RequireEmailConfirmation = true })
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	c, err := New(srv.URL, store)
	require.NoError(t, err)

	cred, err := c.Signup(context.Background(), SignupRequest{Username: "bob", Email: "bob@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Nil(t, cred)
	assert.False(t, c.IsLoggedIn())

	require.NoError(t, c.ResendValidation(context.Background(), "bob"))
	require.NoError(t, c.ForgotPassword(context.Background(), "nobody"))
}

func TestClient_LogoutForgetsRejectedSession(t *testing.T) {
	srv := newServer(t)
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	require.NoError(t, store.SetCredential(srv.URL, &Credential{Token: "forged", ExpiresAt: time.Now().Add(time.Hour)}))
	c, err := New(srv.URL, store)
	require.NoError(t, err)
	require.True(t, c.IsLoggedIn())

	require.NoError(t, c.Logout(context.Background()))
	assert.False(t, c.IsLoggedIn())
}
