package social_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	ua "github.com/panyam/userauth"
	"github.com/panyam/userauth/social"
	fsstore "github.com/panyam/userauth/stores/fs"
)

// mockOAuthServer serves /token and /userinfo the way a provider does
type mockOAuthServer struct {
	server        *httptest.Server
	userInfo      map[string]any
	tokenError    bool
	userInfoError bool
	lastAuthz     string
}

func newMockOAuthServer(t *testing.T, userInfo map[string]any) *mockOAuthServer {
	mock := &mockOAuthServer{userInfo: userInfo}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if mock.tokenError {
			http.Error(w, "token exchange failed", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mock_access_token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		mock.lastAuthz = r.Header.Get("Authorization")
		if mock.userInfoError {
			http.Error(w, "user info failed", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mock.userInfo)
	})
	mock.server = httptest.NewServer(mux)
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *mockOAuthServer) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   m.server.URL + "/auth",
		TokenURL:  m.server.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

var testProvider = ua.ProviderSettings{ClientID: "cid", ClientSecret: "secret", RedirectURI: "http://localhost/auth/github/callback"}

func newGithub(mock *mockOAuthServer) *social.Github {
	gh := social.NewGithub(testProvider)
	gh.SetEndpoint(mock.endpoint())
	gh.UserInfoURL = mock.server.URL + "/userinfo"
	return gh
}

func TestGithubExchange(t *testing.T) {
	mock := newMockOAuthServer(t, map[string]any{
		"id":         12345,
		"login":      "octocat",
		"email":      "octo@example.com",
		"name":       "Mona Lisa",
		"avatar_url": "https://avatars.example.com/u/1",
	})
	ident, err := newGithub(mock).Exchange(context.Background(), "code-1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer mock_access_token", mock.lastAuthz)
	assert.Equal(t, "github", ident.Provider)
	assert.Equal(t, "12345", ident.ExternalID)
	assert.Equal(t, "octocat", ident.Profile.Username)
	assert.Equal(t, "Mona", ident.Profile.FirstName)
	assert.Equal(t, "Lisa", ident.Profile.LastName)
	assert.Equal(t, "octo@example.com", ident.Profile.Email)
}

func TestGoogleExchange(t *testing.T) {
	mock := newMockOAuthServer(t, map[string]any{
		"id":             "g-1",
		"email":          "a@example.com",
		"verified_email": true,
		"given_name":     "Ada",
		"family_name":    "Lovelace",
	})
	g := social.NewGoogle(testProvider)
	g.SetEndpoint(mock.endpoint())
	g.UserInfoURL = mock.server.URL + "/userinfo"

	ident, err := g.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "g-1", ident.ExternalID)
	assert.True(t, ident.Profile.EmailVerified)
	assert.Equal(t, "Ada", ident.Profile.FirstName)
}

func TestExchangeErrors(t *testing.T) {
	mock := newMockOAuthServer(t, map[string]any{"id": 1})
	gh := newGithub(mock)

	mock.tokenError = true
	_, err := gh.Exchange(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, "OAUTH_EXCHANGE_FAILED", ua.ErrorCode(err))

	mock.tokenError = false
	mock.userInfoError = true
	_, err = gh.Exchange(context.Background(), "code")
	require.Error(t, err)
	assert.Equal(t, "OAUTH_USERINFO_FAILED", ua.ErrorCode(err))
}

func TestNewProviders(t *testing.T) {
	providers := social.NewProviders(ua.SocialSettings{Providers: map[string]ua.ProviderSettings{
		"Google":     testProvider,
		"github":     testProvider,
		"twitter":    testProvider,
		"incomplete": {ClientID: "x"},
	}})
	assert.Len(t, providers, 2)
	assert.Contains(t, providers, "google")
	assert.Contains(t, providers, "github")
}

func TestFromGoth(t *testing.T) {
	ident := social.FromGoth(goth.User{
		Provider:  "GitHub",
		UserID:    "42",
		NickName:  "octocat",
		Email:     "octo@example.com",
		FirstName: "Mona",
		RawData:   map[string]any{"email_verified": true},
	})
	assert.Equal(t, "github", ident.Provider)
	assert.Equal(t, "42", ident.ExternalID)
	assert.Equal(t, "octocat", ident.Profile.Username)
	assert.True(t, ident.Profile.EmailVerified)
}

func newService(t *testing.T) *ua.Service {
	settings := ua.DefaultSettings()
	settings.Session.Secret = "test-secret"
	settings.Social.Enabled = true
	svc, err := ua.NewService(ua.Deps{
		Stores: fsstore.NewStores(t.TempDir()),
		Hasher: ua.NewBcryptHasher(4),
	}, settings)
	require.NoError(t, err)
	return svc
}

func TestFlow_RedirectAndCallback(t *testing.T) {
	mock := newMockOAuthServer(t, map[string]any{"id": 7, "login": "octocat"})
	svc := newService(t)

	var got *ua.Session
	flow := &social.Flow{
		Service:   svc,
		Providers: map[string]social.Provider{"github": newGithub(mock)},
		OnSession: func(w http.ResponseWriter, r *http.Request, sess *ua.Session) {
			got = sess
			w.WriteHeader(http.StatusOK)
		},
	}

	rr := httptest.NewRecorder()
	flow.Redirect("github")(rr, httptest.NewRequest(http.MethodGet, "/auth/github", nil))
	require.Equal(t, http.StatusFound, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "cid", loc.Query().Get("client_id"))

	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	flow.Callback("github")(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	assert.Equal(t, ua.StateAuthenticated, got.State)

	user, err := svc.GetUser(context.Background(), got.UserID)
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Username)
}

func TestFlow_CallbackRejectsBadState(t *testing.T) {
	flow := &social.Flow{Providers: map[string]social.Provider{"github": social.NewGithub(testProvider)}}

	req := httptest.NewRequest(http.MethodGet, "/cb?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: "oauthstate", Value: "real"})
	rr := httptest.NewRecorder()
	flow.Callback("github")(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "invalid oauth state"))

	rr = httptest.NewRecorder()
	flow.Redirect("nope")(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
