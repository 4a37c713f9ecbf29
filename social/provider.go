// Package social exchanges OAuth2 authorization codes with external identity
// providers and turns the provider's user info into a userauth.Profile.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	ua "github.com/panyam/userauth"
)

// Identity is what a provider returns after a successful code exchange
type Identity struct {
	Provider   string
	ExternalID string
	Profile    *ua.Profile
	Token      *oauth2.Token
}

// Provider is an OAuth2 identity provider
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// base carries the oauth2 config and the user info fetch shared by providers
type base struct {
	name        string
	oauthConfig oauth2.Config

	// UserInfoURL is the URL to fetch user info from. Can be overridden for testing.
	UserInfoURL string

	// HTTPClient is used for the token exchange and the user info call.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func newBase(name string, ps ua.ProviderSettings, endpoint oauth2.Endpoint, scopes []string, userInfoURL string) base {
	return base{
		name: name,
		oauthConfig: oauth2.Config{
			ClientID:     ps.ClientID,
			ClientSecret: ps.ClientSecret,
			RedirectURL:  ps.RedirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		UserInfoURL: userInfoURL,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) AuthCodeURL(state string) string {
	return b.oauthConfig.AuthCodeURL(state)
}

// SetEndpoint replaces the provider's auth and token URLs
func (b *base) SetEndpoint(ep oauth2.Endpoint) {
	b.oauthConfig.Endpoint = ep
}

func (b *base) httpClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

func (b *base) exchangeToken(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient())
	token, err := b.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, oops.Code("OAUTH_EXCHANGE_FAILED").With("provider", b.name).Wrap(err)
	}
	return token, nil
}

func (b *base) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.UserInfoURL, nil)
	if err != nil {
		return nil, oops.With("provider", b.name).Wrapf(err, "create user info request")
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return nil, oops.Code("OAUTH_USERINFO_FAILED").With("provider", b.name).Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, oops.Code("OAUTH_USERINFO_FAILED").With("provider", b.name).Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oops.Code("OAUTH_USERINFO_FAILED").
			With("provider", b.name).
			With("status", resp.StatusCode).
			Errorf("user info request failed: %s", strings.TrimSpace(string(body)))
	}

	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, oops.Code("OAUTH_USERINFO_FAILED").With("provider", b.name).Wrapf(err, "parse user info")
	}
	return info, nil
}

func stringField(info map[string]any, key string) string {
	switch v := info[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	}
	return ""
}

func boolField(info map[string]any, key string) bool {
	v, _ := info[key].(bool)
	return v
}

// NewProviders builds a provider for every configured entry it knows how to
// serve. Entries without credentials are skipped.
func NewProviders(settings ua.SocialSettings) map[string]Provider {
	out := map[string]Provider{}
	for name, ps := range settings.Providers {
		if ps.ClientID == "" || ps.ClientSecret == "" {
			continue
		}
		switch ua.NormalizeProvider(name) {
		case "google":
			out["google"] = NewGoogle(ps)
		case "github":
			out["github"] = NewGithub(ps)
		}
	}
	return out
}
