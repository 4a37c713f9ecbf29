package userauth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ua "github.com/panyam/userauth"
)

func TestLoginProviders(t *testing.T) {
	social := ua.SocialSettings{
		Enabled: true,
		Providers: map[string]ua.ProviderSettings{
			"google":   {ClientID: "id", ClientSecret: "s", RedirectURI: "/auth/google/callback"},
			"github":   {Label: "GitHub", ClientID: "id", ClientSecret: "s", RedirectURI: "/auth/github/callback"},
			"facebook": {ClientID: "id", RedirectURI: "/auth/facebook/callback"},
		},
	}
	got := ua.LoginProviders(social)
	assert.Equal(t, []ua.ProviderLink{
		{Name: "github", Label: "GitHub", URL: "/auth/github"},
		{Name: "google", Label: "Google", URL: "/auth/google"},
	}, got)

	social.Enabled = false
	assert.Empty(t, ua.LoginProviders(social))
}

func TestConnectStates_Disabled(t *testing.T) {
	f := newFixture(t, func(s *ua.Settings) { s.Social.Enabled = false })
	u := f.register(t, "alice", "", "correct-horse")
	states, err := f.svc.ConnectStates(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestRecaptchaSettings_Validate(t *testing.T) {
	r := ua.DefaultRecaptchaSettings()
	assert.ErrorIs(t, r.Validate(), ua.ErrValidation)
	r.Key = "site-key"
	assert.NoError(t, r.Validate())
	r.Version = 4
	assert.ErrorIs(t, r.Validate(), ua.ErrValidation)
}

func TestPasswordMeterSettings_Validate(t *testing.T) {
	p := ua.DefaultPasswordMeterSettings()
	assert.NoError(t, p.Validate())

	p.Messages = p.Messages[:3]
	assert.ErrorIs(t, p.Validate(), ua.ErrValidation)

	p = ua.DefaultPasswordMeterSettings()
	p.RequiredScore = 5
	assert.ErrorIs(t, p.Validate(), ua.ErrValidation)
}
