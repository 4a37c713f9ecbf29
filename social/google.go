package social

import (
	"context"

	"golang.org/x/oauth2/google"

	ua "github.com/panyam/userauth"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type Google struct {
	base
}

func NewGoogle(ps ua.ProviderSettings) *Google {
	return &Google{newBase("google", ps, google.Endpoint, []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}, googleUserInfoURL)}
}

func (g *Google) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := g.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}
	info, err := g.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Provider:   g.name,
		ExternalID: stringField(info, "id"),
		Token:      token,
		Profile: &ua.Profile{
			Email:         stringField(info, "email"),
			EmailVerified: boolField(info, "verified_email"),
			FirstName:     stringField(info, "given_name"),
			LastName:      stringField(info, "family_name"),
			Name:          stringField(info, "name"),
			AvatarURL:     stringField(info, "picture"),
			Raw:           info,
		},
	}, nil
}
