package social

import (
	"context"
	"strings"

	"golang.org/x/oauth2/github"

	ua "github.com/panyam/userauth"
)

const githubUserInfoURL = "https://api.github.com/user"

type Github struct {
	base
}

func NewGithub(ps ua.ProviderSettings) *Github {
	return &Github{newBase("github", ps, github.Endpoint, []string{"read:user", "user:email"}, githubUserInfoURL)}
}

func (g *Github) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := g.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}
	info, err := g.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	// GitHub only exposes a single display name
	name := stringField(info, "name")
	first, last, _ := strings.Cut(name, " ")
	return &Identity{
		Provider:   g.name,
		ExternalID: stringField(info, "id"),
		Token:      token,
		Profile: &ua.Profile{
			Username:  stringField(info, "login"),
			Email:     stringField(info, "email"),
			FirstName: first,
			LastName:  last,
			Name:      name,
			AvatarURL: stringField(info, "avatar_url"),
			Raw:       info,
		},
	}, nil
}
