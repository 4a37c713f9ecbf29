package userauth

import (
	"context"
	"slices"
	"sort"
	"strings"
)

// ProviderLink is a social provider offered on the login page
type ProviderLink struct {
	Name  string
	Label string
	URL   string
}

// ConnectState tells whether the user already linked a provider
type ConnectState struct {
	Name      string
	Label     string
	URL       string
	Connected bool
}

func providerLabel(name string, p ProviderSettings) string {
	if p.Label != "" {
		return p.Label
	}
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func sortedProviderNames(providers map[string]ProviderSettings) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoginProviders lists providers usable for social login. Nothing is listed
// while social login is disabled, and a provider needs a redirect URI, a
// client id and a client secret to appear.
func LoginProviders(social SocialSettings) []ProviderLink {
	if !social.Enabled {
		return nil
	}
	var out []ProviderLink
	for _, name := range sortedProviderNames(social.Providers) {
		p := social.Providers[name]
		if p.RedirectURI == "" || p.ClientID == "" || p.ClientSecret == "" {
			continue
		}
		n := NormalizeProvider(name)
		out = append(out, ProviderLink{Name: n, Label: providerLabel(n, p), URL: "/auth/" + n})
	}
	return out
}

// ConnectStates lists the linkable providers for a user and whether each is
// already connected. A provider needs link URIs and client credentials.
func (s *Service) ConnectStates(ctx context.Context, userID string) ([]ConnectState, error) {
	social := s.settings.Social
	if !social.Enabled {
		return nil, nil
	}
	linked, err := s.linker.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []ConnectState
	for _, name := range sortedProviderNames(social.Providers) {
		p := social.Providers[name]
		if p.CallbackLinkSocialURI == "" || p.LinkSocialURI == "" || p.ClientID == "" || p.ClientSecret == "" {
			continue
		}
		n := NormalizeProvider(name)
		out = append(out, ConnectState{
			Name:      n,
			Label:     providerLabel(n, p),
			URL:       "/link-social/" + n,
			Connected: slices.Contains(linked, n),
		})
	}
	return out, nil
}

// RecaptchaSettings configures the reCAPTCHA widget
type RecaptchaSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Key      string `mapstructure:"key"`
	Version  int    `mapstructure:"version"`
	Theme    string `mapstructure:"theme"`
	Size     string `mapstructure:"size"`
	TabIndex int    `mapstructure:"tab_index"`
}

// DefaultRecaptchaSettings returns a disabled v2 widget with the stock look
func DefaultRecaptchaSettings() RecaptchaSettings {
	return RecaptchaSettings{Version: 2, Theme: "light", Size: "normal", TabIndex: 3}
}

// Validate requires a site key and a supported version
func (r RecaptchaSettings) Validate() error {
	if r.Key == "" {
		return validationError("recaptcha.key", "reCaptcha key is required")
	}
	if r.Version != 2 && r.Version != 3 {
		return validationError("recaptcha.version", "reCaptcha version %d is not supported, use 2 or 3", r.Version)
	}
	return nil
}

// PasswordMeterSettings configures the client-side password strength meter
type PasswordMeterSettings struct {
	RequiredScore int      `mapstructure:"required_score"`
	Messages      []string `mapstructure:"messages"`
	MinLength     int      `mapstructure:"min_length"`
	ShowMessage   bool     `mapstructure:"show_message"`
}

// DefaultPasswordMeterSettings returns the stock meter configuration
func DefaultPasswordMeterSettings() PasswordMeterSettings {
	return PasswordMeterSettings{
		RequiredScore: 3,
		Messages:      []string{"Empty password", "Too simple", "Simple", "That's OK", "Great password!"},
		MinLength:     8,
		ShowMessage:   true,
	}
}

// Validate checks that there is one message per score
func (p PasswordMeterSettings) Validate() error {
	if p.RequiredScore < 0 || p.RequiredScore > 4 {
		return validationError("password_meter.required_score", "required_score must be between 0 and 4")
	}
	if len(p.Messages) != 5 {
		return validationError("password_meter.messages", "expected 5 messages, got %d", len(p.Messages))
	}
	if p.MinLength < 1 {
		return validationError("password_meter.min_length", "min_length must be positive")
	}
	return nil
}
