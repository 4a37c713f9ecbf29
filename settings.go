package userauth

import (
	"time"
)

// Social login username collision policies
const (
	UsernamePolicySuffix = "suffix"
	UsernamePolicyFail   = "fail"
)

// DefaultSuperuserUsername is used by CreateSuperuser when no username is given
const DefaultSuperuserUsername = "superadmin"

// Settings is the resolved configuration of the auth core. It is built once
// at startup (see the config package) and passed by value.
type Settings struct {
	// BaseURL prefixes links sent in verification and reset emails
	BaseURL                  string `mapstructure:"base_url"`
	PasswordMinLength        int    `mapstructure:"password_min_length"`
	RequireEmailConfirmation bool   `mapstructure:"require_email_confirmation"`

	Hasher        HasherSettings        `mapstructure:"hasher"`
	Tokens        TokenSettings         `mapstructure:"tokens"`
	Session       SessionSettings       `mapstructure:"session"`
	Social        SocialSettings        `mapstructure:"social"`
	Recaptcha     RecaptchaSettings     `mapstructure:"recaptcha"`
	PasswordMeter PasswordMeterSettings `mapstructure:"password_meter"`
}

type HasherSettings struct {
	Algorithm       string `mapstructure:"algorithm"`
	BcryptCost      int    `mapstructure:"bcrypt_cost"`
	Argon2Time      uint32 `mapstructure:"argon2_time"`
	Argon2MemoryKiB uint32 `mapstructure:"argon2_memory_kib"`
	Argon2Threads   uint8  `mapstructure:"argon2_threads"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
}

type TokenSettings struct {
	ResetPasswordTTL time.Duration `mapstructure:"reset_password_ttl"`
	ConfirmEmailTTL  time.Duration `mapstructure:"confirm_email_ttl"`
}

type SessionSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type SocialSettings struct {
	Enabled           bool                        `mapstructure:"enabled"`
	UsernamePolicy    string                      `mapstructure:"username_policy"`
	MaxSuffixAttempts int                         `mapstructure:"max_suffix_attempts"`
	Providers         map[string]ProviderSettings `mapstructure:"providers"`
}

// ProviderSettings holds the OAuth client registration of one social provider
type ProviderSettings struct {
	Label                 string `mapstructure:"label"`
	ClientID              string `mapstructure:"client_id"`
	ClientSecret          string `mapstructure:"client_secret"`
	RedirectURI           string `mapstructure:"redirect_uri"`
	LinkSocialURI         string `mapstructure:"link_social_uri"`
	CallbackLinkSocialURI string `mapstructure:"callback_link_social_uri"`
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		BaseURL:           "http://localhost:8080",
		PasswordMinLength: 8,
		Hasher: HasherSettings{
			Algorithm: AlgorithmBcrypt,
		},
		Tokens: TokenSettings{
			ResetPasswordTTL: time.Hour,
			ConfirmEmailTTL:  24 * time.Hour,
		},
		Session: SessionSettings{
			Issuer: "userauth",
			TTL:    24 * time.Hour,
		},
		Social: SocialSettings{
			UsernamePolicy:    UsernamePolicySuffix,
			MaxSuffixAttempts: 20,
		},
		Recaptcha:     DefaultRecaptchaSettings(),
		PasswordMeter: DefaultPasswordMeterSettings(),
	}
}

// Validate checks that the settings are internally consistent
func (s Settings) Validate() error {
	if s.PasswordMinLength < 1 {
		return validationError("password_min_length", "password_min_length must be positive")
	}
	if _, err := NewHasher(s.Hasher); err != nil {
		return err
	}
	if s.Tokens.ResetPasswordTTL <= 0 {
		return validationError("tokens.reset_password_ttl", "reset_password_ttl must be positive")
	}
	if s.Tokens.ConfirmEmailTTL <= 0 {
		return validationError("tokens.confirm_email_ttl", "confirm_email_ttl must be positive")
	}
	if s.Session.TTL <= 0 {
		return validationError("session.ttl", "session ttl must be positive")
	}
	switch s.Social.UsernamePolicy {
	case UsernamePolicySuffix, UsernamePolicyFail:
	default:
		return validationError("social.username_policy", "unknown username policy %q", s.Social.UsernamePolicy)
	}
	if s.Social.UsernamePolicy == UsernamePolicySuffix && s.Social.MaxSuffixAttempts < 1 {
		return validationError("social.max_suffix_attempts", "max_suffix_attempts must be positive")
	}
	if s.Recaptcha.Enabled {
		if err := s.Recaptcha.Validate(); err != nil {
			return err
		}
	}
	return s.PasswordMeter.Validate()
}
