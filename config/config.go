// Package config loads userauth configuration from embedded defaults, an
// optional YAML file and USERAUTH_* environment variables, in that order.
package config

import (
	"bytes"
	_ "embed"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/viper"

	ua "github.com/panyam/userauth"
	"github.com/panyam/userauth/logging"
	"github.com/panyam/userauth/sinks"
)

//go:embed defaults.yaml
var embeddedDefaults []byte

// EnvPrefix is prepended to every environment override, with dots replaced
// by underscores: auth.session.secret is USERAUTH_AUTH_SESSION_SECRET
const EnvPrefix = "USERAUTH"

// Store backends
const (
	BackendFS        = "fs"
	BackendPostgres  = "postgres"
	BackendGORM      = "gorm"
	BackendDatastore = "datastore"
)

type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	DSN       string `mapstructure:"dsn"`
	ProjectID string `mapstructure:"project_id"`
	Namespace string `mapstructure:"namespace"`
}

type AMQPConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	sinks.AMQPConfig `mapstructure:",squash"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// HTTPConfig configures the auth endpoints served by "usersctl serve"
type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
	LoginURL     string `mapstructure:"login_url"`
}

type Config struct {
	Auth    ua.Settings     `mapstructure:"auth"`
	Store   StoreConfig     `mapstructure:"store"`
	HTTP    HTTPConfig      `mapstructure:"http"`
	Logging logging.Options `mapstructure:"logging"`
	AMQP    AMQPConfig      `mapstructure:"amqp"`
	Metrics MetricsConfig   `mapstructure:"metrics"`
}

// Load reads the embedded defaults, merges path when given, applies
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(embeddedDefaults)); err != nil {
		return nil, oops.Code("CONFIG_DEFAULTS_INVALID").Wrap(err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the auth settings and that the chosen backend has what it needs
func (c *Config) Validate() error {
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if c.Auth.Session.Secret == "" {
		return invalid("auth.session.secret", "auth.session.secret is required")
	}
	switch c.Store.Backend {
	case BackendFS:
		if c.Store.Path == "" {
			return invalid("store.path", "store.path is required for the fs backend")
		}
	case BackendPostgres, BackendGORM:
		if c.Store.DSN == "" {
			return invalid("store.dsn", "store.dsn is required for the %s backend", c.Store.Backend)
		}
	case BackendDatastore:
		if c.Store.ProjectID == "" {
			return invalid("store.project_id", "store.project_id is required for the datastore backend")
		}
	default:
		return invalid("store.backend", "unknown store backend %q", c.Store.Backend)
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return invalid("amqp.url", "amqp.url is required when amqp is enabled")
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return oops.Code(ua.CodeValidation).With("field", field).Wrapf(ua.ErrValidation, format, args...)
}
