package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/panyam/userauth/config"
	"github.com/panyam/userauth/logging"
)

// app is filled in by the root command before any subcommand runs
type app struct {
	configFile string
	envFile    string
	cfg        *config.Config
	logger     *slog.Logger
}

// NewRootCmd creates the root command for usersctl.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "usersctl",
		Short:         "Administer userauth accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file loaded before the config")

	cmd.AddCommand(newUsersCmd(a))
	cmd.AddCommand(newTokensCmd(a))
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newServeCmd(a))
	return cmd
}

func (a *app) load(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return oops.Code("CONFIG_READ_FAILED").With("path", a.envFile).Wrap(err)
		}
	}
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.Setup(cfg.Logging, cmd.ErrOrStderr())
	return nil
}
