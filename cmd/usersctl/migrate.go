package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	ua "github.com/panyam/userauth"
	"github.com/panyam/userauth/config"
	gormstore "github.com/panyam/userauth/stores/gorm"
	pgstore "github.com/panyam/userauth/stores/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the schema of the SQL backends. The postgres backend
uses versioned migrations; the gorm backend only supports "up".`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch a.cfg.Store.Backend {
			case config.BackendGORM:
				db, err := gormstore.Open(a.cfg.Store.DSN)
				if err != nil {
					return err
				}
				if sqlDB, err := db.DB(); err == nil {
					defer sqlDB.Close()
				}
				if err := gormstore.AutoMigrate(db); err != nil {
					return err
				}
			case config.BackendPostgres:
				if err := withMigrator(a, (*pgstore.Migrator).Up); err != nil {
					return err
				}
			default:
				return noSchema(a.cfg.Store.Backend)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Store.Backend != config.BackendPostgres {
				return noSchema(a.cfg.Store.Backend)
			}
			if err := withMigrator(a, (*pgstore.Migrator).Down); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Store.Backend != config.BackendPostgres {
				return noSchema(a.cfg.Store.Backend)
			}
			return withMigrator(a, func(m *pgstore.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(a *app, fn func(*pgstore.Migrator) error) error {
	m, err := pgstore.NewMigrator(a.cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func noSchema(backend string) error {
	return oops.Code(ua.CodeValidation).
		With("backend", backend).
		Wrapf(ua.ErrValidation, "the %s backend has no migrations", backend)
}
