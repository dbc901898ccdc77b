package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pg "premium-subscription-gateway/internal/infra/db/postgres"
)

var migrateDatabaseURL string

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the embedded schema migrations.

The database URL is taken from --database-url, then DATABASE_URL, then the config file.

Examples:
  gateway migrate up
  gateway migrate down --steps 1
  gateway migrate status --database-url postgres://localhost/gateway`,
	}
	cmd.PersistentFlags().StringVar(&migrateDatabaseURL, "database-url", "", "postgres connection URL")

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: withMigrator(func(cmd *cobra.Command, mg *pg.Migrator) error {
			if err := mg.Down(steps); err != nil {
				return err
			}
			return printVersion(cmd, mg)
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(cmd *cobra.Command, mg *pg.Migrator) error {
				if err := mg.Up(); err != nil {
					return err
				}
				return printVersion(cmd, mg)
			}),
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			RunE: withMigrator(func(cmd *cobra.Command, mg *pg.Migrator) error {
				return printVersion(cmd, mg)
			}),
		},
	)
	return cmd
}

func withMigrator(fn func(cmd *cobra.Command, mg *pg.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		dsn, err := resolveDatabaseURL()
		if err != nil {
			return err
		}
		mg, err := pg.NewMigrator(dsn)
		if err != nil {
			return err
		}
		defer mg.Close()
		return fn(cmd, mg)
	}
}

func resolveDatabaseURL() (string, error) {
	if migrateDatabaseURL != "" {
		return migrateDatabaseURL, nil
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Database.URL, nil
}

func printVersion(cmd *cobra.Command, mg *pg.Migrator) error {
	v, dirty, ok, err := mg.Version()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case !ok:
		fmt.Fprintln(out, "schema: empty")
	case dirty:
		fmt.Fprintf(out, "schema: version %d (dirty, fix manually)\n", v)
	default:
		fmt.Fprintf(out, "schema: version %d\n", v)
	}
	return nil
}
