package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/proglangs/breadbot/db"
)

func newMigrateCmd() *cobra.Command {
	var dsn string
	open := func() (*sql.DB, error) {
		if dsn == "" {
			cfg, err := loadConfig()
			if err != nil {
				return nil, err
			}
			dsn = cfg.DBDsn
		}
		return db.Open(dsn)
	}
	withDB := func(fn func(cmd *cobra.Command, conn *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			conn, err := open()
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = conn.Close() }()
			return fn(cmd, conn)
		}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DB_DSN)")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, conn *sql.DB) error {
				if err := db.RunMigrations(conn); err != nil {
					return err
				}
				return printVersion(cmd, conn)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, conn *sql.DB) error {
				if err := db.MigrateDown(conn); err != nil {
					return err
				}
				return printVersion(cmd, conn)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE:  withDB(printVersion),
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, conn *sql.DB) error {
	version, dirty, err := db.GetMigrationVersion(conn)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, state)
	return err
}
