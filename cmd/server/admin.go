package main

// File: cmd/server/admin.go
// Purpose: migrate and health subcommands.

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"perf-api-go/internal/db"
)

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the MySQL schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			store, err := db.New(cfg.DSN())
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("schema applied", zap.String("database", cfg.MySQLDB))
			return nil
		},
	}
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the health report; exits non-zero when the database is unreachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer a.close()

			report := a.runs.Health(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Database != "ok" {
				return fmt.Errorf("database: %s", report.Database)
			}
			return nil
		},
	}
}
