package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/habit-tracker/internal/config"
	"github.com/iliyamo/habit-tracker/internal/database"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the MySQL kv schema",
		Long:  `Run all pending migrations against the MySQL database named by DB_*.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.DB.User == "" || cfg.DB.Name == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DB_USER and DB_NAME are required")
	}

	cmd.Println("Running migrations...")
	dsn := database.DSN(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	if err := database.Migrate(dsn); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
