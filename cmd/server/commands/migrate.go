package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zirpo/pm-backend/internal/config"
	"github.com/zirpo/pm-backend/internal/repository"
	"github.com/zirpo/pm-backend/pkg/db"
	"github.com/zirpo/pm-backend/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema (idempotent)",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires store.driver %q, got %q", config.StoreDriverPostgres, cfg.Store.Driver)
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	pool, err := db.NewConnection(cmd.Context(), cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.Migrate(cmd.Context(), pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	log.Info("Database schema applied", zap.String("db", cfg.DB.Name))
	return nil
}
