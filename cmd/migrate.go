package cmd

import (
	"dealdesk-backend/pkg/database"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var allowCapDecrease bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and record the retention cap",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&allowCapDecrease, "allow-cap-decrease", false, "Accept a retention cap lower than the recorded one")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := database.Migrate(db, "postgres"); err != nil {
		return err
	}
	if err := database.GuardRetentionCap(db, cfg.Retention.Cap, cfg.Retention.AllowDecrease || allowCapDecrease); err != nil {
		return err
	}
	log.Info().Int("retention_cap", cfg.Retention.Cap).Msg("database is up to date")
	return nil
}
