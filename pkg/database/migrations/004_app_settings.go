package migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upAppSettings, downAppSettings)
}

func upAppSettings(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS app_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	return err
}

func downAppSettings(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS app_settings`)
	return err
}
