package migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upMailAccountLinks, downMailAccountLinks)
}

func upMailAccountLinks(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mail_account_links (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			email_address TEXT NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expiry TIMESTAMP NULL,
			history_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			last_synced_at TIMESTAMP NULL,
			last_full_sync_at TIMESTAMP NULL,
			watch_expires_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mail_account_links_email ON mail_account_links(email_address)`,
		`CREATE INDEX IF NOT EXISTS idx_mail_account_links_status ON mail_account_links(status)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func downMailAccountLinks(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS mail_account_links`)
	return err
}
