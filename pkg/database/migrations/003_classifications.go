package migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upClassifications, downClassifications)
}

// The (user_id, message_id) unique constraint is what makes concurrent
// syncs of the same mailbox safe.
func upClassifications(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS message_classifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			message_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			snippet TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			confidence DOUBLE PRECISION NOT NULL,
			rationale TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			is_starred BOOLEAN NOT NULL DEFAULT FALSE,
			replied_at TIMESTAMP NULL,
			received_at TIMESTAMP NULL,
			classified_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			CONSTRAINT uq_message_classifications_user_message UNIQUE (user_id, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_classifications_user_classified
			ON message_classifications(user_id, classified_at)`,
		`CREATE INDEX IF NOT EXISTS idx_message_classifications_user_category
			ON message_classifications(user_id, category)`,
		`CREATE TABLE IF NOT EXISTS deals (
			id TEXT PRIMARY KEY,
			classification_id TEXT NOT NULL UNIQUE REFERENCES message_classifications(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			founder_name TEXT NOT NULL DEFAULT '',
			founder_email TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			deck_url TEXT NOT NULL DEFAULT '',
			has_pdf BOOLEAN NOT NULL DEFAULT FALSE,
			stage TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL DEFAULT 0,
			score_rationale TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deals_user ON deals(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func downClassifications(tx *sql.Tx) error {
	stmts := []string{
		`DROP TABLE IF EXISTS deals`,
		`DROP TABLE IF EXISTS message_classifications`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
