package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ledgerSchemaVersion is the current expected ledger schema version.
const ledgerSchemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// ledgerMigrations are applied in order, each exactly once, tracked in the
// schema_version table.
var ledgerMigrations = []migration{
	{
		Version:     1,
		Description: "callback claims",
		SQL: `
		CREATE TABLE IF NOT EXISTS callback_claims (
			callback_id  TEXT PRIMARY KEY,
			chat_id      INTEGER NOT NULL,
			user_id      INTEGER NOT NULL,
			channel      TEXT NOT NULL,
			youtube_url  TEXT NOT NULL,
			claimed_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_callback_claims_time ON callback_claims(claimed_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: job id of the confirmed insert",
		SQL:         `ALTER TABLE callback_claims ADD COLUMN job_id TEXT NOT NULL DEFAULT '';`,
	},
}

// runMigrations brings db up to ledgerSchemaVersion.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  INTEGER NOT NULL DEFAULT (unixepoch())
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range ledgerMigrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying ledger migration", "version", m.Version, "description", m.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (version, description) VALUES (?, ?)`,
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
