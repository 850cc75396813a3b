package storage

import (
	"context"
	"fmt"
)

// migrationStatements is applied in order on startup. Statements are
// idempotent so repeated boots against the same database are safe.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		push_token TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS devices_owner_idx ON devices (owner_id)`,
	`CREATE TABLE IF NOT EXISTS media (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		path TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		era TEXT NOT NULL,
		locket TEXT NOT NULL,
		links TEXT[] NOT NULL DEFAULT '{}',
		emotions TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS media_owner_era_idx ON media (owner_id, era)`,
	`CREATE TABLE IF NOT EXISTS view_events (
		id TEXT PRIMARY KEY,
		media_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS view_events_user_idx ON view_events (user_id)`,
}

func (r *PostgresRepository) migrate(ctx context.Context) error {
	for _, stmt := range migrationStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
