package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

var migrations = []string{
	`CREATE TABLE publish_jobs (
    job_id UUID PRIMARY KEY,
    channel_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    source_ref TEXT NOT NULL,
    thumbnail_ref TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    category_id TEXT NOT NULL DEFAULT '',
    made_for_kids BOOLEAN NOT NULL DEFAULT FALSE,
    state TEXT NOT NULL,
    provider_video_id TEXT NOT NULL DEFAULT '',
    scheduled_at TIMESTAMPTZ NOT NULL,
    published_late BOOLEAN NOT NULL DEFAULT FALSE,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX publish_jobs_state_idx ON publish_jobs (state)`,
	`CREATE INDEX publish_jobs_channel_idx ON publish_jobs (channel_id, created_at DESC)`,
	`CREATE TABLE channel_credentials (
    channel_id TEXT PRIMARY KEY,
    channel_name TEXT NOT NULL DEFAULT '',
    client_id TEXT NOT NULL,
    client_secret TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
}

// Migrate applies any migrations that have not been run yet. Applied
// statements are recorded in a registry table and compared by position, so
// the list is append-only.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migration
("id" SERIAL PRIMARY KEY, "query" TEXT)`); err != nil {
		return fmt.Errorf("failed to create migration registry: %w", err)
	}

	var existing []string
	if err := db.Select(&existing, `SELECT query FROM schema_migration ORDER BY id`); err != nil {
		return fmt.Errorf("failed to read migration registry: %w", err)
	}

	if len(existing) > len(migrations) {
		return fmt.Errorf("migration registry has %d entries, expected at most %d", len(existing), len(migrations))
	}

	for i, want := range migrations {
		if i < len(existing) {
			if existing[i] != want {
				return fmt.Errorf("migration %d diverged from registry", i)
			}
			continue
		}
		if _, err := db.Exec(want); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migration (query) VALUES ($1)`, want); err != nil {
			return fmt.Errorf("failed to register migration %d: %w", i, err)
		}
	}

	return nil
}
