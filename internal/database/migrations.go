package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name: "create kv_settings",
		sql: `CREATE TABLE IF NOT EXISTS kv_settings (
			key        text PRIMARY KEY,
			value      text NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		check: `SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'kv_settings')`,
	},
	{
		name: "create transcription_jobs",
		sql: `CREATE TABLE IF NOT EXISTS transcription_jobs (
			id           text PRIMARY KEY,
			model        text NOT NULL DEFAULT '',
			audio        text NOT NULL DEFAULT '',
			source       text NOT NULL DEFAULT '',
			status       text NOT NULL,
			phase        text NOT NULL DEFAULT '',
			progress     int NOT NULL DEFAULT 0,
			result       jsonb,
			error        text NOT NULL DEFAULT '',
			error_kind   text NOT NULL DEFAULT '',
			submitted_at timestamptz NOT NULL,
			started_at   timestamptz,
			finished_at  timestamptz
		)`,
		check: `SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'transcription_jobs')`,
	},
	{
		name:  "add transcription_jobs submitted_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_transcription_jobs_submitted ON transcription_jobs (submitted_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_transcription_jobs_submitted')`,
	},
	{
		name:  "add transcription_jobs.transcript",
		sql:   `ALTER TABLE transcription_jobs ADD COLUMN IF NOT EXISTS transcript text NOT NULL DEFAULT ''`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'transcription_jobs' AND column_name = 'transcript')`,
	},
	{
		name:  "add transcription_jobs full-text index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_transcription_jobs_fts ON transcription_jobs USING gin (to_tsvector('simple', transcript))`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_transcription_jobs_fts')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. If the apply fails (e.g. insufficient
// privileges), the error is returned and the caller should treat this as fatal
// since the job and settings queries depend on these tables.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	// Try to apply each pending migration
	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart meetscribe.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
