package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema creates the manager table and its indexes if they do not
// exist. Called once at process startup; safe to re-run.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS manager (
			id                  TEXT PRIMARY KEY,
			flavor              TEXT NOT NULL,
			priority            INT NOT NULL DEFAULT 1,
			primary_path        TEXT NOT NULL DEFAULT '',
			secondary_path      TEXT NOT NULL DEFAULT '',
			params              TEXT NOT NULL DEFAULT '',
			model               TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL DEFAULT 'pending',
			result              TEXT NOT NULL DEFAULT '',
			error               TEXT NOT NULL DEFAULT '',
			webhook_retry_count INT NOT NULL DEFAULT 0,
			webhook_status_code INT NULL,
			itime               TIMESTAMPTZ NOT NULL,
			utime               TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS manager_status_itime_idx ON manager (status, itime)`,
		`CREATE INDEX IF NOT EXISTS manager_flavor_idx ON manager (flavor)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("op=schema.ensure: %w", err)
		}
	}
	return nil
}
