package audit

import (
	"context"
	"fmt"
)

type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{
		version: 1,
		name:    "routing_decisions",
		up: `
			CREATE TABLE IF NOT EXISTS routing_decisions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				query_hash TEXT NOT NULL,
				at_ms INTEGER NOT NULL,
				kind TEXT NOT NULL,
				stage TEXT NOT NULL DEFAULT '',
				collection_id TEXT NOT NULL DEFAULT '',
				document_id TEXT NOT NULL DEFAULT '',
				score REAL NOT NULL DEFAULT 0,
				level TEXT NOT NULL DEFAULT '',
				source TEXT NOT NULL DEFAULT '',
				overridden INTEGER NOT NULL DEFAULT 0,
				degraded TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_routing_decisions_at ON routing_decisions(at_ms DESC);
			CREATE INDEX IF NOT EXISTS idx_routing_decisions_session ON routing_decisions(session_id);
		`,
	},
	{
		version: 2,
		name:    "trust_applied",
		up:      `ALTER TABLE routing_decisions ADD COLUMN trust_applied INTEGER NOT NULL DEFAULT 0;`,
	},
}

func (a *SQLiteAuditLog) runMigrations(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return err
	}

	var version int
	if err := a.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		a.logger.Info(module, "Running audit migration", map[string]interface{}{"version": m.version, "name": m.name})
		if _, err := a.db.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := a.db.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			return err
		}
	}
	return nil
}
