package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"qfleet/internal/logging"
	"qfleet/internal/types"
)

// migration is an ordered, idempotent schema change applied once per
// database. The base schema is created by createSchema; migrations only
// carry alterations for databases created by older builds.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "memory_entries team sharing columns",
		stmts: []string{
			// Pre-sharing databases lack these; ALTER fails harmlessly
			// when the column already exists and is filtered below.
			`ALTER TABLE memory_entries ADD COLUMN access_level TEXT NOT NULL DEFAULT 'owner'`,
			`ALTER TABLE memory_entries ADD COLUMN team_id TEXT NOT NULL DEFAULT ''`,
		},
	},
	{
		version: 2,
		name:    "plans replanned_from lineage",
		stmts: []string{
			`ALTER TABLE plans ADD COLUMN replanned_from TEXT NOT NULL DEFAULT ''`,
		},
	},
	{
		version: 3,
		name:    "sync_queue retries counter",
		stmts: []string{
			`ALTER TABLE sync_queue ADD COLUMN retries INTEGER NOT NULL DEFAULT 0`,
		},
	},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "reading migration history")
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return types.WrapError(types.KindCorruptState, err, "scanning migration history")
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return types.WrapError(types.KindCorruptState, err, "iterating migration history")
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				// Freshly created schemas already contain these columns.
				if isDuplicateColumn(err) {
					continue
				}
				return types.WrapError(types.KindCorruptState, err, "migration %d (%s) failed", m.version, m.name)
			}
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UnixMilli()); err != nil {
			return types.WrapError(types.KindCorruptState, err, "recording migration %d", m.version)
		}
		logging.Migrate("applied migration %d: %s", m.version, m.name)
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
