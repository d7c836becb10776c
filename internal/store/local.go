package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"qfleet/internal/logging"
	"qfleet/internal/types"
)

// LocalStore is the embedded SQLite provider. Writes acquire the write lock;
// reads share. SQLite serializes writers anyway, the mutex keeps our own
// multi-statement operations atomic with respect to each other.
type LocalStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewLocalStore returns an uninitialized local provider for the database at
// path. Call Initialize before use.
func NewLocalStore(path string) *LocalStore {
	return &LocalStore{path: path}
}

// Initialize opens the database, applies pragmas, creates the schema and
// runs pending migrations.
func (s *LocalStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "cannot create database directory %s", dir)
		}
	}

	db, err := sql.Open(sqliteDriverName, s.path)
	if err != nil {
		return types.WrapError(types.KindInvalidInput, err, "cannot open database %s", s.path)
	}
	// modernc's driver is not safe for concurrent writers on one connection
	// pool without serialization; one connection sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return types.WrapError(types.KindCorruptState, err, "pragma failed: %s", p)
		}
	}

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return err
	}

	s.db = db
	logging.Store("local store ready at %s (driver=%s vec=%v)", s.path, sqliteDriverName, vecExtension)
	return nil
}

// Shutdown closes the database. Safe to call twice.
func (s *LocalStore) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "closing local store")
	}
	return nil
}

// Info describes this provider.
func (s *LocalStore) Info() types.ProviderInfo {
	return types.ProviderInfo{
		Name:    "sqlite",
		Mode:    "local",
		Version: "1",
		Online:  true, // local storage is always reachable
	}
}

// conn returns the open handle or a typed error when the store is closed.
func (s *LocalStore) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, types.NewError(types.KindInvalidInput, "local store is not initialized")
	}
	return s.db, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			key         TEXT NOT NULL,
			partition   TEXT NOT NULL,
			value       TEXT NOT NULL,
			owner       TEXT NOT NULL DEFAULT '',
			access_level TEXT NOT NULL DEFAULT 'owner',
			team_id     TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			expires_at  INTEGER,
			PRIMARY KEY (key, partition)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_partition ON memory_entries(partition, created_at)`,

		`CREATE TABLE IF NOT EXISTS events (
			id        TEXT PRIMARY KEY,
			type      TEXT NOT NULL,
			payload   TEXT NOT NULL DEFAULT '',
			source    TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			ttl_ms    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events(type, timestamp)`,

		`CREATE TABLE IF NOT EXISTS quality_metrics (
			id          TEXT PRIMARY KEY,
			timestamp   INTEGER NOT NULL,
			agent_id    TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value       REAL NOT NULL,
			dimensions  TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_name_time ON quality_metrics(metric_name, timestamp)`,

		`CREATE TABLE IF NOT EXISTS aggregated_metrics (
			period_start INTEGER NOT NULL,
			period_end   INTEGER NOT NULL,
			agent_id     TEXT NOT NULL,
			metric_name  TEXT NOT NULL,
			sample_count INTEGER NOT NULL,
			sum          REAL NOT NULL,
			min          REAL NOT NULL,
			max          REAL NOT NULL,
			avg          REAL NOT NULL,
			PRIMARY KEY (period_start, period_end, agent_id, metric_name)
		)`,

		`CREATE TABLE IF NOT EXISTS code_chunks (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			file_path  TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line   INTEGER NOT NULL,
			content    TEXT NOT NULL,
			language   TEXT NOT NULL DEFAULT '',
			embedding  BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file ON code_chunks(project_id, file_path)`,

		`CREATE TABLE IF NOT EXISTS experiences (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			task_type  TEXT NOT NULL,
			outcome    TEXT NOT NULL DEFAULT '',
			reward     REAL NOT NULL DEFAULT 0,
			context    TEXT NOT NULL DEFAULT '',
			embedding  BLOB,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_experiences_agent ON experiences(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS patterns (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			confidence  REAL NOT NULL DEFAULT 0,
			occurrences INTEGER NOT NULL DEFAULT 0,
			embedding   BLOB,
			created_at  INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS agent_states (
			agent_id   TEXT PRIMARY KEY,
			blob       BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS plans (
			id            TEXT PRIMARY KEY,
			goal_id       TEXT NOT NULL,
			actions       TEXT NOT NULL,
			total_cost    REAL NOT NULL,
			estimated_duration_ms INTEGER NOT NULL,
			initial_state TEXT NOT NULL DEFAULT 'null',
			goal_state    TEXT NOT NULL DEFAULT 'null',
			status        TEXT NOT NULL,
			replanned_from TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			started_at    INTEGER,
			completed_at  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_goal ON plans(goal_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS plan_executions (
			plan_id           TEXT NOT NULL,
			success           INTEGER NOT NULL,
			actual_duration_ms INTEGER NOT NULL,
			failure_reason    TEXT NOT NULL DEFAULT '',
			execution_trace   TEXT NOT NULL DEFAULT '[]',
			completed_actions INTEGER NOT NULL DEFAULT 0,
			recorded_at       INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			id          TEXT PRIMARY KEY,
			op_type     TEXT NOT NULL,
			table_name  TEXT NOT NULL,
			record_id   TEXT NOT NULL,
			payload     BLOB,
			retries     INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_syncq_record ON sync_queue(table_name, record_id)`,

		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return types.WrapError(types.KindCorruptState, err, "schema creation failed")
		}
	}
	return nil
}

var _ Provider = (*LocalStore)(nil)

func execRowsAffected(ctx context.Context, db *sql.DB, query string, args ...interface{}) (int64, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, types.WrapError(types.KindCorruptState, err, "exec failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.WrapError(types.KindCorruptState, err, "rows affected")
	}
	return n, nil
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}
