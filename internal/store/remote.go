package store

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"qfleet/internal/logging"
	"qfleet/internal/types"
)

// RemoteStore is the Postgres provider. It mirrors the local schema with
// Postgres types and maps driver failures onto the shared error taxonomy so
// the sync engine can branch on kinds.
type RemoteStore struct {
	pool   *pgxpool.Pool
	url    string
	online atomic.Bool
}

// NewRemoteStore returns an uninitialized remote provider for the given
// connection URL. Call Initialize before use.
func NewRemoteStore(url string) *RemoteStore {
	return &RemoteStore{url: url}
}

// Initialize connects, pings and creates the schema.
func (r *RemoteStore) Initialize(ctx context.Context) error {
	if r.url == "" {
		return types.NewError(types.KindInvalidInput, "remote store needs a connection URL")
	}
	if r.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, r.url)
	if err != nil {
		return types.WrapError(types.KindInvalidInput, err, "invalid remote connection config")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return mapRemoteError(err, "remote store unreachable")
	}
	if err := createRemoteSchema(ctx, pool); err != nil {
		pool.Close()
		return err
	}
	r.pool = pool
	r.online.Store(true)
	logging.Store("remote store ready")
	return nil
}

// Shutdown closes the pool.
func (r *RemoteStore) Shutdown(ctx context.Context) error {
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.online.Store(false)
	return nil
}

// Info describes this provider, including current reachability.
func (r *RemoteStore) Info() types.ProviderInfo {
	return types.ProviderInfo{
		Name:    "postgres",
		Mode:    "remote",
		Version: "1",
		Online:  r.online.Load(),
	}
}

// Ping probes connectivity and records the result.
func (r *RemoteStore) Ping(ctx context.Context) error {
	if r.pool == nil {
		return types.NewError(types.KindInvalidInput, "remote store is not initialized")
	}
	if err := r.pool.Ping(ctx); err != nil {
		r.online.Store(false)
		return mapRemoteError(err, "ping failed")
	}
	r.online.Store(true)
	return nil
}

func (r *RemoteStore) conn() (*pgxpool.Pool, error) {
	if r.pool == nil {
		return nil, types.NewError(types.KindInvalidInput, "remote store is not initialized")
	}
	return r.pool, nil
}

// mapRemoteError translates pgx failures into the shared taxonomy. Unique
// violations become duplicates, serialization failures become conflicts and
// transport problems become remote_unavailable.
func mapRemoteError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return types.WrapError(types.KindCancelled, err, "%s", msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.WrapError(types.KindTimeout, err, "%s", msg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return types.WrapError(types.KindDuplicate, err, "%s", msg)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return types.WrapError(types.KindConflict, err, "%s", msg)
		case "57P01", "57P02", "57P03", "53300": // server shutting down / too many connections
			return types.WrapError(types.KindRemoteUnavailable, err, "%s", msg)
		}
		return types.WrapError(types.KindCorruptState, err, "%s", msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return types.WrapError(types.KindRemoteUnavailable, err, "%s", msg)
	}
	return types.WrapError(types.KindRemoteUnavailable, err, "%s", msg)
}

// fail records lost connectivity for transport-level errors and returns the
// mapped error.
func (r *RemoteStore) fail(err error, msg string) error {
	mapped := mapRemoteError(err, msg)
	if types.IsKind(mapped, types.KindRemoteUnavailable) {
		r.online.Store(false)
	}
	return mapped
}

func createRemoteSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_entries (
			key          TEXT NOT NULL,
			partition    TEXT NOT NULL,
			value        TEXT NOT NULL,
			owner        TEXT NOT NULL DEFAULT '',
			access_level TEXT NOT NULL DEFAULT 'owner',
			team_id      TEXT NOT NULL DEFAULT '',
			created_at   BIGINT NOT NULL,
			expires_at   BIGINT,
			PRIMARY KEY (key, partition)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id        TEXT PRIMARY KEY,
			type      TEXT NOT NULL,
			payload   TEXT NOT NULL DEFAULT '',
			source    TEXT NOT NULL DEFAULT '',
			timestamp BIGINT NOT NULL,
			ttl_ms    BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS quality_metrics (
			id          TEXT PRIMARY KEY,
			timestamp   BIGINT NOT NULL,
			agent_id    TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value       DOUBLE PRECISION NOT NULL,
			dimensions  TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS aggregated_metrics (
			period_start BIGINT NOT NULL,
			period_end   BIGINT NOT NULL,
			agent_id     TEXT NOT NULL,
			metric_name  TEXT NOT NULL,
			sample_count BIGINT NOT NULL,
			sum DOUBLE PRECISION NOT NULL,
			min DOUBLE PRECISION NOT NULL,
			max DOUBLE PRECISION NOT NULL,
			avg DOUBLE PRECISION NOT NULL,
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
			embedding  BYTEA
		)`,
		`CREATE TABLE IF NOT EXISTS experiences (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			task_type  TEXT NOT NULL,
			outcome    TEXT NOT NULL DEFAULT '',
			reward     DOUBLE PRECISION NOT NULL DEFAULT 0,
			context    TEXT NOT NULL DEFAULT '',
			embedding  BYTEA,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
			occurrences INTEGER NOT NULL DEFAULT 0,
			embedding   BYTEA,
			created_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_states (
			agent_id   TEXT PRIMARY KEY,
			blob       BYTEA NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id             TEXT PRIMARY KEY,
			goal_id        TEXT NOT NULL,
			actions        TEXT NOT NULL,
			total_cost     DOUBLE PRECISION NOT NULL,
			estimated_duration_ms BIGINT NOT NULL,
			initial_state  TEXT NOT NULL DEFAULT 'null',
			goal_state     TEXT NOT NULL DEFAULT 'null',
			status         TEXT NOT NULL,
			replanned_from TEXT NOT NULL DEFAULT '',
			created_at     BIGINT NOT NULL,
			started_at     BIGINT,
			completed_at   BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS plan_executions (
			plan_id            TEXT NOT NULL,
			success            BOOLEAN NOT NULL,
			actual_duration_ms BIGINT NOT NULL,
			failure_reason     TEXT NOT NULL DEFAULT '',
			execution_trace    TEXT NOT NULL DEFAULT '[]',
			completed_actions  INTEGER NOT NULL DEFAULT 0,
			recorded_at        BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return mapRemoteError(err, "remote schema creation failed")
		}
	}
	return nil
}

var _ Provider = (*RemoteStore)(nil)
