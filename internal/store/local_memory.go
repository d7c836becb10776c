package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"qfleet/internal/types"
)

// StoreMemoryEntry upserts an entry keyed by (key, partition). The write is
// visible to the next read on return.
func (s *LocalStore) StoreMemoryEntry(ctx context.Context, e types.MemoryEntry) error {
	if e.Key == "" || e.Partition == "" {
		return types.NewError(types.KindInvalidInput, "memory entry needs key and partition")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	return upsertMemoryEntry(ctx, db, e)
}

// StoreMemoryEntries upserts a batch in one transaction.
func (s *LocalStore) StoreMemoryEntries(ctx context.Context, entries []types.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "begin memory batch")
	}
	for _, e := range entries {
		if e.Key == "" || e.Partition == "" {
			tx.Rollback()
			return types.NewError(types.KindInvalidInput, "memory entry needs key and partition")
		}
		if err := upsertMemoryEntry(ctx, tx, e); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.KindCorruptState, err, "commit memory batch")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertMemoryEntry(ctx context.Context, db execer, e types.MemoryEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var expires interface{}
	if e.ExpiresAt != nil {
		expires = e.ExpiresAt.UnixMilli()
	}
	access := e.AccessLevel
	if access == "" {
		access = types.AccessOwner
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO memory_entries (key, partition, value, owner, access_level, team_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, partition) DO UPDATE SET
			value = excluded.value,
			owner = excluded.owner,
			access_level = excluded.access_level,
			team_id = excluded.team_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		e.Key, e.Partition, e.Value, e.Owner, string(access), e.TeamID,
		created.UnixMilli(), expires)
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "storing memory entry %s/%s", e.Partition, e.Key)
	}
	return nil
}

// GetMemoryEntry fetches one entry, treating expired entries as absent.
func (s *LocalStore) GetMemoryEntry(ctx context.Context, key, partition string) (*types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT key, partition, value, owner, access_level, team_id, created_at, expires_at
		FROM memory_entries WHERE key = ? AND partition = ?`, key, partition)
	e, err := scanMemoryEntry(row)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "memory entry %s/%s", partition, key)
	}
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "reading memory entry")
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(time.Now()) {
		return nil, types.NewError(types.KindNotFound, "memory entry %s/%s expired", partition, key)
	}
	return e, nil
}

// QueryMemoryEntries lists entries newest-first, excluding expired rows.
func (s *LocalStore) QueryMemoryEntries(ctx context.Context, q MemoryQuery) ([]types.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT key, partition, value, owner, access_level, team_id, created_at, expires_at
		FROM memory_entries
		WHERE (expires_at IS NULL OR expires_at > ?)`)
	args := []interface{}{time.Now().UnixMilli()}
	if q.Partition != "" {
		sb.WriteString(" AND partition = ?")
		args = append(args, q.Partition)
	}
	if q.Owner != "" {
		sb.WriteString(" AND owner = ?")
		args = append(args, q.Owner)
	}
	if q.AccessLevel != "" {
		sb.WriteString(" AND access_level = ?")
		args = append(args, string(q.AccessLevel))
	}
	if q.TeamID != "" {
		sb.WriteString(" AND team_id = ?")
		args = append(args, q.TeamID)
	}
	sb.WriteString(" ORDER BY created_at DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "querying memory entries")
	}
	defer rows.Close()

	var out []types.MemoryEntry
	for rows.Next() {
		e, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "scanning memory entry")
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// DeleteMemoryEntries removes entries matching a glob pattern (* and ?
// wildcards) within a partition and returns the count removed.
func (s *LocalStore) DeleteMemoryEntries(ctx context.Context, keyPattern, partition string) (int64, error) {
	if partition == "" {
		return 0, types.NewError(types.KindInvalidInput, "delete requires a partition")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	return execRowsAffected(ctx, db,
		`DELETE FROM memory_entries WHERE partition = ? AND key LIKE ? ESCAPE '\'`,
		partition, globToLike(keyPattern))
}

// PurgeExpiredMemory drops expired entries eagerly. Reads already filter
// them; this reclaims space.
func (s *LocalStore) PurgeExpiredMemory(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	return execRowsAffected(ctx, db,
		`DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UnixMilli())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemoryEntry(row rowScanner) (*types.MemoryEntry, error) {
	var e types.MemoryEntry
	var access string
	var created int64
	var expires sql.NullInt64
	if err := row.Scan(&e.Key, &e.Partition, &e.Value, &e.Owner, &access, &e.TeamID, &created, &expires); err != nil {
		return nil, err
	}
	e.AccessLevel = types.AccessLevel(access)
	e.CreatedAt = time.UnixMilli(created)
	if expires.Valid {
		t := time.UnixMilli(expires.Int64)
		e.ExpiresAt = &t
	}
	return &e, nil
}

// globToLike rewrites a glob pattern to a SQL LIKE pattern, escaping LIKE
// metacharacters in the literal parts.
func globToLike(pattern string) string {
	if pattern == "" {
		return "%"
	}
	var sb strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteByte('%')
		case '?':
			sb.WriteByte('_')
		case '%', '_', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
