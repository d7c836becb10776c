package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"qfleet/internal/types"
)

// StoreEvent appends one event. A missing ID or timestamp is filled in.
func (s *LocalStore) StoreEvent(ctx context.Context, e types.EventRecord) error {
	return s.StoreEvents(ctx, []types.EventRecord{e})
}

// StoreEvents appends a batch in one transaction.
func (s *LocalStore) StoreEvents(ctx context.Context, events []types.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "begin event batch")
	}
	for _, e := range events {
		if e.Type == "" {
			tx.Rollback()
			return types.NewError(types.KindInvalidInput, "event needs a type")
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, type, payload, source, timestamp, ttl_ms)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			e.ID, e.Type, e.Payload, e.Source, e.Timestamp.UnixMilli(), e.TTL.Milliseconds()); err != nil {
			tx.Rollback()
			return types.WrapError(types.KindCorruptState, err, "storing event %s", e.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.KindCorruptState, err, "commit event batch")
	}
	return nil
}

// QueryEvents lists events newest-first. Events past their TTL are filtered
// out; TTL zero means keep forever.
func (s *LocalStore) QueryEvents(ctx context.Context, q EventQuery) ([]types.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, type, payload, source, timestamp, ttl_ms
		FROM events
		WHERE (ttl_ms = 0 OR timestamp + ttl_ms > ?)`)
	args := []interface{}{time.Now().UnixMilli()}
	if q.Type != "" {
		sb.WriteString(" AND type = ?")
		args = append(args, q.Type)
	}
	if q.Source != "" {
		sb.WriteString(" AND source = ?")
		args = append(args, q.Source)
	}
	if !q.Since.IsZero() {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, q.Until.UnixMilli())
	}
	sb.WriteString(" ORDER BY timestamp DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "querying events")
	}
	defer rows.Close()

	var out []types.EventRecord
	for rows.Next() {
		var e types.EventRecord
		var ts, ttl int64
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload, &e.Source, &ts, &ttl); err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "scanning event")
		}
		e.Timestamp = time.UnixMilli(ts)
		e.TTL = time.Duration(ttl) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOldEvents removes events whose TTL has lapsed plus everything older
// than the cutoff, returning the count removed.
func (s *LocalStore) DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	return execRowsAffected(ctx, db, `
		DELETE FROM events
		WHERE timestamp < ?
		   OR (ttl_ms > 0 AND timestamp + ttl_ms <= ?)`,
		cutoff.UnixMilli(), time.Now().UnixMilli())
}
