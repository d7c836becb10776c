package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"qfleet/internal/types"
)

// The sync queue is local-only durability for the sync engine: queued ops
// survive a process restart and are replayed on startup. These methods live
// on LocalStore, not on Provider; remote stores have no queue.

// EnqueueSyncOp persists a pending op. Ops coalesce per (table, recordId):
// a newer op for the same record replaces the older one.
func (s *LocalStore) EnqueueSyncOp(ctx context.Context, op types.SyncOp) error {
	if op.Table == "" || op.RecordID == "" {
		return types.NewError(types.KindInvalidInput, "sync op needs table and recordId")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, op_type, table_name, record_id, payload, retries, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, record_id) DO UPDATE SET
			id = excluded.id,
			op_type = excluded.op_type,
			payload = excluded.payload,
			retries = 0,
			enqueued_at = excluded.enqueued_at`,
		op.ID, string(op.OpType), op.Table, op.RecordID, op.Payload, op.Retries,
		op.EnqueuedAt.UnixMilli())
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "enqueuing sync op for %s/%s", op.Table, op.RecordID)
	}
	return nil
}

// LoadSyncOps returns all pending ops oldest-first.
func (s *LocalStore) LoadSyncOps(ctx context.Context) ([]types.SyncOp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, op_type, table_name, record_id, payload, retries, enqueued_at
		FROM sync_queue ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "loading sync queue")
	}
	defer rows.Close()

	var out []types.SyncOp
	for rows.Next() {
		var op types.SyncOp
		var opType string
		var enq int64
		if err := rows.Scan(&op.ID, &opType, &op.Table, &op.RecordID, &op.Payload, &op.Retries, &enq); err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "scanning sync op")
		}
		op.OpType = types.SyncOpType(opType)
		op.EnqueuedAt = time.UnixMilli(enq)
		out = append(out, op)
	}
	return out, rows.Err()
}

// DeleteSyncOp removes a completed (or abandoned) op.
func (s *LocalStore) DeleteSyncOp(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = execRowsAffected(ctx, db, `DELETE FROM sync_queue WHERE id = ?`, id)
	return err
}

// UpdateSyncRetries persists the retry counter after a failed attempt.
func (s *LocalStore) UpdateSyncRetries(ctx context.Context, id string, retries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = execRowsAffected(ctx, db, `UPDATE sync_queue SET retries = ? WHERE id = ?`, retries, id)
	return err
}

// CountSyncOps reports queue depth.
func (s *LocalStore) CountSyncOps(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, types.WrapError(types.KindCorruptState, err, "counting sync queue")
	}
	return n, nil
}
