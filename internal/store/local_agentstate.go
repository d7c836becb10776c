package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"qfleet/internal/logging"
	"qfleet/internal/types"
)

const quarantineSuffix = "_quarantine"

// SaveAgentState upserts the serialized nervous-system snapshot for an
// agent. The blob must be valid JSON; corruption is caught on write rather
// than poisoning a later restore.
func (s *LocalStore) SaveAgentState(ctx context.Context, agentID string, blob []byte) error {
	if agentID == "" {
		return types.NewError(types.KindInvalidInput, "agent state needs an agent id")
	}
	if !json.Valid(blob) {
		return types.NewError(types.KindInvalidInput, "agent state for %s is not valid JSON", agentID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO agent_states (agent_id, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		agentID, blob, time.Now().UnixMilli())
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "saving agent state for %s", agentID)
	}
	return nil
}

// LoadAgentState returns the stored snapshot. A snapshot that no longer
// parses as JSON is quarantined under a suffixed id so the agent restarts
// fresh instead of looping on a poisoned restore; the caller gets a
// corrupt-state error exactly once.
func (s *LocalStore) LoadAgentState(ctx context.Context, agentID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = db.QueryRowContext(ctx,
		`SELECT blob FROM agent_states WHERE agent_id = ?`, agentID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "no stored state for agent %s", agentID)
	}
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "loading agent state for %s", agentID)
	}
	if !json.Valid(blob) {
		if qerr := quarantineAgentState(ctx, db, agentID, blob); qerr != nil {
			logging.StoreError("quarantine of %s failed: %v", agentID, qerr)
		} else {
			logging.StoreError("quarantined corrupt state for agent %s", agentID)
		}
		return nil, types.NewError(types.KindCorruptState, "stored state for agent %s is corrupt", agentID)
	}
	return blob, nil
}

func quarantineAgentState(ctx context.Context, db *sql.DB, agentID string, blob []byte) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_states (agent_id, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		agentID+quarantineSuffix, blob, time.Now().UnixMilli()); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM agent_states WHERE agent_id = ?`, agentID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DeleteAgentState removes the stored snapshot, if any.
func (s *LocalStore) DeleteAgentState(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = execRowsAffected(ctx, db, `DELETE FROM agent_states WHERE agent_id = ?`, agentID)
	return err
}

// ListAgentsWithState returns agent ids with a stored snapshot, sorted,
// excluding quarantined entries.
func (s *LocalStore) ListAgentsWithState(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT agent_id FROM agent_states
		WHERE agent_id NOT LIKE '%' || ?
		ORDER BY agent_id`, quarantineSuffix)
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "listing agent states")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "scanning agent id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
