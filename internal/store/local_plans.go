package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"qfleet/internal/types"
)

// SavePlan upserts a plan, serializing the action list and the state
// snapshots as JSON.
func (s *LocalStore) SavePlan(ctx context.Context, p *types.Plan) error {
	if p == nil || p.ID == "" {
		return types.NewError(types.KindInvalidInput, "plan needs an id")
	}
	if len(p.Actions) == 0 {
		return types.NewError(types.KindInvalidInput, "plan %s has no actions", p.ID)
	}
	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return types.WrapError(types.KindInvalidInput, err, "encoding plan actions")
	}
	initial, err := json.Marshal(p.InitialState)
	if err != nil {
		return types.WrapError(types.KindInvalidInput, err, "encoding initial state")
	}
	goal, err := json.Marshal(p.GoalState)
	if err != nil {
		return types.WrapError(types.KindInvalidInput, err, "encoding goal state")
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO plans (id, goal_id, actions, total_cost, estimated_duration_ms,
			initial_state, goal_state, status, replanned_from, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		p.ID, p.GoalID, string(actions), p.TotalCost, p.EstimatedDurationMs,
		string(initial), string(goal), string(p.Status), p.ReplannedFrom,
		created.UnixMilli(), nullableMillis(p.StartedAt), nullableMillis(p.CompletedAt))
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "saving plan %s", p.ID)
	}
	return nil
}

// GetPlan fetches one plan by id.
func (s *LocalStore) GetPlan(ctx context.Context, id string) (*types.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, planSelect+` WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "plan %s", id)
	}
	return p, err
}

// QueryPlans lists plans newest-first.
func (s *LocalStore) QueryPlans(ctx context.Context, q PlanQuery) ([]*types.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(planSelect + ` WHERE 1=1`)
	var args []interface{}
	if q.GoalID != "" {
		sb.WriteString(" AND goal_id = ?")
		args = append(args, q.GoalID)
	}
	if q.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, string(q.Status))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "querying plans")
	}
	defer rows.Close()

	var out []*types.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordExecution appends an execution outcome and advances the plan's
// status to succeeded or failed.
func (s *LocalStore) RecordExecution(ctx context.Context, outcome types.ExecutionOutcome) error {
	if outcome.PlanID == "" {
		return types.NewError(types.KindInvalidInput, "execution outcome needs a plan id")
	}
	trace, err := json.Marshal(outcome.ExecutionTrace)
	if err != nil {
		return types.WrapError(types.KindInvalidInput, err, "encoding execution trace")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "begin execution record")
	}
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plan_executions (plan_id, success, actual_duration_ms, failure_reason, execution_trace, completed_actions, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		outcome.PlanID, boolToInt(outcome.Success), outcome.ActualDuration.Milliseconds(),
		outcome.FailureReason, string(trace), outcome.CompletedActions, now); err != nil {
		tx.Rollback()
		return types.WrapError(types.KindCorruptState, err, "recording execution for %s", outcome.PlanID)
	}
	status := types.PlanSucceeded
	if !outcome.Success {
		status = types.PlanFailed
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE plans SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), now, outcome.PlanID); err != nil {
		tx.Rollback()
		return types.WrapError(types.KindCorruptState, err, "updating plan %s status", outcome.PlanID)
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.KindCorruptState, err, "commit execution record")
	}
	return nil
}

const planSelect = `
	SELECT id, goal_id, actions, total_cost, estimated_duration_ms,
		initial_state, goal_state, status, replanned_from, created_at, started_at, completed_at
	FROM plans`

func scanPlan(row rowScanner) (*types.Plan, error) {
	var p types.Plan
	var actions, initial, goal, status string
	var created int64
	var started, completed sql.NullInt64
	if err := row.Scan(&p.ID, &p.GoalID, &actions, &p.TotalCost, &p.EstimatedDurationMs,
		&initial, &goal, &status, &p.ReplannedFrom, &created, &started, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, types.WrapError(types.KindCorruptState, err, "scanning plan")
	}
	if err := json.Unmarshal([]byte(actions), &p.Actions); err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "decoding plan actions")
	}
	if err := json.Unmarshal([]byte(initial), &p.InitialState); err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "decoding initial state")
	}
	if err := json.Unmarshal([]byte(goal), &p.GoalState); err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "decoding goal state")
	}
	p.Status = types.PlanStatus(status)
	p.CreatedAt = time.UnixMilli(created)
	if started.Valid {
		t := time.UnixMilli(started.Int64)
		p.StartedAt = &t
	}
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		p.CompletedAt = &t
	}
	return &p, nil
}

func nullableMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
