package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"qfleet/internal/types"
)

// StoreMetric records one metric sample.
func (s *LocalStore) StoreMetric(ctx context.Context, m types.MetricRecord) error {
	return s.StoreMetrics(ctx, []types.MetricRecord{m})
}

// StoreMetrics records a batch of samples in one transaction.
func (s *LocalStore) StoreMetrics(ctx context.Context, metrics []types.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "begin metric batch")
	}
	for _, m := range metrics {
		if m.MetricName == "" {
			tx.Rollback()
			return types.NewError(types.KindInvalidInput, "metric needs a name")
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		dims := "{}"
		if len(m.Dimensions) > 0 {
			b, err := json.Marshal(m.Dimensions)
			if err != nil {
				tx.Rollback()
				return types.WrapError(types.KindInvalidInput, err, "encoding metric dimensions")
			}
			dims = string(b)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quality_metrics (id, timestamp, agent_id, metric_name, value, dimensions)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			m.ID, m.Timestamp.UnixMilli(), m.AgentID, m.MetricName, m.Value, dims); err != nil {
			tx.Rollback()
			return types.WrapError(types.KindCorruptState, err, "storing metric %s", m.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.KindCorruptState, err, "commit metric batch")
	}
	return nil
}

// QueryMetrics lists samples newest-first.
func (s *LocalStore) QueryMetrics(ctx context.Context, q MetricQuery) ([]types.MetricRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, timestamp, agent_id, metric_name, value, dimensions
		FROM quality_metrics WHERE 1=1`)
	var args []interface{}
	if q.AgentID != "" {
		sb.WriteString(" AND agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.MetricName != "" {
		sb.WriteString(" AND metric_name = ?")
		args = append(args, q.MetricName)
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
		return nil, types.WrapError(types.KindCorruptState, err, "querying metrics")
	}
	defer rows.Close()

	var out []types.MetricRecord
	for rows.Next() {
		var m types.MetricRecord
		var ts int64
		var dims string
		if err := rows.Scan(&m.ID, &ts, &m.AgentID, &m.MetricName, &m.Value, &dims); err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "scanning metric")
		}
		m.Timestamp = time.UnixMilli(ts)
		if dims != "" && dims != "{}" {
			if err := json.Unmarshal([]byte(dims), &m.Dimensions); err != nil {
				return nil, types.WrapError(types.KindCorruptState, err, "decoding metric dimensions")
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AggregateMetrics rolls samples in [periodStart, periodEnd) up per
// (agentID, metricName), persists the rollups and returns them.
func (s *LocalStore) AggregateMetrics(ctx context.Context, periodStart, periodEnd time.Time) ([]types.AggregatedMetric, error) {
	if !periodEnd.After(periodStart) {
		return nil, types.NewError(types.KindInvalidInput, "aggregation period end must be after start")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT agent_id, metric_name, COUNT(*), SUM(value), MIN(value), MAX(value), AVG(value)
		FROM quality_metrics
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY agent_id, metric_name
		ORDER BY agent_id, metric_name`,
		periodStart.UnixMilli(), periodEnd.UnixMilli())
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "aggregating metrics")
	}
	var out []types.AggregatedMetric
	for rows.Next() {
		a := types.AggregatedMetric{PeriodStart: periodStart, PeriodEnd: periodEnd}
		if err := rows.Scan(&a.AgentID, &a.MetricName, &a.Count, &a.Sum, &a.Min, &a.Max, &a.Avg); err != nil {
			rows.Close()
			return nil, types.WrapError(types.KindCorruptState, err, "scanning aggregate")
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "iterating aggregates")
	}

	for _, a := range out {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO aggregated_metrics (period_start, period_end, agent_id, metric_name, sample_count, sum, min, max, avg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(period_start, period_end, agent_id, metric_name) DO UPDATE SET
				sample_count = excluded.sample_count,
				sum = excluded.sum, min = excluded.min, max = excluded.max, avg = excluded.avg`,
			a.PeriodStart.UnixMilli(), a.PeriodEnd.UnixMilli(), a.AgentID, a.MetricName,
			a.Count, a.Sum, a.Min, a.Max, a.Avg); err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "persisting aggregate")
		}
	}
	return out, nil
}

// DeleteOldMetrics removes raw samples older than cutoff. Aggregates are
// kept; they are the long-term record.
func (s *LocalStore) DeleteOldMetrics(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	return execRowsAffected(ctx, db,
		`DELETE FROM quality_metrics WHERE timestamp < ?`, cutoff.UnixMilli())
}
