package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"qfleet/internal/types"
)

// StoreMemoryEntry upserts an entry remotely.
func (r *RemoteStore) StoreMemoryEntry(ctx context.Context, e types.MemoryEntry) error {
	return r.StoreMemoryEntries(ctx, []types.MemoryEntry{e})
}

// StoreMemoryEntries upserts a batch in one transaction.
func (r *RemoteStore) StoreMemoryEntries(ctx context.Context, entries []types.MemoryEntry) error {
	pool, err := r.conn()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return r.fail(err, "begin memory batch")
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if e.Key == "" || e.Partition == "" {
			return types.NewError(types.KindInvalidInput, "memory entry needs key and partition")
		}
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
		if _, err := tx.Exec(ctx, `
			INSERT INTO memory_entries (key, partition, value, owner, access_level, team_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (key, partition) DO UPDATE SET
				value = EXCLUDED.value,
				owner = EXCLUDED.owner,
				access_level = EXCLUDED.access_level,
				team_id = EXCLUDED.team_id,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at`,
			e.Key, e.Partition, e.Value, e.Owner, string(access), e.TeamID,
			created.UnixMilli(), expires); err != nil {
			return r.fail(err, fmt.Sprintf("storing memory entry %s/%s", e.Partition, e.Key))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return r.fail(err, "commit memory batch")
	}
	return nil
}

// GetMemoryEntry fetches one entry, treating expired rows as absent.
func (r *RemoteStore) GetMemoryEntry(ctx context.Context, key, partition string) (*types.MemoryEntry, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, `
		SELECT key, partition, value, owner, access_level, team_id, created_at, expires_at
		FROM memory_entries WHERE key = $1 AND partition = $2`, key, partition)

	var e types.MemoryEntry
	var access string
	var created int64
	var expires *int64
	if err := row.Scan(&e.Key, &e.Partition, &e.Value, &e.Owner, &access, &e.TeamID, &created, &expires); err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewError(types.KindNotFound, "memory entry %s/%s", partition, key)
		}
		return nil, r.fail(err, "reading memory entry")
	}
	e.AccessLevel = types.AccessLevel(access)
	e.CreatedAt = time.UnixMilli(created)
	if expires != nil {
		t := time.UnixMilli(*expires)
		e.ExpiresAt = &t
		if !t.After(time.Now()) {
			return nil, types.NewError(types.KindNotFound, "memory entry %s/%s expired", partition, key)
		}
	}
	return &e, nil
}

// QueryMemoryEntries lists entries newest-first, excluding expired rows.
func (r *RemoteStore) QueryMemoryEntries(ctx context.Context, q MemoryQuery) ([]types.MemoryEntry, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT key, partition, value, owner, access_level, team_id, created_at, expires_at
		FROM memory_entries
		WHERE (expires_at IS NULL OR expires_at > $1)`)
	args := []interface{}{time.Now().UnixMilli()}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if q.Partition != "" {
		add(" AND partition = $%d", q.Partition)
	}
	if q.Owner != "" {
		add(" AND owner = $%d", q.Owner)
	}
	if q.AccessLevel != "" {
		add(" AND access_level = $%d", string(q.AccessLevel))
	}
	if q.TeamID != "" {
		add(" AND team_id = $%d", q.TeamID)
	}
	sb.WriteString(" ORDER BY created_at DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, r.fail(err, "querying memory entries")
	}
	defer rows.Close()

	var out []types.MemoryEntry
	for rows.Next() {
		var e types.MemoryEntry
		var access string
		var created int64
		var expires *int64
		if err := rows.Scan(&e.Key, &e.Partition, &e.Value, &e.Owner, &access, &e.TeamID, &created, &expires); err != nil {
			return nil, r.fail(err, "scanning memory entry")
		}
		e.AccessLevel = types.AccessLevel(access)
		e.CreatedAt = time.UnixMilli(created)
		if expires != nil {
			t := time.UnixMilli(*expires)
			e.ExpiresAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteMemoryEntries removes entries matching a glob pattern within a
// partition.
func (r *RemoteStore) DeleteMemoryEntries(ctx context.Context, keyPattern, partition string) (int64, error) {
	if partition == "" {
		return 0, types.NewError(types.KindInvalidInput, "delete requires a partition")
	}
	pool, err := r.conn()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx,
		`DELETE FROM memory_entries WHERE partition = $1 AND key LIKE $2 ESCAPE '\'`,
		partition, globToLike(keyPattern))
	if err != nil {
		return 0, r.fail(err, "deleting memory entries")
	}
	return tag.RowsAffected(), nil
}

// StoreEvent appends one event.
func (r *RemoteStore) StoreEvent(ctx context.Context, e types.EventRecord) error {
	return r.StoreEvents(ctx, []types.EventRecord{e})
}

// StoreEvents appends a batch.
func (r *RemoteStore) StoreEvents(ctx context.Context, events []types.EventRecord) error {
	pool, err := r.conn()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return r.fail(err, "begin event batch")
	}
	defer tx.Rollback(ctx)

	for _, e := range events {
		if e.Type == "" {
			return types.NewError(types.KindInvalidInput, "event needs a type")
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO events (id, type, payload, source, timestamp, ttl_ms)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Type, e.Payload, e.Source, e.Timestamp.UnixMilli(), e.TTL.Milliseconds()); err != nil {
			return r.fail(err, fmt.Sprintf("storing event %s", e.ID))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return r.fail(err, "commit event batch")
	}
	return nil
}

// QueryEvents lists events newest-first, filtering lapsed TTLs.
func (r *RemoteStore) QueryEvents(ctx context.Context, q EventQuery) ([]types.EventRecord, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, type, payload, source, timestamp, ttl_ms
		FROM events
		WHERE (ttl_ms = 0 OR timestamp + ttl_ms > $1)`)
	args := []interface{}{time.Now().UnixMilli()}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if q.Type != "" {
		add(" AND type = $%d", q.Type)
	}
	if q.Source != "" {
		add(" AND source = $%d", q.Source)
	}
	if !q.Since.IsZero() {
		add(" AND timestamp >= $%d", q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		add(" AND timestamp <= $%d", q.Until.UnixMilli())
	}
	sb.WriteString(" ORDER BY timestamp DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, r.fail(err, "querying events")
	}
	defer rows.Close()

	var out []types.EventRecord
	for rows.Next() {
		var e types.EventRecord
		var ts, ttl int64
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload, &e.Source, &ts, &ttl); err != nil {
			return nil, r.fail(err, "scanning event")
		}
		e.Timestamp = time.UnixMilli(ts)
		e.TTL = time.Duration(ttl) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOldEvents removes lapsed and pre-cutoff events.
func (r *RemoteStore) DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := r.conn()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, `
		DELETE FROM events
		WHERE timestamp < $1
		   OR (ttl_ms > 0 AND timestamp + ttl_ms <= $2)`,
		cutoff.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return 0, r.fail(err, "deleting old events")
	}
	return tag.RowsAffected(), nil
}

// StoreMetric records one sample.
func (r *RemoteStore) StoreMetric(ctx context.Context, m types.MetricRecord) error {
	return r.StoreMetrics(ctx, []types.MetricRecord{m})
}

// StoreMetrics records a batch.
func (r *RemoteStore) StoreMetrics(ctx context.Context, metrics []types.MetricRecord) error {
	pool, err := r.conn()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return r.fail(err, "begin metric batch")
	}
	defer tx.Rollback(ctx)

	for _, m := range metrics {
		if m.MetricName == "" {
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
				return types.WrapError(types.KindInvalidInput, err, "encoding metric dimensions")
			}
			dims = string(b)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO quality_metrics (id, timestamp, agent_id, metric_name, value, dimensions)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.Timestamp.UnixMilli(), m.AgentID, m.MetricName, m.Value, dims); err != nil {
			return r.fail(err, fmt.Sprintf("storing metric %s", m.ID))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return r.fail(err, "commit metric batch")
	}
	return nil
}

// QueryMetrics lists samples newest-first.
func (r *RemoteStore) QueryMetrics(ctx context.Context, q MetricQuery) ([]types.MetricRecord, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, timestamp, agent_id, metric_name, value, dimensions
		FROM quality_metrics WHERE TRUE`)
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if q.AgentID != "" {
		add(" AND agent_id = $%d", q.AgentID)
	}
	if q.MetricName != "" {
		add(" AND metric_name = $%d", q.MetricName)
	}
	if !q.Since.IsZero() {
		add(" AND timestamp >= $%d", q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		add(" AND timestamp <= $%d", q.Until.UnixMilli())
	}
	sb.WriteString(" ORDER BY timestamp DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, r.fail(err, "querying metrics")
	}
	defer rows.Close()

	var out []types.MetricRecord
	for rows.Next() {
		var m types.MetricRecord
		var ts int64
		var dims string
		if err := rows.Scan(&m.ID, &ts, &m.AgentID, &m.MetricName, &m.Value, &dims); err != nil {
			return nil, r.fail(err, "scanning metric")
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

// AggregateMetrics rolls samples up per (agentID, metricName), persists and
// returns the rollups.
func (r *RemoteStore) AggregateMetrics(ctx context.Context, periodStart, periodEnd time.Time) ([]types.AggregatedMetric, error) {
	if !periodEnd.After(periodStart) {
		return nil, types.NewError(types.KindInvalidInput, "aggregation period end must be after start")
	}
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT agent_id, metric_name, COUNT(*), SUM(value), MIN(value), MAX(value), AVG(value)
		FROM quality_metrics
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY agent_id, metric_name
		ORDER BY agent_id, metric_name`,
		periodStart.UnixMilli(), periodEnd.UnixMilli())
	if err != nil {
		return nil, r.fail(err, "aggregating metrics")
	}
	var out []types.AggregatedMetric
	for rows.Next() {
		a := types.AggregatedMetric{PeriodStart: periodStart, PeriodEnd: periodEnd}
		if err := rows.Scan(&a.AgentID, &a.MetricName, &a.Count, &a.Sum, &a.Min, &a.Max, &a.Avg); err != nil {
			rows.Close()
			return nil, r.fail(err, "scanning aggregate")
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, r.fail(err, "iterating aggregates")
	}

	for _, a := range out {
		if _, err := pool.Exec(ctx, `
			INSERT INTO aggregated_metrics (period_start, period_end, agent_id, metric_name, sample_count, sum, min, max, avg)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (period_start, period_end, agent_id, metric_name) DO UPDATE SET
				sample_count = EXCLUDED.sample_count,
				sum = EXCLUDED.sum, min = EXCLUDED.min, max = EXCLUDED.max, avg = EXCLUDED.avg`,
			a.PeriodStart.UnixMilli(), a.PeriodEnd.UnixMilli(), a.AgentID, a.MetricName,
			a.Count, a.Sum, a.Min, a.Max, a.Avg); err != nil {
			return nil, r.fail(err, "persisting aggregate")
		}
	}
	return out, nil
}

// DeleteOldMetrics drops raw samples older than cutoff.
func (r *RemoteStore) DeleteOldMetrics(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := r.conn()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, `DELETE FROM quality_metrics WHERE timestamp < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, r.fail(err, "deleting old metrics")
	}
	return tag.RowsAffected(), nil
}

// StoreCodeChunk upserts one chunk.
func (r *RemoteStore) StoreCodeChunk(ctx context.Context, c types.CodeChunk) error {
	return r.StoreCodeChunks(ctx, []types.CodeChunk{c})
}

// StoreCodeChunks upserts a batch.
func (r *RemoteStore) StoreCodeChunks(ctx context.Context, chunks []types.CodeChunk) error {
	pool, err := r.conn()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return r.fail(err, "begin chunk batch")
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		if c.ProjectID == "" || c.FilePath == "" {
			return types.NewError(types.KindInvalidInput, "code chunk needs projectId and filePath")
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO code_chunks (id, project_id, file_path, start_line, end_line, content, language, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				project_id = EXCLUDED.project_id,
				file_path = EXCLUDED.file_path,
				start_line = EXCLUDED.start_line,
				end_line = EXCLUDED.end_line,
				content = EXCLUDED.content,
				language = EXCLUDED.language,
				embedding = EXCLUDED.embedding`,
			c.ID, c.ProjectID, c.FilePath, c.StartLine, c.EndLine, c.Content, c.Language,
			encodeEmbedding(c.Embedding)); err != nil {
			return r.fail(err, fmt.Sprintf("storing code chunk %s", c.ID))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return r.fail(err, "commit chunk batch")
	}
	return nil
}

// QueryCodeChunks lists chunks by exact-match filters.
func (r *RemoteStore) QueryCodeChunks(ctx context.Context, q ChunkQuery) ([]types.CodeChunk, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, project_id, file_path, start_line, end_line, content, language, embedding
		FROM code_chunks WHERE TRUE`)
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if q.ProjectID != "" {
		add(" AND project_id = $%d", q.ProjectID)
	}
	if q.FilePath != "" {
		add(" AND file_path = $%d", q.FilePath)
	}
	if q.Language != "" {
		add(" AND language = $%d", q.Language)
	}
	sb.WriteString(" ORDER BY file_path, start_line")
	sb.WriteString(limitClause(q.Limit))

	rows, err := pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, r.fail(err, "querying code chunks")
	}
	defer rows.Close()

	var out []types.CodeChunk
	for rows.Next() {
		var c types.CodeChunk
		var emb []byte
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.FilePath, &c.StartLine, &c.EndLine, &c.Content, &c.Language, &emb); err != nil {
			return nil, r.fail(err, "scanning code chunk")
		}
		if c.Embedding, err = decodeEmbedding(emb); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchSimilarCode ranks chunks by cosine similarity in-process.
func (r *RemoteStore) SearchSimilarCode(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredChunk, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "similarity search needs a query embedding")
	}
	chunks, err := r.QueryCodeChunks(ctx, ChunkQuery{ProjectID: opts.ProjectID})
	if err != nil {
		return nil, err
	}
	return rankChunks(chunks, embedding, opts), nil
}

// DeleteCodeChunksForFile removes one file's chunks.
func (r *RemoteStore) DeleteCodeChunksForFile(ctx context.Context, projectID, filePath string) (int64, error) {
	pool, err := r.conn()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx,
		`DELETE FROM code_chunks WHERE project_id = $1 AND file_path = $2`, projectID, filePath)
	if err != nil {
		return 0, r.fail(err, "deleting code chunks")
	}
	return tag.RowsAffected(), nil
}

// DeleteCodeChunk removes a single chunk by id. Used by the sync engine to
// mirror local deletes.
func (r *RemoteStore) DeleteCodeChunk(ctx context.Context, id string) error {
	pool, err := r.conn()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM code_chunks WHERE id = $1`, id); err != nil {
		return r.fail(err, "deleting code chunk")
	}
	return nil
}

// DeleteCodeChunksForProject removes a project's index.
func (r *RemoteStore) DeleteCodeChunksForProject(ctx context.Context, projectID string) (int64, error) {
	pool, err := r.conn()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, `DELETE FROM code_chunks WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, r.fail(err, "deleting project chunks")
	}
	return tag.RowsAffected(), nil
}

// StoreExperience records one experience.
func (r *RemoteStore) StoreExperience(ctx context.Context, e types.Experience) error {
	if e.AgentID == "" || e.TaskType == "" {
		return types.NewError(types.KindInvalidInput, "experience needs agentId and taskType")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	pool, err := r.conn()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO experiences (id, agent_id, task_type, outcome, reward, context, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			reward = EXCLUDED.reward,
			context = EXCLUDED.context,
			embedding = EXCLUDED.embedding`,
		e.ID, e.AgentID, e.TaskType, e.Outcome, e.Reward, e.Context,
		encodeEmbedding(e.Embedding), e.CreatedAt.UnixMilli()); err != nil {
		return r.fail(err, fmt.Sprintf("storing experience %s", e.ID))
	}
	return nil
}

// QueryExperiences lists experiences newest-first.
func (r *RemoteStore) QueryExperiences(ctx context.Context, q ExperienceQuery) ([]types.Experience, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, agent_id, task_type, outcome, reward, context, embedding, created_at
		FROM experiences WHERE TRUE`)
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		fmt.Fprintf(&sb, clause, len(args))
	}
	if q.AgentID != "" {
		add(" AND agent_id = $%d", q.AgentID)
	}
	if q.TaskType != "" {
		add(" AND task_type = $%d", q.TaskType)
	}
	sb.WriteString(" ORDER BY created_at DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, r.fail(err, "querying experiences")
	}
	defer rows.Close()

	var out []types.Experience
	for rows.Next() {
		var e types.Experience
		var emb []byte
		var created int64
		if err := rows.Scan(&e.ID, &e.AgentID, &e.TaskType, &e.Outcome, &e.Reward, &e.Context, &emb, &created); err != nil {
			return nil, r.fail(err, "scanning experience")
		}
		if e.Embedding, err = decodeEmbedding(emb); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SearchSimilarExperiences ranks experiences by cosine similarity.
func (r *RemoteStore) SearchSimilarExperiences(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredExperience, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "similarity search needs a query embedding")
	}
	all, err := r.QueryExperiences(ctx, ExperienceQuery{})
	if err != nil {
		return nil, err
	}
	return rankExperiences(all, embedding, opts), nil
}

// StorePattern upserts a pattern.
func (r *RemoteStore) StorePattern(ctx context.Context, p types.Pattern) error {
	if p.Name == "" {
		return types.NewError(types.KindInvalidInput, "pattern needs a name")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	pool, err := r.conn()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO patterns (id, name, description, confidence, occurrences, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			confidence = EXCLUDED.confidence,
			occurrences = EXCLUDED.occurrences,
			embedding = EXCLUDED.embedding`,
		p.ID, p.Name, p.Description, p.Confidence, p.Occurrences,
		encodeEmbedding(p.Embedding), p.CreatedAt.UnixMilli()); err != nil {
		return r.fail(err, fmt.Sprintf("storing pattern %s", p.ID))
	}
	return nil
}

// QueryPatterns lists patterns by confidence descending.
func (r *RemoteStore) QueryPatterns(ctx context.Context, q PatternQuery) ([]types.Pattern, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, name, description, confidence, occurrences, embedding, created_at
		FROM patterns WHERE confidence >= $1`)
	args := []interface{}{q.MinConfidence}
	if q.Name != "" {
		args = append(args, q.Name)
		fmt.Fprintf(&sb, " AND name = $%d", len(args))
	}
	sb.WriteString(" ORDER BY confidence DESC, created_at DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, r.fail(err, "querying patterns")
	}
	defer rows.Close()

	var out []types.Pattern
	for rows.Next() {
		var p types.Pattern
		var emb []byte
		var created int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Confidence, &p.Occurrences, &emb, &created); err != nil {
			return nil, r.fail(err, "scanning pattern")
		}
		if p.Embedding, err = decodeEmbedding(emb); err != nil {
			return nil, err
		}
		p.CreatedAt = time.UnixMilli(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SearchSimilarPatterns ranks patterns by cosine similarity.
func (r *RemoteStore) SearchSimilarPatterns(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredPattern, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "similarity search needs a query embedding")
	}
	all, err := r.QueryPatterns(ctx, PatternQuery{})
	if err != nil {
		return nil, err
	}
	return rankPatterns(all, embedding, opts), nil
}

// SaveAgentState upserts an agent's snapshot.
func (r *RemoteStore) SaveAgentState(ctx context.Context, agentID string, blob []byte) error {
	if agentID == "" {
		return types.NewError(types.KindInvalidInput, "agent state needs an agent id")
	}
	if !json.Valid(blob) {
		return types.NewError(types.KindInvalidInput, "agent state for %s is not valid JSON", agentID)
	}
	pool, err := r.conn()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO agent_states (agent_id, blob, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at`,
		agentID, blob, time.Now().UnixMilli()); err != nil {
		return r.fail(err, fmt.Sprintf("saving agent state for %s", agentID))
	}
	return nil
}

// LoadAgentState returns the stored snapshot.
func (r *RemoteStore) LoadAgentState(ctx context.Context, agentID string) ([]byte, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = pool.QueryRow(ctx, `SELECT blob FROM agent_states WHERE agent_id = $1`, agentID).Scan(&blob)
	if err == pgx.ErrNoRows {
		return nil, types.NewError(types.KindNotFound, "no stored state for agent %s", agentID)
	}
	if err != nil {
		return nil, r.fail(err, fmt.Sprintf("loading agent state for %s", agentID))
	}
	if !json.Valid(blob) {
		return nil, types.NewError(types.KindCorruptState, "stored state for agent %s is corrupt", agentID)
	}
	return blob, nil
}

// DeleteAgentState removes the snapshot, if any.
func (r *RemoteStore) DeleteAgentState(ctx context.Context, agentID string) error {
	pool, err := r.conn()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM agent_states WHERE agent_id = $1`, agentID); err != nil {
		return r.fail(err, "deleting agent state")
	}
	return nil
}

// ListAgentsWithState returns agent ids with stored snapshots, sorted.
func (r *RemoteStore) ListAgentsWithState(ctx context.Context) ([]string, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT agent_id FROM agent_states
		WHERE agent_id NOT LIKE '%' || $1
		ORDER BY agent_id`, quarantineSuffix)
	if err != nil {
		return nil, r.fail(err, "listing agent states")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, r.fail(err, "scanning agent id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SavePlan upserts a plan.
func (r *RemoteStore) SavePlan(ctx context.Context, p *types.Plan) error {
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
	pool, err := r.conn()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO plans (id, goal_id, actions, total_cost, estimated_duration_ms,
			initial_state, goal_state, status, replanned_from, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		p.ID, p.GoalID, string(actions), p.TotalCost, p.EstimatedDurationMs,
		string(initial), string(goal), string(p.Status), p.ReplannedFrom,
		created.UnixMilli(), nullableMillis(p.StartedAt), nullableMillis(p.CompletedAt)); err != nil {
		return r.fail(err, fmt.Sprintf("saving plan %s", p.ID))
	}
	return nil
}

// GetPlan fetches one plan.
func (r *RemoteStore) GetPlan(ctx context.Context, id string) (*types.Plan, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, remotePlanSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, r.fail(err, "reading plan")
	}
	plans, err := scanRemotePlans(rows)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, types.NewError(types.KindNotFound, "plan %s", id)
	}
	return plans[0], nil
}

// QueryPlans lists plans newest-first.
func (r *RemoteStore) QueryPlans(ctx context.Context, q PlanQuery) ([]*types.Plan, error) {
	pool, err := r.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(remotePlanSelect + ` WHERE TRUE`)
	var args []interface{}
	if q.GoalID != "" {
		args = append(args, q.GoalID)
		fmt.Fprintf(&sb, " AND goal_id = $%d", len(args))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, r.fail(err, "querying plans")
	}
	return scanRemotePlans(rows)
}

// RecordExecution appends an outcome and advances the plan status.
func (r *RemoteStore) RecordExecution(ctx context.Context, outcome types.ExecutionOutcome) error {
	if outcome.PlanID == "" {
		return types.NewError(types.KindInvalidInput, "execution outcome needs a plan id")
	}
	trace, err := json.Marshal(outcome.ExecutionTrace)
	if err != nil {
		return types.WrapError(types.KindInvalidInput, err, "encoding execution trace")
	}
	pool, err := r.conn()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return r.fail(err, "begin execution record")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(ctx, `
		INSERT INTO plan_executions (plan_id, success, actual_duration_ms, failure_reason, execution_trace, completed_actions, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		outcome.PlanID, outcome.Success, outcome.ActualDuration.Milliseconds(),
		outcome.FailureReason, string(trace), outcome.CompletedActions, now); err != nil {
		return r.fail(err, fmt.Sprintf("recording execution for %s", outcome.PlanID))
	}
	status := types.PlanSucceeded
	if !outcome.Success {
		status = types.PlanFailed
	}
	if _, err := tx.Exec(ctx,
		`UPDATE plans SET status = $1, completed_at = $2 WHERE id = $3`,
		string(status), now, outcome.PlanID); err != nil {
		return r.fail(err, fmt.Sprintf("updating plan %s status", outcome.PlanID))
	}
	if err := tx.Commit(ctx); err != nil {
		return r.fail(err, "commit execution record")
	}
	return nil
}

const remotePlanSelect = `
	SELECT id, goal_id, actions, total_cost, estimated_duration_ms,
		initial_state, goal_state, status, replanned_from, created_at, started_at, completed_at
	FROM plans`

func scanRemotePlans(rows pgx.Rows) ([]*types.Plan, error) {
	defer rows.Close()
	var out []*types.Plan
	for rows.Next() {
		var p types.Plan
		var actions, initial, goal, status string
		var created int64
		var started, completed *int64
		if err := rows.Scan(&p.ID, &p.GoalID, &actions, &p.TotalCost, &p.EstimatedDurationMs,
			&initial, &goal, &status, &p.ReplannedFrom, &created, &started, &completed); err != nil {
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
		if started != nil {
			t := time.UnixMilli(*started)
			p.StartedAt = &t
		}
		if completed != nil {
			t := time.UnixMilli(*completed)
			p.CompletedAt = &t
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
