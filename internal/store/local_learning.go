package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"qfleet/internal/types"
)

// StoreExperience records one learning experience.
func (s *LocalStore) StoreExperience(ctx context.Context, e types.Experience) error {
	if e.AgentID == "" || e.TaskType == "" {
		return types.NewError(types.KindInvalidInput, "experience needs agentId and taskType")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO experiences (id, agent_id, task_type, outcome, reward, context, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			reward = excluded.reward,
			context = excluded.context,
			embedding = excluded.embedding`,
		e.ID, e.AgentID, e.TaskType, e.Outcome, e.Reward, e.Context,
		encodeEmbedding(e.Embedding), e.CreatedAt.UnixMilli())
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "storing experience %s", e.ID)
	}
	return nil
}

// QueryExperiences lists experiences newest-first.
func (s *LocalStore) QueryExperiences(ctx context.Context, q ExperienceQuery) ([]types.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, agent_id, task_type, outcome, reward, context, embedding, created_at
		FROM experiences WHERE 1=1`)
	var args []interface{}
	if q.AgentID != "" {
		sb.WriteString(" AND agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.TaskType != "" {
		sb.WriteString(" AND task_type = ?")
		args = append(args, q.TaskType)
	}
	sb.WriteString(" ORDER BY created_at DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "querying experiences")
	}
	defer rows.Close()

	var out []types.Experience
	for rows.Next() {
		var e types.Experience
		var emb []byte
		var created int64
		if err := rows.Scan(&e.ID, &e.AgentID, &e.TaskType, &e.Outcome, &e.Reward, &e.Context, &emb, &created); err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "scanning experience")
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
func (s *LocalStore) SearchSimilarExperiences(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredExperience, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "similarity search needs a query embedding")
	}
	all, err := s.QueryExperiences(ctx, ExperienceQuery{})
	if err != nil {
		return nil, err
	}
	return rankExperiences(all, embedding, opts), nil
}

// StorePattern upserts a learned pattern by ID.
func (s *LocalStore) StorePattern(ctx context.Context, p types.Pattern) error {
	if p.Name == "" {
		return types.NewError(types.KindInvalidInput, "pattern needs a name")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO patterns (id, name, description, confidence, occurrences, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			confidence = excluded.confidence,
			occurrences = excluded.occurrences,
			embedding = excluded.embedding`,
		p.ID, p.Name, p.Description, p.Confidence, p.Occurrences,
		encodeEmbedding(p.Embedding), p.CreatedAt.UnixMilli())
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "storing pattern %s", p.ID)
	}
	return nil
}

// QueryPatterns lists patterns by confidence descending.
func (s *LocalStore) QueryPatterns(ctx context.Context, q PatternQuery) ([]types.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, name, description, confidence, occurrences, embedding, created_at
		FROM patterns WHERE confidence >= ?`)
	args := []interface{}{q.MinConfidence}
	if q.Name != "" {
		sb.WriteString(" AND name = ?")
		args = append(args, q.Name)
	}
	sb.WriteString(" ORDER BY confidence DESC, created_at DESC")
	sb.WriteString(limitClause(q.Limit))

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "querying patterns")
	}
	defer rows.Close()

	var out []types.Pattern
	for rows.Next() {
		var p types.Pattern
		var emb []byte
		var created int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Confidence, &p.Occurrences, &emb, &created); err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "scanning pattern")
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
func (s *LocalStore) SearchSimilarPatterns(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredPattern, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "similarity search needs a query embedding")
	}
	all, err := s.QueryPatterns(ctx, PatternQuery{})
	if err != nil {
		return nil, err
	}
	return rankPatterns(all, embedding, opts), nil
}
