package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"qfleet/internal/types"
)

// StoreCodeChunk upserts one chunk.
func (s *LocalStore) StoreCodeChunk(ctx context.Context, c types.CodeChunk) error {
	return s.StoreCodeChunks(ctx, []types.CodeChunk{c})
}

// StoreCodeChunks upserts a batch in one transaction. Chunks arrive
// pre-chunked and pre-embedded; this layer only stores them.
func (s *LocalStore) StoreCodeChunks(ctx context.Context, chunks []types.CodeChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.KindCorruptState, err, "begin chunk batch")
	}
	for _, c := range chunks {
		if c.ProjectID == "" || c.FilePath == "" {
			tx.Rollback()
			return types.NewError(types.KindInvalidInput, "code chunk needs projectId and filePath")
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO code_chunks (id, project_id, file_path, start_line, end_line, content, language, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				project_id = excluded.project_id,
				file_path = excluded.file_path,
				start_line = excluded.start_line,
				end_line = excluded.end_line,
				content = excluded.content,
				language = excluded.language,
				embedding = excluded.embedding`,
			c.ID, c.ProjectID, c.FilePath, c.StartLine, c.EndLine, c.Content, c.Language,
			encodeEmbedding(c.Embedding)); err != nil {
			tx.Rollback()
			return types.WrapError(types.KindCorruptState, err, "storing code chunk %s", c.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.KindCorruptState, err, "commit chunk batch")
	}
	return nil
}

// QueryCodeChunks lists chunks by exact-match filters, ordered by file then
// start line.
func (s *LocalStore) QueryCodeChunks(ctx context.Context, q ChunkQuery) ([]types.CodeChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, project_id, file_path, start_line, end_line, content, language, embedding
		FROM code_chunks WHERE 1=1`)
	var args []interface{}
	if q.ProjectID != "" {
		sb.WriteString(" AND project_id = ?")
		args = append(args, q.ProjectID)
	}
	if q.FilePath != "" {
		sb.WriteString(" AND file_path = ?")
		args = append(args, q.FilePath)
	}
	if q.Language != "" {
		sb.WriteString(" AND language = ?")
		args = append(args, q.Language)
	}
	sb.WriteString(" ORDER BY file_path, start_line")
	sb.WriteString(limitClause(q.Limit))

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, types.WrapError(types.KindCorruptState, err, "querying code chunks")
	}
	defer rows.Close()

	var out []types.CodeChunk
	for rows.Next() {
		var c types.CodeChunk
		var emb []byte
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.FilePath, &c.StartLine, &c.EndLine, &c.Content, &c.Language, &emb); err != nil {
			return nil, types.WrapError(types.KindCorruptState, err, "scanning code chunk")
		}
		if c.Embedding, err = decodeEmbedding(emb); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchSimilarCode ranks chunks by cosine similarity against the query
// embedding. Without the vec extension this is a full scan; chunk counts in
// a single project stay small enough for that to be fine.
func (s *LocalStore) SearchSimilarCode(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredChunk, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "similarity search needs a query embedding")
	}
	chunks, err := s.QueryCodeChunks(ctx, ChunkQuery{ProjectID: opts.ProjectID})
	if err != nil {
		return nil, err
	}
	return rankChunks(chunks, embedding, opts), nil
}

// DeleteCodeChunksForFile removes every chunk of one file, the unit of
// re-indexing.
func (s *LocalStore) DeleteCodeChunksForFile(ctx context.Context, projectID, filePath string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	return execRowsAffected(ctx, db,
		`DELETE FROM code_chunks WHERE project_id = ? AND file_path = ?`, projectID, filePath)
}

// DeleteCodeChunksForProject removes a whole project's index.
func (s *LocalStore) DeleteCodeChunksForProject(ctx context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	return execRowsAffected(ctx, db,
		`DELETE FROM code_chunks WHERE project_id = ?`, projectID)
}
