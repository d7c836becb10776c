package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"qfleet/internal/logging"
	"qfleet/internal/types"
)

// newEventID assigns record ids before the local write so the queued op and
// the local row agree.
func newEventID() string { return uuid.NewString() }

// Table names shared between the hybrid provider and the sync engine.
const (
	TableMemoryEntries = "memory_entries"
	TableEvents        = "events"
	TableMetrics       = "quality_metrics"
	TableCodeChunks    = "code_chunks"
	TableExperiences   = "experiences"
	TablePatterns      = "patterns"
	TableAgentStates   = "agent_states"
	TablePlans         = "plans"
)

// EnqueueFunc receives a mutation for eventual remote application. The sync
// engine installs itself here; until then mutations are dropped on the
// floor, which is correct for local-only operation.
type EnqueueFunc func(op types.SyncOp)

// HybridStore writes local-first and mirrors mutations to the remote via
// the sync queue. Reads are served from the local store, which is the
// source of truth; the remote is consulted only when the local store does
// not have the record.
type HybridStore struct {
	local   *LocalStore
	remote  *RemoteStore
	enqueue EnqueueFunc
}

// NewHybridStore composes a local and a remote provider.
func NewHybridStore(local *LocalStore, remote *RemoteStore) *HybridStore {
	return &HybridStore{local: local, remote: remote}
}

// Local exposes the local half for the sync engine's durable queue.
func (h *HybridStore) Local() *LocalStore { return h.local }

// Remote exposes the remote half for the sync engine's applier.
func (h *HybridStore) Remote() *RemoteStore { return h.remote }

// SetEnqueue installs the sync engine's enqueue hook.
func (h *HybridStore) SetEnqueue(fn EnqueueFunc) { h.enqueue = fn }

// Initialize brings up the local store, then attempts the remote. A
// failing remote leaves the hybrid in offline mode rather than failing
// initialization; the sync engine reconnects later.
func (h *HybridStore) Initialize(ctx context.Context) error {
	if err := h.local.Initialize(ctx); err != nil {
		return err
	}
	if err := h.remote.Initialize(ctx); err != nil {
		if types.IsKind(err, types.KindRemoteUnavailable) || types.IsKind(err, types.KindTimeout) {
			logging.Store("remote unavailable at startup, running offline: %v", err)
			return nil
		}
		return err
	}
	return nil
}

// Shutdown closes both halves. The local close error wins; remote close
// never fails meaningfully.
func (h *HybridStore) Shutdown(ctx context.Context) error {
	rerr := h.remote.Shutdown(ctx)
	lerr := h.local.Shutdown(ctx)
	if lerr != nil {
		return lerr
	}
	return rerr
}

// Info reports hybrid mode with the remote's current reachability.
func (h *HybridStore) Info() types.ProviderInfo {
	return types.ProviderInfo{
		Name:    "hybrid",
		Mode:    "hybrid",
		Version: "1",
		Online:  h.remote.Info().Online,
	}
}

func (h *HybridStore) push(opType types.SyncOpType, table, recordID string, record interface{}) {
	if h.enqueue == nil {
		return
	}
	var payload []byte
	if record != nil {
		b, err := json.Marshal(record)
		if err != nil {
			logging.SyncerError("cannot encode %s/%s for sync: %v", table, recordID, err)
			return
		}
		payload = b
	}
	h.enqueue(types.SyncOp{
		OpType:     opType,
		Table:      table,
		RecordID:   recordID,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	})
}

// memoryRecordID joins the composite key into a stable record id.
func memoryRecordID(key, partition string) string {
	return partition + "/" + key
}

// StoreMemoryEntry writes locally then queues the mirror write.
func (h *HybridStore) StoreMemoryEntry(ctx context.Context, e types.MemoryEntry) error {
	if err := h.local.StoreMemoryEntry(ctx, e); err != nil {
		return err
	}
	h.push(types.OpUpdate, TableMemoryEntries, memoryRecordID(e.Key, e.Partition), e)
	return nil
}

// StoreMemoryEntries writes the batch locally then queues each entry.
func (h *HybridStore) StoreMemoryEntries(ctx context.Context, entries []types.MemoryEntry) error {
	if err := h.local.StoreMemoryEntries(ctx, entries); err != nil {
		return err
	}
	for _, e := range entries {
		h.push(types.OpUpdate, TableMemoryEntries, memoryRecordID(e.Key, e.Partition), e)
	}
	return nil
}

// GetMemoryEntry reads locally; a miss falls through to the remote so team
// entries written elsewhere are visible.
func (h *HybridStore) GetMemoryEntry(ctx context.Context, key, partition string) (*types.MemoryEntry, error) {
	e, err := h.local.GetMemoryEntry(ctx, key, partition)
	if err == nil {
		return e, nil
	}
	if !types.IsKind(err, types.KindNotFound) || !h.remote.Info().Online {
		return nil, err
	}
	return h.remote.GetMemoryEntry(ctx, key, partition)
}

// QueryMemoryEntries serves from the local store.
func (h *HybridStore) QueryMemoryEntries(ctx context.Context, q MemoryQuery) ([]types.MemoryEntry, error) {
	return h.local.QueryMemoryEntries(ctx, q)
}

// DeleteMemoryEntries deletes locally and queues matching remote deletes.
func (h *HybridStore) DeleteMemoryEntries(ctx context.Context, keyPattern, partition string) (int64, error) {
	// Resolve the pattern before deleting so the remote gets concrete ids.
	matched, err := h.local.QueryMemoryEntries(ctx, MemoryQuery{Partition: partition})
	if err != nil {
		return 0, err
	}
	n, err := h.local.DeleteMemoryEntries(ctx, keyPattern, partition)
	if err != nil {
		return 0, err
	}
	like := globToLike(keyPattern)
	for _, e := range matched {
		if globMatch(like, e.Key) {
			h.push(types.OpDelete, TableMemoryEntries, memoryRecordID(e.Key, e.Partition), nil)
		}
	}
	return n, nil
}

// StoreEvent writes locally then queues.
func (h *HybridStore) StoreEvent(ctx context.Context, e types.EventRecord) error {
	return h.StoreEvents(ctx, []types.EventRecord{e})
}

// StoreEvents writes locally then queues each event.
func (h *HybridStore) StoreEvents(ctx context.Context, events []types.EventRecord) error {
	for i := range events {
		if events[i].ID == "" {
			// Assign here so local and remote agree on the id.
			events[i].ID = newEventID()
		}
	}
	if err := h.local.StoreEvents(ctx, events); err != nil {
		return err
	}
	for _, e := range events {
		h.push(types.OpInsert, TableEvents, e.ID, e)
	}
	return nil
}

// QueryEvents serves from the local store.
func (h *HybridStore) QueryEvents(ctx context.Context, q EventQuery) ([]types.EventRecord, error) {
	return h.local.QueryEvents(ctx, q)
}

// DeleteOldEvents prunes locally only. Remote retention is the remote's
// own policy; queued deletes for thousands of lapsed events would swamp
// the sync queue.
func (h *HybridStore) DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return h.local.DeleteOldEvents(ctx, cutoff)
}

// StoreMetric writes locally then queues.
func (h *HybridStore) StoreMetric(ctx context.Context, m types.MetricRecord) error {
	return h.StoreMetrics(ctx, []types.MetricRecord{m})
}

// StoreMetrics writes locally then queues each sample.
func (h *HybridStore) StoreMetrics(ctx context.Context, metrics []types.MetricRecord) error {
	for i := range metrics {
		if metrics[i].ID == "" {
			metrics[i].ID = newEventID()
		}
	}
	if err := h.local.StoreMetrics(ctx, metrics); err != nil {
		return err
	}
	for _, m := range metrics {
		h.push(types.OpInsert, TableMetrics, m.ID, m)
	}
	return nil
}

// QueryMetrics serves from the local store.
func (h *HybridStore) QueryMetrics(ctx context.Context, q MetricQuery) ([]types.MetricRecord, error) {
	return h.local.QueryMetrics(ctx, q)
}

// AggregateMetrics aggregates locally.
func (h *HybridStore) AggregateMetrics(ctx context.Context, periodStart, periodEnd time.Time) ([]types.AggregatedMetric, error) {
	return h.local.AggregateMetrics(ctx, periodStart, periodEnd)
}

// DeleteOldMetrics prunes locally only, like events.
func (h *HybridStore) DeleteOldMetrics(ctx context.Context, cutoff time.Time) (int64, error) {
	return h.local.DeleteOldMetrics(ctx, cutoff)
}

// StoreCodeChunk writes locally then queues.
func (h *HybridStore) StoreCodeChunk(ctx context.Context, c types.CodeChunk) error {
	return h.StoreCodeChunks(ctx, []types.CodeChunk{c})
}

// StoreCodeChunks writes locally then queues each chunk.
func (h *HybridStore) StoreCodeChunks(ctx context.Context, chunks []types.CodeChunk) error {
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = newEventID()
		}
	}
	if err := h.local.StoreCodeChunks(ctx, chunks); err != nil {
		return err
	}
	for _, c := range chunks {
		h.push(types.OpUpdate, TableCodeChunks, c.ID, c)
	}
	return nil
}

// QueryCodeChunks serves from the local store.
func (h *HybridStore) QueryCodeChunks(ctx context.Context, q ChunkQuery) ([]types.CodeChunk, error) {
	return h.local.QueryCodeChunks(ctx, q)
}

// SearchSimilarCode searches the local index.
func (h *HybridStore) SearchSimilarCode(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredChunk, error) {
	return h.local.SearchSimilarCode(ctx, embedding, opts)
}

// DeleteCodeChunksForFile deletes locally and queues the remote deletes.
func (h *HybridStore) DeleteCodeChunksForFile(ctx context.Context, projectID, filePath string) (int64, error) {
	chunks, err := h.local.QueryCodeChunks(ctx, ChunkQuery{ProjectID: projectID, FilePath: filePath})
	if err != nil {
		return 0, err
	}
	n, err := h.local.DeleteCodeChunksForFile(ctx, projectID, filePath)
	if err != nil {
		return 0, err
	}
	for _, c := range chunks {
		h.push(types.OpDelete, TableCodeChunks, c.ID, nil)
	}
	return n, nil
}

// DeleteCodeChunksForProject deletes locally and queues the remote deletes.
func (h *HybridStore) DeleteCodeChunksForProject(ctx context.Context, projectID string) (int64, error) {
	chunks, err := h.local.QueryCodeChunks(ctx, ChunkQuery{ProjectID: projectID})
	if err != nil {
		return 0, err
	}
	n, err := h.local.DeleteCodeChunksForProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	for _, c := range chunks {
		h.push(types.OpDelete, TableCodeChunks, c.ID, nil)
	}
	return n, nil
}

// StoreExperience writes locally then queues.
func (h *HybridStore) StoreExperience(ctx context.Context, e types.Experience) error {
	if e.ID == "" {
		e.ID = newEventID()
	}
	if err := h.local.StoreExperience(ctx, e); err != nil {
		return err
	}
	h.push(types.OpInsert, TableExperiences, e.ID, e)
	return nil
}

// QueryExperiences serves from the local store.
func (h *HybridStore) QueryExperiences(ctx context.Context, q ExperienceQuery) ([]types.Experience, error) {
	return h.local.QueryExperiences(ctx, q)
}

// SearchSimilarExperiences searches locally.
func (h *HybridStore) SearchSimilarExperiences(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredExperience, error) {
	return h.local.SearchSimilarExperiences(ctx, embedding, opts)
}

// StorePattern writes locally then queues.
func (h *HybridStore) StorePattern(ctx context.Context, p types.Pattern) error {
	if p.ID == "" {
		p.ID = newEventID()
	}
	if err := h.local.StorePattern(ctx, p); err != nil {
		return err
	}
	h.push(types.OpUpdate, TablePatterns, p.ID, p)
	return nil
}

// QueryPatterns serves from the local store.
func (h *HybridStore) QueryPatterns(ctx context.Context, q PatternQuery) ([]types.Pattern, error) {
	return h.local.QueryPatterns(ctx, q)
}

// SearchSimilarPatterns searches locally.
func (h *HybridStore) SearchSimilarPatterns(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredPattern, error) {
	return h.local.SearchSimilarPatterns(ctx, embedding, opts)
}

// SaveAgentState writes locally then queues.
func (h *HybridStore) SaveAgentState(ctx context.Context, agentID string, blob []byte) error {
	if err := h.local.SaveAgentState(ctx, agentID, blob); err != nil {
		return err
	}
	h.push(types.OpUpdate, TableAgentStates, agentID, json.RawMessage(blob))
	return nil
}

// LoadAgentState reads locally; remote state is never restored implicitly.
func (h *HybridStore) LoadAgentState(ctx context.Context, agentID string) ([]byte, error) {
	return h.local.LoadAgentState(ctx, agentID)
}

// DeleteAgentState deletes locally then queues.
func (h *HybridStore) DeleteAgentState(ctx context.Context, agentID string) error {
	if err := h.local.DeleteAgentState(ctx, agentID); err != nil {
		return err
	}
	h.push(types.OpDelete, TableAgentStates, agentID, nil)
	return nil
}

// ListAgentsWithState lists locally.
func (h *HybridStore) ListAgentsWithState(ctx context.Context) ([]string, error) {
	return h.local.ListAgentsWithState(ctx)
}

// SavePlan writes locally then queues.
func (h *HybridStore) SavePlan(ctx context.Context, p *types.Plan) error {
	if err := h.local.SavePlan(ctx, p); err != nil {
		return err
	}
	h.push(types.OpUpdate, TablePlans, p.ID, p)
	return nil
}

// GetPlan reads locally with a remote fallback on miss.
func (h *HybridStore) GetPlan(ctx context.Context, id string) (*types.Plan, error) {
	p, err := h.local.GetPlan(ctx, id)
	if err == nil {
		return p, nil
	}
	if !types.IsKind(err, types.KindNotFound) || !h.remote.Info().Online {
		return nil, err
	}
	return h.remote.GetPlan(ctx, id)
}

// QueryPlans serves from the local store.
func (h *HybridStore) QueryPlans(ctx context.Context, q PlanQuery) ([]*types.Plan, error) {
	return h.local.QueryPlans(ctx, q)
}

// RecordExecution records locally then queues the updated plan.
func (h *HybridStore) RecordExecution(ctx context.Context, outcome types.ExecutionOutcome) error {
	if err := h.local.RecordExecution(ctx, outcome); err != nil {
		return err
	}
	if p, err := h.local.GetPlan(ctx, outcome.PlanID); err == nil {
		h.push(types.OpUpdate, TablePlans, p.ID, p)
	}
	return nil
}

var _ Provider = (*HybridStore)(nil)

// globMatch applies the already-translated LIKE pattern in-process for
// delete fan-out. LIKE semantics over %, _ and backslash escapes.
func globMatch(like, s string) bool {
	return likeMatch(like, s)
}

func likeMatch(pattern, s string) bool {
	// Simple recursive matcher, pattern sizes here are tiny.
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatch(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	case '_':
		return s != "" && likeMatch(pattern[1:], s[1:])
	case '\\':
		if len(pattern) < 2 {
			return false
		}
		return s != "" && s[0] == pattern[1] && likeMatch(pattern[2:], s[1:])
	default:
		return s != "" && s[0] == pattern[0] && likeMatch(pattern[1:], s[1:])
	}
}
