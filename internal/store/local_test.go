package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qfleet/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s := NewLocalStore(filepath.Join(t.TempDir(), "qfleet.db"))
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func TestInitializeIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Initialize(context.Background()))
	info := s.Info()
	assert.Equal(t, "local", info.Mode)
	assert.True(t, info.Online)
}

func TestUsingClosedStore(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "qfleet.db"))
	_, err := s.GetMemoryEntry(context.Background(), "k", "p")
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "qfleet.db")

	s := NewLocalStore(path)
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
		Key: "decision", Partition: "planning", Value: "use-fixtures",
	}))
	require.NoError(t, s.Shutdown(ctx))

	s = NewLocalStore(path)
	require.NoError(t, s.Initialize(ctx))
	defer s.Shutdown(ctx)
	e, err := s.GetMemoryEntry(ctx, "decision", "planning")
	require.NoError(t, err)
	assert.Equal(t, "use-fixtures", e.Value)
}

func TestMemoryUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
		Key: "k", Partition: "p", Value: "v1", Owner: "agent-1",
	}))
	require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
		Key: "k", Partition: "p", Value: "v2", Owner: "agent-2", AccessLevel: types.AccessTeam,
	}))

	e, err := s.GetMemoryEntry(ctx, "k", "p")
	require.NoError(t, err)
	assert.Equal(t, "v2", e.Value)
	assert.Equal(t, "agent-2", e.Owner)
	assert.Equal(t, types.AccessTeam, e.AccessLevel)

	// Same key under a different partition is a distinct entry.
	require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
		Key: "k", Partition: "q", Value: "other",
	}))
	e, err = s.GetMemoryEntry(ctx, "k", "q")
	require.NoError(t, err)
	assert.Equal(t, "other", e.Value)
}

func TestMemoryValidationAndNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.StoreMemoryEntry(ctx, types.MemoryEntry{Key: "", Partition: "p"})
	assert.True(t, types.IsKind(err, types.KindInvalidInput))

	_, err = s.GetMemoryEntry(ctx, "ghost", "p")
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestMemoryExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
		Key: "stale", Partition: "p", Value: "x", ExpiresAt: &past,
	}))
	require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
		Key: "fresh", Partition: "p", Value: "y", ExpiresAt: &future,
	}))

	_, err := s.GetMemoryEntry(ctx, "stale", "p")
	assert.True(t, types.IsKind(err, types.KindNotFound))

	entries, err := s.QueryMemoryEntries(ctx, MemoryQuery{Partition: "p"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].Key)

	purged, err := s.PurgeExpiredMemory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestMemoryQueryOrderAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, key := range []string{"oldest", "middle", "newest"} {
		require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
			Key: key, Partition: "p", Value: "v", Owner: "agent-1",
			AccessLevel: types.AccessOwner,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
		Key: "team-entry", Partition: "p", Value: "v", Owner: "agent-2",
		AccessLevel: types.AccessTeam, TeamID: "core",
		CreatedAt: base.Add(-time.Minute),
	}))

	entries, err := s.QueryMemoryEntries(ctx, MemoryQuery{Partition: "p", Owner: "agent-1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "newest", entries[0].Key)
	assert.Equal(t, "oldest", entries[2].Key)

	entries, err = s.QueryMemoryEntries(ctx, MemoryQuery{Partition: "p", AccessLevel: types.AccessTeam, TeamID: "core"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "team-entry", entries[0].Key)

	entries, err = s.QueryMemoryEntries(ctx, MemoryQuery{Partition: "p", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMemoryDeleteGlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"plan/1", "plan/2", "plan/22", "result/1", "literal_50%"} {
		require.NoError(t, s.StoreMemoryEntry(ctx, types.MemoryEntry{
			Key: key, Partition: "p", Value: "v",
		}))
	}

	n, err := s.DeleteMemoryEntries(ctx, "plan/?", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteMemoryEntries(ctx, "plan/*", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// LIKE metacharacters in the pattern are literals, not wildcards.
	n, err = s.DeleteMemoryEntries(ctx, "literal_50%", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.DeleteMemoryEntries(ctx, "*", "")
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestEventsTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.StoreEvents(ctx, []types.EventRecord{
		{Type: "plan.created", Source: "planner", Timestamp: now, TTL: 0},
		{Type: "heartbeat", Source: "fleet", Timestamp: now.Add(-2 * time.Minute), TTL: time.Minute},
		{Type: "heartbeat", Source: "fleet", Timestamp: now, TTL: time.Hour},
	}))

	events, err := s.QueryEvents(ctx, EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 2, "lapsed-TTL event filtered out")
	for _, e := range events {
		assert.NotEmpty(t, e.ID, "missing ids are filled on store")
	}

	events, err = s.QueryEvents(ctx, EventQuery{Type: "heartbeat"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	deleted, err := s.DeleteOldEvents(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted, "lapsed-TTL event reclaimed")
}

func TestEventsSinceUntil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.StoreEvent(ctx, types.EventRecord{
			Type: "tick", Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := s.QueryEvents(ctx, EventQuery{
		Since: base.Add(time.Minute),
		Until: base.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestMetricsAggregation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Now().Truncate(time.Hour)
	require.NoError(t, s.StoreMetrics(ctx, []types.MetricRecord{
		{AgentID: "a1", MetricName: "coverage", Value: 70, Timestamp: start.Add(time.Minute)},
		{AgentID: "a1", MetricName: "coverage", Value: 80, Timestamp: start.Add(2 * time.Minute)},
		{AgentID: "a1", MetricName: "coverage", Value: 90, Timestamp: start.Add(3 * time.Minute)},
		{AgentID: "a2", MetricName: "coverage", Value: 50, Timestamp: start.Add(time.Minute)},
		{AgentID: "a1", MetricName: "coverage", Value: 99, Timestamp: start.Add(2 * time.Hour)}, // outside period
	}))

	aggs, err := s.AggregateMetrics(ctx, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, aggs, 2)

	a1 := aggs[0]
	assert.Equal(t, "a1", a1.AgentID)
	assert.Equal(t, int64(3), a1.Count)
	assert.Equal(t, 240.0, a1.Sum)
	assert.Equal(t, 70.0, a1.Min)
	assert.Equal(t, 90.0, a1.Max)
	assert.Equal(t, 80.0, a1.Avg)

	// Raw samples can be pruned; aggregates survive and re-running the
	// rollup over the same period upserts rather than duplicating.
	_, err = s.DeleteOldMetrics(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	aggs, err = s.AggregateMetrics(ctx, start.Add(time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, 99.0, aggs[0].Max)
}

func TestMetricsDimensionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreMetric(ctx, types.MetricRecord{
		AgentID: "a1", MetricName: "latency", Value: 120,
		Dimensions: map[string]string{"endpoint": "/plan", "region": "eu"},
	}))
	metrics, err := s.QueryMetrics(ctx, MetricQuery{MetricName: "latency"})
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "eu", metrics[0].Dimensions["region"])
}

func TestCodeChunksSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreCodeChunks(ctx, []types.CodeChunk{
		{ID: "c1", ProjectID: "proj", FilePath: "a.go", StartLine: 1, EndLine: 10,
			Content: "func A()", Language: "go", Embedding: []float32{1, 0, 0}},
		{ID: "c2", ProjectID: "proj", FilePath: "a.go", StartLine: 11, EndLine: 20,
			Content: "func B()", Language: "go", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c3", ProjectID: "proj", FilePath: "b.go", StartLine: 1, EndLine: 5,
			Content: "func C()", Language: "go", Embedding: []float32{0, 1, 0}},
		{ID: "c4", ProjectID: "other", FilePath: "c.go", StartLine: 1, EndLine: 5,
			Content: "func D()", Language: "go", Embedding: []float32{1, 0, 0}},
		{ID: "c5", ProjectID: "proj", FilePath: "d.go", StartLine: 1, EndLine: 5,
			Content: "no embedding", Language: "go"},
	}))

	results, err := s.SearchSimilarCode(ctx, []float32{1, 0, 0}, SimilarOptions{
		ProjectID: "proj", MinScore: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "c2", results[1].Chunk.ID)

	chunks, err := s.QueryCodeChunks(ctx, ChunkQuery{ProjectID: "proj", FilePath: "a.go"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, []float32{1, 0, 0}, chunks[0].Embedding)

	n, err := s.DeleteCodeChunksForFile(ctx, "proj", "a.go")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteCodeChunksForProject(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestExperiencesAndPatterns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreExperience(ctx, types.Experience{
		ID: "e1", AgentID: "a1", TaskType: "fix-tests", Outcome: "success", Reward: 1,
		Embedding: []float32{1, 0},
	}))
	require.NoError(t, s.StoreExperience(ctx, types.Experience{
		ID: "e2", AgentID: "a2", TaskType: "scan", Outcome: "failure", Reward: -1,
		Embedding: []float32{0, 1},
	}))

	exps, err := s.QueryExperiences(ctx, ExperienceQuery{AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "fix-tests", exps[0].TaskType)

	scored, err := s.SearchSimilarExperiences(ctx, []float32{1, 0}, SimilarOptions{MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "e1", scored[0].Experience.ID)

	require.NoError(t, s.StorePattern(ctx, types.Pattern{
		ID: "p1", Name: "flaky-suite", Confidence: 0.9, Occurrences: 4,
	}))
	require.NoError(t, s.StorePattern(ctx, types.Pattern{
		ID: "p2", Name: "slow-build", Confidence: 0.4, Occurrences: 2,
	}))

	patterns, err := s.QueryPatterns(ctx, PatternQuery{MinConfidence: 0.5})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "flaky-suite", patterns[0].Name)
}

func TestAgentStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob := []byte(`{"mood":"focused","tasks":3}`)
	require.NoError(t, s.SaveAgentState(ctx, "agent-1", blob))

	got, err := s.LoadAgentState(ctx, "agent-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(blob), string(got))

	err = s.SaveAgentState(ctx, "agent-1", []byte("not json"))
	assert.True(t, types.IsKind(err, types.KindInvalidInput))

	_, err = s.LoadAgentState(ctx, "ghost")
	assert.True(t, types.IsKind(err, types.KindNotFound))

	require.NoError(t, s.DeleteAgentState(ctx, "agent-1"))
	_, err = s.LoadAgentState(ctx, "agent-1")
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestAgentStateQuarantine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgentState(ctx, "agent-1", []byte(`{"ok":true}`)))
	// Corrupt the row underneath the validation in SaveAgentState.
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_states SET blob = ? WHERE agent_id = ?`, []byte("{truncated"), "agent-1")
	require.NoError(t, err)

	_, err = s.LoadAgentState(ctx, "agent-1")
	assert.True(t, types.IsKind(err, types.KindCorruptState))

	// The poisoned snapshot moved aside: the next load starts fresh and the
	// listing hides the quarantined copy.
	_, err = s.LoadAgentState(ctx, "agent-1")
	assert.True(t, types.IsKind(err, types.KindNotFound))

	agents, err := s.ListAgentsWithState(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestListAgentsSorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha"} {
		require.NoError(t, s.SaveAgentState(ctx, id, []byte(`{}`)))
	}
	agents, err := s.ListAgentsWithState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, agents)
}

func TestPlanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &types.Plan{
		ID:                  "plan-1",
		GoalID:              "coverage-80",
		Actions:             []string{"measure-coverage", "generate-missing-tests"},
		TotalCost:           345.5,
		EstimatedDurationMs: 180000,
		InitialState:        map[string]interface{}{"coverage": 50.0},
		GoalState:           map[string]interface{}{"coverage": 80.0},
		Status:              types.PlanPending,
		CreatedAt:           time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.SavePlan(ctx, p))

	got, err := s.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, p.Actions, got.Actions)
	assert.Equal(t, p.TotalCost, got.TotalCost)
	assert.Equal(t, types.PlanPending, got.Status)
	assert.Nil(t, got.CompletedAt)

	_, err = s.GetPlan(ctx, "ghost")
	assert.True(t, types.IsKind(err, types.KindNotFound))

	err = s.SavePlan(ctx, &types.Plan{ID: "empty"})
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestQueryPlans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.SavePlan(ctx, &types.Plan{
			ID: id, GoalID: "tests-green", Actions: []string{"run-unit-tests"},
			Status: types.PlanPending, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.SavePlan(ctx, &types.Plan{
		ID: "other", GoalID: "coverage-80", Actions: []string{"measure-coverage"},
		Status: types.PlanSucceeded, CreatedAt: base,
	}))

	plans, err := s.QueryPlans(ctx, PlanQuery{GoalID: "tests-green"})
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "p3", plans[0].ID, "newest first")

	plans, err = s.QueryPlans(ctx, PlanQuery{Status: types.PlanSucceeded})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "other", plans[0].ID)
}

func TestRecordExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePlan(ctx, &types.Plan{
		ID: "plan-1", GoalID: "tests-green", Actions: []string{"run-unit-tests"},
		Status: types.PlanRunning, CreatedAt: time.Now(),
	}))

	require.NoError(t, s.RecordExecution(ctx, types.ExecutionOutcome{
		PlanID:           "plan-1",
		Success:          true,
		ActualDuration:   95 * time.Second,
		CompletedActions: 1,
		ExecutionTrace:   []string{"run-unit-tests: ok"},
	}))

	got, err := s.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanSucceeded, got.Status)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, s.RecordExecution(ctx, types.ExecutionOutcome{
		PlanID: "plan-1", Success: false, FailureReason: "flaky suite",
	}))
	got, err = s.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanFailed, got.Status)

	err = s.RecordExecution(ctx, types.ExecutionOutcome{})
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestSyncQueueCoalescing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueSyncOp(ctx, types.SyncOp{
		ID: "op-1", OpType: types.OpInsert, Table: TableMemoryEntries,
		RecordID: "p/k", Payload: []byte(`{"v":1}`), Retries: 2,
	}))
	require.NoError(t, s.EnqueueSyncOp(ctx, types.SyncOp{
		ID: "op-2", OpType: types.OpUpdate, Table: TableMemoryEntries,
		RecordID: "p/k", Payload: []byte(`{"v":2}`),
	}))
	require.NoError(t, s.EnqueueSyncOp(ctx, types.SyncOp{
		ID: "op-3", OpType: types.OpInsert, Table: TablePlans, RecordID: "plan-1",
	}))

	n, err := s.CountSyncOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ops, err := s.LoadSyncOps(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	var memOp types.SyncOp
	for _, op := range ops {
		if op.Table == TableMemoryEntries {
			memOp = op
		}
	}
	assert.Equal(t, "op-2", memOp.ID, "newer op replaced the older")
	assert.Equal(t, types.OpUpdate, memOp.OpType)
	assert.JSONEq(t, `{"v":2}`, string(memOp.Payload))
	assert.Equal(t, 0, memOp.Retries, "coalescing resets retries")

	require.NoError(t, s.UpdateSyncRetries(ctx, "op-2", 2))
	ops, err = s.LoadSyncOps(ctx)
	require.NoError(t, err)
	for _, op := range ops {
		if op.ID == "op-2" {
			assert.Equal(t, 2, op.Retries)
		}
	}

	require.NoError(t, s.DeleteSyncOp(ctx, "op-2"))
	n, err = s.CountSyncOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.EnqueueSyncOp(ctx, types.SyncOp{Table: "", RecordID: ""})
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestSyncQueueOrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, id := range []string{"newer", "older"} {
		require.NoError(t, s.EnqueueSyncOp(ctx, types.SyncOp{
			ID: id, OpType: types.OpInsert, Table: TablePlans, RecordID: id,
			EnqueuedAt: base.Add(time.Duration(1-i) * time.Second),
		}))
	}
	ops, err := s.LoadSyncOps(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "older", ops[0].ID)
}
