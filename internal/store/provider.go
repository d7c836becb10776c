// Package store implements the hybrid local-first persistence layer: a
// uniform provider interface over a local embedded SQLite database and an
// optional remote Postgres store, composed by a hybrid provider that writes
// local-first and mirrors to the remote in the background.
package store

import (
	"context"
	"time"

	"qfleet/internal/types"
)

// MemoryQuery filters queryMemoryEntries. Results are ordered by createdAt
// descending; expired entries are never returned.
type MemoryQuery struct {
	Partition   string
	Owner       string
	AccessLevel types.AccessLevel
	TeamID      string
	Limit       int
}

// EventQuery filters queryEvents.
type EventQuery struct {
	Type   string
	Source string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// MetricQuery filters metric samples.
type MetricQuery struct {
	AgentID    string
	MetricName string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// ChunkQuery filters code chunks.
type ChunkQuery struct {
	ProjectID string
	FilePath  string
	Language  string
	Limit     int
}

// ExperienceQuery filters experiences.
type ExperienceQuery struct {
	AgentID  string
	TaskType string
	Limit    int
}

// PatternQuery filters patterns.
type PatternQuery struct {
	Name          string
	MinConfidence float64
	Limit         int
}

// SimilarOptions tune embedding similarity searches.
type SimilarOptions struct {
	Limit     int
	MinScore  float64 // cosine similarity floor in [-1,1]
	ProjectID string  // code chunks only
}

// ScoredChunk is a similarity result.
type ScoredChunk struct {
	Chunk types.CodeChunk
	Score float64
}

// ScoredExperience is a similarity result.
type ScoredExperience struct {
	Experience types.Experience
	Score      float64
}

// ScoredPattern is a similarity result.
type ScoredPattern struct {
	Pattern types.Pattern
	Score   float64
}

// PlanQuery filters stored plans.
type PlanQuery struct {
	GoalID string
	Status types.PlanStatus
	Limit  int
}

// Provider is the uniform persistence interface. All implementations return
// typed failures per the shared error taxonomy and never retry implicitly.
type Provider interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Info() types.ProviderInfo

	// Memory
	StoreMemoryEntry(ctx context.Context, e types.MemoryEntry) error
	StoreMemoryEntries(ctx context.Context, entries []types.MemoryEntry) error
	GetMemoryEntry(ctx context.Context, key, partition string) (*types.MemoryEntry, error)
	QueryMemoryEntries(ctx context.Context, q MemoryQuery) ([]types.MemoryEntry, error)
	DeleteMemoryEntries(ctx context.Context, keyPattern, partition string) (int64, error)

	// Events
	StoreEvent(ctx context.Context, e types.EventRecord) error
	StoreEvents(ctx context.Context, events []types.EventRecord) error
	QueryEvents(ctx context.Context, q EventQuery) ([]types.EventRecord, error)
	DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error)

	// Metrics
	StoreMetric(ctx context.Context, m types.MetricRecord) error
	StoreMetrics(ctx context.Context, metrics []types.MetricRecord) error
	QueryMetrics(ctx context.Context, q MetricQuery) ([]types.MetricRecord, error)
	AggregateMetrics(ctx context.Context, periodStart, periodEnd time.Time) ([]types.AggregatedMetric, error)
	DeleteOldMetrics(ctx context.Context, cutoff time.Time) (int64, error)

	// Code chunks
	StoreCodeChunk(ctx context.Context, c types.CodeChunk) error
	StoreCodeChunks(ctx context.Context, chunks []types.CodeChunk) error
	QueryCodeChunks(ctx context.Context, q ChunkQuery) ([]types.CodeChunk, error)
	SearchSimilarCode(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredChunk, error)
	DeleteCodeChunksForFile(ctx context.Context, projectID, filePath string) (int64, error)
	DeleteCodeChunksForProject(ctx context.Context, projectID string) (int64, error)

	// Experiences and patterns (learning sidecars)
	StoreExperience(ctx context.Context, e types.Experience) error
	QueryExperiences(ctx context.Context, q ExperienceQuery) ([]types.Experience, error)
	SearchSimilarExperiences(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredExperience, error)
	StorePattern(ctx context.Context, p types.Pattern) error
	QueryPatterns(ctx context.Context, q PatternQuery) ([]types.Pattern, error)
	SearchSimilarPatterns(ctx context.Context, embedding []float32, opts SimilarOptions) ([]ScoredPattern, error)

	// Nervous-system state: opaque per-agent blobs.
	SaveAgentState(ctx context.Context, agentID string, blob []byte) error
	LoadAgentState(ctx context.Context, agentID string) ([]byte, error)
	DeleteAgentState(ctx context.Context, agentID string) error
	ListAgentsWithState(ctx context.Context) ([]string, error)

	// Plans
	SavePlan(ctx context.Context, p *types.Plan) error
	GetPlan(ctx context.Context, id string) (*types.Plan, error)
	QueryPlans(ctx context.Context, q PlanQuery) ([]*types.Plan, error)
	RecordExecution(ctx context.Context, outcome types.ExecutionOutcome) error
}
