// Package types holds the records shared across the planning core and the
// persistence layer, plus the typed error taxonomy.
package types

import "time"

// PlanStatus tracks a plan through its lifecycle.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanSucceeded PlanStatus = "succeeded"
	PlanFailed    PlanStatus = "failed"
	PlanReplanned PlanStatus = "replanned"
)

// Plan is the linear action sequence A* produced. The DAG structure is
// derived later by the workflow compiler; the stored order is the search
// order.
type Plan struct {
	ID                  string      `json:"id"`
	GoalID              string      `json:"goalId"`
	Actions             []string    `json:"actions"` // action IDs, non-empty
	TotalCost           float64     `json:"totalCost"`
	EstimatedDurationMs int64       `json:"estimatedDurationMs"`
	InitialState        interface{} `json:"initialState"`
	GoalState           interface{} `json:"goalState"`
	Status              PlanStatus  `json:"status"`
	ReplannedFrom       string      `json:"replannedFrom,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	StartedAt           *time.Time  `json:"startedAt,omitempty"`
	CompletedAt         *time.Time  `json:"completedAt,omitempty"`
}

// ExecutionOutcome records how a plan actually went.
type ExecutionOutcome struct {
	PlanID           string        `json:"planId"`
	Success          bool          `json:"success"`
	ActualDuration   time.Duration `json:"actualDuration"`
	FailureReason    string        `json:"failureReason,omitempty"`
	ExecutionTrace   []string      `json:"executionTrace,omitempty"`
	CompletedActions int           `json:"completedActions"`
}

// AccessLevel scopes who may read a memory entry.
type AccessLevel string

const (
	AccessOwner  AccessLevel = "owner"
	AccessTeam   AccessLevel = "team"
	AccessPublic AccessLevel = "public"
)

// MemoryEntry is a partitioned key/value record with ownership and optional
// expiry.
type MemoryEntry struct {
	Key         string      `json:"key"`
	Partition   string      `json:"partition"`
	Value       string      `json:"value"`
	Owner       string      `json:"owner"`
	AccessLevel AccessLevel `json:"accessLevel"`
	TeamID      string      `json:"teamId,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
}

// EventRecord is an append-only fleet event.
type EventRecord struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Payload   string        `json:"payload"`
	Source    string        `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
	TTL       time.Duration `json:"ttl"`
}

// MetricRecord is a single measured metric sample.
type MetricRecord struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	AgentID    string            `json:"agentId"`
	MetricName string            `json:"metricName"`
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// AggregatedMetric is a rollup of samples over a period.
type AggregatedMetric struct {
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	AgentID     string    `json:"agentId"`
	MetricName  string    `json:"metricName"`
	Count       int64     `json:"count"`
	Sum         float64   `json:"sum"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Avg         float64   `json:"avg"`
}

// CodeChunk is a span of source text with an optional embedding for
// similarity search.
type CodeChunk struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	FilePath  string    `json:"filePath"`
	StartLine int       `json:"startLine"`
	EndLine   int       `json:"endLine"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Experience is a learning-sidecar record of an action taken and its result.
type Experience struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	TaskType  string    `json:"taskType"`
	Outcome   string    `json:"outcome"`
	Reward    float64   `json:"reward"`
	Context   string    `json:"context"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pattern is a learned recurring structure with a confidence score.
type Pattern struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	Occurrences int       `json:"occurrences"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SyncOpType is the mutation class a queued op carries.
type SyncOpType string

const (
	OpInsert SyncOpType = "insert"
	OpUpdate SyncOpType = "update"
	OpDelete SyncOpType = "delete"
)

// SyncOp is a queued local mutation awaiting remote application. Ops for the
// same (Table, RecordID) coalesce: the newest replaces its predecessor.
type SyncOp struct {
	ID         string     `json:"id"`
	OpType     SyncOpType `json:"opType"`
	Table      string     `json:"table"`
	RecordID   string     `json:"recordId"`
	Payload    []byte     `json:"payload,omitempty"`
	Retries    int        `json:"retries"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
}

// ProviderInfo identifies a persistence provider implementation.
type ProviderInfo struct {
	Name    string `json:"name"`
	Mode    string `json:"mode"` // local, remote, hybrid
	Version string `json:"version"`
	Online  bool   `json:"online"`
}
