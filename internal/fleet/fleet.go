// Package fleet exposes the planner's view of the executor fleet: which
// executor types exist and which instances are idle or busy. Executor bodies
// live outside the core; this is the registry contract they plug into.
package fleet

import (
	"sort"
	"sync"
)

// Status is an executor's scheduling state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusBusy      Status = "busy"
	StatusAvailable Status = "available"
	StatusRunning   Status = "running"
)

// Executor is one external worker instance.
type Executor struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status Status `json:"status"`
}

// Free reports whether the executor can take work now.
func (e Executor) Free() bool {
	return e.Status == StatusIdle || e.Status == StatusAvailable
}

// Registry is the integration surface the world-state builder consumes.
type Registry interface {
	SupportedTypes() []string
	All() []Executor
	ByType(executorType string) []Executor
}

// InMemoryRegistry is a threadsafe Registry for embedding and tests.
type InMemoryRegistry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	supported map[string]bool
}

// NewInMemoryRegistry returns a registry supporting the given executor
// types.
func NewInMemoryRegistry(supportedTypes ...string) *InMemoryRegistry {
	supported := make(map[string]bool, len(supportedTypes))
	for _, t := range supportedTypes {
		supported[t] = true
	}
	return &InMemoryRegistry{
		executors: make(map[string]Executor),
		supported: supported,
	}
}

// Add registers or replaces an executor instance.
func (r *InMemoryRegistry) Add(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.ID] = e
	r.supported[e.Type] = true
}

// SetStatus updates an executor's status; unknown IDs are ignored.
func (r *InMemoryRegistry) SetStatus(id string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.executors[id]; ok {
		e.Status = s
		r.executors[id] = e
	}
}

// SupportedTypes returns the sorted set of executor types this fleet can
// run, whether or not an instance currently exists.
func (r *InMemoryRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.supported))
	for t := range r.supported {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// All returns every executor, ordered by ID.
func (r *InMemoryRegistry) All() []Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Executor, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.executors[id])
	}
	return out
}

// ByType returns executors of one type, ordered by ID.
func (r *InMemoryRegistry) ByType(executorType string) []Executor {
	var out []Executor
	for _, e := range r.All() {
		if e.Type == executorType {
			out = append(out, e)
		}
	}
	return out
}

var _ Registry = (*InMemoryRegistry)(nil)
