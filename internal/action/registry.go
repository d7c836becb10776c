package action

import (
	"sort"
	"sync"
	"time"

	"qfleet/internal/types"
)

// Registry is the process-wide action catalog. Read-mostly: registration
// happens at startup, lookups run concurrently from planner calls.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	order   []string // registration-independent stable iteration order
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register validates and stores an action. Idempotent on ID: re-registering
// an existing ID is a no-op.
func (r *Registry) Register(a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.ID]; exists {
		return nil
	}
	r.actions[a.ID] = a
	idx := sort.SearchStrings(r.order, a.ID)
	r.order = append(r.order, "")
	copy(r.order[idx+1:], r.order[idx:])
	r.order[idx] = a.ID
	return nil
}

// RegisterAll registers a batch, stopping at the first invalid action.
func (r *Registry) RegisterAll(actions []Action) error {
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// Get looks an action up by ID.
func (r *Registry) Get(id string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	return a, ok
}

// MustGet returns the action or a typed not-found error.
func (r *Registry) MustGet(id string) (Action, error) {
	if a, ok := r.Get(id); ok {
		return a, nil
	}
	return Action{}, types.NewError(types.KindNotFound, "action %q not registered", id)
}

// All returns every action in lexicographic ID order. The planner relies on
// this order for deterministic expansion.
func (r *Registry) All() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.actions[id])
	}
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// ByCategory returns actions in the given category, ID-ordered.
func (r *Registry) ByCategory(c Category) []Action {
	return r.filter(func(a Action) bool { return a.Category == c })
}

// ByExecutorType returns actions carried by the given executor type.
func (r *Registry) ByExecutorType(agentType string) []Action {
	return r.filter(func(a Action) bool { return a.AgentType == agentType })
}

// WithinCostBudget returns actions whose cost does not exceed budget.
func (r *Registry) WithinCostBudget(budget float64) []Action {
	return r.filter(func(a Action) bool { return a.Cost <= budget })
}

// WithinTimeBudget returns actions whose duration estimate fits the budget.
func (r *Registry) WithinTimeBudget(budget time.Duration) []Action {
	return r.filter(func(a Action) bool { return a.DurationEstimate <= budget })
}

// AtLeastSuccessRate returns actions with success rate >= minimum.
func (r *Registry) AtLeastSuccessRate(minimum float64) []Action {
	return r.filter(func(a Action) bool { return a.SuccessRate >= minimum })
}

// MinCost returns the smallest registered action cost, or 0 when empty. The
// planner heuristic uses it as the cost-per-unit-progress multiplier.
func (r *Registry) MinCost() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	min := 0.0
	for _, a := range r.actions {
		if min == 0 || a.Cost < min {
			min = a.Cost
		}
	}
	return min
}

// AgentTypes returns the distinct executor types the catalog references.
func (r *Registry) AgentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range r.order {
		t := r.actions[id].AgentType
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) filter(keep func(Action) bool) []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Action
	for _, id := range r.order {
		if a := r.actions[id]; keep(a) {
			out = append(out, a)
		}
	}
	return out
}
