// Package goal defines named target condition sets and their registry.
package goal

import (
	"sync"
	"time"

	"qfleet/internal/action"
	"qfleet/internal/state"
	"qfleet/internal/types"
)

// Goal is a target condition set the planner must satisfy.
type Goal struct {
	ID                string             `json:"id" yaml:"id"`
	Name              string             `json:"name" yaml:"name"`
	Conditions        state.ConditionSet `json:"conditions" yaml:"conditions"`
	Priority          float64            `json:"priority" yaml:"priority"`
	AllowedCategories []action.Category  `json:"allowedCategories,omitempty" yaml:"allowed_categories,omitempty"`
	DeadlineBudget    time.Duration      `json:"deadlineBudget,omitempty" yaml:"deadline_budget,omitempty"`
}

// Validate checks identity and condition well-formedness.
func (g Goal) Validate() error {
	if g.ID == "" {
		return types.NewError(types.KindInvalidInput, "goal missing id")
	}
	if len(g.Conditions) == 0 {
		return types.NewError(types.KindInvalidInput, "goal %q has no conditions", g.ID)
	}
	if err := g.Conditions.Validate(); err != nil {
		return types.WrapError(types.KindInvalidInput, err, "goal %q conditions", g.ID)
	}
	return nil
}

// Registry is the process-wide goal catalog.
type Registry struct {
	mu    sync.RWMutex
	goals map[string]Goal
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{goals: make(map[string]Goal)}
}

// Register validates and stores a goal. Idempotent on ID.
func (r *Registry) Register(g Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.goals[g.ID]; exists {
		return nil
	}
	r.goals[g.ID] = g
	return nil
}

// Get looks a goal up by ID.
func (r *Registry) Get(id string) (Goal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.goals[id]
	return g, ok
}

// MustGet returns the goal or a typed not-found error.
func (r *Registry) MustGet(id string) (Goal, error) {
	if g, ok := r.Get(id); ok {
		return g, nil
	}
	return Goal{}, types.NewError(types.KindNotFound, "goal %q not registered", id)
}

// Len returns the number of registered goals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.goals)
}
