// Package action defines the catalog of executable quality-engineering
// actions: preconditions, effects, cost, duration and the executor type that
// carries each one out.
package action

import (
	"time"

	"qfleet/internal/state"
	"qfleet/internal/types"
)

// Category groups actions for goal whitelisting and workflow step typing.
type Category string

const (
	CategoryTest        Category = "test"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryProcess     Category = "process"
	CategoryFleet       Category = "fleet"
	CategoryAnalysis    Category = "analysis"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryTest, CategorySecurity, CategoryPerformance,
	CategoryProcess, CategoryFleet, CategoryAnalysis,
}

// Action is an immutable registered unit of work. Identity is ID.
type Action struct {
	ID               string             `json:"id" yaml:"id"`
	Name             string             `json:"name" yaml:"name"`
	Description      string             `json:"description,omitempty" yaml:"description,omitempty"`
	AgentType        string             `json:"agentType" yaml:"agent_type"`
	Category         Category           `json:"category" yaml:"category"`
	Preconditions    state.ConditionSet `json:"preconditions" yaml:"preconditions"`
	Effects          state.EffectSet    `json:"effects" yaml:"effects"`
	Cost             float64            `json:"cost" yaml:"cost"`
	DurationEstimate time.Duration      `json:"durationEstimate" yaml:"duration_estimate"`
	SuccessRate      float64            `json:"successRate" yaml:"success_rate"`
}

// Validate checks structural validity: non-empty identity, positive cost,
// success rate in [0,1], known fields and compatible operators throughout.
func (a Action) Validate() error {
	if a.ID == "" {
		return types.NewError(types.KindInvalidInput, "action missing id")
	}
	if a.Cost <= 0 {
		return types.NewError(types.KindInvalidInput, "action %q: cost must be positive", a.ID)
	}
	if a.SuccessRate < 0 || a.SuccessRate > 1 {
		return types.NewError(types.KindInvalidInput, "action %q: success rate %v outside [0,1]", a.ID, a.SuccessRate)
	}
	validCategory := false
	for _, c := range Categories {
		if a.Category == c {
			validCategory = true
			break
		}
	}
	if !validCategory {
		return types.NewError(types.KindInvalidInput, "action %q: unknown category %q", a.ID, a.Category)
	}
	if err := a.Preconditions.Validate(); err != nil {
		return types.WrapError(types.KindInvalidInput, err, "action %q preconditions", a.ID)
	}
	if err := a.Effects.Validate(); err != nil {
		return types.WrapError(types.KindInvalidInput, err, "action %q effects", a.ID)
	}
	return nil
}

// Applicable reports whether the action's preconditions hold on w.
func (a Action) Applicable(w state.WorldState) bool {
	return w.Satisfies(a.Preconditions)
}

// ProducesFlag reports whether the action sets the named boolean field to
// true. Measurement actions produce the flags improvement actions require.
func (a Action) ProducesFlag(field string) bool {
	for _, e := range a.Effects {
		if e.Field == field && e.SetsTrue() {
			return true
		}
	}
	return false
}

// ProducedFlags returns every boolean field the action sets to true.
func (a Action) ProducedFlags() []string {
	var out []string
	for _, e := range a.Effects {
		if e.SetsTrue() {
			out = append(out, e.Field)
		}
	}
	return out
}
