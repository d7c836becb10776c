package workflow

import (
	"fmt"

	"qfleet/internal/action"
	"qfleet/internal/types"
)

// Compiler turns plans into workflows using the action catalog for
// precondition/effect dataflow.
type Compiler struct {
	actions *action.Registry
}

// NewCompiler returns a compiler over the given catalog.
func NewCompiler(actions *action.Registry) *Compiler {
	return &Compiler{actions: actions}
}

// Compile converts the plan's linear action sequence into workflow steps
// with dependencies per the chosen strategy. Step order mirrors plan order.
func (c *Compiler) Compile(plan *types.Plan, strategy Strategy) ([]Step, error) {
	if plan == nil || len(plan.Actions) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "cannot compile an empty plan")
	}
	switch strategy {
	case StrategySequential, StrategyParallel, StrategyAdaptive:
	default:
		return nil, types.NewError(types.KindInvalidInput, "unknown strategy %q", strategy)
	}

	acts := make([]action.Action, len(plan.Actions))
	for i, id := range plan.Actions {
		a, err := c.actions.MustGet(id)
		if err != nil {
			return nil, err
		}
		acts[i] = a
	}

	deps := extractDependencies(acts)

	steps := make([]Step, len(acts))
	for i, a := range acts {
		step := Step{
			ID:                  fmt.Sprintf("step-%d-%s", i+1, a.ID),
			Name:                a.Name,
			Type:                stepTypeFor(a),
			Status:              StepPending,
			ExecutorType:        a.AgentType,
			Category:            a.Category,
			EstimatedDurationMs: a.DurationEstimate.Milliseconds(),
			SourceActionID:      a.ID,
		}
		steps[i] = step
	}

	switch strategy {
	case StrategySequential:
		for i := 1; i < len(steps); i++ {
			steps[i].DependsOn = []string{steps[i-1].ID}
		}
	case StrategyParallel, StrategyAdaptive:
		for i := range steps {
			for _, j := range deps[i] {
				steps[i].DependsOn = append(steps[i].DependsOn, steps[j].ID)
			}
			if strategy == StrategyAdaptive {
				steps[i].CanRunParallel = len(steps[i].DependsOn) == 0
			}
		}
	}
	return steps, nil
}

// extractDependencies builds the inter-action dependency map: action i
// depends on the nearest earlier action j that sets (to true) a boolean
// field named in i's preconditions. This captures measurement-before-
// improvement without hand-authored edges.
func extractDependencies(acts []action.Action) map[int][]int {
	deps := make(map[int][]int, len(acts))
	for i, a := range acts {
		seen := make(map[int]bool)
		for _, pre := range a.Preconditions {
			for j := i - 1; j >= 0; j-- {
				if acts[j].ProducesFlag(pre.Field) {
					if !seen[j] {
						seen[j] = true
						deps[i] = append(deps[i], j)
					}
					break // nearest producer wins
				}
			}
		}
	}
	return deps
}
