package planner

import (
	"context"

	"qfleet/internal/state"
	"qfleet/internal/types"
)

// Replan searches again from the current (post-failure) state after a
// scheduled step's preconditions stopped holding at dispatch time. The
// failed action is excluded unless it produces a measurement flag, since
// banning measurement would make most goals unreachable. The new plan
// records its lineage in ReplannedFrom.
func (p *Planner) Replan(ctx context.Context, current state.WorldState, goalConds state.ConditionSet, failed *types.Plan, failedActionID string, c Constraints) (*types.Plan, error) {
	if failedActionID != "" {
		if a, ok := p.actions.Get(failedActionID); !ok || len(a.ProducedFlags()) == 0 {
			c.ExcludedActions = append(append([]string(nil), c.ExcludedActions...), failedActionID)
		}
	}

	goalID := ""
	if failed != nil {
		goalID = failed.GoalID
	}
	plan, err := p.plan(ctx, goalID, current, goalConds, c)
	if err != nil {
		return nil, err
	}
	if failed != nil {
		plan.ReplannedFrom = failed.ID
	}
	return plan, nil
}
