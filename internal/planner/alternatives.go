package planner

import (
	"context"
	"sort"
	"strings"

	"qfleet/internal/state"
	"qfleet/internal/types"
)

// MaxAlternatives caps how many alternative plans Alternatives returns.
const MaxAlternatives = 3

// Alternatives searches for up to three meaningfully different plans by
// excluding one of the base plan's actions at a time. Actions whose effects
// set measurement flags are never excluded: measurement is typically
// mandatory, so banning it just wastes search budget.
func (p *Planner) Alternatives(ctx context.Context, initial state.WorldState, goalConds state.ConditionSet, c Constraints, base *types.Plan) []*types.Plan {
	if base == nil || len(base.Actions) == 0 {
		return nil
	}

	seen := map[string]bool{actionSetKey(base.Actions): true}
	var out []*types.Plan

	tried := make(map[string]bool)
	for _, id := range base.Actions {
		if len(out) >= MaxAlternatives {
			break
		}
		if tried[id] {
			continue
		}
		tried[id] = true

		if a, ok := p.actions.Get(id); ok && len(a.ProducedFlags()) > 0 {
			continue
		}

		alt := c
		alt.ExcludedActions = append(append([]string(nil), c.ExcludedActions...), id)
		plan, err := p.plan(ctx, base.GoalID, initial, goalConds, alt)
		if err != nil {
			continue
		}
		key := actionSetKey(plan.Actions)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, plan)
	}
	return out
}

// actionSetKey fingerprints a plan by its distinct action IDs, ignoring
// repetition: two plans are "meaningfully different" when their action sets
// differ by at least one ID.
func actionSetKey(ids []string) string {
	distinct := make(map[string]bool, len(ids))
	var set []string
	for _, id := range ids {
		if !distinct[id] {
			distinct[id] = true
			set = append(set, id)
		}
	}
	sort.Strings(set)
	return strings.Join(set, "|")
}
