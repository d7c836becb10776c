package planner

import "qfleet/internal/state"

// heuristic estimates remaining cost as normalized goal distance times the
// minimum per-action cost in the catalog. Using the catalog minimum as the
// cost-per-unit-progress multiplier keeps the estimate at or below the real
// remaining cost, so A* stays admissible.
func heuristic(w state.WorldState, goal state.ConditionSet, minActionCost float64) float64 {
	var units float64
	for _, c := range goal {
		if c.Holds(w) {
			continue
		}
		units += conditionDistance(w, c)
	}
	return units * minActionCost
}

// conditionDistance is the per-condition progress estimate: normalized
// numeric distance for threshold operators, 1 for everything else.
func conditionDistance(w state.WorldState, c state.Condition) float64 {
	switch c.Op {
	case state.OpGte, state.OpGt, state.OpLte, state.OpLt:
		cur, ok := w.Get(c.Field)
		if !ok {
			return 1
		}
		current := numeric(cur)
		target := numeric(c.Value)
		d := target - current
		if c.Op == state.OpLte || c.Op == state.OpLt {
			d = current - target
		}
		if d <= 0 {
			return 0
		}
		return d / state.FieldScale(c.Field)
	default:
		// eq / ne / in / exists / matches: one unit of progress outstanding.
		return 1
	}
}

func numeric(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	}
	return 0
}
