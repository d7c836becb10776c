// Package planner implements goal-oriented action planning: A* search from a
// measured world state to a state satisfying a goal condition set, honoring
// cost, category, length and time budgets. The planner is pure and CPU-bound:
// it never performs I/O, never logs, and each call owns its search state.
package planner

import (
	"container/heap"
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"qfleet/internal/action"
	"qfleet/internal/goal"
	"qfleet/internal/state"
	"qfleet/internal/types"
)

// successRateFloor bounds the cost inflation for unreliable actions.
const successRateFloor = 0.05

// Defaults applied when a constraint is zero.
const (
	DefaultMaxIterations = 10000
	DefaultTimeout       = 5 * time.Second
	DefaultMaxPlanLength = 50
)

// Constraints bound a single search.
type Constraints struct {
	MaxIterations     int
	Timeout           time.Duration
	AllowedCategories []action.Category
	ExcludedActions   []string
	MaxPlanLength     int
}

func (c Constraints) withDefaults() Constraints {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxPlanLength <= 0 {
		c.MaxPlanLength = DefaultMaxPlanLength
	}
	return c
}

// Planner searches the registered action catalog. Safe for concurrent Plan
// calls; the registry is read-only during search.
type Planner struct {
	actions *action.Registry
}

// New returns a planner over the given catalog.
func New(actions *action.Registry) *Planner {
	return &Planner{actions: actions}
}

// Plan runs A* from initial toward a state satisfying goalConds. On failure
// it returns a typed error whose kind is one of: unreachable,
// budget_exceeded, timeout, cancelled, no_applicable_action.
func (p *Planner) Plan(ctx context.Context, initial state.WorldState, goalConds state.ConditionSet, c Constraints) (*types.Plan, error) {
	return p.plan(ctx, "", initial, goalConds, c)
}

// PlanGoal plans toward a registered goal, merging the goal's category
// whitelist into the constraints.
func (p *Planner) PlanGoal(ctx context.Context, g goal.Goal, initial state.WorldState, c Constraints) (*types.Plan, error) {
	if len(c.AllowedCategories) == 0 {
		c.AllowedCategories = g.AllowedCategories
	}
	if c.Timeout <= 0 && g.DeadlineBudget > 0 {
		c.Timeout = g.DeadlineBudget
	}
	return p.plan(ctx, g.ID, initial, goalConds(g), c)
}

func goalConds(g goal.Goal) state.ConditionSet { return g.Conditions }

func (p *Planner) plan(ctx context.Context, goalID string, initial state.WorldState, goalConds state.ConditionSet, c Constraints) (*types.Plan, error) {
	if err := goalConds.Validate(); err != nil {
		return nil, err
	}
	c = c.withDefaults()

	candidates := p.candidateActions(c)
	minCost := minActionCost(candidates)

	start := time.Now()
	seq := 0
	root := &node{
		state: initial.Clone(),
		hCost: heuristic(initial, goalConds, minCost),
	}

	open := openSet{root}
	heap.Init(&open)
	closed := make(map[string]float64)

	expandedAny := false
	resourceBlocked := false
	lengthPruned := false

	for iterations := 0; open.Len() > 0; iterations++ {
		select {
		case <-ctx.Done():
			return nil, types.WrapError(types.KindCancelled, ctx.Err(), "search cancelled after %d iterations", iterations)
		default:
		}
		if iterations >= c.MaxIterations {
			return nil, types.NewError(types.KindBudgetExceeded, "iteration budget %d exhausted", c.MaxIterations)
		}
		if time.Since(start) > c.Timeout {
			return nil, types.NewError(types.KindTimeout, "search exceeded %v", c.Timeout)
		}

		current := heap.Pop(&open).(*node)

		if current.state.Satisfies(goalConds) {
			return buildPlan(goalID, initial, current), nil
		}

		key := current.state.Hash()
		if best, seen := closed[key]; seen && best <= current.gCost {
			continue
		}
		closed[key] = current.gCost

		for i := range candidates {
			act := &candidates[i]
			unmet := current.state.Unsatisfied(act.Preconditions)
			if len(unmet) > 0 {
				if onlyResourceConditions(unmet) {
					resourceBlocked = true
				}
				continue
			}
			if current.depth+1 > c.MaxPlanLength {
				lengthPruned = true
				continue
			}
			next := current.state.Apply(act.Effects)
			g := current.gCost + act.Cost/maxFloat(act.SuccessRate, successRateFloor)
			if best, seen := closed[next.Hash()]; seen && best <= g {
				continue
			}
			expandedAny = true
			seq++
			heap.Push(&open, &node{
				state:    next,
				parent:   current,
				act:      act,
				gCost:    g,
				hCost:    heuristic(next, goalConds, minCost),
				duration: current.duration + act.DurationEstimate,
				depth:    current.depth + 1,
				seq:      seq,
			})
		}
	}

	switch {
	case !expandedAny && !resourceBlocked:
		return nil, types.NewError(types.KindNoApplicableAction, "no registered action applies to the initial state")
	case resourceBlocked || lengthPruned:
		return nil, types.NewError(types.KindBudgetExceeded, "goal not reachable within resource budget")
	default:
		return nil, types.NewError(types.KindUnreachable, "no action sequence satisfies the goal")
	}
}

// candidateActions filters the catalog by category whitelist, exclusion list
// and nonzero success rate. The registry returns actions in lexicographic ID
// order, which keeps expansion deterministic.
func (p *Planner) candidateActions(c Constraints) []action.Action {
	excluded := make(map[string]bool, len(c.ExcludedActions))
	for _, id := range c.ExcludedActions {
		excluded[id] = true
	}
	allowed := make(map[action.Category]bool, len(c.AllowedCategories))
	for _, cat := range c.AllowedCategories {
		allowed[cat] = true
	}

	var out []action.Action
	for _, a := range p.actions.All() {
		if a.SuccessRate == 0 {
			continue
		}
		if excluded[a.ID] {
			continue
		}
		if len(allowed) > 0 && !allowed[a.Category] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// onlyResourceConditions reports whether every unmet precondition is on a
// resources.* field, i.e. the action is blocked purely by budget.
func onlyResourceConditions(unmet state.ConditionSet) bool {
	for _, c := range unmet {
		if !strings.HasPrefix(c.Field, "resources.") {
			return false
		}
	}
	return len(unmet) > 0
}

func buildPlan(goalID string, initial state.WorldState, final *node) *types.Plan {
	actions := final.path()
	ids := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	return &types.Plan{
		ID:                  uuid.NewString(),
		GoalID:              goalID,
		Actions:             ids,
		TotalCost:           final.gCost,
		EstimatedDurationMs: final.duration.Milliseconds(),
		InitialState:        initial,
		GoalState:           final.state,
		Status:              types.PlanPending,
		CreatedAt:           time.Now().UTC(),
	}
}

func minActionCost(actions []action.Action) float64 {
	min := 0.0
	for _, a := range actions {
		if min == 0 || a.Cost < min {
			min = a.Cost
		}
	}
	return min
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
