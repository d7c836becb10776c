package planner

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qfleet/internal/action"
	"qfleet/internal/goal"
	"qfleet/internal/state"
	"qfleet/internal/types"
)

func newPlanner(t *testing.T) (*Planner, *goal.Registry) {
	t.Helper()
	actions, err := action.DefaultRegistry()
	require.NoError(t, err)
	goals, err := goal.DefaultRegistry()
	require.NoError(t, err)
	return New(actions), goals
}

func mustGoal(t *testing.T, goals *goal.Registry, id string) goal.Goal {
	t.Helper()
	g, err := goals.MustGet(id)
	require.NoError(t, err)
	return g
}

func TestPlanCoverageGoal(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Coverage.Line = 50
	w.Resources.TimeRemaining = 900

	plan, err := p.PlanGoal(context.Background(), mustGoal(t, goals, "coverage-80"), w, Constraints{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"measure-coverage",
		"generate-missing-tests",
		"generate-missing-tests",
	}, plan.Actions)
	assert.Equal(t, "coverage-80", plan.GoalID)
	assert.Equal(t, types.PlanPending, plan.Status)
	assert.InDelta(t, 60/0.95+2*120/0.85, plan.TotalCost, 0.01)
	assert.True(t, plan.GoalState.Satisfies(mustGoal(t, goals, "coverage-80").Conditions))
	// Budget accounting carried through the search.
	assert.Equal(t, 600.0, plan.GoalState.Resources.TimeRemaining)
}

func TestPlanTestSuiteGoal(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Quality.TestsPassing = 60
	w.Resources.TimeRemaining = 1000

	g := mustGoal(t, goals, "tests-green")
	plan, err := p.PlanGoal(context.Background(), g, w, Constraints{})
	require.NoError(t, err)

	// Fixing failing tests beats retrying flaky ones on cost per point.
	assert.Equal(t, []string{
		"run-unit-tests",
		"fix-failing-tests",
		"fix-failing-tests",
	}, plan.Actions)

	actions, err := action.DefaultRegistry()
	require.NoError(t, err)
	for _, id := range plan.Actions {
		a, err := actions.MustGet(id)
		require.NoError(t, err)
		assert.Equal(t, action.CategoryTest, a.Category, "goal whitelist leaked action %s", id)
	}
}

func TestPlanSatisfiedGoalIsEmpty(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Coverage.Line = 85
	w.Coverage.Measured = true
	w.Resources.TimeRemaining = 600

	plan, err := p.PlanGoal(context.Background(), mustGoal(t, goals, "coverage-80"), w, Constraints{})
	require.NoError(t, err)
	assert.Empty(t, plan.Actions)
	assert.Equal(t, 0.0, plan.TotalCost)
}

func TestPlanBudgetExceeded(t *testing.T) {
	p, goals := newPlanner(t)

	// Scanning fits the budget but every remediation action costs more time
	// than remains afterwards.
	w := state.New()
	w.Resources.TimeRemaining = 100

	_, err := p.PlanGoal(context.Background(), mustGoal(t, goals, "security-hardened"), w, Constraints{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindBudgetExceeded), "got %v", err)
}

func TestPlanUnreachable(t *testing.T) {
	// A catalog whose only action can never produce the goal flag. No budget
	// gating, so exhaustion of the search space is attributed to the goal,
	// not the budget.
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(action.Action{
		ID:          "mark-impact",
		Name:        "Mark Impact Analyzed",
		AgentType:   "impact-analyzer",
		Category:    action.CategoryAnalysis,
		Cost:        10,
		SuccessRate: 0.9,
		Effects: state.EffectSet{
			{Field: "context.impactAnalyzed", Op: state.OpSet, Value: true},
		},
	}))
	p := New(reg)

	goalConds := state.ConditionSet{
		{Field: "quality.securityMeasured", Op: state.OpEq, Value: true},
	}
	_, err := p.Plan(context.Background(), state.New(), goalConds, Constraints{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindUnreachable), "got %v", err)
}

func TestPlanNoApplicableAction(t *testing.T) {
	reg := action.NewRegistry()
	require.NoError(t, reg.Register(action.Action{
		ID:          "needs-measurement",
		Name:        "Needs Measurement",
		AgentType:   "test-fixer",
		Category:    action.CategoryTest,
		Cost:        10,
		SuccessRate: 0.9,
		Preconditions: state.ConditionSet{
			{Field: "quality.testsMeasured", Op: state.OpEq, Value: true},
		},
		Effects: state.EffectSet{
			{Field: "quality.testsPassing", Op: state.OpIncrease, Value: 10.0},
		},
	}))
	p := New(reg)

	goalConds := state.ConditionSet{
		{Field: "quality.testsPassing", Op: state.OpGte, Value: 95.0},
	}
	_, err := p.Plan(context.Background(), state.New(), goalConds, Constraints{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindNoApplicableAction), "got %v", err)
}

func TestPlanTimeout(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Resources.TimeRemaining = 100000

	_, err := p.PlanGoal(context.Background(), mustGoal(t, goals, "release-readiness"), w,
		Constraints{Timeout: time.Nanosecond})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTimeout), "got %v", err)
}

func TestPlanCancelled(t *testing.T) {
	p, goals := newPlanner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := state.New()
	w.Resources.TimeRemaining = 900

	_, err := p.PlanGoal(ctx, mustGoal(t, goals, "coverage-80"), w, Constraints{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindCancelled), "got %v", err)
}

func TestPlanIterationBudget(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Resources.TimeRemaining = 900

	_, err := p.PlanGoal(context.Background(), mustGoal(t, goals, "coverage-80"), w,
		Constraints{MaxIterations: 1})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindBudgetExceeded), "got %v", err)
}

func TestPlanInvalidGoalConditions(t *testing.T) {
	p, _ := newPlanner(t)

	bad := state.ConditionSet{{Field: "coverage.lines", Op: state.OpGte, Value: 80.0}}
	_, err := p.Plan(context.Background(), state.New(), bad, Constraints{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidInput), "got %v", err)
}

func TestPlanDeterministic(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Quality.TestsPassing = 60
	w.Resources.TimeRemaining = 1000
	g := mustGoal(t, goals, "tests-green")

	first, err := p.PlanGoal(context.Background(), g, w, Constraints{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.PlanGoal(context.Background(), g, w, Constraints{})
		require.NoError(t, err)
		if diff := cmp.Diff(first.Actions, again.Actions); diff != "" {
			t.Fatalf("plan differs between runs (-first +again):\n%s", diff)
		}
		assert.Equal(t, first.TotalCost, again.TotalCost)
	}
}

func TestPlanDoesNotMutateInitialState(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Coverage.Line = 50
	w.Resources.TimeRemaining = 900

	_, err := p.PlanGoal(context.Background(), mustGoal(t, goals, "coverage-80"), w, Constraints{})
	require.NoError(t, err)
	assert.Equal(t, 50.0, w.Coverage.Line)
	assert.Equal(t, 900.0, w.Resources.TimeRemaining)
}

func TestExcludedActionsRespected(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Quality.TestsPassing = 60
	w.Resources.TimeRemaining = 1000

	g := mustGoal(t, goals, "tests-green")
	plan, err := p.PlanGoal(context.Background(), g, w, Constraints{
		ExcludedActions: []string{"fix-failing-tests"},
	})
	require.NoError(t, err)
	assert.NotContains(t, plan.Actions, "fix-failing-tests")
	assert.Contains(t, plan.Actions, "retry-flaky-tests")
}

func TestAlternatives(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Quality.TestsPassing = 60
	w.Resources.TimeRemaining = 1000

	g := mustGoal(t, goals, "tests-green")
	c := Constraints{AllowedCategories: g.AllowedCategories}
	base, err := p.PlanGoal(context.Background(), g, w, c)
	require.NoError(t, err)

	alts := p.Alternatives(context.Background(), w, g.Conditions, c, base)
	require.NotEmpty(t, alts)
	assert.LessOrEqual(t, len(alts), MaxAlternatives)

	baseKey := actionSetKey(base.Actions)
	seen := map[string]bool{baseKey: true}
	for _, alt := range alts {
		key := actionSetKey(alt.Actions)
		assert.False(t, seen[key], "alternative repeats action set %s", key)
		seen[key] = true
	}

	// Excluding the improvement action forces the flaky-retry fallback.
	assert.NotContains(t, alts[0].Actions, "fix-failing-tests")
	assert.Contains(t, alts[0].Actions, "retry-flaky-tests")
}

func TestAlternativesNeverExcludeMeasurement(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Coverage.Line = 50
	w.Resources.TimeRemaining = 2000

	g := mustGoal(t, goals, "coverage-80")
	base, err := p.PlanGoal(context.Background(), g, w, Constraints{})
	require.NoError(t, err)

	alts := p.Alternatives(context.Background(), w, g.Conditions, Constraints{}, base)
	for _, alt := range alts {
		assert.Contains(t, alt.Actions, "measure-coverage")
	}
}

func TestReplanExcludesFailedAction(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Quality.TestsPassing = 60
	w.Resources.TimeRemaining = 1000
	g := mustGoal(t, goals, "tests-green")

	base, err := p.PlanGoal(context.Background(), g, w, Constraints{})
	require.NoError(t, err)
	require.Contains(t, base.Actions, "fix-failing-tests")

	// State after the first step succeeded and the fixer then failed.
	current := w.Apply(state.EffectSet{
		{Field: "quality.testsMeasured", Op: state.OpSet, Value: true},
		{Field: "resources.timeRemaining", Op: state.OpDecrease, Value: 90.0},
	})

	replanned, err := p.Replan(context.Background(), current, g.Conditions, base, "fix-failing-tests",
		Constraints{AllowedCategories: g.AllowedCategories})
	require.NoError(t, err)
	assert.NotContains(t, replanned.Actions, "fix-failing-tests")
	assert.Contains(t, replanned.Actions, "retry-flaky-tests")
	assert.Equal(t, base.ID, replanned.ReplannedFrom)
	assert.Equal(t, g.ID, replanned.GoalID)
}

func TestReplanKeepsMeasurementActions(t *testing.T) {
	p, goals := newPlanner(t)

	w := state.New()
	w.Coverage.Line = 50
	w.Resources.TimeRemaining = 900
	g := mustGoal(t, goals, "coverage-80")

	base, err := p.PlanGoal(context.Background(), g, w, Constraints{})
	require.NoError(t, err)

	// Measurement failures are retried, not banned: excluding the only flag
	// producer would make the goal unreachable.
	replanned, err := p.Replan(context.Background(), w, g.Conditions, base, "measure-coverage", Constraints{})
	require.NoError(t, err)
	assert.Contains(t, replanned.Actions, "measure-coverage")
}
