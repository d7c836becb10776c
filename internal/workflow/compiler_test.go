package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qfleet/internal/action"
	"qfleet/internal/types"
)

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	reg, err := action.DefaultRegistry()
	require.NoError(t, err)
	return NewCompiler(reg)
}

func gatePlan() *types.Plan {
	return &types.Plan{
		ID:     "plan-1",
		Actions: []string{"run-unit-tests", "evaluate-quality-gate", "finalize-quality-gate"},
	}
}

func TestCompileSequential(t *testing.T) {
	c := newCompiler(t)

	steps, err := c.Compile(gatePlan(), StrategySequential)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Empty(t, steps[0].DependsOn)
	assert.Equal(t, []string{steps[0].ID}, steps[1].DependsOn)
	assert.Equal(t, []string{steps[1].ID}, steps[2].DependsOn)
	for _, s := range steps {
		assert.Equal(t, StepPending, s.Status)
		assert.False(t, s.CanRunParallel)
	}
}

func TestCompileParallelDataflow(t *testing.T) {
	c := newCompiler(t)

	steps, err := c.Compile(gatePlan(), StrategyParallel)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	// evaluate needs quality.testsMeasured from run-unit-tests; finalize
	// needs quality.gateEvaluated from evaluate.
	assert.Empty(t, steps[0].DependsOn)
	assert.Equal(t, []string{steps[0].ID}, steps[1].DependsOn)
	assert.Equal(t, []string{steps[1].ID}, steps[2].DependsOn)
}

func TestCompileParallelIndependentSteps(t *testing.T) {
	c := newCompiler(t)

	plan := &types.Plan{
		ID:      "plan-2",
		Actions: []string{"measure-coverage", "scan-security", "generate-missing-tests"},
	}
	steps, err := c.Compile(plan, StrategyParallel)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	// Scanning shares no dataflow with coverage measurement.
	assert.Empty(t, steps[0].DependsOn)
	assert.Empty(t, steps[1].DependsOn)
	assert.Equal(t, []string{steps[0].ID}, steps[2].DependsOn)
}

func TestCompileAdaptiveMarksRoots(t *testing.T) {
	c := newCompiler(t)

	plan := &types.Plan{
		ID:      "plan-3",
		Actions: []string{"measure-coverage", "scan-security", "generate-missing-tests"},
	}
	steps, err := c.Compile(plan, StrategyAdaptive)
	require.NoError(t, err)

	assert.True(t, steps[0].CanRunParallel)
	assert.True(t, steps[1].CanRunParallel)
	assert.False(t, steps[2].CanRunParallel)
}

func TestCompileNearestProducerWins(t *testing.T) {
	c := newCompiler(t)

	// Two producers of quality.testsMeasured; the dependent step must bind
	// to the later one.
	plan := &types.Plan{
		ID:      "plan-4",
		Actions: []string{"run-unit-tests", "run-unit-tests", "fix-failing-tests"},
	}
	steps, err := c.Compile(plan, StrategyParallel)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{steps[1].ID}, steps[2].DependsOn)
}

func TestCompileStepMetadata(t *testing.T) {
	c := newCompiler(t)

	plan := &types.Plan{
		ID:      "plan-5",
		Actions: []string{"measure-coverage", "generate-missing-tests", "run-unit-tests", "scan-security", "finalize-quality-gate", "spawn-agent"},
	}
	steps, err := c.Compile(plan, StrategySequential)
	require.NoError(t, err)
	require.Len(t, steps, 6)

	assert.Equal(t, "step-1-measure-coverage", steps[0].ID)
	assert.Equal(t, StepCoverageAnalysis, steps[0].Type)
	assert.Equal(t, StepTestGeneration, steps[1].Type)
	assert.Equal(t, StepTestExecution, steps[2].Type)
	assert.Equal(t, StepSecurityAnalysis, steps[3].Type)
	assert.Equal(t, StepDecisionMaking, steps[4].Type)
	assert.Equal(t, StepResourceManagement, steps[5].Type)

	assert.Equal(t, "coverage-analyzer", steps[0].ExecutorType)
	assert.Equal(t, int64(60000), steps[0].EstimatedDurationMs)
	assert.Equal(t, "measure-coverage", steps[0].SourceActionID)
}

func TestCompileRejections(t *testing.T) {
	c := newCompiler(t)

	_, err := c.Compile(nil, StrategySequential)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))

	_, err = c.Compile(&types.Plan{ID: "empty"}, StrategySequential)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))

	_, err = c.Compile(gatePlan(), Strategy("zigzag"))
	assert.True(t, types.IsKind(err, types.KindInvalidInput))

	_, err = c.Compile(&types.Plan{ID: "ghost", Actions: []string{"no-such-action"}}, StrategySequential)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}
