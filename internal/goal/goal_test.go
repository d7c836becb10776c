package goal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qfleet/internal/state"
	"qfleet/internal/types"
)

func TestCatalogGoalsAreValid(t *testing.T) {
	for _, g := range Catalog() {
		require.NoError(t, g.Validate(), g.ID)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		g    Goal
	}{
		{"missing id", Goal{Conditions: state.ConditionSet{{Field: "coverage.line", Op: state.OpGte, Value: 80.0}}}},
		{"no conditions", Goal{ID: "empty"}},
		{"unknown field", Goal{ID: "bad", Conditions: state.ConditionSet{{Field: "coverage.lines", Op: state.OpGte, Value: 80.0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Validate()
			require.Error(t, err)
			assert.True(t, types.IsKind(err, types.KindInvalidInput))
		})
	}
}

func TestRegistryIdempotent(t *testing.T) {
	r := NewRegistry()
	cond := state.ConditionSet{{Field: "coverage.line", Op: state.OpGte, Value: 80.0}}
	require.NoError(t, r.Register(Goal{ID: "g", Name: "first", Conditions: cond}))
	require.NoError(t, r.Register(Goal{ID: "g", Name: "second", Conditions: cond}))

	assert.Equal(t, 1, r.Len())
	got, ok := r.Get("g")
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)

	_, err := r.MustGet("ghost")
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func floatPtr(v float64) *float64 { return &v }

func TestCustomizeReplacesThreshold(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	base, err := reg.MustGet("coverage-80")
	require.NoError(t, err)

	custom := Customize(base, Overrides{CoverageTarget: floatPtr(92)})

	found := false
	for _, c := range custom.Conditions {
		if c.Field == "coverage.line" {
			assert.Equal(t, 92.0, c.Value)
			found = true
		}
	}
	assert.True(t, found)

	// Registered goal untouched.
	again, _ := reg.Get("coverage-80")
	assert.Equal(t, 80.0, again.Conditions[0].Value)
}

func TestCustomizeAppendsWhenAbsent(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	base, err := reg.MustGet("coverage-80")
	require.NoError(t, err)

	custom := Customize(base, Overrides{SecurityTarget: floatPtr(85)})

	last := custom.Conditions[len(custom.Conditions)-1]
	assert.Equal(t, "quality.securityScore", last.Field)
	assert.Equal(t, state.OpGte, last.Op)
	assert.Equal(t, 85.0, last.Value)
}

func TestCustomizeRequirements(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	base, err := reg.MustGet("quality-gate-pass")
	require.NoError(t, err)

	custom := Customize(base, Overrides{Requirements: []string{"gdpr", "sox"}})
	require.NoError(t, custom.Validate())

	w := state.New()
	w.Quality.GateStatus = state.GatePassed
	assert.False(t, w.Satisfies(custom.Conditions))

	w.Context.Requirements = []string{"sox", "gdpr", "extra"}
	assert.True(t, w.Satisfies(custom.Conditions))
}
