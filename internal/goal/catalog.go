package goal

import (
	"time"

	"qfleet/internal/action"
	"qfleet/internal/state"
)

// Catalog returns the default named goals.
func Catalog() []Goal {
	return []Goal{
		{
			ID:       "coverage-80",
			Name:     "Line Coverage At 80 Percent",
			Priority: 5,
			Conditions: state.ConditionSet{
				{Field: "coverage.line", Op: state.OpGte, Value: 80.0},
				{Field: "coverage.measured", Op: state.OpEq, Value: true},
			},
		},
		{
			ID:       "tests-green",
			Name:     "Test Suite Passing",
			Priority: 8,
			AllowedCategories: []action.Category{
				action.CategoryTest,
			},
			Conditions: state.ConditionSet{
				{Field: "quality.testsMeasured", Op: state.OpEq, Value: true},
				{Field: "quality.testsPassing", Op: state.OpGte, Value: 95.0},
			},
		},
		{
			ID:       "quality-gate-pass",
			Name:     "Quality Gate Passed",
			Priority: 10,
			Conditions: state.ConditionSet{
				{Field: "quality.gateStatus", Op: state.OpEq, Value: "passed"},
			},
		},
		{
			ID:       "security-hardened",
			Name:     "Security Score Hardened",
			Priority: 9,
			Conditions: state.ConditionSet{
				{Field: "quality.securityMeasured", Op: state.OpEq, Value: true},
				{Field: "quality.securityScore", Op: state.OpGte, Value: 90.0},
			},
		},
		{
			ID:       "performance-baseline",
			Name:     "Performance Baseline Held",
			Priority: 6,
			Conditions: state.ConditionSet{
				{Field: "quality.performanceMeasured", Op: state.OpEq, Value: true},
				{Field: "quality.performanceScore", Op: state.OpGte, Value: 85.0},
			},
		},
		{
			ID:             "release-readiness",
			Name:           "Release Readiness Sweep",
			Priority:       10,
			DeadlineBudget: 2 * time.Hour,
			Conditions: state.ConditionSet{
				{Field: "coverage.line", Op: state.OpGte, Value: 80.0},
				{Field: "quality.testsPassing", Op: state.OpGte, Value: 95.0},
				{Field: "quality.integrationTested", Op: state.OpEq, Value: true},
				{Field: "quality.smokeTestsPassing", Op: state.OpEq, Value: true},
				{Field: "quality.gateStatus", Op: state.OpEq, Value: "passed"},
			},
		},
	}
}

// DefaultRegistry returns a registry loaded with the default goals.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, g := range Catalog() {
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}
