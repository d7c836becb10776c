// Package workflow compiles a linear plan into a dependency-annotated step
// sequence. Dependencies are extracted from precondition/effect dataflow:
// a step depends on an earlier step when the earlier one produces a flag the
// later one requires. The compiler is pure.
package workflow

import "qfleet/internal/action"

// Strategy selects how dependencies are laid out.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyAdaptive   Strategy = "adaptive"
)

// StepType is the coarse execution class of a workflow step.
type StepType string

const (
	StepAnalysis           StepType = "analysis"
	StepTestGeneration     StepType = "test-generation"
	StepTestExecution      StepType = "test-execution"
	StepCoverageAnalysis   StepType = "coverage-analysis"
	StepSecurityAnalysis   StepType = "security-analysis"
	StepPerformanceTesting StepType = "performance-testing"
	StepDecisionMaking     StepType = "decision-making"
	StepResourceManagement StepType = "resource-management"
)

// StepStatus tracks a step through dispatch.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Step is one node of the compiled workflow DAG.
type Step struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Type                StepType        `json:"type"`
	DependsOn           []string        `json:"dependsOn"`
	EstimatedDurationMs int64           `json:"estimatedDurationMs"`
	Status              StepStatus      `json:"status"`
	ExecutorType        string          `json:"executorType"`
	Category            action.Category `json:"category"`
	CanRunParallel      bool            `json:"canRunParallel"`
	SourceActionID      string          `json:"sourceActionId"`
}

// stepTypeFor maps an action category (with a generation special case) to a
// step type.
func stepTypeFor(a action.Action) StepType {
	switch a.Category {
	case action.CategoryTest:
		for _, e := range a.Effects {
			if e.Field == "coverage.line" || e.Field == "coverage.branch" {
				return StepTestGeneration
			}
		}
		return StepTestExecution
	case action.CategorySecurity:
		return StepSecurityAnalysis
	case action.CategoryPerformance:
		return StepPerformanceTesting
	case action.CategoryProcess:
		return StepDecisionMaking
	case action.CategoryFleet:
		return StepResourceManagement
	default:
		if a.ProducesFlag("coverage.measured") || a.ProducesFlag("context.coverageGapsAnalyzed") {
			return StepCoverageAnalysis
		}
		return StepAnalysis
	}
}
