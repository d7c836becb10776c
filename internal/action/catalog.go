package action

import (
	"time"

	"qfleet/internal/state"
)

// Catalog returns the default quality-engineering action set. Costs are
// expressed in seconds of executor time; every action reserves its cost from
// resources.timeRemaining, which is what makes tight budgets prune the
// search. Improvement actions always require the matching measurement flag.
func Catalog() []Action {
	mk := func(id, name, agent string, cat Category, cost float64, sr float64,
		pre state.ConditionSet, eff state.EffectSet) Action {
		pre = append(state.ConditionSet{
			{Field: "resources.timeRemaining", Op: state.OpGte, Value: cost},
		}, pre...)
		eff = append(state.EffectSet{
			{Field: "resources.timeRemaining", Op: state.OpDecrease, Value: cost},
		}, eff...)
		return Action{
			ID:               id,
			Name:             name,
			AgentType:        agent,
			Category:         cat,
			Cost:             cost,
			DurationEstimate: time.Duration(cost) * time.Second,
			SuccessRate:      sr,
			Preconditions:    pre,
			Effects:          eff,
		}
	}

	flagTrue := func(field string) state.Effect {
		return state.Effect{Field: field, Op: state.OpSet, Value: true}
	}
	requireFlag := func(field string) state.Condition {
		return state.Condition{Field: field, Op: state.OpEq, Value: true}
	}

	return []Action{
		// Analysis
		mk("analyze-impact", "Analyze Change Impact", "impact-analyzer", CategoryAnalysis, 30, 0.95,
			nil,
			state.EffectSet{flagTrue("context.impactAnalyzed")}),
		mk("measure-coverage", "Measure Test Coverage", "coverage-analyzer", CategoryAnalysis, 60, 0.95,
			nil,
			state.EffectSet{flagTrue("coverage.measured")}),
		mk("analyze-coverage-gaps", "Analyze Coverage Gaps", "coverage-analyzer", CategoryAnalysis, 45, 0.9,
			state.ConditionSet{requireFlag("coverage.measured")},
			state.EffectSet{flagTrue("context.coverageGapsAnalyzed")}),
		mk("measure-complexity", "Measure Code Complexity", "static-analyzer", CategoryAnalysis, 40, 0.95,
			nil,
			state.EffectSet{flagTrue("quality.complexityMeasured")}),

		// Test
		mk("run-unit-tests", "Run Unit Tests", "test-runner", CategoryTest, 90, 0.9,
			nil,
			state.EffectSet{flagTrue("quality.testsMeasured")}),
		mk("run-smoke-tests", "Run Smoke Tests", "test-runner", CategoryTest, 30, 0.95,
			nil,
			state.EffectSet{flagTrue("quality.smokeTestsPassing")}),
		mk("generate-missing-tests", "Generate Missing Tests", "test-generator", CategoryTest, 120, 0.85,
			state.ConditionSet{requireFlag("coverage.measured")},
			state.EffectSet{
				{Field: "coverage.line", Op: state.OpIncrease, Value: 15.0},
				{Field: "coverage.branch", Op: state.OpIncrease, Value: 10.0},
			}),
		mk("generate-bdd-scenarios", "Generate BDD Scenarios", "bdd-generator", CategoryTest, 90, 0.85,
			state.ConditionSet{requireFlag("context.impactAnalyzed")},
			state.EffectSet{flagTrue("context.bddGenerated")}),
		mk("fix-failing-tests", "Fix Failing Tests", "test-fixer", CategoryTest, 150, 0.8,
			state.ConditionSet{requireFlag("quality.testsMeasured")},
			state.EffectSet{{Field: "quality.testsPassing", Op: state.OpIncrease, Value: 20.0}}),
		mk("run-integration-tests", "Run Integration Tests", "test-runner", CategoryTest, 180, 0.85,
			state.ConditionSet{requireFlag("quality.testsMeasured")},
			state.EffectSet{flagTrue("quality.integrationTested")}),
		mk("run-critical-path-tests", "Run Critical Path Tests", "test-runner", CategoryTest, 120, 0.9,
			state.ConditionSet{requireFlag("quality.testsMeasured")},
			state.EffectSet{flagTrue("quality.criticalPathTested")}),
		mk("retry-flaky-tests", "Retry Flaky Tests", "test-runner", CategoryTest, 60, 0.7,
			state.ConditionSet{requireFlag("quality.testsMeasured")},
			state.EffectSet{{Field: "quality.testsPassing", Op: state.OpIncrease, Value: 5.0}}),

		// Security. Remediation costs stay at or above 300s of executor time.
		mk("scan-security", "Scan for Vulnerabilities", "security-scanner", CategorySecurity, 60, 0.95,
			nil,
			state.EffectSet{flagTrue("quality.securityMeasured")}),
		mk("fix-security-issues", "Fix Security Issues", "security-hunter", CategorySecurity, 300, 0.75,
			state.ConditionSet{requireFlag("quality.securityMeasured")},
			state.EffectSet{{Field: "quality.securityScore", Op: state.OpIncrease, Value: 20.0}}),
		mk("harden-dependencies", "Harden Dependencies", "security-hunter", CategorySecurity, 300, 0.8,
			state.ConditionSet{requireFlag("quality.securityMeasured")},
			state.EffectSet{
				{Field: "quality.securityScore", Op: state.OpIncrease, Value: 10.0},
				{Field: "quality.technicalDebt", Op: state.OpDecrease, Value: 5.0},
			}),

		// Performance
		mk("measure-performance", "Measure Performance Baseline", "performance-hunter", CategoryPerformance, 120, 0.9,
			nil,
			state.EffectSet{flagTrue("quality.performanceMeasured")}),
		mk("optimize-performance", "Optimize Hot Paths", "performance-hunter", CategoryPerformance, 240, 0.7,
			state.ConditionSet{requireFlag("quality.performanceMeasured")},
			state.EffectSet{{Field: "quality.performanceScore", Op: state.OpIncrease, Value: 15.0}}),

		// Process
		mk("evaluate-quality-gate", "Evaluate Quality Gate", "gate-keeper", CategoryProcess, 20, 0.98,
			state.ConditionSet{requireFlag("quality.testsMeasured")},
			state.EffectSet{flagTrue("quality.gateEvaluated")}),
		mk("finalize-quality-gate", "Finalize Quality Gate", "gate-keeper", CategoryProcess, 10, 0.98,
			state.ConditionSet{requireFlag("quality.gateEvaluated")},
			state.EffectSet{{Field: "quality.gateStatus", Op: state.OpSet, Value: "passed"}}),
		mk("reduce-technical-debt", "Reduce Technical Debt", "refactorer", CategoryProcess, 200, 0.75,
			state.ConditionSet{requireFlag("quality.complexityMeasured")},
			state.EffectSet{{Field: "quality.technicalDebt", Op: state.OpDecrease, Value: 10.0}}),

		// Fleet
		mk("spawn-agent", "Spawn Executor", "fleet-commander", CategoryFleet, 15, 0.98,
			nil,
			state.EffectSet{{Field: "fleet.activeAgents", Op: state.OpIncrement}}),
		mk("optimize-fleet-topology", "Optimize Fleet Topology", "fleet-commander", CategoryFleet, 45, 0.9,
			state.ConditionSet{{Field: "fleet.activeAgents", Op: state.OpGte, Value: 1.0}},
			state.EffectSet{flagTrue("fleet.topologyOptimized")}),
	}
}

// DefaultRegistry returns a registry loaded with the default catalog.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.RegisterAll(Catalog()); err != nil {
		return nil, err
	}
	return r, nil
}
