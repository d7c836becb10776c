// Package builder assembles a WorldState from measured quality metrics, a
// fleet snapshot, resource budgets and change context. It is pure: every
// inference is deterministic and repeated builds over the same inputs yield
// the same state.
package builder

import (
	"qfleet/internal/action"
	"qfleet/internal/fleet"
	"qfleet/internal/state"
)

// QualityMetrics are the raw measurements feeding the quality sub-record.
type QualityMetrics struct {
	LineCoverage     float64
	BranchCoverage   float64
	FunctionCoverage float64
	CoverageTarget   float64
	TestsPassing     float64
	TechnicalDebt    float64

	// Vulnerability counts by severity, folded into the security score.
	CriticalVulns int
	HighVulns     int
	MediumVulns   int
	LowVulns      int

	// Latency and error profile, folded into the performance score.
	P95LatencyMs float64
	ErrorRate    float64
}

// ResourceBudget bounds what the plan may consume.
type ResourceBudget struct {
	TimeRemainingSec  float64
	MemoryAvailableMB float64
	ParallelSlots     int
}

// ChangeContext describes the change under test. Zero values trigger
// inference: ChangeSize from the impacted-file count, RiskLevel from
// environment, failures and size.
type ChangeContext struct {
	Environment      state.Environment
	ChangeSize       state.ChangeSize
	RiskLevel        state.RiskLevel
	Hotfix           bool
	PreviousFailures int
	ImpactedFiles    []string
	ProjectID        string
}

// Builder composes world states. The fleet registry is optional: without
// one, availableAgents falls back to the catalog's executor types.
type Builder struct {
	actions *action.Registry
	fleet   fleet.Registry
}

// New returns a builder over the action catalog.
func New(actions *action.Registry) *Builder {
	return &Builder{actions: actions}
}

// WithFleet attaches an executor registry.
func (b *Builder) WithFleet(reg fleet.Registry) *Builder {
	b.fleet = reg
	return b
}

// Build assembles the world state. All measurement flags start false; the
// planner must schedule measurement before improvement.
func (b *Builder) Build(m QualityMetrics, r ResourceBudget, cc ChangeContext) state.WorldState {
	w := state.New()

	w.Coverage.Line = clamp(m.LineCoverage)
	w.Coverage.Branch = clamp(m.BranchCoverage)
	w.Coverage.Function = clamp(m.FunctionCoverage)
	w.Coverage.Target = clamp(m.CoverageTarget)

	w.Quality.TestsPassing = clamp(m.TestsPassing)
	w.Quality.TechnicalDebt = m.TechnicalDebt
	w.Quality.SecurityScore = SecurityScore(m.CriticalVulns, m.HighVulns, m.MediumVulns, m.LowVulns)
	w.Quality.PerformanceScore = PerformanceScore(m.P95LatencyMs, m.ErrorRate)

	w.Resources.TimeRemaining = nonNegative(r.TimeRemainingSec)
	w.Resources.MemoryAvailable = nonNegative(r.MemoryAvailableMB)
	if r.ParallelSlots > 0 {
		w.Resources.ParallelSlots = r.ParallelSlots
	}

	w.Context.Environment = cc.Environment
	if w.Context.Environment == "" {
		w.Context.Environment = state.EnvDevelopment
	}
	w.Context.PreviousFailures = cc.PreviousFailures
	w.Context.ImpactedFiles = append([]string(nil), cc.ImpactedFiles...)
	w.Context.ProjectID = cc.ProjectID

	w.Context.ChangeSize = cc.ChangeSize
	if w.Context.ChangeSize == "" {
		w.Context.ChangeSize = InferChangeSize(len(cc.ImpactedFiles))
	}
	w.Context.RiskLevel = cc.RiskLevel
	if w.Context.RiskLevel == "" {
		w.Context.RiskLevel = InferRiskLevel(w.Context.Environment, cc.Hotfix, cc.PreviousFailures, w.Context.ChangeSize)
	}

	b.populateFleet(&w)
	return w
}

// populateFleet fills the fleet record from the registry. With idle
// executors present they become availableAgents; with none, the supported
// types that carry some registered action are listed instead, signalling
// that executors can be spawned on demand.
func (b *Builder) populateFleet(w *state.WorldState) {
	if b.fleet == nil {
		w.Fleet.AvailableAgents = b.actions.AgentTypes()
		return
	}

	typeCounts := make(map[string]int)
	for _, e := range b.fleet.All() {
		typeCounts[e.Type]++
		switch {
		case e.Free():
			w.Fleet.AvailableAgents = append(w.Fleet.AvailableAgents, e.Type)
		default:
			w.Fleet.BusyAgents = append(w.Fleet.BusyAgents, e.Type)
			w.Fleet.ActiveAgents++
		}
	}
	w.Fleet.ActiveAgents += len(w.Fleet.AvailableAgents)
	w.Fleet.AgentTypes = typeCounts

	if len(w.Fleet.AvailableAgents) == 0 {
		actionable := make(map[string]bool)
		for _, t := range b.actions.AgentTypes() {
			actionable[t] = true
		}
		for _, t := range b.fleet.SupportedTypes() {
			if actionable[t] {
				w.Fleet.AvailableAgents = append(w.Fleet.AvailableAgents, t)
			}
		}
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
