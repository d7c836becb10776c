// Package state defines the symbolic world model the planner searches over:
// a typed snapshot of coverage, quality, fleet, resource and context facts,
// plus the condition and effect operators that read and mutate it.
package state

// Environment is the deployment environment the change targets.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ChangeSize buckets a change by its file footprint.
type ChangeSize string

const (
	ChangeSmall  ChangeSize = "small"
	ChangeMedium ChangeSize = "medium"
	ChangeLarge  ChangeSize = "large"
)

// RiskLevel is the inferred or declared risk of the change under test.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// GateStatus tracks the quality gate lifecycle.
type GateStatus string

const (
	GatePending            GateStatus = "pending"
	GatePassed             GateStatus = "passed"
	GateFailed             GateStatus = "failed"
	GateExceptionRequested GateStatus = "exception_requested"
)

// Coverage holds measured coverage percentages. Percentages live in [0,100].
type Coverage struct {
	Line     float64 `json:"line"`
	Branch   float64 `json:"branch"`
	Function float64 `json:"function"`
	Target   float64 `json:"target"`
	Measured bool    `json:"measured"`
}

// Quality holds quality scores and the measurement flags that gate
// improvement actions.
type Quality struct {
	TestsPassing     float64    `json:"testsPassing"`
	SecurityScore    float64    `json:"securityScore"`
	PerformanceScore float64    `json:"performanceScore"`
	TechnicalDebt    float64    `json:"technicalDebt"`
	GateStatus       GateStatus `json:"gateStatus"`

	TestsMeasured       bool `json:"testsMeasured"`
	IntegrationTested   bool `json:"integrationTested"`
	SecurityMeasured    bool `json:"securityMeasured"`
	PerformanceMeasured bool `json:"performanceMeasured"`
	ComplexityMeasured  bool `json:"complexityMeasured"`
	GateEvaluated       bool `json:"gateEvaluated"`
	SmokeTestsPassing   bool `json:"smokeTestsPassing"`
	CriticalPathTested  bool `json:"criticalPathTested"`
}

// Fleet is the planner's view of available executors.
type Fleet struct {
	ActiveAgents      int            `json:"activeAgents"`
	AvailableAgents   []string       `json:"availableAgents"`
	BusyAgents        []string       `json:"busyAgents"`
	AgentTypes        map[string]int `json:"agentTypes"`
	TopologyOptimized bool           `json:"topologyOptimized"`
}

// Resources is the remaining planning budget.
type Resources struct {
	TimeRemaining   float64 `json:"timeRemaining"`   // seconds
	MemoryAvailable float64 `json:"memoryAvailable"` // MB
	ParallelSlots   int     `json:"parallelSlots"`
}

// Context describes the change being quality-checked.
type Context struct {
	Environment      Environment `json:"environment"`
	ChangeSize       ChangeSize  `json:"changeSize"`
	RiskLevel        RiskLevel   `json:"riskLevel"`
	PreviousFailures int         `json:"previousFailures"`
	ImpactedFiles    []string    `json:"impactedFiles"`
	ProjectID        string      `json:"projectId,omitempty"`
	Requirements     []string    `json:"requirements,omitempty"`

	ImpactAnalyzed       bool `json:"impactAnalyzed"`
	CoverageGapsAnalyzed bool `json:"coverageGapsAnalyzed"`
	BDDGenerated         bool `json:"bddGenerated"`
}

// WorldState is the composite symbolic state. It is a value type: Apply and
// the planner always work on copies, never in place on a shared instance.
type WorldState struct {
	Coverage  Coverage  `json:"coverage"`
	Quality   Quality   `json:"quality"`
	Fleet     Fleet     `json:"fleet"`
	Resources Resources `json:"resources"`
	Context   Context   `json:"context"`
}

// New returns a world state with neutral defaults: nothing measured, gate
// pending, development environment.
func New() WorldState {
	return WorldState{
		Quality: Quality{GateStatus: GatePending},
		Fleet:   Fleet{AgentTypes: map[string]int{}},
		Context: Context{
			Environment: EnvDevelopment,
			ChangeSize:  ChangeSmall,
			RiskLevel:   RiskLow,
		},
	}
}

// Clone deep-copies the state, including slices and maps.
func (w WorldState) Clone() WorldState {
	c := w
	c.Fleet.AvailableAgents = append([]string(nil), w.Fleet.AvailableAgents...)
	c.Fleet.BusyAgents = append([]string(nil), w.Fleet.BusyAgents...)
	if w.Fleet.AgentTypes != nil {
		c.Fleet.AgentTypes = make(map[string]int, len(w.Fleet.AgentTypes))
		for k, v := range w.Fleet.AgentTypes {
			c.Fleet.AgentTypes[k] = v
		}
	}
	c.Context.ImpactedFiles = append([]string(nil), w.Context.ImpactedFiles...)
	c.Context.Requirements = append([]string(nil), w.Context.Requirements...)
	return c
}
