package state

import "sort"

// FieldKind is the declared type of a state field. Condition and effect
// operators are validated against it at registration time.
type FieldKind int

const (
	KindPercent FieldKind = iota // numeric, clamped to [0,100]
	KindNumber                   // numeric, clamped to >= 0
	KindCount                    // integer, clamped to >= 0
	KindBool
	KindString
	KindStringList
	KindStringMap
)

type fieldDef struct {
	kind FieldKind
	get  func(*WorldState) interface{}
	set  func(*WorldState, interface{})
}

// fields is the closed schema of addressable state fields. Conditions and
// effects referencing names outside this table are rejected at registration.
var fields = map[string]fieldDef{
	"coverage.line": {KindPercent,
		func(w *WorldState) interface{} { return w.Coverage.Line },
		func(w *WorldState, v interface{}) { w.Coverage.Line = clampPercent(toFloat(v)) }},
	"coverage.branch": {KindPercent,
		func(w *WorldState) interface{} { return w.Coverage.Branch },
		func(w *WorldState, v interface{}) { w.Coverage.Branch = clampPercent(toFloat(v)) }},
	"coverage.function": {KindPercent,
		func(w *WorldState) interface{} { return w.Coverage.Function },
		func(w *WorldState, v interface{}) { w.Coverage.Function = clampPercent(toFloat(v)) }},
	"coverage.target": {KindPercent,
		func(w *WorldState) interface{} { return w.Coverage.Target },
		func(w *WorldState, v interface{}) { w.Coverage.Target = clampPercent(toFloat(v)) }},
	"coverage.measured": {KindBool,
		func(w *WorldState) interface{} { return w.Coverage.Measured },
		func(w *WorldState, v interface{}) { w.Coverage.Measured = toBool(v) }},

	"quality.testsPassing": {KindPercent,
		func(w *WorldState) interface{} { return w.Quality.TestsPassing },
		func(w *WorldState, v interface{}) { w.Quality.TestsPassing = clampPercent(toFloat(v)) }},
	"quality.securityScore": {KindPercent,
		func(w *WorldState) interface{} { return w.Quality.SecurityScore },
		func(w *WorldState, v interface{}) { w.Quality.SecurityScore = clampPercent(toFloat(v)) }},
	"quality.performanceScore": {KindPercent,
		func(w *WorldState) interface{} { return w.Quality.PerformanceScore },
		func(w *WorldState, v interface{}) { w.Quality.PerformanceScore = clampPercent(toFloat(v)) }},
	"quality.technicalDebt": {KindNumber,
		func(w *WorldState) interface{} { return w.Quality.TechnicalDebt },
		func(w *WorldState, v interface{}) { w.Quality.TechnicalDebt = clampNonNegative(toFloat(v)) }},
	"quality.gateStatus": {KindString,
		func(w *WorldState) interface{} { return string(w.Quality.GateStatus) },
		func(w *WorldState, v interface{}) { w.Quality.GateStatus = GateStatus(toString(v)) }},
	"quality.testsMeasured": {KindBool,
		func(w *WorldState) interface{} { return w.Quality.TestsMeasured },
		func(w *WorldState, v interface{}) { w.Quality.TestsMeasured = toBool(v) }},
	"quality.integrationTested": {KindBool,
		func(w *WorldState) interface{} { return w.Quality.IntegrationTested },
		func(w *WorldState, v interface{}) { w.Quality.IntegrationTested = toBool(v) }},
	"quality.securityMeasured": {KindBool,
		func(w *WorldState) interface{} { return w.Quality.SecurityMeasured },
		func(w *WorldState, v interface{}) { w.Quality.SecurityMeasured = toBool(v) }},
	"quality.performanceMeasured": {KindBool,
		func(w *WorldState) interface{} { return w.Quality.PerformanceMeasured },
		func(w *WorldState, v interface{}) { w.Quality.PerformanceMeasured = toBool(v) }},
	"quality.complexityMeasured": {KindBool,
		func(w *WorldState) interface{} { return w.Quality.ComplexityMeasured },
		func(w *WorldState, v interface{}) { w.Quality.ComplexityMeasured = toBool(v) }},
	"quality.gateEvaluated": {KindBool,
		func(w *WorldState) interface{} { return w.Quality.GateEvaluated },
		func(w *WorldState, v interface{}) { w.Quality.GateEvaluated = toBool(v) }},
	"quality.smokeTestsPassing": {KindBool,
		func(w *WorldState) interface{} { return w.Quality.SmokeTestsPassing },
		func(w *WorldState, v interface{}) { w.Quality.SmokeTestsPassing = toBool(v) }},
	"quality.criticalPathTested": {KindBool,
		func(w *WorldState) interface{} { return w.Quality.CriticalPathTested },
		func(w *WorldState, v interface{}) { w.Quality.CriticalPathTested = toBool(v) }},

	"fleet.activeAgents": {KindCount,
		func(w *WorldState) interface{} { return float64(w.Fleet.ActiveAgents) },
		func(w *WorldState, v interface{}) { w.Fleet.ActiveAgents = clampCount(toFloat(v)) }},
	"fleet.availableAgents": {KindStringList,
		func(w *WorldState) interface{} { return w.Fleet.AvailableAgents },
		func(w *WorldState, v interface{}) { w.Fleet.AvailableAgents = toStringList(v) }},
	"fleet.busyAgents": {KindStringList,
		func(w *WorldState) interface{} { return w.Fleet.BusyAgents },
		func(w *WorldState, v interface{}) { w.Fleet.BusyAgents = toStringList(v) }},
	"fleet.agentTypes": {KindStringMap,
		func(w *WorldState) interface{} { return w.Fleet.AgentTypes },
		func(w *WorldState, v interface{}) {}},
	"fleet.topologyOptimized": {KindBool,
		func(w *WorldState) interface{} { return w.Fleet.TopologyOptimized },
		func(w *WorldState, v interface{}) { w.Fleet.TopologyOptimized = toBool(v) }},

	"resources.timeRemaining": {KindNumber,
		func(w *WorldState) interface{} { return w.Resources.TimeRemaining },
		func(w *WorldState, v interface{}) { w.Resources.TimeRemaining = clampNonNegative(toFloat(v)) }},
	"resources.memoryAvailable": {KindNumber,
		func(w *WorldState) interface{} { return w.Resources.MemoryAvailable },
		func(w *WorldState, v interface{}) { w.Resources.MemoryAvailable = clampNonNegative(toFloat(v)) }},
	"resources.parallelSlots": {KindCount,
		func(w *WorldState) interface{} { return float64(w.Resources.ParallelSlots) },
		func(w *WorldState, v interface{}) { w.Resources.ParallelSlots = clampCount(toFloat(v)) }},

	"context.environment": {KindString,
		func(w *WorldState) interface{} { return string(w.Context.Environment) },
		func(w *WorldState, v interface{}) { w.Context.Environment = Environment(toString(v)) }},
	"context.changeSize": {KindString,
		func(w *WorldState) interface{} { return string(w.Context.ChangeSize) },
		func(w *WorldState, v interface{}) { w.Context.ChangeSize = ChangeSize(toString(v)) }},
	"context.riskLevel": {KindString,
		func(w *WorldState) interface{} { return string(w.Context.RiskLevel) },
		func(w *WorldState, v interface{}) { w.Context.RiskLevel = RiskLevel(toString(v)) }},
	"context.previousFailures": {KindCount,
		func(w *WorldState) interface{} { return float64(w.Context.PreviousFailures) },
		func(w *WorldState, v interface{}) { w.Context.PreviousFailures = clampCount(toFloat(v)) }},
	"context.impactedFiles": {KindStringList,
		func(w *WorldState) interface{} { return w.Context.ImpactedFiles },
		func(w *WorldState, v interface{}) { w.Context.ImpactedFiles = toStringList(v) }},
	"context.projectId": {KindString,
		func(w *WorldState) interface{} { return w.Context.ProjectID },
		func(w *WorldState, v interface{}) { w.Context.ProjectID = toString(v) }},
	"context.requirements": {KindStringList,
		func(w *WorldState) interface{} { return w.Context.Requirements },
		func(w *WorldState, v interface{}) { w.Context.Requirements = toStringList(v) }},
	"context.impactAnalyzed": {KindBool,
		func(w *WorldState) interface{} { return w.Context.ImpactAnalyzed },
		func(w *WorldState, v interface{}) { w.Context.ImpactAnalyzed = toBool(v) }},
	"context.coverageGapsAnalyzed": {KindBool,
		func(w *WorldState) interface{} { return w.Context.CoverageGapsAnalyzed },
		func(w *WorldState, v interface{}) { w.Context.CoverageGapsAnalyzed = toBool(v) }},
	"context.bddGenerated": {KindBool,
		func(w *WorldState) interface{} { return w.Context.BDDGenerated },
		func(w *WorldState, v interface{}) { w.Context.BDDGenerated = toBool(v) }},
}

var fieldNames = func() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}()

// FieldNames returns all addressable field names in stable order.
func FieldNames() []string {
	return append([]string(nil), fieldNames...)
}

// FieldType returns the declared kind of a field, and whether it exists.
func FieldType(name string) (FieldKind, bool) {
	def, ok := fields[name]
	return def.kind, ok
}

// Get reads a field value by name. The second result is false for unknown
// fields.
func (w *WorldState) Get(name string) (interface{}, bool) {
	def, ok := fields[name]
	if !ok {
		return nil, false
	}
	return def.get(w), true
}

// FieldScale is the normalization denominator the planner heuristic uses for
// a numeric field: percentage-typed fields span 100 units, counts span 1.
func FieldScale(name string) float64 {
	if def, ok := fields[name]; ok && def.kind == KindPercent {
		return 100
	}
	return 1
}

// Numeric reports whether a field kind supports ordered comparison and
// arithmetic effects.
func (k FieldKind) Numeric() bool {
	return k == KindPercent || k == KindNumber || k == KindCount
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampCount(v float64) int {
	if v < 0 {
		return 0
	}
	return int(v)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	}
	return 0
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		return b == "true"
	}
	return false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toStringList(v interface{}) []string {
	switch l := v.(type) {
	case []string:
		return append([]string(nil), l...)
	case []interface{}:
		out := make([]string, 0, len(l))
		for _, item := range l {
			out = append(out, toString(item))
		}
		return out
	case string:
		return []string{l}
	}
	return nil
}
