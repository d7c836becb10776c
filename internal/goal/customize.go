package goal

import "qfleet/internal/state"

// Overrides carries per-request adjustments to a named goal. Nil pointers
// leave the registered thresholds untouched.
type Overrides struct {
	CoverageTarget    *float64
	SecurityTarget    *float64
	PerformanceTarget *float64
	TestsPassing      *float64
	// Requirements are free-form tokens appended as membership conditions on
	// context.requirements.
	Requirements []string
}

// thresholdFields maps an override to the condition field it retargets.
var thresholdFields = []struct {
	field  string
	pick   func(Overrides) *float64
}{
	{"coverage.line", func(o Overrides) *float64 { return o.CoverageTarget }},
	{"quality.securityScore", func(o Overrides) *float64 { return o.SecurityTarget }},
	{"quality.performanceScore", func(o Overrides) *float64 { return o.PerformanceTarget }},
	{"quality.testsPassing", func(o Overrides) *float64 { return o.TestsPassing }},
}

// Customize returns a copy of the goal with numeric thresholds replaced and
// requirement conditions appended. The registered goal is never mutated.
func Customize(g Goal, o Overrides) Goal {
	out := g
	out.Conditions = append(state.ConditionSet(nil), g.Conditions...)

	for _, tf := range thresholdFields {
		target := tf.pick(o)
		if target == nil {
			continue
		}
		replaced := false
		for i, c := range out.Conditions {
			if c.Field == tf.field && (c.Op == state.OpGte || c.Op == state.OpGt) {
				out.Conditions[i].Value = *target
				replaced = true
			}
		}
		if !replaced {
			out.Conditions = append(out.Conditions, state.Condition{
				Field: tf.field, Op: state.OpGte, Value: *target,
			})
		}
	}

	for _, req := range o.Requirements {
		out.Conditions = append(out.Conditions, state.Condition{
			Field: "context.requirements", Op: state.OpIn, Value: req,
		})
	}
	return out
}
