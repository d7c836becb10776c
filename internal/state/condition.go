package state

import (
	"fmt"
	"regexp"

	"qfleet/internal/types"
)

// CondOp is a condition operator over a single field.
type CondOp string

const (
	OpEq      CondOp = "eq"
	OpNe      CondOp = "ne"
	OpLt      CondOp = "lt"
	OpLte     CondOp = "lte"
	OpGt      CondOp = "gt"
	OpGte     CondOp = "gte"
	OpIn      CondOp = "in"
	OpExists  CondOp = "exists"
	OpMatches CondOp = "matches"
)

// Condition is a single predicate on a named state field.
type Condition struct {
	Field string      `json:"field" yaml:"field"`
	Op    CondOp      `json:"op" yaml:"op"`
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// ConditionSet is satisfied iff every condition holds.
type ConditionSet []Condition

// Validate checks that the condition references a known field with an
// operator compatible with the field's declared kind.
func (c Condition) Validate() error {
	kind, ok := FieldType(c.Field)
	if !ok {
		return types.NewError(types.KindInvalidInput, "condition references unknown field %q", c.Field)
	}
	switch c.Op {
	case OpEq, OpNe, OpIn, OpExists:
		return nil
	case OpLt, OpLte, OpGt, OpGte:
		if !kind.Numeric() {
			return types.NewError(types.KindInvalidInput,
				"operator %q requires a numeric field, %q is not", c.Op, c.Field)
		}
		return nil
	case OpMatches:
		if kind != KindString {
			return types.NewError(types.KindInvalidInput,
				"operator %q requires a string field, %q is not", c.Op, c.Field)
		}
		if _, err := regexp.Compile(toString(c.Value)); err != nil {
			return types.WrapError(types.KindInvalidInput, err, "invalid pattern for field %q", c.Field)
		}
		return nil
	default:
		return types.NewError(types.KindInvalidInput, "unknown condition operator %q", c.Op)
	}
}

// Validate checks every condition in the set.
func (cs ConditionSet) Validate() error {
	for _, c := range cs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Holds evaluates the condition against a world state. Unknown fields
// evaluate false.
func (c Condition) Holds(w WorldState) bool {
	val, ok := w.Get(c.Field)
	if !ok {
		return false
	}
	kind, _ := FieldType(c.Field)

	switch c.Op {
	case OpEq:
		return equalValue(kind, val, c.Value)
	case OpNe:
		return !equalValue(kind, val, c.Value)
	case OpLt:
		return toFloat(val) < toFloat(c.Value)
	case OpLte:
		return toFloat(val) <= toFloat(c.Value)
	case OpGt:
		return toFloat(val) > toFloat(c.Value)
	case OpGte:
		return toFloat(val) >= toFloat(c.Value)
	case OpIn:
		return membership(kind, val, c.Value)
	case OpExists:
		return present(kind, val)
	case OpMatches:
		re, err := regexp.Compile(toString(c.Value))
		if err != nil {
			return false
		}
		return re.MatchString(toString(val))
	}
	return false
}

// Satisfies reports whether every condition in the set holds.
func (w WorldState) Satisfies(cs ConditionSet) bool {
	for _, c := range cs {
		if !c.Holds(w) {
			return false
		}
	}
	return true
}

// Unsatisfied returns the subset of conditions that do not hold, in order.
func (w WorldState) Unsatisfied(cs ConditionSet) ConditionSet {
	var out ConditionSet
	for _, c := range cs {
		if !c.Holds(w) {
			out = append(out, c)
		}
	}
	return out
}

func equalValue(kind FieldKind, current, want interface{}) bool {
	switch kind {
	case KindBool:
		return toBool(current) == toBool(want)
	case KindString:
		return toString(current) == toString(want)
	case KindStringList:
		a, b := toStringList(current), toStringList(want)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	default:
		return toFloat(current) == toFloat(want)
	}
}

// membership: for list-typed fields, true when the wanted value is an
// element; otherwise true when the current value is one of the listed set.
func membership(kind FieldKind, current, want interface{}) bool {
	if kind == KindStringList {
		needle := toString(want)
		for _, item := range toStringList(current) {
			if item == needle {
				return true
			}
		}
		return false
	}
	for _, candidate := range toStringList(want) {
		if equalValue(kind, current, candidate) {
			return true
		}
	}
	// Numeric membership sets arrive as []interface{} of numbers.
	if set, ok := want.([]interface{}); ok {
		for _, candidate := range set {
			if equalValue(kind, current, candidate) {
				return true
			}
		}
	}
	return false
}

func present(kind FieldKind, val interface{}) bool {
	switch kind {
	case KindString:
		return toString(val) != ""
	case KindStringList:
		return len(toStringList(val)) > 0
	case KindStringMap:
		m, ok := val.(map[string]int)
		return ok && len(m) > 0
	case KindBool:
		return toBool(val)
	default:
		return toFloat(val) != 0
	}
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}
