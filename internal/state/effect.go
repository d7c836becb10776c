package state

import (
	"fmt"

	"qfleet/internal/types"
)

// EffectOp is an effect operator over a single field.
type EffectOp string

const (
	OpSet       EffectOp = "set"
	OpIncrease  EffectOp = "increase"
	OpDecrease  EffectOp = "decrease"
	OpIncrement EffectOp = "increment"
	OpDecrement EffectOp = "decrement"
	OpAdd       EffectOp = "add"    // append to ordered sequence if absent
	OpRemove    EffectOp = "remove" // remove from ordered sequence
)

// Effect is a single mutation of a named state field.
type Effect struct {
	Field string      `json:"field" yaml:"field"`
	Op    EffectOp    `json:"op" yaml:"op"`
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// EffectSet is applied atomically, in order.
type EffectSet []Effect

// Validate checks field existence and operator/type compatibility.
func (e Effect) Validate() error {
	kind, ok := FieldType(e.Field)
	if !ok {
		return types.NewError(types.KindInvalidInput, "effect references unknown field %q", e.Field)
	}
	switch e.Op {
	case OpSet:
		if kind == KindStringMap {
			return types.NewError(types.KindInvalidInput, "field %q does not accept direct set", e.Field)
		}
		return nil
	case OpIncrease, OpDecrease, OpIncrement, OpDecrement:
		if !kind.Numeric() {
			return types.NewError(types.KindInvalidInput,
				"operator %q requires a numeric field, %q is not", e.Op, e.Field)
		}
		return nil
	case OpAdd, OpRemove:
		if kind != KindStringList {
			return types.NewError(types.KindInvalidInput,
				"operator %q requires a sequence field, %q is not", e.Op, e.Field)
		}
		return nil
	default:
		return types.NewError(types.KindInvalidInput, "unknown effect operator %q", e.Op)
	}
}

// Validate checks every effect in the set.
func (es EffectSet) Validate() error {
	for _, e := range es {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SetsTrue reports whether the effect sets a boolean field to true. The
// workflow compiler uses this to extract produced-flag dependencies.
func (e Effect) SetsTrue() bool {
	kind, ok := FieldType(e.Field)
	if !ok || kind != KindBool {
		return false
	}
	return e.Op == OpSet && toBool(e.Value)
}

// Apply returns a new state with the effect set applied. Numeric overflow
// past field bounds clamps at the boundary (the field setters clamp).
func (w WorldState) Apply(es EffectSet) WorldState {
	next := w.Clone()
	for _, e := range es {
		def, ok := fields[e.Field]
		if !ok {
			continue
		}
		switch e.Op {
		case OpSet:
			def.set(&next, e.Value)
		case OpIncrease:
			def.set(&next, toFloat(def.get(&next))+toFloat(e.Value))
		case OpDecrease:
			def.set(&next, toFloat(def.get(&next))-toFloat(e.Value))
		case OpIncrement:
			def.set(&next, toFloat(def.get(&next))+1)
		case OpDecrement:
			def.set(&next, toFloat(def.get(&next))-1)
		case OpAdd:
			list := toStringList(def.get(&next))
			item := toString(e.Value)
			found := false
			for _, existing := range list {
				if existing == item {
					found = true
					break
				}
			}
			if !found {
				def.set(&next, append(list, item))
			}
		case OpRemove:
			list := toStringList(def.get(&next))
			item := toString(e.Value)
			out := list[:0]
			for _, existing := range list {
				if existing != item {
					out = append(out, existing)
				}
			}
			def.set(&next, append([]string(nil), out...))
		}
	}
	return next
}

func (e Effect) String() string {
	return fmt.Sprintf("%s %s %v", e.Field, e.Op, e.Value)
}
