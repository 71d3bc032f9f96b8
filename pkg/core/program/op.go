// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package program

import (
	"fmt"
	"slices"
)

// Op is an operator of the Program.
type Op struct {
	id   OpID
	Type string
	Role Role

	inputs, outputs Slots
	attrs           map[string]any
}

// ID returns the operator identity within its program.
func (op *Op) ID() OpID { return op.id }

// String implements fmt.Stringer.
func (op *Op) String() string {
	if op == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%d", op.Type, op.id)
}

// WithRole sets the role of the operator and returns it, for chaining in program construction.
func (op *Op) WithRole(role Role) *Op {
	op.Role = role
	return op
}

// IsBackward returns whether it is an operator of the backward (gradient) pass.
func (op *Op) IsBackward() bool { return op.Role == RoleBackward }

// IsOptimizer returns whether it is an optimizer update operator.
func (op *Op) IsOptimizer() bool { return op.Role == RoleOptimizer }

// Inputs returns the variables of the given input slot.
func (op *Op) Inputs(slot string) []*Var { return slices.Clone(op.inputs[slot]) }

// Outputs returns the variables of the given output slot.
func (op *Op) Outputs(slot string) []*Var { return slices.Clone(op.outputs[slot]) }

// InputSlots returns the sorted names of the input slots.
func (op *Op) InputSlots() []string { return sortedKeys(op.inputs) }

// OutputSlots returns the sorted names of the output slots.
func (op *Op) OutputSlots() []string { return sortedKeys(op.outputs) }

func sortedKeys(slots Slots) []string {
	keys := make([]string, 0, len(slots))
	for key := range slots {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// AllInputs returns all input variables: slots in sorted order, and within a slot, in their given order.
func (op *Op) AllInputs() []*Var { return flatten(op.inputs) }

// AllOutputs returns all output variables: slots in sorted order, and within a slot, in their given order.
func (op *Op) AllOutputs() []*Var { return flatten(op.outputs) }

func flatten(slots Slots) []*Var {
	var vars []*Var
	for _, slot := range sortedKeys(slots) {
		vars = append(vars, slots[slot]...)
	}
	return vars
}

// HasInput returns whether v is one of the inputs of op.
func (op *Op) HasInput(v *Var) bool {
	for _, vars := range op.inputs {
		if slices.Contains(vars, v) {
			return true
		}
	}
	return false
}

// Attr returns the attribute with the given name.
func (op *Op) Attr(name string) (value any, found bool) {
	value, found = op.attrs[name]
	return
}

// SetAttr sets or replaces an attribute.
func (op *Op) SetAttr(name string, value any) {
	op.attrs[name] = value
}

// AttrInt returns an integer attribute, or defaultValue if not set or not numeric.
// Numbers decoded from JSON (float64) are accepted.
func (op *Op) AttrInt(name string, defaultValue int) int {
	switch v := op.attrs[name].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return defaultValue
	}
}
