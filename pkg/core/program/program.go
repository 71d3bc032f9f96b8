// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package program defines a static operator graph: a Program holds a list of operators (Op) connected
// through named variables (Var).
//
// Each Op has a type tag (e.g. "conv2d", "batch_norm"), named input and output slots, each slot holding an
// ordered list of variables, and free-form attributes (e.g. "groups" for convolutions). Variables
// hold only metadata (name, shape, whether they are trainable parameters or persistable state): their
// values live in a separate store, see package github.com/gomlx/prune/pkg/ml/scope.
//
// A Program is built incrementally with NewVar, NewParameter and AddOp, or loaded from JSON (see Load).
// Adjacency between operators is given by NextOps and PrevOps.
//
// The Program is not safe for concurrent modification.
package program

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/prune/pkg/core/shapes"
)

// OpID identifies an Op within a Program. It is its position in Program.Ops and is preserved by Program.Clone.
type OpID int

// Role of an operator in the program.
type Role int

const (
	// RoleForward is the default role: operators of the forward (inference) pass.
	RoleForward Role = iota

	// RoleBackward marks operators computing gradients.
	RoleBackward

	// RoleOptimizer marks operators updating parameters and their accumulators (momentum, moving averages, etc.)
	RoleOptimizer
)

var roleNames = []string{"forward", "backward", "optimizer"}

// String implements fmt.Stringer.
func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// RoleFromString is the inverse of Role.String.
func RoleFromString(name string) (Role, bool) {
	idx := slices.Index(roleNames, name)
	if idx < 0 {
		return RoleForward, false
	}
	return Role(idx), true
}

// Var is a variable of the Program: a parameter, a persistable state (like a batch-norm running mean or
// an optimizer accumulator) or an intermediary activation.
type Var struct {
	Name  string
	Shape shapes.Shape

	// Parameter marks trainable parameters (weights).
	Parameter bool

	// Persistable marks variables whose values are stored across executions. Parameters are always persistable.
	Persistable bool
}

// String implements fmt.Stringer.
func (v *Var) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s%s", v.Name, v.Shape)
}

// Program is a list of operators connected through variables.
type Program struct {
	ops      []*Op
	vars     map[string]*Var
	varNames []string

	producers, consumers map[*Var][]*Op
}

// New returns an empty Program.
func New() *Program {
	return &Program{
		vars:      make(map[string]*Var),
		producers: make(map[*Var][]*Op),
		consumers: make(map[*Var][]*Op),
	}
}

// addVar registers v, it panics if the name is already in use.
func (p *Program) addVar(v *Var) *Var {
	if _, found := p.vars[v.Name]; found {
		exceptions.Panicf("program: variable %q already defined", v.Name)
	}
	p.vars[v.Name] = v
	p.varNames = append(p.varNames, v.Name)
	return v
}

// NewVar creates an activation (non-persistable) variable.
// It panics if a variable with the same name already exists.
func (p *Program) NewVar(name string, shape shapes.Shape) *Var {
	return p.addVar(&Var{Name: name, Shape: shape.Clone()})
}

// NewPersistable creates a persistable variable that is not trainable, e.g. a running statistic
// or an optimizer accumulator.
func (p *Program) NewPersistable(name string, shape shapes.Shape) *Var {
	return p.addVar(&Var{Name: name, Shape: shape.Clone(), Persistable: true})
}

// NewParameter creates a trainable, persistable, variable.
func (p *Program) NewParameter(name string, shape shapes.Shape) *Var {
	return p.addVar(&Var{Name: name, Shape: shape.Clone(), Parameter: true, Persistable: true})
}

// Var returns the variable with the given name.
func (p *Program) Var(name string) (v *Var, found bool) {
	v, found = p.vars[name]
	return
}

// Vars returns all variables in the order they were created.
func (p *Program) Vars() []*Var {
	vars := make([]*Var, 0, len(p.varNames))
	for _, name := range p.varNames {
		vars = append(vars, p.vars[name])
	}
	return vars
}

// Slots maps slot names to the ordered variables in the slot.
type Slots map[string][]*Var

// AddOp appends an operator to the program. All variables must belong to the program, otherwise it panics.
func (p *Program) AddOp(opType string, inputs, outputs Slots, attrs map[string]any) *Op {
	op := &Op{
		id:      OpID(len(p.ops)),
		Type:    opType,
		inputs:  make(Slots, len(inputs)),
		outputs: make(Slots, len(outputs)),
		attrs:   make(map[string]any, len(attrs)),
	}
	for slot, vars := range inputs {
		for _, v := range vars {
			p.assertOwned(v)
		}
		op.inputs[slot] = slices.Clone(vars)
	}
	for slot, vars := range outputs {
		for _, v := range vars {
			p.assertOwned(v)
		}
		op.outputs[slot] = slices.Clone(vars)
	}
	for key, value := range attrs {
		op.attrs[key] = value
	}
	p.ops = append(p.ops, op)
	p.index(op)
	return op
}

func (p *Program) assertOwned(v *Var) {
	if v == nil || p.vars[v.Name] != v {
		exceptions.Panicf("program: variable %s doesn't belong to the program", v)
	}
}

// index updates producers/consumers with op.
func (p *Program) index(op *Op) {
	for _, v := range op.AllInputs() {
		if !slices.Contains(p.consumers[v], op) {
			p.consumers[v] = append(p.consumers[v], op)
		}
	}
	for _, v := range op.AllOutputs() {
		if !slices.Contains(p.producers[v], op) {
			p.producers[v] = append(p.producers[v], op)
		}
	}
}

// Ops returns the list of operators in program order.
func (p *Program) Ops() []*Op { return slices.Clone(p.ops) }

// NumOps returns the number of operators.
func (p *Program) NumOps() int { return len(p.ops) }

// Op returns the operator with the given id, or nil if out of range.
func (p *Program) Op(id OpID) *Op {
	if id < 0 || int(id) >= len(p.ops) {
		return nil
	}
	return p.ops[id]
}

// Consumers returns the operators that take v as input, in program order.
func (p *Program) Consumers(v *Var) []*Op { return slices.Clone(p.consumers[v]) }

// Producers returns the operators that output v, in program order.
// In training programs a parameter is also produced by its optimizer operator.
func (p *Program) Producers(v *Var) []*Op { return slices.Clone(p.producers[v]) }

// NextOps returns the operators consuming any of the outputs of op, in program order and without repetitions.
func (p *Program) NextOps(op *Op) []*Op {
	var next []*Op
	for _, v := range op.AllOutputs() {
		for _, consumer := range p.consumers[v] {
			if !slices.Contains(next, consumer) {
				next = append(next, consumer)
			}
		}
	}
	slices.SortFunc(next, func(a, b *Op) int { return int(a.id - b.id) })
	return next
}

// PrevOps returns the operators producing any of the inputs of op, in program order and without repetitions.
func (p *Program) PrevOps(op *Op) []*Op {
	var prev []*Op
	for _, v := range op.AllInputs() {
		for _, producer := range p.producers[v] {
			if !slices.Contains(prev, producer) {
				prev = append(prev, producer)
			}
		}
	}
	slices.SortFunc(prev, func(a, b *Op) int { return int(a.id - b.id) })
	return prev
}

// ParamsOf returns the parameters taken as input by op.
func (p *Program) ParamsOf(op *Op) []*Var {
	var params []*Var
	for _, v := range op.AllInputs() {
		if v.Parameter && !slices.Contains(params, v) {
			params = append(params, v)
		}
	}
	return params
}

// Clone returns a deep copy of the program: variables, operators and attributes are copied,
// and operator ids are preserved.
func (p *Program) Clone() *Program {
	p2 := New()
	for _, v := range p.Vars() {
		p2.addVar(&Var{Name: v.Name, Shape: v.Shape.Clone(), Parameter: v.Parameter, Persistable: v.Persistable})
	}
	remap := func(slots Slots) Slots {
		slots2 := make(Slots, len(slots))
		for slot, vars := range slots {
			vars2 := make([]*Var, len(vars))
			for ii, v := range vars {
				vars2[ii] = p2.vars[v.Name]
			}
			slots2[slot] = vars2
		}
		return slots2
	}
	for _, op := range p.ops {
		op2 := p2.AddOp(op.Type, remap(op.inputs), remap(op.outputs), op.attrs)
		op2.Role = op.Role
	}
	return p2
}
