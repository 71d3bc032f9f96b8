// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/core/tensors"
	"github.com/gomlx/prune/pkg/support/sets"
	"github.com/gomlx/prune/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Session holds the state of one Config.Done call: the program being pruned, the scope and the registry of
// variables already pruned. Rules receive it to prune related variables and continue the propagation.
type Session struct {
	pruner   *Pruner
	config   *Config
	program  *program.Program
	scope    Scope
	registry *Registry
	result   *Result

	// activations already cut during the session, and the channels cut from each one by the current
	// request.
	activations sets.Set[string]
	cut         map[string]int
}

func newSession(c *Config) *Session {
	prog := c.program.Clone()
	return &Session{
		pruner:      c.pruner,
		config:      c,
		program:     prog,
		scope:       c.scope,
		registry:    NewRegistry(),
		activations: sets.Make[string](),
		cut:         make(map[string]int),
		result: &Result{
			Program:     prog,
			ValueBackup: make(map[string]*tensors.Tensor),
			ShapeBackup: make(map[string][]int),
			Failed:      make(map[string]error),
		},
	}
}

// Program being pruned: a clone of the program given to Pruner.Prune.
func (s *Session) Program() *program.Program { return s.program }

// Registry of the variables pruned so far.
func (s *Session) Registry() *Registry { return s.registry }

// PropagateFromOp applies the rules to the operators affected by the pruning of channels (given by indices)
// of the outputs of op.
func (s *Session) PropagateFromOp(op *program.Op, indices []int) error {
	path := forwardSearchFromOp(s.program, s.pruner.boundaries, op)
	for _, step := range path {
		klog.V(1).Infof("%s: related op %s", op, step.Op)
	}
	s.cutPath(path, len(indices))
	return s.applyRules(path, indices)
}

// cutOutputs removes n channels (axis 1) from the activations produced by op. Each activation is cut at most
// once per session, and in lazy mode only the bookkeeping is done: shapes are kept.
func (s *Session) cutOutputs(op *program.Op, n int) {
	for _, out := range op.AllOutputs() {
		if out.Parameter || out.Persistable || s.activations.Has(out.Name) {
			continue
		}
		if out.Shape.Rank() < 2 || out.Shape.Dimensions[1] < n {
			klog.Warningf("%s: output %q has no channel axis with %d channels to cut", op, out.Name, n)
			continue
		}
		s.activations.Insert(out.Name)
		s.cut[out.Name] = n
		if !s.config.lazy {
			out.Shape = out.Shape.WithAxisDim(1, out.Shape.Dimensions[1]-n)
		}
	}
}

// cutPath cuts the outputs of the operators in path that carry the pruned channels through: boundary
// operators are handled by their rules.
func (s *Session) cutPath(path []Step, n int) {
	for _, step := range path {
		if !s.pruner.boundaries.Has(step.Op.Type) {
			s.cutOutputs(step.Op, n)
		}
	}
}

func (s *Session) applyRules(path []Step, indices []int) error {
	for _, step := range path {
		rule, found := s.pruner.rules[step.Op.Type]
		if !found {
			continue
		}
		if err := rule(s, step, indices); err != nil {
			return err
		}
	}
	return nil
}

// pruneWithPropagation prunes the output channels of v and everything that depends on them.
//
// Panics raised while pruning are converted to errors.
func (s *Session) pruneWithPropagation(v *program.Var, indices []int) (err error) {
	if s.registry.Has(v.Name, 0) {
		return nil
	}
	path := forwardSearchFromVar(s.program, s.pruner.boundaries, v)
	for _, step := range path {
		klog.V(1).Infof("%q: related op %s", v.Name, step.Op)
	}
	s.cut = make(map[string]int)
	exception := exceptions.TryCatch[error](func() {
		err = s.PruneVar(v, indices, 0)
		if err != nil {
			return
		}
		for _, op := range s.program.Consumers(v) {
			// The weights of fully-connected layers are pruned on their input rows.
			if forwardOp(op) && op.Type != "mul" && op.Type != "fc" {
				s.cutOutputs(op, len(indices))
			}
		}
		s.cutPath(path, len(indices))
		err = s.applyRules(path, indices)
	})
	if exception != nil {
		err = exception
	}
	return
}

// selectIndices returns the output channels of v to prune for the given ratio.
func (s *Session) selectIndices(v *program.Var, ratio float64) ([]int, error) {
	if s.config.onlyGraph {
		if err := v.Shape.CheckAxis(0); err != nil {
			return nil, errors.WithMessagef(err, "pruning %q", v.Name)
		}
		return xslices.Iota(0, numToPrune(v.Shape.Dimensions[0], ratio)), nil
	}
	value, found := s.scope.Find(v.Name)
	if !found || value == nil {
		return nil, errors.Wrapf(ErrUnknownParameter, "value of %q not found in scope", v.Name)
	}
	indices, err := SelectIndices(s.pruner.criterion, value, ratio, 0)
	if err != nil {
		return nil, errors.WithMessagef(err, "selecting channels of %q with %q", v.Name, s.pruner.criterionName)
	}
	return indices, nil
}

// handle returns nil for recoverable errors, after logging them and recording them in the result.
func (s *Session) handle(name string, err error) error {
	if err == nil || !recoverable(err) {
		return err
	}
	klog.Errorf("pruning %q abandoned: %v", name, err)
	if _, found := s.result.Failed[name]; !found {
		s.result.Failed[name] = err
	}
	return nil
}

// pruneByRatio prunes the named parameter with the given ratio, and then the parameters of its sibling operators
// with the same ratio.
func (s *Session) pruneByRatio(name string, ratio float64) error {
	if s.registry.Has(name, 0) {
		klog.Infof("Skip %q: already pruned", name)
		return nil
	}
	klog.Infof("pruning param %q, ratio %g", name, ratio)
	v, _ := s.program.Var(name)
	if err := s.pruneParamByRatio(v, ratio); err != nil {
		return err
	}
	for _, op := range s.program.Consumers(v) {
		if !forwardOp(op) || (op.Type != "conv2d" && op.Type != "deformable_conv" && op.Type != "fc") {
			continue
		}
		for _, sibling := range searchSiblings(s.program, op) {
			klog.V(1).Infof("pruning sibling %s of %q", sibling, name)
			for _, param := range s.program.ParamsOf(sibling) {
				if err := s.pruneParamByRatio(param, ratio); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Session) pruneParamByRatio(v *program.Var, ratio float64) error {
	if s.registry.Has(v.Name, 0) {
		return nil
	}
	indices, err := s.selectIndices(v, ratio)
	if err != nil {
		return err
	}
	return s.handle(v.Name, s.pruneWithPropagation(v, indices))
}

// pruneByIndices prunes the given output channels of the named parameter.
func (s *Session) pruneByIndices(name string, indices []int) error {
	if s.registry.Has(name, 0) {
		klog.Infof("Skip %q: already pruned", name)
		return nil
	}
	klog.Infof("pruning param %q, %d channels", name, len(indices))
	v, _ := s.program.Var(name)
	return s.handle(name, s.pruneWithPropagation(v, indices))
}

// fixDepthwiseGroups sets the "groups" attribute of depthwise convolutions (and their gradients) to the
// current number of filters, since pruning may have changed it.
func (s *Session) fixDepthwiseGroups() {
	for _, op := range s.program.Ops() {
		if op.Type != "depthwise_conv2d" && op.Type != "depthwise_conv2d_grad" {
			continue
		}
		filters := op.Inputs("Filter")
		if len(filters) == 0 || filters[0].Shape.Rank() == 0 {
			klog.Warningf("%s has no filter, groups not updated", op)
			continue
		}
		op.SetAttr("groups", filters[0].Shape.Dimensions[0])
	}
}
