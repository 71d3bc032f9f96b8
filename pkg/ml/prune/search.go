// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"strings"

	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/support/sets"
	"github.com/gomlx/prune/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// Step is one operator affected by the pruning of a variable (or of the outputs of an operator),
// in the order it was visited.
type Step struct {
	Op *program.Op

	// From is the operator from which Op was reached: one of its outputs is an input of Op.
	From *program.Op
}

// forwardOp reports whether op takes part in the forward traversals: backward and optimizer operators don't.
func forwardOp(op *program.Op) bool {
	return !op.IsBackward() && !op.IsOptimizer()
}

// searcher implements the breadth-first search of operators affected by pruning.
type searcher struct {
	program    *program.Program
	boundaries sets.Set[string]
	visited    *sets.Ordered[program.OpID]
	queue      []Step
	path       []Step
}

func newSearcher(p *program.Program, boundaries sets.Set[string]) *searcher {
	return &searcher{program: p, boundaries: boundaries, visited: sets.MakeOrdered[program.OpID]()}
}

// enqueueNext enqueues the unvisited forward operators consuming the outputs of from.
func (s *searcher) enqueueNext(from *program.Op) {
	for _, next := range s.program.NextOps(from) {
		if !forwardOp(next) || !s.visited.Insert(next.ID()) {
			continue
		}
		step := Step{Op: next, From: from}
		s.queue = append(s.queue, step)
		s.path = append(s.path, step)
	}
}

func (s *searcher) run() []Step {
	for len(s.queue) > 0 {
		step := s.queue[0]
		s.queue = s.queue[1:]
		if s.boundaries.Has(step.Op.Type) {
			// The rule of the boundary operator decides how (and whether) the pruning continues.
			continue
		}
		s.enqueueNext(step.Op)
	}
	return s.path
}

// forwardSearchFromVar returns the operators affected by pruning v on its output channels (axis 0), in visiting order.
//
// The operators consuming v directly (e.g. the convolution owning the filter) are not included: the search starts
// from their outputs.
func forwardSearchFromVar(p *program.Program, boundaries sets.Set[string], v *program.Var) []Step {
	s := newSearcher(p, boundaries)
	for _, consumer := range p.Consumers(v) {
		if !forwardOp(consumer) {
			continue
		}
		s.visited.Insert(consumer.ID())
		s.enqueueNext(consumer)
	}
	return s.run()
}

// forwardSearchFromOp returns the operators affected by pruning the outputs of op, in visiting order.
// op itself is not included.
func forwardSearchFromOp(p *program.Program, boundaries sets.Set[string], op *program.Op) []Step {
	s := newSearcher(p, boundaries)
	s.enqueueNext(op)
	return s.run()
}

// siblingBoundary reports operator types that stop the sibling search when going forward.
func siblingBoundary(opType string) bool {
	return strings.Contains(opType, "conv2d") || strings.Contains(opType, "concat") ||
		strings.Contains(opType, "deformable_conv") || opType == "fc"
}

// siblingType reports operator types collected as siblings when found going backward.
func siblingType(opType string) bool {
	return strings.Contains(opType, "conv2d") || strings.Contains(opType, "deformable_conv") || opType == "fc"
}

// searchSiblings returns the operators structurally tied to op: operators of the convolution/fc family whose outputs
// meet the outputs of op through non-structural operators (e.g. the other branch of a residual addition).
//
// The walk goes forward through non-structural operators and backward from each of them; it never crosses
// convolutions, fully-connected layers or concatenations.
func searchSiblings(p *program.Program, op *program.Op) []*program.Op {
	klog.V(1).Infof("searching siblings of %s", op)
	visited := sets.MakeWith(op.ID())
	var stack []*program.Op
	var siblings []*program.Op
	pushChildren := func(from *program.Op) {
		for _, child := range p.NextOps(from) {
			if siblingBoundary(child.Type) || visited.Has(child.ID()) || !forwardOp(child) {
				continue
			}
			stack = append(stack, child)
			visited.Insert(child.ID())
		}
	}
	pushChildren(op)
	for len(stack) > 0 {
		var top *program.Op
		top, stack = xslices.Pop(stack)
		for _, parent := range p.PrevOps(top) {
			if visited.Has(parent.ID()) || !forwardOp(parent) {
				continue
			}
			klog.V(2).Infof("going back from %s to %s", top, parent)
			if siblingType(parent.Type) {
				siblings = append(siblings, parent)
			} else {
				stack = append(stack, parent)
			}
			visited.Insert(parent.ID())
		}
		pushChildren(top)
	}
	klog.V(1).Infof("siblings of %s: %v", op, siblings)
	return siblings
}
