// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"github.com/gomlx/prune/pkg/core/program"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func defaultRules() map[string]Rule {
	return map[string]Rule{
		"conv2d":           pruneFilterParams(1),
		"deformable_conv":  pruneFilterParams(1),
		"depthwise_conv2d": pruneFilterParams(0),
		"elementwise_add":  pruneBias,
		"mul":              pruneFullyConnected,
		"concat":           pruneConcat,
		"batch_norm":       pruneBatchNorm,
	}
}

// filterParams returns the parameters in the "Filter" slot of op, or all its parameters if it has none.
func filterParams(p *program.Program, op *program.Op) []*program.Var {
	var params []*program.Var
	for _, v := range op.Inputs("Filter") {
		if v.Parameter {
			params = append(params, v)
		}
	}
	if len(params) == 0 {
		params = p.ParamsOf(op)
	}
	return params
}

// pruneFilterParams returns a rule that prunes the filters of convolutions on the given axis: the input channels
// (axis 1) for regular convolutions, or the filters themselves (axis 0) for depthwise convolutions, whose
// input channels are their output channels.
func pruneFilterParams(axis int) Rule {
	return func(s *Session, step Step, indices []int) error {
		for _, param := range filterParams(s.program, step.Op) {
			if err := s.PruneVar(param, indices, axis); err != nil {
				return err
			}
		}
		return nil
	}
}

// pruneBias prunes the parameters added to the pruned tensor.
func pruneBias(s *Session, step Step, indices []int) error {
	for _, param := range s.program.ParamsOf(step.Op) {
		if err := s.PruneVar(param, indices, 0); err != nil {
			return err
		}
	}
	return nil
}

// fcIndices maps pruned channels of a feature map to the rows of the weights of a fully-connected layer fed with
// the flattened feature map: each channel i spans the rows [i*size, (i+1)*size).
func fcIndices(indices []int, size int) []int {
	rows := make([]int, 0, len(indices)*size)
	for _, idx := range indices {
		for j := range size {
			rows = append(rows, idx*size+j)
		}
	}
	return rows
}

// pruneFullyConnected prunes the rows of the weights of a fully-connected ("mul") layer that read the pruned
// channels of its flattened input.
func pruneFullyConnected(s *Session, step Step, indices []int) error {
	var param, input *program.Var
	for _, v := range step.Op.AllInputs() {
		if v.Parameter {
			param = v
		} else {
			input = v
		}
	}
	if param == nil || input == nil {
		klog.Warningf("%s: fully-connected layer without weights or input, not pruned", step.Op)
		return nil
	}
	size := 1
	for _, dim := range input.Shape.Dimensions[min(2, input.Shape.Rank()):] {
		size *= dim
	}
	return s.PruneVar(param, fcIndices(indices, size), 0)
}

func concatInputs(op *program.Op) []*program.Var {
	if inputs := op.Inputs("X"); len(inputs) > 0 {
		return inputs
	}
	return op.AllInputs()
}

// concatOffset returns the offset, along the concatenation axis, of the input of op at position. Widths of the
// preceding inputs are taken before the cut of the current request (given by cut, channels per activation name),
// which is the layout the consumers of the concatenation still expect.
func concatOffset(op *program.Op, position int, cut map[string]int) (int, error) {
	inputs := concatInputs(op)
	if position < 0 || position >= len(inputs) {
		return 0, errors.Errorf("%s: no concatenated input at position %d", op, position)
	}
	axis := op.AttrInt("axis", 1)
	if axis < 0 {
		axis += inputs[0].Shape.Rank()
	}
	offset := 0
	for _, v := range inputs[:position] {
		if err := v.Shape.CheckAxis(axis); err != nil {
			return 0, errors.WithMessagef(err, "%s: input %q", op, v.Name)
		}
		offset += v.Shape.Dimensions[axis] + cut[v.Name]
	}
	return offset, nil
}

// pruneConcat shifts the pruned channels by the position of each input of the concatenation cut by the current
// request (more than one if the pruned channels reach it through several branches), and continues the propagation
// from the outputs of the concatenation.
//
// If the outputs of the concatenation were already cut by an earlier request, their consumers no longer match the
// layout of the inputs: this returns an error wrapping ErrShapeMismatch.
func pruneConcat(s *Session, step Step, indices []int) error {
	op := step.Op
	cut := s.cut
	if s.config.lazy {
		// Shapes are kept in lazy mode.
		cut = nil
	}
	var shifted []int
	for position, input := range concatInputs(op) {
		if _, found := s.cut[input.Name]; !found {
			continue
		}
		offset, err := concatOffset(op, position, cut)
		if err != nil {
			return err
		}
		klog.V(1).Infof("%s: channels of %q shifted by %d", op, input.Name, offset)
		for _, idx := range indices {
			shifted = append(shifted, idx+offset)
		}
	}
	if len(shifted) == 0 {
		klog.V(1).Infof("%s: no input cut by this request (from %s), nothing to propagate", op, step.From)
		return nil
	}
	if !s.config.lazy {
		for _, out := range op.AllOutputs() {
			if _, found := s.cut[out.Name]; s.activations.Has(out.Name) && !found {
				return errors.Wrapf(ErrShapeMismatch, "%s: output %q was already cut by an earlier request, "+
					"its consumers can't receive the channels pruned from %s", op, out.Name, step.From)
			}
		}
	}
	s.cutOutputs(op, len(shifted))
	return s.PropagateFromOp(op, shifted)
}

// batchNormSlots are the per-channel inputs of a batch normalization.
var batchNormSlots = []string{"Mean", "Variance", "Scale", "Bias"}

func pruneBatchNorm(s *Session, step Step, indices []int) error {
	for _, slot := range batchNormSlots {
		vars := step.Op.Inputs(slot)
		if len(vars) == 0 {
			klog.Warningf("%s: missing input %q, not pruned", step.Op, slot)
			continue
		}
		if err := s.PruneVar(vars[0], indices, 0); err != nil {
			return err
		}
	}
	return nil
}
