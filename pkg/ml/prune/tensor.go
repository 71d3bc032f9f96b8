// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"slices"

	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// pruneTensor returns t with the slices at indices of axis pruned: removed (the axis dimension is reduced by
// len(indices)) or, if lazy, set to zero. t itself is not modified.
func pruneTensor(t *tensors.Tensor, indices []int, axis int, lazy bool) (*tensors.Tensor, error) {
	if !lazy {
		return t.RemoveAxisIndices(axis, indices)
	}
	pruned, err := t.Clone()
	if err != nil {
		return nil, err
	}
	if err = pruned.ZeroAxisIndices(axis, indices); err != nil {
		return nil, err
	}
	return pruned, nil
}

// asIndexError converts index errors from the tensors package to *IndexError for the named variable.
// Other errors are returned unchanged.
func asIndexError(name string, err error) error {
	var axisErr *tensors.AxisIndexError
	if errors.As(err, &axisErr) {
		return &IndexError{Name: name, Axis: axisErr.Axis, Index: axisErr.Index, Dim: axisErr.Dim, Duplicate: axisErr.Duplicate}
	}
	return err
}

// accumulators returns the persistable variables updated alongside v by optimizer operators (momentum, moments, etc.):
// they have the same shape as v and must be pruned with it.
func accumulators(p *program.Program, v *program.Var) []*program.Var {
	var accs []*program.Var
	for _, op := range p.Consumers(v) {
		if !op.IsOptimizer() {
			continue
		}
		for _, out := range op.AllOutputs() {
			if out.Persistable && out != v && !slices.Contains(accs, out) {
				accs = append(accs, out)
			}
		}
	}
	return accs
}

// PruneVar prunes the slices at indices of the given axis of v and of its optimizer accumulators, both the
// variable shapes in the program and their values in the scope.
//
// It is a no-op if v was already pruned on axis during this session. All variables are checked before any is
// changed: an out-of-range index returns an *IndexError and a value whose shape differs from the variable's
// returns an error wrapping ErrShapeMismatch.
func (s *Session) PruneVar(v *program.Var, indices []int, axis int) error {
	vars := append([]*program.Var{v}, accumulators(s.program, v)...)
	return s.pruneGroup(vars, indices, axis)
}

func (s *Session) backupShape(v *program.Var) {
	if !s.config.backupShapes {
		return
	}
	if _, found := s.result.ShapeBackup[v.Name]; !found {
		s.result.ShapeBackup[v.Name] = slices.Clone(v.Shape.Dimensions)
	}
}

func (s *Session) backupValue(name string, value *tensors.Tensor) {
	if !s.config.backupValues {
		return
	}
	if _, found := s.result.ValueBackup[name]; !found {
		// value is replaced (not modified) in the scope, so it can be kept as is.
		s.result.ValueBackup[name] = value
	}
}

// pruneGroup prunes vars, whose first element is the primary variable: the group is skipped if the primary
// was already pruned on axis.
func (s *Session) pruneGroup(vars []*program.Var, indices []int, axis int) error {
	primary := vars[0]
	if s.registry.Has(primary.Name, axis) {
		klog.V(2).Infof("%q already pruned on axis %d", primary.Name, axis)
		return nil
	}

	if s.config.onlyGraph {
		for _, v := range vars {
			if err := tensors.CheckAxisIndices(v.Shape, axis, indices); err != nil {
				return asIndexError(v.Name, err)
			}
		}
		for _, v := range vars {
			s.backupShape(v)
			newShape := v.Shape.WithAxisDim(axis, v.Shape.Dimensions[axis]-len(indices))
			klog.V(2).Infof("prune %q from %v to %v", v.Name, v.Shape.Dimensions, newShape.Dimensions)
			v.Shape = newShape
			s.registry.Record(v.Name, axis)
		}
		return nil
	}

	values := make([]*tensors.Tensor, len(vars))
	for ii, v := range vars {
		value, found := s.scope.Find(v.Name)
		if !found || value == nil {
			return errors.Wrapf(ErrUnknownParameter, "value of %q not found in scope", v.Name)
		}
		if !slices.Equal(value.Shape().Dimensions, v.Shape.Dimensions) {
			return errors.Wrapf(ErrShapeMismatch, "pruning %q: value shape %s, variable shape %s",
				v.Name, value.Shape(), v.Shape)
		}
		if err := tensors.CheckAxisIndices(value.Shape(), axis, indices); err != nil {
			return asIndexError(v.Name, err)
		}
		values[ii] = value
	}

	for ii, v := range vars {
		pruned, err := pruneTensor(values[ii], indices, axis, s.config.lazy)
		if err != nil {
			return errors.WithMessagef(asIndexError(v.Name, err), "pruning %q", v.Name)
		}
		s.backupValue(v.Name, values[ii])
		s.backupShape(v)
		s.scope.Set(v.Name, pruned, s.config.place)
		klog.V(2).Infof("prune %q from %v to %v", v.Name, v.Shape.Dimensions, pruned.Shape().Dimensions)
		v.Shape = v.Shape.WithAxisDim(axis, pruned.Shape().Dimensions[axis])
		s.registry.Record(v.Name, axis)
	}
	return nil
}
