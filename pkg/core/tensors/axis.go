// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/prune/pkg/core/shapes"
	"github.com/gomlx/prune/pkg/support/sets"
)

// AxisIndexError is returned when an index selecting slices of an axis is out of range,
// or when it is repeated.
type AxisIndexError struct {
	Axis, Index, Dim int
	Duplicate        bool
}

// Error implements error.
func (e *AxisIndexError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("index %d repeated for axis %d", e.Index, e.Axis)
	}
	return fmt.Sprintf("index %d out of range for axis %d with dimension %d", e.Index, e.Axis, e.Dim)
}

// CheckAxisIndices verifies that axis is valid for shape, and that all indices are unique and
// within the axis dimension. Index errors are returned as *AxisIndexError.
func CheckAxisIndices(shape shapes.Shape, axis int, indices []int) error {
	if err := shape.CheckAxis(axis); err != nil {
		return err
	}
	dim := shape.Dimensions[axis]
	seen := sets.Make[int](len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= dim {
			return &AxisIndexError{Axis: axis, Index: idx, Dim: dim}
		}
		if seen.Has(idx) {
			return &AxisIndexError{Axis: axis, Index: idx, Dim: dim, Duplicate: true}
		}
		seen.Insert(idx)
	}
	return nil
}

// RemoveAxisIndices returns a new tensor with the slices at the given indices of axis removed.
// The dimension of axis in the new tensor is reduced by len(indices), all other axes are kept.
//
// The order of indices is irrelevant, but they must be unique and within range.
func (t *Tensor) RemoveAxisIndices(axis int, indices []int) (*Tensor, error) {
	if err := t.CheckValid(); err != nil {
		return nil, err
	}
	if err := CheckAxisIndices(t.shape, axis, indices); err != nil {
		return nil, err
	}
	removed := sets.MakeWith(indices...)
	outer, dim, inner := t.shape.SplitAt(axis)
	newDim := dim - len(indices)
	result := FromShape(t.shape.WithAxisDim(axis, newDim))
	err := t.ConstFlatData(func(flat any) {
		srcV := reflect.ValueOf(flat)
		dstV := reflect.ValueOf(result.flat)
		dstPos := 0
		for o := range outer {
			base := o * dim * inner
			// Copy contiguous runs of kept slices at once.
			runStart := -1
			flush := func(runEnd int) {
				if runStart < 0 {
					return
				}
				n := (runEnd - runStart) * inner
				reflect.Copy(dstV.Slice(dstPos, dstPos+n), srcV.Slice(base+runStart*inner, base+runEnd*inner))
				dstPos += n
				runStart = -1
			}
			for d := range dim {
				if removed.Has(d) {
					flush(d)
					continue
				}
				if runStart < 0 {
					runStart = d
				}
			}
			flush(dim)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ZeroAxisIndices sets to zero, in place, the slices at the given indices of axis. The shape is unchanged.
func (t *Tensor) ZeroAxisIndices(axis int, indices []int) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	if err := CheckAxisIndices(t.shape, axis, indices); err != nil {
		return err
	}
	outer, dim, inner := t.shape.SplitAt(axis)
	return t.MutableFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		zeros := reflect.MakeSlice(flatV.Type(), inner, inner)
		for o := range outer {
			for _, idx := range indices {
				start := (o*dim + idx) * inner
				reflect.Copy(flatV.Slice(start, start+inner), zeros)
			}
		}
	})
}
