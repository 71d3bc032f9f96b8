// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a representation of a multidimensional array stored
// on the host.
//
// Tensors are defined by their shape (a data type and its axes' dimensions) and their actual
// content, always stored as a flat (1D) Go slice of the underlying dtype in row-major order.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
// Besides access to the flat data, the package offers the axis manipulation needed for structured
// pruning: removing or zeroing a set of slices along one axis (see Tensor.RemoveAxisIndices and
// Tensor.ZeroAxisIndices).
package tensors

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/prune/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape, a data type (dtypes.DType) and its axes' dimensions, and their actual content stored as a flat (1D)
// array of values.
type Tensor struct {
	// shape of the tensor, considered immutable.
	shape shapes.Shape

	// mu protects flat.
	mu sync.Mutex

	// flat holds the array with actual data: slice of the Go type for the dtype of the shape.
	flat any
}

// newEmptyTensor returns a Tensor object initialized only with the shape, but no actual storage.
func newEmptyTensor(shape shapes.Shape) *Tensor {
	return &Tensor{
		shape: shape,
	}
}

func makeFlat(shape shapes.Shape) any {
	size := shape.Size()
	return reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface()
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if you provide an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	t := newEmptyTensor(shape.Clone())
	t.flat = makeFlat(t.shape)
	return t
}

// FromScalarAndDimensions creates a local tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
// The `DType` is inferred from the value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	MustMutableFlatData(t, func(flat []T) {
		for ii := range flat {
			flat[ii] = value
		}
	})
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data has %d elements, but shape requires %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	MustMutableFlatData(t, func(flat []T) {
		copy(flat, data)
	})
	return t
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Ok returns whether the tensor is in a valid state.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// CheckValid returns an error if the tensor is nil or holds no data.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("tensor is nil")
	}
	if !t.shape.Ok() {
		return errors.New("tensor has an invalid shape")
	}
	if t.flat == nil {
		return errors.Errorf("tensor %s has no data", t.shape)
	}
	return nil
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
// It locks the Tensor until accessFn returns.
//
// The slice is owned by the Tensor and should not be changed, see MutableFlatData for that.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
	return nil
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data, whose contents can be changed
// until accessFn returns.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) error {
	return t.ConstFlatData(accessFn)
}

// ConstFlatData is the "generics" version of Tensor.ConstFlatData().
//
// It returns an error if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if t.DType() != dtypes.FromGenericsType[T]() {
		var v T
		return errors.Errorf("ConstFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.DType(), dtypes.FromGenericsType[T]())
	}
	return t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MutableFlatData is the "generics" version of Tensor.MutableFlatData().
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	return ConstFlatData(t, accessFn)
}

// MustConstFlatData is like ConstFlatData, but panics on error.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := ConstFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// MustMutableFlatData is like MutableFlatData, but panics on error.
func MustMutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := MutableFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// CopyFlatData returns a copy of the flat data of the Tensor.
//
// It panics if T doesn't match the tensor's dtype or if the tensor is invalid.
func CopyFlatData[T dtypes.Supported](t *Tensor) (flatCopy []T) {
	MustConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() (*Tensor, error) {
	var clone *Tensor
	err := t.ConstFlatData(func(flat any) {
		clone = newEmptyTensor(t.shape.Clone())
		flatV := reflect.ValueOf(flat)
		cloneV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
		reflect.Copy(cloneV, flatV)
		clone.flat = cloneV.Interface()
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// Equal checks whether the otherTensor has the same shape and values.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if !t.Ok() || !otherTensor.Ok() || !t.shape.Equal(otherTensor.shape) {
		return false
	}
	var equal bool
	_ = t.ConstFlatData(func(flat any) {
		_ = otherTensor.ConstFlatData(func(otherFlat any) {
			equal = reflect.DeepEqual(flat, otherFlat)
		})
	})
	return equal
}

// MaxSizeToPrint is the maximum number of elements printed by Tensor.String.
const MaxSizeToPrint = 32

// String pretty-prints the shape and, if small enough, the flat values.
func (t *Tensor) String() string {
	if err := t.CheckValid(); err != nil {
		return fmt.Sprintf("<invalid tensor: %v>", err)
	}
	if t.Size() > MaxSizeToPrint {
		return fmt.Sprintf("%s{...}", t.shape)
	}
	var s string
	_ = t.ConstFlatData(func(flat any) {
		s = fmt.Sprintf("%s%v", t.shape, flat)
	})
	return s
}
