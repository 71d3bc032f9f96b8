// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

func convertToFloat64[T constraints.Integer | constraints.Float](flat []T) []float64 {
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	return values
}

// ToFloat64s returns a copy of the tensor's flat values converted to float64.
//
// It works for all float and integer dtypes, including Float16 and BFloat16. Bool and complex
// dtypes return an error.
func (t *Tensor) ToFloat64s() (values []float64, err error) {
	accessErr := t.ConstFlatData(func(flat any) {
		switch flat := flat.(type) {
		case []float32:
			values = convertToFloat64(flat)
		case []float64:
			values = convertToFloat64(flat)
		case []float16.Float16:
			values = make([]float64, len(flat))
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		case []bfloat16.BFloat16:
			values = make([]float64, len(flat))
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		case []int:
			values = convertToFloat64(flat)
		case []int8:
			values = convertToFloat64(flat)
		case []int16:
			values = convertToFloat64(flat)
		case []int32:
			values = convertToFloat64(flat)
		case []int64:
			values = convertToFloat64(flat)
		case []uint8:
			values = convertToFloat64(flat)
		case []uint16:
			values = convertToFloat64(flat)
		case []uint32:
			values = convertToFloat64(flat)
		case []uint64:
			values = convertToFloat64(flat)
		default:
			err = errors.Errorf("cannot convert tensor of dtype %s to float64", t.DType())
		}
	})
	if accessErr != nil {
		return nil, accessErr
	}
	return
}
