// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(dtypes.Float32, 2, -1) })
	require.NotPanics(t, func() { _ = Make(dtypes.Float32, 2, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 3, shape.Dim(-2))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
	require.NoError(t, shape.CheckAxis(2))
	require.Error(t, shape.CheckAxis(3))
	require.Error(t, shape.CheckAxis(-1))
}

func TestStridesAndSplit(t *testing.T) {
	shape := Make(dtypes.Float32, 8, 4, 3, 3)
	require.Equal(t, []int{36, 9, 3, 1}, shape.Strides())

	outer, dim, inner := shape.SplitAt(1)
	require.Equal(t, 8, outer)
	require.Equal(t, 4, dim)
	require.Equal(t, 9, inner)

	outer, dim, inner = shape.SplitAt(0)
	require.Equal(t, []int{1, 8, 36}, []int{outer, dim, inner})
}

func TestWithAxisDimAndClone(t *testing.T) {
	shape := Make(dtypes.Float32, 32, 16, 3, 3)
	pruned := shape.WithAxisDim(0, 24)
	require.Equal(t, []int{24, 16, 3, 3}, pruned.Dimensions)
	require.Equal(t, 32, shape.Dim(0), "original must not change")
	require.False(t, shape.Equal(pruned))
	require.True(t, shape.Equal(shape.Clone()))
	require.True(t, shape.EqualDimensions(Make(dtypes.Int32, 32, 16, 3, 3)))
}

func TestGob(t *testing.T) {
	shape := Make(dtypes.BFloat16, 5, 7)
	var buf bytes.Buffer
	require.NoError(t, shape.GobSerialize(gob.NewEncoder(&buf)))
	got, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	require.True(t, shape.Equal(got))
}
