// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"os"
	"path"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/core/shapes"
	"github.com/gomlx/prune/pkg/core/tensors"
	"github.com/gomlx/prune/pkg/ml/prune"
	"github.com/gomlx/prune/pkg/ml/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planYAML = `
criterion: l2_norm
place: 2
params:
  - name: conv1.w
    ratio: 0.5
  - name: conv2.w
    indices: [0, 1]
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(planYAML))
	require.NoError(t, err)
	assert.Equal(t, "l2_norm", p.Criterion)
	assert.Equal(t, 2, p.Place)
	require.Len(t, p.Params, 2)
	require.NotNil(t, p.Params[0].Ratio)
	assert.Equal(t, 0.5, *p.Params[0].Ratio)
	assert.Nil(t, p.Params[1].Ratio)
	assert.Equal(t, []int{0, 1}, p.Params[1].Indices)

	p, err = Parse([]byte("params:\n  - {name: w, ratio: 0}\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCriterion, p.Criterion)
	assert.Equal(t, 0.0, *p.Params[0].Ratio)

	// Round trip.
	data, err := p.Marshal()
	require.NoError(t, err)
	p2, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestValidate(t *testing.T) {
	for _, invalid := range []string{
		"params: []",
		"params:\n  - {ratio: 0.5}",
		"params:\n  - {name: w}",
		"params:\n  - {name: w, ratio: 0.5, indices: [1]}",
		"params:\n  - {name: w, ratio: 1}",
		"params:\n  - {name: w, indices: [-1]}",
		"place: -1\nparams:\n  - {name: w, ratio: 0.5}",
		"params: {name: w}",
	} {
		_, err := Parse([]byte(invalid))
		require.Error(t, err, "plan %q", invalid)
	}
}

func TestLoadAndConfig(t *testing.T) {
	f32 := func(dims ...int) shapes.Shape { return shapes.Make(dtypes.Float32, dims...) }
	prog := program.New()
	values := scope.New()
	x := prog.NewVar("x", f32(1, 3, 8, 8))
	w1 := prog.NewParameter("conv1.w", f32(8, 3, 3, 3))
	y1 := prog.NewVar("conv1.out", f32(1, 8, 8, 8))
	w2 := prog.NewParameter("conv2.w", f32(4, 8, 3, 3))
	y2 := prog.NewVar("conv2.out", f32(1, 4, 8, 8))
	prog.AddOp("conv2d", program.Slots{"Input": {x}, "Filter": {w1}}, program.Slots{"Output": {y1}}, nil)
	prog.AddOp("conv2d", program.Slots{"Input": {y1}, "Filter": {w2}}, program.Slots{"Output": {y2}}, nil)
	for _, v := range []*program.Var{w1, w2} {
		values.Set(v.Name, tensors.FromScalarAndDimensions(float32(1), v.Shape.Dimensions...), scope.HostPlace)
	}

	filePath := path.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte(planYAML), 0o644))
	p, err := Load(filePath)
	require.NoError(t, err)
	config, err := p.Config(prog, values)
	require.NoError(t, err)
	result, err := config.Done()
	require.NoError(t, err)
	require.Empty(t, result.Failed)

	w1Pruned, _ := result.Program.Var("conv1.w")
	w2Pruned, _ := result.Program.Var("conv2.w")
	assert.Equal(t, []int{4, 3, 3, 3}, w1Pruned.Shape.Dimensions)
	assert.Equal(t, []int{2, 4, 3, 3}, w2Pruned.Shape.Dimensions)
	assert.Equal(t, scope.Place(2), values.Place("conv2.w"))

	p.Criterion = "unknown"
	_, err = p.Config(prog, values)
	require.ErrorIs(t, err, prune.ErrUnknownCriterion)

	_, err = Load(path.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
