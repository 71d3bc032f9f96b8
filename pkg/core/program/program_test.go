// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package program

import (
	"encoding/json"
	"path"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/prune/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildConvBN builds: x -> conv2d(w) -> y -> batch_norm -> z -> relu -> out, plus an optimizer op for w.
func buildConvBN(t *testing.T) *Program {
	p := New()
	x := p.NewVar("x", shapes.Make(dtypes.Float32, 1, 3, 8, 8))
	w := p.NewParameter("conv.w", shapes.Make(dtypes.Float32, 4, 3, 3, 3))
	y := p.NewVar("y", shapes.Make(dtypes.Float32, 1, 4, 8, 8))
	scale := p.NewParameter("bn.scale", shapes.Make(dtypes.Float32, 4))
	z := p.NewVar("z", shapes.Make(dtypes.Float32, 1, 4, 8, 8))
	out := p.NewVar("out", shapes.Make(dtypes.Float32, 1, 4, 8, 8))
	velocity := p.NewPersistable("conv.w.velocity", shapes.Make(dtypes.Float32, 4, 3, 3, 3))
	p.AddOp("conv2d", Slots{"Input": {x}, "Filter": {w}}, Slots{"Output": {y}}, map[string]any{"groups": 1})
	p.AddOp("batch_norm", Slots{"X": {y}, "Scale": {scale}}, Slots{"Y": {z}}, nil)
	p.AddOp("relu", Slots{"X": {z}}, Slots{"Out": {out}}, nil)
	p.AddOp("momentum", Slots{"Param": {w}, "Velocity": {velocity}},
		Slots{"ParamOut": {w}, "VelocityOut": {velocity}}, nil).WithRole(RoleOptimizer)
	require.Equal(t, 4, p.NumOps())
	return p
}

func TestAdjacency(t *testing.T) {
	p := buildConvBN(t)
	ops := p.Ops()
	conv, bn, relu, momentum := ops[0], ops[1], ops[2], ops[3]

	assert.Equal(t, []*Op{bn}, p.NextOps(conv))
	assert.Equal(t, []*Op{relu}, p.NextOps(bn))
	assert.Empty(t, p.NextOps(relu))
	assert.Equal(t, []*Op{conv}, p.PrevOps(bn))

	w, found := p.Var("conv.w")
	require.True(t, found)
	assert.Equal(t, []*Op{conv, momentum}, p.Consumers(w))
	assert.Equal(t, []*Op{momentum}, p.Producers(w))
	assert.Equal(t, []*Var{w}, p.ParamsOf(conv))
	assert.True(t, conv.HasInput(w))
	assert.True(t, momentum.IsOptimizer())
	assert.False(t, conv.IsBackward())

	// Slots are sorted by name: Filter before Input.
	assert.Equal(t, []string{"Filter", "Input"}, conv.InputSlots())
	assert.Equal(t, "conv.w", conv.AllInputs()[0].Name)
	assert.Equal(t, "conv2d#0", conv.String())
}

func TestAttrs(t *testing.T) {
	p := buildConvBN(t)
	conv := p.Op(0)
	assert.Equal(t, 1, conv.AttrInt("groups", 0))
	assert.Equal(t, 7, conv.AttrInt("missing", 7))
	conv.SetAttr("groups", float64(3))
	assert.Equal(t, 3, conv.AttrInt("groups", 0))
	assert.Nil(t, p.Op(10))
}

func TestBuilderPanics(t *testing.T) {
	p := New()
	p.NewVar("x", shapes.Make(dtypes.Float32, 2))
	require.Panics(t, func() { p.NewVar("x", shapes.Make(dtypes.Float32, 2)) })

	other := New().NewVar("y", shapes.Make(dtypes.Float32, 2))
	require.Panics(t, func() { p.AddOp("relu", Slots{"X": {other}}, nil, nil) })
}

func TestClone(t *testing.T) {
	p := buildConvBN(t)
	p2 := p.Clone()
	require.Equal(t, p.NumOps(), p2.NumOps())

	w2, _ := p2.Var("conv.w")
	w2.Shape = w2.Shape.WithAxisDim(0, 2)
	p2.Op(0).SetAttr("groups", 2)

	w, _ := p.Var("conv.w")
	assert.Equal(t, 4, w.Shape.Dim(0), "clone must not share variables")
	assert.Equal(t, 1, p.Op(0).AttrInt("groups", 0), "clone must not share attributes")
	assert.Same(t, w2, p2.ParamsOf(p2.Op(0))[0])
	assert.Equal(t, RoleOptimizer, p2.Op(3).Role)
}

func TestJSON(t *testing.T) {
	p := buildConvBN(t)
	filePath := path.Join(t.TempDir(), ProgramFileName)
	require.NoError(t, p.Save(filePath))

	loaded, err := Load(filePath)
	require.NoError(t, err)
	require.Equal(t, p.NumOps(), loaded.NumOps())
	for ii, op := range p.Ops() {
		op2 := loaded.Op(op.ID())
		assert.Equal(t, op.Type, op2.Type, "op #%d", ii)
		assert.Equal(t, op.Role, op2.Role, "op #%d", ii)
		assert.Equal(t, op.InputSlots(), op2.InputSlots())
	}
	w, _ := loaded.Var("conv.w")
	assert.True(t, w.Parameter)
	assert.True(t, w.Persistable)
	assert.Equal(t, []int{4, 3, 3, 3}, w.Shape.Dimensions)
	assert.Equal(t, dtypes.Float32, w.Shape.DType)
	assert.Equal(t, 1, loaded.Op(0).AttrInt("groups", 0))

	// Unknown variable.
	bad := New()
	err = json.Unmarshal([]byte(`{"vars": [], "ops": [{"type": "relu", "inputs": {"X": ["nope"]}}]}`), bad)
	require.Error(t, err)

	// Unknown role.
	bad = New()
	err = json.Unmarshal([]byte(`{"vars": [], "ops": [{"type": "relu", "role": "sideways"}]}`), bad)
	require.Error(t, err)
}

func TestRole(t *testing.T) {
	for _, role := range []Role{RoleForward, RoleBackward, RoleOptimizer} {
		got, ok := RoleFromString(role.String())
		require.True(t, ok)
		require.Equal(t, role, got)
	}
	_, ok := RoleFromString("unknown")
	require.False(t, ok)
	require.Equal(t, "Role(7)", Role(7).String())
}
