// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/core/shapes"
	"github.com/gomlx/prune/pkg/core/tensors"
	"github.com/gomlx/prune/pkg/ml/scope"
	"github.com/janpfeifer/must"
)

// netBuilder builds small programs with their values, for tests.
type netBuilder struct {
	prog   *program.Program
	values *scope.Scope
}

func newNetBuilder() *netBuilder {
	return &netBuilder{prog: program.New(), values: scope.New()}
}

func f32(dims ...int) shapes.Shape { return shapes.Make(dtypes.Float32, dims...) }

// channelValues returns a float32 tensor where every element of slice i of axis 0 is weights[i].
// If weights is shorter than the axis dimension, the remaining slices get their index+1.
func channelValues(dims []int, weights ...float32) *tensors.Tensor {
	shape := f32(dims...)
	_, dim, inner := shape.SplitAt(0)
	data := make([]float32, shape.Size())
	for c := range dim {
		w := float32(c + 1)
		if c < len(weights) {
			w = weights[c]
		}
		for j := range inner {
			data[c*inner+j] = w
		}
	}
	return tensors.FromFlatDataAndDimensions(data, dims...)
}

func (b *netBuilder) param(name string, dims []int, weights ...float32) *program.Var {
	v := b.prog.NewParameter(name, f32(dims...))
	b.values.Set(name, channelValues(dims, weights...), scope.HostPlace)
	return v
}

func (b *netBuilder) persistable(name string, dims ...int) *program.Var {
	v := b.prog.NewPersistable(name, f32(dims...))
	b.values.Set(name, channelValues(dims), scope.HostPlace)
	return v
}

func (b *netBuilder) activation(name string, dims ...int) *program.Var {
	return b.prog.NewVar(name, f32(dims...))
}

// conv adds a 3x3 convolution with outChannels filters, on an input of shape [1, C, 8, 8].
func (b *netBuilder) conv(name string, x *program.Var, outChannels int, weights ...float32) *program.Var {
	inChannels := x.Shape.Dimensions[1]
	w := b.param(name+".w", []int{outChannels, inChannels, 3, 3}, weights...)
	y := b.activation(name+".out", 1, outChannels, 8, 8)
	b.prog.AddOp("conv2d", program.Slots{"Input": {x}, "Filter": {w}}, program.Slots{"Output": {y}}, nil)
	return y
}

func (b *netBuilder) depthwiseConv(name string, x *program.Var) *program.Var {
	channels := x.Shape.Dimensions[1]
	w := b.param(name+".w", []int{channels, 1, 3, 3})
	y := b.activation(name+".out", 1, channels, 8, 8)
	b.prog.AddOp("depthwise_conv2d", program.Slots{"Input": {x}, "Filter": {w}}, program.Slots{"Output": {y}},
		map[string]any{"groups": channels})
	return y
}

func (b *netBuilder) batchNorm(name string, x *program.Var) *program.Var {
	channels := x.Shape.Dimensions[1]
	inputs := program.Slots{"X": {x}}
	for _, slot := range batchNormSlots {
		if slot == "Scale" || slot == "Bias" {
			inputs[slot] = []*program.Var{b.param(fmt.Sprintf("%s.%s", name, slot), []int{channels})}
		} else {
			inputs[slot] = []*program.Var{b.persistable(fmt.Sprintf("%s.%s", name, slot), channels)}
		}
	}
	y := b.activation(name+".out", x.Shape.Dimensions...)
	b.prog.AddOp("batch_norm", inputs, program.Slots{"Y": {y}}, nil)
	return y
}

func (b *netBuilder) bias(name string, x *program.Var) *program.Var {
	bias := b.param(name+".b", []int{x.Shape.Dimensions[1]})
	y := b.activation(name+".out", x.Shape.Dimensions...)
	b.prog.AddOp("elementwise_add", program.Slots{"X": {x}, "Y": {bias}}, program.Slots{"Out": {y}},
		map[string]any{"axis": 1})
	return y
}

func (b *netBuilder) add(name string, x, y *program.Var) *program.Var {
	out := b.activation(name+".out", x.Shape.Dimensions...)
	b.prog.AddOp("elementwise_add", program.Slots{"X": {x}, "Y": {y}}, program.Slots{"Out": {out}}, nil)
	return out
}

func (b *netBuilder) relu(name string, x *program.Var) *program.Var {
	y := b.activation(name+".out", x.Shape.Dimensions...)
	b.prog.AddOp("relu", program.Slots{"X": {x}}, program.Slots{"Out": {y}}, nil)
	return y
}

func (b *netBuilder) concat(name string, xs ...*program.Var) *program.Var {
	dims := []int{1, 0, 8, 8}
	for _, x := range xs {
		dims[1] += x.Shape.Dimensions[1]
	}
	y := b.activation(name+".out", dims...)
	b.prog.AddOp("concat", program.Slots{"X": xs}, program.Slots{"Out": {y}}, map[string]any{"axis": 1})
	return y
}

// fc adds a fully-connected layer with the given number of outputs, fed with x flattened.
func (b *netBuilder) fc(name string, x *program.Var, outputs int) *program.Var {
	w := b.param(name+".w", []int{x.Shape.Size() / x.Shape.Dimensions[0], outputs})
	y := b.activation(name+".out", x.Shape.Dimensions[0], outputs)
	b.prog.AddOp("mul", program.Slots{"X": {x}, "Y": {w}}, program.Slots{"Out": {y}}, nil)
	return y
}

// momentum adds an optimizer update for the parameter, with a velocity accumulator.
func (b *netBuilder) momentum(param *program.Var) *program.Var {
	velocity := b.persistable(param.Name+".velocity", param.Shape.Dimensions...)
	b.prog.AddOp("momentum",
		program.Slots{"Param": {param}, "Velocity": {velocity}},
		program.Slots{"ParamOut": {param}, "VelocityOut": {velocity}}, nil).
		WithRole(program.RoleOptimizer)
	return velocity
}

func (b *netBuilder) dims(name string) []int {
	v, found := b.prog.Var(name)
	if !found {
		panic(fmt.Sprintf("variable %q not found", name))
	}
	return v.Shape.Dimensions
}

func (b *netBuilder) value(name string) *tensors.Tensor {
	value, found := b.values.Find(name)
	if !found {
		panic(fmt.Sprintf("value %q not found", name))
	}
	return value
}

func newPruner() *Pruner {
	return must.M1(New("l1_norm"))
}

func resultDims(result *Result, name string) []int {
	v, found := result.Program.Var(name)
	if !found {
		panic(fmt.Sprintf("variable %q not found in pruned program", name))
	}
	return v.Shape.Dimensions
}
