// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/prune/pkg/support/sets"
)

// Registry keeps the names of the variables already pruned, per axis: axis 0 (output channels) and
// axis 1 (input channels). A name is pruned at most once per axis.
//
// A new Registry is created for every Prune call.
type Registry struct {
	axes [2]sets.Set[string]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{axes: [2]sets.Set[string]{sets.Make[string](), sets.Make[string]()}}
}

func (r *Registry) axisSet(axis int) sets.Set[string] {
	if axis < 0 || axis >= len(r.axes) {
		exceptions.Panicf("prune.Registry: only axes 0 and 1 are tracked, got axis %d", axis)
	}
	return r.axes[axis]
}

// Has returns whether name was already pruned on axis.
func (r *Registry) Has(name string, axis int) bool {
	return r.axisSet(axis).Has(name)
}

// Record marks name as pruned on axis.
func (r *Registry) Record(name string, axis int) {
	r.axisSet(axis).Insert(name)
}

// Len returns the number of names pruned on axis.
func (r *Registry) Len(axis int) int {
	return len(r.axisSet(axis))
}
