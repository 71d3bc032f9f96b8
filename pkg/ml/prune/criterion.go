// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"cmp"
	"math"
	"slices"
	"sync"

	"github.com/gomlx/prune/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Criterion scores the slices (channels) of a parameter along an axis: slices with the lowest scores are
// the first to be pruned.
type Criterion interface {
	// Scores returns one score per slice of values along axis.
	Scores(values *tensors.Tensor, axis int) ([]float64, error)
}

// CriterionFn implements Criterion with a function.
type CriterionFn func(values *tensors.Tensor, axis int) ([]float64, error)

// Scores implements Criterion.
func (fn CriterionFn) Scores(values *tensors.Tensor, axis int) ([]float64, error) {
	return fn(values, axis)
}

var (
	criteriaMu sync.Mutex
	criteria   = map[string]Criterion{
		"l1_norm": CriterionFn(func(values *tensors.Tensor, axis int) ([]float64, error) {
			return reduceAxis(values, axis, math.Abs, nil)
		}),
		"l2_norm": CriterionFn(func(values *tensors.Tensor, axis int) ([]float64, error) {
			return reduceAxis(values, axis, func(v float64) float64 { return v * v }, math.Sqrt)
		}),
	}
)

// RegisterCriterion makes a new criterion available to New under the given name.
// It replaces any criterion previously registered with the same name.
func RegisterCriterion(name string, criterion Criterion) {
	criteriaMu.Lock()
	defer criteriaMu.Unlock()
	criteria[name] = criterion
}

// GetCriterion returns the criterion registered with the given name, or an error wrapping ErrUnknownCriterion.
func GetCriterion(name string) (Criterion, error) {
	criteriaMu.Lock()
	defer criteriaMu.Unlock()
	c, found := criteria[name]
	if !found {
		return nil, errors.Wrapf(ErrUnknownCriterion, "criterion %q", name)
	}
	return c, nil
}

// reduceAxis sums elementFn(v) for all values sharing the same index on axis. If finalFn is given,
// it is applied to each sum.
func reduceAxis(values *tensors.Tensor, axis int, elementFn, finalFn func(float64) float64) ([]float64, error) {
	shape := values.Shape()
	if err := shape.CheckAxis(axis); err != nil {
		return nil, err
	}
	flat, err := values.ToFloat64s()
	if err != nil {
		return nil, err
	}
	outer, dim, inner := shape.SplitAt(axis)
	scores := make([]float64, dim)
	pos := 0
	for range outer {
		for d := range dim {
			for range inner {
				scores[d] += elementFn(flat[pos])
				pos++
			}
		}
	}
	if finalFn != nil {
		for ii, s := range scores {
			scores[ii] = finalFn(s)
		}
	}
	return scores, nil
}

// numToPrune returns the number of slices to prune from an axis of dimension dim.
// Halves are rounded to even.
func numToPrune(dim int, ratio float64) int {
	return int(math.RoundToEven(float64(dim) * ratio))
}

// SelectIndices returns, in ascending order, the indices of the round(dim*ratio) slices of values along axis with
// the lowest scores given by criterion. Ties are broken by the lower index.
func SelectIndices(criterion Criterion, values *tensors.Tensor, ratio float64, axis int) ([]int, error) {
	if ratio < 0 || ratio >= 1 {
		return nil, errors.Errorf("ratio %g out of range [0, 1)", ratio)
	}
	if err := values.Shape().CheckAxis(axis); err != nil {
		return nil, err
	}
	num := numToPrune(values.Shape().Dimensions[axis], ratio)
	if num == 0 {
		return []int{}, nil
	}
	scores, err := criterion.Scores(values, axis)
	if err != nil {
		return nil, err
	}
	order := make([]int, len(scores))
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(scores[a], scores[b]) })
	selected := order[:num]
	slices.Sort(selected)
	return selected, nil
}
