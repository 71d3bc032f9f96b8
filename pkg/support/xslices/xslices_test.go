// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPop(t *testing.T) {
	stack := []int{1, 2, 3}
	var top int
	top, stack = Pop(stack)
	assert.Equal(t, 3, top)
	assert.Equal(t, []int{1, 2}, stack)
	assert.Equal(t, 2, Last(stack))

	var empty []string
	value, empty := Pop(empty)
	assert.Equal(t, "", value)
	assert.Empty(t, empty)
}

func TestKeysAndIota(t *testing.T) {
	m := map[string]int{"b": 2, "c": 3, "a": 1}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
	assert.Len(t, Keys(m), 3)

	assert.Equal(t, []int{3, 4, 5}, Iota(3, 3))
	assert.Equal(t, []float64{0.5, 1.5}, Iota(0.5, 2))
	assert.Empty(t, Iota(0, 0))

	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, strconv.Itoa))
}
