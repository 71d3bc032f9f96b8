// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("w", 0))
	r.Record("w", 0)
	r.Record("w", 0)
	assert.True(t, r.Has("w", 0))
	assert.False(t, r.Has("w", 1))
	assert.Equal(t, 1, r.Len(0))
	assert.Equal(t, 0, r.Len(1))

	r.Record("w", 1)
	assert.True(t, r.Has("w", 1))

	require.Panics(t, func() { r.Record("w", 2) })
	require.Panics(t, func() { _ = r.Has("w", -1) })
}
