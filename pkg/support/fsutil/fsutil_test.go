// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(path.Join(dir, "a.json"), []byte("{}"), 0o644))

	exists, err := FileExists(path.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(path.Join(dir, "b.json"))
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, RequireFiles(dir, "a.json"))
	err = RequireFiles(dir, "a.json", "b.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.json")
}

func TestReplaceTildeInDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	dir, err := ReplaceTildeInDir("~/models/resnet")
	require.NoError(t, err)
	assert.Equal(t, path.Join(home, "models/resnet"), dir)

	dir, err = ReplaceTildeInDir("~")
	require.NoError(t, err)
	assert.Equal(t, path.Clean(home), dir)

	dir, err = ReplaceTildeInDir("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", dir)

	_, err = ReplaceTildeInDir("~no_such_user_for_sure/x")
	require.Error(t, err)

	assert.Equal(t, path.Join(home, "plan.yaml"), MustReplaceTildeInDir("~/plan.yaml"))
	assert.Equal(t, "", MustReplaceTildeInDir(""))
	assert.Panics(t, func() { MustReplaceTildeInDir("~no_such_user_for_sure/x") })
}
