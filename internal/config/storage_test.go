package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_ListAndLoad(t *testing.T) {
	dir := t.TempDir()
	storage := NewStorageWithPath(dir)

	names, err := storage.List(ApplicationsDir)
	require.NoError(t, err)
	assert.Empty(t, names, "a missing directory has no entities")

	writeFile(t, filepath.Join(dir, ApplicationsDir, "b.yaml"), "name: b\n")
	writeFile(t, filepath.Join(dir, ApplicationsDir, "a.yml"), "name: a\n")

	names, err = storage.List(ApplicationsDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	data, err := storage.Load(ApplicationsDir, "a")
	require.NoError(t, err)
	assert.Equal(t, "name: a\n", string(data))
	assert.Equal(t, filepath.Join(dir, ApplicationsDir, "a.yml"), storage.Path(ApplicationsDir, "a"))

	_, err = storage.Load(ApplicationsDir, "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = storage.List("")
	assert.Error(t, err)
}
