package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "src", "compiler")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	// No config anywhere above the temp root
	assert.Empty(t, FindLocalConfig(filepath.Join(root, "does-not-matter")))

	// Config at the root is found from a nested directory
	path := filepath.Join(root, ".stagebuild.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: 1\n"), 0o644))

	assert.Equal(t, path, FindLocalConfig(nested))

	// A closer config wins over an ancestor's
	closer := filepath.Join(nested, ".stagebuild.yml")
	require.NoError(t, os.WriteFile(closer, []byte("jobs: 2\n"), 0o644))

	assert.Equal(t, closer, FindLocalConfig(nested))
}
