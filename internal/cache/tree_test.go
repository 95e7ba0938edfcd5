package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestTree_Deterministic(t *testing.T) {
	dir := writeArtifactBundle(t, map[string]string{
		"bin/stagec":   "compiler",
		"lib/std.rlib": "stdlib",
	})

	sum1, err := DigestTree(dir)
	require.NoError(t, err)

	sum2, err := DigestTree(dir)
	require.NoError(t, err)

	assert.Equal(t, sum1, sum2)
}

func TestDigestTree_ContentSensitive(t *testing.T) {
	dir := writeArtifactBundle(t, map[string]string{"bin/stagec": "compiler"})

	sum1, err := DigestTree(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "stagec"), []byte("different"), 0o644))

	sum2, err := DigestTree(dir)
	require.NoError(t, err)

	assert.NotEqual(t, sum1, sum2)
}

func TestDigestTree_IgnoresMutableFiles(t *testing.T) {
	dir := writeArtifactBundle(t, map[string]string{"bin/stagec": "compiler"})

	sum1, err := DigestTree(dir)
	require.NoError(t, err)

	// Metadata and logs differ between equivalent builds and must not
	// affect the digest
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"built_at":"now"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.log"), []byte("compiling..."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, markerName), []byte("sha256:abc"), 0o644))

	sum2, err := DigestTree(dir)
	require.NoError(t, err)

	assert.Equal(t, sum1, sum2)
}

func TestCopyTree(t *testing.T) {
	src := writeArtifactBundle(t, map[string]string{
		"bin/stagec":        "compiler",
		"lib/core/std.rlib": "stdlib",
	})

	// Executable bit must survive the copy
	require.NoError(t, os.Chmod(filepath.Join(src, "bin", "stagec"), 0o755))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyTree(src, dst))

	content, err := os.ReadFile(filepath.Join(dst, "lib", "core", "std.rlib"))
	require.NoError(t, err)
	assert.Equal(t, "stdlib", string(content))

	info, err := os.Stat(filepath.Join(dst, "bin", "stagec"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	srcSum, err := DigestTree(src)
	require.NoError(t, err)
	dstSum, err := DigestTree(dst)
	require.NoError(t, err)
	assert.Equal(t, srcSum, dstSum)
}
