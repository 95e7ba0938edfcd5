package snapshot

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagebuild/stagebuild/internal/manifest"
	"github.com/stagebuild/stagebuild/internal/platform"
)

// makeTarGz builds an in-memory tar.gz archive from a name → content map.
func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))

		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

// testManifest writes a manifest pointing url at the given checksum for
// x86_64-linux-gnu and loads it.
func testManifest(t *testing.T, url string, checksum digest.Digest) *manifest.Manifest {
	t.Helper()

	path := filepath.Join(t.TempDir(), "snapshot-manifest.json")
	content := fmt.Sprintf(`{"x86_64-linux-gnu": {"url": %q, "checksum": %q, "format-version": 1}}`, url, checksum)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := manifest.Load(path, "")
	require.NoError(t, err)

	return m
}

func TestEnsureStage0_FetchVerifyReuse(t *testing.T) {
	archive := makeTarGz(t, map[string]string{
		"bin/stagec":   "#!/bin/sh\nexit 0\n",
		"lib/std.rlib": "stdlib",
	})
	checksum := digest.SHA256.FromBytes(archive)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(archive)
	}))

	m := testManifest(t, srv.URL+"/stage0.tar.gz", checksum)
	mgr := NewManager(m, t.TempDir(), 0)

	p, _ := platform.Parse("x86_64-linux-gnu")

	dir, err := mgr.EnsureStage0(context.Background(), p)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "bin", "stagec"))
	assert.FileExists(t, filepath.Join(dir, markerName))
	assert.Equal(t, int32(1), hits.Load())

	// Repeat calls are offline-safe: shut the server down first
	srv.Close()

	dir2, err := mgr.EnsureStage0(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, dir, dir2)
	assert.Equal(t, int32(1), hits.Load(), "verified copy must be reused without network")
}

func TestEnsureStage0_ChecksumMismatchFatal(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"bin/stagec": "evil"})

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(archive)
	}))
	defer srv.Close()

	// Manifest expects different bytes than the server delivers
	m := testManifest(t, srv.URL+"/stage0.tar.gz", digest.SHA256.FromString("the real archive"))
	cacheDir := t.TempDir()
	mgr := NewManager(m, cacheDir, 5)

	p, _ := platform.Parse("x86_64-linux-gnu")

	_, err := mgr.EnsureStage0(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, int32(1), hits.Load(), "checksum mismatch must not be retried")

	// The corrupted download was discarded and nothing was installed
	assert.NoDirExists(t, filepath.Join(cacheDir, "snapshots", "x86_64-linux-gnu"))

	entries, err := os.ReadDir(filepath.Join(cacheDir, "snapshots"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnsureStage0_RetriesTransportFailures(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"bin/stagec": "ok"})
	checksum := digest.SHA256.FromBytes(archive)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Write(archive)
	}))
	defer srv.Close()

	m := testManifest(t, srv.URL+"/stage0.tar.gz", checksum)
	mgr := NewManager(m, t.TempDir(), 4)

	p, _ := platform.Parse("x86_64-linux-gnu")

	_, err := mgr.EnsureStage0(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestEnsureStage0_RetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := testManifest(t, srv.URL+"/stage0.tar.gz", digest.SHA256.FromString("never delivered"))
	mgr := NewManager(m, t.TempDir(), 2)

	p, _ := platform.Parse("x86_64-linux-gnu")

	_, err := mgr.EnsureStage0(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestEnsureStage0_UnsupportedPlatform(t *testing.T) {
	m := testManifest(t, "https://example.com/stage0.tar.gz", digest.SHA256.FromString("x"))
	mgr := NewManager(m, t.TempDir(), 0)

	p, _ := platform.Parse("riscv64-freebsd")

	_, err := mgr.EnsureStage0(context.Background(), p)
	assert.ErrorIs(t, err, platform.ErrUnsupported)
}

func TestExtractTarGz_RejectsTraversal(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"../escape": "gotcha"})

	path := filepath.Join(t.TempDir(), "evil.tar.gz")
	require.NoError(t, os.WriteFile(path, archive, 0o644))

	err := extractTarGz(path, filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}
