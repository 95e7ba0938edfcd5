// Package snapshot fetches and verifies the precompiled stage 0 toolchain.
//
// Stage 0 is the trust boundary of the bootstrap: a corrupted stage 0
// would silently poison every later stage. Downloads are digested while
// streaming and compared against the snapshot manifest before anything is
// installed; a verified copy is reused offline on repeat calls.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opencontainers/go-digest"

	"github.com/stagebuild/stagebuild/internal/ctxlog"
	"github.com/stagebuild/stagebuild/internal/manifest"
	"github.com/stagebuild/stagebuild/internal/platform"
)

var (
	// ErrNetwork indicates a download that failed after exhausting retries.
	// It is scoped to one platform; other platforms in a run are unaffected.
	ErrNetwork = errors.New("snapshot download failed")

	// ErrChecksum indicates a downloaded archive whose digest does not
	// match the manifest. Never retried, never tolerated.
	ErrChecksum = errors.New("snapshot checksum mismatch")
)

// markerName is the verification marker written after a successful
// fetch; its content is the archive digest that was verified.
const markerName = ".verified"

// Manager fetches stage 0 toolchains. It is the only component that
// touches the network.
type Manager struct {
	manifest *manifest.Manifest
	root     string
	client   *http.Client
	retries  int
}

// NewManager creates a snapshot manager storing fetched toolchains under
// <cacheDir>/snapshots. retries is the number of additional download
// attempts after the first.
func NewManager(m *manifest.Manifest, cacheDir string, retries int) *Manager {
	return &Manager{
		manifest: m,
		root:     filepath.Join(cacheDir, "snapshots"),
		client:   &http.Client{Timeout: 5 * time.Minute},
		retries:  retries,
	}
}

// EnsureStage0 returns the directory holding the verified stage 0
// toolchain for a platform, fetching it if no verified local copy exists.
// Repeat calls are idempotent and offline-safe.
func (m *Manager) EnsureStage0(ctx context.Context, p platform.Platform) (string, error) {
	entry, err := m.manifest.Lookup(p)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(m.root, p.String())
	if m.isVerified(dir, entry.Checksum) {
		ctxlog.FromContext(ctx).Debug("stage 0 already present", "platform", p.String())
		return dir, nil
	}

	archive, err := m.download(ctx, p, entry)
	if err != nil {
		return "", err
	}
	defer os.Remove(archive)

	if err := m.install(archive, dir, entry.Checksum); err != nil {
		return "", fmt.Errorf("failed to install stage 0 for %s: %w", p, err)
	}

	ctxlog.FromContext(ctx).Info("stage 0 fetched and verified",
		"platform", p.String(), "checksum", entry.Checksum.String())

	return dir, nil
}

// isVerified reports whether dir holds a copy verified against checksum.
func (m *Manager) isVerified(dir string, checksum digest.Digest) bool {
	marker, err := os.ReadFile(filepath.Join(dir, markerName))
	return err == nil && string(marker) == checksum.String()
}

// download fetches the archive to a temp file, verifying its digest while
// streaming. Transport failures are retried with bounded exponential
// backoff; a checksum mismatch is permanent and the corrupted download is
// discarded.
func (m *Manager) download(ctx context.Context, p platform.Platform, entry manifest.Entry) (string, error) {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	var archive string
	attempt := 0

	op := func() error {
		attempt++
		logger.Debug("downloading stage 0", "platform", p.String(), "url", entry.URL, "attempt", attempt)

		path, err := m.fetchOnce(ctx, entry)
		if err != nil {
			if errors.Is(err, ErrChecksum) {
				return backoff.Permanent(err)
			}

			logger.Warn("stage 0 download attempt failed", "platform", p.String(), "error", err)
			return err
		}

		archive = path
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.retries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrChecksum) {
			return "", fmt.Errorf("stage 0 for %s: %w", p, err)
		}

		return "", fmt.Errorf("stage 0 for %s after %d attempts: %w", p, attempt, errors.Join(ErrNetwork, err))
	}

	return archive, nil
}

// fetchOnce performs a single download attempt.
func (m *Manager) fetchOnce(ctx context.Context, entry manifest.Entry) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid snapshot URL: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s fetching %s", resp.Status, entry.URL)
	}

	tmp, err := os.CreateTemp(m.root, "download-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	digester := digest.SHA256.Digester()
	_, err = io.Copy(io.MultiWriter(tmp, digester.Hash()), resp.Body)
	closeErr := tmp.Close()

	if err != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write download: %w", errors.Join(err, closeErr))
	}

	if got := digester.Digest(); got != entry.Checksum {
		// Never install a corrupted download
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: got %s, want %s", ErrChecksum, got, entry.Checksum)
	}

	return tmp.Name(), nil
}

// install unpacks a verified archive into dir, writing the verification
// marker last so an interrupted install is refetched rather than trusted.
func (m *Manager) install(archive, dir string, checksum digest.Digest) error {
	staging := dir + ".tmp"
	if err := os.RemoveAll(staging); err != nil {
		return err
	}

	if err := extractTarGz(archive, staging); err != nil {
		os.RemoveAll(staging)
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	if err := os.Rename(staging, dir); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, markerName), []byte(checksum.String()), 0o644)
}
