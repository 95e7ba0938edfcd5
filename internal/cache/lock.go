package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockFingerprint takes the advisory cross-process lock for a fingerprint,
// blocking until it is acquired or ctx is done. A process that loses the
// race to build a fingerprint blocks here on the winner, then finds the
// winner's commit via Lookup instead of rebuilding.
func (c *Cache) LockFingerprint(ctx context.Context, fingerprint string) (func() error, error) {
	locksDir := filepath.Join(c.root, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}

	fl := flock.New(filepath.Join(locksDir, fingerprint+".lock"))

	ok, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to lock fingerprint %s: %w", fingerprint, err)
	}

	if !ok {
		return nil, fmt.Errorf("failed to lock fingerprint %s", fingerprint)
	}

	return fl.Unlock, nil
}
