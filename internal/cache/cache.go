// Package cache provides the content-addressed build cache for staged
// bootstrap artifacts.
//
// Each cached build is addressed by a fingerprint: a digest over the stage
// ordinal, the host and target triples, the source tree, and the
// build-relevant configuration. The cache:
//
//  1. Stores metadata in BoltDB and artifact bundles in the filesystem
//  2. Writes an integrity marker beside each bundle, last, so a partial
//     write from a crashed run is detectable on the next lookup
//  3. Never mutates a committed entry; invalidation is by fingerprint
//     change or eviction
//  4. Takes an advisory file lock per fingerprint so concurrent processes
//     do not perform the same build twice
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// bucketName is the BoltDB bucket name for cache entries
	bucketName = "builds"

	// markerName is the integrity marker file written beside each bundle
	markerName = "integrity"
)

// Cache manages build artifacts and metadata using BoltDB
type Cache struct {
	db   *bbolt.DB
	root string
}

// New opens the cache rooted at cacheDir, creating it if needed.
func New(cacheDir string) (*Cache, error) {
	if cacheDir == "" {
		return nil, fmt.Errorf("cache directory not set")
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, "cache.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &Cache{
		db:   db,
		root: cacheDir,
	}, nil
}

// Close closes the cache database
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Lookup retrieves the entry and artifact directory for a fingerprint.
// It is a pure read: it never builds. A corrupted entry (missing bundle,
// missing or mismatched integrity marker) is evicted and reported as a
// miss, never served. Returns (nil, "", nil) on miss.
func (c *Cache) Lookup(fingerprint string) (*Entry, string, error) {
	var entry Entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data := b.Get([]byte(fingerprint))
		if data == nil {
			return nil // Cache miss
		}

		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, "", err
	}

	if entry.Fingerprint == "" || !entry.Valid {
		return nil, "", nil // Cache miss
	}

	dir := c.artifactDir(fingerprint)
	marker, err := os.ReadFile(filepath.Join(dir, markerName))
	if err != nil || string(marker) != entry.Integrity.String() {
		// Partial write from a crashed run. Evict and miss.
		if evictErr := c.Evict(fingerprint); evictErr != nil {
			return nil, "", fmt.Errorf("failed to evict corrupt entry %s: %w", fingerprint, evictErr)
		}

		return nil, "", nil
	}

	return &entry, dir, nil
}

// CommitRequest describes a successful build to be ingested.
type CommitRequest struct {
	Fingerprint string
	Stage       int
	Host        string
	Target      string

	// ArtifactDir is the build output directory to copy in
	ArtifactDir string
}

// Commit ingests a successful build. A commit of an already-present
// fingerprint is a no-op: the first writer wins, which enforces entry
// immutability. The integrity marker is written after the bundle so a
// crash mid-commit leaves a detectably incomplete entry.
func (c *Cache) Commit(req CommitRequest) (*Entry, error) {
	if existing, _, err := c.Lookup(req.Fingerprint); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	dir := c.artifactDir(req.Fingerprint)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear artifact directory: %w", err)
	}

	if err := CopyTree(req.ArtifactDir, dir); err != nil {
		return nil, fmt.Errorf("failed to copy artifacts for %s: %w", req.Fingerprint, err)
	}

	sum, err := DigestTree(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to digest artifacts for %s: %w", req.Fingerprint, err)
	}

	if err := os.WriteFile(filepath.Join(dir, markerName), []byte(sum.String()), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write integrity marker: %w", err)
	}

	entry := Entry{
		Fingerprint: req.Fingerprint,
		Stage:       req.Stage,
		Host:        req.Host,
		Target:      req.Target,
		CreatedAt:   time.Now().UTC(),
		Integrity:   sum,
		Valid:       true,
	}

	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(req.Fingerprint), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store cache entry: %w", err)
	}

	return &entry, nil
}

// Evict removes an entry and its artifact bundle.
func (c *Cache) Evict(fingerprint string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Delete([]byte(fingerprint))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	if err := os.RemoveAll(c.artifactDir(fingerprint)); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}

	return nil
}

// VerifyIntegrity recomputes the digest of every cached bundle and returns
// the fingerprints whose contents no longer match their entry.
func (c *Cache) VerifyIntegrity() ([]string, error) {
	var entries []Entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		return b.ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}

			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var corrupted []string
	for _, entry := range entries {
		sum, err := DigestTree(c.artifactDir(entry.Fingerprint))
		if err != nil || sum != entry.Integrity {
			corrupted = append(corrupted, entry.Fingerprint)
		}
	}

	return corrupted, nil
}

// Clear removes all cache entries and artifacts
func (c *Cache) Clear() error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}

		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
	if err != nil {
		return err
	}

	artifactsDir := filepath.Join(c.root, "artifacts")
	if err := os.RemoveAll(artifactsDir); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}

	return nil
}

// Stats returns the entry count and total artifact size in bytes.
func (c *Cache) Stats() (int, int64, error) {
	var count int
	var totalSize int64

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	artifactsDir := filepath.Join(c.root, "artifacts")
	err = filepath.Walk(artifactsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() {
			totalSize += info.Size()
		}

		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return count, totalSize, err
	}

	return count, totalSize, nil
}

// artifactDir returns the bundle directory for a given fingerprint
func (c *Cache) artifactDir(fingerprint string) string {
	return filepath.Join(c.root, "artifacts", fingerprint)
}
