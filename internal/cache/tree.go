package cache

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// mutableNames are artifact files excluded from the bundle digest: they
// carry timestamps or log text that legitimately differ between two
// otherwise equivalent builds.
var mutableNames = map[string]bool{
	markerName:      true,
	"manifest.json": true,
	"build.log":     true,
}

// CopyTree copies a directory tree from src to dst, preserving file modes.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		return copyFile(path, target)
	})
}

// DigestTree computes the digest manifest of an artifact bundle: the
// sorted (path, content digest) list over the bundle's files, hashed.
// Two bundles with equal tree digests are treated as equivalent artifacts.
func DigestTree(dir string) (digest.Digest, error) {
	h := sha256.New()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if mutableNames[d.Name()] {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		sum, err := HashFile(path)
		if err != nil {
			return err
		}

		fmt.Fprintf(h, "%s:%s\n", filepath.ToSlash(rel), sum)

		return nil
	})
	if err != nil {
		return "", err
	}

	return digest.NewDigest(digest.SHA256, h), nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer srcFile.Close()

	// Create parent directory if needed
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	// Preserve file permissions
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	return os.Chmod(dst, srcInfo.Mode())
}
