package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagebuild/stagebuild/internal/platform"
)

// Fingerprint computes the deterministic digest identifying a build step's
// inputs: the stage ordinal, the host and target triples, the source tree
// content, and the build-relevant configuration. Two builds with the same
// fingerprint must produce behaviorally identical artifacts.
func Fingerprint(stage int, host, target platform.Platform, sourceDir string, buildArgs []string) (string, error) {
	h := sha256.New()

	fmt.Fprintf(h, "stage:%d\n", stage)
	fmt.Fprintf(h, "host:%s\n", host)
	fmt.Fprintf(h, "target:%s\n", target)

	// Argument order is meaningful to the toolchain, so it is hashed as-is.
	fmt.Fprintf(h, "args:%s\n", strings.Join(buildArgs, "\x00"))

	if err := hashSourceTree(h, sourceDir); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashSourceTree hashes every file under root in lexical path order,
// skipping hidden directories (VCS metadata, cache roots).
func hashSourceTree(h io.Writer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk source tree: %w", err)
		}

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}

			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		sum, err := HashFile(path)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", rel, err)
		}

		fmt.Fprintf(h, "%s:%s\n", filepath.ToSlash(rel), sum)

		return nil
	})
}

// HashFile creates a hash of a file's content
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
