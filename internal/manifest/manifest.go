// Package manifest loads and validates the snapshot manifest: the mapping
// from platform triple to the trusted stage 0 download for that platform.
//
// The manifest is the trust boundary for the whole bootstrap. Entries are
// read-only after load, checksums are required, and format-version
// mismatches are rejected rather than guessed.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/opencontainers/go-digest"

	"github.com/stagebuild/stagebuild/internal/platform"
)

// FormatVersion is the manifest entry format this build understands.
const FormatVersion = 1

// ErrFormatVersion indicates an entry written for a different manifest
// format than this build understands.
var ErrFormatVersion = errors.New("unsupported manifest format version")

// Entry describes the trusted stage 0 archive for one platform.
type Entry struct {
	// URL is the download location of the stage 0 archive
	URL string `json:"url"`

	// Checksum is the expected digest of the archive bytes
	Checksum digest.Digest `json:"checksum"`

	// FormatVersion is the manifest format the entry was written for
	FormatVersion int `json:"format-version"`
}

// Manifest is an immutable platform → Entry mapping loaded once per run.
type Manifest struct {
	entries map[string]Entry

	// rejected holds per-platform load failures (bad version, bad digest)
	// surfaced at lookup time so one broken entry cannot poison the rest.
	rejected map[string]error

	mirror string
}

// Load reads a manifest file. A non-empty mirror rewrites the base of every
// entry URL at lookup time, preserving the URL path.
func Load(path, mirror string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot manifest: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var raw map[string]Entry
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot manifest %s: %w", path, err)
	}

	m := &Manifest{
		entries:  make(map[string]Entry, len(raw)),
		rejected: make(map[string]error),
		mirror:   mirror,
	}

	for triple, entry := range raw {
		if _, err := platform.Parse(triple); err != nil {
			return nil, fmt.Errorf("snapshot manifest %s: %w", path, err)
		}

		if entry.FormatVersion != FormatVersion {
			m.rejected[triple] = fmt.Errorf("%w: entry for %s has version %d, want %d",
				ErrFormatVersion, triple, entry.FormatVersion, FormatVersion)
			continue
		}

		if err := entry.Checksum.Validate(); err != nil {
			m.rejected[triple] = fmt.Errorf("entry for %s has invalid checksum: %w", triple, err)
			continue
		}

		if entry.URL == "" {
			m.rejected[triple] = fmt.Errorf("entry for %s has no URL", triple)
			continue
		}

		m.entries[triple] = entry
	}

	return m, nil
}

// Lookup returns the entry for a platform, with the mirror override applied.
func (m *Manifest) Lookup(p platform.Platform) (Entry, error) {
	triple := p.String()

	if err, ok := m.rejected[triple]; ok {
		return Entry{}, err
	}

	entry, ok := m.entries[triple]
	if !ok {
		return Entry{}, fmt.Errorf("%w: no stage 0 snapshot for %s", platform.ErrUnsupported, triple)
	}

	if m.mirror != "" {
		rewritten, err := rewriteURL(entry.URL, m.mirror)
		if err != nil {
			return Entry{}, fmt.Errorf("entry for %s: %w", triple, err)
		}

		entry.URL = rewritten
	}

	return entry, nil
}

// Platforms returns the triples with a usable entry, for diagnostics.
func (m *Manifest) Platforms() []string {
	triples := make([]string, 0, len(m.entries))
	for triple := range m.entries {
		triples = append(triples, triple)
	}

	return triples
}

// rewriteURL replaces the scheme and host of raw with those of mirror,
// keeping the original path.
func rewriteURL(raw, mirror string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid snapshot URL %q: %w", raw, err)
	}

	base, err := url.Parse(mirror)
	if err != nil {
		return "", fmt.Errorf("invalid snapshot mirror %q: %w", mirror, err)
	}

	return base.JoinPath(u.Path).String(), nil
}
