package cache

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Entry represents a committed build for one (stage, host, target).
type Entry struct {
	// Fingerprint is the unique identifier for this cache entry
	// Computed from: stage + host + target + source tree + build config
	Fingerprint string `json:"fingerprint"`

	// Stage is the compilation generation that produced the artifact
	Stage int `json:"stage"`

	// Host is the triple the producing toolchain ran on
	Host string `json:"host"`

	// Target is the triple the artifact was built for
	Target string `json:"target"`

	// CreatedAt is when this entry was committed
	CreatedAt time.Time `json:"created_at"`

	// Integrity is the digest of the artifact bundle, duplicated in the
	// marker file beside the bundle for lazy corruption detection
	Integrity digest.Digest `json:"integrity"`

	// Valid is cleared only by eviction; a committed entry is immutable
	Valid bool `json:"valid"`
}
