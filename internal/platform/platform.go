// Package platform defines the platform triple value type used as a key
// component throughout the build orchestrator.
package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrUnsupported indicates a platform triple that is malformed or refers
// to an architecture/OS combination the toolchain does not know about.
var ErrUnsupported = errors.New("unsupported platform")

// Platform identifies a host or target triple. It is an immutable value;
// the zero value is not a valid platform.
type Platform struct {
	// Arch is the CPU architecture (e.g., "x86_64", "aarch64")
	Arch string

	// OS is the operating system (e.g., "linux", "darwin")
	OS string

	// ABI is the optional ABI variant (e.g., "gnu", "musl")
	ABI string
}

var knownArches = map[string]bool{
	"x86_64":  true,
	"aarch64": true,
	"i686":    true,
	"riscv64": true,
	"arm":     true,
}

var knownOSes = map[string]bool{
	"linux":   true,
	"darwin":  true,
	"windows": true,
	"freebsd": true,
}

// Parse parses a triple of the form "arch-os" or "arch-os-abi".
func Parse(triple string) (Platform, error) {
	parts := strings.Split(triple, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return Platform{}, fmt.Errorf("%w: malformed triple %q", ErrUnsupported, triple)
	}

	p := Platform{Arch: parts[0], OS: parts[1]}
	if len(parts) == 3 {
		p.ABI = parts[2]
	}

	if !knownArches[p.Arch] {
		return Platform{}, fmt.Errorf("%w: unknown architecture %q in %q", ErrUnsupported, p.Arch, triple)
	}

	if !knownOSes[p.OS] {
		return Platform{}, fmt.Errorf("%w: unknown OS %q in %q", ErrUnsupported, p.OS, triple)
	}

	return p, nil
}

// String returns the canonical triple form.
func (p Platform) String() string {
	if p.ABI == "" {
		return p.Arch + "-" + p.OS
	}

	return p.Arch + "-" + p.OS + "-" + p.ABI
}

// IsZero reports whether p is the zero value.
func (p Platform) IsZero() bool {
	return p.Arch == "" && p.OS == "" && p.ABI == ""
}

// Host returns the platform the orchestrator itself is running on.
func Host() Platform {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	}

	p := Platform{Arch: arch, OS: runtime.GOOS}
	if p.OS == "linux" {
		p.ABI = "gnu"
	}

	return p
}
