// Package codes maps run errors to process exit codes. The mapping is
// part of the tool's contract with CI wrappers, so every error class has
// a fixed code.
package codes

import (
	"errors"

	"github.com/stagebuild/stagebuild/internal/config"
	"github.com/stagebuild/stagebuild/internal/manifest"
	"github.com/stagebuild/stagebuild/internal/orchestrator"
	"github.com/stagebuild/stagebuild/internal/platform"
	"github.com/stagebuild/stagebuild/internal/snapshot"
	"github.com/stagebuild/stagebuild/internal/stagegraph"
	"github.com/stagebuild/stagebuild/internal/toolchain"
)

const (
	// Success means every requested step completed.
	Success = 0

	// CompileError means the toolchain reported a compilation failure.
	CompileError = 1

	// NetworkError means a snapshot download failed after retries.
	NetworkError = 2

	// IntegrityError means a checksum, cache integrity, or fixed-point
	// check failed. These are never retried.
	IntegrityError = 3

	// UsageError means invalid configuration, flags, or platform.
	UsageError = 4
)

// Descriptions maps exit codes to their meanings.
var Descriptions = map[int]string{
	Success:        "Success",
	CompileError:   "Toolchain compilation failed",
	NetworkError:   "Snapshot download failed",
	IntegrityError: "Checksum, integrity, or fixed-point verification failed",
	UsageError:     "Invalid configuration or unsupported platform",
}

// FromError returns the exit code for a run error.
func FromError(err error) int {
	switch {
	case err == nil:
		return Success

	case errors.Is(err, snapshot.ErrChecksum),
		errors.Is(err, orchestrator.ErrFixedPoint):
		return IntegrityError

	case errors.Is(err, snapshot.ErrNetwork):
		return NetworkError

	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, platform.ErrUnsupported),
		errors.Is(err, manifest.ErrFormatVersion),
		errors.Is(err, stagegraph.ErrInvalidRequest):
		return UsageError

	case errors.Is(err, toolchain.ErrCompile),
		errors.Is(err, toolchain.ErrProcess):
		return CompileError

	default:
		return CompileError
	}
}

// Describe returns the description for an exit code, or a generic
// message if unknown.
func Describe(code int) string {
	if msg, ok := Descriptions[code]; ok {
		return msg
	}

	return "Unknown error"
}
