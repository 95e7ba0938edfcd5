package toolchain

import (
	"errors"
	"fmt"
)

var (
	// ErrCompile indicates the toolchain rejected the sources. The plan
	// branch depending on this step cannot proceed.
	ErrCompile = errors.New("compilation failed")

	// ErrProcess indicates the toolchain subprocess crashed or exited
	// abnormally.
	ErrProcess = errors.New("toolchain process failed")
)

// Kind classifies an invocation outcome.
type Kind int

const (
	// Success means the artifact bundle was produced
	Success Kind = iota

	// CompileFailed means the toolchain ran and rejected the sources
	CompileFailed

	// ProcessFailed means the subprocess crashed, was signalled, or
	// exited with an unexpected code
	ProcessFailed
)

// exitCodes maps staged toolchain exit codes to their descriptions
var exitCodes = map[int]string{
	0: "success",
	1: "compile errors",
	2: "internal toolchain error",
	3: "missing or unreadable input",
	4: "unsupported target",
}

const exitCompileErrors = 1

// describeExit returns the description for a toolchain exit code.
func describeExit(code int) string {
	if msg, ok := exitCodes[code]; ok {
		return msg
	}

	return "unknown error"
}

// Result is the outcome of one toolchain invocation.
type Result struct {
	Kind Kind

	// ArtifactDir is set only on success
	ArtifactDir string

	// Diagnostics is the combined subprocess output
	Diagnostics string

	// ExitCode is the subprocess exit code on failure
	ExitCode int
}

// Err converts a failed result into an error carrying the exit
// classification; it returns nil for a successful result.
func (r *Result) Err() error {
	switch r.Kind {
	case Success:
		return nil
	case CompileFailed:
		return fmt.Errorf("%w (exit code %d: %s)", ErrCompile, r.ExitCode, describeExit(r.ExitCode))
	default:
		return fmt.Errorf("%w (exit code %d: %s)", ErrProcess, r.ExitCode, describeExit(r.ExitCode))
	}
}
