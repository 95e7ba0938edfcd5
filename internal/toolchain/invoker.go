// Package toolchain spawns a staged compiler as a subprocess with a
// controlled environment and reports the outcome as an explicit result
// value.
package toolchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/stagebuild/stagebuild/internal/ctxlog"
	"github.com/stagebuild/stagebuild/internal/platform"
)

// toolName is the compiler driver binary inside every artifact bundle.
const toolName = "stagec"

// Mode selects the toolchain operation.
type Mode string

const (
	// ModeBuild compiles the compiler and standard library
	ModeBuild Mode = "build"

	// ModeTest runs the toolchain's own test suite
	ModeTest Mode = "test"
)

// Request describes one toolchain invocation: stage N built by the
// stage N-1 artifact.
type Request struct {
	Mode Mode

	// Stage being produced
	Stage int

	// Host runs the toolchain; Target is what it emits code for
	Host   platform.Platform
	Target platform.Platform

	// PrevArtifact is the bundle directory of the stage N-1 toolchain
	PrevArtifact string

	// SourceDir is the toolchain source tree
	SourceDir string

	// OutDir receives the produced artifact bundle
	OutDir string

	// Args are extra toolchain arguments from configuration
	Args []string
}

// Invoker executes toolchain subprocesses.
type Invoker struct {
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewInvoker creates a new invoker
func NewInvoker() *Invoker {
	return &Invoker{
		execCommand: exec.CommandContext,
	}
}

// commandArgs builds the argument list for a request.
func commandArgs(req Request) []string {
	args := []string{
		string(req.Mode),
		"--stage", strconv.Itoa(req.Stage),
		"--target", req.Target.String(),
		"--source", req.SourceDir,
		"--out", req.OutDir,
	}

	return append(args, req.Args...)
}

// scrubbedEnv is the environment a toolchain subprocess runs with. The
// parent environment is never inherited, so the build cannot discover
// unrelated system toolchains, and timestamps are pinned for
// reproducibility.
func scrubbedEnv(req Request) []string {
	return []string{
		"STAGEBUILD_STAGE=" + strconv.Itoa(req.Stage),
		"STAGEBUILD_TARGET=" + req.Target.String(),
		"STAGEBUILD_OUT=" + req.OutDir,
		"SOURCE_DATE_EPOCH=0",
		"LANG=C.UTF-8",
		"TZ=UTC",
	}
}

// Run invokes the previous stage's toolchain against the current source
// tree. The outcome is always a Result when the subprocess ran at all;
// an error return means the invocation itself could not be made.
// Cancellation terminates the entire subprocess group.
func (iv *Invoker) Run(ctx context.Context, req Request) (*Result, error) {
	if req.PrevArtifact == "" {
		return nil, fmt.Errorf("no previous stage artifact for stage %d", req.Stage)
	}

	tool := filepath.Join(req.PrevArtifact, "bin", toolName)
	if _, err := os.Stat(tool); err != nil {
		return nil, fmt.Errorf("stage %d toolchain missing: %w", req.Stage-1, err)
	}

	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	args := commandArgs(req)

	logger := ctxlog.FromContext(ctx)
	logger.Debug("invoking toolchain", "tool", tool, "stage", req.Stage,
		"target", req.Target.String(), "args", args)

	var stdout, stderr bytes.Buffer

	cmd := iv.execCommand(ctx, tool, args...)
	cmd.Dir = req.SourceDir
	cmd.Env = scrubbedEnv(req)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)

	runErr := cmd.Run()
	diagnostics := stdout.String() + stderr.String()

	if runErr == nil {
		if err := writeArtifactManifest(req); err != nil {
			return nil, err
		}

		return &Result{
			Kind:        Success,
			ArtifactDir: req.OutDir,
			Diagnostics: diagnostics,
		}, nil
	}

	// The artifact directory may hold partial outputs; discard them so a
	// failed build can never be mistaken for a complete one.
	if err := os.RemoveAll(req.OutDir); err != nil {
		logger.Warn("failed to clean partial outputs", "dir", req.OutDir, "error", err)
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("failed to run %s: %w", tool, runErr)
	}

	code := exitErr.ExitCode()

	if ctx.Err() != nil {
		return &Result{
			Kind:        ProcessFailed,
			Diagnostics: diagnostics,
			ExitCode:    code,
		}, nil
	}

	if code == exitCompileErrors {
		return &Result{
			Kind:        CompileFailed,
			Diagnostics: diagnostics,
			ExitCode:    code,
		}, nil
	}

	return &Result{
		Kind:        ProcessFailed,
		Diagnostics: diagnostics,
		ExitCode:    code,
	}, nil
}

// writeArtifactManifest records build metadata beside the bundle. The file
// is excluded from artifact digests, so its timestamp does not perturb
// equivalence checks.
func writeArtifactManifest(req Request) error {
	meta := struct {
		Stage   int       `json:"stage"`
		Host    string    `json:"host"`
		Target  string    `json:"target"`
		BuiltAt time.Time `json:"built_at"`
	}{
		Stage:   req.Stage,
		Host:    req.Host.String(),
		Target:  req.Target.String(),
		BuiltAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(req.OutDir, "manifest.json"), data, 0o644)
}
