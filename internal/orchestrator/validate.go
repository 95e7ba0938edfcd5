package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stagebuild/stagebuild/internal/cache"
	"github.com/stagebuild/stagebuild/internal/config"
	"github.com/stagebuild/stagebuild/internal/ctxlog"
	"github.com/stagebuild/stagebuild/internal/stagegraph"
	"github.com/stagebuild/stagebuild/internal/toolchain"
)

// runValidation performs the fixed-point check: the final stage, asked to
// rebuild itself, must produce an equivalent artifact. "Stage N built by
// stage N-1" and "stage N built by stage N" are two distinct artifacts
// compared for equivalence; nothing is mutated in place and the second
// artifact is never committed.
func (o *Orchestrator) runValidation(ctx context.Context, report *Report, step stagegraph.Step, artifacts map[artifactKey]string) error {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	finalDir, ok := artifacts[artifactKey{stage: step.Stage, target: step.Host.String()}]
	if !ok {
		return fmt.Errorf("%s: stage %d artifact for %s not available", step, step.Stage, step.Host)
	}

	outDir := filepath.Join(o.cache.Root(), "work", "fixedpoint")
	os.RemoveAll(outDir)
	defer os.RemoveAll(outDir)

	logger.Info("rebuilding final stage with itself", "step", step.String())

	result, err := o.invoker.Run(ctx, toolchain.Request{
		Mode:         toolchain.ModeBuild,
		Stage:        step.Stage,
		Host:         step.Host,
		Target:       step.Host,
		PrevArtifact: finalDir,
		SourceDir:    o.cfg.SourceDir,
		OutDir:       outDir,
		Args:         o.cfg.ToolchainArgs,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	if err := result.Err(); err != nil {
		return fmt.Errorf("%s: self-rebuild failed: %w\n%s", step, err, result.Diagnostics)
	}

	want, err := cache.DigestTree(finalDir)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	got, err := cache.DigestTree(outDir)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	if got != want {
		o.notify(step, "failed")
		return fmt.Errorf("%s: %w: stage %d built by stage %d digests %s, built by itself digests %s",
			step, ErrFixedPoint, step.Stage, step.Stage-1, want, got)
	}

	report.Steps = append(report.Steps, StepReport{Step: step, Duration: time.Since(start)})
	o.notify(step, "fixed point holds")

	logger.Info("fixed point holds", "digest", want.String())

	return nil
}

// runTest runs the toolchain's own test suite using the final artifact.
func (o *Orchestrator) runTest(ctx context.Context, report *Report, step stagegraph.Step, artifacts map[artifactKey]string) error {
	start := time.Now()

	finalDir, ok := artifacts[artifactKey{stage: step.Stage, target: step.Host.String()}]
	if !ok {
		return fmt.Errorf("%s: stage %d artifact for %s not available", step, step.Stage, step.Host)
	}

	outDir := filepath.Join(o.cache.Root(), "work", "test")
	os.RemoveAll(outDir)
	defer os.RemoveAll(outDir)

	result, err := o.invoker.Run(ctx, toolchain.Request{
		Mode:         toolchain.ModeTest,
		Stage:        step.Stage,
		Host:         step.Host,
		Target:       step.Target,
		PrevArtifact: finalDir,
		SourceDir:    o.cfg.SourceDir,
		OutDir:       outDir,
		Args:         o.cfg.ToolchainArgs,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	if err := result.Err(); err != nil {
		o.notify(step, "failed")
		return fmt.Errorf("%s: %w\n%s", step, err, result.Diagnostics)
	}

	report.Steps = append(report.Steps, StepReport{Step: step, Duration: time.Since(start)})
	o.notify(step, "passed")

	return nil
}

// runInstall copies final artifacts to the configured install prefix.
func (o *Orchestrator) runInstall(ctx context.Context, report *Report, group []stagegraph.Step, artifacts map[artifactKey]string) error {
	if o.cfg.InstallPrefix == "" {
		return fmt.Errorf("%w: install requested but no install prefix configured", config.ErrInvalid)
	}

	for _, step := range group {
		start := time.Now()

		dir, ok := artifacts[artifactKey{stage: step.Stage, target: step.Target.String()}]
		if !ok {
			return fmt.Errorf("%s: stage %d artifact for %s not available", step, step.Stage, step.Target)
		}

		dest := filepath.Join(o.cfg.InstallPrefix, step.Target.String())
		if err := cache.CopyTree(dir, dest); err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}

		ctxlog.FromContext(ctx).Info("installed", "step", step.String(), "dest", dest)

		report.Steps = append(report.Steps, StepReport{Step: step, Duration: time.Since(start)})
		o.notify(step, "installed")
	}

	return nil
}
