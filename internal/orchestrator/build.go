package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagebuild/stagebuild/internal/cache"
	"github.com/stagebuild/stagebuild/internal/ctxlog"
	"github.com/stagebuild/stagebuild/internal/stagegraph"
	"github.com/stagebuild/stagebuild/internal/toolchain"
)

// buildOutcome is one worker's result, handed back to the coordinating
// goroutine for the serialized cache commit.
type buildOutcome struct {
	step        stagegraph.Step
	fingerprint string
	outDir      string
	duration    time.Duration

	// release frees the advisory fingerprint lock; held until the commit
	// is durable so a competing process waits instead of rebuilding
	release func() error

	// foundDir is set when a competing process committed the fingerprint
	// while this one waited on the lock
	foundDir string
}

// runBuildGroup executes one parallelizable group of build steps. Workers
// only run toolchain subprocesses; fingerprints, cache lookups, and
// commits all happen on the calling goroutine, serializing cache writes.
func (o *Orchestrator) runBuildGroup(ctx context.Context, report *Report, group []stagegraph.Step, artifacts map[artifactKey]string) error {
	logger := ctxlog.FromContext(ctx)

	// Resolve fingerprints and cache hits first; lookups never build.
	var misses []stagegraph.Step
	fingerprints := make(map[stagegraph.Step]string, len(group))

	for _, step := range group {
		fp, err := cache.Fingerprint(step.Stage, step.Host, step.Target, o.cfg.SourceDir, o.cfg.ToolchainArgs)
		if err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}

		fingerprints[step] = fp

		if !o.cfg.NoCache {
			entry, dir, err := o.cache.Lookup(fp)
			if err != nil {
				return fmt.Errorf("%s (fingerprint %s): %w", step, fp, err)
			}

			if entry != nil {
				artifacts[artifactKey{stage: step.Stage, target: step.Target.String()}] = dir
				report.Steps = append(report.Steps, StepReport{Step: step, Fingerprint: fp, Cached: true})
				report.CacheHits++
				o.notify(step, "cached")
				logger.Debug("cache hit", "step", step.String(), "fingerprint", fp)
				continue
			}
		}

		misses = append(misses, step)
	}

	if len(misses) == 0 {
		return nil
	}

	outcomes := make(chan buildOutcome, len(misses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Jobs)

	for _, step := range misses {
		step := step
		g.Go(func() error {
			outcome, err := o.buildStep(gctx, step, fingerprints[step], artifacts)
			if err != nil {
				// A failed step never reaches the commit loop, so its
				// fingerprint lock must be freed here or a retry (or a
				// competing process) would block on a dead holder.
				if outcome.release != nil {
					_ = outcome.release()
				}

				return err
			}

			outcomes <- outcome
			return nil
		})
	}

	waitErr := g.Wait()
	close(outcomes)

	if waitErr != nil {
		// Partially completed work is discarded, never committed.
		for outcome := range outcomes {
			if outcome.outDir != "" {
				os.RemoveAll(outcome.outDir)
			}

			if outcome.release != nil {
				_ = outcome.release()
			}
		}

		return waitErr
	}

	// Serialized commits, one fingerprint at a time.
	collected := make(map[stagegraph.Step]buildOutcome, len(misses))
	for outcome := range outcomes {
		collected[outcome.step] = outcome
	}

	for _, step := range misses {
		outcome := collected[step]

		if err := o.commitOutcome(ctx, report, outcome, artifacts); err != nil {
			if outcome.release != nil {
				_ = outcome.release()
			}

			return err
		}

		if outcome.release != nil {
			if err := outcome.release(); err != nil {
				logger.Warn("failed to release fingerprint lock", "fingerprint", outcome.fingerprint, "error", err)
			}
		}
	}

	return nil
}

// buildStep runs one toolchain invocation under the fingerprint's
// advisory lock. It does not commit; that is the coordinator's job.
func (o *Orchestrator) buildStep(ctx context.Context, step stagegraph.Step, fp string, artifacts map[artifactKey]string) (buildOutcome, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	outcome := buildOutcome{step: step, fingerprint: fp}

	release, err := o.cache.LockFingerprint(ctx, fp)
	if err != nil {
		return outcome, fmt.Errorf("%s (fingerprint %s): %w", step, fp, err)
	}

	outcome.release = release

	// A competing process may have built this fingerprint while we
	// waited; its commit wins and we reuse it.
	if !o.cfg.NoCache {
		entry, dir, err := o.cache.Lookup(fp)
		if err != nil {
			return outcome, fmt.Errorf("%s (fingerprint %s): %w", step, fp, err)
		}

		if entry != nil {
			outcome.foundDir = dir
			outcome.duration = time.Since(start)
			return outcome, nil
		}
	}

	prev, ok := artifacts[artifactKey{stage: step.Stage - 1, target: step.Host.String()}]
	if !ok {
		return outcome, fmt.Errorf("%s: stage %d artifact for %s not available", step, step.Stage-1, step.Host)
	}

	outDir := filepath.Join(o.cache.Root(), "work", fp)
	os.RemoveAll(outDir)

	logger.Info("building", "step", step.String(), "fingerprint", fp)

	result, err := o.invoker.Run(ctx, toolchain.Request{
		Mode:         toolchain.ModeBuild,
		Stage:        step.Stage,
		Host:         step.Host,
		Target:       step.Target,
		PrevArtifact: prev,
		SourceDir:    o.cfg.SourceDir,
		OutDir:       outDir,
		Args:         o.cfg.ToolchainArgs,
	})
	if err != nil {
		return outcome, fmt.Errorf("%s (fingerprint %s): %w", step, fp, err)
	}

	if err := result.Err(); err != nil {
		logger.Error("build failed", "step", step.String(), "diagnostics", result.Diagnostics)
		return outcome, fmt.Errorf("%s (fingerprint %s): %w\n%s", step, fp, err, result.Diagnostics)
	}

	outcome.outDir = result.ArtifactDir
	outcome.duration = time.Since(start)

	return outcome, nil
}

// commitOutcome ingests a worker's successful build into the cache and
// publishes the committed artifact location.
func (o *Orchestrator) commitOutcome(ctx context.Context, report *Report, outcome buildOutcome, artifacts map[artifactKey]string) error {
	step := outcome.step
	key := artifactKey{stage: step.Stage, target: step.Target.String()}

	if outcome.foundDir != "" {
		artifacts[key] = outcome.foundDir
		report.Steps = append(report.Steps, StepReport{Step: step, Fingerprint: outcome.fingerprint, Cached: true, Duration: outcome.duration})
		report.CacheHits++
		o.notify(step, "cached")
		return nil
	}

	entry, err := o.cache.Commit(cache.CommitRequest{
		Fingerprint: outcome.fingerprint,
		Stage:       step.Stage,
		Host:        step.Host.String(),
		Target:      step.Target.String(),
		ArtifactDir: outcome.outDir,
	})
	if err != nil {
		return fmt.Errorf("%s (fingerprint %s): %w", step, outcome.fingerprint, err)
	}

	// The committed copy is the one later stages read; the work dir goes.
	os.RemoveAll(outcome.outDir)

	_, dir, err := o.cache.Lookup(outcome.fingerprint)
	if err != nil || dir == "" {
		return fmt.Errorf("%s: committed entry %s not readable back: %v", step, outcome.fingerprint, err)
	}

	ctxlog.FromContext(ctx).Info("committed", "step", step.String(),
		"fingerprint", outcome.fingerprint, "integrity", entry.Integrity.String())

	artifacts[key] = dir
	report.Steps = append(report.Steps, StepReport{Step: step, Fingerprint: outcome.fingerprint, Duration: outcome.duration})
	report.Built++
	o.notify(step, "built")

	return nil
}
