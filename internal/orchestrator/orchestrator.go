// Package orchestrator drives a build plan to completion: it resolves
// cache hits, invokes the toolchain on misses, enforces stage ordering,
// and performs the fixed-point validation of the final stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagebuild/stagebuild/internal/cache"
	"github.com/stagebuild/stagebuild/internal/config"
	"github.com/stagebuild/stagebuild/internal/ctxlog"
	"github.com/stagebuild/stagebuild/internal/snapshot"
	"github.com/stagebuild/stagebuild/internal/stagegraph"
	"github.com/stagebuild/stagebuild/internal/toolchain"
)

// ErrFixedPoint indicates the final stage, rebuilt by itself, produced a
// non-equivalent artifact. It implies a latent miscompilation and is
// always fatal, never retried.
var ErrFixedPoint = errors.New("fixed point mismatch")

// State is the orchestrator run state.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateFetching
	StateBuilding
	StateValidating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateFetching:
		return "fetching"
	case StateBuilding:
		return "building"
	case StateValidating:
		return "validating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StepReport records the outcome of one executed plan step.
type StepReport struct {
	Step        stagegraph.Step
	Fingerprint string
	Cached      bool
	Duration    time.Duration
}

// Report summarizes a completed run.
type Report struct {
	RunID     string
	State     State
	Steps     []StepReport
	CacheHits int
	Built     int
}

// artifactKey addresses a produced artifact within a run. The host is
// fixed per run, so stage and target identify it.
type artifactKey struct {
	stage  int
	target string
}

// Orchestrator coordinates one build request at a time. Plan bookkeeping
// and cache commits happen on the calling goroutine only; workers are
// confined to toolchain invocations.
type Orchestrator struct {
	cfg       *config.Config
	cache     *cache.Cache
	snapshots *snapshot.Manager
	invoker   *toolchain.Invoker

	state State

	// onStep, when set, receives a line-oriented status per finished step
	onStep func(step stagegraph.Step, outcome string)
}

// New creates an orchestrator over an opened cache and snapshot manager.
func New(cfg *config.Config, c *cache.Cache, snapshots *snapshot.Manager, invoker *toolchain.Invoker) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		cache:     c,
		snapshots: snapshots,
		invoker:   invoker,
		state:     StateIdle,
	}
}

// OnStep registers a status callback invoked after each finished step.
func (o *Orchestrator) OnStep(fn func(step stagegraph.Step, outcome string)) {
	o.onStep = fn
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) setState(ctx context.Context, s State) {
	ctxlog.FromContext(ctx).Info("state transition", "from", o.state.String(), "to", s.String())
	o.state = s
}

func (o *Orchestrator) notify(step stagegraph.Step, outcome string) {
	if o.onStep != nil {
		o.onStep(step, outcome)
	}
}

// Run executes a build request to completion. The returned report is
// valid even when err is non-nil; its State is then StateFailed.
func (o *Orchestrator) Run(ctx context.Context, req stagegraph.Request) (*Report, error) {
	runID := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)

	report := &Report{RunID: runID, State: StateFailed}

	fail := func(err error) (*Report, error) {
		o.setState(ctx, StateFailed)
		logger.Error("run failed", "error", err)
		return report, err
	}

	o.setState(ctx, StatePlanning)

	plan, err := stagegraph.Compute(req)
	if err != nil {
		return fail(err)
	}

	logger.Info("plan computed", "action", req.Action.String(), "steps", len(plan.Steps))

	// Artifacts produced (or found cached) this run, keyed by stage and
	// target; stage N reads only the stage N-1 entry for the host.
	artifacts := make(map[artifactKey]string)

	for _, group := range plan.Groups() {
		switch group[0].Kind {
		case stagegraph.StepFetch:
			o.setState(ctx, StateFetching)

			if err := o.runFetchGroup(ctx, report, group, artifacts); err != nil {
				return fail(err)
			}

		case stagegraph.StepBuild:
			o.setState(ctx, StateBuilding)

			if err := o.runBuildGroup(ctx, report, group, artifacts); err != nil {
				return fail(err)
			}

		case stagegraph.StepValidate:
			o.setState(ctx, StateValidating)

			if err := o.runValidation(ctx, report, group[0], artifacts); err != nil {
				return fail(err)
			}

		case stagegraph.StepTest:
			if err := o.runTest(ctx, report, group[0], artifacts); err != nil {
				return fail(err)
			}

		case stagegraph.StepInstall:
			if err := o.runInstall(ctx, report, group, artifacts); err != nil {
				return fail(err)
			}
		}
	}

	o.setState(ctx, StateDone)
	report.State = StateDone

	logger.Info("run complete", "cache_hits", report.CacheHits, "built", report.Built)

	return report, nil
}

// runFetchGroup ensures the trusted stage 0 artifacts exist locally.
func (o *Orchestrator) runFetchGroup(ctx context.Context, report *Report, group []stagegraph.Step, artifacts map[artifactKey]string) error {
	for _, step := range group {
		start := time.Now()

		dir, err := o.snapshots.EnsureStage0(ctx, step.Host)
		if err != nil {
			o.notify(step, "failed")
			return fmt.Errorf("%s: %w", step, err)
		}

		artifacts[artifactKey{stage: 0, target: step.Host.String()}] = dir
		report.Steps = append(report.Steps, StepReport{Step: step, Duration: time.Since(start)})
		o.notify(step, "verified")
	}

	return nil
}
