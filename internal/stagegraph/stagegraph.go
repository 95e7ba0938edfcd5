// Package stagegraph derives the ordered build plan for a bootstrap
// request from the fixed stage dependency rule: stage N for any target
// requires the stage N-1 artifact built for the host.
package stagegraph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/stagebuild/stagebuild/internal/platform"
)

// ErrInvalidRequest indicates a request the graph cannot plan.
var ErrInvalidRequest = errors.New("invalid build request")

// Action selects what the plan builds toward.
type Action int

const (
	// ActionBuild compiles up to the configured final stage
	ActionBuild Action = iota

	// ActionValidate additionally appends the fixed-point comparison
	ActionValidate

	// ActionTest runs the toolchain test suite against the final stage
	ActionTest

	// ActionInstall copies the final artifacts to the install prefix
	ActionInstall
)

func (a Action) String() string {
	switch a {
	case ActionBuild:
		return "build"
	case ActionValidate:
		return "validate"
	case ActionTest:
		return "test"
	case ActionInstall:
		return "install"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// StepKind classifies a plan step.
type StepKind int

const (
	// StepFetch obtains the trusted stage 0 snapshot
	StepFetch StepKind = iota

	// StepBuild compiles one stage for one target
	StepBuild

	// StepValidate performs the fixed-point self-compilation check
	StepValidate

	// StepTest runs the toolchain test suite
	StepTest

	// StepInstall copies a final artifact to the install prefix
	StepInstall
)

func (k StepKind) String() string {
	switch k {
	case StepFetch:
		return "fetch"
	case StepBuild:
		return "build"
	case StepValidate:
		return "validate"
	case StepTest:
		return "test"
	case StepInstall:
		return "install"
	default:
		return fmt.Sprintf("step(%d)", int(k))
	}
}

// Step is one execution step of a plan. Steps sharing a Group value have
// no dependency edge between them and may run concurrently; groups
// themselves run strictly in order.
type Step struct {
	Kind   StepKind
	Stage  int
	Host   platform.Platform
	Target platform.Platform
	Group  int
}

// String renders a step for logs, e.g. "build stage2 → aarch64-darwin".
func (s Step) String() string {
	switch s.Kind {
	case StepFetch:
		return fmt.Sprintf("fetch stage0 %s", s.Host)
	case StepBuild:
		return fmt.Sprintf("build stage%d → %s", s.Stage, s.Target)
	default:
		return fmt.Sprintf("%s stage%d %s", s.Kind, s.Stage, s.Target)
	}
}

// Request describes what the caller wants planned.
type Request struct {
	Action Action

	// Host is the platform every stage's compiler runs on
	Host platform.Platform

	// Targets are the platforms the final stage emits artifacts for;
	// empty means the host itself
	Targets []platform.Platform

	// FinalStage is the last stage to build (1 or 2)
	FinalStage int
}

// Plan is the ordered sequence of steps for one request. It is purely
// derived data: recomputed per request, never persisted.
type Plan struct {
	Steps []Step
}

// Compute expands a request into a topologically ordered plan.
//
// The chain stages (everything below the final stage) always target the
// host, because their only consumer is the next stage's compiler, which
// runs on the host. The final stage fans out across the requested
// targets; those steps are independent and share a parallel group.
func Compute(req Request) (*Plan, error) {
	if req.Host.IsZero() {
		return nil, fmt.Errorf("%w: no host platform", ErrInvalidRequest)
	}

	if req.FinalStage < 1 || req.FinalStage > 2 {
		return nil, fmt.Errorf("%w: final stage must be 1 or 2, got %d", ErrInvalidRequest, req.FinalStage)
	}

	// Sort a copy; the caller's request stays untouched.
	targets := make([]platform.Platform, 0, len(req.Targets)+1)
	targets = append(targets, req.Targets...)

	if len(targets) == 0 {
		targets = append(targets, req.Host)
	}

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].String() < targets[j].String()
	})

	// Validation rebuilds the final stage with itself on the host, so the
	// host must be among the final stage's targets.
	if req.Action == ActionValidate && !containsPlatform(targets, req.Host) {
		targets = append([]platform.Platform{req.Host}, targets...)
	}

	var steps []Step
	group := 0

	steps = append(steps, Step{Kind: StepFetch, Stage: 0, Host: req.Host, Target: req.Host, Group: group})

	for stage := 1; stage <= req.FinalStage; stage++ {
		group++

		if stage < req.FinalStage {
			// Chain stage: a single host-targeting build
			steps = append(steps, Step{Kind: StepBuild, Stage: stage, Host: req.Host, Target: req.Host, Group: group})
			continue
		}

		// Final stage: fan out across targets; no dependency edges between
		// them, so they share a group
		for _, target := range targets {
			steps = append(steps, Step{Kind: StepBuild, Stage: stage, Host: req.Host, Target: target, Group: group})
		}
	}

	switch req.Action {
	case ActionValidate:
		group++
		steps = append(steps, Step{Kind: StepValidate, Stage: req.FinalStage, Host: req.Host, Target: req.Host, Group: group})

	case ActionTest:
		group++
		steps = append(steps, Step{Kind: StepTest, Stage: req.FinalStage, Host: req.Host, Target: req.Host, Group: group})

	case ActionInstall:
		group++
		for _, target := range targets {
			steps = append(steps, Step{Kind: StepInstall, Stage: req.FinalStage, Host: req.Host, Target: target, Group: group})
		}
	}

	return &Plan{Steps: steps}, nil
}

// Groups partitions the plan into its ordered parallelizable groups.
func (p *Plan) Groups() [][]Step {
	var groups [][]Step

	for _, step := range p.Steps {
		if len(groups) == 0 || groups[len(groups)-1][0].Group != step.Group {
			groups = append(groups, []Step{step})
			continue
		}

		groups[len(groups)-1] = append(groups[len(groups)-1], step)
	}

	return groups
}

// BuildSteps returns only the plan's build steps, in order.
func (p *Plan) BuildSteps() []Step {
	var steps []Step
	for _, step := range p.Steps {
		if step.Kind == StepBuild {
			steps = append(steps, step)
		}
	}

	return steps
}

func containsPlatform(ps []platform.Platform, p platform.Platform) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}

	return false
}
