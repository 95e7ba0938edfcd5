package stagegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagebuild/stagebuild/internal/platform"
)

func mustParse(t *testing.T, triple string) platform.Platform {
	t.Helper()

	p, err := platform.Parse(triple)
	require.NoError(t, err)

	return p
}

func TestCompute_TwoStageBuild(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")

	plan, err := Compute(Request{Action: ActionBuild, Host: host, FinalStage: 2})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)

	assert.Equal(t, StepFetch, plan.Steps[0].Kind)
	assert.Equal(t, 0, plan.Steps[0].Stage)

	assert.Equal(t, StepBuild, plan.Steps[1].Kind)
	assert.Equal(t, 1, plan.Steps[1].Stage)
	assert.Equal(t, host, plan.Steps[1].Target)

	assert.Equal(t, StepBuild, plan.Steps[2].Kind)
	assert.Equal(t, 2, plan.Steps[2].Stage)
	assert.Equal(t, host, plan.Steps[2].Target)
}

func TestCompute_SingleStageBuild(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")

	plan, err := Compute(Request{Action: ActionBuild, Host: host, FinalStage: 1})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, StepFetch, plan.Steps[0].Kind)
	assert.Equal(t, 1, plan.Steps[1].Stage)
}

func TestCompute_OrderingNeverSkipsStages(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")

	plan, err := Compute(Request{Action: ActionValidate, Host: host, FinalStage: 2})
	require.NoError(t, err)

	// Stages appear in strictly ascending order, with no gaps, and every
	// chain stage targets the host
	prevStage := -1
	for _, step := range plan.Steps {
		if step.Kind == StepFetch || step.Kind == StepBuild {
			assert.Equal(t, prevStage+1, step.Stage, "stage skipping is forbidden")
			prevStage = step.Stage
		}

		if step.Kind == StepBuild && step.Stage < 2 {
			assert.Equal(t, host, step.Target, "chain stages must target the host")
		}
	}
}

func TestCompute_CrossCompileFanOut(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")
	targets := []platform.Platform{
		mustParse(t, "aarch64-darwin"),
		mustParse(t, "aarch64-linux-gnu"),
	}

	plan, err := Compute(Request{Action: ActionBuild, Host: host, Targets: targets, FinalStage: 2})
	require.NoError(t, err)

	builds := plan.BuildSteps()
	require.Len(t, builds, 3)

	// Stage 1 runs the chain on the host even though the host is not a
	// requested target
	assert.Equal(t, 1, builds[0].Stage)
	assert.Equal(t, host, builds[0].Target)

	// Final-stage steps fan out, in deterministic target order, sharing a
	// parallel group
	assert.Equal(t, "aarch64-darwin", builds[1].Target.String())
	assert.Equal(t, "aarch64-linux-gnu", builds[2].Target.String())
	assert.Equal(t, builds[1].Group, builds[2].Group)
	assert.NotEqual(t, builds[0].Group, builds[1].Group)

	// The compiler always runs on the host
	for _, step := range builds {
		assert.Equal(t, host, step.Host)
	}
}

func TestCompute_ValidateAppendsFixedPointStep(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")

	plan, err := Compute(Request{Action: ActionValidate, Host: host, FinalStage: 2})
	require.NoError(t, err)

	last := plan.Steps[len(plan.Steps)-1]
	assert.Equal(t, StepValidate, last.Kind)
	assert.Equal(t, 2, last.Stage)
	assert.Equal(t, host, last.Target)
}

func TestCompute_ValidateEnsuresHostTarget(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")
	other := mustParse(t, "aarch64-darwin")

	plan, err := Compute(Request{Action: ActionValidate, Host: host, Targets: []platform.Platform{other}, FinalStage: 2})
	require.NoError(t, err)

	// The final stage must include a host-targeting build for the
	// self-compilation to be possible
	var hasHostFinal bool
	for _, step := range plan.BuildSteps() {
		if step.Stage == 2 && step.Target == host {
			hasHostFinal = true
		}
	}

	assert.True(t, hasHostFinal)
}

func TestCompute_InstallStepsPerTarget(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")
	other := mustParse(t, "aarch64-darwin")

	plan, err := Compute(Request{Action: ActionInstall, Host: host, Targets: []platform.Platform{host, other}, FinalStage: 2})
	require.NoError(t, err)

	var installs []Step
	for _, step := range plan.Steps {
		if step.Kind == StepInstall {
			installs = append(installs, step)
		}
	}

	require.Len(t, installs, 2)
	assert.Equal(t, installs[0].Group, installs[1].Group)
}

func TestCompute_DoesNotMutateRequestTargets(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")
	targets := []platform.Platform{
		mustParse(t, "x86_64-windows"),
		mustParse(t, "aarch64-darwin"),
	}

	_, err := Compute(Request{Action: ActionBuild, Host: host, Targets: targets, FinalStage: 2})
	require.NoError(t, err)

	assert.Equal(t, "x86_64-windows", targets[0].String(), "caller's target order must survive planning")
	assert.Equal(t, "aarch64-darwin", targets[1].String())
}

func TestCompute_InvalidRequests(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")

	_, err := Compute(Request{Action: ActionBuild, FinalStage: 2})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = Compute(Request{Action: ActionBuild, Host: host, FinalStage: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = Compute(Request{Action: ActionBuild, Host: host, FinalStage: 3})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGroups(t *testing.T) {
	host := mustParse(t, "x86_64-linux-gnu")
	other := mustParse(t, "aarch64-darwin")

	plan, err := Compute(Request{Action: ActionBuild, Host: host, Targets: []platform.Platform{host, other}, FinalStage: 2})
	require.NoError(t, err)

	groups := plan.Groups()
	require.Len(t, groups, 3)

	assert.Len(t, groups[0], 1) // fetch
	assert.Len(t, groups[1], 1) // stage 1 chain
	assert.Len(t, groups[2], 2) // stage 2 fan-out
}
