package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stagebuild/stagebuild/internal/cache"
	"github.com/stagebuild/stagebuild/internal/codes"
	"github.com/stagebuild/stagebuild/internal/config"
	"github.com/stagebuild/stagebuild/internal/ctxlog"
	"github.com/stagebuild/stagebuild/internal/manifest"
	"github.com/stagebuild/stagebuild/internal/orchestrator"
	"github.com/stagebuild/stagebuild/internal/platform"
	"github.com/stagebuild/stagebuild/internal/snapshot"
	"github.com/stagebuild/stagebuild/internal/stagegraph"
	"github.com/stagebuild/stagebuild/internal/toolchain"
)

var (
	stepOK   = color.New(color.FgGreen).SprintFunc()
	stepWarn = color.New(color.FgYellow).SprintFunc()
	stepFail = color.New(color.FgRed).SprintFunc()
)

// runAction wires up the cache, snapshot manager, and orchestrator for
// one CLI verb and executes the resulting plan.
func runAction(cmd *cobra.Command, action stagegraph.Action) error {
	cfg, err := config.NewLoader().LoadForRun(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Verbose)
	ctx := ctxlog.WithLogger(cmd.Context(), logger)

	host, targets, err := parsePlatforms(cmd)
	if err != nil {
		return err
	}

	m, err := manifest.Load(cfg.SnapshotManifest, cfg.SnapshotMirror)
	if err != nil {
		return err
	}

	c, err := cache.New(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer c.Close()

	snapshots := snapshot.NewManager(m, cfg.CacheDir, cfg.RetryCount)

	o := orchestrator.New(cfg, c, snapshots, toolchain.NewInvoker())
	o.OnStep(printStep)

	report, err := o.Run(ctx, stagegraph.Request{
		Action:     action,
		Host:       host,
		Targets:    targets,
		FinalStage: cfg.Stages,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", stepFail(codes.Describe(codes.FromError(err))+":"), err)
		return err
	}

	fmt.Printf("%s %d cached, %d built\n", stepOK("done:"), report.CacheHits, report.Built)

	return nil
}

// newLogger builds the run logger; debug level when verbose, and quiet
// otherwise so step lines stay readable.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parsePlatforms resolves the host and target triples from flags. An
// unset host falls back to the detected build machine.
func parsePlatforms(cmd *cobra.Command) (platform.Platform, []platform.Platform, error) {
	host := platform.Host()

	if triple, _ := cmd.Flags().GetString("host"); triple != "" {
		parsed, err := platform.Parse(triple)
		if err != nil {
			return platform.Platform{}, nil, err
		}

		host = parsed
	}

	triples, _ := cmd.Flags().GetStringSlice("target")

	var targets []platform.Platform
	for _, triple := range triples {
		parsed, err := platform.Parse(triple)
		if err != nil {
			return platform.Platform{}, nil, err
		}

		targets = append(targets, parsed)
	}

	return host, targets, nil
}

func printStep(step stagegraph.Step, outcome string) {
	switch outcome {
	case "failed":
		fmt.Printf("  %s %s\n", stepFail("✗"), step)
	case "cached":
		fmt.Printf("  %s %s %s\n", stepOK("✓"), step, stepWarn("(cached)"))
	default:
		fmt.Printf("  %s %s %s\n", stepOK("✓"), step, outcome)
	}
}
