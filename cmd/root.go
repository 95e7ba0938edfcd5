package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagebuild/stagebuild/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "stagebuild",
	Short:         "Staged bootstrap builder for the stagec toolchain",
	Long:          `Builds a self-hosting toolchain in stages: a pinned stage 0 snapshot compiles stage 1, which compiles stage 2, which must be able to reproduce itself.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the run error for exit code
// mapping in main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)

	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default: walk-up search for .stagebuild.*)")
	rootCmd.PersistentFlags().IntP("jobs", "j", 0, "Number of parallel build workers (default: CPU count)")
	rootCmd.PersistentFlags().Int("stage", 0, "Final stage to build (1 or 2)")
	rootCmd.PersistentFlags().StringSliceP("target", "t", nil, "Target platform triples (default: the host)")
	rootCmd.PersistentFlags().String("host", "", "Host platform triple (default: detected)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Bypass cache lookups; results are still committed")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(cacheCmd)
}
