package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stagebuild/stagebuild/internal/stagegraph"
)

var validateCmd = &cobra.Command{
	Use:          "validate",
	Short:        "Build the final stage and verify it reproduces itself",
	Long:         `Builds through the final stage, then rebuilds that stage with its own compiler and compares the two artifacts. A mismatch indicates a miscompilation and fails the run.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, stagegraph.ActionValidate)
	},
}
