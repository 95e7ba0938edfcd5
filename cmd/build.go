package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stagebuild/stagebuild/internal/stagegraph"
)

var buildCmd = &cobra.Command{
	Use:          "build",
	Short:        "Build the toolchain through the configured final stage",
	Long:         `Fetches the stage 0 snapshot if needed, then builds each stage in order, reusing cached artifacts where fingerprints match.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, stagegraph.ActionBuild)
	},
}
