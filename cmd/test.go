package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stagebuild/stagebuild/internal/stagegraph"
)

var testCmd = &cobra.Command{
	Use:          "test",
	Short:        "Run the toolchain test suite with the final stage",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, stagegraph.ActionTest)
	},
}
