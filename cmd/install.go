package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stagebuild/stagebuild/internal/stagegraph"
)

var installCmd = &cobra.Command{
	Use:          "install",
	Short:        "Build the final stage and copy it to the install prefix",
	Long:         `Builds through the final stage for every requested target, then copies each artifact bundle to <install-prefix>/<target-triple>/.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, stagegraph.ActionInstall)
	},
}

func init() {
	installCmd.Flags().String("prefix", "", "Destination prefix for installed artifacts")
}
