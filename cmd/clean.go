package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stagebuild/stagebuild/internal/cache"
	"github.com/stagebuild/stagebuild/internal/config"
)

var cleanCmd = &cobra.Command{
	Use:          "clean",
	Short:        "Remove cached build artifacts",
	Long:         `Removes every committed artifact bundle and its metadata. Verified stage 0 snapshots are kept unless --snapshots is given.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewLoader().LoadForRun(cmd)
		if err != nil {
			return err
		}

		c, err := cache.New(cfg.CacheDir)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Clear(); err != nil {
			return err
		}

		if drop, _ := cmd.Flags().GetBool("snapshots"); drop {
			if err := os.RemoveAll(filepath.Join(cfg.CacheDir, "snapshots")); err != nil {
				return err
			}
		}

		fmt.Printf("%s cache cleared\n", stepOK("done:"))

		return nil
	},
}

func init() {
	cleanCmd.Flags().Bool("snapshots", false, "Also remove verified stage 0 snapshots")
}
