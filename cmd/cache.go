package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagebuild/stagebuild/internal/cache"
	"github.com/stagebuild/stagebuild/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the build cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show cache entry count and total artifact size",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd, func(c *cache.Cache) error {
			count, bytes, err := c.Stats()
			if err != nil {
				return err
			}

			fmt.Printf("entries: %d\nsize:    %.1f MiB\n", count, float64(bytes)/(1<<20))

			return nil
		})
	},
}

var cacheVerifyCmd = &cobra.Command{
	Use:          "verify",
	Short:        "Recompute artifact digests and evict corrupted entries",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(cmd, func(c *cache.Cache) error {
			corrupted, err := c.VerifyIntegrity()
			if err != nil {
				return err
			}

			if len(corrupted) == 0 {
				fmt.Printf("%s all entries verified\n", stepOK("done:"))
				return nil
			}

			for _, fp := range corrupted {
				if err := c.Evict(fp); err != nil {
					return err
				}

				fmt.Printf("  %s evicted corrupted entry %s\n", stepFail("✗"), fp)
			}

			fmt.Printf("%s %d corrupted entries evicted\n", stepWarn("warning:"), len(corrupted))

			return nil
		})
	},
}

func withCache(cmd *cobra.Command, fn func(c *cache.Cache) error) error {
	cfg, err := config.NewLoader().LoadForRun(cmd)
	if err != nil {
		return err
	}

	c, err := cache.New(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(c)
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheVerifyCmd)
}
