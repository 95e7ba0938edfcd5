package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultCacheDir     = ".stagebuild-cache"
	DefaultManifestName = "snapshot-manifest.json"
	DefaultRetryCount   = 3
	DefaultStages       = 2
)

// ErrInvalid indicates a configuration that fails validation, including
// unrecognized keys in a config file.
var ErrInvalid = errors.New("invalid configuration")

// Holds the configuration options for stagebuild
type Config struct {
	// Number of parallel build workers
	Jobs int

	// Root directory for the build cache and fetched snapshots
	CacheDir string

	// Override base URL for snapshot downloads
	SnapshotMirror string

	// Path to the snapshot manifest file
	SnapshotManifest string

	// Download attempts per snapshot before giving up
	RetryCount int

	// Maximum stage to build (1 or 2)
	Stages int

	// Root of the toolchain source tree
	SourceDir string

	// Destination prefix for the install action
	InstallPrefix string

	// Extra arguments passed through to the staged toolchain
	ToolchainArgs []string

	// Enable verbose output
	Verbose bool

	// Bypass cache lookups (results are still committed)
	NoCache bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Jobs:             viper.GetInt("jobs"),
		CacheDir:         viper.GetString("cache-dir"),
		SnapshotMirror:   viper.GetString("snapshot-mirror"),
		SnapshotManifest: viper.GetString("snapshot-manifest"),
		RetryCount:       viper.GetInt("retry-count"),
		Stages:           viper.GetInt("stages"),
		SourceDir:        viper.GetString("source-dir"),
		InstallPrefix:    viper.GetString("install-prefix"),
		ToolchainArgs:    viper.GetStringSlice("toolchain-args"),
		Verbose:          viper.GetBool("verbose"),
		NoCache:          viper.GetBool("no-cache"),
	}

	// Apply defaults if not set
	if cfg.Jobs == 0 {
		cfg.Jobs = runtime.NumCPU()
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}

	if cfg.SourceDir == "" {
		cfg.SourceDir = "."
	}

	if cfg.SnapshotManifest == "" {
		cfg.SnapshotManifest = filepath.Join(cfg.SourceDir, DefaultManifestName)
	}

	if cfg.Stages == 0 {
		cfg.Stages = DefaultStages
	}

	if !viper.IsSet("retry-count") {
		cfg.RetryCount = DefaultRetryCount
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Jobs < 1 {
		return fmt.Errorf("%w: jobs must be at least 1, got %d", ErrInvalid, c.Jobs)
	}

	if c.RetryCount < 0 {
		return fmt.Errorf("%w: retry-count must not be negative, got %d", ErrInvalid, c.RetryCount)
	}

	if c.Stages < 1 || c.Stages > 2 {
		return fmt.Errorf("%w: stages must be 1 or 2, got %d", ErrInvalid, c.Stages)
	}

	// Resolve paths
	for _, p := range []*string{&c.CacheDir, &c.SourceDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}

		*p = abs
	}

	if c.SnapshotManifest != "" {
		abs, err := filepath.Abs(c.SnapshotManifest)
		if err != nil {
			return fmt.Errorf("%w: invalid manifest path: %v", ErrInvalid, err)
		}

		c.SnapshotManifest = abs
	}

	if c.InstallPrefix != "" {
		abs, err := filepath.Abs(c.InstallPrefix)
		if err != nil {
			return fmt.Errorf("%w: invalid install prefix: %v", ErrInvalid, err)
		}

		c.InstallPrefix = abs
	}

	return nil
}
