package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// recognizedKeys is the closed set of options accepted in a config file.
// Unknown keys are a configuration error, never silently ignored.
var recognizedKeys = map[string]bool{
	"jobs":              true,
	"cache-dir":         true,
	"snapshot-mirror":   true,
	"snapshot-manifest": true,
	"retry-count":       true,
	"stages":            true,
	"source-dir":        true,
	"install-prefix":    true,
	"toolchain-args":    true,
	"verbose":           true,
	"no-cache":          true,
}

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForRun loads configuration for a build request: defaults, then config
// file (explicit path or walk-up discovery), then environment, then flags.
func (l *Loader) LoadForRun(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.bindEnvironment()

	if err := l.loadConfigFile(cmd); err != nil {
		return nil, err
	}

	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("stages", DefaultStages)
	viper.SetDefault("retry-count", DefaultRetryCount)
	viper.SetDefault("verbose", false)
	viper.SetDefault("no-cache", false)
}

// bindEnvironment binds environment variable overrides
func (l *Loader) bindEnvironment() {
	_ = viper.BindEnv("cache-dir", "STAGEBUILD_CACHE_DIR")
	_ = viper.BindEnv("snapshot-mirror", "STAGEBUILD_MIRROR")
	_ = viper.BindEnv("verbose", "STAGEBUILD_VERBOSE")
}

// loadConfigFile loads the config file named by --config, or discovers one
// by walking up from the working directory.
func (l *Loader) loadConfigFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = FindLocalConfig(".")
	}

	if path == "" {
		return nil
	}

	// Read the file with a fresh viper so its key set can be checked
	// against the recognized options before merging.
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	for _, key := range v.AllKeys() {
		if !recognizedKeys[key] {
			return fmt.Errorf("%w: unknown option %q in %s", ErrInvalid, key, path)
		}
	}

	if err := viper.MergeConfigMap(v.AllSettings()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return nil
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("jobs", cmd.Flags().Lookup("jobs"))
	_ = viper.BindPFlag("stages", cmd.Flags().Lookup("stage"))
	_ = viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	_ = viper.BindPFlag("no-cache", cmd.Flags().Lookup("no-cache"))

	// Verb-specific flags; BindPFlag rejects the nil lookup on commands
	// that do not define them.
	_ = viper.BindPFlag("install-prefix", cmd.Flags().Lookup("prefix"))
}
