package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().IntP("jobs", "j", 0, "")
	cmd.Flags().Int("stage", 0, "")
	cmd.Flags().BoolP("verbose", "v", false, "")
	cmd.Flags().Bool("no-cache", false, "")

	return cmd
}

func TestLoadForRun_ConfigFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, ".stagebuild.yml")
	content := "jobs: 3\nstages: 1\ncache-dir: " + filepath.Join(dir, "cache") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := NewLoader().LoadForRun(cmd)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Jobs)
	assert.Equal(t, 1, cfg.Stages)
	assert.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)
}

func TestLoadForRun_UnknownKeyRejected(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, ".stagebuild.yml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: 2\ncodegen-units: 16\n"), 0o644))

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", path))

	_, err := NewLoader().LoadForRun(cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "codegen-units")
}

func TestLoadForRun_FlagsOverrideFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, ".stagebuild.yml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: 3\n"), 0o644))

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", path))
	require.NoError(t, cmd.Flags().Set("jobs", "8"))
	require.NoError(t, cmd.Flags().Set("stage", "1"))

	cfg, err := NewLoader().LoadForRun(cmd)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Jobs)
	assert.Equal(t, 1, cfg.Stages)
}

func TestLoadForRun_MalformedFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, ".stagebuild.yml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: [unclosed\n"), 0o644))

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", path))

	_, err := NewLoader().LoadForRun(cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}
