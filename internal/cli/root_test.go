package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartet-labs/quartet/internal/config"
)

func TestRootCommandVersion(t *testing.T) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), version)
}

func TestRootCommandUnknownSubcommand(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"bogus"})

	require.Error(t, cmd.Execute())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	stateDir := t.TempDir()
	opts := &rootOptions{stateDir: stateDir, verbose: true}

	cfg, err := opts.loadConfig()
	require.NoError(t, err)

	assert.Equal(t, stateDir, cfg.StateDir)
	assert.Equal(t, config.VerbosityVerbose, cfg.Verbosity)
	assert.True(t, filepath.IsAbs(cfg.StateDir))
}

func TestLoadConfigRelativeStateDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	opts := &rootOptions{stateDir: "relative-state"}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.StateDir))
	assert.Equal(t, "relative-state", filepath.Base(cfg.StateDir))
}
