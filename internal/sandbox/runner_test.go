package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, dryRun bool, policy Policy) *Runner {
	t.Helper()
	return NewRunner(t.TempDir(), dryRun, policy, 0, nil)
}

func TestRunEmptyCommand(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{})
	_, err := r.Run(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestDryRunSkipsEverything(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, true, Policy{})
	res, err := r.Run(context.Background(), t.TempDir(), "pip", "install", "fastapi")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonDryRun, res.Reason)
	assert.Equal(t, 0, res.ReturnCode)
	assert.True(t, res.Succeeded())
	assert.Empty(t, res.Stdout)

	content, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "[dry-run]"))
	assert.Contains(t, string(content), "pip install fastapi")
}

func TestPackageInstallGate(t *testing.T) {
	t.Parallel()

	blocked := [][]string{
		{"pip", "install", "fastapi"},
		{"python", "-m", "pip", "install", "fastapi==0.110.0"},
		{"npm", "install", "react"},
		{"yarn", "add", "next"},
	}

	for _, command := range blocked {
		command := command
		t.Run(strings.Join(command, " "), func(t *testing.T) {
			t.Parallel()

			r := newTestRunner(t, false, Policy{})
			res, err := r.Run(context.Background(), t.TempDir(), command...)
			require.NoError(t, err)

			assert.True(t, res.Skipped)
			assert.Equal(t, ReasonBlockedPackageInstall, res.Reason)
			assert.Equal(t, 0, res.ReturnCode)
			assert.True(t, res.Succeeded())
		})
	}
}

func TestPackageInstallAllowedExecutes(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{AllowPackageInstalls: true})
	r.lookPath = func(string) (string, error) { return "/usr/bin/pip", nil }
	r.execute = func(context.Context, string, []string) (string, string, int, error) {
		return "installed", "", 0, nil
	}

	res, err := r.Run(context.Background(), t.TempDir(), "pip", "install", "fastapi")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, "installed", res.Stdout)
}

func TestCLIToolGate(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{})
	res, err := r.Run(context.Background(), t.TempDir(), "npx", "create-next-app@latest", "app")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonBlockedCLI, res.Reason)
	assert.Equal(t, 0, res.ReturnCode)
}

func TestCLIToolAllowedExecutes(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{AllowCLITools: true})
	r.lookPath = func(string) (string, error) { return "/usr/bin/npx", nil }
	r.execute = func(context.Context, string, []string) (string, string, int, error) {
		return "10.8.0", "", 0, nil
	}

	res, err := r.Run(context.Background(), t.TempDir(), "npx", "--version")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, "10.8.0", res.Stdout)
}

func TestMissingExecutable(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{})
	res, err := r.Run(context.Background(), t.TempDir(), "definitely-missing-tool-8d1c", "--version")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonMissingExecutable, res.Reason)
	assert.Equal(t, 127, res.ReturnCode)
	assert.False(t, res.Succeeded())

	content, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "missing-executable")
	assert.Contains(t, string(content), "definitely-missing-tool-8d1c --version")
}

func TestInterpreterBypassesLookup(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{})
	var looked []string
	r.lookPath = func(name string) (string, error) {
		looked = append(looked, name)
		return "", errors.New("not found")
	}
	r.execute = func(context.Context, string, []string) (string, string, int, error) {
		return "Python 3.12.0", "", 0, nil
	}

	res, err := r.Run(context.Background(), t.TempDir(), "python", "--version")
	require.NoError(t, err)

	assert.Empty(t, looked)
	assert.False(t, res.Skipped)
	assert.Equal(t, 0, res.ReturnCode)
}

func TestOSErrorIsNotSwallowed(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{})
	r.lookPath = func(string) (string, error) { return "/usr/bin/tool", nil }
	r.execute = func(context.Context, string, []string) (string, string, int, error) {
		return "", "", 1, errors.New("fork: resource temporarily unavailable")
	}

	res, err := r.Run(context.Background(), t.TempDir(), "tool", "build")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, ReasonOSError, res.Reason)
	assert.Equal(t, 1, res.ReturnCode)
	assert.Contains(t, res.Stderr, "fork")
}

func TestRealExecutionCapturesOutput(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{})
	res, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)

	content, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "$ sh -c echo out; echo err >&2")
	assert.Contains(t, string(content), "exit code: 0")
	assert.Contains(t, string(content), "--- stdout ---\nout\n")
	assert.Contains(t, string(content), "--- stderr ---\nerr\n")
}

func TestRealExecutionNonZeroExit(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, false, Policy{})
	res, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "exit 3")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 3, res.ReturnCode)
	assert.False(t, res.Succeeded())
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	r := NewRunner(t.TempDir(), false, Policy{}, 50*time.Millisecond, nil)
	res, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "sleep 2")
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.Equal(t, 124, res.ReturnCode)
}

func TestSequentialLogNumbering(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	r := NewRunner(logDir, true, Policy{}, 0, nil)
	ctx := context.Background()

	first, err := r.Run(ctx, t.TempDir(), "python", "-m", "pytest", "-q")
	require.NoError(t, err)
	second, err := r.Run(ctx, t.TempDir(), "npm", "test")
	require.NoError(t, err)
	third, err := r.Run(ctx, t.TempDir(), "/usr/local/bin/sh", "-c", "true")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(logDir, "001-python.log"), first.LogPath)
	assert.Equal(t, filepath.Join(logDir, "002-npm.log"), second.LogPath)
	assert.Equal(t, filepath.Join(logDir, "003-sh.log"), third.LogPath)
}

func TestMatchesAny(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command []string
		want    bool
	}{
		{name: "pip install", command: []string{"pip", "install", "x"}, want: true},
		{name: "module pip install", command: []string{"python", "-m", "pip", "install", "x"}, want: true},
		{name: "case insensitive", command: []string{"PIP", "INSTALL", "x"}, want: true},
		{name: "pip freeze is not an install", command: []string{"python", "-m", "pip", "freeze"}, want: false},
		{name: "prefix longer than command", command: []string{"pip"}, want: false},
		{name: "unrelated command", command: []string{"pytest", "-q"}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, matchesAny(tt.command, installPrefixes))
		})
	}
}
