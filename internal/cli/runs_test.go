package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunsListEmpty(t *testing.T) {
	out, err := executeCLI(t, "runs", "list", "--state-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet")
}

func TestRunsListAndShow(t *testing.T) {
	stateDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "generated-app")

	_, err := executeCLI(t,
		"run", target,
		"--prompt", "Generate a FastAPI CRUD service",
		"--dry-run",
		"--state-dir", stateDir,
		"--run-id", "run_listed",
	)
	require.NoError(t, err)

	listOut, err := executeCLI(t, "runs", "list", "--state-dir", stateDir)
	require.NoError(t, err)
	assert.Contains(t, listOut, "run_listed")
	assert.Contains(t, listOut, "succeeded")
	assert.Contains(t, listOut, "RUN ID")

	showOut, err := executeCLI(t, "runs", "show", "run_listed", "--state-dir", stateDir)
	require.NoError(t, err)
	assert.Contains(t, showOut, "run_listed")
	assert.Contains(t, showOut, "requirements")
	assert.Contains(t, showOut, "documentation")
	assert.Contains(t, showOut, "run_started")
	assert.Contains(t, showOut, "packaging_skipped")
	assert.Contains(t, showOut, "requirements.json")
}

func TestRunsShowUnknownRun(t *testing.T) {
	_, err := executeCLI(t, "runs", "show", "run_missing", "--state-dir", t.TempDir())
	require.Error(t, err)
}
