package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartet-labs/quartet/internal/store"
)

// executeCLI runs the root command with a clean environment and
// captured output.
func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeInputDocs(t *testing.T) string {
	t.Helper()
	docsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "requirements.md"),
		[]byte("# CRUD service\n- store items in SQLite\n- expose /items endpoint\n"), 0o644))
	return docsDir
}

func TestRunCommandDryRun(t *testing.T) {
	stateDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "generated-app")

	out, err := executeCLI(t,
		"run", target,
		"--prompt", "Generate a FastAPI CRUD service",
		"--input-docs", writeInputDocs(t),
		"--dry-run",
		"--state-dir", stateDir,
	)
	require.NoError(t, err, out)

	assert.NoDirExists(t, target)
	assert.Contains(t, out, "Packaging skipped")
	assert.FileExists(t, filepath.Join(stateDir, "runs.db"))

	entries, err := os.ReadDir(filepath.Join(stateDir, "dist"))
	require.NoError(t, err)
	assert.Empty(t, entries, "dry runs must not package")
}

func TestRunCommandFullRun(t *testing.T) {
	stateDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "generated-app")

	out, err := executeCLI(t,
		"run", target,
		"--prompt", "Generate a FastAPI CRUD service",
		"--input-docs", writeInputDocs(t),
		"--state-dir", stateDir,
	)
	require.NoError(t, err, out)

	assert.FileExists(t, filepath.Join(target, "agent_plan.json"))
	assert.FileExists(t, filepath.Join(target, "agent_run_report.md"))
	assert.FileExists(t, filepath.Join(target, "test_plan.json"))
	assert.DirExists(t, filepath.Join(target, "tests"))
	assert.FileExists(t, filepath.Join(target, "app", "__init__.py"))

	entries, err := os.ReadDir(filepath.Join(stateDir, "dist"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "completed runs package exactly one archive")
	assert.Contains(t, entries[0].Name(), "run_")

	snapshots, err := os.ReadDir(filepath.Join(stateDir, "snapshots"))
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestRunCommandTaskFile(t *testing.T) {
	stateDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "generated-app")

	taskPath := filepath.Join(t.TempDir(), "task.yaml")
	require.NoError(t, os.WriteFile(taskPath, []byte(
		"prompt: Generate a FastAPI CRUD service\ndry_run: true\n"), 0o644))

	out, err := executeCLI(t,
		"run", target,
		"--task-file", taskPath,
		"--state-dir", stateDir,
		"--run-id", "run_taskfile",
	)
	require.NoError(t, err, out)
	assert.NoDirExists(t, target)

	runStore, err := store.Open(filepath.Join(stateDir, "runs.db"))
	require.NoError(t, err)
	defer runStore.Close()

	run, err := runStore.GetRun(context.Background(), "run_taskfile")
	require.NoError(t, err)
	assert.Equal(t, "Generate a FastAPI CRUD service", run.Prompt)
	assert.Equal(t, store.StatusSucceeded, run.Status)
}

func TestRunCommandFlagBeatsTaskFile(t *testing.T) {
	stateDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "generated-app")

	taskPath := filepath.Join(t.TempDir(), "task.yaml")
	require.NoError(t, os.WriteFile(taskPath, []byte(
		"prompt: from the task file\ndry_run: true\n"), 0o644))

	_, err := executeCLI(t,
		"run", target,
		"--task-file", taskPath,
		"--prompt", "from the flag",
		"--state-dir", stateDir,
		"--run-id", "run_override",
	)
	require.NoError(t, err)

	runStore, err := store.Open(filepath.Join(stateDir, "runs.db"))
	require.NoError(t, err)
	defer runStore.Close()

	run, err := runStore.GetRun(context.Background(), "run_override")
	require.NoError(t, err)
	assert.Equal(t, "from the flag", run.Prompt)
}

func TestRunCommandMissingTaskFile(t *testing.T) {
	_, err := executeCLI(t,
		"run", filepath.Join(t.TempDir(), "target"),
		"--task-file", filepath.Join(t.TempDir(), "absent.yaml"),
		"--state-dir", t.TempDir(),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task file")
}

func TestRunCommandRequiresTarget(t *testing.T) {
	_, err := executeCLI(t, "run")
	require.Error(t, err)
}
