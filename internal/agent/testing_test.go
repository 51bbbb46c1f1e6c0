package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartet-labs/quartet/internal/sandbox"
)

func codingOutput() *Result {
	return &Result{
		Agent:  NameCoding,
		Status: StatusSucceeded,
		Details: map[string]any{
			"classification": ClassPythonAPI,
			"test_command":   []string{"python", "-m", "pytest", "-q"},
		},
	}
}

func TestTestingAgentExecutePassingSuite(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	rc, runner, _ := newTestRunContext(target)
	rc.Outputs[NameCoding] = codingOutput()
	runner.results = map[string]*sandbox.Result{
		"python -m pytest -q": {
			Command: []string{"python", "-m", "pytest", "-q"},
			Stdout:  "4 passed in 0.12s\nTOTAL coverage 87%\n",
			LogPath: filepath.Join(target, "004-python.log"),
		},
	}

	agent := NewTestingAgent()
	assert.Equal(t, NameTesting, agent.Name())

	result, err := agent.Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, StatusSucceeded, result.Details["status"])
	assert.Equal(t, "python -m pytest -q", result.Details["command"])
	assert.NotEmpty(t, result.Details["log_path"])
	assert.NotEmpty(t, result.Details["analysis"])
	assert.Equal(t, "TOTAL coverage 87%", result.Details["coverage_hint"])

	assert.FileExists(t, filepath.Join(target, "test_plan.json"))

	_, ok := result.ArtifactByName("test_report.json")
	assert.True(t, ok)
	analysis, ok := result.ArtifactByName("test_analysis.txt")
	require.True(t, ok)
	assert.Equal(t, ArtifactText, analysis.Type)
}

func TestTestingAgentExecuteFailingSuite(t *testing.T) {
	t.Parallel()

	rc, runner, _ := newTestRunContext(t.TempDir())
	rc.Outputs[NameCoding] = codingOutput()
	runner.results = map[string]*sandbox.Result{
		"python -m pytest -q": {
			Command:    []string{"python", "-m", "pytest", "-q"},
			ReturnCode: 1,
			Stdout:     "1 failed, 3 passed\n",
			LogPath:    "/tmp/004-python.log",
		},
	}

	result, err := NewTestingAgent().Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, StatusFailed, result.Details["status"])
	assert.Contains(t, result.Summary, "exit code 1")
}

func TestTestingAgentExecuteDryRun(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "never-created")
	rc, runner, _ := newTestRunContext(target)
	rc.DryRun = true
	runner.dryRun = true
	rc.Outputs[NameCoding] = codingOutput()

	result, err := NewTestingAgent().Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, StatusSkipped, result.Details["status"])
	assert.Equal(t, sandbox.ReasonDryRun, result.Details["reason"])
	assert.NoDirExists(t, target)
	assert.Contains(t, result.Summary, "skipped")
}

func TestTestingAgentGeneratorFailure(t *testing.T) {
	t.Parallel()

	rc, _, gen := newTestRunContext(t.TempDir())
	rc.Outputs[NameCoding] = codingOutput()
	gen.err = errGeneratorDown

	result, err := NewTestingAgent().Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, "no analysis available", result.Details["analysis"])
	_, ok := result.ArtifactByName("test_analysis.txt")
	assert.False(t, ok)
}

func TestTestingAgentMissingCodingOutput(t *testing.T) {
	t.Parallel()

	rc, runner, _ := newTestRunContext(t.TempDir())

	result, err := NewTestingAgent().Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, result.Status)
	assert.Empty(t, runner.calls)
}

func TestCoverageHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   string
	}{
		{name: "coverage word", output: "ok\ncoverage: 91.2% of statements\n", want: "coverage: 91.2% of statements"},
		{name: "percent only", output: "TOTAL 120 10 92%\n", want: "TOTAL 120 10 92%"},
		{name: "none", output: "4 passed\n", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, coverageHint(tt.output))
		})
	}
}
