package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	t.Run("joins first lines", func(t *testing.T) {
		t.Parallel()
		docs := []Document{
			{Content: "# Service requirements\ndetails"},
			{Content: "\nKeep it small."},
		}
		summary := summarize("Build a FastAPI service\nwith CRUD", docs)
		assert.Equal(t, "Build a FastAPI service # Service requirements Keep it small.", summary)
	})

	t.Run("empty inputs fall back", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "No explicit requirements provided.", summarize("", nil))
	})

	t.Run("caps length", func(t *testing.T) {
		t.Parallel()
		summary := summarize(strings.Repeat("x", 600), nil)
		assert.Len(t, summary, summaryLimit)
	})
}

func TestExtractRequirements(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{MediaType: "text/markdown", Content: "intro\n- add health endpoint\n1. persist users\n- add health endpoint"},
		{MediaType: "application/json", Content: `{"meta": {"requirements": ["support pagination", {"nested": ["validate input"]}]}, "other": "ignored"}`},
		{MediaType: "application/json", Content: `not json`},
	}

	items := extractRequirements(docs)
	assert.Equal(t, []string{
		"add health endpoint",
		"persist users",
		"support pagination",
		"validate input",
	}, items)
}

func TestExtractAssumptions(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{Content: "Assumption: single tenant.\nNo auth needed.\nASSUMPTIONS listed above."},
	}
	items := extractAssumptions(docs, "Assume Python 3.12 is available")
	assert.Equal(t, []string{
		"Assumption: single tenant.",
		"ASSUMPTIONS listed above.",
		"Assume Python 3.12 is available",
	}, items)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prompt string
		reqs   []string
		want   string
	}{
		{name: "fastapi", prompt: "Generate a FastAPI CRUD service", want: ClassPythonAPI},
		{name: "rest api requirement", prompt: "build it", reqs: []string{"expose a REST API"}, want: ClassPythonAPI},
		{name: "next", prompt: "Create a Next.js dashboard", want: ClassNodeWeb},
		{name: "pandas", prompt: "ETL pipeline with pandas", want: ClassPythonETL},
		{name: "ml", prompt: "Train a scikit model", want: ClassPythonML},
		{name: "default", prompt: "Build a small utility", want: ClassPythonCLI},
		{name: "api beats etl", prompt: "A Flask API over pandas data", want: ClassPythonAPI},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, classify(tt.prompt, tt.reqs))
		})
	}
}

func TestRequirementsAgentExecute(t *testing.T) {
	t.Parallel()

	docsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "notes.md"),
		[]byte("# CRUD service\n- store items in SQLite\n- expose /items endpoint\nAssumption: no auth."), 0o644))

	rc, _, gen := newTestRunContext(t.TempDir())
	rc.InputDocs = docsDir
	gen.response = "- confirm pagination\n- confirm auth model"

	agent := NewRequirementsAgent()
	assert.Equal(t, NameRequirements, agent.Name())

	result, err := agent.Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, ClassPythonAPI, result.Details["classification"])
	assert.Equal(t, []string{"store items in SQLite", "expose /items endpoint"}, result.Details["requirements"])
	assert.Equal(t, []string{"Assumption: no auth."}, result.Details["assumptions"])
	assert.Contains(t, result.Summary, "Generate a FastAPI CRUD service")

	artifact, ok := result.ArtifactByName("requirements.json")
	require.True(t, ok)
	assert.Equal(t, ArtifactJSON, artifact.Type)

	assert.Equal(t, []string{"confirm pagination", "confirm auth model"}, result.Details["model_suggestions"])
	require.Len(t, gen.calls, 1)
	assert.Contains(t, gen.calls[0], "notes.md")
}

func TestRequirementsAgentExecuteGeneratorFailure(t *testing.T) {
	t.Parallel()

	rc, _, gen := newTestRunContext(t.TempDir())
	gen.err = errGeneratorDown

	result, err := NewRequirementsAgent().Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.NotContains(t, result.Details, "model_summary")
	assert.Equal(t, ClassPythonAPI, result.Details["classification"])
}
