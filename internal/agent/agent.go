// Package agent implements the four persona agents of the pipeline:
// requirements, coding, testing and documentation. Agents communicate
// only through returned results and the shared output map owned by the
// orchestrator.
package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/quartet-labs/quartet/internal/sandbox"
)

// Agent names in pipeline order.
const (
	NameRequirements  = "requirements"
	NameCoding        = "coding"
	NameTesting       = "testing"
	NameDocumentation = "documentation"
)

// Result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Artifact types.
const (
	ArtifactJSON = "json"
	ArtifactText = "text"
)

// Project classifications derived from prompts and requirement text.
const (
	ClassPythonAPI = "python-api"
	ClassPythonETL = "python-etl"
	ClassPythonML  = "python-ml"
	ClassPythonCLI = "python-cli"
	ClassNodeWeb   = "node-web"
)

// CommandRunner executes workspace commands under the run policy.
type CommandRunner interface {
	Run(ctx context.Context, workDir string, command ...string) (*sandbox.Result, error)
}

// TextGenerator produces completions for agent prompts.
type TextGenerator interface {
	Model() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Artifact is one named output captured from an agent. JSON artifacts
// carry a structured payload, text artifacts a string.
type Artifact struct {
	Name    string
	Type    string
	Payload any
}

// Result is the outcome an agent hands back to the orchestrator.
type Result struct {
	// Agent is the producing agent's name
	Agent string

	// Status is succeeded, failed or skipped
	Status string

	// Summary is a one-line human description of the outcome
	Summary string

	// Details carries structured findings for downstream agents
	Details map[string]any

	// Artifacts are the named outputs to persist and package
	Artifacts []Artifact
}

// ArtifactByName finds an artifact by its file name.
func (r *Result) ArtifactByName(name string) (Artifact, bool) {
	for _, artifact := range r.Artifacts {
		if artifact.Name == name {
			return artifact, true
		}
	}
	return Artifact{}, false
}

// ArtifactNames lists artifact names in recording order.
func (r *Result) ArtifactNames() []string {
	names := make([]string, 0, len(r.Artifacts))
	for _, artifact := range r.Artifacts {
		names = append(names, artifact.Name)
	}
	return names
}

// RunContext carries the request and shared state a run threads through
// its agents.
type RunContext struct {
	// RunID identifies the run
	RunID string

	// TargetPath is the workspace directory agents may write into
	TargetPath string

	// Prompt is the free-form instruction for the run
	Prompt string

	// InputDocs is an optional requirement document file or directory
	InputDocs string

	// DryRun suppresses all target writes and command execution
	DryRun bool

	// Runner executes workspace commands
	Runner CommandRunner

	// Generator produces model completions
	Generator TextGenerator

	// Log receives structured diagnostics
	Log *zap.Logger

	// Outputs maps agent name to its result; written by the
	// orchestrator after each step
	Outputs map[string]*Result
}

// Output returns a prior agent's result from the shared map.
func (rc *RunContext) Output(name string) (*Result, bool) {
	res, ok := rc.Outputs[name]
	return res, ok
}

func (rc *RunContext) logger() *zap.Logger {
	if rc.Log == nil {
		return zap.NewNop()
	}
	return rc.Log
}

// Agent is one persona in the pipeline.
type Agent interface {
	// Name is the stable agent identifier used in steps and artifacts
	Name() string

	// Execute performs the persona's work. Returned errors are fatal
	// for the run; degraded outcomes belong in the result status.
	Execute(ctx context.Context, rc *RunContext) (*Result, error)
}

// Pipeline returns the personas in their fixed execution order.
func Pipeline() []Agent {
	return []Agent{
		NewRequirementsAgent(),
		NewCodingAgent(),
		NewTestingAgent(),
		NewDocumentationAgent(),
	}
}

// detailString reads a string detail, empty when absent.
func detailString(details map[string]any, key string) string {
	if details == nil {
		return ""
	}
	s, _ := details[key].(string)
	return s
}

// detailStrings reads a string slice detail, tolerating []any values
// that went through JSON.
func detailStrings(details map[string]any, key string) []string {
	if details == nil {
		return nil
	}
	switch v := details[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
