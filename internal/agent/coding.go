package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/quartet-labs/quartet/internal/sandbox"
)

// CodingAgent turns requirements into an implementation plan, pins
// dependencies, scaffolds the target project and probes the local
// toolchain through the sandbox.
type CodingAgent struct{}

// NewCodingAgent creates the coding persona.
func NewCodingAgent() *CodingAgent {
	return &CodingAgent{}
}

// Name implements Agent.
func (a *CodingAgent) Name() string { return NameCoding }

// scaffoldFile is one file the coding agent writes into the target.
type scaffoldFile struct {
	path    string
	content string
}

// profile bundles everything classification decides for a run.
type profile struct {
	dependencies map[string]map[string]string
	files        []scaffoldFile
	cliChecks    [][]string
	installs     [][]string
	manifests    [][]string
	testCommand  []string
}

// Execute builds the plan and scaffold for the classified project.
// Probe commands run through the sandbox and are recorded whether they
// execute, fail or get blocked by policy.
func (a *CodingAgent) Execute(ctx context.Context, rc *RunContext) (*Result, error) {
	log := rc.logger()

	classification := ClassPythonCLI
	var requirements, assumptions []string
	if reqResult, ok := rc.Output(NameRequirements); ok {
		if c := detailString(reqResult.Details, "classification"); c != "" {
			classification = c
		}
		requirements = detailStrings(reqResult.Details, "requirements")
		assumptions = detailStrings(reqResult.Details, "assumptions")
	}

	prof := profileFor(classification)
	plan := buildPlan(requirements, assumptions)
	notes := dependencyNotes(classification)

	files := make([]string, 0, len(prof.files)+1)
	for _, file := range prof.files {
		files = append(files, file.path)
	}
	files = append(files, "agent_plan.json")

	if rc.DryRun {
		log.Info("skipping scaffold writes", zap.String("reason", "dry-run"))
	} else {
		for _, file := range prof.files {
			if err := writeTargetFile(rc.TargetPath, file.path, file.content); err != nil {
				return nil, err
			}
		}
		planDoc := map[string]any{
			"classification": classification,
			"tasks":          plan,
			"dependencies":   prof.dependencies,
		}
		if err := writeTargetJSON(rc.TargetPath, "agent_plan.json", planDoc); err != nil {
			return nil, err
		}
		log.Info("scaffold written", zap.Int("files", len(files)))
	}

	cliChecks, err := runCommands(ctx, rc, prof.cliChecks)
	if err != nil {
		return nil, err
	}
	installs, err := runCommands(ctx, rc, prof.installs)
	if err != nil {
		return nil, err
	}
	manifests, err := runCommands(ctx, rc, prof.manifests)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"classification":     classification,
		"plan":               plan,
		"dependencies":       prof.dependencies,
		"dependency_notes":   notes,
		"cli_checks":         cliChecks,
		"installs":           installs,
		"resolved_manifests": manifests,
		"files":              files,
		"test_command":       prof.testCommand,
	}

	if raw, genErr := rc.Generator.Generate(ctx, codingPrompt(classification, requirements)); genErr != nil {
		log.Warn("model plan review unavailable", zap.Error(genErr))
	} else {
		parsed := BestEffort(raw)
		details["model_notes"] = parsed.Text()
		if len(parsed.Bullets) > 0 {
			details["model_tasks"] = parsed.Bullets
		}
	}

	summary := fmt.Sprintf("Planned %d tasks and scaffolded a %s project", len(plan), classification)
	if rc.DryRun {
		summary = fmt.Sprintf("Planned %d tasks for a %s project (dry-run)", len(plan), classification)
	}

	return &Result{
		Agent:   a.Name(),
		Status:  StatusSucceeded,
		Summary: summary,
		Details: details,
		Artifacts: []Artifact{
			{Name: "plan.json", Type: ArtifactJSON, Payload: map[string]any{
				"classification": classification,
				"tasks":          plan,
				"files":          files,
			}},
			{Name: "dependencies.json", Type: ArtifactJSON, Payload: map[string]any{
				"dependencies": prof.dependencies,
				"notes":        notes,
			}},
			{Name: "scaffold.json", Type: ArtifactJSON, Payload: map[string]any{
				"files":              files,
				"cli_checks":         cliChecks,
				"installs":           installs,
				"resolved_manifests": manifests,
			}},
		},
	}, nil
}

// buildPlan produces the ordered task list for the run.
func buildPlan(requirements, assumptions []string) []string {
	var plan []string
	if len(requirements) == 0 {
		plan = append(plan, "Review requirements and prepare scaffolding for baseline stacks.")
	}
	for idx, item := range requirements {
		plan = append(plan, fmt.Sprintf("Implement requirement %d: %s", idx+1, item))
	}
	if len(assumptions) > 0 {
		plan = append(plan, "Validate assumptions with user and adjust plan if needed.")
	}
	plan = append(plan, "Record generated files and persist run metadata to SQLite.")
	return plan
}

func dependencyNotes(classification string) []string {
	switch classification {
	case ClassPythonAPI:
		return []string{"Pin FastAPI and uvicorn versions; verify the environment with pip freeze."}
	case ClassNodeWeb:
		return []string{"Pin the Node framework version and align React with the chosen release."}
	case ClassPythonETL:
		return []string{"Pin pandas and document the expected input schema."}
	case ClassPythonML:
		return []string{"Pin scikit-learn and fix random seeds for reproducible training."}
	}
	return []string{"Capture environment versions and dependency pins for reproducibility."}
}

// runCommands executes probe commands and records their outcomes.
// Policy blocks and missing tools become skipped entries, not errors.
func runCommands(ctx context.Context, rc *RunContext, commands [][]string) ([]map[string]any, error) {
	results := make([]map[string]any, 0, len(commands))
	for _, command := range commands {
		res, err := rc.Runner.Run(ctx, rc.TargetPath, command...)
		if err != nil {
			return nil, fmt.Errorf("failed to run %s: %w", strings.Join(command, " "), err)
		}
		results = append(results, commandRecord(res))
	}
	return results, nil
}

func commandRecord(res *sandbox.Result) map[string]any {
	status := StatusSucceeded
	switch {
	case res.Skipped:
		status = StatusSkipped
	case !res.Succeeded():
		status = StatusFailed
	}
	record := map[string]any{
		"command":     res.CommandLine(),
		"status":      status,
		"return_code": res.ReturnCode,
		"log_path":    res.LogPath,
	}
	if res.Reason != "" {
		record["reason"] = res.Reason
	}
	return record
}

func profileFor(classification string) profile {
	switch classification {
	case ClassPythonAPI:
		deps := map[string]map[string]string{
			"pip": {"fastapi": "0.110.0", "uvicorn": "0.29.0", "pytest": "8.2.0"},
		}
		return profile{
			dependencies: deps,
			files: []scaffoldFile{
				{path: "app/__init__.py", content: ""},
				{path: "app/main.py", content: fastAPIMain},
				{path: "tests/test_health.py", content: fastAPITest},
				{path: "requirements.txt", content: renderRequirements(deps["pip"])},
			},
			cliChecks:   pythonCLIChecks,
			installs:    pythonInstalls,
			manifests:   pythonManifests,
			testCommand: pytestCommand,
		}
	case ClassNodeWeb:
		deps := map[string]map[string]string{
			"npm": {"next": "14.2.3", "react": "18.3.1"},
		}
		return profile{
			dependencies: deps,
			files: []scaffoldFile{
				{path: "package.json", content: nodePackageJSON},
				{path: "src/index.js", content: nodeIndex},
				{path: "tests/index.test.js", content: nodeTest},
			},
			cliChecks:   nodeCLIChecks,
			installs:    nodeInstalls,
			manifests:   nodeManifests,
			testCommand: []string{"npm", "test"},
		}
	case ClassPythonETL:
		deps := map[string]map[string]string{
			"pip": {"pandas": "2.2.2", "pytest": "8.2.0"},
		}
		return profile{
			dependencies: deps,
			files: []scaffoldFile{
				{path: "app/__init__.py", content: ""},
				{path: "app/pipeline.py", content: etlPipeline},
				{path: "tests/test_pipeline.py", content: etlTest},
				{path: "requirements.txt", content: renderRequirements(deps["pip"])},
			},
			cliChecks:   pythonCLIChecks,
			installs:    pythonInstalls,
			manifests:   pythonManifests,
			testCommand: pytestCommand,
		}
	case ClassPythonML:
		deps := map[string]map[string]string{
			"pip": {"scikit-learn": "1.4.2", "pytest": "8.2.0"},
		}
		return profile{
			dependencies: deps,
			files: []scaffoldFile{
				{path: "app/__init__.py", content: ""},
				{path: "app/train.py", content: mlTrain},
				{path: "tests/test_train.py", content: mlTest},
				{path: "requirements.txt", content: renderRequirements(deps["pip"])},
			},
			cliChecks:   pythonCLIChecks,
			installs:    pythonInstalls,
			manifests:   pythonManifests,
			testCommand: pytestCommand,
		}
	}

	deps := map[string]map[string]string{
		"pip": {"pytest": "8.2.0"},
	}
	return profile{
		dependencies: deps,
		files: []scaffoldFile{
			{path: "app/__init__.py", content: ""},
			{path: "app/cli.py", content: pythonCLIMain},
			{path: "tests/test_cli.py", content: pythonCLITest},
			{path: "requirements.txt", content: renderRequirements(deps["pip"])},
		},
		cliChecks:   pythonCLIChecks,
		installs:    pythonInstalls,
		manifests:   pythonManifests,
		testCommand: pytestCommand,
	}
}

var (
	pytestCommand   = []string{"python", "-m", "pytest", "-q"}
	pythonCLIChecks = [][]string{{"python", "--version"}}
	pythonInstalls  = [][]string{{"python", "-m", "pip", "install", "-r", "requirements.txt"}}
	pythonManifests = [][]string{{"python", "-m", "pip", "freeze"}}
	nodeCLIChecks   = [][]string{{"node", "--version"}, {"npx", "--version"}}
	nodeInstalls    = [][]string{{"npm", "install"}}
	nodeManifests   = [][]string{{"npm", "ls", "--json"}}
)

// renderRequirements formats pip pins as a requirements.txt body.
func renderRequirements(pins map[string]string) string {
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s==%s\n", name, pins[name])
	}
	return b.String()
}

func writeTargetFile(targetDir, relPath, content string) error {
	path := filepath.Join(targetDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	return nil
}

func writeTargetJSON(targetDir, relPath string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", relPath, err)
	}
	return writeTargetFile(targetDir, relPath, string(data)+"\n")
}

const fastAPIMain = `from fastapi import FastAPI

app = FastAPI()


@app.get("/health")
def health() -> dict:
    return {"status": "ok"}
`

const fastAPITest = `from app.main import app


def test_health_route_registered():
    assert any(route.path == "/health" for route in app.routes)
`

const pythonCLIMain = `import argparse


def main(argv=None):
    parser = argparse.ArgumentParser(prog="app")
    parser.add_argument("--name", default="world")
    args = parser.parse_args(argv)
    print(f"hello {args.name}")
    return 0


if __name__ == "__main__":
    raise SystemExit(main())
`

const pythonCLITest = `from app.cli import main


def test_main_returns_zero():
    assert main(["--name", "quartet"]) == 0
`

const etlPipeline = `import csv


def transform(rows):
    return [row for row in rows if any(value.strip() for value in row)]


def run(source, sink):
    with open(source, newline="") as src, open(sink, "w", newline="") as dst:
        writer = csv.writer(dst)
        writer.writerows(transform(csv.reader(src)))
`

const etlTest = `from app.pipeline import transform


def test_transform_drops_blank_rows():
    assert transform([["a"], [""], ["b"]]) == [["a"], ["b"]]
`

const mlTrain = `import random


def train(seed=42):
    random.seed(seed)
    return {"seed": seed, "score": round(random.random(), 4)}
`

const mlTest = `from app.train import train


def test_train_is_deterministic():
    assert train(seed=7) == train(seed=7)
`

const nodePackageJSON = `{
  "name": "app",
  "version": "0.1.0",
  "private": true,
  "scripts": {
    "test": "node --test tests/"
  }
}
`

const nodeIndex = `function greet(name) {
  return ` + "`hello ${name}`" + `;
}

module.exports = { greet };
`

const nodeTest = `const test = require("node:test");
const assert = require("node:assert");
const { greet } = require("../src/index.js");

test("greet", () => {
  assert.strictEqual(greet("quartet"), "hello quartet");
});
`
