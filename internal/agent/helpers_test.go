package agent

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/quartet-labs/quartet/internal/sandbox"
)

// stubRunner returns canned sandbox results and records every command
// it was asked to run.
type stubRunner struct {
	calls   [][]string
	results map[string]*sandbox.Result
	err     error
	dryRun  bool
}

func (r *stubRunner) Run(_ context.Context, _ string, command ...string) (*sandbox.Result, error) {
	r.calls = append(r.calls, command)
	if r.err != nil {
		return nil, r.err
	}
	line := strings.Join(command, " ")
	if res, ok := r.results[line]; ok {
		return res, nil
	}
	if r.dryRun {
		return &sandbox.Result{
			Command: command,
			Skipped: true,
			Reason:  sandbox.ReasonDryRun,
			LogPath: "/tmp/logs/001-stub.log",
		}, nil
	}
	return &sandbox.Result{
		Command: command,
		Stdout:  "ok\n",
		LogPath: "/tmp/logs/001-stub.log",
	}, nil
}

// stubGenerator returns a fixed completion.
type stubGenerator struct {
	response string
	err      error
	calls    []string
}

func (g *stubGenerator) Model() string { return "test-model" }

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls = append(g.calls, prompt)
	if g.err != nil {
		return "", g.err
	}
	if g.response == "" {
		return "stub analysis of the run", nil
	}
	return g.response, nil
}

var errGeneratorDown = errors.New("generator unavailable")

func newTestRunContext(targetDir string) (*RunContext, *stubRunner, *stubGenerator) {
	runner := &stubRunner{}
	gen := &stubGenerator{}
	return &RunContext{
		RunID:      "run_01h455vb4pex5vsknk084sn02q",
		TargetPath: targetDir,
		Prompt:     "Generate a FastAPI CRUD service",
		Runner:     runner,
		Generator:  gen,
		Log:        zap.NewNop(),
		Outputs:    make(map[string]*Result),
	}, runner, gen
}
