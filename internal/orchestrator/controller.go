// Package orchestrator drives a run end to end: snapshot the target,
// execute the agent pipeline, package the outcome and keep the run
// store's audit trail current along the way.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.jetify.com/typeid"
	"go.uber.org/zap"

	"github.com/quartet-labs/quartet/internal/agent"
	"github.com/quartet-labs/quartet/internal/config"
	"github.com/quartet-labs/quartet/internal/logger"
	"github.com/quartet-labs/quartet/internal/output"
	"github.com/quartet-labs/quartet/internal/packaging"
	"github.com/quartet-labs/quartet/internal/store"
	"github.com/quartet-labs/quartet/internal/workspace"
)

// RunStore is the persistence surface the controller needs.
type RunStore interface {
	CreateRun(ctx context.Context, run store.Run) error
	CompleteRun(ctx context.Context, runID, status, packagePath, errText string) error
	StartStep(ctx context.Context, runID, agent string, input map[string]any) (int64, error)
	CompleteStep(ctx context.Context, stepID int64, status string, output map[string]any, errText string) error
	SaveArtifact(ctx context.Context, runID, agent, name, artifactType, path string, payload any) error
	AppendEvent(ctx context.Context, runID, event, message string, payload map[string]any) error
}

// Workspace snapshots and restores the target directory.
type Workspace interface {
	CreateSnapshot(runID, targetDir string) (*workspace.Snapshot, error)
	StageRestore(runID string, snap *workspace.Snapshot) (string, error)
	Cleanup(snap *workspace.Snapshot) error
}

// Packager builds the distributable archive for a finished run.
type Packager interface {
	Package(req packaging.Request) (*packaging.PackageResult, error)
}

// RunnerFactory builds the sandbox runner for one run, writing command
// logs into logDir.
type RunnerFactory func(logDir string) agent.CommandRunner

// Request describes one run to execute.
type Request struct {
	// RunID overrides the generated identifier when set
	RunID string

	// TargetPath is the directory the agents work in
	TargetPath string

	// Prompt is the free-form instruction
	Prompt string

	// InputDocs is an optional requirement document file or directory
	InputDocs string

	// DryRun plans without touching the target or running commands
	DryRun bool

	// AllowCLITools and AllowPackageInstalls mirror the sandbox policy
	// the runner was built with; recorded in package provenance
	AllowCLITools        bool
	AllowPackageInstalls bool
}

// Report summarizes a finished run.
type Report struct {
	// RunID identifies the run
	RunID string

	// Status is the terminal run status
	Status string

	// Error describes the failure for failed runs
	Error string

	// PackagePath is the written archive, empty when not packaged
	PackagePath string

	// RestorePath is the staged rollback copy, empty unless the run
	// failed with a snapshot available
	RestorePath string

	// Duration is the wall-clock run time
	Duration time.Duration

	// Results are the completed agent results in pipeline order
	Results []*agent.Result
}

// Options carries the controller's dependencies.
type Options struct {
	Store     RunStore
	Workspace Workspace
	Packager  Packager
	Generator agent.TextGenerator
	Agents    []agent.Agent
	NewRunner RunnerFactory
	Paths     config.Paths
	Printer   *output.Printer
	Logger    *zap.Logger

	// Version is recorded in package provenance
	Version string
}

// Controller owns the run lifecycle.
type Controller struct {
	store     RunStore
	workspace Workspace
	packager  Packager
	generator agent.TextGenerator
	agents    []agent.Agent
	newRunner RunnerFactory
	paths     config.Paths
	printer   *output.Printer
	log       *zap.Logger
	version   string
	now       func() time.Time
	newRunID  func() (string, error)
}

// New creates a controller. Agents default to the standard pipeline.
func New(opts Options) *Controller {
	agents := opts.Agents
	if len(agents) == 0 {
		agents = agent.Pipeline()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	printer := opts.Printer
	if printer == nil {
		printer = output.NewPrinterWithWriters(io.Discard, io.Discard, false)
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Controller{
		store:     opts.Store,
		workspace: opts.Workspace,
		packager:  opts.Packager,
		generator: opts.Generator,
		agents:    agents,
		newRunner: opts.NewRunner,
		paths:     opts.Paths,
		printer:   printer,
		log:       log,
		version:   version,
		now:       time.Now,
		newRunID:  newRunID,
	}
}

func newRunID() (string, error) {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	return id.String(), nil
}

// runState accumulates one run's progress across the pipeline stages.
type runState struct {
	req         Request
	runID       string
	log         *zap.Logger
	startedAt   time.Time
	snap        *workspace.Snapshot
	rc          *agent.RunContext
	results     []*agent.Result
	degraded    bool
	failure     error
	restorePath string
	packagePath string
}

// Execute runs the full pipeline for one request. An error return means
// the run could not be tracked at all; every tracked run yields a
// report, failed ones included.
func (c *Controller) Execute(ctx context.Context, req Request) (*Report, error) {
	runID := req.RunID
	if runID == "" {
		generated, err := c.newRunID()
		if err != nil {
			return nil, err
		}
		runID = generated
	}

	st := &runState{
		req:       req,
		runID:     runID,
		log:       logger.WithRun(c.log, runID),
		startedAt: c.now().UTC(),
	}

	// Bookkeeping writes survive cancellation so an interrupted run
	// still records its terminal status.
	book := context.WithoutCancel(ctx)

	run := store.Run{
		RunID:      runID,
		Status:     store.StatusRunning,
		TargetPath: req.TargetPath,
		Prompt:     req.Prompt,
		InputDocs:  req.InputDocs,
		StartedAt:  st.startedAt,
		Config: map[string]any{
			"dry_run": req.DryRun,
			"model":   c.generator.Model(),
		},
	}
	if err := c.store.CreateRun(book, run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}
	c.appendEvent(book, st, store.EventRunStarted, "run started", map[string]any{
		"target":  req.TargetPath,
		"dry_run": req.DryRun,
	})
	c.printer.Step("Run %s started", runID)
	st.log.Info("run started",
		zap.String("target", req.TargetPath),
		zap.Bool("dry_run", req.DryRun))

	if snapErr := c.snapshotTarget(book, st); snapErr == nil {
		st.rc = &agent.RunContext{
			RunID:      runID,
			TargetPath: req.TargetPath,
			Prompt:     req.Prompt,
			InputDocs:  req.InputDocs,
			DryRun:     req.DryRun,
			Runner:     c.newRunner(c.paths.RunLogsDir(runID)),
			Generator:  c.generator,
			Log:        st.log,
			Outputs:    make(map[string]*agent.Result),
		}
		c.executeAgents(ctx, book, st)
		c.packageRun(book, st)
	}

	return c.finalize(book, st)
}

// snapshotTarget archives the target before any agent touches it. A
// missing target yields no snapshot and no event.
func (c *Controller) snapshotTarget(ctx context.Context, st *runState) error {
	snap, err := c.workspace.CreateSnapshot(st.runID, st.req.TargetPath)
	if err != nil {
		st.failure = fmt.Errorf("failed to snapshot target: %w", err)
		st.log.Error("snapshot failed", zap.Error(err))
		return st.failure
	}
	st.snap = snap
	if snap != nil {
		c.appendEvent(ctx, st, store.EventSnapshotCreated, "workspace snapshot created", map[string]any{
			"path": snap.Path,
		})
		st.log.Info("snapshot created", zap.String("path", snap.Path))
	}
	return nil
}

// executeAgents walks the pipeline in order. An agent error or panic
// stops the pipeline and stages a rollback; a non-succeeded result
// degrades the run but keeps it moving.
func (c *Controller) executeAgents(ctx, book context.Context, st *runState) {
	for _, a := range c.agents {
		if err := ctx.Err(); err != nil {
			st.failure = fmt.Errorf("run canceled: %w", err)
			c.stageRollback(book, st)
			return
		}
		if err := c.runAgent(ctx, book, st, a); err != nil {
			st.failure = err
			c.stageRollback(book, st)
			return
		}
	}
}

func (c *Controller) runAgent(ctx, book context.Context, st *runState, a agent.Agent) error {
	c.printer.Step("Agent %s running", a.Name())
	stepID, err := c.store.StartStep(book, st.runID, a.Name(), map[string]any{
		"prompt":  st.req.Prompt,
		"target":  st.req.TargetPath,
		"dry_run": st.req.DryRun,
	})
	if err != nil {
		return fmt.Errorf("failed to start step for %s: %w", a.Name(), err)
	}

	result, execErr := executeAgent(ctx, a, st.rc)
	if execErr != nil {
		if err := c.store.CompleteStep(book, stepID, store.StatusFailed, nil, execErr.Error()); err != nil {
			st.log.Warn("failed to record step failure", zap.Error(err))
		}
		c.appendEvent(book, st, store.EventAgentFailed, fmt.Sprintf("agent %s failed", a.Name()), map[string]any{
			"agent": a.Name(),
			"error": execErr.Error(),
		})
		c.printer.AgentStatus(a.Name(), agent.StatusFailed, execErr.Error())
		st.log.Error("agent failed", zap.String("agent", a.Name()), zap.Error(execErr))
		return fmt.Errorf("agent %s: %w", a.Name(), execErr)
	}

	st.rc.Outputs[a.Name()] = result
	st.results = append(st.results, result)
	if result.Status != agent.StatusSucceeded {
		st.degraded = true
	}

	if err := c.store.CompleteStep(book, stepID, result.Status, map[string]any{
		"status":  result.Status,
		"summary": result.Summary,
		"details": result.Details,
	}, ""); err != nil {
		st.log.Warn("failed to record step completion", zap.Error(err))
	}
	for _, artifact := range result.Artifacts {
		if err := c.store.SaveArtifact(book, st.runID, a.Name(), artifact.Name, artifact.Type, "", artifact.Payload); err != nil {
			st.log.Warn("failed to save artifact",
				zap.String("artifact", artifact.Name),
				zap.Error(err))
		}
	}
	c.appendEvent(book, st, store.EventAgentCompleted, fmt.Sprintf("agent %s completed", a.Name()), map[string]any{
		"agent":     a.Name(),
		"status":    result.Status,
		"artifacts": result.ArtifactNames(),
	})
	c.printer.AgentStatus(a.Name(), result.Status, result.Summary)
	st.log.Info("agent completed",
		zap.String("agent", a.Name()),
		zap.String("status", result.Status))
	return nil
}

// executeAgent isolates agent panics so a misbehaving persona fails its
// run instead of the process.
func executeAgent(ctx context.Context, a agent.Agent, rc *agent.RunContext) (result *agent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("agent %s panicked: %v", a.Name(), r)
		}
	}()
	return a.Execute(ctx, rc)
}

// stageRollback copies the pre-run snapshot into the restores area so
// the operator can recover the target's prior state.
func (c *Controller) stageRollback(ctx context.Context, st *runState) {
	restorePath, err := c.workspace.StageRestore(st.runID, st.snap)
	if err != nil {
		st.log.Error("failed to stage rollback", zap.Error(err))
		return
	}
	if restorePath == "" {
		return
	}
	st.restorePath = restorePath
	c.appendEvent(ctx, st, store.EventRollbackStaged, "rollback staged", map[string]any{
		"restore_path": restorePath,
	})
	c.printer.Warning("Rollback staged at %s", restorePath)
	st.log.Info("rollback staged", zap.String("path", restorePath))
}

// packageRun archives the run outputs. Dry runs skip packaging, failed
// runs never reach it, and a packaging failure degrades the run rather
// than failing it.
func (c *Controller) packageRun(ctx context.Context, st *runState) {
	if st.failure != nil {
		return
	}
	if st.req.DryRun {
		c.appendEvent(ctx, st, store.EventPackagingSkipped, "packaging skipped", map[string]any{
			"reason": "dry-run",
		})
		c.printer.Info("Packaging skipped (dry-run)")
		st.log.Info("packaging skipped", zap.String("reason", "dry-run"))
		return
	}

	pkg, err := c.packager.Package(packaging.Request{
		RunID:                st.runID,
		Status:               c.statusFor(st),
		Prompt:               st.req.Prompt,
		TargetPath:           st.req.TargetPath,
		Model:                c.generator.Model(),
		ToolVersion:          c.version,
		AllowCLITools:        st.req.AllowCLITools,
		AllowPackageInstalls: st.req.AllowPackageInstalls,
		StartedAt:            st.startedAt,
		CompletedAt:          c.now().UTC(),
		Results:              st.results,
		LogsDir:              c.paths.RunLogsDir(st.runID),
	})
	if err != nil {
		st.degraded = true
		c.appendEvent(ctx, st, store.EventPackagingFailed, "packaging failed", map[string]any{
			"error": err.Error(),
		})
		c.printer.Error("Packaging failed: %v", err)
		st.log.Error("packaging failed", zap.Error(err))
		return
	}
	st.packagePath = pkg.OutputPath
	c.appendEvent(ctx, st, store.EventPackagingCompleted, "package written", map[string]any{
		"path":    pkg.OutputPath,
		"entries": len(pkg.Files),
	})
	c.printer.Success("Package written to %s", pkg.OutputPath)
	st.log.Info("package written",
		zap.String("path", pkg.OutputPath),
		zap.Int("entries", len(pkg.Files)))
}

func (c *Controller) statusFor(st *runState) string {
	switch {
	case st.failure != nil:
		return store.StatusFailed
	case st.degraded:
		return store.StatusPartialSuccess
	}
	return store.StatusSucceeded
}

// finalize records the terminal status, emits the completion event and
// removes the pre-run snapshot. Snapshots are cleaned on every terminal
// path; failed runs stage their restore copy first.
func (c *Controller) finalize(ctx context.Context, st *runState) (*Report, error) {
	status := c.statusFor(st)
	errText := ""
	if st.failure != nil {
		errText = st.failure.Error()
	}

	completedAt := c.now().UTC()
	duration := completedAt.Sub(st.startedAt)
	if err := c.store.CompleteRun(ctx, st.runID, status, st.packagePath, errText); err != nil {
		return nil, fmt.Errorf("failed to complete run record: %w", err)
	}
	c.appendEvent(ctx, st, store.EventRunCompleted, "run completed", map[string]any{
		"status":           status,
		"duration_seconds": duration.Seconds(),
	})

	if err := c.workspace.Cleanup(st.snap); err != nil {
		st.log.Warn("failed to clean up snapshot", zap.Error(err))
	}

	switch status {
	case store.StatusSucceeded:
		c.printer.Success("Run %s succeeded in %s", st.runID, duration.Round(time.Millisecond))
	case store.StatusPartialSuccess:
		c.printer.Warning("Run %s completed with partial success in %s", st.runID, duration.Round(time.Millisecond))
	default:
		c.printer.Error("Run %s failed: %s", st.runID, errText)
	}
	st.log.Info("run completed",
		zap.String("status", status),
		zap.Duration("duration", duration))

	return &Report{
		RunID:       st.runID,
		Status:      status,
		Error:       errText,
		PackagePath: st.packagePath,
		RestorePath: st.restorePath,
		Duration:    duration,
		Results:     st.results,
	}, nil
}

func (c *Controller) appendEvent(ctx context.Context, st *runState, event, message string, payload map[string]any) {
	if err := c.store.AppendEvent(ctx, st.runID, event, message, payload); err != nil {
		st.log.Warn("failed to append event",
			zap.String("event", event),
			zap.Error(err))
	}
}
