// Package sandbox executes workspace commands under the run policy.
// Commands never abort the pipeline: blocked, missing and failed
// invocations all come back as results, and every invocation leaves a
// numbered log file behind.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Skip and failure reasons recorded on results.
const (
	ReasonDryRun                = "dry-run"
	ReasonBlockedPackageInstall = "blocked-package-install"
	ReasonBlockedCLI            = "blocked-cli"
	ReasonMissingExecutable     = "missing-executable"
	ReasonOSError               = "os-error"
	ReasonTimeout               = "timeout"
)

// Policy controls which command classes may actually execute.
type Policy struct {
	// AllowPackageInstalls permits package manager install commands
	AllowPackageInstalls bool

	// AllowCLITools permits scaffolding CLI tool invocations
	AllowCLITools bool
}

// Result describes one command invocation, executed or not.
type Result struct {
	// Command is the argv that was requested
	Command []string

	// ReturnCode is the exit code; 0 for skipped commands, 127 for
	// missing executables
	ReturnCode int

	// Stdout and Stderr hold captured output, empty when skipped
	Stdout string
	Stderr string

	// Skipped is true when the command never executed
	Skipped bool

	// Reason explains a skip or failure, empty for clean executions
	Reason string

	// LogPath is the per-command log file
	LogPath string

	// Duration is the wall time of the execution, zero when skipped
	Duration time.Duration
}

// CommandLine renders the argv as a shell-style line.
func (r *Result) CommandLine() string {
	return strings.Join(r.Command, " ")
}

// Succeeded reports whether the invocation came back with exit code 0.
// Policy and dry-run skips keep code 0; missing executables record 127.
func (r *Result) Succeeded() bool {
	return r.ReturnCode == 0
}

// installPrefixes match package manager install commands.
var installPrefixes = [][]string{
	{"pip", "install"},
	{"pip3", "install"},
	{"python", "-m", "pip", "install"},
	{"python3", "-m", "pip", "install"},
	{"npm", "install"},
	{"npm", "i"},
	{"pnpm", "add"},
	{"pnpm", "install"},
	{"yarn", "add"},
}

// cliToolPrefixes match project scaffolding CLIs.
var cliToolPrefixes = [][]string{
	{"npx"},
	{"npm", "create"},
	{"pnpm", "dlx"},
	{"yarn", "create"},
	{"create-next-app"},
	{"django-admin"},
	{"cookiecutter"},
}

// interpreters are assumed present and skip the executable lookup.
var interpreters = map[string]bool{
	"python":  true,
	"python3": true,
}

// Runner executes commands for one run, numbering their logs
// sequentially.
type Runner struct {
	logDir  string
	dryRun  bool
	policy  Policy
	timeout time.Duration
	log     *zap.Logger

	lookPath func(string) (string, error)
	execute  func(ctx context.Context, workDir string, command []string) (string, string, int, error)

	mu  sync.Mutex
	seq int
}

// NewRunner creates a runner writing logs to logDir. A zero timeout
// disables the execution deadline. A nil logger disables logging.
func NewRunner(logDir string, dryRun bool, policy Policy, timeout time.Duration, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		logDir:   logDir,
		dryRun:   dryRun,
		policy:   policy,
		timeout:  timeout,
		log:      log,
		lookPath: exec.LookPath,
	}
	r.execute = r.executeReal
	return r
}

// Run executes one command in workDir under the policy. The returned
// error covers runner bookkeeping only; command failures are reported
// in the result.
func (r *Runner) Run(ctx context.Context, workDir string, command ...string) (*Result, error) {
	if len(command) == 0 {
		return nil, errors.New("empty command")
	}

	result := &Result{Command: command}

	switch {
	case r.dryRun:
		result.Skipped = true
		result.Reason = ReasonDryRun
	case matchesAny(command, installPrefixes) && !r.policy.AllowPackageInstalls:
		result.Skipped = true
		result.Reason = ReasonBlockedPackageInstall
	case matchesAny(command, cliToolPrefixes) && !r.policy.AllowCLITools:
		result.Skipped = true
		result.Reason = ReasonBlockedCLI
	default:
		r.runCommand(ctx, workDir, command, result)
	}

	if err := r.writeLog(result); err != nil {
		return nil, err
	}

	r.log.Debug("command finished",
		zap.String("command", result.CommandLine()),
		zap.Int("return_code", result.ReturnCode),
		zap.Bool("skipped", result.Skipped),
		zap.String("reason", result.Reason))
	return result, nil
}

func (r *Runner) runCommand(ctx context.Context, workDir string, command []string, result *Result) {
	exe := command[0]
	if !interpreters[filepath.Base(exe)] {
		if _, err := r.lookPath(exe); err != nil {
			result.Skipped = true
			result.Reason = ReasonMissingExecutable
			result.ReturnCode = 127
			return
		}
	}

	execCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, code, err := r.execute(execCtx, workDir, command)
	result.Duration = time.Since(start)
	result.Stdout = stdout
	result.Stderr = stderr
	result.ReturnCode = code

	switch {
	case err == nil:
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Reason = ReasonTimeout
		result.ReturnCode = 124
	case errors.Is(err, exec.ErrNotFound):
		// Interpreters bypass the lookup, so a vanished executable can
		// still surface at launch time.
		result.Skipped = true
		result.Reason = ReasonMissingExecutable
		result.ReturnCode = 127
	case isExitError(err):
		// Exit code already captured; a failing command is a result,
		// not an error.
	default:
		result.Reason = ReasonOSError
		result.ReturnCode = 1
		result.Stderr = err.Error()
	}
}

func (r *Runner) executeReal(ctx context.Context, workDir string, command []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = 1
	}
	return stdout.String(), stderr.String(), code, err
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// writeLog records the invocation in the next numbered log file.
func (r *Runner) writeLog(result *Result) error {
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	name := fmt.Sprintf("%03d-%s.log", seq, logBase(result.Command[0]))
	result.LogPath = filepath.Join(r.logDir, name)

	var b strings.Builder
	if result.Reason != "" {
		fmt.Fprintf(&b, "[%s] ", result.Reason)
	}
	fmt.Fprintf(&b, "$ %s\n", result.CommandLine())
	if !result.Skipped {
		fmt.Fprintf(&b, "exit code: %d\n", result.ReturnCode)
		if result.Stdout != "" {
			fmt.Fprintf(&b, "\n--- stdout ---\n%s", ensureNewline(result.Stdout))
		}
		if result.Stderr != "" {
			fmt.Fprintf(&b, "\n--- stderr ---\n%s", ensureNewline(result.Stderr))
		}
	}

	if err := os.WriteFile(result.LogPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write command log %s: %w", result.LogPath, err)
	}
	return nil
}

// logBase sanitizes an executable name for use in a log file name.
func logBase(exe string) string {
	base := filepath.Base(exe)
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "cmd"
	}
	return b.String()
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// matchesAny reports whether the command starts with any of the given
// token prefixes, case-insensitively.
func matchesAny(command []string, prefixes [][]string) bool {
	for _, prefix := range prefixes {
		if len(command) < len(prefix) {
			continue
		}
		match := true
		for i, token := range prefix {
			if !strings.EqualFold(strings.TrimSpace(command[i]), token) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
