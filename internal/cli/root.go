// Package cli wires the quartet command tree: run executes the agent
// pipeline, runs inspects recorded history.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quartet-labs/quartet/internal/config"
)

const version = "0.3.0"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	stateDir   string
	verbose    bool
	noColor    bool
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context
// so an in-flight run can record its terminal state.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "quartet",
		Short: "Quartet - a four-agent coding pipeline",
		Long: `Quartet runs a fixed pipeline of four agents (requirements, coding,
testing, documentation) against a target directory. Every run is
snapshotted up front, recorded in SQLite and packaged into a
distributable archive on success.

Examples:
  quartet run ./out --prompt "Generate a FastAPI CRUD service"
  quartet run ./out --task-file task.yaml --dry-run
  quartet runs list
  quartet runs show run_01h455vb4pex5vsknk084sn02q`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file path (default ~/.config/quartet/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.stateDir, "state-dir", "", "State directory (default ~/.quartet)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newRunsCommand(opts))

	return cmd
}

// loadConfig resolves the effective configuration: file and environment
// first, then the persistent flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.stateDir != "" {
		abs, err := filepath.Abs(o.stateDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve state dir: %w", err)
		}
		cfg.StateDir = abs
	}
	if o.verbose && cfg.Verbosity == config.VerbosityNormal {
		cfg.Verbosity = config.VerbosityVerbose
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
