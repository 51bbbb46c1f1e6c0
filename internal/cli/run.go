package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/quartet-labs/quartet/internal/agent"
	"github.com/quartet-labs/quartet/internal/llm"
	"github.com/quartet-labs/quartet/internal/logger"
	"github.com/quartet-labs/quartet/internal/orchestrator"
	"github.com/quartet-labs/quartet/internal/output"
	"github.com/quartet-labs/quartet/internal/packaging"
	"github.com/quartet-labs/quartet/internal/sandbox"
	"github.com/quartet-labs/quartet/internal/store"
	"github.com/quartet-labs/quartet/internal/workspace"
)

// runOptions are the run command's flags.
type runOptions struct {
	root                 *rootOptions
	prompt               string
	inputDocs            string
	taskFile             string
	runID                string
	dryRun               bool
	allowCLITools        bool
	allowPackageInstalls bool
}

// taskFileSpec mirrors the YAML task file. Explicit flags beat file
// values.
type taskFileSpec struct {
	Prompt               string `yaml:"prompt"`
	InputDocs            string `yaml:"input_docs"`
	DryRun               *bool  `yaml:"dry_run"`
	AllowCLITools        *bool  `yaml:"allow_cli_tools"`
	AllowPackageInstalls *bool  `yaml:"allow_package_installs"`
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{root: root}

	cmd := &cobra.Command{
		Use:   "run <target-dir>",
		Short: "Run the agent pipeline against a target directory",
		Long: `Run executes the requirements, coding, testing and documentation
agents in order against the target directory. The target is snapshotted
before any agent touches it; failed runs stage a restore copy and dry
runs never create the target at all.

The command exits zero for succeeded and partial-success runs and
non-zero for failed runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.prompt, "prompt", "p", "", "Instruction for the run")
	cmd.Flags().StringVar(&opts.inputDocs, "input-docs", "", "Requirement document file or directory")
	cmd.Flags().StringVar(&opts.taskFile, "task-file", "", "YAML task file with prompt and run settings")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run identifier override (generated when empty)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Plan without writing the target or executing commands")
	cmd.Flags().BoolVar(&opts.allowCLITools, "allow-cli-tools", false, "Permit scaffolding CLI tools (npx, cookiecutter, ...)")
	cmd.Flags().BoolVar(&opts.allowPackageInstalls, "allow-package-installs", false, "Permit package manager installs (pip install, npm install, ...)")

	return cmd
}

func runPipeline(ctx context.Context, cmd *cobra.Command, opts *runOptions, targetArg string) (err error) {
	cfg, err := opts.root.loadConfig()
	if err != nil {
		return err
	}
	if err := applyTaskFile(cmd, opts); err != nil {
		return err
	}
	if opts.allowCLITools {
		cfg.Sandbox.AllowCLITools = true
	}
	if opts.allowPackageInstalls {
		cfg.Sandbox.AllowPackageInstalls = true
	}

	target, err := filepath.Abs(targetArg)
	if err != nil {
		return fmt.Errorf("failed to resolve target path: %w", err)
	}
	inputDocs := opts.inputDocs
	if inputDocs != "" {
		if inputDocs, err = filepath.Abs(inputDocs); err != nil {
			return fmt.Errorf("failed to resolve input docs path: %w", err)
		}
	}

	printer := output.NewPrinterWithWriters(cmd.OutOrStdout(), cmd.ErrOrStderr(), !opts.root.noColor)
	log, err := logger.NewForVerbosity(string(cfg.Verbosity), cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	paths := cfg.Paths()
	if err := paths.Ensure(); err != nil {
		return err
	}

	runStore, err := store.Open(paths.DatabasePath)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(runStore))

	policy := sandbox.Policy{
		AllowPackageInstalls: cfg.Sandbox.AllowPackageInstalls,
		AllowCLITools:        cfg.Sandbox.AllowCLITools,
	}
	controller := orchestrator.New(orchestrator.Options{
		Store:     runStore,
		Workspace: workspace.NewManager(paths.SnapshotsDir, paths.RestoresDir, log),
		Packager:  packaging.NewPackager(paths.DistDir, log),
		Generator: llm.NewFromConfig(cfg.OpenAI, opts.dryRun, log),
		NewRunner: func(logDir string) agent.CommandRunner {
			return sandbox.NewRunner(logDir, opts.dryRun, policy, cfg.Sandbox.CommandTimeout.Duration(), log)
		},
		Paths:   paths,
		Printer: printer,
		Logger:  log,
		Version: version,
	})

	report, err := controller.Execute(ctx, orchestrator.Request{
		RunID:                opts.runID,
		TargetPath:           target,
		Prompt:               opts.prompt,
		InputDocs:            inputDocs,
		DryRun:               opts.dryRun,
		AllowCLITools:        policy.AllowCLITools,
		AllowPackageInstalls: policy.AllowPackageInstalls,
	})
	if err != nil {
		return err
	}
	if report.Status == store.StatusFailed {
		return fmt.Errorf("run %s failed: %s", report.RunID, report.Error)
	}
	return nil
}

// applyTaskFile overlays task file values under any explicitly set
// flags.
func applyTaskFile(cmd *cobra.Command, opts *runOptions) error {
	if opts.taskFile == "" {
		return nil
	}
	data, err := os.ReadFile(opts.taskFile)
	if err != nil {
		return fmt.Errorf("failed to read task file: %w", err)
	}
	var spec taskFileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("failed to parse task file %s: %w", opts.taskFile, err)
	}

	flags := cmd.Flags()
	if spec.Prompt != "" && !flags.Changed("prompt") {
		opts.prompt = spec.Prompt
	}
	if spec.InputDocs != "" && !flags.Changed("input-docs") {
		opts.inputDocs = spec.InputDocs
	}
	if spec.DryRun != nil && !flags.Changed("dry-run") {
		opts.dryRun = *spec.DryRun
	}
	if spec.AllowCLITools != nil && !flags.Changed("allow-cli-tools") {
		opts.allowCLITools = *spec.AllowCLITools
	}
	if spec.AllowPackageInstalls != nil && !flags.Changed("allow-package-installs") {
		opts.allowPackageInstalls = *spec.AllowPackageInstalls
	}
	return nil
}
