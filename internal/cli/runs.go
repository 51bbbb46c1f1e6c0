package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/quartet-labs/quartet/internal/output"
	"github.com/quartet-labs/quartet/internal/store"
)

func newRunsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newRunsListCommand(root))
	cmd.AddCommand(newRunsShowCommand(root))
	return cmd
}

func newRunsListCommand(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			runStore, err := openStore(root)
			if err != nil {
				return err
			}
			defer multierr.AppendInvoke(&err, multierr.Close(runStore))
			printer := output.NewPrinterWithWriters(cmd.OutOrStdout(), cmd.ErrOrStderr(), !root.noColor)

			runs, err := runStore.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				printer.Info("No runs recorded yet")
				return nil
			}
			printer.Print("%-30s  %-16s  %-20s  %s\n", "RUN ID", "STATUS", "STARTED", "TARGET")
			for _, run := range runs {
				printer.Print("%-30s  %-16s  %-20s  %s\n",
					run.RunID,
					run.Status,
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.TargetPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newRunsShowCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's steps, artifacts and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			runStore, err := openStore(root)
			if err != nil {
				return err
			}
			defer multierr.AppendInvoke(&err, multierr.Close(runStore))
			printer := output.NewPrinterWithWriters(cmd.OutOrStdout(), cmd.ErrOrStderr(), !root.noColor)

			detail, err := runStore.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRunDetail(printer, detail)
			return nil
		},
	}
	return cmd
}

func openStore(root *rootOptions) (*store.Store, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	paths := cfg.Paths()
	if err := paths.Ensure(); err != nil {
		return nil, err
	}
	return store.Open(paths.DatabasePath)
}

func printRunDetail(printer *output.Printer, detail *store.RunDetail) {
	run := detail.Run
	printer.Print("Run %s\n", run.RunID)
	printer.Detail("Status:  %s", run.Status)
	printer.Detail("Target:  %s", run.TargetPath)
	if run.Prompt != "" {
		printer.Detail("Prompt:  %s", run.Prompt)
	}
	printer.Detail("Started: %s", run.StartedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil {
		printer.Detail("Ended:   %s (%s)",
			run.CompletedAt.Local().Format(time.RFC3339),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.PackagePath != "" {
		printer.Detail("Package: %s", run.PackagePath)
	}
	if run.Error != "" {
		printer.Detail("Error:   %s", run.Error)
	}

	if len(detail.Steps) > 0 {
		printer.Println()
		printer.Print("Steps:\n")
		for _, step := range detail.Steps {
			printer.AgentStatus(step.Agent, step.Status, stepSummary(step))
		}
	}

	if len(detail.Artifacts) > 0 {
		printer.Println()
		printer.Print("Artifacts:\n")
		for _, artifact := range detail.Artifacts {
			printer.Detail("%s/%s (%s)", artifact.Agent, artifact.Name, artifact.Type)
		}
	}

	if len(detail.Events) > 0 {
		printer.Println()
		printer.Print("Events:\n")
		for _, event := range detail.Events {
			printer.Detail("%s  %-21s %s",
				event.CreatedAt.Local().Format("15:04:05"),
				event.Event,
				event.Message)
		}
	}
}

func stepSummary(step store.Step) string {
	if step.Error != "" {
		return step.Error
	}
	if summary, ok := step.Output["summary"].(string); ok && summary != "" {
		return summary
	}
	return fmt.Sprintf("completed at %s", completedText(step))
}

func completedText(step store.Step) string {
	if step.CompletedAt == nil {
		return "unknown"
	}
	return step.CompletedAt.Local().Format("15:04:05")
}
