package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const reportFileName = "agent_run_report.md"

// DocumentationAgent assembles the run report, readme and changelog
// from the earlier agents' outputs.
type DocumentationAgent struct {
	now func() time.Time
}

// NewDocumentationAgent creates the documentation persona.
func NewDocumentationAgent() *DocumentationAgent {
	return &DocumentationAgent{now: time.Now}
}

// Name implements Agent.
func (a *DocumentationAgent) Name() string { return NameDocumentation }

// Execute renders the run report and writes it into the target unless
// the run is dry. The report itself is always kept as an artifact so
// dry runs still package it.
func (a *DocumentationAgent) Execute(ctx context.Context, rc *RunContext) (*Result, error) {
	log := rc.logger()

	var summary, classification string
	var requirements, assumptions, plan, notes []string
	if reqResult, ok := rc.Output(NameRequirements); ok {
		summary = detailString(reqResult.Details, "summary")
		classification = detailString(reqResult.Details, "classification")
		requirements = detailStrings(reqResult.Details, "requirements")
		assumptions = detailStrings(reqResult.Details, "assumptions")
	}
	if summary == "" {
		summary = "No explicit requirements provided."
	}
	if codingResult, ok := rc.Output(NameCoding); ok {
		plan = detailStrings(codingResult.Details, "plan")
		notes = detailStrings(codingResult.Details, "dependency_notes")
	}

	testStatus := StatusSkipped
	testSummary := "Test suite was not run."
	if testResult, ok := rc.Output(NameTesting); ok {
		testStatus = detailString(testResult.Details, "status")
		testSummary = testResult.Summary
	}

	generatedAt := a.now().UTC().Format(time.RFC3339)
	report, sections := renderReport(reportInput{
		summary:      summary,
		requirements: requirements,
		assumptions:  assumptions,
		plan:         plan,
		notes:        notes,
		testStatus:   testStatus,
		testSummary:  testSummary,
		commands:     collectCommands(rc),
		generatedAt:  generatedAt,
		runID:        rc.RunID,
		model:        rc.Generator.Model(),
	})

	changelog := renderChangelog(generatedAt, rc.RunID, plan)
	if raw, genErr := rc.Generator.Generate(ctx, documentationPrompt(report)); genErr != nil {
		log.Warn("release note unavailable", zap.Error(genErr))
	} else if note := BestEffort(raw).Text(); note != "" {
		changelog += "\n### Notes\n\n" + note + "\n"
	}
	readme := renderReadme(classification, summary, rc)

	details := map[string]any{
		"sections":     sections,
		"generated_at": generatedAt,
	}
	if rc.DryRun {
		log.Info("skipping report write", zap.String("reason", "dry-run"))
	} else {
		if err := writeTargetFile(rc.TargetPath, reportFileName, report); err != nil {
			return nil, err
		}
		details["report_path"] = filepath.Join(rc.TargetPath, reportFileName)
	}

	return &Result{
		Agent:   a.Name(),
		Status:  StatusSucceeded,
		Summary: fmt.Sprintf("Generated run report with %d sections", len(sections)),
		Details: details,
		Artifacts: []Artifact{
			{Name: reportFileName, Type: ArtifactText, Payload: report},
			{Name: "README.md", Type: ArtifactText, Payload: readme},
			{Name: "CHANGELOG.md", Type: ArtifactText, Payload: changelog},
		},
	}, nil
}

type reportInput struct {
	summary      string
	requirements []string
	assumptions  []string
	plan         []string
	notes        []string
	testStatus   string
	testSummary  string
	commands     []string
	generatedAt  string
	runID        string
	model        string
}

// renderReport produces the markdown run report and the list of
// section headers it contains.
func renderReport(in reportInput) (string, []string) {
	var b strings.Builder
	var sections []string
	section := func(header string) {
		sections = append(sections, header)
		fmt.Fprintf(&b, "%s\n\n", header)
	}
	bullets := func(items []string) {
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}

	section("# Agent Run Report")
	section("## Requirements Summary")
	fmt.Fprintf(&b, "%s\n\n", in.summary)
	if len(in.requirements) > 0 {
		section("### Structured Requirements")
		bullets(in.requirements)
	}
	if len(in.assumptions) > 0 {
		section("### Assumptions")
		bullets(in.assumptions)
	}
	section("## Coding Plan")
	bullets(in.plan)
	section("## Dependency Notes")
	bullets(in.notes)
	section("## Testing Summary")
	fmt.Fprintf(&b, "Status: %s\n\n%s\n\n", in.testStatus, in.testSummary)
	if len(in.commands) > 0 {
		section("### Commands")
		bullets(in.commands)
	}
	section("## Provenance")
	fmt.Fprintf(&b, "Generated at: %s\n", in.generatedAt)
	fmt.Fprintf(&b, "Run ID: %s\n", in.runID)
	fmt.Fprintf(&b, "Model: %s\n", in.model)

	return b.String(), sections
}

// collectCommands gathers every command the run executed, in pipeline
// order.
func collectCommands(rc *RunContext) []string {
	var commands []string
	if codingResult, ok := rc.Output(NameCoding); ok {
		for _, key := range []string{"cli_checks", "installs", "resolved_manifests"} {
			records, _ := codingResult.Details[key].([]map[string]any)
			for _, record := range records {
				if command, ok := record["command"].(string); ok && command != "" {
					commands = append(commands, command)
				}
			}
		}
	}
	if testResult, ok := rc.Output(NameTesting); ok {
		if command := detailString(testResult.Details, "command"); command != "" {
			commands = append(commands, command)
		}
	}
	return dedupe(commands)
}

func renderChangelog(generatedAt, runID string, plan []string) string {
	var b strings.Builder
	b.WriteString("# Changelog\n\n")
	fmt.Fprintf(&b, "## %s (run %s)\n\n", generatedAt, runID)
	if len(plan) == 0 {
		b.WriteString("- Initial scaffold generated.\n")
		return b.String()
	}
	for _, item := range plan {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return b.String()
}

func renderReadme(classification, summary string, rc *RunContext) string {
	var b strings.Builder
	b.WriteString("# Generated Project\n\n")
	fmt.Fprintf(&b, "%s\n\n", summary)
	if classification != "" {
		fmt.Fprintf(&b, "Classification: %s\n\n", classification)
	}
	b.WriteString("## Getting Started\n\n")
	if codingResult, ok := rc.Output(NameCoding); ok {
		if command := detailStrings(codingResult.Details, "test_command"); len(command) > 0 {
			fmt.Fprintf(&b, "Run the test suite with `%s`.\n", strings.Join(command, " "))
			return b.String()
		}
	}
	b.WriteString("See agent_run_report.md for the full run details.\n")
	return b.String()
}
