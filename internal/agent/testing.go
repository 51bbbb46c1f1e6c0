package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var coverageLinePattern = regexp.MustCompile(`(?i)coverage|\b\d{1,3}%`)

// TestingAgent runs the scaffold's test suite through the sandbox and
// asks the model to analyze the output.
type TestingAgent struct{}

// NewTestingAgent creates the testing persona.
func NewTestingAgent() *TestingAgent {
	return &TestingAgent{}
}

// Name implements Agent.
func (a *TestingAgent) Name() string { return NameTesting }

// Execute runs the profile's test command. A failing suite marks the
// agent failed; a suite skipped by policy or dry-run does not.
func (a *TestingAgent) Execute(ctx context.Context, rc *RunContext) (*Result, error) {
	log := rc.logger()

	codingResult, ok := rc.Output(NameCoding)
	if !ok {
		return &Result{
			Agent:   a.Name(),
			Status:  StatusSkipped,
			Summary: "Test suite skipped: no coding output to test",
			Details: map[string]any{"status": StatusSkipped},
		}, nil
	}

	command := detailStrings(codingResult.Details, "test_command")
	if len(command) == 0 {
		command = pytestCommand
	}
	classification := detailString(codingResult.Details, "classification")

	var requirements []string
	if reqResult, ok := rc.Output(NameRequirements); ok {
		requirements = detailStrings(reqResult.Details, "requirements")
	}

	if !rc.DryRun {
		planDoc := map[string]any{
			"command":        strings.Join(command, " "),
			"classification": classification,
			"requirements":   requirements,
		}
		if err := writeTargetJSON(rc.TargetPath, "test_plan.json", planDoc); err != nil {
			return nil, err
		}
	}

	res, err := rc.Runner.Run(ctx, rc.TargetPath, command...)
	if err != nil {
		return nil, fmt.Errorf("failed to run test suite: %w", err)
	}

	suiteStatus := StatusSucceeded
	switch {
	case res.Skipped:
		suiteStatus = StatusSkipped
	case !res.Succeeded():
		suiteStatus = StatusFailed
	}
	log.Info("test suite finished",
		zap.String("status", suiteStatus),
		zap.String("command", res.CommandLine()),
		zap.Int("return_code", res.ReturnCode))

	details := map[string]any{
		"status":      suiteStatus,
		"command":     res.CommandLine(),
		"return_code": res.ReturnCode,
		"log_path":    res.LogPath,
	}
	if res.Reason != "" {
		details["reason"] = res.Reason
	}
	if hint := coverageHint(res.Stdout); hint != "" {
		details["coverage_hint"] = hint
	}

	artifacts := []Artifact{
		{Name: "test_report.json", Type: ArtifactJSON, Payload: details},
	}

	analysis := "no analysis available"
	if raw, genErr := rc.Generator.Generate(ctx, testingPrompt(res.CommandLine(), tail(res.Stdout+res.Stderr, promptDocLimit))); genErr != nil {
		log.Warn("test analysis unavailable", zap.Error(genErr))
	} else if text := BestEffort(raw).Text(); text != "" {
		analysis = text
		artifacts = append(artifacts, Artifact{Name: "test_analysis.txt", Type: ArtifactText, Payload: text})
	}
	details["analysis"] = analysis

	summary := fmt.Sprintf("Test suite passed (%s)", res.CommandLine())
	resultStatus := StatusSucceeded
	switch suiteStatus {
	case StatusFailed:
		summary = fmt.Sprintf("Test suite failed with exit code %d", res.ReturnCode)
		resultStatus = StatusFailed
	case StatusSkipped:
		summary = fmt.Sprintf("Test suite skipped (%s)", res.Reason)
	}

	return &Result{
		Agent:     a.Name(),
		Status:    resultStatus,
		Summary:   summary,
		Details:   details,
		Artifacts: artifacts,
	}, nil
}

// coverageHint returns the first output line that looks like a
// coverage figure.
func coverageHint(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && coverageLinePattern.MatchString(trimmed) {
			return trimmed
		}
	}
	return ""
}

// tail returns the last limit bytes of text.
func tail(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[len(text)-limit:]
}
