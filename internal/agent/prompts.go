package agent

import (
	"fmt"
	"strings"
)

const promptDocLimit = 4000

func requirementsPrompt(prompt string, docs []Document) string {
	var b strings.Builder
	b.WriteString("You are the requirements agent. Extract explicit requirements, constraints, acceptance criteria and risks from the task below. Respect the framework versions mentioned in the documents. Reply with markdown bullets.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", prompt)
	for _, doc := range docs {
		fmt.Fprintf(&b, "\n# Document: %s (%s)\n%s\n", doc.Path, doc.MediaType, clip(doc.Content, promptDocLimit))
	}
	return b.String()
}

func codingPrompt(classification string, requirements []string) string {
	var b strings.Builder
	b.WriteString("You are the coding agent. Produce a concise implementation plan with explicit shell commands for the scaffold below. Prefer deterministic, locally runnable steps. Reply with markdown bullets.\n\n")
	fmt.Fprintf(&b, "Project classification: %s\n", classification)
	if len(requirements) > 0 {
		b.WriteString("Requirements:\n")
		for _, req := range requirements {
			fmt.Fprintf(&b, "- %s\n", req)
		}
	}
	return b.String()
}

func testingPrompt(command, output string) string {
	var b strings.Builder
	b.WriteString("You are the testing agent. Analyze the test run below. Name the failures, their likely causes and the next diagnostic step. Be brief.\n\n")
	fmt.Fprintf(&b, "Command: %s\n", command)
	fmt.Fprintf(&b, "Output:\n%s\n", clip(output, promptDocLimit))
	return b.String()
}

func documentationPrompt(report string) string {
	var b strings.Builder
	b.WriteString("You are the documentation agent. Write a short release note paragraph for the run report below. Plain prose, no headings.\n\n")
	b.WriteString(clip(report, promptDocLimit))
	return b.String()
}

func clip(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "\n[truncated]"
}
