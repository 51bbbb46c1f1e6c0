package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const summaryLimit = 500

// requirementKeys are the JSON object keys mined for requirement text.
var requirementKeys = map[string]struct{}{
	"requirements": {},
	"goals":        {},
	"tasks":        {},
	"must":         {},
	"should":       {},
}

// RequirementsAgent distills the prompt and input documents into a
// structured requirement set for the rest of the pipeline.
type RequirementsAgent struct{}

// NewRequirementsAgent creates the requirements persona.
func NewRequirementsAgent() *RequirementsAgent {
	return &RequirementsAgent{}
}

// Name implements Agent.
func (a *RequirementsAgent) Name() string { return NameRequirements }

// Execute ingests the input documents, extracts requirements and
// assumptions with deterministic heuristics, and asks the model for a
// refined reading. Model failures degrade to the heuristic result.
func (a *RequirementsAgent) Execute(ctx context.Context, rc *RunContext) (*Result, error) {
	log := rc.logger()

	docs, err := loadInputDocuments(rc.InputDocs)
	if err != nil {
		return nil, fmt.Errorf("failed to load input documents: %w", err)
	}
	log.Debug("input documents loaded", zap.Int("count", len(docs)))

	requirements := extractRequirements(docs)
	assumptions := extractAssumptions(docs, rc.Prompt)
	summary := summarize(rc.Prompt, docs)
	classification := classify(rc.Prompt, requirements)

	sources := make([]string, 0, len(docs))
	for _, doc := range docs {
		sources = append(sources, doc.Path)
	}

	details := map[string]any{
		"summary":        summary,
		"requirements":   requirements,
		"assumptions":    assumptions,
		"classification": classification,
		"sources":        sources,
	}

	if raw, genErr := rc.Generator.Generate(ctx, requirementsPrompt(rc.Prompt, docs)); genErr != nil {
		log.Warn("model refinement unavailable", zap.Error(genErr))
	} else {
		parsed := BestEffort(raw)
		details["model_summary"] = parsed.Text()
		if len(parsed.Bullets) > 0 {
			details["model_suggestions"] = parsed.Bullets
		}
	}

	return &Result{
		Agent:   a.Name(),
		Status:  StatusSucceeded,
		Summary: summary,
		Details: details,
		Artifacts: []Artifact{
			{Name: "requirements.json", Type: ArtifactJSON, Payload: details},
		},
	}, nil
}

// summarize joins the prompt's first line with each document's first
// line, capped to a readable length.
func summarize(prompt string, docs []Document) string {
	parts := make([]string, 0, len(docs)+1)
	if line := firstLine(prompt); line != "" {
		parts = append(parts, line)
	}
	for _, doc := range docs {
		if line := firstLine(doc.Content); line != "" {
			parts = append(parts, line)
		}
	}
	if len(parts) == 0 {
		return "No explicit requirements provided."
	}
	summary := strings.Join(parts, " ")
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit]
	}
	return summary
}

// extractRequirements mines bullet items from text documents and
// requirement-shaped keys from JSON documents.
func extractRequirements(docs []Document) []string {
	var items []string
	for _, doc := range docs {
		if doc.MediaType == "application/json" {
			var payload any
			if err := json.Unmarshal([]byte(doc.Content), &payload); err != nil {
				continue
			}
			items = append(items, collectRequirementValues(payload, false)...)
			continue
		}
		items = append(items, extractBullets(doc.Content)...)
	}
	return dedupe(items)
}

// collectRequirementValues walks arbitrary JSON collecting string
// values that sit under a requirement key at any depth.
func collectRequirementValues(node any, underKey bool) []string {
	var items []string
	switch v := node.(type) {
	case string:
		if underKey {
			items = append(items, v)
		}
	case []any:
		for _, item := range v {
			items = append(items, collectRequirementValues(item, underKey)...)
		}
	case map[string]any:
		for key, value := range v {
			_, matched := requirementKeys[strings.ToLower(key)]
			items = append(items, collectRequirementValues(value, underKey || matched)...)
		}
	}
	return items
}

// extractAssumptions collects document lines mentioning assumptions,
// plus the prompt itself when it asks to assume something.
func extractAssumptions(docs []Document, prompt string) []string {
	var items []string
	for _, doc := range docs {
		for _, line := range strings.Split(doc.Content, "\n") {
			if strings.Contains(strings.ToLower(line), "assumption") {
				items = append(items, strings.TrimSpace(line))
			}
		}
	}
	if strings.Contains(strings.ToLower(prompt), "assume") {
		items = append(items, strings.TrimSpace(prompt))
	}
	return dedupe(items)
}

// classify buckets the run into a project profile from keyword hits in
// the prompt and requirements. First match wins.
func classify(prompt string, requirements []string) string {
	corpus := strings.ToLower(prompt + " " + strings.Join(requirements, " "))
	switch {
	case containsAny(corpus, "fastapi", "flask", "django", "rest api"):
		return ClassPythonAPI
	case containsAny(corpus, "next.js", "nextjs", "react", "node"):
		return ClassNodeWeb
	case containsAny(corpus, "etl", "pandas", "dataframe"):
		return ClassPythonETL
	case containsAny(corpus, "scikit", "machine learning", "ml model", "train"):
		return ClassPythonML
	}
	return ClassPythonCLI
}

func containsAny(corpus string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(corpus, term) {
			return true
		}
	}
	return false
}
