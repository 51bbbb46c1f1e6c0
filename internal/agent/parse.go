package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Structured is the best-effort interpretation of model output. Object
// is non-nil when a JSON object could be recovered; Bullets holds list
// items found in markdown-ish text; Raw always carries the trimmed
// original.
type Structured struct {
	Object  map[string]any
	Bullets []string
	Raw     string
}

// Text returns the raw model output, trimmed.
func (s Structured) Text() string {
	return s.Raw
}

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	bulletPattern      = regexp.MustCompile(`^(?:[-*]|\d+[.)])\s+(.*)$`)
)

// BestEffort interprets model output as JSON when possible, otherwise
// as markdown bullets, otherwise as raw text. Models rarely honor a
// strict output contract, so every shape degrades gracefully.
func BestEffort(text string) Structured {
	parsed := Structured{Raw: strings.TrimSpace(text)}

	if obj := decodeObject(parsed.Raw); obj != nil {
		parsed.Object = obj
		return parsed
	}
	for _, match := range fencedBlockPattern.FindAllStringSubmatch(parsed.Raw, -1) {
		if obj := decodeObject(strings.TrimSpace(match[1])); obj != nil {
			parsed.Object = obj
			break
		}
	}

	for _, line := range strings.Split(parsed.Raw, "\n") {
		if m := bulletPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if item := strings.TrimSpace(m[1]); item != "" {
				parsed.Bullets = append(parsed.Bullets, item)
			}
		}
	}
	return parsed
}

func decodeObject(text string) map[string]any {
	if !strings.HasPrefix(text, "{") {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil
	}
	return obj
}

// extractBullets pulls list items out of free text using the same
// bullet grammar the agents use for requirement documents.
func extractBullets(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if m := bulletPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if item := strings.TrimSpace(m[1]); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// dedupe removes duplicate trimmed entries preserving first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
