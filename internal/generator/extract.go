package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseDraft decodes a generation response body into a Draft, tolerating the
// usual LLM framing noise: markdown code fences and prose around the JSON
// object.
func ParseDraft(raw string) (*Draft, error) {
	clean := stripFences(strings.TrimSpace(raw))

	draft := &Draft{}
	if err := json.Unmarshal([]byte(clean), draft); err == nil {
		return draft, nil
	}

	// Fall back to the outermost JSON object in the text.
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in generation response")
	}
	if err := json.Unmarshal([]byte(clean[start:end+1]), draft); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	return draft, nil
}

// stripFences removes a surrounding markdown code block if present.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:] // drop ```json or ```
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
