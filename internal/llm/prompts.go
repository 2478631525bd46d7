package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const conceptPrompt = `You are a research librarian. List the distinct research concepts discussed in the text below.

Use short noun phrases in lowercase (for example "sleep", "memory consolidation", "synaptic pruning").
Respond ONLY with a JSON array of strings. No markdown, no explanation.
If the text names no concepts, respond with an empty array: []

Text:
%s`

const hypothesisSystemPrompt = `You are a careful research scientist. You propose a single falsifiable hypothesis grounded in the evidence you are given, and you state how confident you are that the evidence supports it.

Respond ONLY with JSON, no markdown:
{"hypothesis":"one or two sentences","confidence":0.0}

confidence is a number between 0 and 1. Use low values when the evidence is thin, indirect or conflicting.`

const hypothesisUserPrompt = `%s
Background notes from earlier research:
%s`

type generation struct {
	Hypothesis string  `json:"hypothesis"`
	Confidence float64 `json:"confidence"`
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func parseConcepts(raw string) ([]string, error) {
	raw = stripFences(raw)
	var concepts []string
	if err := json.Unmarshal([]byte(raw), &concepts); err != nil {
		return nil, fmt.Errorf("parse concepts: %w (raw: %s)", err, raw)
	}
	return concepts, nil
}

func parseGeneration(raw string) (string, float64, error) {
	raw = stripFences(raw)
	var g generation
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return "", 0, fmt.Errorf("parse hypothesis: %w (raw: %s)", err, raw)
	}
	if strings.TrimSpace(g.Hypothesis) == "" {
		return "", 0, fmt.Errorf("parse hypothesis: empty text")
	}
	return g.Hypothesis, g.Confidence, nil
}

func hypothesisMessage(prompt, background string) string {
	if strings.TrimSpace(background) == "" {
		background = "(none)"
	}
	return fmt.Sprintf(hypothesisUserPrompt, prompt, background)
}
