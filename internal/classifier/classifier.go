package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// Suggestion is the classifier's pick among the taxonomy names.
type Suggestion struct {
	SuggestedName string  `json:"suggested_name"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// Classifier proposes a canonical KPI name for a group summary. Implementations must only
// suggest names from the given list; callers treat any error as "no suggestion".
type Classifier interface {
	Classify(ctx context.Context, summary string, names []string) (Suggestion, error)
}

// ErrNoSuggestion is returned when the model declines to pick a name.
var ErrNoSuggestion = errors.New("classifier made no suggestion")

// BuildPrompt renders the instruction sent to a generative model.
func BuildPrompt(summary string, names []string) string {
	var sb strings.Builder
	sb.WriteString("You map ESG disclosure rows to a canonical KPI taxonomy.\n\n")
	sb.WriteString("Data summary:\n")
	sb.WriteString(summary)
	sb.WriteString("\n\nCanonical KPI names:\n")
	for _, n := range names {
		sb.WriteString("- ")
		sb.WriteString(n)
		sb.WriteString("\n")
	}
	sb.WriteString("\nAnswer with JSON only: ")
	sb.WriteString(`{"suggested_name": "<one name from the list, or empty>", "confidence": <0..1>, "reasoning": "<one sentence>"}`)
	return sb.String()
}

// ParseSuggestion decodes a model reply. Malformed JSON is repaired first; if that still does not
// decode, the reply is read as Hjson.
func ParseSuggestion(raw string, names []string) (Suggestion, error) {
	text := stripFence(raw)
	if text == "" {
		return Suggestion{}, ErrNoSuggestion
	}

	var s Suggestion
	repaired, err := jsonrepair.RepairJSON(text)
	if err != nil || json.Unmarshal([]byte(repaired), &s) != nil {
		s = Suggestion{}
		if herr := hjson.Unmarshal([]byte(text), &s); herr != nil {
			return Suggestion{}, fmt.Errorf("unreadable classifier reply: %w", herr)
		}
	}

	name, ok := canonicalName(s.SuggestedName, names)
	if !ok {
		return Suggestion{}, ErrNoSuggestion
	}
	s.SuggestedName = name
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return s, nil
}

// canonicalName matches a suggested name against the allowed list, ignoring case and spacing.
func canonicalName(suggested string, names []string) (string, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(suggested)), " ")
	if key == "" {
		return "", false
	}
	for _, n := range names {
		if strings.Join(strings.Fields(strings.ToLower(n)), " ") == key {
			return n, true
		}
	}
	return "", false
}

// stripFence removes a surrounding markdown code fence.
func stripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}
