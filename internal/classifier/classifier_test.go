package classifier

import (
	"errors"
	"strings"
	"testing"
)

var names = []string{"Scope 1 GHG Emissions", "Water Withdrawal", "Employee Count"}

func TestParseSuggestion(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantName string
		wantConf float64
		wantErr  bool
	}{
		{"clean", `{"suggested_name": "Water Withdrawal", "confidence": 0.82, "reasoning": "m3 volumes"}`, "Water Withdrawal", 0.82, false},
		{"case and spacing", `{"suggested_name": "  scope 1   ghg emissions", "confidence": 0.9}`, "Scope 1 GHG Emissions", 0.9, false},
		{"code fence and trailing comma", "```json\n{\"suggested_name\": \"Employee Count\", \"confidence\": 0.75,}\n```", "Employee Count", 0.75, false},
		{"single quotes", `{'suggested_name': 'Water Withdrawal', 'confidence': 0.6}`, "Water Withdrawal", 0.6, false},
		{"confidence clamped", `{"suggested_name": "Water Withdrawal", "confidence": 7}`, "Water Withdrawal", 1, false},
		{"name outside list", `{"suggested_name": "Biodiversity", "confidence": 0.99}`, "", 0, true},
		{"empty name", `{"suggested_name": "", "confidence": 0.2}`, "", 0, true},
		{"empty reply", "   ", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSuggestion(tt.raw, names)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSuggestion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s.SuggestedName != tt.wantName || s.Confidence != tt.wantConf {
				t.Errorf("ParseSuggestion() = %+v, want %q/%v", s, tt.wantName, tt.wantConf)
			}
		})
	}
}

func TestParseSuggestion_UnknownNameIsNoSuggestion(t *testing.T) {
	_, err := ParseSuggestion(`{"suggested_name": "Other"}`, names)
	if !errors.Is(err, ErrNoSuggestion) {
		t.Errorf("error = %v, want ErrNoSuggestion", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Label: water", names)
	for _, want := range append([]string{"Label: water", "suggested_name"}, names...) {
		if !strings.Contains(p, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}
}
