package visuals

import (
	"strings"
	"testing"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/store"
	"esg-mcp/internal/taxonomy"
)

func TestGenerateCategoryScoreChart(t *testing.T) {
	res := &compliance.Result{
		Period:   "2024",
		Standard: "ISSB",
		CategoryScores: map[taxonomy.Category]float64{
			taxonomy.Governance:  100,
			taxonomy.Environment: 66.666,
		},
	}
	got := GenerateCategoryScoreChart(res)

	for _, want := range []string{
		"title \"ISSB Coverage by Category (2024)\"",
		"x-axis [\"Environment\", \"Governance\"]",
		"bar [66.7, 100.0]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("chart missing %q:\n%s", want, got)
		}
	}

	if got := GenerateCategoryScoreChart(&compliance.Result{}); got != "" {
		t.Errorf("empty scores = %q, want empty", got)
	}
}

func TestGenerateMappingQualityPie(t *testing.T) {
	got := GenerateMappingQualityPie(compliance.MappingQuality{High: 3, Unmapped: 1})
	if !strings.Contains(got, "\"High confidence\" : 3") || !strings.Contains(got, "\"Unmapped\" : 1") {
		t.Errorf("pie = %s", got)
	}
	if strings.Contains(got, "Medium") {
		t.Errorf("empty buckets should be omitted: %s", got)
	}
	if GenerateMappingQualityPie(compliance.MappingQuality{}) != "" {
		t.Error("no mappings should render nothing")
	}
}

func TestGenerateCumulativeChart(t *testing.T) {
	totals := []store.CumulativeKPI{
		{KPIID: "ghg_scope2", DisplayName: "Scope 2", CumulativeValue: 10, Unit: "tco2e"},
		{KPIID: "ghg_scope1", DisplayName: "Scope 1", CumulativeValue: 40, Unit: "tco2e"},
		{KPIID: "water_withdrawal", DisplayName: "Water", CumulativeValue: 900, Unit: "m3"},
		{KPIID: "ghg_scope3", DisplayName: "Scope 3", CumulativeValue: 0, Unit: "tco2e"},
	}
	got := GenerateCumulativeChart(totals, "tco2e")

	tests := []struct {
		want string
	}{
		{"x-axis [\"Scope 1\", \"Scope 2\"]"},
		{"bar [40.00, 10.00]"},
		{"y-axis \"tco2e\" 0 -->"},
	}
	for _, tt := range tests {
		if !strings.Contains(got, tt.want) {
			t.Errorf("chart missing %q:\n%s", tt.want, got)
		}
	}
	if GenerateCumulativeChart(totals, "mwh") != "" {
		t.Error("unit with no totals should render nothing")
	}
}

func TestGenerateConfidenceChart(t *testing.T) {
	got := GenerateConfidenceChart([]store.MappingResult{
		{RawLabel: "Scope \"1\"", Confidence: 0.91},
		{RawLabel: "Plants", Confidence: 0},
	}, 0.6)
	if !strings.Contains(got, "x-axis [\"Scope '1'\", \"Plants\"]") {
		t.Errorf("labels not escaped:\n%s", got)
	}
	if !strings.Contains(got, "line [0.60, 0.60]") {
		t.Errorf("threshold line missing:\n%s", got)
	}
}
