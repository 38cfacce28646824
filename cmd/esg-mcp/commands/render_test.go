package commands

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/store"
	"esg-mcp/internal/taxonomy"
	"esg-mcp/internal/units"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{2.5, "2.5"},
		{1000, "1000"},
		{0.833333333, "0.8333"},
		{-3.14159, "-3.1416"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderTotals(t *testing.T) {
	var buf bytes.Buffer
	renderTotals(&buf, []store.CumulativeKPI{{
		KPIID:               "ghg_scope1",
		DisplayName:         "Scope 1 GHG Emissions",
		CumulativeValue:     12.5,
		Unit:                "tco2e",
		RecordCount:         4,
		ContributingFileIDs: []int64{1, 2},
		LastUpdated:         time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}})
	out := buf.String()
	for _, want := range []string{"Running Totals", "ghg_scope1", "12.5", "tco2e", "2024-03-01 10:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderTotals(&buf, nil)
	if strings.TrimSpace(buf.String()) != "(no totals)" {
		t.Errorf("empty totals = %q", buf.String())
	}
}

func TestRenderCompliance(t *testing.T) {
	var buf bytes.Buffer
	renderCompliance(&buf, &compliance.Result{
		Period:            "2024",
		Standard:          "ISSB",
		Status:            compliance.StatusWarning,
		TotalRequiredKPIs: 2,
		OverallScore:      61.25,
		CategoryScores:    map[taxonomy.Category]float64{taxonomy.Environment: 50},
		MissingKPIs: []compliance.MissingKPI{
			{KPIID: "water_withdrawal", Name: "Total Water Withdrawal", Level: compliance.LevelImportant},
		},
		Recommendations: []string{"Disclose water withdrawal."},
	})
	out := buf.String()
	for _, want := range []string{"ISSB compliance for 2024: WARNING", "1 of 2", "Environment", "50.0", "water_withdrawal", "- Disclose water withdrawal."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderConversion(t *testing.T) {
	var buf bytes.Buffer
	renderConversion(&buf, 2500, units.Result{From: "kgco2e", To: "tco2e", Value: 2.5, IsValid: true})
	if !strings.Contains(buf.String(), "2500 kgco2e = 2.5 tco2e") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	renderConversion(&buf, 1, units.Result{From: "kg", To: "m3", Message: "mass and volume are different categories"})
	if !strings.HasPrefix(buf.String(), "Cannot convert kg to m3") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestEmit_JSON(t *testing.T) {
	var buf bytes.Buffer
	called := false
	err := emit(&buf, "json", map[string]int{"files": 2}, func(_ io.Writer) { called = true })
	if err != nil {
		t.Fatalf("emit() error = %v", err)
	}
	if called {
		t.Error("table renderer should not run for json output")
	}
	if !strings.Contains(buf.String(), "\"files\": 2") {
		t.Errorf("output = %q", buf.String())
	}
}
