package engine

import (
	"os"
	"strings"
	"testing"

	"esg-mcp/internal/stats"
)

func TestGenerate_Deterministic(t *testing.T) {
	cfg := GeneratorConfig{Scenario: ScenarioMessy, Distribution: "weibull", Count: 4, Seed: 7}
	a := Generate(cfg)
	b := Generate(cfg)
	if len(a) != len(b) {
		t.Fatalf("len = %d and %d, want equal", len(a), len(b))
	}
	for i := range a {
		if strings.Join(a[i], "|") != strings.Join(b[i], "|") {
			t.Fatalf("row %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestGenerate_Scenarios(t *testing.T) {
	tests := []struct {
		scenario string
		wantRows int
	}{
		{ScenarioClean, 3 * len(metrics)},
		{ScenarioMessy, 3 * len(metrics)},
		// Records 0 and 2 of every metric are doubled.
		{ScenarioDuplicate, 5 * len(metrics)},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			rows := Generate(GeneratorConfig{Scenario: tt.scenario, Count: 3, Period: "2023"})
			if len(rows) != tt.wantRows {
				t.Errorf("len(rows) = %d, want %d", len(rows), tt.wantRows)
			}
			for _, r := range rows {
				if len(r) != len(Header) {
					t.Fatalf("row width = %d, want %d", len(r), len(Header))
				}
				if r[3] != "2023" {
					t.Errorf("period = %q, want 2023", r[3])
				}
			}
		})
	}
}

func TestGenerate_CleanGroupsByKPI(t *testing.T) {
	rows := Generate(GeneratorConfig{Scenario: ScenarioClean, Count: 2, Seed: 3})
	res, err := stats.Group(Table(rows), stats.DefaultColumnMapping())
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if len(res.Groups) != len(metrics) {
		t.Errorf("len(Groups) = %d, want %d", len(res.Groups), len(metrics))
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	rows := Generate(GeneratorConfig{Scenario: ScenarioClean, Count: 1})
	path, err := Save(dir, "esg_clean", rows)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "kpi,value,unit,period,row" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) != len(rows)+1 {
		t.Errorf("lines = %d, want %d", len(lines), len(rows)+1)
	}
}

func TestAddThousands(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1000, "1,000"},
		{1234567.4, "1,234,567"},
		{999, "999"},
	}
	for _, tt := range tests {
		if got := addThousands(tt.in); got != tt.want {
			t.Errorf("addThousands(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
