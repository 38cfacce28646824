package engine

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"esg-mcp/internal/stats"
)

// Scenarios supported by Generate.
const (
	ScenarioClean     = "clean"
	ScenarioMessy     = "messy"
	ScenarioDuplicate = "duplicate"
)

// GeneratorConfig controls a synthetic disclosure.
type GeneratorConfig struct {
	Scenario     string
	Distribution string // "uniform" or "weibull"
	Count        int    // records per metric
	Period       string
	Seed         int64
}

// Header is the column layout written by Save.
var Header = []string{"kpi", "value", "unit", "period", "row"}

type unitOption struct {
	name   string
	factor float64 // multiplier from the metric's first unit
}

type metric struct {
	kpi    string
	labels []string // labels[0] is the clean label
	units  []unitOption
	min    float64
	max    float64
}

// Catalogue of generated metrics. Values are per record in the first unit.
var metrics = []metric{
	{"ghg_scope1", []string{"Scope 1 GHG Emissions", "scope1 emissions", "Direct GHG (Scope 1)", "S1 CO2e"},
		[]unitOption{{"tCO2e", 1}, {"kg CO2e", 1000}}, 50, 400},
	{"ghg_scope2", []string{"Scope 2 GHG Emissions", "Scope 2 - location based", "Indirect emissions purchased electricity"},
		[]unitOption{{"tCO2e", 1}, {"kg CO2e", 1000}}, 20, 300},
	{"energy_consumption", []string{"Total Energy Consumption", "energy use", "Energy consumed (total)"},
		[]unitOption{{"MWh", 1}, {"GJ", 3.6}, {"kWh", 1000}}, 100, 2000},
	{"water_withdrawal", []string{"Total Water Withdrawal", "water withdrawn", "Water intake"},
		[]unitOption{{"m3", 1}, {"megalitres", 0.001}}, 500, 20000},
	{"waste_generated", []string{"Total Waste Generated", "waste", "Waste produced (all streams)"},
		[]unitOption{{"t", 1}, {"kg", 1000}}, 5, 120},
	{"employee_count", []string{"Total Number Of Employees", "headcount", "No. of employees"},
		[]unitOption{{"employees", 1}}, 40, 900},
	{"recordable_injuries", []string{"Recordable Work-Related Injuries", "TRI", "recordable incidents"},
		[]unitOption{{"cases", 1}}, 0, 6},
	{"training_hours", []string{"Total Training Hours", "training hrs", "Hours of training delivered"},
		[]unitOption{{"hours", 1}}, 200, 5000},
	{"board_independence", []string{"Board Independence", "independent directors %", "Share of independent board members"},
		[]unitOption{{"%", 100}, {"ratio", 1}}, 0.4, 0.8},
}

// Generate produces disclosure rows for cfg.Scenario. The same config always yields the same
// rows.
func Generate(cfg GeneratorConfig) [][]string {
	if cfg.Count <= 0 {
		cfg.Count = 5
	}
	if cfg.Period == "" {
		cfg.Period = "2024"
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var rows [][]string
	ref := 0
	for _, m := range metrics {
		for i := 0; i < cfg.Count; i++ {
			ref++
			v := sample(rng, cfg.Distribution, m.min, m.max)
			label, u := m.labels[0], m.units[0]

			if cfg.Scenario == ScenarioMessy {
				label = m.labels[rng.Intn(len(m.labels))]
				u = m.units[rng.Intn(len(m.units))]
			}

			value := formatValue(v*u.factor, m.kpi)
			unit := u.name
			if cfg.Scenario == ScenarioMessy {
				value, unit, label = roughen(rng, value, unit, label)
			}

			row := []string{label, value, unit, cfg.Period, fmt.Sprintf("R%04d", ref)}
			rows = append(rows, row)

			// Verbatim copies, as produced by merging two exports.
			if cfg.Scenario == ScenarioDuplicate && i%2 == 0 {
				dup := append([]string(nil), row...)
				rows = append(rows, dup)
			}
		}
	}
	return rows
}

func sample(rng *rand.Rand, dist string, lo, hi float64) float64 {
	if dist == "weibull" {
		// Scale so most samples land in range while keeping a long right tail.
		return lo + weibullSample(rng, 1.5, (hi-lo)/2)
	}
	return lo + rng.Float64()*(hi-lo)
}

func weibullSample(rng *rand.Rand, k, lambda float64) float64 {
	u := rng.Float64()
	if u == 0 {
		u = 0.0001
	}
	// X = lambda * (-ln(1-u))^(1/k)
	return lambda * math.Pow(-math.Log(1.0-u), 1.0/k)
}

func formatValue(v float64, kpi string) string {
	switch kpi {
	case "employee_count", "recordable_injuries":
		return strconv.Itoa(int(math.Round(v)))
	}
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// roughen applies the defects seen in hand-maintained spreadsheets.
func roughen(rng *rand.Rand, value, unit, label string) (string, string, string) {
	switch r := rng.Float64(); {
	case r < 0.05:
		value = "n/a"
	case r < 0.10:
		unit = ""
	case r < 0.20:
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 1000 {
			value = addThousands(f)
		}
	}
	if rng.Float64() < 0.3 {
		label = strings.ToUpper(label)
	}
	return value, unit, "  " + label + " "
}

func addThousands(f float64) string {
	s := strconv.FormatFloat(math.Round(f), 'f', 0, 64)
	var sb strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// Table wraps generated rows in the ingestion table layout.
func Table(rows [][]string) stats.Table {
	t := stats.Table{Columns: append([]string(nil), Header...)}
	for _, r := range rows {
		m := make(map[string]string, len(Header))
		for i, col := range Header {
			m[col] = r[i]
		}
		t.Rows = append(t.Rows, m)
	}
	return t
}

// Save writes rows as <outDir>/<name>.csv and returns the path.
func Save(outDir string, name string, rows [][]string) (string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(outDir, fmt.Sprintf("%s.csv", name))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return path, nil
}
