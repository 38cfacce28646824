package compliance

import (
	_ "embed"
	"fmt"
	"strings"

	"esg-mcp/internal/taxonomy"

	"gopkg.in/yaml.v3"
)

//go:embed frameworks.yaml
var defaultFrameworks []byte

// Level is how strongly a framework requires a KPI.
type Level string

const (
	LevelCritical  Level = "critical"
	LevelImportant Level = "important"
	LevelOptional  Level = "optional"
)

// Weight returns the scoring weight of the level.
func (l Level) Weight() float64 {
	switch l {
	case LevelCritical:
		return 3
	case LevelImportant:
		return 2
	case LevelOptional:
		return 1
	}
	return 0
}

// Severity is how a missing KPI is reported.
func (l Level) Severity() Severity {
	switch l {
	case LevelCritical:
		return SeverityCritical
	case LevelImportant:
		return SeverityWarning
	}
	return SeverityInfo
}

// Requirement is one required KPI of a framework.
type Requirement struct {
	KPIID     string `yaml:"kpi" json:"kpi_id"`
	Level     Level  `yaml:"level" json:"level"`
	Reference string `yaml:"reference" json:"reference,omitempty"`
}

// Framework is a named regulatory disclosure standard.
type Framework struct {
	ID           string        `yaml:"id" json:"id"`
	Name         string        `yaml:"name" json:"name"`
	Description  string        `yaml:"description" json:"description,omitempty"`
	Requirements []Requirement `yaml:"requirements" json:"requirements"`
}

// Count returns the number of requirements at the given level.
func (f Framework) Count(level Level) int {
	n := 0
	for _, r := range f.Requirements {
		if r.Level == level {
			n++
		}
	}
	return n
}

// Frameworks is the immutable set of known frameworks.
type Frameworks struct {
	list []Framework
	byID map[string]int
}

type frameworkFile struct {
	Frameworks []Framework `yaml:"frameworks"`
}

// LoadDefault parses the embedded framework tables and checks them against tax.
func LoadDefault(tax *taxonomy.Taxonomy) (*Frameworks, error) {
	return Load(defaultFrameworks, tax)
}

// Load parses framework tables. Every required KPI must exist in tax.
func Load(data []byte, tax *taxonomy.Taxonomy) (*Frameworks, error) {
	var f frameworkFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse frameworks: %w", err)
	}
	return NewFrameworks(f.Frameworks, tax)
}

// NewFrameworks validates and indexes frameworks.
func NewFrameworks(list []Framework, tax *taxonomy.Taxonomy) (*Frameworks, error) {
	fw := &Frameworks{byID: make(map[string]int, len(list))}
	for _, f := range list {
		key := strings.ToUpper(strings.TrimSpace(f.ID))
		if key == "" {
			return nil, fmt.Errorf("framework %q has no id", f.Name)
		}
		if _, dup := fw.byID[key]; dup {
			return nil, fmt.Errorf("duplicate framework %q", f.ID)
		}

		seen := make(map[string]bool, len(f.Requirements))
		for _, r := range f.Requirements {
			if r.Level.Weight() == 0 {
				return nil, fmt.Errorf("framework %s: kpi %q has unknown level %q", f.ID, r.KPIID, r.Level)
			}
			if _, ok := tax.Get(r.KPIID); !ok {
				return nil, fmt.Errorf("framework %s: unknown kpi %q", f.ID, r.KPIID)
			}
			if seen[r.KPIID] {
				return nil, fmt.Errorf("framework %s: kpi %q listed twice", f.ID, r.KPIID)
			}
			seen[r.KPIID] = true
		}

		fw.byID[key] = len(fw.list)
		fw.list = append(fw.list, f)
	}
	return fw, nil
}

// Get returns a framework by case-insensitive id.
func (fw *Frameworks) Get(id string) (Framework, bool) {
	idx, ok := fw.byID[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return Framework{}, false
	}
	return fw.list[idx], true
}

// List returns all frameworks in file order.
func (fw *Frameworks) List() []Framework {
	out := make([]Framework, len(fw.list))
	copy(out, fw.list)
	return out
}

// IDs returns the framework ids in file order.
func (fw *Frameworks) IDs() []string {
	out := make([]string, len(fw.list))
	for i, f := range fw.list {
		out[i] = f.ID
	}
	return out
}
