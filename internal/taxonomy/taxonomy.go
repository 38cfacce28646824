package taxonomy

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed kpis.yaml
var defaultCatalogue []byte

// Category is the ESG pillar a KPI belongs to.
type Category string

const (
	Environment Category = "Environment"
	Social      Category = "Social"
	Governance  Category = "Governance"
	Financial   Category = "Financial"
	Unknown     Category = ""
)

// Categories lists the pillars in reporting order.
var Categories = []Category{Environment, Social, Governance, Financial}

// ParseCategory maps a case-insensitive pillar name to a Category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return Unknown, false
}

// KPIDefinition is one canonical entry of the taxonomy.
type KPIDefinition struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Category      Category `yaml:"category" json:"category"`
	CanonicalUnit string   `yaml:"unit" json:"canonical_unit"`
	Aliases       []string `yaml:"aliases" json:"aliases,omitempty"`
	Keywords      []string `yaml:"keywords" json:"keywords,omitempty"`
	Description   string   `yaml:"description" json:"description,omitempty"`
	// ExpectedMax is the plausible upper bound of a disclosed value; zero means unbounded.
	ExpectedMax float64 `yaml:"expected_max" json:"expected_max,omitempty"`
	Deprecated  bool    `yaml:"deprecated" json:"deprecated,omitempty"`
}

// Active reports whether the KPI may receive new contributions.
func (d KPIDefinition) Active() bool {
	return !d.Deprecated
}

// IsProportion reports whether values of this KPI are fractions bounded to [0,1].
func (d KPIDefinition) IsProportion() bool {
	return FamilyOf(d.CanonicalUnit) == FamilyRatio
}

// EmbeddingText is the description embedded for the KPI's index vector.
func (d KPIDefinition) EmbeddingText() string {
	var sb strings.Builder
	sb.WriteString(d.Name)
	sb.WriteString(". Category: ")
	sb.WriteString(string(d.Category))
	sb.WriteString(". Unit: ")
	sb.WriteString(d.CanonicalUnit)
	if len(d.Aliases) > 0 {
		sb.WriteString(". Also known as: ")
		sb.WriteString(strings.Join(d.Aliases, ", "))
	}
	if len(d.Keywords) > 0 {
		sb.WriteString(". Keywords: ")
		sb.WriteString(strings.Join(d.Keywords, ", "))
	}
	if d.Description != "" {
		sb.WriteString(". ")
		sb.WriteString(d.Description)
	}
	return sb.String()
}

// Taxonomy is the immutable catalogue of canonical KPIs. Build it once at startup and share it.
type Taxonomy struct {
	defs  []KPIDefinition
	byID  map[string]int
	names map[string]int
}

type catalogue struct {
	KPIs []KPIDefinition `yaml:"kpis"`
}

// LoadDefault builds the taxonomy from the embedded catalogue.
func LoadDefault() (*Taxonomy, error) {
	return Load(defaultCatalogue)
}

// Load parses a YAML catalogue.
func Load(data []byte) (*Taxonomy, error) {
	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse kpi catalogue: %w", err)
	}
	return New(c.KPIs)
}

// New validates the definitions and indexes them by id, name and alias.
func New(defs []KPIDefinition) (*Taxonomy, error) {
	t := &Taxonomy{
		defs:  make([]KPIDefinition, 0, len(defs)),
		byID:  make(map[string]int, len(defs)),
		names: make(map[string]int),
	}

	for _, d := range defs {
		if d.ID == "" || d.Name == "" {
			return nil, fmt.Errorf("kpi definition requires id and name (got id=%q name=%q)", d.ID, d.Name)
		}
		if _, ok := ParseCategory(string(d.Category)); !ok {
			return nil, fmt.Errorf("kpi %q has unknown category %q", d.ID, d.Category)
		}
		if _, dup := t.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate kpi id %q", d.ID)
		}

		idx := len(t.defs)
		t.defs = append(t.defs, d)
		t.byID[d.ID] = idx

		for _, n := range append([]string{d.ID, d.Name}, d.Aliases...) {
			key := foldName(n)
			if owner, taken := t.names[key]; taken && owner != idx {
				return nil, fmt.Errorf("name %q is used by both %q and %q", n, t.defs[owner].ID, d.ID)
			}
			t.names[key] = idx
		}
	}

	return t, nil
}

// All returns every definition in catalogue order.
func (t *Taxonomy) All() []KPIDefinition {
	out := make([]KPIDefinition, len(t.defs))
	copy(out, t.defs)
	return out
}

// Len returns the number of definitions.
func (t *Taxonomy) Len() int {
	return len(t.defs)
}

// Get returns the definition with the given id.
func (t *Taxonomy) Get(id string) (KPIDefinition, bool) {
	idx, ok := t.byID[id]
	if !ok {
		return KPIDefinition{}, false
	}
	return t.defs[idx], true
}

// Resolve finds a definition by id, display name or alias.
func (t *Taxonomy) Resolve(name string) (KPIDefinition, bool) {
	idx, ok := t.names[foldName(name)]
	if !ok {
		return KPIDefinition{}, false
	}
	return t.defs[idx], true
}

// Names returns the display names in catalogue order.
func (t *Taxonomy) Names() []string {
	out := make([]string, len(t.defs))
	for i, d := range t.defs {
		out[i] = d.Name
	}
	return out
}

func foldName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
