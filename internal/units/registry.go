package units

import (
	"cmp"
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed units.yaml
var defaultCatalogue []byte

// Category groups units that measure the same dimension. Every category designates one base unit.
type Category struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	BaseUnit string `yaml:"base" json:"base_unit"`
}

// Unit is a single measurement unit. ToBase is nil when the unit can only be reached through
// explicit conversion rules (offset scales, currencies without a fixed rate).
type Unit struct {
	ID         string   `yaml:"id" json:"id"`
	Category   string   `yaml:"category" json:"category"`
	IsBaseUnit bool     `yaml:"base" json:"is_base_unit"`
	ToBase     *float64 `yaml:"to_base" json:"conversion_to_base,omitempty"`
	Aliases    []string `yaml:"aliases" json:"aliases,omitempty"`
}

// ConversionRule is a direct conversion: to = from*Factor + Offset.
type ConversionRule struct {
	From   string   `yaml:"from" json:"from"`
	To     string   `yaml:"to" json:"to"`
	Factor float64  `yaml:"factor" json:"factor"`
	Offset *float64 `yaml:"offset" json:"offset,omitempty"`
}

type catalogue struct {
	Categories []Category       `yaml:"categories"`
	Units      []Unit           `yaml:"units"`
	Rules      []ConversionRule `yaml:"rules"`
}

type ruleKey struct{ from, to string }

// Registry is the immutable unit graph. It is safe for concurrent use.
type Registry struct {
	categories map[string]Category
	units      map[string]Unit
	aliases    map[string]string
	rules      map[ruleKey]ConversionRule
}

// LoadDefault builds a registry from the embedded catalogue.
func LoadDefault() (*Registry, error) {
	return Load(defaultCatalogue)
}

// Load builds a registry from a YAML catalogue.
func Load(data []byte) (*Registry, error) {
	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse unit catalogue: %w", err)
	}
	return NewRegistry(c.Categories, c.Units, c.Rules)
}

// NewRegistry validates and indexes categories, units and rules. For every rule whose inverse is
// not declared explicitly, the inverse rule is registered as well.
func NewRegistry(categories []Category, units []Unit, rules []ConversionRule) (*Registry, error) {
	r := &Registry{
		categories: make(map[string]Category, len(categories)),
		units:      make(map[string]Unit, len(units)),
		aliases:    make(map[string]string),
		rules:      make(map[ruleKey]ConversionRule),
	}

	for _, c := range categories {
		if c.ID == "" {
			return nil, fmt.Errorf("unit category without id")
		}
		if _, dup := r.categories[c.ID]; dup {
			return nil, fmt.Errorf("duplicate unit category %q", c.ID)
		}
		r.categories[c.ID] = c
	}

	for _, u := range units {
		if _, ok := r.categories[u.Category]; !ok {
			return nil, fmt.Errorf("unit %q references unknown category %q", u.ID, u.Category)
		}
		if _, dup := r.units[u.ID]; dup {
			return nil, fmt.Errorf("duplicate unit %q", u.ID)
		}
		if u.IsBaseUnit {
			one := 1.0
			u.ToBase = &one
		}
		if u.ToBase != nil && *u.ToBase <= 0 {
			return nil, fmt.Errorf("unit %q has non-positive base factor", u.ID)
		}
		r.units[u.ID] = u

		for _, name := range append([]string{u.ID}, u.Aliases...) {
			key := normKey(name)
			if owner, taken := r.aliases[key]; taken && owner != u.ID {
				return nil, fmt.Errorf("alias %q claimed by both %q and %q", name, owner, u.ID)
			}
			r.aliases[key] = u.ID
		}
	}

	for _, c := range r.categories {
		base, ok := r.units[c.BaseUnit]
		if !ok || !base.IsBaseUnit || base.Category != c.ID {
			return nil, fmt.Errorf("category %q base unit %q is not a base unit of that category", c.ID, c.BaseUnit)
		}
	}

	for _, rule := range rules {
		if _, ok := r.units[rule.From]; !ok {
			return nil, fmt.Errorf("rule references unknown unit %q", rule.From)
		}
		if _, ok := r.units[rule.To]; !ok {
			return nil, fmt.Errorf("rule references unknown unit %q", rule.To)
		}
		if rule.Factor == 0 {
			return nil, fmt.Errorf("rule %s->%s has zero factor", rule.From, rule.To)
		}
		r.rules[ruleKey{rule.From, rule.To}] = rule
	}

	// Inverses only where nothing explicit exists.
	for _, rule := range rules {
		inv := ruleKey{rule.To, rule.From}
		if _, ok := r.rules[inv]; ok {
			continue
		}
		var offset *float64
		if rule.Offset != nil {
			o := -*rule.Offset / rule.Factor
			offset = &o
		}
		r.rules[inv] = ConversionRule{From: rule.To, To: rule.From, Factor: 1 / rule.Factor, Offset: offset}
	}

	return r, nil
}

// Lookup resolves a unit by id or alias, ignoring case, whitespace, hyphens and underscores.
func (r *Registry) Lookup(name string) (Unit, bool) {
	id, ok := r.aliases[normKey(name)]
	if !ok {
		return Unit{}, false
	}
	return r.units[id], true
}

// Canonical returns the canonical unit id for name, or the normalized spelling when the unit is
// not registered.
func (r *Registry) Canonical(name string) string {
	if u, ok := r.Lookup(name); ok {
		return u.ID
	}
	return normKey(name)
}

// Category returns the category a unit belongs to.
func (r *Registry) Category(name string) (Category, bool) {
	u, ok := r.Lookup(name)
	if !ok {
		return Category{}, false
	}
	c, ok := r.categories[u.Category]
	return c, ok
}

// Categories returns all registered categories.
func (r *Registry) Categories() []Category {
	out := make([]Category, 0, len(r.categories))
	for _, c := range r.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Category) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func normKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("₂", "2", "³", "3", "²", "2", " ", "", "-", "", "_", "").Replace(s)
	return s
}
