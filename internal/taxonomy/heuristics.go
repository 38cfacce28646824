package taxonomy

import (
	"strings"
	"unicode"
)

// categoryRule ties a pillar to the label keywords that suggest it.
type categoryRule struct {
	category Category
	keywords []string
}

// categoryRules is evaluated as a whole; the pillar with the most keyword hits wins and ties
// resolve in table order.
var categoryRules = []categoryRule{
	{Environment, []string{
		"emission", "emissions", "ghg", "co2", "co2e", "carbon", "scope", "energy", "electricity",
		"fuel", "renewable", "solar", "wind", "water", "waste", "recycl", "landfill", "hazardous",
		"pollut", "nox", "sox", "biodiversity", "land", "climate", "methane", "ozone",
	}},
	{Social, []string{
		"employee", "employees", "staff", "headcount", "workforce", "fte", "gender", "female",
		"women", "diversity", "injury", "injuries", "safety", "fatalit", "accident", "training",
		"turnover", "attrition", "pay", "wage", "community", "human rights", "health",
	}},
	{Governance, []string{
		"board", "director", "independen", "corruption", "bribery", "ethic", "compliance",
		"whistleblow", "breach", "privacy", "lobby", "political", "audit", "governance",
		"shareholder", "grievance",
	}},
	{Financial, []string{
		"revenue", "sales", "income", "capex", "opex", "expenditure", "profit", "ebitda",
		"cost", "price", "asset", "investment", "usd", "eur", "financial",
	}},
}

// unitCategoryHints maps a unit family to the pillar it implies when the label is ambiguous.
var unitCategoryHints = map[UnitFamily]Category{
	FamilyEmissions: Environment,
	FamilyEnergy:    Environment,
	FamilyVolume:    Environment,
	FamilyArea:      Environment,
	FamilyCurrency:  Financial,
}

// EstimateCategory guesses the ESG pillar of a raw label from keyword hits, using the unit
// family as an extra vote. It returns Unknown when nothing matches.
func EstimateCategory(label, unit string) Category {
	text := " " + strings.Join(tokens(label), " ") + " "

	best := Unknown
	bestScore := 0
	for _, rule := range categoryRules {
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(text, " "+kw) {
				score++
			}
		}
		if hint, ok := unitCategoryHints[FamilyOf(unit)]; ok && hint == rule.category {
			score++
		}
		if score > bestScore {
			best = rule.category
			bestScore = score
		}
	}
	return best
}

// UnitFamily is a coarse dimension used for unit-compatibility scoring.
type UnitFamily string

const (
	FamilyEmissions UnitFamily = "emissions"
	FamilyEnergy    UnitFamily = "energy"
	FamilyMass      UnitFamily = "mass"
	FamilyVolume    UnitFamily = "volume"
	FamilyArea      UnitFamily = "area"
	FamilyDistance  UnitFamily = "distance"
	FamilyRatio     UnitFamily = "ratio"
	FamilyCount     UnitFamily = "count"
	FamilyTime      UnitFamily = "time"
	FamilyCurrency  UnitFamily = "currency"
	FamilyIntensity UnitFamily = "intensity"
	FamilyUnknown   UnitFamily = ""
)

// unitFamilies is keyed by NormalizeUnit output.
var unitFamilies = map[string]UnitFamily{
	"tco2e": FamilyEmissions, "tco2": FamilyEmissions, "kgco2e": FamilyEmissions, "kgco2": FamilyEmissions,
	"co2": FamilyEmissions, "co2e": FamilyEmissions, "gco2e": FamilyEmissions, "ktco2e": FamilyEmissions,
	"mtco2e": FamilyEmissions, "tonnesco2e": FamilyEmissions, "tonnesco2": FamilyEmissions, "tco2eq": FamilyEmissions,

	"wh": FamilyEnergy, "kwh": FamilyEnergy, "mwh": FamilyEnergy, "gwh": FamilyEnergy, "mj": FamilyEnergy,
	"gj": FamilyEnergy, "tj": FamilyEnergy, "mmbtu": FamilyEnergy, "btu": FamilyEnergy, "therm": FamilyEnergy,

	"g": FamilyMass, "kg": FamilyMass, "t": FamilyMass, "tonne": FamilyMass, "tonnes": FamilyMass,
	"ton": FamilyMass, "tons": FamilyMass, "kt": FamilyMass, "lb": FamilyMass, "lbs": FamilyMass,

	"m3": FamilyVolume, "l": FamilyVolume, "litres": FamilyVolume, "liters": FamilyVolume, "ml": FamilyVolume,
	"kl": FamilyVolume, "megalitre": FamilyVolume, "megaliter": FamilyVolume, "gal": FamilyVolume, "gallons": FamilyVolume,

	"m2": FamilyArea, "ha": FamilyArea, "hectares": FamilyArea, "km2": FamilyArea, "ft2": FamilyArea, "acre": FamilyArea,

	"m": FamilyDistance, "km": FamilyDistance, "mi": FamilyDistance, "miles": FamilyDistance,

	"%": FamilyRatio, "percent": FamilyRatio, "pct": FamilyRatio, "ratio": FamilyRatio, "rate": FamilyRatio,
	"fraction": FamilyRatio, "bps": FamilyRatio, "ppm": FamilyRatio,

	"count": FamilyCount, "number": FamilyCount, "#": FamilyCount, "people": FamilyCount, "persons": FamilyCount,
	"employees": FamilyCount, "headcount": FamilyCount, "fte": FamilyCount, "cases": FamilyCount, "incidents": FamilyCount,

	"h": FamilyTime, "hours": FamilyTime, "hrs": FamilyTime, "days": FamilyTime, "day": FamilyTime, "year": FamilyTime,

	"usd": FamilyCurrency, "$": FamilyCurrency, "eur": FamilyCurrency, "€": FamilyCurrency, "gbp": FamilyCurrency,
	"£": FamilyCurrency, "musd": FamilyCurrency, "meur": FamilyCurrency,

	"tco2e/musd": FamilyIntensity, "tco2/musd": FamilyIntensity, "kgco2e/usd": FamilyIntensity, "tco2e/meur": FamilyIntensity,
}

// NormalizeUnit folds a unit string for table lookups: lower case, subscript digits replaced,
// spaces, hyphens, underscores and dots removed.
func NormalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	return strings.NewReplacer("₂", "2", "³", "3", "²", "2", " ", "", "-", "", "_", "", ".", "").Replace(u)
}

// FamilyOf returns the unit family of a unit, or FamilyUnknown.
func FamilyOf(unit string) UnitFamily {
	return unitFamilies[NormalizeUnit(unit)]
}

// UnitsEquivalent reports whether two units measure the same thing (t-co2 ≈ kg-co2 ≈ co2).
func UnitsEquivalent(a, b string) bool {
	na, nb := NormalizeUnit(a), NormalizeUnit(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	fa, fb := unitFamilies[na], unitFamilies[nb]
	return fa != FamilyUnknown && fa == fb
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
