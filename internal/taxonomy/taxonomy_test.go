package taxonomy

import "testing"

func TestLoadDefault(t *testing.T) {
	tax, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if tax.Len() < 20 {
		t.Fatalf("expected a populated catalogue, got %d entries", tax.Len())
	}

	seen := make(map[Category]int)
	for _, d := range tax.All() {
		seen[d.Category]++
		if d.CanonicalUnit == "" {
			t.Errorf("kpi %q has no canonical unit", d.ID)
		}
	}
	for _, c := range Categories {
		if seen[c] == 0 {
			t.Errorf("no KPIs in category %s", c)
		}
	}
}

func TestResolve(t *testing.T) {
	tax, err := LoadDefault()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want string
	}{
		{"ghg_scope1", "ghg_scope1"},
		{"Scope 1 GHG Emissions", "ghg_scope1"},
		{"  HEADCOUNT ", "employee_count"},
		{"recycling   rate", "waste_recycled_share"},
	}
	for _, tt := range tests {
		got, ok := tax.Resolve(tt.name)
		if !ok || got.ID != tt.want {
			t.Errorf("Resolve(%q) = %q (found=%v), want %q", tt.name, got.ID, ok, tt.want)
		}
	}

	if _, ok := tax.Resolve("unicorn density"); ok {
		t.Error("Resolve matched an unknown name")
	}
}

func TestDeprecatedKPIIsInactive(t *testing.T) {
	tax, err := LoadDefault()
	if err != nil {
		t.Fatal(err)
	}
	d, ok := tax.Get("legacy_ozone_depleting")
	if !ok {
		t.Fatal("expected legacy KPI in catalogue")
	}
	if d.Active() {
		t.Error("deprecated KPI reported as active")
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	defs := []KPIDefinition{
		{ID: "a", Name: "Alpha", Category: Environment, CanonicalUnit: "t"},
		{ID: "b", Name: "Beta", Category: Social, CanonicalUnit: "count", Aliases: []string{"alpha"}},
	}
	if _, err := New(defs); err == nil {
		t.Fatal("expected error for alias colliding with another KPI's name")
	}

	defs = []KPIDefinition{{ID: "a", Name: "Alpha", Category: "Weather", CanonicalUnit: "t"}}
	if _, err := New(defs); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestEstimateCategory(t *testing.T) {
	tests := []struct {
		label, unit string
		want        Category
	}{
		{"CO2_emissions_scope1", "kg", Environment},
		{"Electricity use", "MWh", Environment},
		{"Female employees", "%", Social},
		{"Lost time injuries", "count", Social},
		{"Independent board directors", "%", Governance},
		{"Net revenue", "USD", Financial},
		{"Misc value", "EUR", Financial},
		{"Misc value", "widgets", Unknown},
	}
	for _, tt := range tests {
		if got := EstimateCategory(tt.label, tt.unit); got != tt.want {
			t.Errorf("EstimateCategory(%q, %q) = %q, want %q", tt.label, tt.unit, got, tt.want)
		}
	}
}

func TestUnitsEquivalent(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"t-co2", "kg-co2", true},
		{"tCO2e", "CO2", true},
		{"kWh", "MWh", true},
		{"m³", "litres", true},
		{"%", "ratio", true},
		{"kg", "kWh", false},
		{"widgets", "widgets", true},
		{"widgets", "gadgets", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := UnitsEquivalent(tt.a, tt.b); got != tt.want {
			t.Errorf("UnitsEquivalent(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
