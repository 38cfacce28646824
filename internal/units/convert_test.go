package units

import (
	"errors"
	"math"
	"testing"
)

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	return r
}

func TestConvert_KilogramsToTonnes(t *testing.T) {
	r := mustDefault(t)

	res := r.Convert(1500, "kg", "t")
	if !res.IsValid {
		t.Fatalf("expected valid conversion, got reason %s (%s)", res.Reason, res.Message)
	}
	if math.Abs(res.Value-1.5) > 1e-12 {
		t.Errorf("Value = %v, want 1.5", res.Value)
	}
	if math.Abs(res.Factor-0.001) > 1e-15 {
		t.Errorf("Factor = %v, want 0.001", res.Factor)
	}
	if res.Reason != ReasonDirectRule {
		t.Errorf("Reason = %s, want %s", res.Reason, ReasonDirectRule)
	}
}

func TestConvert_Identical(t *testing.T) {
	r := mustDefault(t)

	for _, pair := range [][2]string{{"kg", "kg"}, {"widgets", "Widgets"}, {"tonnes", "t"}} {
		res := r.Convert(42, pair[0], pair[1])
		if !res.IsValid || res.Value != 42 || res.Factor != 1 {
			t.Errorf("Convert(42, %q, %q) = %+v, want unchanged value with factor 1", pair[0], pair[1], res)
		}
	}
}

func TestConvert_ViaBase(t *testing.T) {
	r := mustDefault(t)

	res := r.Convert(2, "gwh", "mj")
	if !res.IsValid || res.Reason != ReasonViaBase {
		t.Fatalf("expected via_base conversion, got %+v", res)
	}
	// 2 GWh = 2,000,000 kWh = 7,200,000 MJ
	if math.Abs(res.Value-7_200_000) > 1e-3 {
		t.Errorf("Value = %v, want 7200000", res.Value)
	}
	if len(res.Path) != 3 || res.Path[1] != "kwh" {
		t.Errorf("Path = %v, want hop through kwh", res.Path)
	}
	if res.Formula == "" {
		t.Error("expected a formula describing the hop")
	}
}

func TestConvert_OffsetRule(t *testing.T) {
	r := mustDefault(t)

	res := r.Convert(100, "celsius", "fahrenheit")
	if !res.IsValid || math.Abs(res.Value-212) > 1e-9 {
		t.Fatalf("Convert(100, C, F) = %+v, want 212", res)
	}
	back := r.Convert(res.Value, "F", "C")
	if !back.IsValid || math.Abs(back.Value-100) > 1e-9 {
		t.Errorf("Convert(212, F, C) = %+v, want 100", back)
	}
}

func TestConvert_IncompatiblePairs(t *testing.T) {
	r := mustDefault(t)

	tests := []struct {
		from, to string
		want     Reason
	}{
		{"kg", "kwh", ReasonCategoryMismatch},
		{"f", "k", ReasonNoRule},
		{"usd", "eur", ReasonNoRule},
		{"kg", "furlongs", ReasonUnknownUnit},
		{"bananas", "t", ReasonUnknownUnit},
	}

	for _, tt := range tests {
		res := r.Convert(10, tt.from, tt.to)
		if res.IsValid {
			t.Errorf("Convert(%q, %q) unexpectedly valid", tt.from, tt.to)
			continue
		}
		if res.Reason != tt.want {
			t.Errorf("Convert(%q, %q) reason = %s, want %s", tt.from, tt.to, res.Reason, tt.want)
		}
		if res.Message == "" {
			t.Errorf("Convert(%q, %q) returned an empty reason message", tt.from, tt.to)
		}

		var incompatible *IncompatibleError
		if !errors.As(res.Err(), &incompatible) {
			t.Errorf("Err() for %q->%q is not an *IncompatibleError", tt.from, tt.to)
		}

		compat := r.CheckCompatibility(tt.from, tt.to)
		if compat.Compatible || compat.Reason != tt.want {
			t.Errorf("CheckCompatibility(%q, %q) = %+v, want reason %s", tt.from, tt.to, compat, tt.want)
		}
	}
}

func TestConvert_RoundTripLaw(t *testing.T) {
	r := mustDefault(t)
	values := []float64{0, 1, 1234.5, 0.037, 9.99e6}

	checked := 0
	for _, a := range r.units {
		for _, b := range r.units {
			if !r.CheckCompatibility(a.ID, b.ID).Compatible {
				continue
			}
			for _, v := range values {
				there := r.Convert(v, a.ID, b.ID)
				back := r.Convert(there.Value, b.ID, a.ID)
				if !back.IsValid {
					t.Fatalf("reverse conversion %s->%s invalid: %s", b.ID, a.ID, back.Message)
				}
				tol := 1e-9 * math.Max(1, math.Abs(v))
				if math.Abs(back.Value-v) > tol {
					t.Errorf("round trip %v %s->%s->%s = %v", v, a.ID, b.ID, a.ID, back.Value)
				}
				checked++
			}
		}
	}
	if checked == 0 {
		t.Fatal("no compatible pairs were exercised")
	}
}

func TestLookup_Aliases(t *testing.T) {
	r := mustDefault(t)

	tests := []struct {
		name string
		want string
	}{
		{"Tonnes", "t"},
		{"t-CO2", "tco2e"},
		{"kg CO₂e", "kgco2e"},
		{"m³", "m3"},
		{"%", "percent"},
		{"MWh", "mwh"},
	}
	for _, tt := range tests {
		if got := r.Canonical(tt.name); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestNewRegistry_RejectsConflictingAliases(t *testing.T) {
	cats := []Category{{ID: "mass", Name: "Mass", BaseUnit: "kg"}}
	units := []Unit{
		{ID: "kg", Category: "mass", IsBaseUnit: true, Aliases: []string{"k"}},
		{ID: "g", Category: "mass", ToBase: ptr(0.001), Aliases: []string{"k"}},
	}
	if _, err := NewRegistry(cats, units, nil); err == nil {
		t.Fatal("expected alias conflict error")
	}
}

func ptr(v float64) *float64 { return &v }
