package units

import (
	"fmt"
	"math"
	"strconv"
)

// Reason explains how two units relate.
type Reason string

const (
	ReasonIdentical        Reason = "identical"
	ReasonDirectRule       Reason = "direct_rule"
	ReasonViaBase          Reason = "via_base"
	ReasonUnknownUnit      Reason = "unknown_unit"
	ReasonCategoryMismatch Reason = "category_mismatch"
	ReasonNoRule           Reason = "no_rule"
)

// Result is the outcome of a conversion. An unsupported pair yields IsValid=false and a
// human-readable Message instead of an error.
type Result struct {
	Value   float64  `json:"value"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Factor  float64  `json:"factor"`
	Offset  float64  `json:"offset,omitempty"`
	Formula string   `json:"formula,omitempty"`
	Path    []string `json:"path,omitempty"`
	IsValid bool     `json:"is_valid"`
	Reason  Reason   `json:"reason"`
	Message string   `json:"message,omitempty"`
}

// Err returns nil for valid results and an *IncompatibleError otherwise.
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return &IncompatibleError{From: r.From, To: r.To, Reason: r.Reason, Message: r.Message}
}

// IncompatibleError reports that the unit graph has no path between two units.
type IncompatibleError struct {
	From    string
	To      string
	Reason  Reason
	Message string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("cannot convert %q to %q (%s): %s", e.From, e.To, e.Reason, e.Message)
}

// Compatibility is the reachability verdict between two units.
type Compatibility struct {
	Compatible   bool   `json:"compatible"`
	Reason       Reason `json:"reason"`
	Message      string `json:"message,omitempty"`
	FromCategory string `json:"from_category,omitempty"`
	ToCategory   string `json:"to_category,omitempty"`
}

type plan struct {
	compat  Compatibility
	factor  float64
	offset  float64
	path    []string
	fromID  string
	toID    string
	viaBase string
}

// CheckCompatibility reports whether from can be converted into to without converting a value.
// Category mismatches and missing rules are reported with distinct reasons.
func (r *Registry) CheckCompatibility(from, to string) Compatibility {
	return r.plan(from, to).compat
}

// Convert converts value from one unit into another.
func (r *Registry) Convert(value float64, from, to string) Result {
	p := r.plan(from, to)
	res := Result{
		From:    from,
		To:      to,
		IsValid: p.compat.Compatible,
		Reason:  p.compat.Reason,
		Message: p.compat.Message,
	}
	if !p.compat.Compatible {
		return res
	}

	res.Factor = p.factor
	res.Offset = p.offset
	res.Path = p.path
	res.Value = value*p.factor + p.offset

	switch p.compat.Reason {
	case ReasonIdentical:
		res.Formula = fmt.Sprintf("%s %s = %s %s", fmtNum(value), from, fmtNum(res.Value), to)
	case ReasonDirectRule:
		if p.offset != 0 {
			res.Formula = fmt.Sprintf("%s %s × %s + %s = %s %s", fmtNum(value), p.fromID, fmtNum(p.factor), fmtNum(p.offset), fmtNum(res.Value), p.toID)
		} else {
			res.Formula = fmt.Sprintf("%s %s × %s = %s %s", fmtNum(value), p.fromID, fmtNum(p.factor), fmtNum(res.Value), p.toID)
		}
	case ReasonViaBase:
		fromUnit := r.units[p.fromID]
		base := value * *fromUnit.ToBase
		res.Formula = fmt.Sprintf("%s %s → %s %s → %s %s", fmtNum(value), p.fromID, fmtNum(base), p.viaBase, fmtNum(res.Value), p.toID)
	}
	return res
}

func (r *Registry) plan(from, to string) plan {
	if normKey(from) == normKey(to) {
		return plan{compat: Compatibility{Compatible: true, Reason: ReasonIdentical}, factor: 1, path: []string{from}}
	}

	fu, okFrom := r.Lookup(from)
	tu, okTo := r.Lookup(to)
	if !okFrom || !okTo {
		missing := from
		if okFrom {
			missing = to
		}
		return plan{compat: Compatibility{
			Reason:  ReasonUnknownUnit,
			Message: fmt.Sprintf("unit %q is not registered", missing),
		}}
	}

	compat := Compatibility{FromCategory: fu.Category, ToCategory: tu.Category}

	if fu.ID == tu.ID {
		compat.Compatible = true
		compat.Reason = ReasonIdentical
		return plan{compat: compat, factor: 1, path: []string{fu.ID}, fromID: fu.ID, toID: tu.ID}
	}

	if rule, ok := r.rules[ruleKey{fu.ID, tu.ID}]; ok {
		compat.Compatible = true
		compat.Reason = ReasonDirectRule
		p := plan{compat: compat, factor: rule.Factor, path: []string{fu.ID, tu.ID}, fromID: fu.ID, toID: tu.ID}
		if rule.Offset != nil {
			p.offset = *rule.Offset
		}
		return p
	}

	if fu.Category != tu.Category {
		compat.Reason = ReasonCategoryMismatch
		compat.Message = fmt.Sprintf("%s measures %s but %s measures %s", fu.ID, fu.Category, tu.ID, tu.Category)
		return plan{compat: compat}
	}

	if fu.ToBase == nil || tu.ToBase == nil {
		compat.Reason = ReasonNoRule
		compat.Message = fmt.Sprintf("no conversion rule between %s and %s in category %s", fu.ID, tu.ID, fu.Category)
		return plan{compat: compat}
	}

	base := r.categories[fu.Category].BaseUnit
	compat.Compatible = true
	compat.Reason = ReasonViaBase
	return plan{
		compat:  compat,
		factor:  *fu.ToBase / *tu.ToBase,
		path:    []string{fu.ID, base, tu.ID},
		fromID:  fu.ID,
		toID:    tu.ID,
		viaBase: base,
	}
}

func fmtNum(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}
