package compliance

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"esg-mcp/internal/taxonomy"
)

// Status is the overall verdict of a compliance check.
type Status string

const (
	StatusCompliant Status = "compliant"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
)

// Severity grades missing KPIs and data-quality issues.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Quality issue types.
const (
	IssueLowConfidence = "low_confidence"
	IssueFewRecords    = "few_records"
	IssueUnitMismatch  = "unit_mismatch"
)

// Mapping is one resolved (or unresolved) raw label as seen by the scorer. An empty KPIID means
// unmapped.
type Mapping struct {
	RawLabel    string  `json:"raw_label"`
	KPIID       string  `json:"kpi_id,omitempty"`
	Confidence  float64 `json:"confidence"`
	RecordCount int     `json:"record_count"`
	Unit        string  `json:"unit,omitempty"`
}

// Thresholds holds the scoring constants.
type Thresholds struct {
	// Confidence at or above which a mapping satisfies a requirement.
	Resolved float64 `koanf:"resolved" json:"resolved"`
	// Confidence at or above which a mapping is high quality.
	High float64 `koanf:"high" json:"high"`
	// Confidence below which a mapping is an error.
	Error       float64 `koanf:"error" json:"error"`
	MinRecords  int     `koanf:"min_records" json:"min_records"`
	Coverage    float64 `koanf:"coverage" json:"coverage"`
	MappingRate float64 `koanf:"mapping_rate" json:"mapping_rate"`
	// Penalties per quality issue, subtracted from the overall score.
	ErrorPenalty   float64 `koanf:"error_penalty" json:"error_penalty"`
	WarningPenalty float64 `koanf:"warning_penalty" json:"warning_penalty"`
	// CategoryWeights weights category scores in the overall score. Categories without a weight
	// are reported but do not count.
	CategoryWeights map[string]float64 `koanf:"category_weights" json:"category_weights"`
}

// DefaultThresholds returns the standard scoring constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Resolved:       0.6,
		High:           0.8,
		Error:          0.3,
		MinRecords:     3,
		Coverage:       0.7,
		MappingRate:    0.3,
		ErrorPenalty:   10,
		WarningPenalty: 5,
		CategoryWeights: map[string]float64{
			string(taxonomy.Environment): 0.4,
			string(taxonomy.Social):      0.3,
			string(taxonomy.Governance):  0.3,
		},
	}
}

// MissingKPI is a required KPI with no sufficiently confident mapping.
type MissingKPI struct {
	KPIID      string            `json:"kpi_id"`
	Name       string            `json:"name"`
	Category   taxonomy.Category `json:"category"`
	Level      Level             `json:"level"`
	Severity   Severity          `json:"severity"`
	Reference  string            `json:"reference,omitempty"`
	Suggestion string            `json:"suggestion"`
}

// MappingQuality buckets mappings by confidence.
type MappingQuality struct {
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unmapped int `json:"unmapped"`
}

// Total is the number of mappings counted.
func (q MappingQuality) Total() int {
	return q.High + q.Medium + q.Low + q.Unmapped
}

// QualityIssue is a data-quality finding on a resolved mapping.
type QualityIssue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	RawLabel string   `json:"raw_label"`
	KPIID    string   `json:"kpi_id"`
	Message  string   `json:"message"`
}

// Result is a compliance check of one period against one framework.
type Result struct {
	Period            string                        `json:"period"`
	Standard          string                        `json:"standard"`
	Status            Status                        `json:"status"`
	TotalRequiredKPIs int                           `json:"total_required_kpis"`
	MissingKPIs       []MissingKPI                  `json:"missing_kpis"`
	CategoryScores    map[taxonomy.Category]float64 `json:"category_scores"`
	OverallScore      float64                       `json:"overall_score"`
	MappingQuality    MappingQuality                `json:"mapping_quality"`
	QualityIssues     []QualityIssue                `json:"quality_issues"`
	Recommendations   []string                      `json:"recommendations,omitempty"`
	CheckedAt         time.Time                     `json:"checked_at"`
}

// Count returns the number of missing KPIs with the given severity.
func (r *Result) Count(sev Severity) int {
	n := 0
	for _, m := range r.MissingKPIs {
		if m.Severity == sev {
			n++
		}
	}
	return n
}

// Scorer scores mapping coverage against frameworks.
type Scorer struct {
	tax        *taxonomy.Taxonomy
	frameworks *Frameworks
	th         Thresholds
	now        func() time.Time
}

// NewScorer creates a Scorer. Zero thresholds fall back to DefaultThresholds.
func NewScorer(tax *taxonomy.Taxonomy, frameworks *Frameworks, th Thresholds) *Scorer {
	if th.Resolved == 0 && th.High == 0 && th.Coverage == 0 {
		th = DefaultThresholds()
	}
	return &Scorer{tax: tax, frameworks: frameworks, th: th, now: func() time.Time { return time.Now().UTC() }}
}

// Frameworks returns the frameworks the scorer knows.
func (s *Scorer) Frameworks() *Frameworks {
	return s.frameworks
}

// Thresholds returns the scoring constants in use.
func (s *Scorer) Thresholds() Thresholds {
	return s.th
}

// UnknownStandardError reports a framework id that is not loaded.
type UnknownStandardError struct {
	Standard  string
	Available []string
}

func (e *UnknownStandardError) Error() string {
	return fmt.Sprintf("unknown standard %q (available: %v)", e.Standard, e.Available)
}

// Score checks mappings of one period against standard.
func (s *Scorer) Score(period, standard string, mappings []Mapping) (*Result, error) {
	fw, ok := s.frameworks.Get(standard)
	if !ok {
		return nil, &UnknownStandardError{Standard: standard, Available: s.frameworks.IDs()}
	}

	res := &Result{
		Period:            period,
		Standard:          fw.ID,
		TotalRequiredKPIs: len(fw.Requirements),
		MissingKPIs:       []MissingKPI{},
		CategoryScores:    make(map[taxonomy.Category]float64),
		QualityIssues:     []QualityIssue{},
		CheckedAt:         s.now(),
	}

	// 1. Best mapping per KPI
	best := make(map[string]Mapping)
	for _, m := range mappings {
		if m.KPIID == "" {
			continue
		}
		if cur, ok := best[m.KPIID]; !ok || m.Confidence > cur.Confidence {
			best[m.KPIID] = m
		}
	}

	// 2. Missing KPIs and category coverage
	type weights struct{ achieved, total float64 }
	byCategory := make(map[taxonomy.Category]*weights)
	for _, req := range fw.Requirements {
		def, _ := s.tax.Get(req.KPIID)
		w := byCategory[def.Category]
		if w == nil {
			w = &weights{}
			byCategory[def.Category] = w
		}
		w.total += req.Level.Weight()

		m, mapped := best[req.KPIID]
		if mapped && m.Confidence >= s.th.Resolved {
			w.achieved += req.Level.Weight()
			continue
		}
		res.MissingKPIs = append(res.MissingKPIs, MissingKPI{
			KPIID:      req.KPIID,
			Name:       def.Name,
			Category:   def.Category,
			Level:      req.Level,
			Severity:   req.Level.Severity(),
			Reference:  req.Reference,
			Suggestion: s.suggestion(fw, req, def, m, mapped),
		})
	}
	for cat, w := range byCategory {
		if w.total > 0 {
			res.CategoryScores[cat] = w.achieved / w.total * 100
		}
	}

	// 3. Mapping quality and data-quality issues
	var errs, warns int
	for _, m := range mappings {
		res.MappingQuality.add(m, s.th)
		if m.KPIID == "" {
			continue
		}
		for _, issue := range s.issues(m) {
			switch issue.Severity {
			case SeverityError:
				errs++
			case SeverityWarning:
				warns++
			}
			res.QualityIssues = append(res.QualityIssues, issue)
		}
	}

	// 4. Overall score
	mappingRate := 0.0
	if total := res.MappingQuality.Total(); total > 0 {
		mappingRate = float64(res.MappingQuality.High) / float64(total) * 100
	}
	overall := s.th.Coverage*s.weightedAverage(res.CategoryScores) + s.th.MappingRate*mappingRate
	overall -= s.th.ErrorPenalty*float64(errs) + s.th.WarningPenalty*float64(warns)
	res.OverallScore = math.Max(0, overall)

	// 5. Status
	switch {
	case res.Count(SeverityCritical) > 0:
		res.Status = StatusCritical
	case res.Count(SeverityWarning) > 0:
		res.Status = StatusWarning
	default:
		res.Status = StatusCompliant
	}

	slices.SortStableFunc(res.MissingKPIs, func(a, b MissingKPI) int {
		return cmp.Compare(b.Level.Weight(), a.Level.Weight())
	})
	res.Recommendations = recommendations(res)
	return res, nil
}

func (q *MappingQuality) add(m Mapping, th Thresholds) {
	switch {
	case m.KPIID == "":
		q.Unmapped++
	case m.Confidence >= th.High:
		q.High++
	case m.Confidence >= th.Resolved:
		q.Medium++
	default:
		q.Low++
	}
}

// weightedAverage averages category scores over the weighted categories present.
func (s *Scorer) weightedAverage(scores map[taxonomy.Category]float64) float64 {
	var sum, weight float64
	for cat, score := range scores {
		w := s.th.CategoryWeights[string(cat)]
		if w <= 0 {
			continue
		}
		sum += w * score
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

func (s *Scorer) issues(m Mapping) []QualityIssue {
	var out []QualityIssue
	add := func(typ string, sev Severity, msg string) {
		out = append(out, QualityIssue{Type: typ, Severity: sev, RawLabel: m.RawLabel, KPIID: m.KPIID, Message: msg})
	}

	switch {
	case m.Confidence < s.th.Error:
		add(IssueLowConfidence, SeverityError, fmt.Sprintf("mapping confidence %.2f is below %.2f", m.Confidence, s.th.Error))
	case m.Confidence < s.th.Resolved:
		add(IssueLowConfidence, SeverityWarning, fmt.Sprintf("mapping confidence %.2f is below %.2f", m.Confidence, s.th.Resolved))
	}
	if m.RecordCount < s.th.MinRecords {
		add(IssueFewRecords, SeverityWarning, fmt.Sprintf("only %d record(s), at least %d expected", m.RecordCount, s.th.MinRecords))
	}
	if def, ok := s.tax.Get(m.KPIID); ok && m.Unit != "" && !taxonomy.UnitsEquivalent(def.CanonicalUnit, m.Unit) {
		add(IssueUnitMismatch, SeverityWarning, fmt.Sprintf("unit %q does not match %s (%s)", m.Unit, def.Name, def.CanonicalUnit))
	}
	return out
}

func (s *Scorer) suggestion(fw Framework, req Requirement, def taxonomy.KPIDefinition, m Mapping, mapped bool) string {
	if mapped {
		return fmt.Sprintf("%q maps to %s with confidence %.2f; review the mapping or use a clearer label",
			m.RawLabel, def.Name, m.Confidence)
	}
	ref := ""
	if req.Reference != "" {
		ref = " (" + req.Reference + ")"
	}
	return fmt.Sprintf("Disclose %s in %s; %s requires it as %s%s", def.Name, def.CanonicalUnit, fw.ID, req.Level, ref)
}

func recommendations(r *Result) []string {
	var out []string
	if n := r.Count(SeverityCritical); n > 0 {
		out = append(out, fmt.Sprintf("Provide the %d critical KPI(s) required by %s", n, r.Standard))
	}
	if n := r.Count(SeverityWarning); n > 0 {
		out = append(out, fmt.Sprintf("Add the %d important KPI(s) to improve %s coverage", n, r.Standard))
	}
	if r.MappingQuality.Low > 0 || r.MappingQuality.Unmapped > 0 {
		out = append(out, fmt.Sprintf("Review %d low-confidence and %d unmapped label(s)", r.MappingQuality.Low, r.MappingQuality.Unmapped))
	}
	for _, cat := range taxonomy.Categories {
		if score, ok := r.CategoryScores[cat]; ok && score < 50 {
			out = append(out, fmt.Sprintf("%s coverage is %.0f%%", cat, score))
		}
	}
	return out
}
