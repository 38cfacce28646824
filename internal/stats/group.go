package stats

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// GroupRecord is one parsed row of a raw KPI group.
type GroupRecord struct {
	RowRef   string  `json:"row_ref,omitempty"`
	Period   string  `json:"period,omitempty"`
	Value    float64 `json:"value"`
	RawValue string  `json:"raw_value"`
	Unit     string  `json:"unit,omitempty"`
	// FromPercent marks values that carried a trailing '%' and were already divided by 100.
	FromPercent bool `json:"from_percent,omitempty"`
}

// ValueRange summarises the parsed values of a group.
type ValueRange struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
}

// RawKPIGroup is the per-label summary of one file. It is immutable once built.
type RawKPIGroup struct {
	RawLabel        string        `json:"raw_label"`
	Key             string        `json:"key"`
	Records         []GroupRecord `json:"records"`
	AggregatedValue float64       `json:"aggregated_value"`
	CommonUnit      string        `json:"common_unit,omitempty"`
	UnitConsistency bool          `json:"unit_consistency"`
	Units           []string      `json:"units,omitempty"`
	ValueRange      ValueRange    `json:"value_range"`
	RecordCount     int           `json:"record_count"`
	UnparsableCount int           `json:"unparsable_count"`
	Periods         []string      `json:"periods,omitempty"`
}

// PeriodKey identifies the reporting period of the group: the single period when only one is
// present, otherwise the sorted periods joined by commas.
func (g RawKPIGroup) PeriodKey() string {
	return strings.Join(g.Periods, ",")
}

// SampleValues returns up to n parsed values in row order.
func (g RawKPIGroup) SampleValues(n int) []float64 {
	if n > len(g.Records) {
		n = len(g.Records)
	}
	out := make([]float64, 0, n)
	for _, r := range g.Records[:n] {
		out = append(out, r.Value)
	}
	return out
}

// Values returns all parsed values in row order.
func (g RawKPIGroup) Values() []float64 {
	return g.SampleValues(len(g.Records))
}

// GroupingResult is the output of Group.
type GroupingResult struct {
	Groups          []RawKPIGroup `json:"groups"`
	TotalRows       int           `json:"total_rows"`
	BlankLabelRows  int           `json:"blank_label_rows"`
	UnparsableRows  int           `json:"unparsable_rows"`
	DroppedGroups   []string      `json:"dropped_groups,omitempty"`
	Quality         QualityReport `json:"quality"`
}

// pending accumulates rows for one label before the group is finalised.
type pending struct {
	label      string
	key        string
	records    []GroupRecord
	unparsable int
}

// Group partitions the table rows by trimmed, case-folded label and summarises every partition.
// Groups come back in first-seen order; labels without a single parsable value are dropped.
func Group(t Table, m ColumnMapping) (*GroupingResult, error) {
	cols, err := resolveColumns(t, m)
	if err != nil {
		return nil, err
	}

	res := &GroupingResult{TotalRows: len(t.Rows)}
	byKey := make(map[string]*pending)
	var order []string

	// 1. Partition
	for i, row := range t.Rows {
		label := strings.TrimSpace(row[cols.label])
		if label == "" {
			res.BlankLabelRows++
			continue
		}
		key := strings.ToLower(label)

		p, ok := byKey[key]
		if !ok {
			p = &pending{label: label, key: key}
			byKey[key] = p
			order = append(order, key)
		}

		raw := row[cols.value]
		v, pct, ok := ParseValue(raw)
		if !ok {
			p.unparsable++
			res.UnparsableRows++
			continue
		}

		rec := GroupRecord{
			Period:      strings.TrimSpace(row[cols.period]),
			Value:       v,
			RawValue:    raw,
			Unit:        strings.TrimSpace(row[cols.unit]),
			FromPercent: pct,
		}
		if cols.rowRef != "" {
			rec.RowRef = strings.TrimSpace(row[cols.rowRef])
		}
		if rec.RowRef == "" {
			rec.RowRef = rowNumber(i)
		}
		p.records = append(p.records, rec)
	}

	// 2. Summarise
	for _, key := range order {
		p := byKey[key]
		if len(p.records) == 0 {
			res.DroppedGroups = append(res.DroppedGroups, p.label)
			continue
		}
		res.Groups = append(res.Groups, summarise(p))
	}

	// 3. Quality pass
	res.Quality = AssessQuality(t, cols, res.Groups)
	return res, nil
}

func summarise(p *pending) RawKPIGroup {
	g := RawKPIGroup{
		RawLabel:        p.label,
		Key:             p.key,
		Records:         p.records,
		RecordCount:     len(p.records),
		UnparsableCount: p.unparsable,
	}

	unitCounts := make(map[string]int)
	periods := make(map[string]bool)
	g.ValueRange.Min = math.Inf(1)
	g.ValueRange.Max = math.Inf(-1)

	for _, r := range p.records {
		g.AggregatedValue += r.Value
		g.ValueRange.Min = math.Min(g.ValueRange.Min, r.Value)
		g.ValueRange.Max = math.Max(g.ValueRange.Max, r.Value)
		if r.Unit != "" {
			if unitCounts[r.Unit] == 0 {
				g.Units = append(g.Units, r.Unit)
			}
			unitCounts[r.Unit]++
		}
		if r.Period != "" {
			periods[r.Period] = true
		}
	}
	g.ValueRange.Avg = g.AggregatedValue / float64(len(p.records))
	g.ValueRange.Median = CalculateMedian(g.Values())

	// Modal unit, ties resolve to the first seen.
	best := 0
	for _, u := range g.Units {
		if unitCounts[u] > best {
			g.CommonUnit = u
			best = unitCounts[u]
		}
	}
	g.UnitConsistency = len(g.Units) <= 1

	for period := range periods {
		g.Periods = append(g.Periods, period)
	}
	slices.Sort(g.Periods)
	return g
}

func rowNumber(i int) string {
	// Header is row 1.
	return "row " + strconv.Itoa(i+2)
}
