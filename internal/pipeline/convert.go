package pipeline

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"esg-mcp/internal/aggregator"
	"esg-mcp/internal/matcher"
	"esg-mcp/internal/stats"
	"esg-mcp/internal/store"
)

// ConvertedValue is the per-KPI contribution of one file in the KPI's canonical unit.
type ConvertedValue struct {
	KPIID       string   `json:"kpi_id"`
	Value       float64  `json:"value"`
	Unit        string   `json:"unit"`
	Period      string   `json:"period,omitempty"`
	RecordCount int      `json:"record_count"`
	Confidence  float64  `json:"confidence"`
	RawLabels   []string `json:"raw_labels"`
	// SourceUnits lists the units the values were converted from.
	SourceUnits []string `json:"source_units,omitempty"`
	Model       string   `json:"embedding_model,omitempty"`
}

type conversion struct {
	values   map[string]ConvertedValue
	order    []string
	warnings []store.Warning
}

// requests turns merged values into aggregation requests in first-seen KPI order.
func (c conversion) requests(fileID int64) []aggregator.Request {
	reqs := make([]aggregator.Request, 0, len(c.order))
	for _, id := range c.order {
		v := c.values[id]
		details, _ := json.Marshal(v)
		reqs = append(reqs, aggregator.Request{
			KPIID:          id,
			AddedValue:     v.Value,
			SourceFileID:   fileID,
			Period:         v.Period,
			Unit:           v.Unit,
			RecordCount:    v.RecordCount,
			Confidence:     v.Confidence,
			MappingDetails: string(details),
			RawLabel:       strings.Join(v.RawLabels, "; "),
		})
	}
	return reqs
}

type unitKey struct {
	label string
	unit  string
}

// convert brings every accepted record into its KPI's canonical unit and merges labels that
// resolved to the same KPI. Records whose unit cannot reach the canonical unit are excluded and
// reported once per label and unit.
func (o *Orchestrator) convert(groups []stats.RawKPIGroup, decisions []matcher.MappingDecision, period string) conversion {
	c := conversion{
		values: make(map[string]ConvertedValue),
	}
	incompatible := make(map[unitKey]int)
	var incompatibleOrder []unitKey
	messages := make(map[unitKey]string)

	for i, d := range decisions {
		if !d.Resolved() || d.Confidence < o.opts.AcceptThreshold {
			continue
		}
		g := groups[i]
		kpi := d.BestMatch.KPI
		canonical := kpi.CanonicalUnit

		var sum float64
		var n int
		var from []string
		for _, r := range g.Records {
			unit := r.Unit
			if unit == "" {
				unit = g.CommonUnit
			}
			if r.FromPercent {
				unit = "ratio"
			}
			if unit == "" {
				unit = canonical
			}

			res := o.units.Convert(r.Value, unit, canonical)
			if !res.IsValid {
				k := unitKey{label: g.RawLabel, unit: unit}
				if incompatible[k] == 0 {
					incompatibleOrder = append(incompatibleOrder, k)
					messages[k] = res.Message
				}
				incompatible[k]++
				continue
			}
			sum += res.Value
			n++
			if src := o.units.Canonical(unit); !slices.Contains(from, src) {
				from = append(from, src)
			}
		}
		if n == 0 {
			continue
		}

		p := period
		if p == "" {
			p = g.PeriodKey()
		}
		v, ok := c.values[kpi.ID]
		if !ok {
			c.order = append(c.order, kpi.ID)
			v = ConvertedValue{KPIID: kpi.ID, Unit: canonical, Period: p, Model: d.EmbeddingModel}
		}
		v.Value += sum
		v.RecordCount += n
		v.Confidence = max(v.Confidence, d.Confidence)
		v.RawLabels = append(v.RawLabels, g.RawLabel)
		for _, u := range from {
			if !slices.Contains(v.SourceUnits, u) {
				v.SourceUnits = append(v.SourceUnits, u)
			}
		}
		c.values[kpi.ID] = v
	}

	for _, k := range incompatibleOrder {
		c.warnings = append(c.warnings, store.Warning{
			Kind:  WarnConversionIncompatible,
			Label: k.label,
			Message: fmt.Sprintf("%d record(s) in unit %q excluded: %s",
				incompatible[k], k.unit, messages[k]),
		})
	}
	return c
}

// mappingResults builds the per-label artifact stored on the file record.
func mappingResults(groups []stats.RawKPIGroup, decisions []matcher.MappingDecision, conv conversion, batch *aggregator.BatchResult) []store.MappingResult {
	var contributed []string
	if batch != nil {
		contributed = batch.Successful
	}
	out := make([]store.MappingResult, 0, len(decisions))
	for i, d := range decisions {
		g := groups[i]
		mr := store.MappingResult{
			RawLabel:    d.RawLabel,
			KPIID:       d.KPIID(),
			Confidence:  d.Confidence,
			RecordCount: g.RecordCount,
			Unit:        g.CommonUnit,
			Value:       g.AggregatedValue,
			Period:      g.PeriodKey(),
			Review:      d.Review,
		}
		if d.Resolved() {
			mr.KPIName = d.BestMatch.KPI.Name
			merged := slices.Contains(conv.values[mr.KPIID].RawLabels, g.RawLabel)
			mr.Contributed = merged && slices.Contains(contributed, mr.KPIID)
		}
		out = append(out, mr)
	}
	return out
}
