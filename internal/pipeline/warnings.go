package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"esg-mcp/internal/aggregator"
	"esg-mcp/internal/matcher"
	"esg-mcp/internal/resilience"
	"esg-mcp/internal/stats"
	"esg-mcp/internal/store"
)

// Warning kinds attached to file records.
const (
	WarnConversionIncompatible = "conversion_incompatible"
	WarnAggregationWrite       = "aggregation_write_failure"
	WarnAggregationRejected    = "aggregation_rejected"
	WarnDuplicateSkipped       = "duplicate_contribution_skipped"
	WarnServiceDegraded        = "external_service_degraded"
	WarnDataQuality            = "data_quality"
	WarnUnresolvedMapping      = "unresolved_mapping"
)

func batchWarnings(b *aggregator.BatchResult) []store.Warning {
	if b == nil {
		return nil
	}
	var out []store.Warning
	for _, f := range b.Failed {
		kind := WarnAggregationRejected
		if f.Kind == aggregator.KindWriteFailure {
			kind = WarnAggregationWrite
		}
		out = append(out, store.Warning{Kind: kind, KPIID: f.KPIID, Message: fmt.Sprintf("%s: %s", f.Kind, f.Reason)})
	}
	for _, d := range b.Skipped {
		out = append(out, store.Warning{Kind: WarnDuplicateSkipped, KPIID: d.KPIID, Message: d.Reason})
	}
	return out
}

// degradedWarnings reports each failing service and operation once.
func degradedWarnings(events []resilience.Degradation) []store.Warning {
	type key struct{ service, op string }
	counts := make(map[key]int)
	var order []key
	last := make(map[key]string)
	for _, e := range events {
		k := key{e.Service, e.Op}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
		last[k] = e.Err
	}

	out := make([]store.Warning, 0, len(order))
	for _, k := range order {
		out = append(out, store.Warning{
			Kind:    WarnServiceDegraded,
			Message: fmt.Sprintf("%s %s fell back %d time(s): %s", k.service, k.op, counts[k], last[k]),
		})
	}
	return out
}

// qualityWarnings condenses error and warning findings into one warning per issue type.
func qualityWarnings(g *stats.GroupingResult) []store.Warning {
	counts := make(map[string]int)
	labels := make(map[string][]string)
	var order []string
	for _, iss := range g.Quality.Issues {
		if iss.Severity != stats.SeverityError && iss.Severity != stats.SeverityWarning {
			continue
		}
		if counts[iss.Type] == 0 {
			order = append(order, iss.Type)
		}
		counts[iss.Type]++
		if iss.Label != "" && !slices.Contains(labels[iss.Type], iss.Label) {
			labels[iss.Type] = append(labels[iss.Type], iss.Label)
		}
	}

	var out []store.Warning
	for _, typ := range order {
		msg := fmt.Sprintf("%d %s finding(s)", counts[typ], strings.ReplaceAll(typ, "_", " "))
		if ls := labels[typ]; len(ls) > 0 {
			msg += ": " + strings.Join(ls, ", ")
		}
		out = append(out, store.Warning{Kind: WarnDataQuality, Message: msg})
	}
	if len(g.DroppedGroups) > 0 {
		out = append(out, store.Warning{
			Kind:    WarnDataQuality,
			Message: "labels with no parsable values: " + strings.Join(g.DroppedGroups, ", "),
		})
	}
	return out
}

func unresolvedWarnings(decisions []matcher.MappingDecision) []store.Warning {
	var out []store.Warning
	for _, d := range decisions {
		if d.Resolved() {
			continue
		}
		msg := "no taxonomy KPI matched"
		if d.Error != "" {
			msg = d.Error
		}
		out = append(out, store.Warning{Kind: WarnUnresolvedMapping, Label: d.RawLabel, Message: msg})
	}
	return out
}
