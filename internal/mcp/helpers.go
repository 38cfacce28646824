package mcp

import (
	"fmt"
	"slices"
	"strings"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/store"
	"esg-mcp/internal/visuals"
)

// ResponseEnvelope is the shape of every tool answer.
type ResponseEnvelope struct {
	Data     any      `json:"data"`
	Warnings []string `json:"warnings,omitempty"`
	Visuals  []string `json:"visuals,omitempty"`
	Guidance []string `json:"guidance,omitempty"`
}

// WrapResponse builds an envelope, dropping empty charts.
func WrapResponse(data any, warnings []string, charts []string, guidance []string) ResponseEnvelope {
	env := ResponseEnvelope{Data: data, Warnings: warnings, Guidance: guidance}
	for _, c := range charts {
		if c != "" {
			env.Visuals = append(env.Visuals, c)
		}
	}
	return env
}

func (s *Server) chartsEnabled() bool {
	return s.cfg.EnableMermaidCharts
}

func warningMessages(ws []store.Warning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		msg := w.Message
		if w.Label != "" {
			msg = fmt.Sprintf("%s: %s", w.Label, msg)
		}
		out = append(out, fmt.Sprintf("[%s] %s", w.Kind, msg))
	}
	return out
}

// complianceGuidance turns a compliance result into next steps for the caller.
func complianceGuidance(r *compliance.Result) []string {
	if r == nil {
		return nil
	}
	var g []string
	switch r.Status {
	case compliance.StatusCompliant:
		g = append(g, fmt.Sprintf("%s disclosure for %s is compliant (score %.1f).", r.Standard, r.Period, r.OverallScore))
	default:
		g = append(g, fmt.Sprintf("%s disclosure for %s is %s (score %.1f) with %d missing KPI(s).",
			r.Standard, r.Period, r.Status, r.OverallScore, len(r.MissingKPIs)))
	}
	if n := r.Count(compliance.SeverityCritical); n > 0 {
		g = append(g, fmt.Sprintf("Address the %d critical gap(s) in 'missing_kpis' first.", n))
	}
	if r.MappingQuality.Low > 0 {
		g = append(g, "Low-confidence mappings do not count towards coverage; confirm them with 'review_mapping'.")
	}
	return append(g, r.Recommendations...)
}

func complianceCharts(r *compliance.Result) []string {
	if r == nil {
		return nil
	}
	return []string{
		visuals.GenerateCategoryScoreChart(r),
		visuals.GenerateMappingQualityPie(r.MappingQuality),
	}
}

// totalsCharts renders one chart per unit present in totals.
func totalsCharts(totals []store.CumulativeKPI) []string {
	var unitsSeen []string
	for _, t := range totals {
		if !slices.Contains(unitsSeen, t.Unit) {
			unitsSeen = append(unitsSeen, t.Unit)
		}
	}
	slices.Sort(unitsSeen)

	var charts []string
	for _, u := range unitsSeen {
		charts = append(charts, visuals.GenerateCumulativeChart(totals, u))
	}
	return charts
}

func normalizeStandard(standard string) string {
	return strings.ToUpper(strings.TrimSpace(standard))
}
