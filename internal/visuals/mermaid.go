package visuals

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/store"
	"esg-mcp/internal/taxonomy"
)

const maxBars = 20

// GenerateCategoryScoreChart creates a Mermaid bar chart of per-category compliance scores.
func GenerateCategoryScoreChart(result *compliance.Result) string {
	if result == nil || len(result.CategoryScores) == 0 {
		return ""
	}

	var labels []string
	var values []string
	// Fixed category order keeps charts comparable across checks.
	for _, c := range taxonomy.Categories {
		score, ok := result.CategoryScores[c]
		if !ok {
			continue
		}
		labels = append(labels, fmt.Sprintf("\"%s\"", c))
		values = append(values, fmt.Sprintf("%.1f", score))
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("xychart-beta\n")
	sb.WriteString(fmt.Sprintf("    title \"%s Coverage by Category (%s)\"\n", result.Standard, result.Period))
	sb.WriteString(fmt.Sprintf("    x-axis [%s]\n", strings.Join(labels, ", ")))
	sb.WriteString("    y-axis \"Score\" 0 --> 100\n")
	sb.WriteString(fmt.Sprintf("    bar [%s]\n", strings.Join(values, ", ")))
	sb.WriteString("```")
	return sb.String()
}

// GenerateMappingQualityPie creates a Mermaid pie chart of mapping confidence buckets.
func GenerateMappingQualityPie(q compliance.MappingQuality) string {
	if q.Total() == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("pie title Mapping Quality\n")
	buckets := []struct {
		name  string
		count int
	}{
		{"High confidence", q.High},
		{"Medium confidence", q.Medium},
		{"Low confidence", q.Low},
		{"Unmapped", q.Unmapped},
	}
	for _, s := range buckets {
		if s.count > 0 {
			sb.WriteString(fmt.Sprintf("    \"%s\" : %d\n", s.name, s.count))
		}
	}
	sb.WriteString("```")
	return sb.String()
}

// GenerateCumulativeChart creates a Mermaid bar chart of running totals for KPIs sharing unit.
// Totals in other units are left out so the bars share one axis.
func GenerateCumulativeChart(totals []store.CumulativeKPI, unit string) string {
	var rows []store.CumulativeKPI
	for _, t := range totals {
		if t.Unit == unit && t.CumulativeValue > 0 {
			rows = append(rows, t)
		}
	}
	if len(rows) == 0 {
		return ""
	}
	slices.SortFunc(rows, func(a, b store.CumulativeKPI) int {
		switch {
		case a.CumulativeValue > b.CumulativeValue:
			return -1
		case a.CumulativeValue < b.CumulativeValue:
			return 1
		}
		return strings.Compare(a.KPIID, b.KPIID)
	})
	if len(rows) > maxBars {
		rows = rows[:maxBars]
	}

	var labels []string
	var values []string
	maxVal := 0.0
	for _, r := range rows {
		// Replace quotes to help mermaid rendering
		name := strings.ReplaceAll(r.DisplayName, "\"", "'")
		labels = append(labels, fmt.Sprintf("\"%s\"", name))
		values = append(values, fmt.Sprintf("%.2f", r.CumulativeValue))
		maxVal = math.Max(maxVal, r.CumulativeValue)
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("xychart-beta\n")
	sb.WriteString(fmt.Sprintf("    title \"Cumulative Totals (%s)\"\n", unit))
	sb.WriteString(fmt.Sprintf("    x-axis [%s]\n", strings.Join(labels, ", ")))
	sb.WriteString(fmt.Sprintf("    y-axis \"%s\" 0 --> %d\n", unit, int(math.Ceil(maxVal*1.1))))
	sb.WriteString(fmt.Sprintf("    bar [%s]\n", strings.Join(values, ", ")))
	sb.WriteString("```")
	return sb.String()
}

// GenerateConfidenceChart creates a Mermaid bar chart of a file's mapping confidences with the
// accept threshold drawn as a line.
func GenerateConfidenceChart(results []store.MappingResult, threshold float64) string {
	if len(results) == 0 {
		return ""
	}

	limit := min(len(results), maxBars)
	var labels []string
	var values []string
	var limits []string
	for _, r := range results[:limit] {
		labels = append(labels, fmt.Sprintf("\"%s\"", strings.ReplaceAll(r.RawLabel, "\"", "'")))
		values = append(values, fmt.Sprintf("%.2f", r.Confidence))
		limits = append(limits, fmt.Sprintf("%.2f", threshold))
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("xychart-beta\n")
	sb.WriteString("    title \"Mapping Confidence\"\n")
	sb.WriteString(fmt.Sprintf("    x-axis [%s]\n", strings.Join(labels, ", ")))
	sb.WriteString("    y-axis \"Confidence\" 0 --> 1\n")
	sb.WriteString(fmt.Sprintf("    bar [%s]\n", strings.Join(values, ", ")))
	sb.WriteString(fmt.Sprintf("    line [%s]\n", strings.Join(limits, ", ")))
	sb.WriteString("```")
	return sb.String()
}
