package matcher

import (
	"strconv"
	"strings"

	"esg-mcp/internal/stats"
	"esg-mcp/internal/taxonomy"
)

const summarySamples = 3

// Summarize renders the text that is embedded for a group.
func Summarize(g stats.RawKPIGroup) string {
	var sb strings.Builder
	sb.WriteString("Label: ")
	sb.WriteString(g.RawLabel)
	sb.WriteString(". Aggregated value: ")
	sb.WriteString(formatFloat(g.AggregatedValue))
	if g.CommonUnit != "" {
		sb.WriteString(" ")
		sb.WriteString(g.CommonUnit)
	}
	sb.WriteString(". Records: ")
	sb.WriteString(strconv.Itoa(g.RecordCount))
	sb.WriteString(". Range: min ")
	sb.WriteString(formatFloat(g.ValueRange.Min))
	sb.WriteString(", max ")
	sb.WriteString(formatFloat(g.ValueRange.Max))
	sb.WriteString(", avg ")
	sb.WriteString(formatFloat(g.ValueRange.Avg))
	sb.WriteString(". Units consistent: ")
	if g.UnitConsistency {
		sb.WriteString("yes")
	} else {
		sb.WriteString("no (")
		sb.WriteString(strings.Join(g.Units, ", "))
		sb.WriteString(")")
	}
	if cat := taxonomy.EstimateCategory(g.RawLabel, g.CommonUnit); cat != taxonomy.Unknown {
		sb.WriteString(". Estimated category: ")
		sb.WriteString(string(cat))
	}
	if samples := g.SampleValues(summarySamples); len(samples) > 0 {
		sb.WriteString(". Sample values: ")
		for i, v := range samples {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(formatFloat(v))
		}
	}
	return sb.String()
}

func labelText(label, unit string, samples []float64) string {
	var sb strings.Builder
	sb.WriteString("Label: ")
	sb.WriteString(label)
	if unit != "" {
		sb.WriteString(". Unit: ")
		sb.WriteString(unit)
	}
	if len(samples) > 0 {
		sb.WriteString(". Sample values: ")
		for i, v := range samples {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(formatFloat(v))
		}
	}
	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
