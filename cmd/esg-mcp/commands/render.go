package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/pipeline"
	"esg-mcp/internal/store"
	"esg-mcp/internal/taxonomy"
	"esg-mcp/internal/units"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// emit writes v as JSON when format is "json" and calls render otherwise.
func emit(w io.Writer, format string, v any, render func(io.Writer)) error {
	if format == "json" {
		return renderJSON(w, v)
	}
	render(w)
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func rightAlign(cols ...int) []table.ColumnConfig {
	cfgs := make([]table.ColumnConfig, 0, len(cols))
	for _, c := range cols {
		cfgs = append(cfgs, table.ColumnConfig{Number: c, Align: text.AlignRight})
	}
	return cfgs
}

func renderFileResult(w io.Writer, res *pipeline.FileResult, threshold float64) {
	f := res.File
	_, _ = fmt.Fprintf(w, "File %d %q: %s, period %s, %d KPI(s) from %d record(s) in %d ms\n",
		f.ID, f.Name, f.Status, f.Period, f.DetectedKPIs, f.ProcessedRecords, f.ProcessingTimeMs)
	renderMappings(w, f.MappingResults, threshold)
	renderWarnings(w, f.Warnings)
	if res.Compliance != nil {
		renderCompliance(w, res.Compliance)
	}
}

func renderMappings(w io.Writer, results []store.MappingResult, threshold float64) {
	if len(results) == 0 {
		return
	}
	t := newTable(w, "Mappings")
	t.AppendHeader(table.Row{"Label", "KPI", "Confidence", "Records", "Value", "Unit", "Counted", "Review"})
	for _, r := range results {
		kpi := r.KPIID
		if kpi == "" {
			kpi = "-"
		}
		conf := fmt.Sprintf("%.2f", r.Confidence)
		if r.KPIID != "" && r.Confidence < threshold {
			conf += " (low)"
		}
		t.AppendRow(table.Row{r.RawLabel, kpi, conf, r.RecordCount, formatNumber(r.Value), r.Unit, yesNo(r.Contributed), r.Review})
	}
	t.SetColumnConfigs(rightAlign(3, 4, 5))
	t.Render()
}

func renderWarnings(w io.Writer, ws []store.Warning) {
	if len(ws) == 0 {
		return
	}
	t := newTable(w, "Warnings")
	t.AppendHeader(table.Row{"Kind", "Label", "KPI", "Message"})
	for _, x := range ws {
		t.AppendRow(table.Row{x.Kind, x.Label, x.KPIID, x.Message})
	}
	t.Render()
}

func renderTotals(w io.Writer, totals []store.CumulativeKPI) {
	if len(totals) == 0 {
		_, _ = fmt.Fprintln(w, "(no totals)")
		return
	}
	t := newTable(w, "Running Totals")
	t.AppendHeader(table.Row{"KPI", "Name", "Total", "Unit", "Records", "Files", "Updated"})
	for _, c := range totals {
		t.AppendRow(table.Row{c.KPIID, c.DisplayName, formatNumber(c.CumulativeValue), c.Unit, c.RecordCount,
			len(c.ContributingFileIDs), c.LastUpdated.Format("2006-01-02 15:04")})
	}
	t.SetColumnConfigs(rightAlign(3, 5, 6))
	t.Render()
}

func renderCompliance(w io.Writer, r *compliance.Result) {
	_, _ = fmt.Fprintf(w, "%s compliance for %s: %s (score %.1f, %d of %d required KPI(s) missing)\n",
		r.Standard, r.Period, strings.ToUpper(string(r.Status)), r.OverallScore, len(r.MissingKPIs), r.TotalRequiredKPIs)

	t := newTable(w, "Category Scores")
	t.AppendHeader(table.Row{"Category", "Score"})
	for _, c := range taxonomy.Categories {
		if s, ok := r.CategoryScores[c]; ok {
			t.AppendRow(table.Row{c, fmt.Sprintf("%.1f", s)})
		}
	}
	t.AppendFooter(table.Row{"Overall", fmt.Sprintf("%.1f", r.OverallScore)})
	t.SetColumnConfigs(rightAlign(2))
	t.Render()

	if len(r.MissingKPIs) > 0 {
		mt := newTable(w, "Missing KPIs")
		mt.AppendHeader(table.Row{"KPI", "Name", "Level", "Reference", "Suggestion"})
		for _, m := range r.MissingKPIs {
			mt.AppendRow(table.Row{m.KPIID, m.Name, m.Level, m.Reference, m.Suggestion})
		}
		mt.Render()
	}
	for _, rec := range r.Recommendations {
		_, _ = fmt.Fprintf(w, "- %s\n", rec)
	}
}

func renderFiles(w io.Writer, files []store.FileRecord) {
	if len(files) == 0 {
		_, _ = fmt.Fprintln(w, "(no files)")
		return
	}
	t := newTable(w, "Files")
	t.AppendHeader(table.Row{"ID", "Name", "Period", "Standard", "Status", "KPIs", "Records", "Warnings", "Compliance"})
	for _, f := range files {
		impact := "-"
		if f.ComplianceImpact != nil {
			impact = fmt.Sprintf("%s %.1f", f.ComplianceImpact.Status, f.ComplianceImpact.OverallScore)
		}
		t.AppendRow(table.Row{f.ID, f.Name, f.Period, f.Standard, f.Status, f.DetectedKPIs, f.ProcessedRecords, len(f.Warnings), impact})
	}
	t.SetColumnConfigs(rightAlign(1, 6, 7, 8))
	t.Render()
}

func renderConversion(w io.Writer, in float64, r units.Result) {
	if !r.IsValid {
		_, _ = fmt.Fprintf(w, "Cannot convert %s to %s: %s\n", r.From, r.To, r.Message)
		return
	}
	_, _ = fmt.Fprintf(w, "%s %s = %s %s\n", formatNumber(in), r.From, formatNumber(r.Value), r.To)
	if r.Formula != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", r.Formula)
	}
}

func renderFrameworks(w io.Writer, list []compliance.Framework) {
	t := newTable(w, "Frameworks")
	t.AppendHeader(table.Row{"ID", "Name", "Critical", "Important", "Optional"})
	for _, f := range list {
		t.AppendRow(table.Row{f.ID, f.Name, f.Count(compliance.LevelCritical), f.Count(compliance.LevelImportant), f.Count(compliance.LevelOptional)})
	}
	t.SetColumnConfigs(rightAlign(3, 4, 5))
	t.Render()
}

// formatNumber rounds to four decimals and drops trailing zeros.
func formatNumber(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
