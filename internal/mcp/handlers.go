package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/ingest"
	"esg-mcp/internal/pipeline"
	"esg-mcp/internal/stats"
	"esg-mcp/internal/store"
	"esg-mcp/internal/visuals"

	"github.com/rs/zerolog/log"
)

// handleProcessFile reads a file, runs it through the pipeline and reports the outcome.
func (s *Server) handleProcessFile(ctx context.Context, in ProcessFileInput) (any, error) {
	// 1. Read the table
	tbl, name, err := readInput(in)
	if err != nil {
		return nil, err
	}
	mapping := ingest.DetectMapping(tbl.Columns)
	log.Debug().Str("name", name).Int("rows", len(tbl.Rows)).Interface("mapping", mapping).Msg("Table read")

	// 2. Run the pipeline
	res, err := s.orch.ProcessFile(ctx, pipeline.FileInput{
		FileID:   in.FileID,
		Name:     name,
		Period:   in.Period,
		Standard: in.Standard,
		Table:    tbl,
		Mapping:  mapping,
	})
	if err != nil {
		return nil, err
	}

	// 3. Guidance
	f := res.File
	guidance := []string{
		fmt.Sprintf("File %d processed: %d KPI(s) detected in %d record(s) for period %s.", f.ID, f.DetectedKPIs, f.ProcessedRecords, f.Period),
	}
	unresolved, low := 0, 0
	for _, mr := range f.MappingResults {
		switch {
		case mr.KPIID == "":
			unresolved++
		case !mr.Contributed:
			low++
		}
	}
	if unresolved > 0 {
		guidance = append(guidance, fmt.Sprintf("%d label(s) could not be mapped; try 'match_label' with a clearer label or unit.", unresolved))
	}
	if low > 0 {
		guidance = append(guidance, fmt.Sprintf("%d mapping(s) did not contribute to the totals (below %.2f confidence, incompatible unit or already counted).", low, s.threshold))
	}
	guidance = append(guidance, complianceGuidance(res.Compliance)...)
	guidance = append(guidance, "Next Step: call 'get_cumulative_totals' to see the running totals, or 'review_mapping' to correct a mapping.")

	var charts []string
	if s.chartsEnabled() {
		charts = append(complianceCharts(res.Compliance), visuals.GenerateConfidenceChart(f.MappingResults, s.threshold))
	}
	return WrapResponse(res, warningMessages(f.Warnings), charts, guidance), nil
}

func readInput(in ProcessFileInput) (stats.Table, string, error) {
	opts := ingest.Options{Sheet: in.Sheet}
	switch {
	case in.Path != "":
		name := in.Name
		if name == "" {
			name = filepath.Base(in.Path)
		}
		tbl, err := ingest.ReadFile(in.Path, opts)
		return tbl, name, err
	case in.Content != "":
		name := in.Name
		if name == "" {
			name = "inline.csv"
		}
		tbl, err := ingest.ReadBytes(name, []byte(in.Content), opts)
		return tbl, name, err
	}
	return stats.Table{}, "", errors.New("either 'path' or 'content' is required")
}

func (s *Server) handleListFiles(ctx context.Context, in ListFilesInput) (any, error) {
	status := store.FileStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	switch status {
	case "", store.StatusPending, store.StatusProcessing, store.StatusCompleted, store.StatusError:
	default:
		return nil, fmt.Errorf("unknown status %q", in.Status)
	}

	files, err := s.orch.Store().ListFiles(ctx, store.FileFilter{Period: strings.TrimSpace(in.Period), Status: status})
	if err != nil {
		return nil, err
	}
	res := map[string]any{
		"files": files,
		"count": len(files),
	}
	var guidance []string
	if len(files) == 0 {
		guidance = append(guidance, "No files match. Use 'process_file' to ingest a disclosure.")
	}
	return WrapResponse(res, nil, nil, guidance), nil
}

func (s *Server) handleRemoveFile(ctx context.Context, in RemoveFileInput) (any, error) {
	if in.FileID <= 0 {
		return nil, errors.New("'file_id' must be positive")
	}
	res, err := s.orch.RemoveFile(ctx, in.FileID)
	if err != nil {
		return nil, err
	}
	guidance := []string{fmt.Sprintf("File %d removed; %d running total(s) were reduced.", in.FileID, len(res.Reversals))}
	guidance = append(guidance, complianceGuidance(res.Compliance)...)
	return WrapResponse(res, nil, nil, guidance), nil
}

func (s *Server) handleReviewMapping(ctx context.Context, in ReviewMappingInput) (any, error) {
	if in.FileID <= 0 || strings.TrimSpace(in.RawLabel) == "" {
		return nil, errors.New("'file_id' and 'raw_label' are required")
	}
	res, err := s.orch.ReviewMapping(ctx, in.FileID, in.RawLabel, in.Approve)
	if err != nil {
		return nil, err
	}
	var guidance []string
	if res.Reversal != nil {
		guidance = append(guidance, fmt.Sprintf("Removed %.4g %s from %s.", res.Reversal.Value, res.Mapping.Unit, res.Reversal.KPIID))
	}
	guidance = append(guidance, complianceGuidance(res.Compliance)...)
	return WrapResponse(res, nil, nil, guidance), nil
}

func (s *Server) handleMatchLabel(ctx context.Context, in MatchLabelInput) (any, error) {
	if strings.TrimSpace(in.Label) == "" {
		return nil, errors.New("'label' is required")
	}
	d := s.matcher.MatchLabel(ctx, in.Label, in.Unit, in.Samples)

	var warnings, guidance []string
	if d.Error != "" {
		warnings = append(warnings, d.Error)
	}
	switch {
	case !d.Resolved():
		guidance = append(guidance, "No KPI matched. Add a unit or sample values, or rephrase the label.")
	case d.Confidence >= s.threshold:
		guidance = append(guidance, fmt.Sprintf("Maps to %s (%s) with confidence %.2f; values would contribute to its running total.", d.BestMatch.KPI.Name, d.KPIID(), d.Confidence))
	default:
		guidance = append(guidance, fmt.Sprintf("Best match %s has confidence %.2f, below the %.2f needed to contribute.", d.KPIID(), d.Confidence, s.threshold))
	}
	return WrapResponse(d, warnings, nil, guidance), nil
}

func (s *Server) handleConvertUnit(_ context.Context, in ConvertUnitInput) (any, error) {
	res := s.units.Convert(in.Value, in.FromUnit, in.ToUnit)
	var warnings []string
	if !res.IsValid {
		warnings = append(warnings, res.Message)
	}
	return WrapResponse(res, warnings, nil, nil), nil
}

func (s *Server) handleCheckUnitCompatibility(_ context.Context, in UnitPairInput) (any, error) {
	res := s.units.CheckCompatibility(in.FromUnit, in.ToUnit)
	var guidance []string
	if res.Compatible {
		guidance = append(guidance, "Use 'convert_unit' to convert values.")
	}
	return WrapResponse(res, nil, nil, guidance), nil
}

func (s *Server) handleGetCumulativeTotals(ctx context.Context, in TotalsInput) (any, error) {
	st := s.orch.Store()
	if id := strings.TrimSpace(in.KPIID); id != "" {
		total, err := st.GetCumulative(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, fmt.Errorf("no running total for %q yet", id)
			}
			return nil, err
		}
		return WrapResponse(total, nil, nil, nil), nil
	}

	totals, err := st.ListCumulative(ctx)
	if err != nil {
		return nil, err
	}
	var charts, guidance []string
	if len(totals) == 0 {
		guidance = append(guidance, "No totals yet. Use 'process_file' to ingest a disclosure.")
	}
	if s.chartsEnabled() {
		charts = totalsCharts(totals)
	}
	return WrapResponse(totals, nil, charts, guidance), nil
}

func (s *Server) handleCheckCompliance(ctx context.Context, in CheckComplianceInput) (any, error) {
	if strings.TrimSpace(in.Period) == "" {
		return nil, errors.New("'period' is required")
	}
	res, err := s.orch.CheckCompliance(ctx, strings.TrimSpace(in.Period), normalizeStandard(in.Standard))
	if err != nil {
		var unknown *compliance.UnknownStandardError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w; call 'list_frameworks' for the supported ids", err)
		}
		return nil, err
	}
	var charts []string
	if s.chartsEnabled() {
		charts = complianceCharts(res)
	}
	return WrapResponse(res, nil, charts, complianceGuidance(res)), nil
}

func (s *Server) handleListFrameworks(_ context.Context, _ ListFrameworksInput) (any, error) {
	list := s.scorer.Frameworks().List()
	summary := make([]map[string]any, 0, len(list))
	for _, f := range list {
		summary = append(summary, map[string]any{
			"id":           f.ID,
			"name":         f.Name,
			"description":  f.Description,
			"critical":     f.Count(compliance.LevelCritical),
			"important":    f.Count(compliance.LevelImportant),
			"optional":     f.Count(compliance.LevelOptional),
			"requirements": f.Requirements,
		})
	}
	return WrapResponse(summary, nil, nil, []string{"Pass the 'id' as 'standard' to 'process_file' or 'check_compliance'."}), nil
}
