package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"esg-mcp/internal/aggregator"
	"esg-mcp/internal/compliance"
	"esg-mcp/internal/matcher"
	"esg-mcp/internal/notify"
	"esg-mcp/internal/store"

	"github.com/rs/zerolog/log"
)

// CheckCompliance scores every completed file of period against standard and stores the result.
func (o *Orchestrator) CheckCompliance(ctx context.Context, period, standard string) (*compliance.Result, error) {
	if standard == "" {
		standard = o.opts.DefaultStandard
	}
	return o.score(ctx, period, strings.ToUpper(standard), nil)
}

// score gathers the mappings of the period's completed files, with current taking the place of
// its stored copy, and persists the result.
func (o *Orchestrator) score(ctx context.Context, period, standard string, current *store.FileRecord) (*compliance.Result, error) {
	files, err := o.store.ListFiles(ctx, store.FileFilter{Period: period, Status: store.StatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("failed to list files for %s: %w", period, err)
	}

	var mappings []compliance.Mapping
	for _, f := range files {
		if current != nil && f.ID == current.ID {
			continue
		}
		mappings = append(mappings, toMappings(f.MappingResults)...)
	}
	if current != nil {
		mappings = append(mappings, toMappings(current.MappingResults)...)
	}

	result, err := o.scorer.Score(period, standard, mappings)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode compliance result: %w", err)
	}
	rec := store.ComplianceRecord{
		Period:       period,
		Standard:     result.Standard,
		Status:       string(result.Status),
		OverallScore: result.OverallScore,
		Result:       data,
		CheckedAt:    result.CheckedAt,
	}
	if err := o.store.SaveCompliance(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save compliance result: %w", err)
	}
	return result, nil
}

// toMappings converts persisted mapping results; rejected mappings count as unmapped.
func toMappings(results []store.MappingResult) []compliance.Mapping {
	out := make([]compliance.Mapping, 0, len(results))
	for _, r := range results {
		m := compliance.Mapping{
			RawLabel:    r.RawLabel,
			KPIID:       r.KPIID,
			Confidence:  r.Confidence,
			RecordCount: r.RecordCount,
			Unit:        r.Unit,
		}
		if r.Review == matcher.ReviewRejected {
			m.KPIID = ""
			m.Confidence = 0
		}
		out = append(out, m)
	}
	return out
}

func impactOf(r *compliance.Result) *store.ComplianceImpact {
	return &store.ComplianceImpact{
		Standard:     r.Standard,
		Status:       string(r.Status),
		OverallScore: r.OverallScore,
		MissingKPIs:  len(r.MissingKPIs),
	}
}

// alert notifies when a check found gaps. Delivery failures are logged, never returned.
func (o *Orchestrator) alert(ctx context.Context, fileID int64, r *compliance.Result) {
	if o.notifier == nil || r.Status == compliance.StatusCompliant {
		return
	}
	severity := "warning"
	if r.Status == compliance.StatusCritical {
		severity = "critical"
	}
	a := notify.Alert{
		FileID:       fileID,
		Period:       r.Period,
		Standard:     r.Standard,
		Severity:     severity,
		OverallScore: r.OverallScore,
		Critical:     r.Count(compliance.SeverityCritical),
		Warnings:     r.Count(compliance.SeverityWarning),
		QualityIssue: len(r.QualityIssues),
		Message:      fmt.Sprintf("%s compliance for %s is %s (score %.1f)", r.Standard, r.Period, r.Status, r.OverallScore),
		RaisedAt:     time.Now().UTC(),
	}
	if err := o.notifier.Notify(ctx, a); err != nil {
		log.Warn().Err(err).Int64("file_id", fileID).Msg("Compliance alert not delivered")
	}
}

// Removal is the outcome of RemoveFile.
type Removal struct {
	FileID     int64                 `json:"file_id"`
	Reversals  []aggregator.Reversal `json:"reversals"`
	Compliance *compliance.Result    `json:"compliance,omitempty"`
}

// RemoveFile reverses every contribution of a file, deletes its record and rescores its period.
func (o *Orchestrator) RemoveFile(ctx context.Context, fileID int64) (*Removal, error) {
	file, err := o.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load file %d: %w", fileID, err)
	}

	reversals, err := o.agg.RemoveFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := o.store.DeleteFile(ctx, fileID); err != nil {
		return nil, fmt.Errorf("failed to delete file %d: %w", fileID, err)
	}
	out := &Removal{FileID: fileID, Reversals: reversals}
	log.Info().Int64("file_id", fileID).Int("reversals", len(reversals)).Msg("File removed")

	if file.Period != "" && file.Status == store.StatusCompleted {
		res, err := o.score(ctx, file.Period, file.Standard, nil)
		if err != nil {
			log.Warn().Err(err).Str("period", file.Period).Msg("Rescoring after removal failed")
		} else {
			out.Compliance = res
		}
	}
	return out, nil
}

// ReviewOutcome is the outcome of ReviewMapping.
type ReviewOutcome struct {
	Mapping    store.MappingResult  `json:"mapping"`
	Reversal   *aggregator.Reversal `json:"reversal,omitempty"`
	Compliance *compliance.Result   `json:"compliance,omitempty"`
}

// ReviewMapping approves or rejects one mapping of a processed file. Rejecting a mapping that
// contributed reverses the file's contribution to that KPI, which covers every label of the file
// merged into it.
func (o *Orchestrator) ReviewMapping(ctx context.Context, fileID int64, rawLabel string, approve bool) (*ReviewOutcome, error) {
	file, err := o.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load file %d: %w", fileID, err)
	}
	if file.Status != store.StatusCompleted {
		return nil, fmt.Errorf("file %d is %s, only completed files can be reviewed", fileID, file.Status)
	}

	idx := -1
	for i, mr := range file.MappingResults {
		if strings.EqualFold(strings.TrimSpace(mr.RawLabel), strings.TrimSpace(rawLabel)) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("file %d has no mapping for %q: %w", fileID, rawLabel, store.ErrNotFound)
	}
	mr := &file.MappingResults[idx]
	if mr.KPIID == "" {
		return nil, fmt.Errorf("mapping %q is unresolved and cannot be reviewed", mr.RawLabel)
	}

	out := &ReviewOutcome{}
	if approve {
		mr.Review = matcher.ReviewApproved
	} else {
		mr.Review = matcher.ReviewRejected
		if mr.Contributed {
			rev, err := o.agg.RemoveContribution(ctx, mr.KPIID, fileID)
			if err != nil && !store.IsNotFound(err) {
				return nil, err
			}
			out.Reversal = rev
			for i := range file.MappingResults {
				if file.MappingResults[i].KPIID == mr.KPIID {
					file.MappingResults[i].Contributed = false
				}
			}
		}
	}

	res, err := o.score(ctx, file.Period, file.Standard, file)
	if err != nil {
		log.Warn().Err(err).Int64("file_id", fileID).Msg("Rescoring after review failed")
	} else {
		out.Compliance = res
		file.ComplianceImpact = impactOf(res)
	}
	if err := o.store.UpdateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}
	out.Mapping = *mr

	log.Info().
		Int64("file_id", fileID).
		Str("label", mr.RawLabel).
		Str("kpi", mr.KPIID).
		Str("review", mr.Review).
		Msg("Mapping reviewed")
	return out, nil
}
