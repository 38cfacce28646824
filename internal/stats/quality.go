package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Severity levels of data-quality findings.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Issue types raised by the quality pass.
const (
	IssueMissingField      = "missing_field"
	IssueUnparsableValue   = "unparsable_value"
	IssueUnitInconsistency = "unit_inconsistency"
	IssueOutlier           = "outlier"
	IssueDuplicateRecords  = "duplicate_records"
	IssueNegativeValue     = "negative_value"
)

// outlierSigma is the distance from the mean, in population standard deviations, beyond which a
// value is flagged.
const outlierSigma = 3.0

// QualityIssue is one finding. Label is empty for row-level problems with no usable label.
type QualityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Label    string `json:"label,omitempty"`
	RowRef   string `json:"row_ref,omitempty"`
	Message  string `json:"message"`
}

// QualityReport is the non-blocking result of the quality pass.
type QualityReport struct {
	Issues   []QualityIssue `json:"issues,omitempty"`
	Errors   int            `json:"errors"`
	Warnings int            `json:"warnings"`
	Score    float64        `json:"score"`
}

func (r *QualityReport) add(issue QualityIssue) {
	r.Issues = append(r.Issues, issue)
	switch issue.Severity {
	case SeverityError:
		r.Errors++
	case SeverityWarning:
		r.Warnings++
	}
}

// AssessQuality inspects the raw rows and the built groups. It never fails; findings lower the
// 0-100 score.
func AssessQuality(t Table, cols resolvedColumns, groups []RawKPIGroup) QualityReport {
	var r QualityReport

	// Row level: missing fields and unparsable values.
	for i, row := range t.Rows {
		ref := rowNumber(i)
		if cols.rowRef != "" && strings.TrimSpace(row[cols.rowRef]) != "" {
			ref = strings.TrimSpace(row[cols.rowRef])
		}
		label := strings.TrimSpace(row[cols.label])

		var missing []string
		for _, c := range []string{cols.label, cols.value, cols.unit} {
			if strings.TrimSpace(row[c]) == "" {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			r.add(QualityIssue{
				Type:     IssueMissingField,
				Severity: SeverityWarning,
				Label:    label,
				RowRef:   ref,
				Message:  "missing " + strings.Join(missing, ", "),
			})
		}

		raw := strings.TrimSpace(row[cols.value])
		if label != "" && raw != "" {
			if _, _, ok := ParseValue(raw); !ok {
				r.add(QualityIssue{
					Type:     IssueUnparsableValue,
					Severity: SeverityError,
					Label:    label,
					RowRef:   ref,
					Message:  fmt.Sprintf("value %q is not a number", raw),
				})
			}
		}
	}

	// Group level.
	for _, g := range groups {
		if !g.UnitConsistency {
			r.add(QualityIssue{
				Type:     IssueUnitInconsistency,
				Severity: SeverityWarning,
				Label:    g.RawLabel,
				Message:  "mixed units: " + strings.Join(g.Units, ", "),
			})
		}

		for _, rec := range g.Records {
			if rec.Value < 0 {
				r.add(QualityIssue{
					Type:     IssueNegativeValue,
					Severity: SeverityWarning,
					Label:    g.RawLabel,
					RowRef:   rec.RowRef,
					Message:  fmt.Sprintf("negative value %s", rec.RawValue),
				})
			}
		}

		if g.RecordCount >= 3 {
			values := g.Values()
			mean := CalculateMean(values)
			sd := CalculateStdDev(values)
			if sd > 0 {
				for _, rec := range g.Records {
					if math.Abs(rec.Value-mean) > outlierSigma*sd {
						r.add(QualityIssue{
							Type:     IssueOutlier,
							Severity: SeverityInfo,
							Label:    g.RawLabel,
							RowRef:   rec.RowRef,
							Message:  fmt.Sprintf("value %g is more than %g standard deviations from the mean %g", rec.Value, outlierSigma, mean),
						})
					}
				}
			}
		}

		seen := make(map[string]string)
		for _, rec := range g.Records {
			k := rec.Period + "\x00" + strconv.FormatFloat(rec.Value, 'g', -1, 64) + "\x00" + strings.ToLower(rec.Unit)
			if first, dup := seen[k]; dup {
				r.add(QualityIssue{
					Type:     IssueDuplicateRecords,
					Severity: SeverityWarning,
					Label:    g.RawLabel,
					RowRef:   rec.RowRef,
					Message:  fmt.Sprintf("duplicates %s", first),
				})
				continue
			}
			seen[k] = rec.RowRef
		}
	}

	r.Score = qualityScore(len(t.Rows), r)
	return r
}

// qualityScore deducts per finding relative to the table size, so a large file with a handful of
// problems still scores high.
func qualityScore(rows int, r QualityReport) float64 {
	if rows == 0 {
		return 0
	}
	infos := len(r.Issues) - r.Errors - r.Warnings
	penalty := (float64(r.Errors)*1.0 + float64(r.Warnings)*0.5 + float64(infos)*0.1) / float64(rows) * 100
	return math.Round(math.Max(0, 100-penalty)*10) / 10
}
