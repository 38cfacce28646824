package store

import (
	"slices"
	"time"
)

// FileStatus is the processing state of an ingested file.
type FileStatus string

const (
	StatusPending    FileStatus = "PENDING"
	StatusProcessing FileStatus = "PROCESSING"
	StatusCompleted  FileStatus = "COMPLETED"
	StatusError      FileStatus = "ERROR"
)

// Warning is a non-fatal finding attached to a file.
type Warning struct {
	Kind    string `json:"kind"`
	Label   string `json:"label,omitempty"`
	KPIID   string `json:"kpi_id,omitempty"`
	Message string `json:"message"`
}

// MappingResult is the persisted outcome of resolving one raw label of a file.
type MappingResult struct {
	RawLabel    string  `json:"raw_label"`
	KPIID       string  `json:"kpi_id,omitempty"`
	KPIName     string  `json:"kpi_name,omitempty"`
	Confidence  float64 `json:"confidence"`
	RecordCount int     `json:"record_count"`
	Unit        string  `json:"unit,omitempty"`
	Value       float64 `json:"value"`
	Period      string  `json:"period,omitempty"`
	Review      string  `json:"review"`
	Contributed bool    `json:"contributed"`
}

// ComplianceImpact summarises the compliance check run after a file was aggregated.
type ComplianceImpact struct {
	Standard     string  `json:"standard"`
	Status       string  `json:"status"`
	OverallScore float64 `json:"overall_score"`
	MissingKPIs  int     `json:"missing_kpis"`
}

// FileRecord is the per-file processing artifact.
type FileRecord struct {
	ID               int64             `json:"id"`
	RunID            string            `json:"run_id,omitempty"`
	Name             string            `json:"name"`
	Period           string            `json:"period,omitempty"`
	Standard         string            `json:"standard,omitempty"`
	Status           FileStatus        `json:"status"`
	DetectedKPIs     int               `json:"detected_kpis"`
	ProcessedRecords int               `json:"processed_records"`
	MappingResults   []MappingResult   `json:"mapping_results,omitempty"`
	ComplianceImpact *ComplianceImpact `json:"compliance_impact,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	ErrorDetails     string            `json:"error_details,omitempty"`
	Warnings         []Warning         `json:"warnings,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// FileFilter narrows ListFiles. Empty fields match everything.
type FileFilter struct {
	Period string
	Status FileStatus
}

func (f FileFilter) match(r FileRecord) bool {
	return (f.Period == "" || r.Period == f.Period) && (f.Status == "" || r.Status == f.Status)
}

// StandardKPI is the persisted copy of a taxonomy entry.
type StandardKPI struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Unit     string `json:"unit"`
	Active   bool   `json:"active"`
}

// CumulativeKPI is the running total of one KPI across files.
type CumulativeKPI struct {
	KPIID               string    `json:"kpi_id"`
	DisplayName         string    `json:"display_name"`
	CumulativeValue     float64   `json:"cumulative_value"`
	Unit                string    `json:"unit"`
	RecordCount         int       `json:"record_count"`
	ContributingFileIDs []int64   `json:"contributing_file_ids"`
	LastUpdated         time.Time `json:"last_updated"`
}

// HasFile reports whether fileID contributes to the total.
func (c *CumulativeKPI) HasFile(fileID int64) bool {
	return slices.Contains(c.ContributingFileIDs, fileID)
}

// AddFile records fileID as a contributor, keeping the ids sorted and unique.
func (c *CumulativeKPI) AddFile(fileID int64) {
	i, found := slices.BinarySearch(c.ContributingFileIDs, fileID)
	if !found {
		c.ContributingFileIDs = slices.Insert(c.ContributingFileIDs, i, fileID)
	}
}

// RemoveFile drops fileID from the contributors.
func (c *CumulativeKPI) RemoveFile(fileID int64) {
	c.ContributingFileIDs = slices.DeleteFunc(c.ContributingFileIDs, func(id int64) bool { return id == fileID })
}

// Contribution is one ledger row: what a file added to a KPI.
type Contribution struct {
	KPIID            string    `json:"kpi_id"`
	SourceFileID     int64     `json:"source_file_id"`
	Period           string    `json:"period,omitempty"`
	ContributedValue float64   `json:"contributed_value"`
	RecordCount      int       `json:"record_count"`
	Confidence       float64   `json:"confidence"`
	MappingDetails   string    `json:"mapping_details,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ContributionFilter narrows ListContributions. Zero fields match everything.
type ContributionFilter struct {
	KPIID  string
	FileID int64
}

func (f ContributionFilter) match(c Contribution) bool {
	return (f.KPIID == "" || c.KPIID == f.KPIID) && (f.FileID == 0 || c.SourceFileID == f.FileID)
}

// ValueRecord is the resolved value a file reported for a KPI and period.
type ValueRecord struct {
	KPIID    string  `json:"kpi_id"`
	FileID   int64   `json:"file_id"`
	Period   string  `json:"period,omitempty"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	RawLabel string  `json:"raw_label,omitempty"`
}

// ComplianceRecord is a stored compliance check, keyed by period and standard. Result holds the
// full serialised report.
type ComplianceRecord struct {
	Period       string    `json:"period"`
	Standard     string    `json:"standard"`
	Status       string    `json:"status"`
	OverallScore float64   `json:"overall_score"`
	Result       []byte    `json:"result"`
	CheckedAt    time.Time `json:"checked_at"`
}
