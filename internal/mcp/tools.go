package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProcessFileInput ingests one disclosure file.
type ProcessFileInput struct {
	Path     string `json:"path,omitempty" jsonschema:"Path of a CSV or XLSX file readable by the server"`
	Content  string `json:"content,omitempty" jsonschema:"Inline CSV content, used when path is empty"`
	Name     string `json:"name,omitempty" jsonschema:"Display name of the file. For inline content the extension selects the format"`
	FileID   int64  `json:"file_id,omitempty" jsonschema:"Id of an earlier file to reprocess. Contributions already counted are not added again"`
	Period   string `json:"period,omitempty" jsonschema:"Reporting period. Derived from the data when empty"`
	Standard string `json:"standard,omitempty"`
	Sheet    string `json:"sheet,omitempty" jsonschema:"Worksheet of an XLSX file. Defaults to the first sheet with data"`
}

// MatchLabelInput resolves a single label without touching any totals.
type MatchLabelInput struct {
	Label   string    `json:"label" jsonschema:"Raw KPI label as written in the source file"`
	Unit    string    `json:"unit,omitempty" jsonschema:"Unit written next to the values"`
	Samples []float64 `json:"samples,omitempty" jsonschema:"A few reported values, used for plausibility checks"`
}

// ConvertUnitInput converts one value.
type ConvertUnitInput struct {
	Value    float64 `json:"value"`
	FromUnit string  `json:"from_unit"`
	ToUnit   string  `json:"to_unit"`
}

// UnitPairInput names two units.
type UnitPairInput struct {
	FromUnit string `json:"from_unit"`
	ToUnit   string `json:"to_unit"`
}

// TotalsInput selects running totals.
type TotalsInput struct {
	KPIID string `json:"kpi_id,omitempty" jsonschema:"Taxonomy id of one KPI. Empty lists every total"`
}

// CheckComplianceInput scores a period.
type CheckComplianceInput struct {
	Period   string `json:"period" jsonschema:"Reporting period to score"`
	Standard string `json:"standard,omitempty"`
}

// ListFrameworksInput takes no arguments.
type ListFrameworksInput struct{}

// ListFilesInput filters processed files.
type ListFilesInput struct {
	Period string `json:"period,omitempty"`
	Status string `json:"status,omitempty" jsonschema:"PENDING, PROCESSING, COMPLETED or ERROR"`
}

// RemoveFileInput removes a file and its contributions.
type RemoveFileInput struct {
	FileID int64 `json:"file_id"`
}

// ReviewMappingInput approves or rejects one mapping of a file.
type ReviewMappingInput struct {
	FileID   int64  `json:"file_id"`
	RawLabel string `json:"raw_label" jsonschema:"Raw label of the mapping, matched without regard to case"`
	Approve  bool   `json:"approve" jsonschema:"True approves the mapping. False rejects it and reverses its contribution"`
}

func (s *Server) registerTools(srv *mcp.Server) error {
	standard := s.standardHint()

	// 1. Ingestion
	if err := addTool(srv, "process_file",
		"Ingest an ESG disclosure (CSV or XLSX), map its labels to the KPI taxonomy, convert units, add accepted values to the running totals and check compliance for the period.",
		standard, s.handleProcessFile); err != nil {
		return err
	}
	if err := addTool(srv, "list_files",
		"List processed files with their status, detected KPIs and warnings.",
		nil, s.handleListFiles); err != nil {
		return err
	}
	if err := addTool(srv, "remove_file",
		"Remove a file: every value it added to the running totals is subtracted and its period is re-scored.",
		nil, s.handleRemoveFile); err != nil {
		return err
	}
	if err := addTool(srv, "review_mapping",
		"Approve or reject the KPI chosen for one label of a processed file. Rejecting reverses the file's contribution to that KPI.",
		nil, s.handleReviewMapping); err != nil {
		return err
	}

	// 2. Matching and units
	if err := addTool(srv, "match_label",
		"Resolve a raw label to the closest taxonomy KPI and show the confidence breakdown. Nothing is stored.",
		nil, s.handleMatchLabel); err != nil {
		return err
	}
	if err := addTool(srv, "convert_unit",
		"Convert a value between units (e.g. kg CO2e to tCO2e, GJ to MWh).",
		nil, s.handleConvertUnit); err != nil {
		return err
	}
	if err := addTool(srv, "check_unit_compatibility",
		"Check whether two units can be converted into each other, and why not.",
		nil, s.handleCheckUnitCompatibility); err != nil {
		return err
	}

	// 3. Totals and compliance
	if err := addTool(srv, "get_cumulative_totals",
		"Get the running total of every KPI (or one KPI) across all contributing files, in canonical units.",
		nil, s.handleGetCumulativeTotals); err != nil {
		return err
	}
	if err := addTool(srv, "check_compliance",
		"Score the completed files of a period against a regulatory framework: missing KPIs, category scores, mapping quality and recommendations.",
		standard, s.handleCheckCompliance); err != nil {
		return err
	}
	return addTool(srv, "list_frameworks",
		"List the supported regulatory frameworks and their required KPIs.",
		nil, s.handleListFrameworks)
}

// standardHint documents the known framework ids on the 'standard' argument.
func (s *Server) standardHint() func(*jsonschema.Schema) {
	ids := s.scorer.Frameworks().IDs()
	def := s.cfg.DefaultStandard
	if def == "" {
		def = "ISSB"
	}
	return func(sch *jsonschema.Schema) {
		if p, ok := sch.Properties["standard"]; ok {
			p.Description = fmt.Sprintf("Framework id, one of %s (case-insensitive). Defaults to %s", strings.Join(ids, ", "), def)
		}
	}
}

func addTool[In any](srv *mcp.Server, name, description string, tweak func(*jsonschema.Schema), fn func(context.Context, In) (any, error)) error {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to build input schema for %s: %w", name, err)
	}
	if tweak != nil {
		tweak(schema)
	}
	mcp.AddTool(srv, &mcp.Tool{Name: name, Description: description, InputSchema: schema}, handler(name, fn))
	return nil
}
