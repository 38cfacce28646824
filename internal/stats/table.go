package stats

import (
	"fmt"
	"strings"
)

// Table is one ingested file: a header and rows keyed by column name.
type Table struct {
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// ColumnMapping names the columns that carry each field of a disclosure row.
type ColumnMapping struct {
	Label  string `json:"label"`
	Value  string `json:"value"`
	Unit   string `json:"unit"`
	Period string `json:"period,omitempty"`
	RowRef string `json:"row_ref,omitempty"`
}

// DefaultColumnMapping is the layout produced by the ingestion adapters.
func DefaultColumnMapping() ColumnMapping {
	return ColumnMapping{
		Label:  "kpi",
		Value:  "value",
		Unit:   "unit",
		Period: "period",
		RowRef: "row",
	}
}

// Row is the typed record handed over by an ingestion collaborator.
type Row struct {
	RawLabel string
	Value    string
	Unit     string
	Period   string
	RowRef   string
}

// TableFromRows builds a Table in the default column layout.
func TableFromRows(rows []Row) Table {
	m := DefaultColumnMapping()
	t := Table{
		Columns: []string{m.Label, m.Value, m.Unit, m.Period, m.RowRef},
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, map[string]string{
			m.Label:  r.RawLabel,
			m.Value:  r.Value,
			m.Unit:   r.Unit,
			m.Period: r.Period,
			m.RowRef: r.RowRef,
		})
	}
	return t
}

// ValidationError reports required columns that are absent from a table. It aborts processing of
// the whole file.
type ValidationError struct {
	Missing   []string
	Available []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required columns: %s (available: %s)",
		strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}

// resolvedColumns holds the actual header names matched by a ColumnMapping. Optional columns are
// empty when absent.
type resolvedColumns struct {
	label, value, unit, period, rowRef string
}

func resolveColumns(t Table, m ColumnMapping) (resolvedColumns, error) {
	index := make(map[string]string, len(t.Columns))
	for _, c := range t.Columns {
		index[strings.ToLower(strings.TrimSpace(c))] = c
	}
	find := func(name string) (string, bool) {
		if name == "" {
			return "", false
		}
		col, ok := index[strings.ToLower(strings.TrimSpace(name))]
		return col, ok
	}

	var rc resolvedColumns
	var missing []string
	var ok bool
	if rc.label, ok = find(m.Label); !ok {
		missing = append(missing, orDefault(m.Label, "label"))
	}
	if rc.value, ok = find(m.Value); !ok {
		missing = append(missing, orDefault(m.Value, "value"))
	}
	if rc.unit, ok = find(m.Unit); !ok {
		missing = append(missing, orDefault(m.Unit, "unit"))
	}
	if len(missing) > 0 {
		return rc, &ValidationError{Missing: missing, Available: t.Columns}
	}
	rc.period, _ = find(m.Period)
	rc.rowRef, _ = find(m.RowRef)
	return rc, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
