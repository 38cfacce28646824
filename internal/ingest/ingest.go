package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"esg-mcp/internal/stats"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// ErrEmpty is returned for files with no header row.
var ErrEmpty = errors.New("file has no header row")

// Options selects what to read.
type Options struct {
	// Sheet names the worksheet of an XLSX file. Empty picks the first sheet with data.
	Sheet string
}

// ReadFile reads a CSV or XLSX file into a table, choosing the format by extension.
func ReadFile(path string, opts Options) (stats.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return stats.Table{}, fmt.Errorf("failed to open workbook %s: %w", path, err)
		}
		defer f.Close()
		return readWorkbook(f, opts.Sheet)
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return stats.Table{}, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		return ReadCSV(f)
	default:
		return stats.Table{}, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// ReadBytes reads in-memory content; name only selects the format.
func ReadBytes(name string, data []byte, opts Options) (stats.Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return stats.Table{}, fmt.Errorf("failed to open workbook %s: %w", name, err)
		}
		defer f.Close()
		return readWorkbook(f, opts.Sheet)
	default:
		return ReadCSV(bytes.NewReader(data))
	}
}

// ReadCSV parses delimited text. The first non-blank record is the header; ragged rows are
// padded or truncated to the header width.
func ReadCSV(r io.Reader) (stats.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return stats.Table{}, fmt.Errorf("failed to parse csv: %w", err)
	}
	return buildTable(records)
}

func readWorkbook(f *excelize.File, sheet string) (stats.Table, error) {
	sheets := f.GetSheetList()
	if sheet != "" {
		found := false
		for _, s := range sheets {
			if strings.EqualFold(s, sheet) {
				sheet, found = s, true
				break
			}
		}
		if !found {
			return stats.Table{}, fmt.Errorf("sheet %q not found (available: %s)", sheet, strings.Join(sheets, ", "))
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return stats.Table{}, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		return buildTable(rows)
	}

	for _, s := range sheets {
		rows, err := f.GetRows(s)
		if err != nil {
			return stats.Table{}, fmt.Errorf("failed to read sheet %s: %w", s, err)
		}
		if len(rows) > 0 {
			log.Debug().Str("sheet", s).Int("rows", len(rows)).Msg("Reading worksheet")
			return buildTable(rows)
		}
	}
	return stats.Table{}, ErrEmpty
}

func buildTable(records [][]string) (stats.Table, error) {
	// 1. Header: first non-blank record
	start := -1
	for i, rec := range records {
		if !blank(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return stats.Table{}, ErrEmpty
	}

	header := make([]string, len(records[start]))
	seen := make(map[string]int)
	for i, h := range records[start] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[strings.ToLower(h)]; n > 0 {
			h = fmt.Sprintf("%s_%d", h, n+1)
		}
		seen[strings.ToLower(h)]++
		header[i] = h
	}

	// 2. Rows
	t := stats.Table{Columns: header}
	for _, rec := range records[start+1:] {
		if blank(rec) {
			continue
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			} else {
				row[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Header synonyms per field, in order of preference.
var synonyms = map[string][]string{
	"label":  {"kpi", "metric", "indicator", "label", "kpi name", "metric name", "description", "item", "name"},
	"value":  {"value", "amount", "quantity", "total", "reported value", "figure"},
	"unit":   {"unit", "units", "uom", "unit of measure", "measure"},
	"period": {"period", "year", "reporting period", "fiscal year", "fy", "date"},
	"row":    {"row", "row ref", "ref", "reference", "id"},
}

// DetectMapping guesses which columns carry label, value, unit, period and row reference, falling
// back to the default layout for fields it cannot place.
func DetectMapping(columns []string) stats.ColumnMapping {
	index := make(map[string]string, len(columns))
	for _, c := range columns {
		key := strings.ToLower(strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(c)))
		if _, ok := index[key]; !ok {
			index[key] = c
		}
	}
	pick := func(field, def string) string {
		for _, s := range synonyms[field] {
			if col, ok := index[s]; ok {
				return col
			}
		}
		return def
	}

	d := stats.DefaultColumnMapping()
	return stats.ColumnMapping{
		Label:  pick("label", d.Label),
		Value:  pick("value", d.Value),
		Unit:   pick("unit", d.Unit),
		Period: pick("period", d.Period),
		RowRef: pick("row", d.RowRef),
	}
}
