package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"esg-mcp/internal/stats"

	"github.com/xuri/excelize/v2"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffKPI,Value,Unit,Period\n" +
		"\n" +
		"Scope 1 emissions,\"1,234.5\",tCO2e,2024\n" +
		"Water withdrawal,500\n" +
		",,,\n" +
		"Employees,120,people,2024,extra\n"

	tbl, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}

	wantCols := []string{"KPI", "Value", "Unit", "Period"}
	if strings.Join(tbl.Columns, "|") != strings.Join(wantCols, "|") {
		t.Errorf("Columns = %v, want %v", tbl.Columns, wantCols)
	}
	if len(tbl.Rows) != 3 {
		t.Fatalf("len(Rows) = %d, want 3", len(tbl.Rows))
	}

	tests := []struct {
		row  int
		col  string
		want string
	}{
		{0, "Value", "1,234.5"},
		{0, "Unit", "tCO2e"},
		{1, "Unit", ""},
		{2, "Period", "2024"},
	}
	for _, tt := range tests {
		if got := tbl.Rows[tt.row][tt.col]; got != tt.want {
			t.Errorf("Rows[%d][%s] = %q, want %q", tt.row, tt.col, got, tt.want)
		}
	}
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("\n\n"))
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("ReadCSV() error = %v, want ErrEmpty", err)
	}
}

func TestReadCSV_DuplicateAndBlankHeaders(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("value,,Value\n1,2,3\n"))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	want := "value|column_2|Value_2"
	if got := strings.Join(tbl.Columns, "|"); got != want {
		t.Errorf("Columns = %s, want %s", got, want)
	}
}

func TestReadFile_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disclosure.xlsx")

	f := excelize.NewFile()
	if _, err := f.NewSheet("Data"); err != nil {
		t.Fatal(err)
	}
	rows := [][]any{
		{"Metric", "Amount", "UoM", "Year"},
		{"Scope 1 emissions", 1234.5, "tCO2e", 2024},
		{"Water withdrawal", 500, "m3", 2024},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Data", cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	// Sheet1 is empty, so the first sheet with data is picked.
	tbl, err := ReadFile(path, Options{})
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(tbl.Rows))
	}
	if got := tbl.Rows[0]["Amount"]; got != "1234.5" {
		t.Errorf("Amount = %q, want 1234.5", got)
	}

	m := DetectMapping(tbl.Columns)
	res, err := stats.Group(tbl, m)
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if len(res.Groups) != 2 {
		t.Errorf("len(Groups) = %d, want 2", len(res.Groups))
	}

	if _, err := ReadFile(path, Options{Sheet: "missing"}); err == nil {
		t.Error("ReadFile() with unknown sheet should fail")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	fromBytes, err := ReadBytes("upload.xlsx", data, Options{Sheet: "data"})
	if err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if len(fromBytes.Rows) != 2 {
		t.Errorf("ReadBytes() rows = %d, want 2", len(fromBytes.Rows))
	}
}

func TestReadFile_Unsupported(t *testing.T) {
	if _, err := ReadFile("report.pdf", Options{}); err == nil {
		t.Error("ReadFile() should reject unsupported extensions")
	}
}

func TestDetectMapping(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		want    stats.ColumnMapping
	}{
		{
			name:    "default layout",
			columns: []string{"kpi", "value", "unit", "period", "row"},
			want:    stats.DefaultColumnMapping(),
		},
		{
			name:    "synonyms",
			columns: []string{"Indicator", "Reported_Value", "Unit of Measure", "Fiscal-Year"},
			want:    stats.ColumnMapping{Label: "Indicator", Value: "Reported_Value", Unit: "Unit of Measure", Period: "Fiscal-Year", RowRef: "row"},
		},
		{
			name:    "preference order",
			columns: []string{"name", "metric", "total", "amount"},
			want:    stats.ColumnMapping{Label: "metric", Value: "amount", Unit: "unit", Period: "period", RowRef: "row"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMapping(tt.columns); got != tt.want {
				t.Errorf("DetectMapping() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
