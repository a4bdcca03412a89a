package parsers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newParser(t *testing.T) *SheetParser {
	t.Helper()
	p, err := NewSheetParser(nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParse_BasicCSV(t *testing.T) {
	csv := "transaction_id,amount,currency\nTX-1,100.50,EUR\nTX-2,200.00,EUR\n"
	p := newParser(t)

	sheet, err := p.Parse(strings.NewReader(csv), "January", "january.csv")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if sheet.Name != "January" {
		t.Errorf("Expected sheet name January, got %q", sheet.Name)
	}
	if len(sheet.Columns) != 3 {
		t.Errorf("Expected 3 columns, got %v", sheet.Columns)
	}
	if sheet.RowCount() != 2 {
		t.Fatalf("Expected 2 rows, got %d", sheet.RowCount())
	}
	if sheet.Rows[0]["transaction_id"] != "TX-1" || sheet.Rows[1]["amount"] != "200.00" {
		t.Errorf("Unexpected row contents: %v", sheet.Rows)
	}
}

func TestParse_VerbatimHeaders(t *testing.T) {
	csv := "Номер,Сумма,Комиссия\n1,100,3.80\n"
	p := newParser(t)

	sheet, err := p.Parse(strings.NewReader(csv), "s", "s.csv")
	if err != nil {
		t.Fatal(err)
	}

	if sheet.Columns[0] != "Номер" {
		t.Errorf("Headers must be kept verbatim, got %v", sheet.Columns)
	}
	if sheet.Rows[0]["Сумма"] != "100" {
		t.Errorf("Expected row keyed by original header, got %v", sheet.Rows[0])
	}
}

func TestParse_SemicolonAutodetect(t *testing.T) {
	csv := "id;amount;currency\nTX-1;100,50;EUR\n"
	p := newParser(t)

	sheet, err := p.Parse(strings.NewReader(csv), "s", "s.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(sheet.Columns) != 3 {
		t.Fatalf("Expected semicolon detection, got columns %v", sheet.Columns)
	}
	if sheet.Rows[0]["amount"] != "100,50" {
		t.Errorf("Expected decimal comma preserved, got %q", sheet.Rows[0]["amount"])
	}
}

func TestParse_BOMStripped(t *testing.T) {
	csv := "\ufeffid,amount\nTX-1,100\n"
	p := newParser(t)

	sheet, err := p.Parse(strings.NewReader(csv), "s", "s.csv")
	if err != nil {
		t.Fatal(err)
	}
	if sheet.Columns[0] != "id" {
		t.Errorf("Expected BOM stripped from first header, got %q", sheet.Columns[0])
	}
}

func TestParse_EmptyAndShortRows(t *testing.T) {
	csv := "id,amount,currency\nTX-1,100,EUR\n,,\nTX-2,200\n"
	p := newParser(t)

	sheet, err := p.Parse(strings.NewReader(csv), "s", "s.csv")
	if err != nil {
		t.Fatal(err)
	}

	if sheet.RowCount() != 2 {
		t.Fatalf("Expected empty row dropped, got %d rows", sheet.RowCount())
	}
	// Short rows are padded with empty cells.
	if sheet.Rows[1]["currency"] != "" {
		t.Errorf("Expected missing trailing cell as empty, got %q", sheet.Rows[1]["currency"])
	}
}

func TestParse_EmptyFile(t *testing.T) {
	p := newParser(t)
	if _, err := p.Parse(strings.NewReader("   \n"), "s", "s.csv"); err == nil {
		t.Error("Expected error for empty sheet")
	}
}

func TestParse_TrimsCells(t *testing.T) {
	csv := "id,amount\n TX-1 , 100.50 \n"
	p := newParser(t)

	sheet, err := p.Parse(strings.NewReader(csv), "s", "s.csv")
	if err != nil {
		t.Fatal(err)
	}
	if sheet.Rows[0]["id"] != "TX-1" || sheet.Rows[0]["amount"] != "100.50" {
		t.Errorf("Expected trimmed cells, got %v", sheet.Rows[0])
	}
}

func TestParseFile_NameFromFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "March_2024.csv")
	if err := os.WriteFile(path, []byte("id,amount\nTX-1,100\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newParser(t)
	sheet, err := p.ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if sheet.Name != "March_2024" {
		t.Errorf("Expected sheet name from filename, got %q", sheet.Name)
	}
}

func TestParseFile_Missing(t *testing.T) {
	p := newParser(t)
	if _, err := p.ParseFile("/nonexistent/sheet.csv"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParseFiles_FailFast(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.csv")
	if err := os.WriteFile(good, []byte("id,amount\nTX-1,100\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newParser(t)
	if _, err := p.ParseFiles([]string{good, filepath.Join(dir, "missing.csv")}); err == nil {
		t.Error("Expected fail-fast on missing file")
	}

	sheets, err := p.ParseFiles([]string{good})
	if err != nil || len(sheets) != 1 {
		t.Errorf("Expected one parsed sheet, got %v / %v", sheets, err)
	}
}
