// Package parsers loads transaction sheets from CSV files into raw rows.
// Headers are kept verbatim; interpreting them is the normalizer's job.
package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "fee-verification-service/pkg/errors"
	"fee-verification-service/pkg/logger"
)

// Sheet is one loaded transaction sheet. Rows are keyed by the original
// header strings.
type Sheet struct {
	Name    string              `json:"name"`
	Path    string              `json:"path"`
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`

	// SkippedRows counts structurally unusable lines (wrong field count when
	// not recoverable, fully empty lines are not counted).
	SkippedRows int `json:"skipped_rows"`
}

// RowCount returns the number of data rows loaded.
func (s *Sheet) RowCount() int {
	return len(s.Rows)
}

// SheetParserConfig controls CSV reading behavior.
type SheetParserConfig struct {
	// Delimiter is the field separator. Zero means autodetect between comma
	// and semicolon from the header line.
	Delimiter rune
	// TrimSpaces trims whitespace around every cell.
	TrimSpaces bool
	// MaxErrors caps collected row errors before parsing aborts.
	MaxErrors int
	// ContinueOnError keeps parsing past malformed rows.
	ContinueOnError bool
}

// DefaultSheetParserConfig returns the standard parser configuration.
func DefaultSheetParserConfig() *SheetParserConfig {
	return &SheetParserConfig{
		Delimiter:       0,
		TrimSpaces:      true,
		MaxErrors:       100,
		ContinueOnError: true,
	}
}

// Validate checks the config.
func (c *SheetParserConfig) Validate() error {
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative, got %d", c.MaxErrors)
	}
	return nil
}

// SheetParser reads CSV transaction sheets.
type SheetParser struct {
	config *SheetParserConfig
	logger logger.Logger
}

// NewSheetParser creates a SheetParser.
func NewSheetParser(config *SheetParserConfig) (*SheetParser, error) {
	if config == nil {
		config = DefaultSheetParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SheetParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("sheet-parser"),
	}, nil
}

// ParseFile loads a sheet from disk. The sheet name is the file base name
// without extension.
func (p *SheetParser) ParseFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.FileError(apperrors.CodeFileNotFound, path, err)
		}
		return nil, apperrors.FileError(apperrors.CodeFilePermission, path, err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return p.Parse(f, name, path)
}

// Parse reads a sheet from a reader.
func (p *SheetParser) Parse(r io.Reader, name, path string) (*Sheet, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryFile, apperrors.CodeFileCorrupted,
			fmt.Sprintf("failed to read sheet %s", name))
	}
	text := stripBOM(string(content))
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.CategoryParse, apperrors.CodeInvalidFormat,
			fmt.Sprintf("sheet %s is empty", name)).
			WithSuggestion("Check that the file contains a header row and data")
	}

	delimiter := p.config.Delimiter
	if delimiter == 0 {
		delimiter = detectDelimiter(text)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryParse, apperrors.CodeInvalidFormat,
			fmt.Sprintf("failed to read header of sheet %s", name))
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	sheet := &Sheet{Name: name, Path: path, Columns: columns}
	collector := apperrors.NewParseErrorCollector(p.config.MaxErrors, p.config.ContinueOnError)
	line := 1

	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			sheet.SkippedRows++
			parseErr := apperrors.NewEnhancedParseError(apperrors.CodeInvalidFormat,
				&apperrors.ParseContext{File: path, Line: line},
				fmt.Sprintf("malformed CSV row: %v", err), err)
			if !collector.Add(parseErr) {
				return nil, collector.GetSummary()
			}
			continue
		}

		if isEmptyRow(record) {
			continue
		}

		row := make(map[string]string, len(columns))
		for i, col := range columns {
			value := ""
			if i < len(record) {
				value = record[i]
			}
			if p.config.TrimSpaces {
				value = strings.TrimSpace(value)
			}
			row[col] = value
		}
		sheet.Rows = append(sheet.Rows, row)
	}

	if collector.HasErrors() {
		p.logger.WithFields(map[string]interface{}{
			"sheet":  name,
			"errors": len(collector.GetErrors()),
			"rows":   len(sheet.Rows),
		}).Warn("Sheet parsed with row errors")
	}

	p.logger.WithFields(map[string]interface{}{
		"sheet":   name,
		"rows":    len(sheet.Rows),
		"columns": len(columns),
	}).Debug("Sheet loaded")

	return sheet, nil
}

// ParseFiles loads several sheets, failing fast on the first unreadable file.
func (p *SheetParser) ParseFiles(paths []string) ([]*Sheet, error) {
	sheets := make([]*Sheet, 0, len(paths))
	for _, path := range paths {
		sheet, err := p.ParseFile(path)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

// detectDelimiter picks comma or semicolon based on which occurs more often
// in the first line.
func detectDelimiter(text string) rune {
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}
	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		return ';'
	}
	return ','
}

func isEmptyRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
