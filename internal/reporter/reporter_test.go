package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/engine"
	"fee-verification-service/internal/models"
	"fee-verification-service/internal/parsers"
	"fee-verification-service/internal/rules"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func comparison(actual, expected string, status models.FeeStatus) *models.FeeComparison {
	a := dec(actual)
	return &models.FeeComparison{
		Actual:     &a,
		Expected:   dec(expected),
		Difference: a.Sub(dec(expected)),
		Status:     status,
	}
}

func sampleOutcome() *engine.RunOutcome {
	correct := &models.VerificationResult{
		TransactionID: "TX-OK",
		SheetName:     "January",
		PerFeeType: map[models.FeeType]*models.FeeComparison{
			models.FeeRemuneration: comparison("19.39", "19.39", models.FeeCorrect),
		},
		Confidence: 0.9,
		Category:   models.ConfidenceHigh,
	}

	bigError := &models.VerificationResult{
		TransactionID: "TX-BIG",
		SheetName:     "January",
		PerFeeType: map[models.FeeType]*models.FeeComparison{
			models.FeeRemuneration: comparison("25.00", "20.00", models.FeeOvercharged),
		},
		Confidence: 0.85,
		Category:   models.ConfidenceHigh,
		ErrorCount: 1,
	}

	smallError := &models.VerificationResult{
		TransactionID: "TX-SMALL",
		SheetName:     "January",
		PerFeeType: map[models.FeeType]*models.FeeComparison{
			models.FeeRemuneration: comparison("21.00", "20.00", models.FeeOvercharged),
			models.FeeRollingReserve: {
				Expected: dec("10.00"),
				Status:   models.FeeSkippedMissingData,
			},
		},
		Confidence: 0.6,
		Category:   models.ConfidenceMedium,
		ErrorCount: 1,
	}

	questionable := &models.VerificationResult{
		TransactionID: "TX-LOW",
		SheetName:     "January",
		PerFeeType: map[models.FeeType]*models.FeeComparison{
			models.FeeRemuneration: comparison("3.80", "3.80", models.FeeCorrect),
		},
		Confidence:  0.3,
		Category:    models.ConfidenceQuestionable,
		Assumptions: []string{"payment method unknown"},
		Reasoning:   "no payment context evidence",
	}

	results := []*models.VerificationResult{correct, bigError, smallError, questionable}
	sheet := &parsers.Sheet{
		Name:    "January",
		Columns: []string{"transaction_id", "amount"},
		Rows:    make([]map[string]string, len(results)),
	}

	return &engine.RunOutcome{
		Contract: &rules.Contract{Name: "Acme Agreement"},
		Sheets: []*engine.SheetOutcome{
			{Sheet: sheet, Results: results},
		},
		Results:              results,
		DetectionAssumptions: []string{"Mapped column 'comission' to commission"},
	}
}

func TestBuildSummary(t *testing.T) {
	s := BuildSummary(sampleOutcome())

	if s.TotalTransactions != 4 {
		t.Errorf("Expected 4 transactions, got %d", s.TotalTransactions)
	}
	if s.OverchargedCount != 2 {
		t.Errorf("Expected 2 overcharged checks, got %d", s.OverchargedCount)
	}
	if s.CorrectCount != 2 {
		t.Errorf("Expected 2 correct checks, got %d", s.CorrectCount)
	}
	if s.SkippedCount != 1 {
		t.Errorf("Expected 1 skipped check, got %d", s.SkippedCount)
	}
	if s.ErroneousCount != 2 {
		t.Errorf("Expected 2 erroneous transactions, got %d", s.ErroneousCount)
	}
	if s.QuestionableCount != 1 {
		t.Errorf("Expected 1 questionable transaction, got %d", s.QuestionableCount)
	}
	if s.MissingDataCount != 1 {
		t.Errorf("Expected 1 missing data transaction, got %d", s.MissingDataCount)
	}

	// 5.00 + 1.00 across both errors.
	if !s.TotalDiscrepancy.Equal(dec("6.00")) {
		t.Errorf("Expected total discrepancy 6.00, got %s", s.TotalDiscrepancy)
	}
	// TX-SMALL has missing data, so only TX-BIG counts.
	if !s.CompleteDataDiscrepancy.Equal(dec("5.00")) {
		t.Errorf("Expected complete-data discrepancy 5.00, got %s", s.CompleteDataDiscrepancy)
	}
}

func TestGenerateText_Sections(t *testing.T) {
	r, err := NewReporter(nil)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := r.Generate(&buf, sampleOutcome()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, section := range []string{
		"=== DETECTION ASSUMPTIONS ===",
		"=== SUMMARY ===",
		"=== BREAKDOWN BY SHEET ===",
		"=== ERRONEOUS TRANSACTIONS ===",
		"=== QUESTIONABLE TRANSACTIONS ===",
		"=== MISSING DATA TRANSACTIONS ===",
	} {
		if !strings.Contains(out, section) {
			t.Errorf("Expected section %q in report", section)
		}
	}

	if !strings.Contains(out, "TX-BIG") || !strings.Contains(out, "TX-SMALL") {
		t.Error("Expected erroneous transactions listed")
	}
	if !strings.Contains(out, "TX-LOW") {
		t.Error("Expected questionable transaction listed")
	}
	if !strings.Contains(out, "Acme Agreement") {
		t.Error("Expected contract name in header")
	}
}

func TestGenerateText_ErrorsSortedByDiscrepancy(t *testing.T) {
	r, _ := NewReporter(nil)
	var buf bytes.Buffer
	if err := r.Generate(&buf, sampleOutcome()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	big := strings.Index(out, "TX-BIG")
	small := strings.Index(out, "TX-SMALL")
	if big < 0 || small < 0 || big > small {
		t.Error("Expected larger discrepancy listed first")
	}
}

func TestGenerateText_EmptyRun(t *testing.T) {
	r, _ := NewReporter(nil)
	outcome := &engine.RunOutcome{
		Contract: &rules.Contract{Name: "Empty"},
	}

	var buf bytes.Buffer
	if err := r.Generate(&buf, outcome); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "None.") {
		t.Error("Expected explicit empty-section markers")
	}
}

func TestGenerateJSON_Structure(t *testing.T) {
	config := DefaultConfig()
	config.Format = FormatJSON
	r, err := NewReporter(config)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := r.Generate(&buf, sampleOutcome()); err != nil {
		t.Fatal(err)
	}

	var parsed struct {
		Metadata struct {
			RunID                string   `json:"run_id"`
			ContractName         string   `json:"contract_name"`
			SheetNames           []string `json:"sheet_names"`
			DetectionAssumptions []string `json:"detection_assumptions"`
			Tolerance            string   `json:"tolerance"`
		} `json:"metadata"`
		Summary struct {
			TotalTransactions int    `json:"total_transactions"`
			TotalDiscrepancy  string `json:"total_discrepancy"`
		} `json:"summary"`
		Erroneous    []json.RawMessage `json:"erroneous_transactions"`
		Questionable []json.RawMessage `json:"questionable_transactions"`
		Missing      []json.RawMessage `json:"missing_data_transactions"`
		All          []json.RawMessage `json:"all_verifications"`
	}
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("Report is not valid JSON: %v", err)
	}

	if parsed.Metadata.RunID == "" {
		t.Error("Expected a run ID")
	}
	if parsed.Metadata.ContractName != "Acme Agreement" {
		t.Errorf("Unexpected contract name %q", parsed.Metadata.ContractName)
	}
	if len(parsed.Metadata.SheetNames) != 1 || parsed.Metadata.SheetNames[0] != "January" {
		t.Errorf("Unexpected sheet names %v", parsed.Metadata.SheetNames)
	}
	if parsed.Metadata.Tolerance != "0.01" {
		t.Errorf("Expected tolerance echoed as string, got %q", parsed.Metadata.Tolerance)
	}
	if parsed.Summary.TotalTransactions != 4 {
		t.Errorf("Expected 4 transactions in summary, got %d", parsed.Summary.TotalTransactions)
	}
	if parsed.Summary.TotalDiscrepancy != "6.00" {
		t.Errorf("Expected total discrepancy as decimal string 6.00, got %q", parsed.Summary.TotalDiscrepancy)
	}
	if len(parsed.Erroneous) != 2 || len(parsed.Questionable) != 1 || len(parsed.Missing) != 1 {
		t.Errorf("Unexpected array lengths: %d/%d/%d", len(parsed.Erroneous), len(parsed.Questionable), len(parsed.Missing))
	}
	if len(parsed.All) != 4 {
		t.Errorf("Expected all 4 verifications embedded, got %d", len(parsed.All))
	}
}

func TestGenerateJSON_DecimalStringsInComparisons(t *testing.T) {
	config := DefaultConfig()
	config.Format = FormatJSON
	r, _ := NewReporter(config)

	var buf bytes.Buffer
	if err := r.Generate(&buf, sampleOutcome()); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), `"expected": "19.39"`) {
		t.Error("Expected fee amounts rendered as fixed-point strings")
	}
}

func TestNewReporter_InvalidFormat(t *testing.T) {
	config := DefaultConfig()
	config.Format = "xml"
	if _, err := NewReporter(config); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
