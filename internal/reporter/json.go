package reporter

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"fee-verification-service/internal/engine"
	"fee-verification-service/internal/models"
)

// jsonReport is the machine-readable report shape. Monetary values render as
// fixed-point strings, never floats.
type jsonReport struct {
	Metadata jsonMetadata `json:"metadata"`
	Summary  jsonSummary  `json:"summary"`

	ErroneousTransactions    []*models.VerificationResult `json:"erroneous_transactions"`
	QuestionableTransactions []*models.VerificationResult `json:"questionable_transactions"`
	MissingDataTransactions  []*models.VerificationResult `json:"missing_data_transactions"`
	AllVerifications         []*models.VerificationResult `json:"all_verifications,omitempty"`
}

type jsonMetadata struct {
	GeneratedAt          string   `json:"generated_at"`
	RunID                string   `json:"run_id"`
	ContractName         string   `json:"contract_name"`
	SheetNames           []string `json:"sheet_names"`
	DetectionAssumptions []string `json:"detection_assumptions"`
	OrderViolations      []string `json:"order_violations,omitempty"`

	Tolerance             string  `json:"tolerance"`
	HighThreshold         float64 `json:"high_confidence_threshold"`
	QuestionableThreshold float64 `json:"questionable_threshold"`
}

type jsonSummary struct {
	*Summary
	TotalDiscrepancy        string `json:"total_discrepancy"`
	CompleteDataDiscrepancy string `json:"complete_data_discrepancy"`
}

func (r *Reporter) generateJSON(w io.Writer, outcome *engine.RunOutcome) error {
	summary := BuildSummary(outcome)

	report := jsonReport{
		Metadata: jsonMetadata{
			GeneratedAt:           time.Now().Format(time.RFC3339),
			RunID:                 uuid.New().String(),
			ContractName:          outcome.Contract.Name,
			DetectionAssumptions:  outcome.DetectionAssumptions,
			Tolerance:             r.config.Tolerance.StringFixed(2),
			HighThreshold:         r.config.HighThreshold,
			QuestionableThreshold: r.config.QuestionableThreshold,
		},
		Summary: jsonSummary{
			Summary:                 summary,
			TotalDiscrepancy:        summary.TotalDiscrepancy.StringFixed(2),
			CompleteDataDiscrepancy: summary.CompleteDataDiscrepancy.StringFixed(2),
		},
		ErroneousTransactions:    make([]*models.VerificationResult, 0),
		QuestionableTransactions: questionableOrEmpty(outcome),
		MissingDataTransactions:  missingOrEmpty(outcome),
	}

	for _, so := range outcome.Sheets {
		report.Metadata.SheetNames = append(report.Metadata.SheetNames, so.Sheet.Name)
		report.Metadata.OrderViolations = append(report.Metadata.OrderViolations, so.OrderViolations...)
	}

	for _, result := range outcome.Results {
		if result.ErrorCount > 0 {
			report.ErroneousTransactions = append(report.ErroneousTransactions, result)
		}
	}

	if r.config.IncludeAllVerifications {
		report.AllVerifications = outcome.Results
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func questionableOrEmpty(outcome *engine.RunOutcome) []*models.VerificationResult {
	out := questionableResults(outcome)
	if out == nil {
		out = make([]*models.VerificationResult, 0)
	}
	return out
}

func missingOrEmpty(outcome *engine.RunOutcome) []*models.VerificationResult {
	out := missingDataResults(outcome)
	if out == nil {
		out = make([]*models.VerificationResult, 0)
	}
	return out
}
