// Package reporter renders verification outcomes as human-readable text or
// machine-readable JSON.
package reporter

import (
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/engine"
	"fee-verification-service/internal/models"
	"fee-verification-service/pkg/logger"
)

// Format selects the report output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// IsValid checks if the format is supported
func (f Format) IsValid() bool {
	return f == FormatText || f == FormatJSON
}

// Config controls report generation.
type Config struct {
	Format Format
	// IncludeAllVerifications embeds every per-transaction result in the
	// JSON report, not only the flagged ones.
	IncludeAllVerifications bool
	// Tolerance and thresholds are echoed into report metadata so a report
	// is interpretable without the run's flags.
	Tolerance             decimal.Decimal
	HighThreshold         float64
	QuestionableThreshold float64
}

// DefaultConfig returns the standard report configuration.
func DefaultConfig() *Config {
	return &Config{
		Format:                  FormatText,
		IncludeAllVerifications: true,
		Tolerance:               decimal.NewFromFloat(0.01),
		HighThreshold:           0.8,
		QuestionableThreshold:   0.5,
	}
}

// Validate checks the report config.
func (c *Config) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid report format: %s", c.Format)
	}
	return nil
}

// Reporter generates verification reports.
type Reporter struct {
	config *Config
	logger logger.Logger
}

// NewReporter creates a Reporter.
func NewReporter(config *Config) (*Reporter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Reporter{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("reporter"),
	}, nil
}

// Generate writes the report for a run outcome to w.
func (r *Reporter) Generate(w io.Writer, outcome *engine.RunOutcome) error {
	switch r.config.Format {
	case FormatJSON:
		return r.generateJSON(w, outcome)
	default:
		return r.generateText(w, outcome)
	}
}

// Summary aggregates run-level counts and discrepancy totals.
type Summary struct {
	TotalTransactions int `json:"total_transactions"`

	CorrectCount      int `json:"correct_count"`
	OverchargedCount  int `json:"overcharged_count"`
	UnderchargedCount int `json:"undercharged_count"`
	SkippedCount      int `json:"skipped_count"`

	HighConfidenceCount   int `json:"high_confidence_count"`
	MediumConfidenceCount int `json:"medium_confidence_count"`
	QuestionableCount     int `json:"questionable_count"`
	MissingDataCount      int `json:"missing_data_count"`
	ErroneousCount        int `json:"erroneous_count"`

	// TotalDiscrepancy sums |difference| over every erroneous comparison.
	// CompleteDataDiscrepancy restricts the sum to transactions with no
	// missing data, since partial rows understate their true discrepancy.
	TotalDiscrepancy        decimal.Decimal `json:"-"`
	CompleteDataDiscrepancy decimal.Decimal `json:"-"`
}

// BuildSummary computes the summary for a run outcome.
func BuildSummary(outcome *engine.RunOutcome) *Summary {
	s := &Summary{
		TotalTransactions:       len(outcome.Results),
		TotalDiscrepancy:        decimal.Zero,
		CompleteDataDiscrepancy: decimal.Zero,
	}

	for _, result := range outcome.Results {
		for _, fc := range result.PerFeeType {
			switch fc.Status {
			case models.FeeCorrect:
				s.CorrectCount++
			case models.FeeOvercharged:
				s.OverchargedCount++
			case models.FeeUndercharged:
				s.UnderchargedCount++
			default:
				s.SkippedCount++
			}
		}

		switch result.Category {
		case models.ConfidenceHigh:
			s.HighConfidenceCount++
		case models.ConfidenceMedium:
			s.MediumConfidenceCount++
		default:
			s.QuestionableCount++
		}

		if result.HasMissingData() {
			s.MissingDataCount++
		}
		if result.ErrorCount > 0 {
			s.ErroneousCount++
			discrepancy := result.TotalAbsDiscrepancy()
			s.TotalDiscrepancy = s.TotalDiscrepancy.Add(discrepancy)
			if !result.HasMissingData() {
				s.CompleteDataDiscrepancy = s.CompleteDataDiscrepancy.Add(discrepancy)
			}
		}
	}

	return s
}

// feeError is one erroneous comparison flattened for reporting.
type feeError struct {
	Result     *models.VerificationResult
	FeeType    models.FeeType
	Comparison *models.FeeComparison
}

// erroneousByFeeType groups erroneous comparisons per fee type, each group
// sorted by absolute difference descending.
func erroneousByFeeType(outcome *engine.RunOutcome) map[models.FeeType][]feeError {
	grouped := make(map[models.FeeType][]feeError)
	for _, result := range outcome.Results {
		for _, feeType := range models.AllFeeTypes() {
			fc, ok := result.PerFeeType[feeType]
			if !ok || !fc.Status.IsError() {
				continue
			}
			grouped[feeType] = append(grouped[feeType], feeError{
				Result:     result,
				FeeType:    feeType,
				Comparison: fc,
			})
		}
	}
	for feeType := range grouped {
		group := grouped[feeType]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Comparison.Difference.Abs().GreaterThan(group[j].Comparison.Difference.Abs())
		})
	}
	return grouped
}

func questionableResults(outcome *engine.RunOutcome) []*models.VerificationResult {
	var out []*models.VerificationResult
	for _, result := range outcome.Results {
		if result.Category == models.ConfidenceQuestionable {
			out = append(out, result)
		}
	}
	return out
}

func missingDataResults(outcome *engine.RunOutcome) []*models.VerificationResult {
	var out []*models.VerificationResult
	for _, result := range outcome.Results {
		if result.HasMissingData() {
			out = append(out, result)
		}
	}
	return out
}
