package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the type of transaction being verified
type TransactionType string

const (
	// TransactionTypePayment represents an incoming payment
	TransactionTypePayment TransactionType = "payment"
	// TransactionTypePayout represents an outgoing payout/withdrawal
	TransactionTypePayout TransactionType = "payout"
	// TransactionTypeRefund represents a refunded payment
	TransactionTypeRefund TransactionType = "refund"
	// TransactionTypeChargeback represents a disputed-transaction reversal
	TransactionTypeChargeback TransactionType = "chargeback"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypePayout, TransactionTypeRefund, TransactionTypeChargeback:
		return true
	default:
		return false
	}
}

// TransactionStatus represents the processing status of a transaction
type TransactionStatus string

const (
	StatusApproved TransactionStatus = "approved"
	StatusDeclined TransactionStatus = "declined"
	StatusPending  TransactionStatus = "pending"
	StatusUnknown  TransactionStatus = "unknown"
)

// String returns the string representation of TransactionStatus
func (s TransactionStatus) String() string {
	return string(s)
}

// IsDeclined returns true for declined transactions, which must carry zero fees
func (s TransactionStatus) IsDeclined() bool {
	return s == StatusDeclined
}

// FeeType identifies one verifiable fee component of a transaction
type FeeType string

const (
	FeeRemuneration   FeeType = "remuneration"
	FeeRollingReserve FeeType = "rolling_reserve"
	FeeChargeback     FeeType = "chargeback"
	FeeRefund         FeeType = "refund"
)

// String returns the string representation of FeeType
func (f FeeType) String() string {
	return string(f)
}

// DisplayName returns the fee type formatted for report headings
func (f FeeType) DisplayName() string {
	parts := strings.Split(string(f), "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// AllFeeTypes returns fee types in the fixed order reports display them
func AllFeeTypes() []FeeType {
	return []FeeType{FeeRemuneration, FeeRollingReserve, FeeChargeback, FeeRefund}
}

// FeeStatus classifies the outcome of comparing one fee type on one transaction
type FeeStatus string

const (
	// FeeCorrect means actual matched expected within tolerance
	FeeCorrect FeeStatus = "CORRECT"
	// FeeOvercharged means actual exceeded expected beyond tolerance
	FeeOvercharged FeeStatus = "OVERCHARGED"
	// FeeUndercharged means actual fell short of expected beyond tolerance
	FeeUndercharged FeeStatus = "UNDERCHARGED"
	// FeeSkippedLowConfidence means the fee column was detected below the
	// confidence floor and the comparison was deliberately refused
	FeeSkippedLowConfidence FeeStatus = "SKIPPED_LOW_CONFIDENCE"
	// FeeSkippedMissingData means the data needed for the comparison was absent
	FeeSkippedMissingData FeeStatus = "SKIPPED_MISSING_DATA"
)

// String returns the string representation of FeeStatus
func (s FeeStatus) String() string {
	return string(s)
}

// IsError returns true if the status represents a confirmed discrepancy
func (s FeeStatus) IsError() bool {
	return s == FeeOvercharged || s == FeeUndercharged
}

// IsSkipped returns true if the comparison was not performed
func (s FeeStatus) IsSkipped() bool {
	return s == FeeSkippedLowConfidence || s == FeeSkippedMissingData
}

// ConfidenceCategory buckets an overall confidence score for reporting.
// Confidence controls categorization and reviewer attention, never exclusion:
// no transaction is dropped for scoring low.
type ConfidenceCategory string

const (
	ConfidenceHigh         ConfidenceCategory = "high"
	ConfidenceMedium       ConfidenceCategory = "medium"
	ConfidenceQuestionable ConfidenceCategory = "questionable"
)

// String returns the string representation of ConfidenceCategory
func (c ConfidenceCategory) String() string {
	return string(c)
}

// TransactionRecord is one row of input transaction data after field
// normalization. Records are created once by the normalizer and read-only
// afterward.
type TransactionRecord struct {
	TransactionID string            `json:"transaction_id"`
	SheetName     string            `json:"sheet_name"`
	RowNumber     int               `json:"row_number"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Region        string            `json:"region,omitempty"`
	CardBrand     string            `json:"card_brand,omitempty"`
	Type          TransactionType   `json:"transaction_type"`
	Status        TransactionStatus `json:"status"`
	Date          time.Time         `json:"date"`

	// ActualFees maps fee type to the amount actually charged. A fee type
	// absent from the map means its column was not present or not parseable.
	ActualFees map[FeeType]decimal.Decimal `json:"actual_fees"`
}

// Validate performs basic validation on the TransactionRecord
func (t *TransactionRecord) Validate() error {
	if strings.TrimSpace(t.TransactionID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if t.Amount.IsNegative() {
		return fmt.Errorf("transaction amount cannot be negative: %s", t.Amount.String())
	}

	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}

	return nil
}

// String returns a string representation of the TransactionRecord
func (t *TransactionRecord) String() string {
	return fmt.Sprintf("TransactionRecord{ID: %s, Amount: %s %s, Type: %s, Status: %s}",
		t.TransactionID, t.Amount.String(), t.Currency, t.Type, t.Status)
}

// ActualFee returns the recorded actual amount for a fee type, and whether
// the column carried a value at all
func (t *TransactionRecord) ActualFee(fee FeeType) (decimal.Decimal, bool) {
	v, ok := t.ActualFees[fee]
	return v, ok
}

// FeeComparison captures the actual-vs-expected outcome for one fee type.
// Actual is nil when the source column was missing.
type FeeComparison struct {
	Actual        *decimal.Decimal `json:"actual"`
	Expected      decimal.Decimal  `json:"expected"`
	Difference    decimal.Decimal  `json:"difference"`
	DifferencePct decimal.Decimal  `json:"difference_pct"`
	Status        FeeStatus        `json:"status"`
}

// MarshalJSON renders decimal values as strings to avoid floating-point
// reexpression in the JSON report
func (fc *FeeComparison) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"expected":       fc.Expected.StringFixed(2),
		"status":         fc.Status,
		"difference":     fc.Difference.StringFixed(2),
		"difference_pct": fc.DifferencePct.StringFixed(2),
	}
	if fc.Actual != nil {
		out["actual"] = fc.Actual.StringFixed(2)
	} else {
		out["actual"] = nil
	}
	return json.Marshal(out)
}

// VerificationResult is the final per-transaction record. Exactly one is
// produced for every input row, no matter how many errors or ambiguities the
// row encountered.
type VerificationResult struct {
	TransactionID string                     `json:"transaction_id"`
	SheetName     string                     `json:"sheet_name"`
	PerFeeType    map[FeeType]*FeeComparison `json:"verifications"`
	Confidence    float64                    `json:"confidence"`
	Category      ConfidenceCategory         `json:"confidence_category"`
	Assumptions   []string                   `json:"assumptions"`
	Reasoning     string                     `json:"reasoning"`
	ErrorCount    int                        `json:"error_count"`
}

// HasMissingData returns true if any fee type on this transaction was
// skipped for missing data
func (v *VerificationResult) HasMissingData() bool {
	for _, fc := range v.PerFeeType {
		if fc.Status == FeeSkippedMissingData {
			return true
		}
	}
	return false
}

// TotalAbsDiscrepancy sums |difference| across all erroneous fee types
func (v *VerificationResult) TotalAbsDiscrepancy() decimal.Decimal {
	total := decimal.Zero
	for _, fc := range v.PerFeeType {
		if fc.Status.IsError() {
			total = total.Add(fc.Difference.Abs())
		}
	}
	return total
}

// Utility functions shared across the verification pipeline

// RoundMoney rounds a monetary amount to 2 decimal places using round-half-up
// (5.005 becomes 5.01). Applied once at the end of each fee component, never
// after intermediate multiplications.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ParseDecimalFromString parses a decimal value from string with validation,
// tolerating currency symbols and thousand separators
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	replacer := strings.NewReplacer("€", "", "$", "", "£", "", ",", "", " ", "")
	s = replacer.Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTransactionType parses a transaction type from its many spreadsheet
// spellings, defaulting to payment for sale-like values
func ParseTransactionType(s string) TransactionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "payout", "withdrawal", "oct":
		return TransactionTypePayout
	case "refund", "reversal":
		return TransactionTypeRefund
	case "chargeback", "chb", "cb":
		return TransactionTypeChargeback
	default:
		return TransactionTypePayment
	}
}

// ParseTransactionStatus parses a transaction status string, treating
// unrecognized values as unknown rather than failing the row
func ParseTransactionStatus(s string) TransactionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "success", "successful", "completed", "ok":
		return StatusApproved
	case "declined", "failed", "rejected", "error":
		return StatusDeclined
	case "pending", "processing", "in_progress":
		return StatusPending
	default:
		return StatusUnknown
	}
}

// ParseTimeWithFormats attempts to parse time from string using common
// spreadsheet formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02.01.2006",
		"02.01.2006 15:04:05",
		"01/02/2006",
		"2006/01/02",
		"Jan 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// SyntheticTransactionID builds a row-derived transaction ID used when no
// natural ID column is detected with sufficient confidence
func SyntheticTransactionID(sheetName string, rowNumber int) string {
	if sheetName == "" {
		return fmt.Sprintf("Row%d", rowNumber)
	}
	return fmt.Sprintf("%s:Row%d", sheetName, rowNumber)
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
