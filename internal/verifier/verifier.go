// Package verifier compares actual fees against contractual expectations and
// scores how much each verdict can be trusted. Confidence categorizes results
// for reviewer attention; it never excludes a transaction.
package verifier

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/extractor"
	"fee-verification-service/internal/feecalc"
	"fee-verification-service/internal/models"
	"fee-verification-service/internal/reserve"
	"fee-verification-service/internal/rules"
	"fee-verification-service/pkg/logger"
)

// Config holds comparison tolerances and confidence thresholds. All of these
// are surfaced as CLI flags; nothing here is baked into calculation code.
type Config struct {
	// Tolerance is the absolute difference treated as equal.
	Tolerance decimal.Decimal
	// HighThreshold and QuestionableThreshold bound the confidence bands:
	// >= high, >= questionable, below.
	HighThreshold         float64
	QuestionableThreshold float64
	// AssumptionPenalty multiplies confidence once per recorded assumption;
	// AmbiguityPenalty once per ambiguity.
	AssumptionPenalty float64
	AmbiguityPenalty  float64
}

// DefaultConfig returns the standard verifier thresholds.
func DefaultConfig() *Config {
	return &Config{
		Tolerance:             decimal.NewFromFloat(0.01),
		HighThreshold:         0.8,
		QuestionableThreshold: 0.5,
		AssumptionPenalty:     0.95,
		AmbiguityPenalty:      0.9,
	}
}

// Validate checks threshold ordering and ranges.
func (c *Config) Validate() error {
	if c.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance cannot be negative: %s", c.Tolerance)
	}
	if c.HighThreshold < c.QuestionableThreshold {
		return fmt.Errorf("high threshold %v below questionable threshold %v", c.HighThreshold, c.QuestionableThreshold)
	}
	for _, p := range []float64{c.AssumptionPenalty, c.AmbiguityPenalty} {
		if p <= 0 || p > 1 {
			return fmt.Errorf("penalty multipliers must be in (0,1], got %v", p)
		}
	}
	return nil
}

// RowContext carries per-row inputs the verifier does not compute itself:
// the reserve application for this transaction, sheet-level schema findings,
// and the monthly volume for tier selection when known.
type RowContext struct {
	Reserve           *reserve.Application
	SchemaAssumptions []string
	SchemaAmbiguities []string
	MonthlyVolume     *decimal.Decimal
}

// Verifier produces one VerificationResult per extracted record.
type Verifier struct {
	matcher *rules.Matcher
	calc    *feecalc.Calculator
	config  *Config
	logger  logger.Logger
}

// NewVerifier wires a matcher and calculator for one contract.
func NewVerifier(contract *rules.Contract, matcherConfig *rules.MatcherConfig, calcConfig *feecalc.Config, config *Config) (*Verifier, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid verifier config: %w", err)
	}

	matcher, err := rules.NewMatcher(contract, matcherConfig)
	if err != nil {
		return nil, err
	}
	calc, err := feecalc.NewCalculator(contract, calcConfig)
	if err != nil {
		return nil, err
	}

	return &Verifier{
		matcher: matcher,
		calc:    calc,
		config:  config,
		logger:  logger.GetGlobalLogger().WithComponent("verifier"),
	}, nil
}

// Verify builds the complete verification result for one row. It is a pure
// function of its inputs: verifying the same row twice yields the same
// result.
func (v *Verifier) Verify(ex *extractor.ExtractedRecord, rowCtx *RowContext) *models.VerificationResult {
	if rowCtx == nil {
		rowCtx = &RowContext{}
	}
	rec := ex.Record

	result := &models.VerificationResult{
		TransactionID: rec.TransactionID,
		SheetName:     rec.SheetName,
		PerFeeType:    make(map[models.FeeType]*models.FeeComparison),
	}
	result.Assumptions = append(result.Assumptions, ex.Assumptions...)

	match := v.matcher.Match(rec)

	if rec.Status.IsDeclined() {
		v.verifyDeclined(ex, result)
	} else {
		v.verifyRemuneration(ex, match, rowCtx, result)
		v.verifyReserve(ex, rowCtx, result)
		v.verifyFlat(ex, models.FeeChargeback, result)
		v.verifyFlat(ex, models.FeeRefund, result)
	}

	for _, fc := range result.PerFeeType {
		if fc.Status.IsError() {
			result.ErrorCount++
		}
	}

	v.scoreConfidence(ex, match, rowCtx, result)
	result.Reasoning = buildReasoning(ex, match, result)

	return result
}

// verifyDeclined enforces the declined invariant: every fee on a declined
// transaction has expected zero, and any nonzero actual is an error. The
// comparison is strict; the tolerance never excuses a charge here.
func (v *Verifier) verifyDeclined(ex *extractor.ExtractedRecord, result *models.VerificationResult) {
	for feeType, actual := range ex.Record.ActualFees {
		actualCopy := actual
		fc := &models.FeeComparison{
			Expected:   decimal.Zero,
			Actual:     &actualCopy,
			Difference: actualCopy,
		}
		switch {
		case actualCopy.IsZero():
			fc.Status = models.FeeCorrect
		case actualCopy.IsPositive():
			fc.Status = models.FeeOvercharged
		default:
			fc.Status = models.FeeUndercharged
		}
		result.PerFeeType[feeType] = fc
	}
	if len(result.PerFeeType) == 0 {
		// Nothing was charged; record the zero expectation explicitly.
		result.PerFeeType[models.FeeRemuneration] = &models.FeeComparison{
			Expected: decimal.Zero,
			Status:   models.FeeCorrect,
		}
	}
}

func (v *Verifier) verifyRemuneration(ex *extractor.ExtractedRecord, match *rules.RuleMatch, rowCtx *RowContext, result *models.VerificationResult) {
	rec := ex.Record
	if rec.Type != models.TransactionTypePayment && rec.Type != models.TransactionTypePayout {
		return
	}

	actual := actualOrNil(ex, models.FeeRemuneration)

	if !ex.HasAmount {
		result.PerFeeType[models.FeeRemuneration] = skipped(actual, models.FeeSkippedMissingData)
		return
	}
	if !match.Matched() {
		result.PerFeeType[models.FeeRemuneration] = skipped(actual, models.FeeSkippedMissingData)
		result.Assumptions = append(result.Assumptions, match.Reasons...)
		return
	}

	breakdown := v.calc.Remuneration(rec, match, rowCtx.MonthlyVolume)
	result.Assumptions = append(result.Assumptions, breakdown.Assumptions...)

	if actual == nil {
		fc := skipped(nil, models.FeeSkippedMissingData)
		fc.Expected = breakdown.Expected
		result.PerFeeType[models.FeeRemuneration] = fc
		return
	}
	result.PerFeeType[models.FeeRemuneration] = v.compare(actual, breakdown.Expected)
}

func (v *Verifier) verifyReserve(ex *extractor.ExtractedRecord, rowCtx *RowContext, result *models.VerificationResult) {
	actual := actualOrNil(ex, models.FeeRollingReserve)
	if rowCtx.Reserve == nil {
		if actual != nil {
			// A reserve was charged but no tracking context exists.
			result.PerFeeType[models.FeeRollingReserve] = skipped(actual, models.FeeSkippedMissingData)
		}
		return
	}

	if rowCtx.Reserve.OutOfOrder {
		result.Assumptions = append(result.Assumptions,
			"transaction date out of chronological order; reserve verified in arrival order")
	}

	if actual == nil {
		fc := skipped(nil, models.FeeSkippedMissingData)
		fc.Expected = rowCtx.Reserve.Withheld
		result.PerFeeType[models.FeeRollingReserve] = fc
		return
	}
	result.PerFeeType[models.FeeRollingReserve] = v.compare(actual, rowCtx.Reserve.Withheld)
}

func (v *Verifier) verifyFlat(ex *extractor.ExtractedRecord, feeType models.FeeType, result *models.VerificationResult) {
	rec := ex.Record
	actual := actualOrNil(ex, feeType)
	typeMatches := (feeType == models.FeeChargeback && rec.Type == models.TransactionTypeChargeback) ||
		(feeType == models.FeeRefund && rec.Type == models.TransactionTypeRefund)

	if actual == nil {
		if typeMatches {
			result.PerFeeType[feeType] = skipped(nil, models.FeeSkippedMissingData)
		}
		return
	}

	quantity := ex.Quantities[feeType]
	breakdown, err := v.calc.FlatFee(feeType, quantity, ex.FeeDetection[feeType])
	if err != nil {
		if feecalc.IsLowConfidence(err) {
			result.PerFeeType[feeType] = skipped(actual, models.FeeSkippedLowConfidence)
			result.Assumptions = append(result.Assumptions, err.Error())
			return
		}
		result.PerFeeType[feeType] = skipped(actual, models.FeeSkippedMissingData)
		return
	}

	result.PerFeeType[feeType] = v.compare(actual, breakdown.Expected)
}

// compare classifies actual against expected under the tolerance. The
// boundary is inclusive: a difference of exactly the tolerance is correct.
func (v *Verifier) compare(actual *decimal.Decimal, expected decimal.Decimal) *models.FeeComparison {
	fc := &models.FeeComparison{Expected: expected}
	if actual == nil {
		fc.Status = models.FeeSkippedMissingData
		return fc
	}

	fc.Actual = actual
	fc.Difference = actual.Sub(expected)

	if !expected.IsZero() {
		fc.DifferencePct = fc.Difference.Div(expected).Mul(decimal.NewFromInt(100)).Round(2)
	}

	switch {
	case fc.Difference.Abs().LessThanOrEqual(v.config.Tolerance):
		fc.Status = models.FeeCorrect
	case fc.Difference.IsPositive():
		fc.Status = models.FeeOvercharged
	default:
		fc.Status = models.FeeUndercharged
	}
	return fc
}

// scoreConfidence aggregates the overall confidence: the weaker of context
// and rule-match confidence, degraded per assumption and per ambiguity. A
// declined transaction with a nonzero charge is an error at confidence
// exactly 1.0 regardless of anything else.
func (v *Verifier) scoreConfidence(ex *extractor.ExtractedRecord, match *rules.RuleMatch, rowCtx *RowContext, result *models.VerificationResult) {
	if ex.Record.Status.IsDeclined() && result.ErrorCount > 0 {
		result.Confidence = 1.0
		result.Category = models.ConfidenceHigh
		return
	}

	confidence := math.Min(ex.Context.Confidence, match.Confidence)

	assumptions := len(result.Assumptions) + len(rowCtx.SchemaAssumptions)
	for i := 0; i < assumptions; i++ {
		confidence *= v.config.AssumptionPenalty
	}

	ambiguities := len(rowCtx.SchemaAmbiguities)
	if match.Ambiguous {
		ambiguities++
	}
	for i := 0; i < ambiguities; i++ {
		confidence *= v.config.AmbiguityPenalty
	}

	result.Confidence = confidence
	switch {
	case confidence >= v.config.HighThreshold:
		result.Category = models.ConfidenceHigh
	case confidence >= v.config.QuestionableThreshold:
		result.Category = models.ConfidenceMedium
	default:
		result.Category = models.ConfidenceQuestionable
	}
}

func buildReasoning(ex *extractor.ExtractedRecord, match *rules.RuleMatch, result *models.VerificationResult) string {
	var parts []string
	if len(ex.Context.Evidence) > 0 {
		parts = append(parts, ex.Context.Evidence...)
	}
	parts = append(parts, match.Reasons...)
	if ex.Record.Status.IsDeclined() {
		parts = append(parts, "declined transactions must carry no fees")
	}
	return strings.Join(parts, "; ")
}

func actualOrNil(ex *extractor.ExtractedRecord, feeType models.FeeType) *decimal.Decimal {
	if v, ok := ex.Record.ActualFees[feeType]; ok {
		return &v
	}
	return nil
}

func skipped(actual *decimal.Decimal, status models.FeeStatus) *models.FeeComparison {
	return &models.FeeComparison{Actual: actual, Status: status}
}
