// Package feecalc computes contractual expected fees per transaction. All
// arithmetic is decimal; each fee component is rounded to cents exactly once,
// after the last multiplication.
package feecalc

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"fee-verification-service/internal/models"
	"fee-verification-service/internal/rules"
)

// ErrLowConfidence marks a flat-fee computation refused because the fee
// column's detection confidence sat below the configured floor. Callers
// translate it into a skipped status, never into a discrepancy.
var ErrLowConfidence = errors.New("fee column detected below confidence floor")

// Config holds the calculator thresholds.
type Config struct {
	// FeeConfidenceFloor is the minimum detection confidence required before
	// a flat fee is verified against its column.
	FeeConfidenceFloor float64
}

// DefaultConfig returns the standard calculator configuration.
func DefaultConfig() *Config {
	return &Config{FeeConfidenceFloor: 0.7}
}

// Validate checks config values are in range.
func (c *Config) Validate() error {
	if c.FeeConfidenceFloor < 0 || c.FeeConfidenceFloor > 1 {
		return fmt.Errorf("fee confidence floor must be in [0,1], got %v", c.FeeConfidenceFloor)
	}
	return nil
}

// Breakdown explains one expected fee amount.
type Breakdown struct {
	FeeType        models.FeeType  `json:"fee_type"`
	Expected       decimal.Decimal `json:"expected"`
	PercentagePart decimal.Decimal `json:"percentage_part"`
	FixedPart      decimal.Decimal `json:"fixed_part"`
	Method         string          `json:"method"`
	RuleID         string          `json:"rule_id,omitempty"`
	Assumptions    []string        `json:"assumptions,omitempty"`
}

// Calculator computes expected fees against a contract.
type Calculator struct {
	contract *rules.Contract
	config   *Config
}

// NewCalculator creates a Calculator.
func NewCalculator(contract *rules.Contract, config *Config) (*Calculator, error) {
	if contract == nil {
		return nil, fmt.Errorf("contract cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{contract: contract, config: config}, nil
}

// Remuneration computes the processing fee for a payment or payout using the
// matched rule. Payouts are additionally floored by the rule's minimum fee.
// Returns nil when the rule match is empty.
func (c *Calculator) Remuneration(rec *models.TransactionRecord, match *rules.RuleMatch, monthlyVolume *decimal.Decimal) *Breakdown {
	if match == nil || !match.Matched() {
		return nil
	}

	rate, fixed, tierAssumption := rules.SelectTier(match.Rule, monthlyVolume)

	b := &Breakdown{
		FeeType:        models.FeeRemuneration,
		PercentagePart: rec.Amount.Mul(rate),
		FixedPart:      fixed,
		RuleID:         match.Rule.ID,
		Method:         fmt.Sprintf("%s × %s + %s", rec.Amount, rate, fixed),
	}
	if tierAssumption != "" {
		b.Assumptions = append(b.Assumptions, tierAssumption)
	}

	total := b.PercentagePart.Add(fixed)
	if rec.Type == models.TransactionTypePayout && match.Rule.MinimumFee.IsPositive() && total.LessThan(match.Rule.MinimumFee) {
		total = match.Rule.MinimumFee
		b.Method = fmt.Sprintf("max(%s × %s + %s, %s)", rec.Amount, rate, fixed, match.Rule.MinimumFee)
	}

	b.Expected = models.RoundMoney(total)
	return b
}

// FlatFee computes the expected chargeback or refund fee. When a quantity
// column was detected the expectation is quantity times the contractual flat
// fee; otherwise a single flat fee. The computation is refused with
// ErrLowConfidence when the fee column's detection confidence is below the
// floor, since comparing a flat fee against a misidentified column produces
// confident-looking nonsense.
func (c *Calculator) FlatFee(feeType models.FeeType, quantity int64, detectionConfidence float64) (*Breakdown, error) {
	flat, ok := c.contract.FlatFee(feeType)
	if !ok {
		return nil, fmt.Errorf("fee type %s has no flat fee", feeType)
	}

	if detectionConfidence < c.config.FeeConfidenceFloor {
		return nil, errors.Wrapf(ErrLowConfidence,
			"%s column confidence %.2f below floor %.2f", feeType, detectionConfidence, c.config.FeeConfidenceFloor)
	}

	b := &Breakdown{
		FeeType:   feeType,
		FixedPart: flat,
	}
	if quantity > 1 {
		b.Expected = models.RoundMoney(flat.Mul(decimal.NewFromInt(quantity)))
		b.Method = fmt.Sprintf("%d × %s", quantity, flat)
	} else {
		b.Expected = models.RoundMoney(flat)
		b.Method = fmt.Sprintf("flat %s", flat)
	}
	return b, nil
}

// ReserveExpectation computes the uncapped reserve amount for a transaction.
// Cap enforcement lives in the reserve tracker, which owns cumulative state.
func (c *Calculator) ReserveExpectation(rec *models.TransactionRecord) *Breakdown {
	raw := rec.Amount.Mul(c.contract.ReserveRate)
	return &Breakdown{
		FeeType:        models.FeeRollingReserve,
		PercentagePart: raw,
		Expected:       models.RoundMoney(raw),
		Method:         fmt.Sprintf("%s × %s", rec.Amount, c.contract.ReserveRate),
	}
}

// IsLowConfidence reports whether the error came from the confidence floor.
func IsLowConfidence(err error) bool {
	return errors.Is(err, ErrLowConfidence)
}
