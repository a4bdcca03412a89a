// Package rules holds the contract model, the contract JSON loader, and the
// matcher that picks the applicable fee rule for each transaction.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/models"
)

// Contract is the parsed fee agreement a verification run is scored against.
// Rates are fractions (0.038, not 3.8) and all money amounts are contract
// currency.
type Contract struct {
	Name string `json:"name"`

	// Core fee terms. Populated from the contract's fee entries, falling
	// back to standard defaults when an entry is absent.
	RemunerationRate  decimal.Decimal `json:"remuneration_rate"`
	RemunerationFixed decimal.Decimal `json:"remuneration_fixed"`
	PayoutMinimumFee  decimal.Decimal `json:"payout_minimum_fee"`
	ChargebackFee     decimal.Decimal `json:"chargeback_fee"`
	RefundFee         decimal.Decimal `json:"refund_fee"`

	// Rolling-reserve terms.
	ReserveRate       decimal.Decimal `json:"reserve_rate"`
	ReserveCap        decimal.Decimal `json:"reserve_cap"`
	HoldingPeriodDays int             `json:"holding_period_days"`

	// Currencies the contract covers. Empty means unrestricted.
	Currencies []string `json:"currencies"`

	// SupportedCards limits card-brand bonuses during rule matching.
	SupportedCards []string `json:"supported_cards"`

	// Rules are the granular per-segment entries. A contract without rules
	// still verifies using the core terms above via synthesized rules.
	Rules []Rule `json:"rules"`

	// Assumptions records defaults applied while loading.
	Assumptions []string `json:"assumptions"`
}

// Rule is one matchable fee rule segment.
type Rule struct {
	ID            string                 `json:"id"`
	Category      models.TransactionType `json:"category"`
	Currency      string                 `json:"currency,omitempty"`
	Region        string                 `json:"region,omitempty"`
	PaymentMethod string                 `json:"payment_method,omitempty"`
	CardBrand     string                 `json:"card_brand,omitempty"`

	Rate       decimal.Decimal `json:"rate"`
	Fixed      decimal.Decimal `json:"fixed"`
	MinimumFee decimal.Decimal `json:"minimum_fee"`

	// Tiers, when present, override Rate/Fixed based on monthly volume.
	// Sorted ascending by MinMonthlyVolume at load time.
	Tiers []Tier `json:"tiers,omitempty"`
}

// Tier is one volume band of a tiered rule.
type Tier struct {
	MinMonthlyVolume decimal.Decimal `json:"min_monthly_volume"`
	Rate             decimal.Decimal `json:"rate"`
	Fixed            decimal.Decimal `json:"fixed"`
}

// SupportsCurrency reports whether the contract covers the currency. An
// empty currency list means no restriction.
func (c *Contract) SupportsCurrency(currency string) bool {
	if len(c.Currencies) == 0 {
		return true
	}
	for _, cur := range c.Currencies {
		if cur == currency {
			return true
		}
	}
	return false
}

// Validate checks the contract terms are usable for verification.
func (c *Contract) Validate() error {
	if c.RemunerationRate.IsNegative() || c.RemunerationRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("remuneration rate out of range: %s", c.RemunerationRate)
	}
	if c.ReserveRate.IsNegative() || c.ReserveRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("reserve rate out of range: %s", c.ReserveRate)
	}
	if c.ReserveCap.IsNegative() {
		return fmt.Errorf("reserve cap cannot be negative: %s", c.ReserveCap)
	}
	if c.HoldingPeriodDays <= 0 {
		return fmt.Errorf("holding period must be positive, got %d days", c.HoldingPeriodDays)
	}
	if c.ChargebackFee.IsNegative() || c.RefundFee.IsNegative() {
		return fmt.Errorf("flat fees cannot be negative")
	}
	for i := range c.Rules {
		if !c.Rules[i].Category.IsValid() {
			return fmt.Errorf("rule %s: invalid category %q", c.Rules[i].ID, c.Rules[i].Category)
		}
	}
	return nil
}

// FlatFee returns the contractual flat fee for chargeback or refund types.
func (c *Contract) FlatFee(feeType models.FeeType) (decimal.Decimal, bool) {
	switch feeType {
	case models.FeeChargeback:
		return c.ChargebackFee, true
	case models.FeeRefund:
		return c.RefundFee, true
	default:
		return decimal.Zero, false
	}
}
