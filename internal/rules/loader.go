package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/models"
	apperrors "fee-verification-service/pkg/errors"
	"fee-verification-service/pkg/logger"
)

// Contract defaults applied when a fee entry is absent. Every applied default
// is recorded in Contract.Assumptions.
var (
	defaultRemunerationRate = decimal.NewFromFloat(0.038)
	defaultChargebackFee    = decimal.NewFromInt(50)
	defaultRefundFee        = decimal.NewFromInt(5)
	defaultReserveRate      = decimal.NewFromFloat(0.10)
	defaultReserveCap       = decimal.NewFromInt(37500)
)

const defaultHoldingPeriodDays = 180

// rawContract mirrors the loose JSON shape contracts arrive in. Amount-like
// values can be numbers or strings with percent signs, currency symbols and
// thousands separators.
type rawContract struct {
	Name           string     `json:"name"`
	ContractName   string     `json:"contract_name"`
	Currency       flexList   `json:"currency"`
	Currencies     flexList   `json:"currencies"`
	SupportedCards flexList   `json:"supported_cards"`
	Fees           []rawFee   `json:"fees"`
	Rules          []rawRule  `json:"rules"`
}

type rawFee struct {
	Name          string          `json:"name"`
	FeeName       string          `json:"fee_name"`
	Amount        json.RawMessage `json:"amount"`
	Fixed         json.RawMessage `json:"fixed"`
	Minimum       json.RawMessage `json:"minimum"`
	HoldingPeriod json.RawMessage `json:"holding_period"`
	MaximumCap    json.RawMessage `json:"maximum_cap"`
	MaxCap        json.RawMessage `json:"max_cap"`
	MaximumAmount json.RawMessage `json:"maximum_amount"`
}

type rawRule struct {
	ID            string          `json:"id"`
	Category      string          `json:"category"`
	Currency      string          `json:"currency"`
	Region        string          `json:"region"`
	PaymentMethod string          `json:"payment_method"`
	CardBrand     string          `json:"card_brand"`
	Rate          json.RawMessage `json:"rate"`
	Fixed         json.RawMessage `json:"fixed"`
	MinimumFee    json.RawMessage `json:"minimum_fee"`
	Tiers         []rawTier       `json:"tiers"`
}

type rawTier struct {
	MinMonthlyVolume json.RawMessage `json:"min_monthly_volume"`
	Rate             json.RawMessage `json:"rate"`
	Fixed            json.RawMessage `json:"fixed"`
}

// flexList accepts both "EUR" and ["EUR","USD"].
type flexList []string

func (f *flexList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*f = flexList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*f = flexList(many)
	return nil
}

// LoadContract reads and interprets a contract JSON file.
func LoadContract(path string) (*Contract, error) {
	log := logger.GetGlobalLogger().WithComponent("contract-loader")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.FileError(apperrors.CodeFileNotFound, path, err)
		}
		return nil, apperrors.FileError(apperrors.CodeFilePermission, path, err)
	}

	contract, err := ParseContract(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryParse, apperrors.CodeInvalidFormat,
			fmt.Sprintf("failed to parse contract file %s", path)).
			WithSuggestion("Check that the contract file is valid JSON with a 'fees' array")
	}

	log.WithFields(map[string]interface{}{
		"contract":    contract.Name,
		"rules":       len(contract.Rules),
		"assumptions": len(contract.Assumptions),
	}).Info("Contract loaded")

	return contract, nil
}

// ParseContract interprets contract JSON bytes. Fee entries are classified by
// name family; missing families fall back to defaults with a recorded
// assumption.
func ParseContract(data []byte) (*Contract, error) {
	var raw rawContract
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	c := &Contract{
		Name:              firstNonEmpty(raw.Name, raw.ContractName, "unnamed contract"),
		HoldingPeriodDays: 0,
	}
	c.Currencies = append(c.Currencies, raw.Currencies...)
	c.Currencies = append(c.Currencies, raw.Currency...)
	for i, cur := range c.Currencies {
		c.Currencies[i] = strings.ToUpper(cur)
	}
	for _, card := range raw.SupportedCards {
		c.SupportedCards = append(c.SupportedCards, strings.ToUpper(card))
	}

	seen := map[string]bool{}
	for _, fee := range raw.Fees {
		name := firstNonEmpty(fee.Name, fee.FeeName)
		family := classifyFeeName(name)
		if family == "" {
			c.Assumptions = append(c.Assumptions, fmt.Sprintf("Ignored unrecognized fee entry %q", name))
			continue
		}
		if seen[family] {
			c.Assumptions = append(c.Assumptions, fmt.Sprintf("Duplicate %s fee entry %q ignored", family, name))
			continue
		}
		seen[family] = true

		if err := applyFee(c, family, fee); err != nil {
			return nil, fmt.Errorf("fee entry %q: %w", name, err)
		}
	}

	applyDefaults(c, seen)

	for i, rr := range raw.Rules {
		rule, err := parseRule(i, rr)
		if err != nil {
			return nil, err
		}
		c.Rules = append(c.Rules, rule)
	}
	if len(c.Rules) == 0 {
		c.Rules = synthesizeRules(c)
		c.Assumptions = append(c.Assumptions, "Contract has no rule entries; using core fee terms for all transactions")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Fee name families recognized in contracts, including Cyrillic spellings.
var feeFamilies = []struct {
	family   string
	keywords []string
}{
	{"reserve", []string{"rolling", "reserve", "резерв"}},
	{"chargeback", []string{"chargeback", "чарджбэк", "chb"}},
	{"refund", []string{"refund", "возврат"}},
	{"payout", []string{"payout", "settlement", "withdrawal", "вывод"}},
	{"remuneration", []string{"remuneration", "processing", "commission", "acquiring", "mdr", "вознаграждение", "комиссия"}},
}

func classifyFeeName(name string) string {
	lower := strings.ToLower(name)
	for _, f := range feeFamilies {
		for _, kw := range f.keywords {
			if strings.Contains(lower, kw) {
				return f.family
			}
		}
	}
	return ""
}

func applyFee(c *Contract, family string, fee rawFee) error {
	switch family {
	case "remuneration":
		rate, err := parseRate(fee.Amount)
		if err != nil {
			return err
		}
		c.RemunerationRate = rate
		if fixed, err := parseMoney(fee.Fixed); err == nil {
			c.RemunerationFixed = fixed
		}
	case "payout":
		if min, err := parseMoney(fee.Minimum); err == nil {
			c.PayoutMinimumFee = min
		} else if min, err := parseMoney(fee.Amount); err == nil {
			c.PayoutMinimumFee = min
		}
	case "chargeback":
		amount, err := parseMoney(fee.Amount)
		if err != nil {
			return err
		}
		c.ChargebackFee = amount
	case "refund":
		amount, err := parseMoney(fee.Amount)
		if err != nil {
			return err
		}
		c.RefundFee = amount
	case "reserve":
		rate, err := parseRate(fee.Amount)
		if err != nil {
			return err
		}
		c.ReserveRate = rate
		if days, ok := parseHoldingPeriod(fee.HoldingPeriod); ok {
			c.HoldingPeriodDays = days
		}
		for _, capRaw := range []json.RawMessage{fee.MaximumCap, fee.MaxCap, fee.MaximumAmount} {
			if capValue, err := parseMoney(capRaw); err == nil {
				c.ReserveCap = capValue
				break
			}
		}
	}
	return nil
}

func applyDefaults(c *Contract, seen map[string]bool) {
	if !seen["remuneration"] {
		c.RemunerationRate = defaultRemunerationRate
		c.Assumptions = append(c.Assumptions, "No remuneration fee in contract; assuming 3.8%")
	}
	if !seen["chargeback"] {
		c.ChargebackFee = defaultChargebackFee
		c.Assumptions = append(c.Assumptions, "No chargeback fee in contract; assuming 50.00")
	}
	if !seen["refund"] {
		c.RefundFee = defaultRefundFee
		c.Assumptions = append(c.Assumptions, "No refund fee in contract; assuming 5.00")
	}
	if !seen["reserve"] {
		c.ReserveRate = defaultReserveRate
		c.Assumptions = append(c.Assumptions, "No rolling reserve in contract; assuming 10%")
	}
	if c.HoldingPeriodDays == 0 {
		c.HoldingPeriodDays = defaultHoldingPeriodDays
		if seen["reserve"] {
			c.Assumptions = append(c.Assumptions, "No holding period in contract; assuming 180 days")
		}
	}
	if c.ReserveCap.IsZero() {
		c.ReserveCap = defaultReserveCap
		if seen["reserve"] {
			c.Assumptions = append(c.Assumptions, "No reserve cap in contract; assuming 37500.00")
		}
	}
}

func parseRule(index int, rr rawRule) (Rule, error) {
	rule := Rule{
		ID:            firstNonEmpty(rr.ID, fmt.Sprintf("rule-%d", index+1)),
		Category:      models.ParseTransactionType(rr.Category),
		Currency:      strings.ToUpper(rr.Currency),
		Region:        strings.ToUpper(rr.Region),
		PaymentMethod: strings.ToLower(rr.PaymentMethod),
		CardBrand:     strings.ToUpper(rr.CardBrand),
	}

	if rate, err := parseRate(rr.Rate); err == nil {
		rule.Rate = rate
	}
	if fixed, err := parseMoney(rr.Fixed); err == nil {
		rule.Fixed = fixed
	}
	if min, err := parseMoney(rr.MinimumFee); err == nil {
		rule.MinimumFee = min
	}

	for ti, rt := range rr.Tiers {
		tier := Tier{}
		vol, err := parseMoney(rt.MinMonthlyVolume)
		if err != nil {
			return rule, fmt.Errorf("rule %s tier %d: invalid min_monthly_volume: %w", rule.ID, ti+1, err)
		}
		tier.MinMonthlyVolume = vol
		if rate, err := parseRate(rt.Rate); err == nil {
			tier.Rate = rate
		}
		if fixed, err := parseMoney(rt.Fixed); err == nil {
			tier.Fixed = fixed
		}
		rule.Tiers = append(rule.Tiers, tier)
	}
	sort.Slice(rule.Tiers, func(i, j int) bool {
		return rule.Tiers[i].MinMonthlyVolume.LessThan(rule.Tiers[j].MinMonthlyVolume)
	})

	return rule, nil
}

// synthesizeRules builds per-type rules from the core contract terms so the
// matcher and calculator have a uniform rule path.
func synthesizeRules(c *Contract) []Rule {
	currency := ""
	if len(c.Currencies) == 1 {
		currency = c.Currencies[0]
	}
	return []Rule{
		{ID: "core-payment", Category: models.TransactionTypePayment, Currency: currency,
			Rate: c.RemunerationRate, Fixed: c.RemunerationFixed},
		{ID: "core-payout", Category: models.TransactionTypePayout, Currency: currency,
			Rate: c.RemunerationRate, Fixed: c.RemunerationFixed, MinimumFee: c.PayoutMinimumFee},
		{ID: "core-refund", Category: models.TransactionTypeRefund, Currency: currency,
			Fixed: c.RefundFee},
		{ID: "core-chargeback", Category: models.TransactionTypeChargeback, Currency: currency,
			Fixed: c.ChargebackFee},
	}
}

var percentPattern = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]+)?)\s*%$`)
var daysPattern = regexp.MustCompile(`([0-9]+)`)

// parseRate interprets a rate value as a fraction. "3.8%" and 3.8 both mean
// 0.038; 0.038 stays as is. The 1.0 boundary separates fractions from
// percent points since no fee rate reaches 100%.
func parseRate(raw json.RawMessage) (decimal.Decimal, error) {
	s, err := rawToString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty rate")
	}

	if m := percentPattern.FindStringSubmatch(s); m != nil {
		d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
		if err != nil {
			return decimal.Zero, err
		}
		return d.Div(decimal.NewFromInt(100)), nil
	}

	d, err := models.ParseDecimalFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return d.Div(decimal.NewFromInt(100)), nil
	}
	return d, nil
}

// parseMoney interprets a flat money value, tolerating currency symbols and
// separators.
func parseMoney(raw json.RawMessage) (decimal.Decimal, error) {
	s, err := rawToString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return models.ParseDecimalFromString(s)
}

// parseHoldingPeriod reads "180 days", "180" or 180.
func parseHoldingPeriod(raw json.RawMessage) (int, bool) {
	s, err := rawToString(raw)
	if err != nil {
		return 0, false
	}
	m := daysPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	days, err := strconv.Atoi(m[1])
	if err != nil || days <= 0 {
		return 0, false
	}
	return days, true
}

func rawToString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing value")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("value is neither string nor number: %s", string(raw))
	}
	return n.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
