package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/models"
	"fee-verification-service/pkg/logger"
)

// MatcherConfig holds the scoring weights for rule selection.
type MatcherConfig struct {
	BaseScore        float64
	CurrencyBonus    float64
	RegionExactBonus float64
	RegionEEABonus   float64
	RegionWWBonus    float64
	CardBrandBonus   float64

	// AmbiguityGap is the top-two score distance under which a match is
	// flagged ambiguous; AmbiguityPenalty is the confidence multiplier
	// applied when it is.
	AmbiguityGap     float64
	AmbiguityPenalty float64
}

// DefaultMatcherConfig returns the standard scoring weights.
func DefaultMatcherConfig() *MatcherConfig {
	return &MatcherConfig{
		BaseScore:        0.5,
		CurrencyBonus:    0.3,
		RegionExactBonus: 0.2,
		RegionEEABonus:   0.15,
		RegionWWBonus:    0.1,
		CardBrandBonus:   0.1,
		AmbiguityGap:     0.1,
		AmbiguityPenalty: 0.8,
	}
}

// Validate checks the config weights are sane.
func (c *MatcherConfig) Validate() error {
	if c.BaseScore <= 0 {
		return fmt.Errorf("base score must be positive, got %v", c.BaseScore)
	}
	if c.AmbiguityPenalty <= 0 || c.AmbiguityPenalty > 1 {
		return fmt.Errorf("ambiguity penalty must be in (0,1], got %v", c.AmbiguityPenalty)
	}
	return nil
}

// RuleMatch is the outcome of matching one transaction against the contract.
// A nil Rule means no rule was applicable; the transaction is then reported
// unverifiable rather than skipped.
type RuleMatch struct {
	Rule       *Rule    `json:"rule,omitempty"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Ambiguous  bool     `json:"ambiguous"`
	RunnerUpID string   `json:"runner_up_id,omitempty"`
	Reasons    []string `json:"reasons"`
}

// Matched reports whether any rule applied.
func (m *RuleMatch) Matched() bool {
	return m.Rule != nil
}

// Matcher selects the best contract rule for a transaction.
type Matcher struct {
	contract *Contract
	config   *MatcherConfig
	logger   logger.Logger
}

// NewMatcher creates a Matcher for a contract.
func NewMatcher(contract *Contract, config *MatcherConfig) (*Matcher, error) {
	if contract == nil {
		return nil, fmt.Errorf("contract cannot be nil")
	}
	if config == nil {
		config = DefaultMatcherConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matcher config: %w", err)
	}
	return &Matcher{
		contract: contract,
		config:   config,
		logger:   logger.GetGlobalLogger().WithComponent("rule-matcher"),
	}, nil
}

// eeaCountries is the EEA membership set used for region-class bonuses.
var eeaCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IS": true, "IE": true, "IT": true, "LV": true, "LI": true,
	"LT": true, "LU": true, "MT": true, "NL": true, "NO": true, "PL": true,
	"PT": true, "RO": true, "SK": true, "SI": true, "ES": true, "SE": true,
}

// IsEEACountry reports whether the ISO country code is in the EEA.
func IsEEACountry(code string) bool {
	return eeaCountries[strings.ToUpper(code)]
}

type scoredRule struct {
	rule    *Rule
	score   float64
	reasons []string
	index   int
}

// Match scores every applicable rule against the transaction and returns the
// best. Currency acts as a hard filter: a rule naming a different currency is
// never a candidate. An empty result (Rule nil, Confidence 0) means the
// transaction cannot be verified against this contract.
func (m *Matcher) Match(rec *models.TransactionRecord) *RuleMatch {
	var candidates []scoredRule

	for i := range m.contract.Rules {
		rule := &m.contract.Rules[i]
		if rule.Category != rec.Type {
			continue
		}
		if rule.Currency != "" && rule.Currency != rec.Currency {
			continue
		}
		if rule.PaymentMethod != "" && rec.PaymentMethod != "" && rule.PaymentMethod != rec.PaymentMethod {
			continue
		}

		score := m.config.BaseScore
		reasons := []string{fmt.Sprintf("rule %s applies to %s transactions", rule.ID, rule.Category)}

		if rule.Currency != "" {
			score += m.config.CurrencyBonus
			reasons = append(reasons, fmt.Sprintf("currency %s matches", rule.Currency))
		}

		switch {
		case rule.Region == "" || rec.Region == "":
			// No region evidence on either side; no bonus.
		case rule.Region == rec.Region:
			score += m.config.RegionExactBonus
			reasons = append(reasons, fmt.Sprintf("region %s matches exactly", rule.Region))
		case rule.Region == "EEA" && IsEEACountry(rec.Region):
			score += m.config.RegionEEABonus
			reasons = append(reasons, fmt.Sprintf("region %s is in the EEA", rec.Region))
		case rule.Region == "WW" || rule.Region == "WORLDWIDE":
			score += m.config.RegionWWBonus
			reasons = append(reasons, "rule covers all regions")
		default:
			// Region named but different; rule stays a weak candidate.
		}

		if rule.CardBrand != "" && rule.CardBrand == rec.CardBrand {
			score += m.config.CardBrandBonus
			reasons = append(reasons, fmt.Sprintf("card brand %s matches", rule.CardBrand))
		}

		candidates = append(candidates, scoredRule{rule: rule, score: score, reasons: reasons, index: i})
	}

	if len(candidates) == 0 {
		m.logger.WithFields(map[string]interface{}{
			"transaction_id": rec.TransactionID,
			"type":           rec.Type,
			"currency":       rec.Currency,
		}).Debug("No applicable rule")
		return &RuleMatch{Reasons: []string{
			fmt.Sprintf("no contract rule covers %s transactions in %s", rec.Type, rec.Currency),
		}}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].index < candidates[j].index
	})

	best := candidates[0]
	match := &RuleMatch{
		Rule:       best.rule,
		Score:      best.score,
		Confidence: best.score,
		Reasons:    best.reasons,
	}

	if len(candidates) > 1 {
		gap := best.score - candidates[1].score
		if gap < m.config.AmbiguityGap {
			match.Ambiguous = true
			match.RunnerUpID = candidates[1].rule.ID
			match.Confidence = best.score * m.config.AmbiguityPenalty
			match.Reasons = append(match.Reasons,
				fmt.Sprintf("rule %s scored within %.2f of %s; match is ambiguous",
					candidates[1].rule.ID, m.config.AmbiguityGap, best.rule.ID))
		}
	}

	return match
}

// SelectTier resolves the effective rate and fixed fee for a matched rule.
// Tiered rules pick the highest tier whose volume floor the monthly volume
// reaches; a nil volume falls back to the lowest tier with a recorded
// assumption.
func SelectTier(rule *Rule, monthlyVolume *decimal.Decimal) (rate, fixed decimal.Decimal, assumption string) {
	if len(rule.Tiers) == 0 {
		return rule.Rate, rule.Fixed, ""
	}

	if monthlyVolume == nil {
		t := rule.Tiers[0]
		return t.Rate, t.Fixed, fmt.Sprintf(
			"monthly volume unknown; applied lowest tier of rule %s", rule.ID)
	}

	selected := rule.Tiers[0]
	for _, t := range rule.Tiers[1:] {
		if monthlyVolume.GreaterThanOrEqual(t.MinMonthlyVolume) {
			selected = t
		}
	}
	return selected.Rate, selected.Fixed, ""
}
