// Package config builds component configurations from CLI flag values.
package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/engine"
	"fee-verification-service/internal/feecalc"
	"fee-verification-service/internal/parsers"
	"fee-verification-service/internal/reporter"
	"fee-verification-service/internal/rules"
	"fee-verification-service/internal/verifier"
)

// CreateSheetParserConfig creates the sheet parser configuration.
// An empty delimiter keeps autodetection on.
func CreateSheetParserConfig(delimiter string, maxErrors int) (*parsers.SheetParserConfig, error) {
	config := parsers.DefaultSheetParserConfig()

	if delimiter != "" {
		runes := []rune(delimiter)
		if len(runes) != 1 {
			return nil, fmt.Errorf("delimiter must be a single character, got %q", delimiter)
		}
		config.Delimiter = runes[0]
	}
	if maxErrors > 0 {
		config.MaxErrors = maxErrors
	}

	return config, nil
}

// CreateVerifierConfig creates the verifier configuration with CLI overrides.
func CreateVerifierConfig(tolerance, highThreshold, questionableThreshold float64) (*verifier.Config, error) {
	config := verifier.DefaultConfig()

	if tolerance > 0 {
		config.Tolerance = decimal.NewFromFloat(tolerance)
	}
	if highThreshold > 0 {
		config.HighThreshold = highThreshold
	}
	if questionableThreshold > 0 {
		config.QuestionableThreshold = questionableThreshold
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateCalcConfig creates the fee calculator configuration.
func CreateCalcConfig(feeConfidenceFloor float64) (*feecalc.Config, error) {
	config := feecalc.DefaultConfig()

	if feeConfidenceFloor > 0 {
		config.FeeConfidenceFloor = feeConfidenceFloor
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateEngineOptions assembles engine options from the component configs.
func CreateEngineOptions(matcherConfig *rules.MatcherConfig, calcConfig *feecalc.Config,
	verifierConfig *verifier.Config, monthlyVolume *decimal.Decimal, parallel bool,
	progress func(sheet string, processed, total int)) *engine.Options {
	return &engine.Options{
		MatcherConfig:  matcherConfig,
		CalcConfig:     calcConfig,
		VerifierConfig: verifierConfig,
		MonthlyVolume:  monthlyVolume,
		Parallel:       parallel,
		Progress:       progress,
	}
}

// CreateReportConfig creates a report configuration for the specified output format.
func CreateReportConfig(format string, verifierConfig *verifier.Config, includeAll bool) (*reporter.Config, error) {
	config := reporter.DefaultConfig()

	switch format {
	case "text":
		config.Format = reporter.FormatText
	case "json":
		config.Format = reporter.FormatJSON
		config.IncludeAllVerifications = includeAll
	default:
		return nil, fmt.Errorf("invalid output format '%s'. Valid formats: text, json", format)
	}

	// Echo run thresholds into report metadata.
	config.Tolerance = verifierConfig.Tolerance
	config.HighThreshold = verifierConfig.HighThreshold
	config.QuestionableThreshold = verifierConfig.QuestionableThreshold

	return config, nil
}

// ParseMonthlyVolume parses the optional monthly volume flag. Empty means
// unknown, which drives lowest-tier selection downstream.
func ParseMonthlyVolume(value string) (*decimal.Decimal, error) {
	if value == "" {
		return nil, nil
	}
	volume, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid monthly volume %q: %w", value, err)
	}
	if volume.IsNegative() {
		return nil, fmt.Errorf("monthly volume cannot be negative")
	}
	return &volume, nil
}
