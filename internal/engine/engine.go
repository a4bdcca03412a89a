// Package engine orchestrates a verification run: schema normalization,
// record extraction, reserve tracking and per-transaction verification, one
// result per input row.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/extractor"
	"fee-verification-service/internal/feecalc"
	"fee-verification-service/internal/models"
	"fee-verification-service/internal/normalizer"
	"fee-verification-service/internal/parsers"
	"fee-verification-service/internal/reserve"
	"fee-verification-service/internal/rules"
	"fee-verification-service/internal/verifier"
	apperrors "fee-verification-service/pkg/errors"
	"fee-verification-service/pkg/logger"
)

// Options configures an Engine.
type Options struct {
	MatcherConfig  *rules.MatcherConfig
	CalcConfig     *feecalc.Config
	VerifierConfig *verifier.Config

	// MonthlyVolume, when known, drives tier selection for tiered rules.
	// Left nil, the lowest tier applies and an assumption is recorded.
	MonthlyVolume *decimal.Decimal

	// Parallel verifies sheets concurrently. Rows within a sheet are always
	// sequential: reserve windowing depends on row order.
	Parallel bool

	// Progress, when set, is called after each processed row.
	Progress func(sheet string, processed, total int)
}

// SheetOutcome is everything produced for one sheet.
type SheetOutcome struct {
	Sheet           *parsers.Sheet
	Mapping         *normalizer.MappingResult
	Results         []*models.VerificationResult
	ReserveWindows  []*reserve.Window
	OrderViolations []string
}

// RunOutcome is the full result of a verification run.
type RunOutcome struct {
	Contract *rules.Contract
	Sheets   []*SheetOutcome

	// Results flattens every sheet's results in input order. Its length
	// always equals the total input row count.
	Results []*models.VerificationResult

	// DetectionAssumptions aggregates contract-level and schema-level
	// assumptions for the report header.
	DetectionAssumptions []string
}

// TotalRows returns the number of input rows across all sheets.
func (r *RunOutcome) TotalRows() int {
	total := 0
	for _, s := range r.Sheets {
		total += s.Sheet.RowCount()
	}
	return total
}

// Engine runs verifications against one contract.
type Engine struct {
	contract   *rules.Contract
	normalizer *normalizer.Normalizer
	extractor  *extractor.Extractor
	verifier   *verifier.Verifier
	reserveCfg *reserve.Config
	options    *Options
	logger     logger.Logger
}

// New creates an Engine for a contract.
func New(contract *rules.Contract, options *Options) (*Engine, error) {
	if contract == nil {
		return nil, fmt.Errorf("contract cannot be nil")
	}
	if options == nil {
		options = &Options{}
	}

	v, err := verifier.NewVerifier(contract, options.MatcherConfig, options.CalcConfig, options.VerifierConfig)
	if err != nil {
		return nil, err
	}
	reserveCfg := reserve.FromContract(contract)
	if err := reserveCfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		contract:   contract,
		normalizer: normalizer.NewNormalizer(),
		extractor:  extractor.NewExtractor(),
		verifier:   v,
		reserveCfg: reserveCfg,
		options:    options,
		logger:     logger.GetGlobalLogger().WithComponent("engine"),
	}, nil
}

// VerifySheets processes every sheet and returns one result per input row.
// Sheets are independent reserve scopes; with Parallel set they are verified
// concurrently. The schema cache is shared across sheets.
func (e *Engine) VerifySheets(ctx context.Context, sheets []*parsers.Sheet) (*RunOutcome, error) {
	outcome := &RunOutcome{Contract: e.contract}
	outcome.DetectionAssumptions = append(outcome.DetectionAssumptions, e.contract.Assumptions...)

	outcomes := make([]*SheetOutcome, len(sheets))

	if e.options.Parallel && len(sheets) > 1 {
		var wg sync.WaitGroup
		errs := make([]error, len(sheets))
		for i, sheet := range sheets {
			wg.Add(1)
			go func(idx int, s *parsers.Sheet) {
				defer wg.Done()
				outcomes[idx], errs[idx] = e.verifySheet(ctx, s)
			}(i, sheet)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
	} else {
		for i, sheet := range sheets {
			so, err := e.verifySheet(ctx, sheet)
			if err != nil {
				return nil, err
			}
			outcomes[i] = so
		}
	}

	for _, so := range outcomes {
		outcome.Sheets = append(outcome.Sheets, so)
		outcome.Results = append(outcome.Results, so.Results...)
		for _, a := range so.Mapping.Assumptions {
			outcome.DetectionAssumptions = append(outcome.DetectionAssumptions,
				fmt.Sprintf("[%s] %s", so.Sheet.Name, a))
		}
		for _, a := range so.Mapping.Ambiguities {
			outcome.DetectionAssumptions = append(outcome.DetectionAssumptions,
				fmt.Sprintf("[%s] %s", so.Sheet.Name, a))
		}
	}

	if len(outcome.Results) != outcome.TotalRows() {
		return nil, apperrors.New(apperrors.CategoryInternal, apperrors.CodeUnexpectedError,
			fmt.Sprintf("result count %d does not match input row count %d",
				len(outcome.Results), outcome.TotalRows()))
	}

	e.logger.WithFields(map[string]interface{}{
		"sheets":  len(sheets),
		"results": len(outcome.Results),
	}).Info("Verification run complete")

	return outcome, nil
}

// verifySheet runs one sheet start to finish: rows strictly in order.
func (e *Engine) verifySheet(ctx context.Context, sheet *parsers.Sheet) (*SheetOutcome, error) {
	// The disambiguated mapping is a per-sheet copy; the cached result stays
	// frozen so sheets sharing a schema never see each other's refinements.
	mapping := e.normalizer.Normalize(sheet.Columns)
	mapping = e.normalizer.DisambiguateByValueProfile(mapping, sheet.Rows, e.contract.RemunerationRate, e.contract.ReserveRate)

	tracker, err := reserve.NewTracker(e.reserveCfg)
	if err != nil {
		return nil, err
	}

	so := &SheetOutcome{
		Sheet:   sheet,
		Mapping: mapping,
		Results: make([]*models.VerificationResult, 0, sheet.RowCount()),
	}

	total := sheet.RowCount()
	for i, row := range sheet.Rows {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.CodeProcessingError,
				fmt.Sprintf("verification of sheet %s canceled", sheet.Name))
		}

		// Row numbers are 1-based and account for the header line.
		ex := e.extractor.BuildRecord(sheet.Name, i+2, row, mapping)

		rowCtx := &verifier.RowContext{
			SchemaAssumptions: mapping.Assumptions,
			SchemaAmbiguities: mapping.Ambiguities,
			MonthlyVolume:     e.options.MonthlyVolume,
		}

		if e.trackReserve(ex) {
			app := tracker.Apply(ex.Record)
			rowCtx.Reserve = &app
		}

		so.Results = append(so.Results, e.verifier.Verify(ex, rowCtx))

		if e.options.Progress != nil {
			e.options.Progress(sheet.Name, i+1, total)
		}
	}

	so.ReserveWindows = tracker.Windows()
	so.OrderViolations = tracker.OrderViolations()

	e.logger.WithFields(map[string]interface{}{
		"sheet":   sheet.Name,
		"rows":    total,
		"windows": len(so.ReserveWindows),
	}).Debug("Sheet verified")

	return so, nil
}

// trackReserve decides whether a record participates in reserve withholding.
// Only approved payments with a usable amount accumulate reserve.
func (e *Engine) trackReserve(ex *extractor.ExtractedRecord) bool {
	return ex.Record.Type == models.TransactionTypePayment &&
		ex.Record.Status == models.StatusApproved &&
		ex.HasAmount
}
