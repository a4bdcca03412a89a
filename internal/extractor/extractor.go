// Package extractor turns normalized sheet rows into transaction records and
// infers the payment context each record was processed under.
package extractor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/models"
	"fee-verification-service/internal/normalizer"
	"fee-verification-service/pkg/logger"
)

// Inference confidence per evidence source. The chain is ordered by priority,
// not by confidence: an explicit method field always beats a gateway keyword
// even though a card-brand column would score higher than the keyword.
const (
	ConfidenceExplicitField = 0.95
	ConfidenceCardBrand     = 0.90
	ConfidenceGatewayHint   = 0.85
	ConfidencePayoutDefault = 0.75
)

// MinFieldConfidence gates which mapped columns the extractor trusts for
// identity and fee detection.
const MinFieldConfidence = 0.7

// PaymentContext describes how a transaction was paid, with the evidence the
// inference rests on. Confidence 0 means no signal was found.
type PaymentContext struct {
	Method     string   `json:"method"`
	CardBrand  string   `json:"card_brand,omitempty"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// ExtractedRecord bundles a built transaction record with everything the
// verifier needs to judge it: the inferred context, detection confidences per
// fee column, quantity columns for flat-fee checks, and the assumptions made
// while reading the row.
type ExtractedRecord struct {
	Record  *models.TransactionRecord
	Context PaymentContext

	// FeeDetection maps each fee type to the mapping confidence of the column
	// its actual amount was read from. Absent fee types were not detected.
	FeeDetection map[models.FeeType]float64

	// Quantities carries chargeback/refund count columns when present.
	Quantities map[models.FeeType]int64

	Assumptions []string
	HasAmount   bool
	HasDate     bool
}

// Extractor builds ExtractedRecords from raw rows using a schema mapping.
type Extractor struct {
	logger logger.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{logger: logger.GetGlobalLogger().WithComponent("extractor")}
}

// Payment method labels produced by the inference chain.
const (
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodCrypto       = "crypto"
	MethodWallet       = "wallet"
	MethodUnknown      = "unknown"
)

var cardBrands = map[string]bool{
	"VISA":       true,
	"MASTERCARD": true,
	"AMEX":       true,
	"DISCOVER":   true,
}

// gatewayHints maps keyword fragments found in gateway or descriptor columns
// to payment methods. Longer fragments are checked first.
var gatewayHints = []struct {
	keyword string
	method  string
}{
	{"mastercard", MethodCard},
	{"acquiring", MethodCard},
	{"visa", MethodCard},
	{"card", MethodCard},
	{"sepa", MethodBankTransfer},
	{"swift", MethodBankTransfer},
	{"wire", MethodBankTransfer},
	{"crypto", MethodCrypto},
	{"btc", MethodCrypto},
	{"usdt", MethodCrypto},
	{"wallet", MethodWallet},
	{"apm", MethodWallet},
}

// InferPaymentContext walks the evidence chain in priority order and stops at
// the first source that yields a method. Returns an unknown context with zero
// confidence when nothing matches.
func (e *Extractor) InferPaymentContext(row map[string]string, mapping *normalizer.MappingResult, txType models.TransactionType) PaymentContext {
	if v, ok := mapping.Value(row, normalizer.FieldPaymentMethod); ok {
		return PaymentContext{
			Method:     canonicalMethod(v),
			Confidence: ConfidenceExplicitField,
			Evidence:   []string{fmt.Sprintf("explicit payment method field: %q", v)},
		}
	}

	if v, ok := mapping.Value(row, normalizer.FieldGatewayName); ok {
		lower := strings.ToLower(v)
		for _, hint := range gatewayHints {
			if strings.Contains(lower, hint.keyword) {
				return PaymentContext{
					Method:     hint.method,
					Confidence: ConfidenceGatewayHint,
					Evidence:   []string{fmt.Sprintf("gateway name %q contains keyword %q", v, hint.keyword)},
				}
			}
		}
	}

	if v, ok := mapping.Value(row, normalizer.FieldCardBrand); ok {
		brand := strings.ToUpper(strings.TrimSpace(v))
		if cardBrands[brand] {
			return PaymentContext{
				Method:     MethodCard,
				CardBrand:  brand,
				Confidence: ConfidenceCardBrand,
				Evidence:   []string{fmt.Sprintf("card brand column: %s", brand)},
			}
		}
	}

	if txType == models.TransactionTypePayout {
		return PaymentContext{
			Method:     MethodBankTransfer,
			Confidence: ConfidencePayoutDefault,
			Evidence:   []string{"payout transactions settle over bank transfer when no other signal exists"},
		}
	}

	return PaymentContext{Method: MethodUnknown, Confidence: 0, Evidence: nil}
}

// BuildRecord reads one raw row into an ExtractedRecord. It never fails: a
// row with missing or unparseable cells produces a record plus assumptions and
// absent-data markers for the verifier to act on.
func (e *Extractor) BuildRecord(sheetName string, rowNumber int, row map[string]string, mapping *normalizer.MappingResult) *ExtractedRecord {
	out := &ExtractedRecord{
		Record: &models.TransactionRecord{
			SheetName:  sheetName,
			RowNumber:  rowNumber,
			ActualFees: make(map[models.FeeType]decimal.Decimal),
		},
		FeeDetection: make(map[models.FeeType]float64),
		Quantities:   make(map[models.FeeType]int64),
	}
	rec := out.Record

	// Identity. Low-confidence ID columns are not trusted; the synthetic
	// Sheet:RowN form keeps results traceable either way.
	if v, ok := mapping.Value(row, normalizer.FieldTransactionID); ok && mapping.FieldConfidence(normalizer.FieldTransactionID) >= MinFieldConfidence {
		rec.TransactionID = v
	} else {
		rec.TransactionID = models.SyntheticTransactionID(sheetName, rowNumber)
		out.assume("No reliable transaction ID column; using row-derived ID %s", rec.TransactionID)
	}

	if v, ok := mapping.Value(row, normalizer.FieldAmount); ok {
		if amount, err := models.ParseDecimalFromString(v); err == nil {
			rec.Amount = amount
			out.HasAmount = true
		} else {
			out.assume("Unparseable amount %q in row %d; amount-based fees will be skipped", v, rowNumber)
		}
	} else {
		out.assume("No amount value in row %d; amount-based fees will be skipped", rowNumber)
	}

	if v, ok := mapping.Value(row, normalizer.FieldCurrency); ok {
		rec.Currency = strings.ToUpper(v)
	} else {
		rec.Currency = "EUR"
		out.assume("No currency column; assuming EUR")
	}

	if v, ok := mapping.Value(row, normalizer.FieldTransactionType); ok {
		rec.Type = models.ParseTransactionType(v)
	} else {
		rec.Type = models.TransactionTypePayment
		out.assume("No transaction type column; treating rows as payments")
	}

	if v, ok := mapping.Value(row, normalizer.FieldStatus); ok {
		rec.Status = models.ParseTransactionStatus(v)
	} else {
		rec.Status = models.StatusApproved
		out.assume("No status column; treating transactions as approved")
	}

	if v, ok := mapping.Value(row, normalizer.FieldDate); ok {
		if d, err := models.ParseTimeWithFormats(v); err == nil {
			rec.Date = d
			out.HasDate = true
		} else {
			out.assume("Unparseable date %q in row %d", v, rowNumber)
		}
	}

	if v, ok := mapping.Value(row, normalizer.FieldRegion); ok {
		rec.Region = strings.ToUpper(v)
	}
	if v, ok := mapping.Value(row, normalizer.FieldCardBrand); ok {
		rec.CardBrand = strings.ToUpper(v)
	}

	out.Context = e.InferPaymentContext(row, mapping, rec.Type)
	rec.PaymentMethod = out.Context.Method

	e.extractFees(row, mapping, out)
	e.extractQuantities(row, mapping, out)

	return out
}

// feeColumns lists the mapped columns feeding each fee type's actual amount,
// in preference order. Collected-fee columns beat generic ones because they
// hold what was actually charged rather than the disputed amount.
var feeColumns = map[models.FeeType][]normalizer.CanonicalField{
	models.FeeRemuneration:   {normalizer.FieldCommission},
	models.FeeRollingReserve: {normalizer.FieldRollingReserve},
	models.FeeChargeback:     {normalizer.FieldChargebackFeeCollected, normalizer.FieldChargebackFee},
	models.FeeRefund:         {normalizer.FieldRefundFeeCollected, normalizer.FieldRefundFee},
}

func (e *Extractor) extractFees(row map[string]string, mapping *normalizer.MappingResult, out *ExtractedRecord) {
	for _, feeType := range models.AllFeeTypes() {
		for _, field := range feeColumns[feeType] {
			v, ok := mapping.Value(row, field)
			if !ok {
				continue
			}
			amount, err := models.ParseDecimalFromString(v)
			if err != nil {
				out.assume("Unparseable %s value %q in row %d", feeType, v, out.Record.RowNumber)
				continue
			}
			out.Record.ActualFees[feeType] = amount.Abs()
			out.FeeDetection[feeType] = mapping.FieldConfidence(field)
			break
		}
	}
}

var quantityColumns = map[models.FeeType]normalizer.CanonicalField{
	models.FeeChargeback: normalizer.FieldChargebackQty,
	models.FeeRefund:     normalizer.FieldRefundQty,
}

func (e *Extractor) extractQuantities(row map[string]string, mapping *normalizer.MappingResult, out *ExtractedRecord) {
	for feeType, field := range quantityColumns {
		v, ok := mapping.Value(row, field)
		if !ok {
			continue
		}
		qty, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || qty < 0 {
			out.assume("Unparseable %s quantity %q in row %d", feeType, v, out.Record.RowNumber)
			continue
		}
		out.Quantities[feeType] = qty
	}
}

func (out *ExtractedRecord) assume(format string, args ...interface{}) {
	out.Assumptions = append(out.Assumptions, fmt.Sprintf(format, args...))
}

func canonicalMethod(v string) string {
	lower := strings.ToLower(strings.TrimSpace(v))
	switch {
	case strings.Contains(lower, "card"), strings.Contains(lower, "visa"), strings.Contains(lower, "mastercard"):
		return MethodCard
	case strings.Contains(lower, "sepa"), strings.Contains(lower, "bank"), strings.Contains(lower, "wire"), strings.Contains(lower, "swift"):
		return MethodBankTransfer
	case strings.Contains(lower, "crypto"), strings.Contains(lower, "btc"), strings.Contains(lower, "usdt"):
		return MethodCrypto
	case strings.Contains(lower, "wallet"), strings.Contains(lower, "apm"):
		return MethodWallet
	default:
		return lower
	}
}
