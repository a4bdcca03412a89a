package extractor

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"fee-verification-service/internal/models"
	"fee-verification-service/internal/normalizer"
)

func mappingFor(t *testing.T, columns ...string) *normalizer.MappingResult {
	t.Helper()
	return normalizer.NewNormalizer().Normalize(columns)
}

func TestInferPaymentContext_ExplicitFieldWins(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "payment_method", "gateway_name", "card_brand")
	row := map[string]string{
		"payment_method": "SEPA Transfer",
		"gateway_name":   "visa-gate-01",
		"card_brand":     "VISA",
	}

	ctx := e.InferPaymentContext(row, mapping, models.TransactionTypePayment)

	if ctx.Method != MethodBankTransfer {
		t.Errorf("Expected explicit field to win with bank_transfer, got %s", ctx.Method)
	}
	if ctx.Confidence != ConfidenceExplicitField {
		t.Errorf("Expected confidence %v, got %v", ConfidenceExplicitField, ctx.Confidence)
	}
	if len(ctx.Evidence) == 0 {
		t.Error("Expected at least one evidence string")
	}
}

func TestInferPaymentContext_GatewayKeyword(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "gateway_name", "card_brand")
	row := map[string]string{"gateway_name": "SEPA-Inst-02", "card_brand": "VISA"}

	ctx := e.InferPaymentContext(row, mapping, models.TransactionTypePayment)

	if ctx.Method != MethodBankTransfer {
		t.Errorf("Expected gateway keyword to beat card brand, got %s", ctx.Method)
	}
	if ctx.Confidence != ConfidenceGatewayHint {
		t.Errorf("Expected confidence %v, got %v", ConfidenceGatewayHint, ctx.Confidence)
	}
}

func TestInferPaymentContext_CardBrand(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "card_brand")
	row := map[string]string{"card_brand": "mastercard"}

	ctx := e.InferPaymentContext(row, mapping, models.TransactionTypePayment)

	if ctx.Method != MethodCard || ctx.CardBrand != "MASTERCARD" {
		t.Errorf("Expected card/MASTERCARD, got %s/%s", ctx.Method, ctx.CardBrand)
	}
	if ctx.Confidence != ConfidenceCardBrand {
		t.Errorf("Expected confidence %v, got %v", ConfidenceCardBrand, ctx.Confidence)
	}
}

func TestInferPaymentContext_PayoutDefault(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "amount")
	row := map[string]string{"amount": "100"}

	ctx := e.InferPaymentContext(row, mapping, models.TransactionTypePayout)

	if ctx.Method != MethodBankTransfer || ctx.Confidence != ConfidencePayoutDefault {
		t.Errorf("Expected payout default bank_transfer@%v, got %s@%v", ConfidencePayoutDefault, ctx.Method, ctx.Confidence)
	}
}

func TestInferPaymentContext_Unknown(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "amount")
	row := map[string]string{"amount": "100"}

	ctx := e.InferPaymentContext(row, mapping, models.TransactionTypePayment)

	if ctx.Method != MethodUnknown || ctx.Confidence != 0 {
		t.Errorf("Expected unknown@0, got %s@%v", ctx.Method, ctx.Confidence)
	}
}

func TestBuildRecord_FullRow(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "transaction_id", "amount", "currency", "commission", "rolling_reserve", "date", "status", "transaction_type", "country")
	row := map[string]string{
		"transaction_id":   "TX-100",
		"amount":           "510.28",
		"currency":         "eur",
		"commission":       "19.39",
		"rolling_reserve":  "51.03",
		"date":             "2024-03-01",
		"status":           "approved",
		"transaction_type": "payment",
		"country":          "de",
	}

	out := e.BuildRecord("March", 2, row, mapping)
	rec := out.Record

	if rec.TransactionID != "TX-100" {
		t.Errorf("Expected TX-100, got %s", rec.TransactionID)
	}
	if !out.HasAmount || !rec.Amount.Equal(decimal.NewFromFloat(510.28)) {
		t.Errorf("Expected amount 510.28, got %s", rec.Amount)
	}
	if rec.Currency != "EUR" || rec.Region != "DE" {
		t.Errorf("Expected uppercased currency/region, got %s/%s", rec.Currency, rec.Region)
	}
	if rec.Type != models.TransactionTypePayment || rec.Status != models.StatusApproved {
		t.Errorf("Unexpected type/status: %s/%s", rec.Type, rec.Status)
	}
	if !out.HasDate {
		t.Error("Expected date to parse")
	}

	commission, ok := rec.ActualFee(models.FeeRemuneration)
	if !ok || !commission.Equal(decimal.NewFromFloat(19.39)) {
		t.Errorf("Expected commission 19.39, got %s ok=%v", commission, ok)
	}
	if out.FeeDetection[models.FeeRemuneration] != 1.0 {
		t.Errorf("Expected exact fee detection confidence, got %v", out.FeeDetection[models.FeeRemuneration])
	}
	reserve, ok := rec.ActualFee(models.FeeRollingReserve)
	if !ok || !reserve.Equal(decimal.NewFromFloat(51.03)) {
		t.Errorf("Expected reserve 51.03, got %s ok=%v", reserve, ok)
	}
}

func TestBuildRecord_SyntheticIDAndDefaults(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "amount")
	row := map[string]string{"amount": "100.00"}

	out := e.BuildRecord("April", 7, row, mapping)

	if out.Record.TransactionID != "April:Row7" {
		t.Errorf("Expected synthetic ID April:Row7, got %s", out.Record.TransactionID)
	}
	if out.Record.Currency != "EUR" {
		t.Errorf("Expected EUR default, got %s", out.Record.Currency)
	}
	if out.Record.Status != models.StatusApproved {
		t.Errorf("Expected approved default, got %s", out.Record.Status)
	}

	wantHints := []string{"row-derived ID", "assuming EUR", "approved"}
	for _, hint := range wantHints {
		found := false
		for _, a := range out.Assumptions {
			if strings.Contains(a, hint) {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected assumption containing %q, got %v", hint, out.Assumptions)
		}
	}
}

func TestBuildRecord_UnparseableAmount(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "transaction_id", "amount")
	row := map[string]string{"transaction_id": "TX-1", "amount": "n/a"}

	out := e.BuildRecord("May", 3, row, mapping)

	if out.HasAmount {
		t.Error("Expected HasAmount false for unparseable amount")
	}
	if len(out.Assumptions) == 0 {
		t.Error("Expected an assumption about the bad amount")
	}
}

func TestBuildRecord_CollectedFeePreferred(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "chargeback", "chb_fix_50_euro", "amount")
	row := map[string]string{
		"chargeback":      "250.00",
		"chb_fix_50_euro": "50.00",
		"amount":          "250.00",
	}

	out := e.BuildRecord("June", 1, row, mapping)

	fee, ok := out.Record.ActualFee(models.FeeChargeback)
	if !ok || !fee.Equal(decimal.NewFromFloat(50.00)) {
		t.Errorf("Expected collected fee 50.00 preferred over disputed amount, got %s ok=%v", fee, ok)
	}
}

func TestBuildRecord_Quantities(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "refund_qty", "refund_fix_5_euro", "amount")
	row := map[string]string{"refund_qty": "3", "refund_fix_5_euro": "15.00", "amount": "0"}

	out := e.BuildRecord("July", 4, row, mapping)

	if out.Quantities[models.FeeRefund] != 3 {
		t.Errorf("Expected refund quantity 3, got %d", out.Quantities[models.FeeRefund])
	}
	fee, ok := out.Record.ActualFee(models.FeeRefund)
	if !ok || !fee.Equal(decimal.NewFromFloat(15.00)) {
		t.Errorf("Expected collected refund fee 15.00, got %s ok=%v", fee, ok)
	}
}

func TestBuildRecord_NegativeFeeStoredAbsolute(t *testing.T) {
	e := NewExtractor()
	mapping := mappingFor(t, "commission", "amount")
	row := map[string]string{"commission": "-19.39", "amount": "510.28"}

	out := e.BuildRecord("Aug", 9, row, mapping)

	fee, _ := out.Record.ActualFee(models.FeeRemuneration)
	if !fee.Equal(decimal.NewFromFloat(19.39)) {
		t.Errorf("Expected fee stored as absolute value, got %s", fee)
	}
}
