package normalizer

import (
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMatchConfidence_Ladder(t *testing.T) {
	tests := []struct {
		name     string
		synonym  string
		header   string
		expected float64
	}{
		{"exact", "amount", "amount", ConfidenceExact},
		{"prefix", "amount", "amount_eur_total", ConfidencePrefix},
		{"suffix", "amount", "net_amount", ConfidenceSuffix},
		{"contains", "amount", "tx_amount_net", ConfidenceContains},
		{"edit distance 1", "amount", "amaunt", ConfidenceFuzzy},
		{"edit distance 2", "commission", "comission_", ConfidenceFuzzy},
		{"edit distance 3", "amount", "amoxyz", ConfidenceDistant},
		{"unrelated", "amount", "zzz", 0},
		{"cyrillic exact", "сумма", "сумма", ConfidenceExact},
		{"cyrillic fuzzy", "комиссия", "комисия", ConfidenceFuzzy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := matchConfidence(tt.synonym, tt.header)
			if got != tt.expected {
				t.Errorf("matchConfidence(%q, %q) = %v, expected %v", tt.synonym, tt.header, got, tt.expected)
			}
		})
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"amount", "amaunt", 1},
		{"сумма", "сума", 1},
	}

	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.expected {
			t.Errorf("levenshtein(%q, %q) = %d, expected %d", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestNormalize_ExactHeaders(t *testing.T) {
	n := NewNormalizer()
	result := n.Normalize([]string{"transaction_id", "amount", "currency", "commission", "date", "status"})

	for _, field := range []CanonicalField{FieldTransactionID, FieldAmount, FieldCurrency, FieldCommission, FieldDate, FieldStatus} {
		fm, ok := result.Mapped[field]
		if !ok {
			t.Fatalf("Expected field %s to be mapped", field)
		}
		if fm.Confidence != ConfidenceExact {
			t.Errorf("Expected exact confidence for %s, got %v", field, fm.Confidence)
		}
	}

	if len(result.Assumptions) != 0 {
		t.Errorf("Exact mappings should record no assumptions, got %v", result.Assumptions)
	}
}

func TestNormalize_CyrillicHeaders(t *testing.T) {
	n := NewNormalizer()
	result := n.Normalize([]string{"Номер", "Сумма", "Комиссия", "Резерв", "Возврат", "Дата"})

	expectations := map[CanonicalField]string{
		FieldTransactionID:  "Номер",
		FieldAmount:         "Сумма",
		FieldCommission:     "Комиссия",
		FieldRollingReserve: "Резерв",
		FieldRefundFee:      "Возврат",
		FieldDate:           "Дата",
	}
	for field, col := range expectations {
		fm, ok := result.Mapped[field]
		if !ok {
			t.Fatalf("Expected Cyrillic header to map to %s", field)
		}
		if fm.SourceColumn != col {
			t.Errorf("Expected %s mapped from %q, got %q", field, col, fm.SourceColumn)
		}
	}
}

func TestNormalize_FuzzyHeaderRecordsAssumption(t *testing.T) {
	n := NewNormalizer()
	result := n.Normalize([]string{"Comission_EUR", "Amount_EUR"})

	fm, ok := result.Mapped[FieldCommission]
	if !ok {
		t.Fatal("Expected misspelled commission header to be mapped")
	}
	if fm.Confidence >= ConfidenceExact {
		t.Errorf("Fuzzy match should score below exact, got %v", fm.Confidence)
	}

	found := false
	for _, a := range result.Assumptions {
		if strings.Contains(a, "Comission_EUR") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected an assumption naming the fuzzy column, got %v", result.Assumptions)
	}
}

func TestNormalize_UnmappedAndMissing(t *testing.T) {
	n := NewNormalizer()
	result := n.Normalize([]string{"amount", "merchant_website_url"})

	if len(result.UnmappedColumns) != 1 || result.UnmappedColumns[0] != "merchant_website_url" {
		t.Errorf("Expected merchant_website_url unmapped, got %v", result.UnmappedColumns)
	}

	missing := make(map[CanonicalField]bool)
	for _, f := range result.MissingFields {
		missing[f] = true
	}
	if !missing[FieldCurrency] || !missing[FieldDate] {
		t.Errorf("Expected currency and date among missing fields, got %v", result.MissingFields)
	}
	if missing[FieldAmount] {
		t.Error("Amount was mapped and must not be listed missing")
	}
}

func TestNormalize_AmbiguityRecorded(t *testing.T) {
	n := NewNormalizer()
	// Two strong candidates for the commission field.
	result := n.Normalize([]string{"commission", "commission_eur", "amount"})

	if len(result.Ambiguities) == 0 {
		t.Fatal("Expected an ambiguity for competing commission columns")
	}
	if !strings.Contains(result.Ambiguities[0], "commission") {
		t.Errorf("Ambiguity should name the contested field, got %q", result.Ambiguities[0])
	}
}

func TestNormalize_CacheReturnsSameResult(t *testing.T) {
	n := NewNormalizer()
	columns := []string{"amount", "currency", "date"}

	first := n.Normalize(columns)
	second := n.Normalize([]string{"date", "amount", "currency"})

	if first != second {
		t.Error("Expected identical header sets to share one cached mapping")
	}
	if n.CachedSchemas() != 1 {
		t.Errorf("Expected 1 cached schema, got %d", n.CachedSchemas())
	}
}

func TestNormalize_ConcurrentAccess(t *testing.T) {
	n := NewNormalizer()
	columns := []string{"transaction_id", "amount", "commission"}

	var wg sync.WaitGroup
	results := make([]*MappingResult, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = n.Normalize(columns)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("Concurrent callers must observe one cached mapping")
		}
	}
}

func TestMappingResult_Value(t *testing.T) {
	n := NewNormalizer()
	result := n.Normalize([]string{"Amount_EUR", "currency"})

	row := map[string]string{"Amount_EUR": " 100.50 ", "currency": ""}

	v, ok := result.Value(row, FieldAmount)
	if !ok || v != "100.50" {
		t.Errorf("Expected trimmed amount value, got %q ok=%v", v, ok)
	}

	if _, ok := result.Value(row, FieldCurrency); ok {
		t.Error("Empty cell must read as absent")
	}

	if _, ok := result.Value(row, FieldRegion); ok {
		t.Error("Unmapped field must read as absent")
	}
}

// fuzzyFeeMapping builds a mapping where the commission and reserve columns
// were matched by header alone, so value profiles are consulted.
func fuzzyFeeMapping(commissionCol, reserveCol string) *MappingResult {
	return &MappingResult{
		Mapped: map[CanonicalField]FieldMapping{
			FieldAmount:         {SourceColumn: "amount", Field: FieldAmount, Confidence: 1.0},
			FieldCommission:     {SourceColumn: commissionCol, Field: FieldCommission, Confidence: 0.7},
			FieldRollingReserve: {SourceColumn: reserveCol, Field: FieldRollingReserve, Confidence: 0.7},
		},
	}
}

func TestDisambiguateByValueProfile_SwapsColumns(t *testing.T) {
	n := NewNormalizer()
	result := fuzzyFeeMapping("fee_main", "fee_extra")

	// fee_main holds 10% values (reserve rate), fee_extra holds 3.8% values.
	rows := []map[string]string{
		{"amount": "100.00", "fee_main": "10.00", "fee_extra": "3.80"},
		{"amount": "200.00", "fee_main": "20.00", "fee_extra": "7.60"},
		{"amount": "50.00", "fee_main": "5.00", "fee_extra": "1.90"},
	}

	remuneration := decimal.NewFromFloat(0.038)
	reserve := decimal.NewFromFloat(0.10)
	refined := n.DisambiguateByValueProfile(result, rows, remuneration, reserve)

	if refined.Mapped[FieldCommission].SourceColumn != "fee_extra" {
		t.Errorf("Expected commission reassigned to fee_extra, got %q", refined.Mapped[FieldCommission].SourceColumn)
	}
	if refined.Mapped[FieldRollingReserve].SourceColumn != "fee_main" {
		t.Errorf("Expected reserve reassigned to fee_main, got %q", refined.Mapped[FieldRollingReserve].SourceColumn)
	}

	found := false
	for _, a := range refined.Assumptions {
		if strings.Contains(a, "Swapped") {
			found = true
		}
	}
	if !found {
		t.Error("Expected a recorded assumption for the swap")
	}
}

func TestDisambiguateByValueProfile_NoSwapWhenProfilesMatch(t *testing.T) {
	n := NewNormalizer()
	result := fuzzyFeeMapping("commission_x", "reserve_x")

	rows := []map[string]string{
		{"amount": "100.00", "commission_x": "3.80", "reserve_x": "10.00"},
	}

	refined := n.DisambiguateByValueProfile(result, rows, decimal.NewFromFloat(0.038), decimal.NewFromFloat(0.10))

	if refined.Mapped[FieldCommission].SourceColumn != "commission_x" {
		t.Error("Correctly assigned columns must not be swapped")
	}
}

func TestDisambiguateByValueProfile_LeavesCachedMappingUntouched(t *testing.T) {
	n := NewNormalizer()
	// Misspelled headers land as fuzzy matches, so the profile check runs.
	headers := []string{"amount", "comission", "rolling_reserv"}
	cached := n.Normalize(headers)
	if cached.Mapped[FieldCommission].SourceColumn != "comission" {
		t.Fatalf("Setup: expected comission column mapped, got %q", cached.Mapped[FieldCommission].SourceColumn)
	}

	// The comission column actually carries reserve-rate values and vice versa.
	rows := []map[string]string{
		{"amount": "100.00", "comission": "10.00", "rolling_reserv": "3.80"},
		{"amount": "200.00", "comission": "20.00", "rolling_reserv": "7.60"},
	}

	refined := n.DisambiguateByValueProfile(cached, rows, decimal.NewFromFloat(0.038), decimal.NewFromFloat(0.10))

	if refined.Mapped[FieldCommission].SourceColumn != "rolling_reserv" {
		t.Errorf("Expected refined commission column rolling_reserv, got %q", refined.Mapped[FieldCommission].SourceColumn)
	}

	// The cached result is shared across sheets and must stay as computed.
	if cached.Mapped[FieldCommission].SourceColumn != "comission" {
		t.Errorf("Cached commission mapping was modified to %q", cached.Mapped[FieldCommission].SourceColumn)
	}
	if cached.Mapped[FieldRollingReserve].SourceColumn != "rolling_reserv" {
		t.Errorf("Cached reserve mapping was modified to %q", cached.Mapped[FieldRollingReserve].SourceColumn)
	}
	for _, a := range cached.Assumptions {
		if strings.Contains(a, "Swapped") {
			t.Error("Swap assumption leaked into the cached mapping")
		}
	}

	// A later sheet with the same headers sees the original mapping.
	if again := n.Normalize(headers); again != cached {
		t.Error("Expected the cached mapping to be returned for a repeated schema")
	}
}

func TestDisambiguateByValueProfile_ConcurrentSheets(t *testing.T) {
	n := NewNormalizer()
	headers := []string{"amount", "comission", "rolling_reserv"}
	rows := []map[string]string{
		{"amount": "100.00", "comission": "10.00", "rolling_reserv": "3.80"},
		{"amount": "200.00", "comission": "20.00", "rolling_reserv": "7.60"},
	}
	remuneration := decimal.NewFromFloat(0.038)
	reserve := decimal.NewFromFloat(0.10)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mapping := n.Normalize(headers)
			refined := n.DisambiguateByValueProfile(mapping, rows, remuneration, reserve)
			if refined.Mapped[FieldCommission].SourceColumn != "rolling_reserv" {
				t.Errorf("Expected swapped commission column, got %q", refined.Mapped[FieldCommission].SourceColumn)
			}
		}()
	}
	wg.Wait()
}
