package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionType_IsValid(t *testing.T) {
	valid := []TransactionType{TransactionTypePayment, TransactionTypePayout, TransactionTypeRefund, TransactionTypeChargeback}
	for _, tt := range valid {
		if !tt.IsValid() {
			t.Errorf("Expected %s to be valid", tt)
		}
	}

	if TransactionType("transfer").IsValid() {
		t.Error("Expected 'transfer' to be invalid")
	}
}

func TestTransactionRecord_Validate(t *testing.T) {
	record := &TransactionRecord{
		TransactionID: "TX001",
		Amount:        decimal.NewFromFloat(100.50),
		Currency:      "EUR",
		Type:          TransactionTypePayment,
		Status:        StatusApproved,
	}

	if err := record.Validate(); err != nil {
		t.Errorf("Expected valid record, got error: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*TransactionRecord)
	}{
		{"empty ID", func(r *TransactionRecord) { r.TransactionID = "  " }},
		{"negative amount", func(r *TransactionRecord) { r.Amount = decimal.NewFromFloat(-5) }},
		{"invalid type", func(r *TransactionRecord) { r.Type = "transfer" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := *record
			tt.modify(&bad)
			if err := bad.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestRoundMoney_HalfUp(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"5.005", "5.01"},
		{"5.004", "5.0"},
		{"5.1028", "5.1"},
		{"19.391", "19.39"},
		{"0.015", "0.02"},
	}

	for _, tt := range tests {
		d, _ := decimal.NewFromString(tt.input)
		got := RoundMoney(d)
		expected, _ := decimal.NewFromString(tt.expected)
		if !got.Equal(expected) {
			t.Errorf("RoundMoney(%s) = %s, expected %s", tt.input, got, tt.expected)
		}
	}
}

func TestRoundMoney_TwoDecimalDigits(t *testing.T) {
	d, _ := decimal.NewFromString("510.28")
	rate, _ := decimal.NewFromString("0.01")
	got := RoundMoney(d.Mul(rate))
	expected, _ := decimal.NewFromString("5.10")
	if !got.Equal(expected) {
		t.Errorf("Expected 510.28 * 0.01 rounded = 5.10, got %s", got)
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"123.45", "123.45", false},
		{"€50.00", "50.00", false},
		{"37,500 ", "37500", false},
		{"$1,234.56", "1234.56", false},
		{"", "0", true},
		{"abc", "0", true},
	}

	for _, tt := range tests {
		got, err := ParseDecimalFromString(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDecimalFromString(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDecimalFromString(%q) unexpected error: %v", tt.input, err)
			continue
		}
		expected, _ := decimal.NewFromString(tt.expected)
		if !got.Equal(expected) {
			t.Errorf("ParseDecimalFromString(%q) = %s, expected %s", tt.input, got, tt.expected)
		}
	}
}

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		input    string
		expected TransactionType
	}{
		{"payment", TransactionTypePayment},
		{"sale", TransactionTypePayment},
		{"PAYOUT", TransactionTypePayout},
		{"withdrawal", TransactionTypePayout},
		{"refund", TransactionTypeRefund},
		{"chargeback", TransactionTypeChargeback},
		{"chb", TransactionTypeChargeback},
		{"", TransactionTypePayment},
	}

	for _, tt := range tests {
		if got := ParseTransactionType(tt.input); got != tt.expected {
			t.Errorf("ParseTransactionType(%q) = %s, expected %s", tt.input, got, tt.expected)
		}
	}
}

func TestParseTransactionStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected TransactionStatus
	}{
		{"approved", StatusApproved},
		{"Success", StatusApproved},
		{"DECLINED", StatusDeclined},
		{"failed", StatusDeclined},
		{"pending", StatusPending},
		{"weird", StatusUnknown},
	}

	for _, tt := range tests {
		if got := ParseTransactionStatus(tt.input); got != tt.expected {
			t.Errorf("ParseTransactionStatus(%q) = %s, expected %s", tt.input, got, tt.expected)
		}
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	tests := []string{
		"2024-01-15",
		"2024-01-15 10:30:00",
		"15.01.2024",
	}

	for _, input := range tests {
		parsed, err := ParseTimeWithFormats(input)
		if err != nil {
			t.Errorf("ParseTimeWithFormats(%q) unexpected error: %v", input, err)
			continue
		}
		if parsed.Year() != 2024 || parsed.Month() != time.January || parsed.Day() != 15 {
			t.Errorf("ParseTimeWithFormats(%q) = %v, expected 2024-01-15", input, parsed)
		}
	}

	if _, err := ParseTimeWithFormats("not a date"); err == nil {
		t.Error("Expected error for unparseable date")
	}
}

func TestSyntheticTransactionID(t *testing.T) {
	if got := SyntheticTransactionID("January", 12); got != "January:Row12" {
		t.Errorf("Expected 'January:Row12', got %q", got)
	}
	if got := SyntheticTransactionID("", 3); got != "Row3" {
		t.Errorf("Expected 'Row3', got %q", got)
	}
}

func TestVerificationResult_HasMissingData(t *testing.T) {
	actual := decimal.NewFromFloat(5.00)
	result := &VerificationResult{
		PerFeeType: map[FeeType]*FeeComparison{
			FeeRemuneration: {Actual: &actual, Status: FeeCorrect},
		},
	}

	if result.HasMissingData() {
		t.Error("Expected no missing data")
	}

	result.PerFeeType[FeeRollingReserve] = &FeeComparison{Status: FeeSkippedMissingData}
	if !result.HasMissingData() {
		t.Error("Expected missing data to be detected")
	}
}

func TestVerificationResult_TotalAbsDiscrepancy(t *testing.T) {
	a1 := decimal.NewFromFloat(5.00)
	a2 := decimal.NewFromFloat(12.00)
	result := &VerificationResult{
		PerFeeType: map[FeeType]*FeeComparison{
			FeeRemuneration: {
				Actual:     &a1,
				Difference: decimal.NewFromFloat(-0.10),
				Status:     FeeUndercharged,
			},
			FeeRollingReserve: {
				Actual:     &a2,
				Difference: decimal.NewFromFloat(2.00),
				Status:     FeeOvercharged,
			},
			FeeChargeback: {Status: FeeSkippedMissingData},
		},
	}

	expected := decimal.NewFromFloat(2.10)
	if got := result.TotalAbsDiscrepancy(); !got.Equal(expected) {
		t.Errorf("Expected total discrepancy 2.10, got %s", got)
	}
}
