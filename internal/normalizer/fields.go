package normalizer

// CanonicalField enumerates the canonical column meanings the verification
// pipeline understands. Raw sheet headers are mapped onto these.
type CanonicalField string

const (
	FieldTransactionID          CanonicalField = "transaction_id"
	FieldAmount                 CanonicalField = "amount"
	FieldCurrency               CanonicalField = "currency"
	FieldCommission             CanonicalField = "commission"
	FieldRollingReserve         CanonicalField = "rolling_reserve"
	FieldChargebackFee          CanonicalField = "chargeback_fee"
	FieldRefundFee              CanonicalField = "refund_fee"
	FieldChargebackQty          CanonicalField = "chargeback_qty"
	FieldChargebackFeeCollected CanonicalField = "chargeback_fee_collected"
	FieldRefundQty              CanonicalField = "refund_qty"
	FieldRefundFeeCollected     CanonicalField = "refund_fee_collected"
	FieldDate                   CanonicalField = "date"
	FieldStatus                 CanonicalField = "status"
	FieldPaymentMethod          CanonicalField = "payment_method"
	FieldGatewayName            CanonicalField = "gateway_name"
	FieldCardBrand              CanonicalField = "card_brand"
	FieldTransactionType        CanonicalField = "transaction_type"
	FieldRegion                 CanonicalField = "region"
)

// String returns the string representation of CanonicalField
func (f CanonicalField) String() string {
	return string(f)
}

// fieldSynonyms is the static dictionary of known header spellings per
// canonical field, including Cyrillic variants seen in Russian-language
// sheets. Order within a field matters only for reasoning strings; the
// highest-confidence match wins regardless of order.
var fieldSynonyms = map[CanonicalField][]string{
	FieldTransactionID: {
		"transaction_id", "id", "номер", "order_id", "tx_id", "transactionid", "trxid",
	},
	FieldAmount: {
		"amount", "сумма", "оборот", "transaction_amount", "amount_eur", "amt", "sum", "total",
	},
	FieldCurrency: {
		"currency", "валюта", "curr", "ccy",
	},
	FieldCommission: {
		"commission", "комиссия", "вознаграждение", "fee", "charge", "commission_eur",
		"processing_fee", "mdr_eur",
	},
	FieldRollingReserve: {
		"rolling_reserve", "rr", "reserve", "резерв", "rolling_res", "rr_amount",
		"reservefund", "резервфонд",
	},
	FieldChargebackFee: {
		"chargeback", "чарджбэк", "cb_fee", "chb", "chargeback_fee", "cb",
	},
	FieldRefundFee: {
		"refund", "возврат", "refund_fee", "ref", "refund_amount",
	},
	FieldChargebackQty: {
		"chargeback_qty", "chb_qty", "chb_кол-во", "chargeback_quantity",
	},
	FieldChargebackFeeCollected: {
		"chargeback_fee_collected", "chb_fix_50_euro", "chb_fee_actual", "fix_50_euro",
	},
	FieldRefundQty: {
		"refund_qty", "refund_кол-во", "refund_quantity",
	},
	FieldRefundFeeCollected: {
		"refund_fee_collected", "refund_fix_5_euro", "refund_fee_actual", "fix_5_euro",
	},
	FieldDate: {
		"date", "дата", "created", "timestamp", "transaction_date", "created_at", "created_date",
	},
	FieldStatus: {
		"status", "статус", "state", "transaction_status",
	},
	FieldPaymentMethod: {
		"payment_method", "traffic_type_group", "method", "метод",
	},
	FieldGatewayName: {
		"gateway_name", "gate_name", "gate_descriptor", "gateway", "processor",
	},
	FieldCardBrand: {
		"card_brand", "card_type", "brand", "карта",
	},
	FieldTransactionType: {
		"transaction_type", "type", "tx_type", "тип",
	},
	FieldRegion: {
		"country", "region", "страна", "регион", "country_code",
	},
}

// allCanonicalFields returns fields in a fixed iteration order so mapping
// results and their assumption lists are deterministic across runs
func allCanonicalFields() []CanonicalField {
	return []CanonicalField{
		FieldTransactionID,
		FieldAmount,
		FieldCurrency,
		FieldCommission,
		FieldRollingReserve,
		FieldChargebackFee,
		FieldRefundFee,
		FieldChargebackQty,
		FieldChargebackFeeCollected,
		FieldRefundQty,
		FieldRefundFeeCollected,
		FieldDate,
		FieldStatus,
		FieldPaymentMethod,
		FieldGatewayName,
		FieldCardBrand,
		FieldTransactionType,
		FieldRegion,
	}
}
