package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Record field accessors shared by every persisted record shape. Records
// are flat string-keyed maps with decimal-string encodings for numeric
// trading fields and explicit nulls for absent optionals, so the decoders
// tolerate the loose typing of generic map decoding.

// RecordString extracts a string field
func RecordString(rec map[string]any, key string) (string, bool) {
	s, ok := rec[key].(string)
	return s, ok
}

// RecordNullableString extracts an optional string field, reporting
// whether it was present and non-null.
func RecordNullableString(rec map[string]any, key string) (string, bool) {
	v, present := rec[key]
	if !present || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// RecordBool extracts a boolean field
func RecordBool(rec map[string]any, key string) bool {
	b, _ := rec[key].(bool)
	return b
}

// RecordBytes extracts an opaque bytes field encoded as either raw bytes
// or a string, returning nil when absent or null.
func RecordBytes(rec map[string]any, key string) []byte {
	switch v := rec[key].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// RecordInt extracts an integer field across the numeric types generic
// map decoders produce.
func RecordInt(rec map[string]any, key string) int64 {
	switch v := rec[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint64:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint16:
		return int64(v)
	case uint8:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// RecordDecimal extracts a required decimal-string field
func RecordDecimal(rec map[string]any, key string) (decimal.Decimal, error) {
	s, ok := rec[key].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("record field %s is not a decimal string", key)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("record field %s: %w", key, err)
	}
	return d, nil
}

// RecordNullableDecimal extracts an optional decimal-string field,
// returning nil when the field is null or absent.
func RecordNullableDecimal(rec map[string]any, key string) (*decimal.Decimal, error) {
	v, present := rec[key]
	if !present || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("record field %s is not a decimal string", key)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("record field %s: %w", key, err)
	}
	return &d, nil
}

// RecordCurrency extracts a currency-code field, interning unknown codes
// with a conservative default precision.
func RecordCurrency(rec map[string]any, key string) (Currency, error) {
	code, ok := rec[key].(string)
	if !ok || code == "" {
		return Currency{}, fmt.Errorf("record missing %s", key)
	}
	c, ok := CurrencyFromCode(code)
	if !ok {
		c = Currency{Code: code, Precision: 8, Type: CurrencyTypeCrypto}
	}
	return c, nil
}
