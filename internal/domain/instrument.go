package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Instrument type discriminators used in persisted records
const (
	InstrumentTypeCryptoSwap   = "CryptoSwap"
	InstrumentTypeCurrencyPair = "CurrencyPair"
	InstrumentTypeEquity       = "Equity"
)

// Instrument is the tradable definition referenced by orders and positions.
// The core treats instrument sourcing as an external concern; this is the
// minimal shape the engines and account calculators need.
type Instrument struct {
	ID                 InstrumentID
	Type               string
	BaseCurrency       Currency
	QuoteCurrency      Currency
	SettlementCurrency Currency
	IsInverse          bool
	PricePrecision     int32
	SizePrecision      int32
	PriceIncrement     decimal.Decimal
	SizeIncrement      decimal.Decimal
	Multiplier         decimal.Decimal
	MinQuantity        *decimal.Decimal // nil when the venue declares no bound
	MaxQuantity        *decimal.Decimal
	MarginInit         decimal.Decimal
	MarginMaint        decimal.Decimal
	MakerFee           decimal.Decimal
	TakerFee           decimal.Decimal
	Info               json.RawMessage // opaque venue-specific payload
	TsInit             int64
}

// MakePrice rounds a raw price to the instrument's price precision
func (i Instrument) MakePrice(value decimal.Decimal) decimal.Decimal {
	return value.Round(i.PricePrecision)
}

// MakeQty rounds a raw quantity to the instrument's size precision
func (i Instrument) MakeQty(value decimal.Decimal) decimal.Decimal {
	return value.Round(i.SizePrecision)
}

// Notional returns the notional value of a quantity at a price, in the
// instrument's settlement currency. Inverse instruments settle in the base
// currency with notional qty * multiplier / price.
func (i Instrument) Notional(qty, price decimal.Decimal) Money {
	if i.IsInverse {
		if price.IsZero() {
			return ZeroMoney(i.SettlementCurrency)
		}
		return NewMoney(qty.Mul(i.Multiplier).Div(price), i.SettlementCurrency)
	}
	return NewMoney(qty.Mul(i.Multiplier).Mul(price), i.SettlementCurrency)
}

// Record returns the flat persisted shape for the instrument: a "type"
// discriminator, identifier fields as canonical strings, numerics as decimal
// strings, nullable fields explicitly null, and the opaque info bytes.
func (i Instrument) Record() map[string]any {
	rec := map[string]any{
		"type":                i.Type,
		"id":                  string(i.ID),
		"base_currency":       i.BaseCurrency.Code,
		"quote_currency":      i.QuoteCurrency.Code,
		"settlement_currency": i.SettlementCurrency.Code,
		"is_inverse":          i.IsInverse,
		"price_precision":     int64(i.PricePrecision),
		"size_precision":      int64(i.SizePrecision),
		"price_increment":     i.PriceIncrement.StringFixed(i.PricePrecision),
		"size_increment":      i.SizeIncrement.StringFixed(i.SizePrecision),
		"multiplier":          i.Multiplier.String(),
		"margin_init":         i.MarginInit.String(),
		"margin_maint":        i.MarginMaint.String(),
		"maker_fee":           i.MakerFee.String(),
		"taker_fee":           i.TakerFee.String(),
		"ts_init":             i.TsInit,
		"min_quantity":        nil,
		"max_quantity":        nil,
		"info":                nil,
	}
	if i.MinQuantity != nil {
		rec["min_quantity"] = i.MinQuantity.StringFixed(i.SizePrecision)
	}
	if i.MaxQuantity != nil {
		rec["max_quantity"] = i.MaxQuantity.StringFixed(i.SizePrecision)
	}
	if len(i.Info) > 0 {
		rec["info"] = []byte(i.Info)
	}
	return rec
}

// InstrumentFromRecord reconstructs an instrument from its persisted record
func InstrumentFromRecord(rec map[string]any) (Instrument, error) {
	var i Instrument

	typ, ok := rec["type"].(string)
	if !ok {
		return i, fmt.Errorf("instrument record missing type discriminator")
	}
	i.Type = typ

	id, ok := rec["id"].(string)
	if !ok {
		return i, fmt.Errorf("instrument record missing id")
	}
	i.ID = InstrumentID(id)
	if err := i.ID.Validate(); err != nil {
		return i, err
	}

	var err error
	if i.BaseCurrency, err = RecordCurrency(rec, "base_currency"); err != nil {
		return i, err
	}
	if i.QuoteCurrency, err = RecordCurrency(rec, "quote_currency"); err != nil {
		return i, err
	}
	if i.SettlementCurrency, err = RecordCurrency(rec, "settlement_currency"); err != nil {
		return i, err
	}
	i.IsInverse, _ = rec["is_inverse"].(bool)
	i.PricePrecision = int32(RecordInt(rec, "price_precision"))
	i.SizePrecision = int32(RecordInt(rec, "size_precision"))

	if i.PriceIncrement, err = RecordDecimal(rec, "price_increment"); err != nil {
		return i, err
	}
	if i.SizeIncrement, err = RecordDecimal(rec, "size_increment"); err != nil {
		return i, err
	}
	if i.Multiplier, err = RecordDecimal(rec, "multiplier"); err != nil {
		return i, err
	}
	if i.MarginInit, err = RecordDecimal(rec, "margin_init"); err != nil {
		return i, err
	}
	if i.MarginMaint, err = RecordDecimal(rec, "margin_maint"); err != nil {
		return i, err
	}
	if i.MakerFee, err = RecordDecimal(rec, "maker_fee"); err != nil {
		return i, err
	}
	if i.TakerFee, err = RecordDecimal(rec, "taker_fee"); err != nil {
		return i, err
	}
	i.TsInit = RecordInt(rec, "ts_init")

	if i.MinQuantity, err = RecordNullableDecimal(rec, "min_quantity"); err != nil {
		return i, err
	}
	if i.MaxQuantity, err = RecordNullableDecimal(rec, "max_quantity"); err != nil {
		return i, err
	}
	switch v := rec["info"].(type) {
	case nil:
	case []byte:
		i.Info = json.RawMessage(v)
	case string:
		i.Info = json.RawMessage(v)
	}
	return i, nil
}

