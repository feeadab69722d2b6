// Package domain provides the core value types and identifiers shared by the
// execution core: currencies, money, balances, instruments and market data.
package domain

import (
	"fmt"
	"strings"
	"sync"
)

// CurrencyType classifies a currency as fiat or crypto
type CurrencyType uint8

const (
	CurrencyTypeFiat CurrencyType = iota + 1
	CurrencyTypeCrypto
)

// String returns the canonical name for the currency type
func (t CurrencyType) String() string {
	switch t {
	case CurrencyTypeFiat:
		return "FIAT"
	case CurrencyTypeCrypto:
		return "CRYPTO"
	default:
		return "UNKNOWN"
	}
}

// Currency represents an interned currency with its display precision.
// Currencies are compared by value; two currencies with the same code,
// precision and type are the same currency.
type Currency struct {
	Code      string
	Precision int32
	Type      CurrencyType
}

// Predefined currencies
var (
	USD  = Currency{Code: "USD", Precision: 2, Type: CurrencyTypeFiat}
	EUR  = Currency{Code: "EUR", Precision: 2, Type: CurrencyTypeFiat}
	GBP  = Currency{Code: "GBP", Precision: 2, Type: CurrencyTypeFiat}
	JPY  = Currency{Code: "JPY", Precision: 0, Type: CurrencyTypeFiat}
	AUD  = Currency{Code: "AUD", Precision: 2, Type: CurrencyTypeFiat}
	CHF  = Currency{Code: "CHF", Precision: 2, Type: CurrencyTypeFiat}
	BTC  = Currency{Code: "BTC", Precision: 8, Type: CurrencyTypeCrypto}
	ETH  = Currency{Code: "ETH", Precision: 8, Type: CurrencyTypeCrypto}
	USDT = Currency{Code: "USDT", Precision: 8, Type: CurrencyTypeCrypto}
	USDC = Currency{Code: "USDC", Precision: 8, Type: CurrencyTypeCrypto}
)

var (
	currencyMu       sync.RWMutex
	currencyRegistry = map[string]Currency{
		"USD":  USD,
		"EUR":  EUR,
		"GBP":  GBP,
		"JPY":  JPY,
		"AUD":  AUD,
		"CHF":  CHF,
		"BTC":  BTC,
		"ETH":  ETH,
		"USDT": USDT,
		"USDC": USDC,
	}
)

// RegisterCurrency adds a currency to the registry so venue adapters can
// intern codes not shipped with the core. Registering an existing code
// replaces the prior entry.
func RegisterCurrency(c Currency) error {
	if c.Code == "" {
		return fmt.Errorf("%w: currency code must not be empty", ErrInvariantViolation)
	}
	if c.Precision < 0 || c.Precision > 18 {
		return fmt.Errorf("%w: currency precision %d out of range [0, 18]", ErrInvariantViolation, c.Precision)
	}
	currencyMu.Lock()
	defer currencyMu.Unlock()
	currencyRegistry[strings.ToUpper(c.Code)] = c
	return nil
}

// CurrencyFromCode resolves an interned currency by its code
func CurrencyFromCode(code string) (Currency, bool) {
	currencyMu.RLock()
	defer currencyMu.RUnlock()
	c, ok := currencyRegistry[strings.ToUpper(code)]
	return c, ok
}

// IsZero reports whether the currency is the zero value (no currency)
func (c Currency) IsZero() bool {
	return c.Code == ""
}

// String returns the currency code
func (c Currency) String() string {
	return c.Code
}
