package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an immutable currency-tagged amount with fixed precision.
// The amount is rounded to the currency's precision at construction, so two
// Money values built from equivalent decimals compare equal.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates a Money value, rounding the amount to the currency precision
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{
		amount:   amount.Round(currency.Precision),
		currency: currency,
	}
}

// MoneyFromString parses a decimal string into a Money value
func MoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", amount, err)
	}
	return NewMoney(d, currency), nil
}

// MoneyFromFloat creates a Money value from a float64. Intended for test
// fixtures and venue payloads that only expose binary floats; internal
// arithmetic stays decimal.
func MoneyFromFloat(amount float64, currency Currency) Money {
	return NewMoney(decimal.NewFromFloat(amount), currency)
}

// ParseMoney parses the "amount CODE" encoding produced by String, e.g.
// "10000.00 USD". Unknown codes are interned the same way record decoding
// interns them.
func ParseMoney(s string) (Money, error) {
	idx := strings.LastIndexByte(s, ' ')
	if idx <= 0 || idx == len(s)-1 {
		return Money{}, fmt.Errorf("invalid money %q: want \"amount CODE\"", s)
	}
	code := s[idx+1:]
	currency, ok := CurrencyFromCode(code)
	if !ok {
		currency = Currency{Code: code, Precision: 8, Type: CurrencyTypeCrypto}
	}
	return MoneyFromString(s[:idx], currency)
}

// ZeroMoney returns a zero amount in the given currency
func ZeroMoney(currency Currency) Money {
	return Money{amount: decimal.Zero.Round(currency.Precision), currency: currency}
}

// Amount returns the decimal amount
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the currency tag
func (m Money) Currency() Currency {
	return m.currency
}

// IsZero reports whether the amount is exactly zero
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsNegative reports whether the amount is below zero
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Neg returns the negated amount in the same currency
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Abs returns the absolute amount in the same currency
func (m Money) Abs() Money {
	return Money{amount: m.amount.Abs(), currency: m.currency}
}

// Add returns m + other. Mixing currencies is an invariant violation.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other. Mixing currencies is an invariant violation.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// MulDecimal returns the amount scaled by a dimensionless factor,
// rounded back to the currency precision.
func (m Money) MulDecimal(factor decimal.Decimal) Money {
	return NewMoney(m.amount.Mul(factor), m.currency)
}

// Cmp compares two amounts of the same currency: -1 if m < other,
// 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if m.currency != other.currency {
		return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return m.amount.Cmp(other.amount), nil
}

// Equal reports value equality: same currency and same amount
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// DecimalString returns the amount as a decimal string at the currency
// precision, the canonical encoding for persisted records.
func (m Money) DecimalString() string {
	return m.amount.StringFixed(m.currency.Precision)
}

// String renders the amount with its currency code, e.g. "10000.00 USD"
func (m Money) String() string {
	return m.DecimalString() + " " + m.currency.Code
}
