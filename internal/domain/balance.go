package domain

import (
	"fmt"
)

// AccountBalance is the per-currency balance triple owned by an Account.
// Invariant: Total = Locked + Free, all three in the same currency.
// Balances are replaced wholesale per currency on each account update.
type AccountBalance struct {
	Total  Money
	Locked Money
	Free   Money
}

// NewAccountBalance builds a balance triple and validates its invariants
func NewAccountBalance(total, locked, free Money) (AccountBalance, error) {
	if total.Currency() != locked.Currency() || total.Currency() != free.Currency() {
		return AccountBalance{}, fmt.Errorf(
			"%w: balance currencies differ (total=%s locked=%s free=%s)",
			ErrCurrencyMismatch, total.Currency(), locked.Currency(), free.Currency())
	}
	sum, err := locked.Add(free)
	if err != nil {
		return AccountBalance{}, err
	}
	if !sum.Equal(total) {
		return AccountBalance{}, fmt.Errorf(
			"%w: total %s != locked %s + free %s",
			ErrInvariantViolation, total, locked, free)
	}
	if locked.IsNegative() || free.IsNegative() {
		return AccountBalance{}, fmt.Errorf(
			"%w: negative balance component (locked=%s free=%s)",
			ErrInvariantViolation, locked, free)
	}
	return AccountBalance{Total: total, Locked: locked, Free: free}, nil
}

// BalanceFromTotalLocked derives the free component from total and locked
func BalanceFromTotalLocked(total, locked Money) (AccountBalance, error) {
	free, err := total.Sub(locked)
	if err != nil {
		return AccountBalance{}, err
	}
	return NewAccountBalance(total, locked, free)
}

// Currency returns the currency of the balance triple
func (b AccountBalance) Currency() Currency {
	return b.Total.Currency()
}

// String renders the triple for logs
func (b AccountBalance) String() string {
	return fmt.Sprintf("AccountBalance(total=%s, locked=%s, free=%s)", b.Total, b.Locked, b.Free)
}
