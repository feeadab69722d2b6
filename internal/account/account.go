package account

import (
	"fmt"
	"sort"

	"github.com/meridianhq/meridian/internal/domain"
)

// Account is the event-sourced account aggregate. It applies ordered state
// events, keeps the current balance per currency and the running commission
// totals. Accounts are owned by the execution engine and mutated only on
// the bus dispatch goroutine; they are not safe for concurrent use.
type Account struct {
	id           domain.AccountID
	accountType  domain.AccountType
	baseCurrency domain.Currency

	events      []State
	balances    map[domain.Currency]domain.AccountBalance
	commissions map[domain.Currency]domain.Money
}

// New creates an account from its creation event. The event log is never
// empty afterwards.
func New(event State) (*Account, error) {
	if event.AccountID == "" {
		return nil, fmt.Errorf("%w: account state event missing account_id", domain.ErrInvariantViolation)
	}
	a := &Account{
		id:           event.AccountID,
		accountType:  event.AccountType,
		baseCurrency: event.BaseCurrency,
		balances:     make(map[domain.Currency]domain.AccountBalance),
		commissions:  make(map[domain.Currency]domain.Money),
	}
	if err := a.Apply(event); err != nil {
		return nil, err
	}
	return a, nil
}

// ID returns the immutable account identifier
func (a *Account) ID() domain.AccountID { return a.id }

// Type returns the account type
func (a *Account) Type() domain.AccountType { return a.accountType }

// BaseCurrency returns the account's base currency. ok is false for
// multi-currency accounts.
func (a *Account) BaseCurrency() (domain.Currency, bool) {
	return a.baseCurrency, !a.baseCurrency.IsZero()
}

// Apply validates and applies a state event: the event is appended to the
// log and the balance for every currency it carries is replaced. Currencies
// absent from the event keep their prior values. A failed apply leaves the
// account completely unchanged.
func (a *Account) Apply(event State) error {
	if event.AccountID != a.id {
		return fmt.Errorf("%w: event account_id %s does not match account %s",
			domain.ErrStateMismatch, event.AccountID, a.id)
	}
	if event.BaseCurrency != a.baseCurrency {
		return fmt.Errorf("%w: event base currency %q does not match account base currency %q",
			domain.ErrStateMismatch, event.BaseCurrency.Code, a.baseCurrency.Code)
	}
	if len(event.Balances) == 0 {
		return fmt.Errorf("%w: account state event carries no balances", domain.ErrInvariantViolation)
	}
	if !a.baseCurrency.IsZero() {
		if len(event.Balances) != 1 {
			return fmt.Errorf("%w: base currency account requires exactly one balance, event carries %d",
				domain.ErrInvariantViolation, len(event.Balances))
		}
		if event.Balances[0].Currency() != a.baseCurrency {
			return fmt.Errorf("%w: balance currency %s does not match base currency %s",
				domain.ErrInvariantViolation, event.Balances[0].Currency().Code, a.baseCurrency.Code)
		}
	}

	a.events = append(a.events, event)
	for _, b := range event.Balances {
		a.balances[b.Currency()] = b
	}
	return nil
}

// resolveCurrency picks the query currency: explicit argument first, the
// account's base currency otherwise.
func (a *Account) resolveCurrency(currency []domain.Currency) (domain.Currency, error) {
	if len(currency) > 0 && !currency[0].IsZero() {
		return currency[0], nil
	}
	if !a.baseCurrency.IsZero() {
		return a.baseCurrency, nil
	}
	return domain.Currency{}, fmt.Errorf("%w: multi-currency account requires an explicit currency",
		domain.ErrMissingCurrency)
}

// Balance returns the current balance for a currency, defaulting to the
// base currency when none is given. ok is false when the account has no
// recorded balance for the resolved currency; absence is distinct from a
// zero balance.
func (a *Account) Balance(currency ...domain.Currency) (domain.AccountBalance, bool, error) {
	c, err := a.resolveCurrency(currency)
	if err != nil {
		return domain.AccountBalance{}, false, err
	}
	b, ok := a.balances[c]
	return b, ok, nil
}

// BalanceTotal returns the total balance for a currency
func (a *Account) BalanceTotal(currency ...domain.Currency) (domain.Money, bool, error) {
	b, ok, err := a.Balance(currency...)
	if err != nil || !ok {
		return domain.Money{}, ok, err
	}
	return b.Total, true, nil
}

// BalanceFree returns the free balance for a currency
func (a *Account) BalanceFree(currency ...domain.Currency) (domain.Money, bool, error) {
	b, ok, err := a.Balance(currency...)
	if err != nil || !ok {
		return domain.Money{}, ok, err
	}
	return b.Free, true, nil
}

// BalanceLocked returns the locked balance for a currency
func (a *Account) BalanceLocked(currency ...domain.Currency) (domain.Money, bool, error) {
	b, ok, err := a.Balance(currency...)
	if err != nil || !ok {
		return domain.Money{}, ok, err
	}
	return b.Locked, true, nil
}

// Balances returns the current balances sorted by currency code
func (a *Account) Balances() []domain.AccountBalance {
	out := make([]domain.AccountBalance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Currency().Code < out[j].Currency().Code
	})
	return out
}

// StartingBalances returns the balances declared by the creation event
func (a *Account) StartingBalances() []domain.AccountBalance {
	first := a.events[0]
	out := make([]domain.AccountBalance, len(first.Balances))
	copy(out, first.Balances)
	return out
}

// UpdateCommissions accumulates a commission into the per-currency running
// total. A zero amount is a no-op; negative amounts are rebates.
func (a *Account) UpdateCommissions(commission domain.Money) {
	if commission.IsZero() {
		return
	}
	c := commission.Currency()
	if existing, ok := a.commissions[c]; ok {
		total, err := existing.Add(commission)
		if err != nil {
			return
		}
		a.commissions[c] = total
		return
	}
	a.commissions[c] = commission
}

// Commission returns the cumulative commission for a currency. ok is false
// when no commission has been recorded in the resolved currency.
func (a *Account) Commission(currency ...domain.Currency) (domain.Money, bool, error) {
	c, err := a.resolveCurrency(currency)
	if err != nil {
		return domain.Money{}, false, err
	}
	m, ok := a.commissions[c]
	return m, ok, nil
}

// Commissions returns the cumulative commissions sorted by currency code
func (a *Account) Commissions() []domain.Money {
	out := make([]domain.Money, 0, len(a.commissions))
	for _, m := range a.commissions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Currency().Code < out[j].Currency().Code
	})
	return out
}

// Events returns a copy of the applied event log
func (a *Account) Events() []State {
	out := make([]State, len(a.events))
	copy(out, a.events)
	return out
}

// EventCount returns the number of applied events
func (a *Account) EventCount() int { return len(a.events) }

// LastEvent returns the most recently applied state event
func (a *Account) LastEvent() State { return a.events[len(a.events)-1] }

// String renders the account identity and current balances
func (a *Account) String() string {
	return fmt.Sprintf("Account(id=%s, type=%s, balances=%v)", a.id, a.accountType, a.Balances())
}
