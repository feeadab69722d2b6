// Package account implements the event-sourced account aggregate: balances
// and commissions are reconciled by applying ordered state events, and
// venue-specific calculations (commissions, PnLs, margin) live behind
// capability interfaces implemented by the cash and margin variants.
package account

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
)

// State is the account state event: a snapshot of one or more per-currency
// balances reported by a venue or calculated locally. Currencies absent
// from the event are untouched when applied.
type State struct {
	messaging.EventBase

	AccountID    domain.AccountID
	AccountType  domain.AccountType
	BaseCurrency domain.Currency // zero value for multi-currency accounts
	Balances     []domain.AccountBalance
	IsReported   bool   // venue-reported rather than locally calculated
	Info         []byte // opaque venue-specific JSON
}

// NewState creates an account state event
func NewState(
	accountID domain.AccountID,
	accountType domain.AccountType,
	baseCurrency domain.Currency,
	balances []domain.AccountBalance,
	isReported bool,
	tsEvent, tsInit int64,
) State {
	return State{
		EventBase:    messaging.NewEventBase(tsEvent, tsInit),
		AccountID:    accountID,
		AccountType:  accountType,
		BaseCurrency: baseCurrency,
		Balances:     balances,
		IsReported:   isReported,
	}
}

// EventType returns the record discriminator for the event
func (State) EventType() string { return "AccountState" }

// Record returns the flat persisted shape of the event. Amounts are
// decimal strings, the base currency of a multi-currency account is an
// explicit null.
func (s State) Record() map[string]any {
	balances := make([]map[string]any, len(s.Balances))
	for i, b := range s.Balances {
		balances[i] = map[string]any{
			"currency": b.Currency().Code,
			"total":    b.Total.DecimalString(),
			"locked":   b.Locked.DecimalString(),
			"free":     b.Free.DecimalString(),
		}
	}

	rec := map[string]any{
		"type":          s.EventType(),
		"event_id":      s.ID().String(),
		"account_id":    string(s.AccountID),
		"account_type":  s.AccountType.String(),
		"base_currency": nil,
		"balances":      balances,
		"is_reported":   s.IsReported,
		"ts_event":      s.TsEvent(),
		"ts_init":       s.TsInit(),
		"info":          nil,
	}
	if !s.BaseCurrency.IsZero() {
		rec["base_currency"] = s.BaseCurrency.Code
	}
	if len(s.Info) > 0 {
		rec["info"] = s.Info
	}
	return rec
}

// StateFromRecord reconstructs an account state event from its record
func StateFromRecord(rec map[string]any) (State, error) {
	var s State

	eventID, ok := domain.RecordString(rec, "event_id")
	if !ok {
		return s, fmt.Errorf("account state record missing event_id")
	}
	id, err := uuid.Parse(eventID)
	if err != nil {
		return s, fmt.Errorf("account state record event_id: %w", err)
	}
	s.EventBase = messaging.EventBaseWithID(id, domain.RecordInt(rec, "ts_event"), domain.RecordInt(rec, "ts_init"))

	accountID, ok := domain.RecordString(rec, "account_id")
	if !ok {
		return s, fmt.Errorf("account state record missing account_id")
	}
	s.AccountID = domain.AccountID(accountID)

	typeName, _ := domain.RecordString(rec, "account_type")
	s.AccountType, err = domain.AccountTypeFromString(typeName)
	if err != nil {
		return s, err
	}

	if code, ok := domain.RecordNullableString(rec, "base_currency"); ok {
		c, found := domain.CurrencyFromCode(code)
		if !found {
			return s, fmt.Errorf("account state record has unknown base currency %s", code)
		}
		s.BaseCurrency = c
	}

	rawBalances := balanceList(rec["balances"])
	s.Balances = make([]domain.AccountBalance, 0, len(rawBalances))
	for _, raw := range rawBalances {
		entry, err := balanceEntry(raw)
		if err != nil {
			return s, err
		}
		b, err := balanceFromEntry(entry)
		if err != nil {
			return s, err
		}
		s.Balances = append(s.Balances, b)
	}

	s.IsReported = domain.RecordBool(rec, "is_reported")
	s.Info = domain.RecordBytes(rec, "info")
	return s, nil
}

// balanceList normalizes the balances slice shapes generic decoders
// produce alongside the native record shape.
func balanceList(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// balanceEntry normalizes the per-balance map shapes generic decoders
// produce (string-keyed or any-keyed).
func balanceEntry(raw any) (map[string]any, error) {
	switch m := raw.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		entry := make(map[string]any, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("account state record balance has non-string key %v", k)
			}
			entry[key] = v
		}
		return entry, nil
	default:
		return nil, fmt.Errorf("account state record balance entry has unexpected shape %T", raw)
	}
}

func balanceFromEntry(entry map[string]any) (domain.AccountBalance, error) {
	currency, err := domain.RecordCurrency(entry, "currency")
	if err != nil {
		return domain.AccountBalance{}, err
	}
	total, err := domain.RecordDecimal(entry, "total")
	if err != nil {
		return domain.AccountBalance{}, err
	}
	locked, err := domain.RecordDecimal(entry, "locked")
	if err != nil {
		return domain.AccountBalance{}, err
	}
	free, err := domain.RecordDecimal(entry, "free")
	if err != nil {
		return domain.AccountBalance{}, err
	}
	return domain.NewAccountBalance(
		domain.NewMoney(total, currency),
		domain.NewMoney(locked, currency),
		domain.NewMoney(free, currency),
	)
}
