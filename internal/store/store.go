package store

import (
	"context"

	"github.com/meridianhq/meridian/internal/account"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/order"
	"github.com/meridianhq/meridian/internal/position"
)

// OrderStore persists order state and event logs
type OrderStore interface {
	// SaveOrder writes the order's current snapshot and appends any events
	// not yet persisted.
	SaveOrder(ctx context.Context, ord *order.Order) error
	// LoadOrderEvents returns an order's event log in applied order
	LoadOrderEvents(ctx context.Context, id domain.ClientOrderID) ([]order.Event, error)
	// ListOrders returns the latest snapshot record of every order
	ListOrders(ctx context.Context) ([]map[string]any, error)
}

// PositionStore persists position snapshots
type PositionStore interface {
	SavePosition(ctx context.Context, pos *position.Position) error
	// ListPositions returns the latest snapshot record of every position
	ListPositions(ctx context.Context) ([]map[string]any, error)
}

// AccountStore persists account event logs
type AccountStore interface {
	SaveAccountEvent(ctx context.Context, event account.State) error
	// LoadAccountEvents returns an account's event log in applied order
	LoadAccountEvents(ctx context.Context, id domain.AccountID) ([]account.State, error)
	// ListAccounts returns the latest state record of every account
	ListAccounts(ctx context.Context) ([]map[string]any, error)
}

// InstrumentStore persists instrument definitions
type InstrumentStore interface {
	SaveInstrument(ctx context.Context, instrument domain.Instrument) error
	LoadInstruments(ctx context.Context) ([]domain.Instrument, error)
}

// StrategyStateStore persists strategy state snapshots for warm restarts
type StrategyStateStore interface {
	SaveStrategyState(ctx context.Context, id domain.StrategyID, state map[string]any) error
	// LoadStrategyState returns the saved state, or ok=false when the
	// strategy has never saved.
	LoadStrategyState(ctx context.Context, id domain.StrategyID) (map[string]any, bool, error)
	// ListStrategyStates returns the latest saved state of every strategy
	ListStrategyStates(ctx context.Context) ([]map[string]any, error)
}

// Store is the full persistence surface of the node
type Store interface {
	OrderStore
	PositionStore
	AccountStore
	InstrumentStore
	StrategyStateStore

	// HealthCheck verifies the backing storage answers
	HealthCheck(ctx context.Context) error
	// WALCheckpoint compacts the write-ahead log
	WALCheckpoint(ctx context.Context) error
	// Vacuum reclaims free space
	Vacuum(ctx context.Context) error

	Close() error
}
