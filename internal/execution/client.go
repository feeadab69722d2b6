package execution

import (
	"context"

	"github.com/meridianhq/meridian/internal/domain"
)

// Client is a venue-specific execution adapter. Implementations translate
// commands into venue calls and report every resulting order event to the
// execution engine's process endpoint; they never mutate engine state
// directly.
type Client interface {
	// Venue identifies the venue this client trades on
	Venue() domain.Venue

	// AccountID identifies the venue account the client trades
	AccountID() domain.AccountID

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Reset returns the client to its pre-connect state
	Reset() error
	// Dispose releases resources; the client is unusable afterwards
	Dispose() error

	SubmitOrder(cmd SubmitOrder) error
	SubmitBracketOrder(cmd SubmitBracketOrder) error
	ModifyOrder(cmd ModifyOrder) error
	CancelOrder(cmd CancelOrder) error
	CancelAllOrders(cmd CancelAllOrders) error
}
