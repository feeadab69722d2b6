// Package data implements the data engine: the single process-wide router
// between market data clients and the strategies consuming their streams.
package data

import (
	"context"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
)

// Client is a venue-specific market data adapter. Implementations deliver
// everything they receive to the data engine's process endpoint and answer
// requests through the response endpoint; they never talk to strategies
// directly.
type Client interface {
	// Venue identifies the venue this client serves
	Venue() domain.Venue

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Reset returns the client to its pre-connect state
	Reset() error
	// Dispose releases resources; the client is unusable afterwards
	Dispose() error

	SubscribeInstrument(id domain.InstrumentID) error
	SubscribeOrderBookDeltas(id domain.InstrumentID) error
	SubscribeQuoteTicks(id domain.InstrumentID) error
	SubscribeTradeTicks(id domain.InstrumentID) error
	SubscribeBars(barType domain.BarType) error
	SubscribeInstrumentStatus(id domain.InstrumentID) error
	SubscribeInstrumentClose(id domain.InstrumentID) error

	UnsubscribeInstrument(id domain.InstrumentID) error
	UnsubscribeOrderBookDeltas(id domain.InstrumentID) error
	UnsubscribeQuoteTicks(id domain.InstrumentID) error
	UnsubscribeTradeTicks(id domain.InstrumentID) error
	UnsubscribeBars(barType domain.BarType) error
	UnsubscribeInstrumentStatus(id domain.InstrumentID) error
	UnsubscribeInstrumentClose(id domain.InstrumentID) error

	// Request serves a historical or definition request asynchronously.
	// The response arrives at the data engine's response endpoint carrying
	// the request id as its correlation id.
	Request(req messaging.Request) error
}
