package data

import (
	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
)

// RequestInstrument asks a venue for one instrument definition
type RequestInstrument struct {
	messaging.RequestBase
	InstrumentID domain.InstrumentID
}

// NewRequestInstrument creates an instrument definition request
func NewRequestInstrument(id domain.InstrumentID, tsInit int64, callback func(messaging.Response)) RequestInstrument {
	return RequestInstrument{
		RequestBase:  messaging.NewRequestBase(tsInit, callback),
		InstrumentID: id,
	}
}

// RequestQuoteTicks asks a venue for historical quote ticks
type RequestQuoteTicks struct {
	messaging.RequestBase
	InstrumentID domain.InstrumentID
	StartNs      int64
	EndNs        int64
	Limit        int
}

// NewRequestQuoteTicks creates a historical quote tick request
func NewRequestQuoteTicks(id domain.InstrumentID, startNs, endNs int64, limit int, tsInit int64, callback func(messaging.Response)) RequestQuoteTicks {
	return RequestQuoteTicks{
		RequestBase:  messaging.NewRequestBase(tsInit, callback),
		InstrumentID: id,
		StartNs:      startNs,
		EndNs:        endNs,
		Limit:        limit,
	}
}

// RequestTradeTicks asks a venue for historical trade ticks
type RequestTradeTicks struct {
	messaging.RequestBase
	InstrumentID domain.InstrumentID
	StartNs      int64
	EndNs        int64
	Limit        int
}

// NewRequestTradeTicks creates a historical trade tick request
func NewRequestTradeTicks(id domain.InstrumentID, startNs, endNs int64, limit int, tsInit int64, callback func(messaging.Response)) RequestTradeTicks {
	return RequestTradeTicks{
		RequestBase:  messaging.NewRequestBase(tsInit, callback),
		InstrumentID: id,
		StartNs:      startNs,
		EndNs:        endNs,
		Limit:        limit,
	}
}

// RequestBars asks a venue for historical bars
type RequestBars struct {
	messaging.RequestBase
	BarType domain.BarType
	StartNs int64
	EndNs   int64
	Limit   int
}

// NewRequestBars creates a historical bar request
func NewRequestBars(barType domain.BarType, startNs, endNs int64, limit int, tsInit int64, callback func(messaging.Response)) RequestBars {
	return RequestBars{
		RequestBase: messaging.NewRequestBase(tsInit, callback),
		BarType:     barType,
		StartNs:     startNs,
		EndNs:       endNs,
		Limit:       limit,
	}
}

// InstrumentResponse answers a RequestInstrument
type InstrumentResponse struct {
	messaging.ResponseBase
	Instrument domain.Instrument
}

// NewInstrumentResponse creates an instrument definition response
func NewInstrumentResponse(correlationID uuid.UUID, instrument domain.Instrument, tsInit int64) InstrumentResponse {
	return InstrumentResponse{
		ResponseBase: messaging.NewResponseBase(correlationID, tsInit),
		Instrument:   instrument,
	}
}

// QuoteTicksResponse answers a RequestQuoteTicks
type QuoteTicksResponse struct {
	messaging.ResponseBase
	InstrumentID domain.InstrumentID
	Ticks        []domain.QuoteTick
}

// NewQuoteTicksResponse creates a historical quote tick response
func NewQuoteTicksResponse(correlationID uuid.UUID, id domain.InstrumentID, ticks []domain.QuoteTick, tsInit int64) QuoteTicksResponse {
	return QuoteTicksResponse{
		ResponseBase: messaging.NewResponseBase(correlationID, tsInit),
		InstrumentID: id,
		Ticks:        ticks,
	}
}

// TradeTicksResponse answers a RequestTradeTicks
type TradeTicksResponse struct {
	messaging.ResponseBase
	InstrumentID domain.InstrumentID
	Ticks        []domain.TradeTick
}

// NewTradeTicksResponse creates a historical trade tick response
func NewTradeTicksResponse(correlationID uuid.UUID, id domain.InstrumentID, ticks []domain.TradeTick, tsInit int64) TradeTicksResponse {
	return TradeTicksResponse{
		ResponseBase: messaging.NewResponseBase(correlationID, tsInit),
		InstrumentID: id,
		Ticks:        ticks,
	}
}

// BarsResponse answers a RequestBars
type BarsResponse struct {
	messaging.ResponseBase
	BarType domain.BarType
	Bars    []domain.Bar
}

// NewBarsResponse creates a historical bars response
func NewBarsResponse(correlationID uuid.UUID, barType domain.BarType, bars []domain.Bar, tsInit int64) BarsResponse {
	return BarsResponse{
		ResponseBase: messaging.NewResponseBase(correlationID, tsInit),
		BarType:      barType,
		Bars:         bars,
	}
}
