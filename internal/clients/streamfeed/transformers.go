package streamfeed

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianhq/meridian/internal/domain"
)

// Feed channels. Streaming subscriptions use the bare channel name;
// historical requests use the ".history" suffix.
const (
	channelInstrument = "instrument"
	channelBook       = "book"
	channelQuote      = "quote"
	channelTrade      = "trade"
	channelBar        = "bar"
	channelStatus     = "status"
	channelClose      = "close"

	channelQuoteHistory = "quote.history"
	channelTradeHistory = "trade.history"
	channelBarHistory   = "bar.history"
)

// outbound is the single client-to-feed frame: subscribe, unsubscribe or
// request. Interval is set only on bar channels, the request fields only
// on history requests.
type outbound struct {
	Op       string `json:"op"` // "subscribe" | "unsubscribe" | "request"
	Channel  string `json:"channel"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval,omitempty"`
	ReqID    string `json:"req_id,omitempty"`
	StartMs  int64  `json:"start_ms,omitempty"`
	EndMs    int64  `json:"end_ms,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// envelope is the single feed-to-client frame. Data holds the channel's
// payload; ReqID is set on request responses, Error on request failures.
type envelope struct {
	Channel  string          `json:"channel"`
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval,omitempty"`
	ReqID    string          `json:"req_id,omitempty"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// wireQuote is a top-of-book update as the feed reports it. Prices and
// sizes are decimal strings, timestamps epoch milliseconds.
type wireQuote struct {
	BidPrice string `json:"bid"`
	AskPrice string `json:"ask"`
	BidSize  string `json:"bid_size"`
	AskSize  string `json:"ask_size"`
	TsMs     int64  `json:"ts"`
}

type wireTrade struct {
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"` // "buy" | "sell" | ""
	TradeID string `json:"trade_id"`
	TsMs    int64  `json:"ts"`
}

type wireBar struct {
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
	TsMs   int64  `json:"ts"`
}

// wireBookDelta is one price level change. Clear actions carry empty price
// and size.
type wireBookDelta struct {
	Action   string `json:"action"` // "ADD" | "UPDATE" | "DELETE" | "CLEAR"
	Side     string `json:"side"`   // "buy" | "sell" | ""
	Price    string `json:"price,omitempty"`
	Size     string `json:"size,omitempty"`
	Sequence uint64 `json:"seq"`
	TsMs     int64  `json:"ts"`
}

type wireStatus struct {
	Status string `json:"status"` // canonical market status encoding
	TsMs   int64  `json:"ts"`
}

type wireClose struct {
	Price string `json:"price"`
	Type  string `json:"type"` // canonical close type encoding
	TsMs  int64  `json:"ts"`
}

type wireInstrument struct {
	Type           string `json:"type"`
	BaseCurrency   string `json:"base_currency"`
	QuoteCurrency  string `json:"quote_currency"`
	PricePrecision int32  `json:"price_precision"`
	SizePrecision  int32  `json:"size_precision"`
	PriceIncrement string `json:"price_increment"`
	SizeIncrement  string `json:"size_increment"`
	MinQuantity    string `json:"min_quantity,omitempty"`
	MaxQuantity    string `json:"max_quantity,omitempty"`
	MakerFee       string `json:"maker_fee"`
	TakerFee       string `json:"taker_fee"`
}

func msToNs(ms int64) int64 { return ms * int64(1e6) }

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing %s %q: %w", field, s, err)
	}
	return d, nil
}

// optionalDecimal parses a field the feed omits when the venue declares no
// bound.
func optionalDecimal(field, s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := parseDecimal(field, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func transformQuote(id domain.InstrumentID, w wireQuote, tsInit int64) (domain.QuoteTick, error) {
	bid, err := parseDecimal("bid", w.BidPrice)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	ask, err := parseDecimal("ask", w.AskPrice)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	bidSize, err := parseDecimal("bid_size", w.BidSize)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	askSize, err := parseDecimal("ask_size", w.AskSize)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	return domain.QuoteTick{
		InstrumentID: id,
		BidPrice:     bid,
		AskPrice:     ask,
		BidSize:      bidSize,
		AskSize:      askSize,
		TsEvent:      msToNs(w.TsMs),
		TsInit:       tsInit,
	}, nil
}

func transformTrade(id domain.InstrumentID, w wireTrade, tsInit int64) (domain.TradeTick, error) {
	price, err := parseDecimal("price", w.Price)
	if err != nil {
		return domain.TradeTick{}, err
	}
	size, err := parseDecimal("size", w.Size)
	if err != nil {
		return domain.TradeTick{}, err
	}
	aggressor := domain.AggressorSideNone
	switch w.Side {
	case "buy":
		aggressor = domain.AggressorSideBuyer
	case "sell":
		aggressor = domain.AggressorSideSeller
	}
	return domain.TradeTick{
		InstrumentID: id,
		Price:        price,
		Size:         size,
		Aggressor:    aggressor,
		TradeID:      domain.TradeID(w.TradeID),
		TsEvent:      msToNs(w.TsMs),
		TsInit:       tsInit,
	}, nil
}

func transformBar(barType domain.BarType, w wireBar, tsInit int64) (domain.Bar, error) {
	open, err := parseDecimal("open", w.Open)
	if err != nil {
		return domain.Bar{}, err
	}
	high, err := parseDecimal("high", w.High)
	if err != nil {
		return domain.Bar{}, err
	}
	low, err := parseDecimal("low", w.Low)
	if err != nil {
		return domain.Bar{}, err
	}
	closePx, err := parseDecimal("close", w.Close)
	if err != nil {
		return domain.Bar{}, err
	}
	volume, err := parseDecimal("volume", w.Volume)
	if err != nil {
		return domain.Bar{}, err
	}
	return domain.Bar{
		Type:    barType,
		Open:    open,
		High:    high,
		Low:     low,
		Close:   closePx,
		Volume:  volume,
		TsEvent: msToNs(w.TsMs),
		TsInit:  tsInit,
	}, nil
}

func transformBookDelta(id domain.InstrumentID, w wireBookDelta, tsInit int64) (domain.OrderBookDelta, error) {
	action, err := domain.BookActionFromString(w.Action)
	if err != nil {
		return domain.OrderBookDelta{}, fmt.Errorf("parsing action for %s: %w", id, err)
	}
	delta := domain.OrderBookDelta{
		InstrumentID: id,
		Action:       action,
		Sequence:     w.Sequence,
		TsEvent:      msToNs(w.TsMs),
		TsInit:       tsInit,
	}
	if action == domain.BookActionClear {
		return delta, nil
	}
	var side domain.OrderSide
	switch w.Side {
	case "buy":
		side = domain.OrderSideBuy
	case "sell":
		side = domain.OrderSideSell
	default:
		return domain.OrderBookDelta{}, fmt.Errorf("unknown book side %q for %s", w.Side, id)
	}
	price, err := parseDecimal("price", w.Price)
	if err != nil {
		return domain.OrderBookDelta{}, err
	}
	size, err := parseDecimal("size", w.Size)
	if err != nil {
		return domain.OrderBookDelta{}, err
	}
	delta.Side = side
	delta.Price = price
	delta.Size = size
	return delta, nil
}

func transformStatus(id domain.InstrumentID, w wireStatus, tsInit int64) (domain.InstrumentStatus, error) {
	status, err := domain.MarketStatusFromString(w.Status)
	if err != nil {
		return domain.InstrumentStatus{}, fmt.Errorf("parsing status for %s: %w", id, err)
	}
	return domain.InstrumentStatus{
		InstrumentID: id,
		Status:       status,
		TsEvent:      msToNs(w.TsMs),
		TsInit:       tsInit,
	}, nil
}

func transformClose(id domain.InstrumentID, w wireClose, tsInit int64) (domain.InstrumentClose, error) {
	price, err := parseDecimal("price", w.Price)
	if err != nil {
		return domain.InstrumentClose{}, err
	}
	closeType, err := domain.InstrumentCloseTypeFromString(w.Type)
	if err != nil {
		return domain.InstrumentClose{}, fmt.Errorf("parsing close type for %s: %w", id, err)
	}
	return domain.InstrumentClose{
		InstrumentID: id,
		ClosePrice:   price,
		CloseType:    closeType,
		TsEvent:      msToNs(w.TsMs),
		TsInit:       tsInit,
	}, nil
}

func transformInstrument(id domain.InstrumentID, w wireInstrument, tsInit int64) (domain.Instrument, error) {
	base, ok := domain.CurrencyFromCode(w.BaseCurrency)
	if !ok {
		return domain.Instrument{}, fmt.Errorf("unknown base currency %q for %s", w.BaseCurrency, id)
	}
	quote, ok := domain.CurrencyFromCode(w.QuoteCurrency)
	if !ok {
		return domain.Instrument{}, fmt.Errorf("unknown quote currency %q for %s", w.QuoteCurrency, id)
	}
	priceInc, err := parseDecimal("price_increment", w.PriceIncrement)
	if err != nil {
		return domain.Instrument{}, err
	}
	sizeInc, err := parseDecimal("size_increment", w.SizeIncrement)
	if err != nil {
		return domain.Instrument{}, err
	}
	minQty, err := optionalDecimal("min_quantity", w.MinQuantity)
	if err != nil {
		return domain.Instrument{}, err
	}
	maxQty, err := optionalDecimal("max_quantity", w.MaxQuantity)
	if err != nil {
		return domain.Instrument{}, err
	}
	makerFee, err := parseDecimal("maker_fee", w.MakerFee)
	if err != nil {
		return domain.Instrument{}, err
	}
	takerFee, err := parseDecimal("taker_fee", w.TakerFee)
	if err != nil {
		return domain.Instrument{}, err
	}
	return domain.Instrument{
		ID:                 id,
		Type:               w.Type,
		BaseCurrency:       base,
		QuoteCurrency:      quote,
		SettlementCurrency: quote,
		PricePrecision:     w.PricePrecision,
		SizePrecision:      w.SizePrecision,
		PriceIncrement:     priceInc,
		SizeIncrement:      sizeInc,
		Multiplier:         decimal.NewFromInt(1),
		MinQuantity:        minQty,
		MaxQuantity:        maxQty,
		MakerFee:           makerFee,
		TakerFee:           takerFee,
		TsInit:             tsInit,
	}, nil
}

// barTypeFor rebuilds a bar type from a bar frame's symbol and interval,
// e.g. interval "5-MINUTE" on symbol "BTCUSDT".
func barTypeFor(id domain.InstrumentID, interval string) (domain.BarType, error) {
	return domain.BarTypeFromString(fmt.Sprintf("%s-%s", id, interval))
}

// intervalFor encodes a bar type's step and aggregation as the feed's
// interval string.
func intervalFor(barType domain.BarType) string {
	return fmt.Sprintf("%d-%s", barType.Step, barType.Aggregation)
}
