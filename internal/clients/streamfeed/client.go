// Package streamfeed implements the market data client for the stream feed
// venues: a WebSocket adapter that turns the feed's JSON frames into domain
// market data for the data engine, with automatic reconnection and
// resubscription.
package streamfeed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/meridianhq/meridian/internal/clock"
	"github.com/meridianhq/meridian/internal/data"
	"github.com/meridianhq/meridian/internal/domain"
	"github.com/meridianhq/meridian/internal/messaging"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// Config carries the feed connection parameters
type Config struct {
	URL   string
	Venue domain.Venue
	// SubscribeRate caps subscribe and unsubscribe frames per second;
	// the feed disconnects clients that exceed its command budget.
	SubscribeRate int
}

// Client streams market data from one feed endpoint. Everything received
// is delivered to the data engine's process endpoint; request responses go
// to the response endpoint carrying their request id.
type Client struct {
	cfg        Config
	httpClient *http.Client
	bus        *messaging.Bus
	clk        clock.Clock
	log        zerolog.Logger
	limiter    *rate.Limiter

	mu           sync.RWMutex
	conn         *websocket.Conn
	connCtx      context.Context
	cancelFunc   context.CancelFunc
	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	subMu         sync.Mutex
	subscriptions map[string]outbound

	pendingMu sync.Mutex
	pending   map[string]messaging.Request
}

var _ data.Client = (*Client)(nil)

// newHTTP1Client builds an HTTP client that forces HTTP/1.1.
// Edge proxies negotiate HTTP/2 via TLS ALPN, but the WebSocket upgrade
// handshake requires HTTP/1.1.
func newHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// New creates a feed client. Connect starts the stream.
func New(cfg Config, bus *messaging.Bus, clk clock.Clock, log zerolog.Logger) *Client {
	return &Client{
		cfg:           cfg,
		httpClient:    newHTTP1Client(),
		bus:           bus,
		clk:           clk,
		log:           log.With().Str("component", "streamfeed").Str("venue", string(cfg.Venue)).Logger(),
		limiter:       rate.NewLimiter(rate.Limit(cfg.SubscribeRate), cfg.SubscribeRate),
		stopChan:      make(chan struct{}),
		subscriptions: make(map[string]outbound),
		pending:       make(map[string]messaging.Request),
	}
}

// Venue identifies the venue this client serves
func (c *Client) Venue() domain.Venue { return c.cfg.Venue }

// Connect dials the feed, replays any standing subscriptions and starts
// the read loop. Read failures after a successful connect trigger
// background reconnection with exponential backoff.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	connCtx := c.connCtx
	c.mu.RUnlock()
	go c.readMessages(connCtx)

	c.log.Info().Str("url", c.cfg.URL).Msg("feed connected")
	return nil
}

// dial establishes the connection and replays standing subscriptions
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("dialing feed %s: %w", c.cfg.URL, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = cancel
	c.connected = true

	if err := c.replaySubscriptions(connCtx, conn); err != nil {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "resubscribe failed")
		c.conn = nil
		c.connCtx = nil
		c.cancelFunc = nil
		c.connected = false
		return fmt.Errorf("replaying subscriptions: %w", err)
	}
	return nil
}

func (c *Client) replaySubscriptions(ctx context.Context, conn *websocket.Conn) error {
	c.subMu.Lock()
	frames := make([]outbound, 0, len(c.subscriptions))
	for _, frame := range c.subscriptions {
		frames = append(frames, frame)
	}
	c.subMu.Unlock()

	for _, frame := range frames {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := writeFrame(ctx, conn, frame); err != nil {
			return err
		}
	}
	if len(frames) > 0 {
		c.log.Info().Int("subscriptions", len(frames)).Msg("subscriptions replayed")
	}
	return nil
}

// Disconnect closes the connection and stops reconnection
func (c *Client) Disconnect(context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopChan)

	if c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	c.connCtx = nil
	c.connected = false
	c.mu.Unlock()

	c.log.Info().Msg("feed disconnected")
	if err != nil {
		return fmt.Errorf("closing feed connection: %w", err)
	}
	return nil
}

// IsConnected reports the connection state
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Reset returns the client to its pre-connect state
func (c *Client) Reset() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("%w: feed client reset while connected", domain.ErrInvalidStateTransition)
	}
	c.stopChan = make(chan struct{})
	c.stopped = false
	c.mu.Unlock()

	c.subMu.Lock()
	c.subscriptions = make(map[string]outbound)
	c.subMu.Unlock()

	c.pendingMu.Lock()
	c.pending = make(map[string]messaging.Request)
	c.pendingMu.Unlock()
	return nil
}

// Dispose releases the connection; the client is unusable afterwards
func (c *Client) Dispose() error {
	return c.Disconnect(context.Background())
}

// SubscribeInstrument subscribes to definition updates for an instrument
func (c *Client) SubscribeInstrument(id domain.InstrumentID) error {
	return c.subscribe(outbound{Op: "subscribe", Channel: channelInstrument, Symbol: id.Symbol()})
}

// SubscribeOrderBookDeltas subscribes to the book delta stream of an
// instrument
func (c *Client) SubscribeOrderBookDeltas(id domain.InstrumentID) error {
	return c.subscribe(outbound{Op: "subscribe", Channel: channelBook, Symbol: id.Symbol()})
}

// SubscribeQuoteTicks subscribes to the quote stream of an instrument
func (c *Client) SubscribeQuoteTicks(id domain.InstrumentID) error {
	return c.subscribe(outbound{Op: "subscribe", Channel: channelQuote, Symbol: id.Symbol()})
}

// SubscribeTradeTicks subscribes to the trade stream of an instrument
func (c *Client) SubscribeTradeTicks(id domain.InstrumentID) error {
	return c.subscribe(outbound{Op: "subscribe", Channel: channelTrade, Symbol: id.Symbol()})
}

// SubscribeBars subscribes to a bar stream
func (c *Client) SubscribeBars(barType domain.BarType) error {
	return c.subscribe(outbound{
		Op:       "subscribe",
		Channel:  channelBar,
		Symbol:   barType.InstrumentID.Symbol(),
		Interval: intervalFor(barType),
	})
}

// SubscribeInstrumentStatus subscribes to trading phase changes of an
// instrument
func (c *Client) SubscribeInstrumentStatus(id domain.InstrumentID) error {
	return c.subscribe(outbound{Op: "subscribe", Channel: channelStatus, Symbol: id.Symbol()})
}

// SubscribeInstrumentClose subscribes to venue close prices of an instrument
func (c *Client) SubscribeInstrumentClose(id domain.InstrumentID) error {
	return c.subscribe(outbound{Op: "subscribe", Channel: channelClose, Symbol: id.Symbol()})
}

// UnsubscribeInstrument drops the definition subscription of an instrument
func (c *Client) UnsubscribeInstrument(id domain.InstrumentID) error {
	return c.unsubscribe(outbound{Op: "unsubscribe", Channel: channelInstrument, Symbol: id.Symbol()})
}

// UnsubscribeQuoteTicks drops the quote subscription of an instrument
func (c *Client) UnsubscribeQuoteTicks(id domain.InstrumentID) error {
	return c.unsubscribe(outbound{Op: "unsubscribe", Channel: channelQuote, Symbol: id.Symbol()})
}

// UnsubscribeTradeTicks drops the trade subscription of an instrument
func (c *Client) UnsubscribeTradeTicks(id domain.InstrumentID) error {
	return c.unsubscribe(outbound{Op: "unsubscribe", Channel: channelTrade, Symbol: id.Symbol()})
}

// UnsubscribeBars drops a bar stream subscription
func (c *Client) UnsubscribeBars(barType domain.BarType) error {
	return c.unsubscribe(outbound{
		Op:       "unsubscribe",
		Channel:  channelBar,
		Symbol:   barType.InstrumentID.Symbol(),
		Interval: intervalFor(barType),
	})
}

// UnsubscribeOrderBookDeltas drops the book delta subscription of an
// instrument
func (c *Client) UnsubscribeOrderBookDeltas(id domain.InstrumentID) error {
	return c.unsubscribe(outbound{Op: "unsubscribe", Channel: channelBook, Symbol: id.Symbol()})
}

// UnsubscribeInstrumentStatus drops the trading phase subscription of an
// instrument
func (c *Client) UnsubscribeInstrumentStatus(id domain.InstrumentID) error {
	return c.unsubscribe(outbound{Op: "unsubscribe", Channel: channelStatus, Symbol: id.Symbol()})
}

// UnsubscribeInstrumentClose drops the close price subscription of an
// instrument
func (c *Client) UnsubscribeInstrumentClose(id domain.InstrumentID) error {
	return c.unsubscribe(outbound{Op: "unsubscribe", Channel: channelClose, Symbol: id.Symbol()})
}

func subscriptionKey(frame outbound) string {
	return frame.Channel + "|" + frame.Symbol + "|" + frame.Interval
}

// subscribe records the subscription for reconnect replay and sends it.
// A subscription on a disconnected client is recorded only; dial replays
// it once the feed is back.
func (c *Client) subscribe(frame outbound) error {
	c.subMu.Lock()
	c.subscriptions[subscriptionKey(frame)] = frame
	c.subMu.Unlock()
	return c.sendThrottled(frame)
}

func (c *Client) unsubscribe(frame outbound) error {
	c.subMu.Lock()
	delete(c.subscriptions, subscriptionKey(frame))
	c.subMu.Unlock()
	return c.sendThrottled(frame)
}

// Request serves a historical data request. The request is tracked until
// its response frame arrives; the response is delivered to the data
// engine's response endpoint under the request's id.
func (c *Client) Request(req messaging.Request) error {
	var frame outbound
	switch v := req.(type) {
	case data.RequestInstrument:
		frame = outbound{Op: "request", Channel: channelInstrument, Symbol: v.InstrumentID.Symbol()}
	case data.RequestQuoteTicks:
		frame = outbound{
			Op: "request", Channel: channelQuoteHistory, Symbol: v.InstrumentID.Symbol(),
			StartMs: v.StartNs / int64(1e6), EndMs: v.EndNs / int64(1e6), Limit: v.Limit,
		}
	case data.RequestTradeTicks:
		frame = outbound{
			Op: "request", Channel: channelTradeHistory, Symbol: v.InstrumentID.Symbol(),
			StartMs: v.StartNs / int64(1e6), EndMs: v.EndNs / int64(1e6), Limit: v.Limit,
		}
	case data.RequestBars:
		frame = outbound{
			Op: "request", Channel: channelBarHistory,
			Symbol: v.BarType.InstrumentID.Symbol(), Interval: intervalFor(v.BarType),
			StartMs: v.StartNs / int64(1e6), EndMs: v.EndNs / int64(1e6), Limit: v.Limit,
		}
	default:
		return fmt.Errorf("%w: unrecognized feed request %T", domain.ErrInvariantViolation, req)
	}
	frame.ReqID = req.ID().String()

	c.pendingMu.Lock()
	c.pending[frame.ReqID] = req
	c.pendingMu.Unlock()

	if err := c.send(frame); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, frame.ReqID)
		c.pendingMu.Unlock()
		return err
	}
	return nil
}

// sendThrottled writes a frame under the subscribe rate limit. Called on
// a disconnected client it records nothing further and returns nil; the
// subscription book already holds the intent.
func (c *Client) sendThrottled(frame outbound) error {
	c.mu.RLock()
	conn := c.conn
	ctx := c.connCtx
	c.mu.RUnlock()
	if conn == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return writeFrame(ctx, conn, frame)
}

func (c *Client) send(frame outbound) error {
	c.mu.RLock()
	conn := c.conn
	ctx := c.connCtx
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%w: feed client is not connected", domain.ErrInvalidStateTransition)
	}
	return writeFrame(ctx, conn, frame)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame outbound) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling feed frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("writing feed frame: %w", err)
	}
	return nil
}

// readMessages drains the connection until it fails or the client stops.
// A failed read on a running client hands off to the reconnect loop.
func (c *Client) readMessages(ctx context.Context) {
	defer func() {
		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			switch {
			case closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway:
				c.log.Info().Int("status", int(closeStatus)).Msg("feed closed normally")
			case ctx.Err() != nil:
				c.log.Debug().Msg("feed read cancelled")
			default:
				c.log.Error().Err(err).Msg("feed read failed")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := c.handleFrame(payload); err != nil {
			c.log.Error().Err(err).Str("frame", string(payload)).Msg("feed frame dropped")
		}
	}
}

func (c *Client) handleFrame(payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("parsing feed envelope: %w", err)
	}
	if env.ReqID != "" {
		return c.handleResponse(env)
	}
	return c.handleStream(env)
}

// handleStream transforms one streaming frame and delivers it to the data
// engine.
func (c *Client) handleStream(env envelope) error {
	id := domain.NewInstrumentID(env.Symbol, c.cfg.Venue)
	tsInit := c.clk.TimestampNs()

	var (
		out any
		err error
	)
	switch env.Channel {
	case channelQuote:
		var w wireQuote
		if err = json.Unmarshal(env.Data, &w); err == nil {
			out, err = transformQuote(id, w, tsInit)
		}
	case channelTrade:
		var w wireTrade
		if err = json.Unmarshal(env.Data, &w); err == nil {
			out, err = transformTrade(id, w, tsInit)
		}
	case channelBar:
		var barType domain.BarType
		barType, err = barTypeFor(id, env.Interval)
		if err == nil {
			var w wireBar
			if err = json.Unmarshal(env.Data, &w); err == nil {
				out, err = transformBar(barType, w, tsInit)
			}
		}
	case channelInstrument:
		var w wireInstrument
		if err = json.Unmarshal(env.Data, &w); err == nil {
			out, err = transformInstrument(id, w, tsInit)
		}
	case channelBook:
		var w wireBookDelta
		if err = json.Unmarshal(env.Data, &w); err == nil {
			out, err = transformBookDelta(id, w, tsInit)
		}
	case channelStatus:
		var w wireStatus
		if err = json.Unmarshal(env.Data, &w); err == nil {
			out, err = transformStatus(id, w, tsInit)
		}
	case channelClose:
		var w wireClose
		if err = json.Unmarshal(env.Data, &w); err == nil {
			out, err = transformClose(id, w, tsInit)
		}
	default:
		c.log.Debug().Str("channel", env.Channel).Msg("unrecognized feed channel ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("channel %s: %w", env.Channel, err)
	}
	return c.bus.Send(messaging.EndpointDataProcess, out)
}

// handleResponse resolves a request response frame against its pending
// request and delivers the typed response to the data engine.
func (c *Client) handleResponse(env envelope) error {
	c.pendingMu.Lock()
	req, ok := c.pending[env.ReqID]
	delete(c.pending, env.ReqID)
	c.pendingMu.Unlock()
	if !ok {
		return fmt.Errorf("response for unknown request %s", env.ReqID)
	}
	if env.Error != "" {
		return fmt.Errorf("feed rejected request %s: %s", env.ReqID, env.Error)
	}

	tsInit := c.clk.TimestampNs()
	var (
		resp messaging.Response
		err  error
	)
	switch v := req.(type) {
	case data.RequestInstrument:
		var w wireInstrument
		if err = json.Unmarshal(env.Data, &w); err == nil {
			var ins domain.Instrument
			if ins, err = transformInstrument(v.InstrumentID, w, tsInit); err == nil {
				resp = data.NewInstrumentResponse(req.ID(), ins, tsInit)
			}
		}
	case data.RequestQuoteTicks:
		var ws []wireQuote
		if err = json.Unmarshal(env.Data, &ws); err == nil {
			ticks := make([]domain.QuoteTick, 0, len(ws))
			for _, w := range ws {
				var tick domain.QuoteTick
				if tick, err = transformQuote(v.InstrumentID, w, tsInit); err != nil {
					break
				}
				ticks = append(ticks, tick)
			}
			if err == nil {
				resp = data.NewQuoteTicksResponse(req.ID(), v.InstrumentID, ticks, tsInit)
			}
		}
	case data.RequestTradeTicks:
		var ws []wireTrade
		if err = json.Unmarshal(env.Data, &ws); err == nil {
			ticks := make([]domain.TradeTick, 0, len(ws))
			for _, w := range ws {
				var tick domain.TradeTick
				if tick, err = transformTrade(v.InstrumentID, w, tsInit); err != nil {
					break
				}
				ticks = append(ticks, tick)
			}
			if err == nil {
				resp = data.NewTradeTicksResponse(req.ID(), v.InstrumentID, ticks, tsInit)
			}
		}
	case data.RequestBars:
		var ws []wireBar
		if err = json.Unmarshal(env.Data, &ws); err == nil {
			bars := make([]domain.Bar, 0, len(ws))
			for _, w := range ws {
				var bar domain.Bar
				if bar, err = transformBar(v.BarType, w, tsInit); err != nil {
					break
				}
				bars = append(bars, bar)
			}
			if err == nil {
				resp = data.NewBarsResponse(req.ID(), v.BarType, bars, tsInit)
			}
		}
	default:
		return fmt.Errorf("pending request %s has unrecognized type %T", env.ReqID, req)
	}
	if err != nil {
		return fmt.Errorf("transforming response for request %s: %w", env.ReqID, err)
	}
	return c.bus.Send(messaging.EndpointDataResponse, resp)
}

// reconnectLoop redials with exponential backoff until it succeeds or the
// client stops. The attempt counter resets on success so a later outage
// starts from the base delay again.
func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting || c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.connected = false
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		attempt++
		delay := backoff(attempt)
		if attempt <= maxReconnectAttempts {
			c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting to feed")
		} else {
			c.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting to feed past attempt budget")
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.dial(context.Background()); err != nil {
			c.log.Error().Err(err).Int("attempt", attempt).Msg("feed reconnect failed")
			continue
		}

		c.log.Info().Int("attempt", attempt).Msg("feed reconnected")
		c.mu.RLock()
		connCtx := c.connCtx
		c.mu.RUnlock()
		go c.readMessages(connCtx)
		return
	}
}

func backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
