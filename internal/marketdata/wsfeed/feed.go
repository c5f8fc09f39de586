// Package wsfeed implements marketdata.Source over a WebSocket bar
// stream, grounded on web3guy0-polybot/feeds/polymarket_ws.go's
// reconnect-loop/ping-loop/broadcast structure: a background
// connection goroutine that redials on any read error, translated
// here from a Polymarket-specific tick format into
// MARKET_DATA_RECEIVED events on the shared bus.
package wsfeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// wireBar is the JSON shape the feed's upstream emits per bar.
type wireBar struct {
	Symbol    string  `json:"symbol"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	Interval  string  `json:"interval"`
	Timestamp int64   `json:"timestamp"` // unix seconds
}

// Feed is a MARKET_DATA_RECEIVED source backed by a single WebSocket
// connection, redialing on disconnect.
type Feed struct {
	url    string
	bus    *events.EventBus
	logger zerolog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}
	symbols   map[string]bool
	latest    map[string]types.MarketData
}

// New constructs a Feed pointed at a WebSocket bar endpoint. Bars
// received for subscribed symbols are published onto bus.
func New(url string, bus *events.EventBus, logger zerolog.Logger) *Feed {
	return &Feed{
		url:     url,
		bus:     bus,
		logger:  logger,
		symbols: make(map[string]bool),
		latest:  make(map[string]types.MarketData),
	}
}

// Subscribe implements marketdata.Source. The first call starts the
// connection loop; later calls just widen the interest set.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	for _, s := range symbols {
		f.symbols[s] = true
	}
	started := f.running
	if !started {
		f.running = true
		f.stopCh = make(chan struct{})
	}
	f.mu.Unlock()

	if !started {
		go f.connectionLoop(ctx)
	} else {
		f.sendSubscribe(symbols)
	}
	return nil
}

// Unsubscribe implements marketdata.Source.
func (f *Feed) Unsubscribe(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		delete(f.symbols, s)
	}
	return nil
}

// LatestBar implements marketdata.Source.
func (f *Feed) LatestBar(symbol string) (types.MarketData, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bar, ok := f.latest[symbol]
	return bar, ok
}

// Close implements marketdata.Source.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			f.logger.Warn().Err(err).Msg("wsfeed: connect failed, retrying")
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			}
			continue
		}

		f.readLoop(ctx)

		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		}
	}
}

func (f *Feed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	symbols := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		symbols = append(symbols, s)
	}
	f.mu.Unlock()

	f.logger.Info().Str("url", f.url).Msg("wsfeed: connected")
	go f.pingLoop()
	f.sendSubscribe(symbols)
	return nil
}

func (f *Feed) sendSubscribe(symbols []string) {
	if len(symbols) == 0 {
		return
	}
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return
	}
	_ = conn.WriteJSON(map[string]any{"type": "subscribe", "symbols": symbols})
}

func (f *Feed) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.mu.RLock()
			conn, connected := f.conn, f.connected
			f.mu.RUnlock()
			if connected && conn != nil {
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

func (f *Feed) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			f.logger.Warn().Err(err).Msg("wsfeed: read error, reconnecting")
			f.mu.Lock()
			f.connected = false
			f.mu.Unlock()
			return
		}
		f.processMessage(message)
	}
}

func (f *Feed) processMessage(data []byte) {
	var bars []wireBar
	if err := json.Unmarshal(data, &bars); err != nil {
		var bar wireBar
		if err := json.Unmarshal(data, &bar); err != nil {
			f.logger.Debug().Err(err).Msg("wsfeed: unparseable message")
			return
		}
		bars = []wireBar{bar}
	}

	for _, b := range bars {
		f.mu.RLock()
		wanted := f.symbols[b.Symbol]
		f.mu.RUnlock()
		if !wanted {
			continue
		}

		md := types.MarketData{
			Symbol: b.Symbol, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
			Volume: b.Volume, IntervalType: types.IntervalType(b.Interval),
			Timestamp: time.Unix(b.Timestamp, 0),
		}

		f.mu.Lock()
		f.latest[b.Symbol] = md
		f.mu.Unlock()

		event := events.NewEvent(events.EventTypeMarketDataReceived, "wsfeed",
			events.MarketDataPayload{MarketData: md, IntervalType: string(md.IntervalType)})
		if !f.bus.Publish(event) {
			f.logger.Debug().Str("symbol", b.Symbol).Msg("wsfeed: bus rejected market data publish")
		}
	}
}
