package feed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
)

// WSFeed streams market snapshots (price plus Greeks) from the data
// provider's websocket and hands them to registered callbacks. The engine
// never sees the wire format: it only receives domain.MarketSnapshot.
type WSFeed struct {
	wsURL     string
	logger    *zap.Logger
	mu        sync.Mutex
	conn      *websocket.Conn
	symbols   []string
	closed    bool
	callbacks []func(domain.MarketSnapshot)
}

func NewWSFeed(wsURL string, logger *zap.Logger) *WSFeed {
	return &WSFeed{
		wsURL:  wsURL,
		logger: logger,
	}
}

// OnSnapshot registers a callback invoked for every incoming tick.
func (f *WSFeed) OnSnapshot(callback func(domain.MarketSnapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

// Connect dials the stream and subscribes to the given symbols. A dropped
// connection is redialed with backoff until Close is called.
func (f *WSFeed) Connect(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.symbols = symbols
	if f.conn != nil {
		return f.subscribe(symbols)
	}

	c, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}
	f.conn = c

	go f.readLoop(c)

	return f.subscribe(symbols)
}

// reconnect redials after a dropped connection. Backoff doubles up to 30s;
// it gives up only when the feed has been closed.
func (f *WSFeed) reconnect() {
	backoff := time.Second
	for {
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		symbols := f.symbols
		f.mu.Unlock()

		f.logger.Info("Reconnecting market feed", zap.String("url", f.wsURL))
		if err := f.Connect(symbols); err != nil {
			f.logger.Warn("Feed reconnect failed", zap.Error(err))
			continue
		}
		return
	}
}

func (f *WSFeed) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "greeks." + s
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return f.conn.WriteJSON(subMsg)
}

// Close shuts the stream down for good. Safe to call when never connected.
func (f *WSFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

type tickMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"last_price,string"`
		Bid       float64 `json:"bid,string"`
		Ask       float64 `json:"ask,string"`
		Delta     float64 `json:"delta,string"`
		Gamma     float64 `json:"gamma,string"`
		Theta     float64 `json:"theta,string"`
		Timestamp int64   `json:"ts"`
	} `json:"data"`
}

func (f *WSFeed) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		closed := f.closed
		f.mu.Unlock()
		if !closed {
			go f.reconnect()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.logger.Warn("Feed read error", zap.Error(err))
			return
		}

		var msg tickMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			f.logger.Warn("Feed unmarshal error", zap.Error(err))
			continue
		}
		if msg.Topic == "" || msg.Data.Symbol == "" {
			continue
		}

		snap := domain.MarketSnapshot{
			Symbol:    msg.Data.Symbol,
			LastPrice: msg.Data.LastPrice,
			Bid:       msg.Data.Bid,
			Ask:       msg.Data.Ask,
			Delta:     msg.Data.Delta,
			Gamma:     msg.Data.Gamma,
			Theta:     msg.Data.Theta,
			Timestamp: time.UnixMilli(msg.Data.Timestamp),
		}

		f.mu.Lock()
		callbacks := make([]func(domain.MarketSnapshot), len(f.callbacks))
		copy(callbacks, f.callbacks)
		f.mu.Unlock()

		for _, cb := range callbacks {
			cb(snap)
		}
	}
}
