package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// TickSink consumes parsed market data. The engine facade implements it.
type TickSink interface {
	OnTick(symbol string, price decimal.Decimal, at time.Time)
	OnVolatility(symbol string, vol decimal.Decimal)
}

// tickMessage is the wire format of one feed update. Prices come as strings
// to avoid float precision loss.
type tickMessage struct {
	Type       string `json:"type"`
	Symbol     string `json:"symbol"`
	Price      string `json:"price"`
	Volatility string `json:"volatility,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix millis
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Feed maintains a websocket subscription to the market data endpoint and
// pushes parsed ticks into the sink. Connection drops trigger reconnects with
// exponential backoff; the feed only stops when its context is cancelled.
type Feed struct {
	cfg  Config
	sink TickSink
}

// NewFeed creates a feed that delivers ticks for the configured symbols.
func NewFeed(cfg Config, sink TickSink) *Feed {
	return &Feed{cfg: cfg, sink: sink}
}

// Run blocks until ctx is cancelled, reconnecting as needed.
func (f *Feed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectBaseDelay

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return nil
		}

		logger.WithError(err).WithFields(map[string]interface{}{
			"component": "MarketDataFeed",
			"url":       f.cfg.FeedURL,
			"retry_in":  delay.String(),
		}).Warn("Feed connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.ReconnectMaxDelay {
			delay = f.cfg.ReconnectMaxDelay
		}
	}
}

// connectAndRead dials, subscribes and pumps messages until the connection
// breaks. A successful subscription resets the backoff by returning through
// the read loop.
func (f *Feed) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.FeedURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := subscribeMessage{Op: "subscribe", Symbols: f.cfg.Symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"component": "MarketDataFeed",
		"url":       f.cfg.FeedURL,
		"symbols":   f.cfg.Symbols,
	}).Info("Feed connected and subscribed")

	// Unblock the read loop when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if f.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		f.handleMessage(raw)
	}
}

func (f *Feed) handleMessage(raw []byte) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "tick" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil || !price.IsPositive() {
		logger.WithFields(map[string]interface{}{
			"component": "MarketDataFeed",
			"symbol":    msg.Symbol,
			"price":     msg.Price,
		}).Debug("Dropping tick with unusable price")
		return
	}

	at := time.UnixMilli(msg.Timestamp)
	if msg.Timestamp == 0 {
		at = time.Now()
	}

	f.sink.OnTick(msg.Symbol, price, at)

	if msg.Volatility != "" {
		if vol, err := decimal.NewFromString(msg.Volatility); err == nil {
			f.sink.OnVolatility(msg.Symbol, vol)
		}
	}
}
