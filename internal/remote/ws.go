package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	// writeWait bounds every write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for the next pong before the connection
	// is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before a reconnect attempt; backoff
	// doubles up to maxReconnectDelay.
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TickHandler receives one price tick from the feed.
type TickHandler func(symbol string, price decimal.Decimal)

// tickMessage is the wire shape of one feed message.
type tickMessage struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// PriceFeed is the websocket client for the backend's real-time price stream.
// Run owns the connection lifecycle: it dials, resubscribes after every
// reconnect, and keeps the connection alive with pings until ctx ends.
type PriceFeed struct {
	wsURL   string
	handler TickHandler
	logger  *slog.Logger

	mu      sync.Mutex
	symbols []string
}

// NewPriceFeed creates a feed that dispatches every tick to handler.
func NewPriceFeed(wsURL string, handler TickHandler, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:   wsURL,
		handler: handler,
		logger:  logger.With(slog.String("component", "pricefeed")),
	}
}

// Subscribe sets the symbols to stream. Takes effect on the next (re)connect;
// Run resubscribes automatically after connection loss.
func (f *PriceFeed) Subscribe(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append([]string(nil), symbols...)
}

// Run connects and consumes the feed until ctx is cancelled, reconnecting
// with capped exponential backoff on any connection failure.
func (f *PriceFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *PriceFeed) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("remote: feed connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	f.mu.Lock()
	symbols := append([]string(nil), f.symbols...)
	f.mu.Unlock()
	if len(symbols) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", Symbols: symbols}); err != nil {
			return fmt.Errorf("remote: feed subscribe: %w", err)
		}
	}
	f.logger.InfoContext(ctx, "feed connected", slog.Int("symbols", len(symbols)))

	// Close the connection when ctx ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("remote: feed read: %w", err)
		}
		f.dispatch(ctx, data)
	}
}

func (f *PriceFeed) dispatch(ctx context.Context, data []byte) {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.WarnContext(ctx, "feed message dropped", slog.String("error", err.Error()))
		return
	}
	if msg.Type != "tick" || msg.Symbol == "" {
		return
	}
	if !msg.Price.IsPositive() {
		f.logger.WarnContext(ctx, "feed tick dropped",
			slog.String("symbol", msg.Symbol),
			slog.String("price", msg.Price.String()),
		)
		return
	}
	f.handler(msg.Symbol, msg.Price)
}

// IsClosedError reports whether err is a normal websocket shutdown.
func IsClosedError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled)
}
