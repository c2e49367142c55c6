// Package stream implements the real-time crypto price feed: a
// Binance ticker WebSocket per symbol, auto-reconnecting with
// exponential backoff and re-subscribing on reconnect.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aristath/signals-bridge/internal/priceapi"
	"github.com/aristath/signals-bridge/internal/signal"
)

const (
	binanceWSBase = "wss://stream.binance.com:9443/ws"
	pingInterval  = 30 * time.Second
	readTimeout   = 90 * time.Second
	writeTimeout  = 10 * time.Second
)

// reconnectDelays is the fixed exponential backoff schedule, capped at 60s.
var reconnectDelays = []time.Duration{
	time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	16 * time.Second, 32 * time.Second, 60 * time.Second,
}

// CryptoAdapter manages one WebSocket connection per subscribed symbol
// and keeps a cache of the latest ticker price for each.
type CryptoAdapter struct {
	mu         sync.RWMutex
	prices     map[string]priceapi.Quote
	subscribed map[string]context.CancelFunc
	log        zerolog.Logger
}

// NewCryptoAdapter builds an empty adapter. Call Subscribe to start
// streaming a symbol.
func NewCryptoAdapter(log zerolog.Logger) *CryptoAdapter {
	return &CryptoAdapter{
		prices:     make(map[string]priceapi.Quote),
		subscribed: make(map[string]context.CancelFunc),
		log:        log.With().Str("component", "priceapi.stream").Logger(),
	}
}

// Subscribe starts a background stream worker for symbol if one isn't
// already running. Safe to call repeatedly; idempotent per symbol.
func (a *CryptoAdapter) Subscribe(ctx context.Context, symbol string) {
	symbol = strings.ToUpper(symbol)

	a.mu.Lock()
	if _, ok := a.subscribed[symbol]; ok {
		a.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	a.subscribed[symbol] = cancel
	a.mu.Unlock()

	a.log.Info().Str("symbol", symbol).Msg("subscribing to crypto price stream")
	go a.streamWorker(workerCtx, symbol)
}

// Unsubscribe stops the stream worker for symbol, if running.
func (a *CryptoAdapter) Unsubscribe(symbol string) {
	symbol = strings.ToUpper(symbol)

	a.mu.Lock()
	cancel, ok := a.subscribed[symbol]
	if ok {
		delete(a.subscribed, symbol)
	}
	a.mu.Unlock()

	if ok {
		cancel()
		a.log.Info().Str("symbol", symbol).Msg("unsubscribed from crypto price stream")
	}
}

// LatestPrice returns the most recently received quote for symbol.
func (a *CryptoAdapter) LatestPrice(symbol string) (priceapi.Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.prices[strings.ToUpper(symbol)]
	return q, ok
}

// Close tears down every active stream worker.
func (a *CryptoAdapter) Close() {
	a.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(a.subscribed))
	for sym, cancel := range a.subscribed {
		cancels = append(cancels, cancel)
		delete(a.subscribed, sym)
	}
	a.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (a *CryptoAdapter) streamWorker(ctx context.Context, symbol string) {
	attempt := 0
	for ctx.Err() == nil {
		err := a.connectAndStream(ctx, symbol)
		if ctx.Err() != nil {
			return
		}

		delay := reconnectDelays[attempt]
		if attempt < len(reconnectDelays)-1 {
			attempt++
		}

		a.log.Warn().Err(err).Str("symbol", symbol).Dur("delay", delay).Msg("crypto stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (a *CryptoAdapter) connectAndStream(ctx context.Context, symbol string) error {
	url := fmt.Sprintf("%s/%s@ticker", binanceWSBase, strings.ToLower(symbol))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", symbol, err)
	}
	defer conn.Close()

	a.log.Info().Str("symbol", symbol).Msg("crypto stream connected")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go a.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read %s: %w", symbol, err)
		}
		a.handleTicker(symbol, msg)
	}
}

func (a *CryptoAdapter) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// binanceTicker is the subset of Binance's 24hrTicker payload we use.
type binanceTicker struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

func (a *CryptoAdapter) handleTicker(fallbackSymbol string, raw []byte) {
	var t binanceTicker
	if err := json.Unmarshal(raw, &t); err != nil {
		a.log.Warn().Err(err).Str("symbol", fallbackSymbol).Msg("failed to parse ticker message")
		return
	}
	if t.EventType != "24hrTicker" {
		return
	}

	symbol := strings.ToUpper(t.Symbol)
	if symbol == "" {
		symbol = fallbackSymbol
	}

	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil || price <= 0 {
		a.log.Warn().Str("symbol", symbol).Str("raw_price", t.LastPrice).Msg("invalid ticker price")
		return
	}

	quote := priceapi.Quote{
		Symbol: symbol, Price: price, Timestamp: time.Now().UTC(),
		AssetClass: signal.Crypto, Source: "binance_ws",
	}

	a.mu.Lock()
	a.prices[symbol] = quote
	a.mu.Unlock()
}
