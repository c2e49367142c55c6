package stream

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTicker_UpdatesLatestPrice(t *testing.T) {
	a := NewCryptoAdapter(zerolog.Nop())
	a.handleTicker("BTCUSDT", []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"65000.50"}`))

	q, ok := a.LatestPrice("btcusdt")
	require.True(t, ok)
	assert.Equal(t, 65000.50, q.Price)
	assert.Equal(t, "BTCUSDT", q.Symbol)
	assert.Equal(t, "binance_ws", q.Source)
}

func TestHandleTicker_IgnoresNonTickerEvents(t *testing.T) {
	a := NewCryptoAdapter(zerolog.Nop())
	a.handleTicker("BTCUSDT", []byte(`{"e":"trade","s":"BTCUSDT","c":"1"}`))

	_, ok := a.LatestPrice("BTCUSDT")
	assert.False(t, ok)
}

func TestHandleTicker_RejectsInvalidPrice(t *testing.T) {
	a := NewCryptoAdapter(zerolog.Nop())
	a.handleTicker("BTCUSDT", []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"-5"}`))

	_, ok := a.LatestPrice("BTCUSDT")
	assert.False(t, ok)
}

func TestUnsubscribe_CleansUpSubscription(t *testing.T) {
	a := NewCryptoAdapter(zerolog.Nop())
	a.mu.Lock()
	a.subscribed["BTCUSDT"] = func() {}
	a.mu.Unlock()

	a.Unsubscribe("btcusdt")
	a.mu.RLock()
	_, stillSubscribed := a.subscribed["BTCUSDT"]
	a.mu.RUnlock()
	assert.False(t, stillSubscribed)
}
