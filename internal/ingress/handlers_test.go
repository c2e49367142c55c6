package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signals-bridge/internal/config"
	"github.com/aristath/signals-bridge/internal/notify"
	"github.com/aristath/signals-bridge/internal/signal"
)

type fakeProviderStore struct {
	byHash    map[string]*Provider
	byName    map[string]*Provider
	def       *Provider
}

func (f *fakeProviderStore) GetProviderByAPIKeyHash(ctx context.Context, hash string) (*Provider, error) {
	if p, ok := f.byHash[hash]; ok {
		return p, nil
	}
	return nil, assertErr("not found")
}
func (f *fakeProviderStore) GetProviderByName(ctx context.Context, name string) (*Provider, error) {
	if p, ok := f.byName[name]; ok {
		return p, nil
	}
	return nil, assertErr("not found")
}
func (f *fakeProviderStore) EnsureDefaultProvider(ctx context.Context) (*Provider, error) {
	return f.def, nil
}
func (f *fakeProviderStore) ListProvidersHandlerView(ctx context.Context) ([]*Provider, error) {
	return []*Provider{f.def}, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeSignalStore struct {
	inserted []*signal.Signal
	events   []*signal.Event
	byID     map[string]*signal.Signal
	updated  []*signal.Signal
}

func (f *fakeSignalStore) InsertSignal(ctx context.Context, sig *signal.Signal) error {
	f.inserted = append(f.inserted, sig)
	return nil
}
func (f *fakeSignalStore) UpdateSignal(ctx context.Context, sig *signal.Signal) error {
	f.updated = append(f.updated, sig)
	return nil
}
func (f *fakeSignalStore) GetSignal(ctx context.Context, id string) (*signal.Signal, error) {
	if sig, ok := f.byID[id]; ok {
		return sig, nil
	}
	return nil, assertErr("not found")
}
func (f *fakeSignalStore) InsertEvent(ctx context.Context, ev *signal.Event) error {
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeSignalStore) RecentSignalsForSymbol(ctx context.Context, symbol string, since time.Time) ([]*signal.Signal, error) {
	return nil, nil
}

type fakeSubscriptionStore struct {
	inserted []*notify.Subscription
}

func (f *fakeSubscriptionStore) InsertSubscription(ctx context.Context, sub *notify.Subscription) error {
	f.inserted = append(f.inserted, sub)
	return nil
}
func (f *fakeSubscriptionStore) SubscriptionsForProvider(ctx context.Context, providerID string) ([]notify.Subscription, error) {
	return nil, nil
}

func testServer() (*Server, *fakeSignalStore) {
	cfg := &config.Config{
		Port: 0, MinRRRatio: 0.5, WarnRRRatio: 1.0,
		MaxLatency: 300 * time.Second, WarnLatency: 120 * time.Second,
		RiskCeilingByClass: map[signal.AssetClass]float64{
			signal.Futures: 0.03, signal.Forex: 0.02, signal.Crypto: 0.15, signal.Stocks: 0.05, signal.Other: 0.10,
		},
		PrecisionByClass: map[signal.AssetClass]int{
			signal.Futures: 2, signal.Forex: 5, signal.Crypto: 8, signal.Stocks: 2,
		},
		DuplicateWindow:    time.Hour, DuplicateBandPct: 0.001,
	}
	providers := &fakeProviderStore{
		byHash: map[string]*Provider{}, byName: map[string]*Provider{},
		def: &Provider{ID: "prov1", Name: "default", Active: true},
	}
	signals := &fakeSignalStore{}
	subs := &fakeSubscriptionStore{}
	id := 0
	idGen := func() string { id++; return "sig-test" }
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	srv := New(cfg, providers, signals, subs, idGen, now, zerolog.Nop())
	return srv, signals
}

func TestHandleTradingViewWebhook_StructuredJSON(t *testing.T) {
	srv, signals := testServer()

	body := map[string]any{
		"symbol": "BTCUSDT", "direction": "LONG",
		"entry": 100.0, "sl": 95.0, "tp1": 110.0,
	}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/tradingview", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, signals.inserted, 1)
	assert.Equal(t, "BTCUSDT", signals.inserted[0].Symbol)
	assert.Equal(t, signal.StatusPending, signals.inserted[0].Status)
}

func TestHandleTradingViewWebhook_RejectsBadRR(t *testing.T) {
	srv, signals := testServer()

	body := map[string]any{
		"symbol": "BTCUSDT", "direction": "LONG",
		"entry": 100.0, "sl": 99.0, "tp1": 100.3,
	}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/tradingview", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Len(t, signals.inserted, 1)
	assert.Equal(t, signal.StatusInvalid, signals.inserted[0].Status)
}

func TestHandleTradingViewWebhook_TaskMagicTextAlert(t *testing.T) {
	srv, signals := testServer()

	body := map[string]any{
		"body": "SELL ALERT\nSymbol: NQ1!\nEntry: 20537\nStop Loss: 20600\nTake Profit 1: 20400",
	}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/tradingview", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, signals.inserted, 1)
	assert.Equal(t, signal.Short, signals.inserted[0].Direction)
}

func TestHandlePriceEventWebhook_DrivesStateMachineAndClosesSignal(t *testing.T) {
	srv, signals := testServer()
	sig := &signal.Signal{
		ID: "sig-1", Symbol: "BTCUSDT", AssetClass: signal.Crypto, Direction: signal.Long,
		Entry: 100, SL: 95, TP1: 105, RiskDistance: 5, Status: signal.StatusActive,
	}
	signals.byID = map[string]*signal.Signal{"sig-1": sig}

	raw, _ := json.Marshal(map[string]any{"signal_id": "sig-1", "event_type": "SL_HIT", "price": 95.0})
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/price-event", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, signals.events, 1)
	assert.Equal(t, signal.EventSLHit, signals.events[0].Kind)
	assert.Equal(t, signal.SourceManual, signals.events[0].Source)
	require.Len(t, signals.updated, 1)
	assert.Equal(t, signal.StatusSLHit, signals.updated[0].Status)
	require.NotNil(t, signals.updated[0].RValue)
	assert.InDelta(t, -1.0, *signals.updated[0].RValue, 1e-9)
}

func TestHandlePriceEventWebhook_UnknownSignalReturns404(t *testing.T) {
	srv, _ := testServer()

	raw, _ := json.Marshal(map[string]any{"signal_id": "missing", "event_type": "SL_HIT", "price": 95.0})
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/price-event", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlePriceEventWebhook_InvalidTransitionReportsNoChange(t *testing.T) {
	srv, signals := testServer()
	sig := &signal.Signal{ID: "sig-1", Symbol: "BTCUSDT", Status: signal.StatusClosed}
	signals.byID = map[string]*signal.Signal{"sig-1": sig}

	raw, _ := json.Marshal(map[string]any{"signal_id": "sig-1", "event_type": "TP1_HIT", "price": 105.0})
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/price-event", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, signals.events)
	assert.Empty(t, signals.updated)
}

func TestHandleCreateSubscription(t *testing.T) {
	srv, _ := testServer()

	raw, _ := json.Marshal(map[string]any{
		"provider_id": "prov1", "url": "https://example.com/hook", "event_types": []string{"TP1_HIT"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions/", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
