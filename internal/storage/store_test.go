package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signals-bridge/internal/database"
	"github.com/aristath/signals-bridge/internal/ingress"
	"github.com/aristath/signals-bridge/internal/notify"
	"github.com/aristath/signals-bridge/internal/signal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(dir + "/test.db")
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return New(db, zerolog.Nop())
}

func sampleSignal(id string) *signal.Signal {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &signal.Signal{
		ID: id, ProviderID: "prov1", Symbol: "BTCUSDT", AssetClass: signal.Crypto, Direction: signal.Long,
		Entry: 100, SL: 95, TP1: 105, RiskDistance: 5, RRRatio: 1,
		Status: signal.StatusPending, EntryTime: now, NextPollAt: now,
		RawPayload: map[string]any{"source": "test"},
	}
}

func TestStore_InsertAndGetSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProvider(ctx, &ingress.Provider{ID: "prov1", Name: "Test Provider", IngestFormat: "structured", Active: true}))

	sig := sampleSignal("sig-1")
	require.NoError(t, s.InsertSignal(ctx, sig))

	got, err := s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", got.Symbol)
	require.Equal(t, signal.StatusPending, got.Status)
	require.Equal(t, 100.0, got.Entry)
}

func TestStore_SignalsDueForPoll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProvider(ctx, &ingress.Provider{ID: "prov1", Name: "P", IngestFormat: "structured", Active: true}))

	past := sampleSignal("sig-due")
	past.NextPollAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	future := sampleSignal("sig-not-due")
	future.NextPollAt = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertSignal(ctx, past))
	require.NoError(t, s.InsertSignal(ctx, future))

	due, err := s.SignalsDueForPoll(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "sig-due", due[0].ID)
}

func TestStore_UpdateSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProvider(ctx, &ingress.Provider{ID: "prov1", Name: "P", IngestFormat: "structured", Active: true}))

	sig := sampleSignal("sig-1")
	require.NoError(t, s.InsertSignal(ctx, sig))

	rv := 1.5
	sig.Status = signal.StatusTP1Hit
	sig.RValue = &rv
	require.NoError(t, s.UpdateSignal(ctx, sig))

	got, err := s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	require.Equal(t, signal.StatusTP1Hit, got.Status)
	require.NotNil(t, got.RValue)
	require.Equal(t, 1.5, *got.RValue)
}

func TestStore_InsertAndListEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProvider(ctx, &ingress.Provider{ID: "prov1", Name: "P", IngestFormat: "structured", Active: true}))
	sig := sampleSignal("sig-1")
	require.NoError(t, s.InsertSignal(ctx, sig))

	price := 105.0
	ev := &signal.Event{
		ID: "evt-1", SignalID: "sig-1", Kind: signal.EventTP1Hit, Price: &price,
		Source: signal.SourcePolling, At: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Metadata: map[string]any{"detected_by": "test"},
	}
	require.NoError(t, s.InsertEvent(ctx, ev))

	events, err := s.EventsForSignal(ctx, "sig-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, signal.EventTP1Hit, events[0].Kind)
	require.NotNil(t, events[0].Price)
	require.Equal(t, 105.0, *events[0].Price)
}

func TestStore_SubscriptionsForProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProvider(ctx, &ingress.Provider{ID: "prov1", Name: "P", IngestFormat: "structured", Active: true}))

	sub := &notify.Subscription{
		ID: "sub-1", ProviderID: "prov1", URL: "https://example.com/hook", Secret: "shh",
		EventTypes: []string{"TP1_HIT", "SL_HIT"}, Headers: map[string]string{"X-Custom": "1"}, Active: true,
	}
	require.NoError(t, s.InsertSubscription(ctx, sub))

	subs, err := s.SubscriptionsForProvider(ctx, "prov1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, []string{"TP1_HIT", "SL_HIT"}, subs[0].EventTypes)
	require.Equal(t, "1", subs[0].Headers["X-Custom"])
	require.True(t, subs[0].Active)
}

func TestStore_ProviderResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProvider(ctx, &ingress.Provider{
		ID: "prov1", Name: "Acme Strategies", APIKeyHash: "deadbeef", IngestFormat: "structured", Active: true,
	}))

	byHash, err := s.GetProviderByAPIKeyHash(ctx, "deadbeef")
	require.NoError(t, err)
	require.Equal(t, "prov1", byHash.ID)

	byName, err := s.GetProviderByName(ctx, "Acme Strategies")
	require.NoError(t, err)
	require.Equal(t, "prov1", byName.ID)

	_, err = s.GetProviderByAPIKeyHash(ctx, "unknown-hash")
	require.Error(t, err)
}

func TestStore_EnsureDefaultProvider_CreatesOneWhenNoneExist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.EnsureDefaultProvider(ctx)
	require.NoError(t, err)
	require.Equal(t, "default", p.Name)

	again, err := s.EnsureDefaultProvider(ctx)
	require.NoError(t, err)
	require.Equal(t, p.ID, again.ID)
}

func TestStore_RecentSignalsForSymbol(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProvider(ctx, &ingress.Provider{ID: "prov1", Name: "P", IngestFormat: "structured", Active: true}))

	sig := sampleSignal("sig-1")
	require.NoError(t, s.InsertSignal(ctx, sig))

	recent, err := s.RecentSignalsForSymbol(ctx, "BTCUSDT", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, recent, 1)

	none, err := s.RecentSignalsForSymbol(ctx, "BTCUSDT", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, none, 0)
}

func TestStore_DeliveryRecording(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProvider(ctx, &ingress.Provider{ID: "prov1", Name: "P", IngestFormat: "structured", Active: true}))
	sub := &notify.Subscription{ID: "sub-1", ProviderID: "prov1", URL: "https://example.com", Secret: "x", EventTypes: []string{"TP1_HIT"}, Active: true}
	require.NoError(t, s.InsertSubscription(ctx, sub))

	require.NoError(t, s.RecordDeliveryFailure(ctx, "sub-1", 3))
	subs, err := s.SubscriptionsForProvider(ctx, "prov1")
	require.NoError(t, err)
	require.Equal(t, 3, subs[0].ConsecutiveFailures)

	require.NoError(t, s.RecordDeliverySuccess(ctx, "sub-1", time.Now()))
	subs, err = s.SubscriptionsForProvider(ctx, "prov1")
	require.NoError(t, err)
	require.Equal(t, 0, subs[0].ConsecutiveFailures)

	require.NoError(t, s.LogDelivery(ctx, "sub-1", "evt-1", 200, true, ""))
}
