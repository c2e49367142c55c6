package outcome

import (
	"testing"
	"time"

	"github.com/aristath/signals-bridge/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSignal() *signal.Signal {
	sig := &signal.Signal{
		ID: "sig-1", Symbol: "BTCUSDT", AssetClass: signal.Crypto,
		Direction: signal.Long, Entry: 100, SL: 95, TP1: 105,
		EntryTime: time.Now(),
	}
	sig.ComputeRiskMetrics()
	return sig
}

func price(p float64) *float64 { return &p }

func TestResolve_WinOnTP1(t *testing.T) {
	sig := baseSignal()
	start := time.Now()
	events := []signal.Event{
		{Kind: signal.EventEntryHit, At: start},
		{Kind: signal.EventTP1Hit, At: start.Add(time.Hour), Price: price(105)},
	}
	out, err := Resolve(sig, events)
	require.NoError(t, err)
	assert.Equal(t, ResultWin, out.Result)
	require.NotNil(t, out.RValue)
	assert.InDelta(t, 1.0, *out.RValue, 1e-9)
	assert.Equal(t, []int{1}, out.TPHits)
	require.NotNil(t, out.DurationHours)
	assert.InDelta(t, 1.0, *out.DurationHours, 1e-9)
}

func TestResolve_LossOnSL(t *testing.T) {
	sig := baseSignal()
	start := time.Now()
	events := []signal.Event{
		{Kind: signal.EventEntryHit, At: start},
		{Kind: signal.EventSLHit, At: start.Add(30 * time.Minute), Price: price(95)},
	}
	out, err := Resolve(sig, events)
	require.NoError(t, err)
	assert.Equal(t, ResultLoss, out.Result)
	require.NotNil(t, out.RValue)
	assert.InDelta(t, -1.0, *out.RValue, 1e-9)
}

func TestResolve_PartialWhenTPThenSL(t *testing.T) {
	sig := baseSignal()
	start := time.Now()
	events := []signal.Event{
		{Kind: signal.EventEntryHit, At: start},
		{Kind: signal.EventTP1Hit, At: start.Add(time.Hour), Price: price(105)},
		{Kind: signal.EventSLHit, At: start.Add(2 * time.Hour), Price: price(95)},
	}
	out, err := Resolve(sig, events)
	require.NoError(t, err)
	assert.Equal(t, ResultPartial, out.Result)
	assert.Equal(t, []int{1}, out.TPHits)
}

func TestResolve_ManualClose(t *testing.T) {
	sig := baseSignal()
	start := time.Now()
	events := []signal.Event{
		{Kind: signal.EventEntryHit, At: start},
		{Kind: signal.EventManualClose, At: start.Add(time.Hour), Price: price(102)},
	}
	out, err := Resolve(sig, events)
	require.NoError(t, err)
	assert.Equal(t, ResultClosed, out.Result)
	require.NotNil(t, out.RValue)
	assert.InDelta(t, 0.4, *out.RValue, 1e-9)
}

func TestResolve_OpenWithNoTerminalEvent(t *testing.T) {
	sig := baseSignal()
	events := []signal.Event{
		{Kind: signal.EventEntryHit, At: time.Now()},
		{Kind: signal.EventPriceUpdate, At: time.Now(), Price: price(103)},
	}
	out, err := Resolve(sig, events)
	require.NoError(t, err)
	assert.Equal(t, ResultOpen, out.Result)
	require.NotNil(t, out.ExitPrice)
	assert.Equal(t, 103.0, *out.ExitPrice)
}

func TestResolve_ExcursionsLong(t *testing.T) {
	sig := baseSignal()
	events := []signal.Event{
		{Kind: signal.EventPriceUpdate, At: time.Now(), Price: price(110)},
		{Kind: signal.EventPriceUpdate, At: time.Now(), Price: price(98)},
	}
	out, err := Resolve(sig, events)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, out.MaxFavorable, 1e-9)
	assert.InDelta(t, 2.0, out.MaxAdverse, 1e-9)
}

func TestResolve_MissingEntryAndSL(t *testing.T) {
	sig := &signal.Signal{ID: "bad"}
	_, err := Resolve(sig, nil)
	assert.ErrorIs(t, err, ErrIncompleteSignal)
}

func TestAggregateProviderStats(t *testing.T) {
	r1, r2, r3 := 1.5, -1.0, 2.0
	outcomes := []Outcome{
		{Result: ResultWin, RValue: &r1, TPHits: []int{1}},
		{Result: ResultLoss, RValue: &r2},
		{Result: ResultWin, RValue: &r3, TPHits: []int{1, 2}},
	}
	stats := AggregateProviderStats(outcomes, "prov1", time.Now())
	assert.Equal(t, 3, stats.TotalSignals)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 66.67, stats.WinRate, 0.01)
	assert.InDelta(t, 2.5, stats.TotalR, 1e-9)
	assert.Greater(t, stats.ProfitFactor, 1.0)
}

func TestAggregateProviderStats_Empty(t *testing.T) {
	stats := AggregateProviderStats(nil, "prov1", time.Now())
	assert.Equal(t, 0, stats.TotalSignals)
	assert.Equal(t, 0.0, stats.WinRate)
}

func TestBuildEquityCurve(t *testing.T) {
	r1, r2 := 2.0, -1.0
	outcomes := []Outcome{
		{RValue: &r1, Result: ResultWin},
		{RValue: &r2, Result: ResultLoss},
	}
	curve := BuildEquityCurve(outcomes, 10000)
	require.Len(t, curve, 2)
	assert.InDelta(t, 2.0, curve[0].CumulativeR, 1e-9)
	assert.InDelta(t, 10200.0, curve[0].Equity, 1e-9)
	assert.InDelta(t, 1.0, curve[1].CumulativeR, 1e-9)
}

func TestCalculateDrawdown(t *testing.T) {
	r1, r2, r3 := 2.0, -3.0, 1.0
	outcomes := []Outcome{
		{RValue: &r1}, {RValue: &r2}, {RValue: &r3},
	}
	dd := CalculateDrawdown(outcomes, 10000)
	assert.Greater(t, dd.MaxDrawdown, 0.0)
}

func TestConsistencyScore(t *testing.T) {
	assert.Equal(t, 0.0, ConsistencyScore([]float64{1.0}))
	score := ConsistencyScore([]float64{1.0, 1.1, 0.9, 1.0, 1.05})
	assert.Greater(t, score, 50.0)
}
