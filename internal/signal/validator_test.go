package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validLongSignal(now time.Time) *Signal {
	sig := &Signal{
		Symbol:     "BTCUSDT",
		AssetClass: Crypto,
		Direction:  Long,
		Entry:      100,
		SL:         95,
		TP1:        105,
		EntryTime:  now,
	}
	sig.ComputeRiskMetrics()
	return sig
}

func TestValidate_AcceptsCleanSignal(t *testing.T) {
	now := time.Now()
	sig := validLongSignal(now)
	result := Validate(sig, DefaultValidatorConfig(), nil, now)
	assert.True(t, result.IsValid())
	assert.Equal(t, 100, result.Score)
}

func TestValidate_InvertedOrderingRejected(t *testing.T) {
	now := time.Now()
	sig := &Signal{
		Symbol: "AAPL", AssetClass: Stocks, Direction: Long,
		Entry: 100, SL: 110, TP1: 120, EntryTime: now,
	}
	sig.ComputeRiskMetrics()
	result := Validate(sig, DefaultValidatorConfig(), nil, now)
	assert.False(t, result.IsValid())
	assert.Contains(t, result.Errors[0], "entry")
}

func TestValidate_ZeroRiskRejected(t *testing.T) {
	now := time.Now()
	sig := &Signal{
		Symbol: "AAPL", AssetClass: Stocks, Direction: Long,
		Entry: 100, SL: 100, TP1: 110, EntryTime: now,
	}
	sig.ComputeRiskMetrics()
	result := Validate(sig, DefaultValidatorConfig(), nil, now)
	assert.False(t, result.IsValid())
}

func TestValidate_LowRRRatioIsError(t *testing.T) {
	now := time.Now()
	sig := &Signal{
		Symbol: "AAPL", AssetClass: Stocks, Direction: Long,
		Entry: 100, SL: 95, TP1: 102, EntryTime: now, // rr = 2/5 = 0.4 < 0.5
	}
	sig.ComputeRiskMetrics()
	result := Validate(sig, DefaultValidatorConfig(), nil, now)
	assert.False(t, result.IsValid())
}

func TestValidate_StaleLatencyIsError(t *testing.T) {
	now := time.Now()
	sig := validLongSignal(now.Add(-10 * time.Minute))
	result := Validate(sig, DefaultValidatorConfig(), nil, now)
	assert.False(t, result.IsValid())
}

func TestValidate_WarnLatencyOnly(t *testing.T) {
	now := time.Now()
	sig := validLongSignal(now.Add(-150 * time.Second))
	result := Validate(sig, DefaultValidatorConfig(), nil, now)
	assert.True(t, result.IsValid())
	assert.NotEmpty(t, result.Warnings)
}

func TestValidate_RiskCeilingPerAssetClass(t *testing.T) {
	now := time.Now()
	// Forex ceiling is 2%; this signal's risk is 5/100 = 5%.
	sig := &Signal{
		Symbol: "EURUSD", AssetClass: Forex, Direction: Long,
		Entry: 100, SL: 95, TP1: 110, EntryTime: now,
	}
	sig.ComputeRiskMetrics()
	result := Validate(sig, DefaultValidatorConfig(), nil, now)
	assert.False(t, result.IsValid())
}

func TestValidate_DuplicateDetectionWithinBand(t *testing.T) {
	now := time.Now()
	sig := validLongSignal(now)
	sig.ID = "new"
	existing := validLongSignal(now)
	existing.ID = "existing"
	existing.Entry = sig.Entry * 1.0005 // within 0.1% band

	result := Validate(sig, DefaultValidatorConfig(), []*Signal{existing}, now)
	assert.True(t, result.IsValid())
	assert.NotEmpty(t, result.Warnings)
}

func TestValidate_DuplicateDetectionOutsideBandNotFlagged(t *testing.T) {
	now := time.Now()
	sig := validLongSignal(now)
	sig.ID = "new"
	existing := validLongSignal(now)
	existing.ID = "existing"
	existing.Entry = sig.Entry * 1.05 // well outside 0.1% band

	result := Validate(sig, DefaultValidatorConfig(), []*Signal{existing}, now)
	assert.Empty(t, result.Warnings)
}
