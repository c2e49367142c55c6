// Package monitor implements the polling loop that scans due signals,
// fetches grouped prices, detects TP/SL/entry hits, and drives state
// transitions — the heartbeat of the signal bridge.
package monitor

import "github.com/aristath/signals-bridge/internal/signal"

// DetectEvent inspects the current price against a signal's status and
// levels and returns the lifecycle event that occurred, if any.
//
// PENDING checks only entry. ACTIVE/TP1_HIT/TP2_HIT check SL first
// (priority over TP) then the next unhit take-profit level.
func DetectEvent(sig *signal.Signal, currentPrice float64) (signal.EventKind, bool) {
	isLong := sig.Direction == signal.Long

	switch sig.Status {
	case signal.StatusPending:
		if isLong && currentPrice <= sig.Entry {
			return signal.EventEntryHit, true
		}
		if !isLong && currentPrice >= sig.Entry {
			return signal.EventEntryHit, true
		}

	case signal.StatusActive:
		if hitSL(isLong, currentPrice, sig.SL) {
			return signal.EventSLHit, true
		}
		if hitLong(isLong, currentPrice, sig.TP1) {
			return signal.EventTP1Hit, true
		}

	case signal.StatusTP1Hit:
		if hitSL(isLong, currentPrice, sig.SL) {
			return signal.EventSLHit, true
		}
		if sig.TP2 != nil && hitLong(isLong, currentPrice, *sig.TP2) {
			return signal.EventTP2Hit, true
		}

	case signal.StatusTP2Hit:
		if hitSL(isLong, currentPrice, sig.SL) {
			return signal.EventSLHit, true
		}
		if sig.TP3 != nil && hitLong(isLong, currentPrice, *sig.TP3) {
			return signal.EventTP3Hit, true
		}
	}

	return "", false
}

func hitSL(isLong bool, price, sl float64) bool {
	if isLong {
		return price <= sl
	}
	return price >= sl
}

func hitLong(isLong bool, price, level float64) bool {
	if isLong {
		return price >= level
	}
	return price <= level
}

// LevelForEvent returns the signal's own price level corresponding to
// eventKind, falling back to observedPrice for non-level events
// (ENTRY_HIT resolves to Entry, not the crossing tick, either). Hits are
// resolved to the level that was crossed rather than the raw feed price
// that crossed it, so r_value and exit_price stay exact regardless of
// how far the triggering tick overshot the level.
func LevelForEvent(sig *signal.Signal, eventKind signal.EventKind, observedPrice float64) float64 {
	switch eventKind {
	case signal.EventEntryHit:
		return sig.Entry
	case signal.EventSLHit:
		return sig.SL
	case signal.EventTP1Hit:
		return sig.TP1
	case signal.EventTP2Hit:
		if sig.TP2 != nil {
			return *sig.TP2
		}
	case signal.EventTP3Hit:
		if sig.TP3 != nil {
			return *sig.TP3
		}
	}
	return observedPrice
}
