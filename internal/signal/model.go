// Package signal implements the canonical signal model, normalization and
// validation — the correctness spine of the trading-signal bridge.
package signal

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Direction is the trade direction of a signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// AssetClass is the detected instrument class of a signal's symbol.
type AssetClass string

const (
	Futures AssetClass = "FUTURES"
	Forex   AssetClass = "FOREX"
	Crypto  AssetClass = "CRYPTO"
	Stocks  AssetClass = "STOCKS"
	Other   AssetClass = "OTHER"
)

// Status is the lifecycle status of a signal.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusTP1Hit  Status = "TP1_HIT"
	StatusTP2Hit  Status = "TP2_HIT"
	StatusTP3Hit  Status = "TP3_HIT"
	StatusSLHit   Status = "SL_HIT"
	StatusClosed  Status = "CLOSED"
	StatusInvalid Status = "INVALID"
)

// EventKind identifies a lifecycle event for a signal.
type EventKind string

const (
	EventEntryHit         EventKind = "ENTRY_HIT"
	EventTP1Hit           EventKind = "TP1_HIT"
	EventTP2Hit           EventKind = "TP2_HIT"
	EventTP3Hit           EventKind = "TP3_HIT"
	EventSLHit            EventKind = "SL_HIT"
	EventManualClose      EventKind = "MANUAL_CLOSE"
	EventExpired          EventKind = "EXPIRED"
	EventValidationFailed EventKind = "VALIDATION_FAILED"
	EventPriceUpdate      EventKind = "PRICE_UPDATE"
)

// EventSource identifies where a SignalEvent was detected.
type EventSource string

const (
	SourceTradingView EventSource = "TRADINGVIEW"
	SourcePineScript  EventSource = "PINESCRIPT"
	SourcePolling     EventSource = "POLLING"
	SourceManual      EventSource = "MANUAL"
	SourceHistorical  EventSource = "HISTORICAL"
)

// CloseReason explains why a signal reached a terminal state.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "STOP_LOSS_HIT"
	CloseReasonAllTP      CloseReason = "ALL_TAKE_PROFITS_HIT"
	CloseReasonManual     CloseReason = "MANUAL_CLOSE"
	CloseReasonExpired    CloseReason = "EXPIRED"
	CloseReasonInvalid    CloseReason = "VALIDATION_FAILED"
)

// Signal is the central entity: a normalized trade intent tracked through
// its lifecycle against live prices.
type Signal struct {
	ID             string
	ProviderID     string
	ExternalID     string
	StrategyName   string
	Symbol         string
	AssetClass     AssetClass
	Direction      Direction
	Entry          float64
	SL             float64
	TP1            float64
	TP2            *float64
	TP3            *float64
	RiskDistance   float64
	RRRatio        float64
	Status         Status
	EntryTime      time.Time
	ActivatedAt    *time.Time
	ClosedAt       *time.Time
	ExitPrice      *float64
	CloseReason    CloseReason
	RValue         *float64
	MaxFavorable   float64
	MaxAdverse     float64
	NextPollAt     time.Time
	LastPrice      *float64
	LastPriceAt    *time.Time
	RawPayload     map[string]any
}

// Levels returns the signal's exit levels in the fixed order sl, tp1, tp2, tp3
// (tp2/tp3 omitted when unset). Used by the validator's precision check.
func (s *Signal) Levels() []float64 {
	levels := []float64{s.SL, s.TP1}
	if s.TP2 != nil {
		levels = append(levels, *s.TP2)
	}
	if s.TP3 != nil {
		levels = append(levels, *s.TP3)
	}
	return levels
}

// ComputeRiskMetrics sets RiskDistance and RRRatio from Entry/SL/TP1.
func (s *Signal) ComputeRiskMetrics() {
	s.RiskDistance = math.Abs(s.Entry - s.SL)
	if s.RiskDistance == 0 {
		s.RRRatio = 0
		return
	}
	s.RRRatio = math.Abs(s.TP1-s.Entry) / s.RiskDistance
}

// ErrZeroRisk is returned by CheckOrdering when entry == sl.
var ErrZeroRisk = errors.New("zero risk distance: entry equals stop loss")

// CheckOrdering enforces the §3 price-level ordering invariants for the
// signal's direction. It does not mutate the signal.
func (s *Signal) CheckOrdering() error {
	if s.Entry == s.SL {
		return ErrZeroRisk
	}
	switch s.Direction {
	case Long:
		if !(s.SL < s.Entry && s.Entry < s.TP1) {
			return fmt.Errorf("LONG ordering violated: sl(%v) < entry(%v) < tp1(%v) required", s.SL, s.Entry, s.TP1)
		}
		if s.TP2 != nil && !(s.TP1 < *s.TP2) {
			return fmt.Errorf("LONG ordering violated: tp1(%v) < tp2(%v) required", s.TP1, *s.TP2)
		}
		if s.TP3 != nil {
			if s.TP2 == nil {
				return fmt.Errorf("tp3 present without tp2")
			}
			if !(*s.TP2 < *s.TP3) {
				return fmt.Errorf("LONG ordering violated: tp2(%v) < tp3(%v) required", *s.TP2, *s.TP3)
			}
		}
	case Short:
		if !(s.SL > s.Entry && s.Entry > s.TP1) {
			return fmt.Errorf("SHORT ordering violated: sl(%v) > entry(%v) > tp1(%v) required", s.SL, s.Entry, s.TP1)
		}
		if s.TP2 != nil && !(s.TP1 > *s.TP2) {
			return fmt.Errorf("SHORT ordering violated: tp1(%v) > tp2(%v) required", s.TP1, *s.TP2)
		}
		if s.TP3 != nil {
			if s.TP2 == nil {
				return fmt.Errorf("tp3 present without tp2")
			}
			if !(*s.TP2 > *s.TP3) {
				return fmt.Errorf("SHORT ordering violated: tp2(%v) > tp3(%v) required", *s.TP2, *s.TP3)
			}
		}
	default:
		return fmt.Errorf("unknown direction %q", s.Direction)
	}
	return nil
}

// IsTerminal reports whether status is one of the immutable terminal states.
func IsTerminal(status Status) bool {
	switch status {
	case StatusSLHit, StatusClosed, StatusInvalid:
		return true
	default:
		return false
	}
}

// ComputeRValue returns the realized R-value for an exit price, per the §3
// formula: (exit-entry)/risk for LONG, (entry-exit)/risk for SHORT.
func ComputeRValue(direction Direction, entry, risk, exit float64) float64 {
	if risk == 0 {
		return 0
	}
	if direction == Long {
		return (exit - entry) / risk
	}
	return (entry - exit) / risk
}
