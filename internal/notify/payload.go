// Package notify routes signal lifecycle events to subscribed outbound
// webhooks: matching subscriptions, building canonical payloads, and
// handing them to the delivery dispatcher.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/aristath/signals-bridge/internal/signal"
)

// SignalSnapshot is the subset of signal fields shipped in an egress
// payload — enough for a subscriber to act without a callback.
type SignalSnapshot struct {
	ID           string   `json:"id"`
	Symbol       string   `json:"symbol"`
	Direction    string   `json:"direction"`
	EntryPrice   float64  `json:"entry_price"`
	SL           float64  `json:"sl"`
	TP1          float64  `json:"tp1"`
	TP2          *float64 `json:"tp2"`
	TP3          *float64 `json:"tp3"`
	RRRatio      float64  `json:"rr_ratio"`
	RiskDistance float64  `json:"risk_distance"`
	Status       string   `json:"status"`
	StrategyName string   `json:"strategy_name"`
}

// Payload is the canonical egress envelope sent to every subscriber. Nil
// fields serialize as JSON null rather than being omitted, so subscribers
// can rely on a fixed shape regardless of event type.
type Payload struct {
	EventID   string         `json:"event_id"`
	SignalID  string         `json:"signal_id"`
	EventType string         `json:"event_type"`
	Price     *float64       `json:"price"`
	Timestamp string         `json:"timestamp"`
	Signal    SignalSnapshot `json:"signal"`
}

// BuildPayload assembles the egress payload for a signal event.
func BuildPayload(sig *signal.Signal, eventKind signal.EventKind, price *float64, now time.Time) Payload {
	return Payload{
		EventID:   "evt_" + uuid.NewString(),
		SignalID:  sig.ID,
		EventType: string(eventKind),
		Price:     price,
		Timestamp: now.UTC().Format(time.RFC3339),
		Signal: SignalSnapshot{
			ID: sig.ID, Symbol: sig.Symbol, Direction: string(sig.Direction),
			EntryPrice: sig.Entry, SL: sig.SL, TP1: sig.TP1, TP2: sig.TP2, TP3: sig.TP3,
			RRRatio: sig.RRRatio, RiskDistance: sig.RiskDistance,
			Status: string(sig.Status), StrategyName: sig.StrategyName,
		},
	}
}
