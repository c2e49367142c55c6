package signal

import "time"

// Event is an append-only lifecycle record for a signal.
type Event struct {
	ID       string
	SignalID string
	Kind     EventKind
	Price    *float64
	Source   EventSource
	At       time.Time
	Metadata map[string]any
}
