// Package statemachine implements the pure signal lifecycle transition
// table: (status, event) -> TransitionResult. No persistence, no I/O.
package statemachine

import (
	"fmt"

	"github.com/aristath/signals-bridge/internal/signal"
)

// TransitionResult is the outcome of applying an event to a status.
type TransitionResult struct {
	NewStatus     signal.Status
	DidTransition bool
	Reason        string
	IsTerminal    bool
}

// eventToStatus maps each event kind to the status it drives toward.
var eventToStatus = map[signal.EventKind]signal.Status{
	signal.EventEntryHit:         signal.StatusActive,
	signal.EventTP1Hit:           signal.StatusTP1Hit,
	signal.EventTP2Hit:           signal.StatusTP2Hit,
	signal.EventTP3Hit:           signal.StatusTP3Hit,
	signal.EventSLHit:            signal.StatusSLHit,
	signal.EventManualClose:      signal.StatusClosed,
	signal.EventExpired:          signal.StatusClosed,
	signal.EventValidationFailed: signal.StatusInvalid,
}

// validTransitions is the legal-edge table from §4.3.
var validTransitions = map[signal.Status]map[signal.Status]bool{
	signal.StatusPending: {
		signal.StatusActive: true, signal.StatusInvalid: true, signal.StatusClosed: true,
	},
	signal.StatusActive: {
		signal.StatusTP1Hit: true, signal.StatusSLHit: true, signal.StatusClosed: true,
	},
	signal.StatusTP1Hit: {
		signal.StatusTP2Hit: true, signal.StatusSLHit: true, signal.StatusClosed: true,
	},
	signal.StatusTP2Hit: {
		signal.StatusTP3Hit: true, signal.StatusSLHit: true, signal.StatusClosed: true,
	},
	signal.StatusTP3Hit: {
		signal.StatusClosed: true,
	},
}

// CanTransition reports whether the edge current->target is legal.
func CanTransition(current, target signal.Status) bool {
	return validTransitions[current][target]
}

// Apply processes an event against the current status. It is idempotent
// (current == target is a no-op), irreversible (terminal states never
// transition), and returns a value rather than erroring on an invalid edge
// — callers log and drop per §7.
func Apply(current signal.Status, event signal.EventKind) TransitionResult {
	target, known := eventToStatus[event]
	if !known {
		return TransitionResult{
			NewStatus: current, DidTransition: false,
			Reason:     fmt.Sprintf("unknown event type: %s", event),
			IsTerminal: signal.IsTerminal(current),
		}
	}

	if current == target {
		return TransitionResult{
			NewStatus: current, DidTransition: false,
			Reason:     fmt.Sprintf("already in %s state", target),
			IsTerminal: signal.IsTerminal(current),
		}
	}

	if signal.IsTerminal(current) {
		return TransitionResult{
			NewStatus: current, DidTransition: false,
			Reason:     fmt.Sprintf("cannot transition from terminal state %s", current),
			IsTerminal: true,
		}
	}

	if !CanTransition(current, target) {
		return TransitionResult{
			NewStatus: current, DidTransition: false,
			Reason:     fmt.Sprintf("invalid transition: %s -> %s", current, target),
			IsTerminal: signal.IsTerminal(current),
		}
	}

	return TransitionResult{
		NewStatus: target, DidTransition: true,
		Reason:     fmt.Sprintf("transitioned: %s -> %s", current, target),
		IsTerminal: signal.IsTerminal(target),
	}
}

// CloseReason returns the close reason associated with a terminal status,
// or empty string if the status isn't one of the close-producing states.
func CloseReason(status signal.Status) signal.CloseReason {
	switch status {
	case signal.StatusSLHit:
		return signal.CloseReasonStopLoss
	case signal.StatusTP3Hit:
		return signal.CloseReasonAllTP
	case signal.StatusClosed:
		return signal.CloseReasonManual
	case signal.StatusInvalid:
		return signal.CloseReasonInvalid
	default:
		return ""
	}
}

// Category buckets a status into OPEN, WON, LOST, or OTHER for reporting.
func Category(status signal.Status) string {
	switch status {
	case signal.StatusPending, signal.StatusActive, signal.StatusTP1Hit, signal.StatusTP2Hit:
		return "OPEN"
	case signal.StatusTP3Hit, signal.StatusClosed:
		return "WON"
	case signal.StatusSLHit:
		return "LOST"
	default:
		return "OTHER"
	}
}

// DiagramNode/DiagramEdge/Diagram support a debug visualization endpoint.
type DiagramNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type DiagramEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Diagram struct {
	Nodes     []DiagramNode `json:"nodes"`
	Edges     []DiagramEdge `json:"edges"`
	Terminal  []string      `json:"terminal_states"`
}

var allStatuses = []signal.Status{
	signal.StatusPending, signal.StatusActive, signal.StatusTP1Hit, signal.StatusTP2Hit,
	signal.StatusTP3Hit, signal.StatusSLHit, signal.StatusClosed, signal.StatusInvalid,
}

// BuildDiagram returns a node/edge description of the transition table,
// suitable for an operator-facing debug endpoint.
func BuildDiagram() Diagram {
	var d Diagram
	for _, s := range allStatuses {
		d.Nodes = append(d.Nodes, DiagramNode{ID: string(s), Label: string(s)})
		if signal.IsTerminal(s) {
			d.Terminal = append(d.Terminal, string(s))
		}
	}
	for from, targets := range validTransitions {
		for to := range targets {
			d.Edges = append(d.Edges, DiagramEdge{From: string(from), To: string(to)})
		}
	}
	return d
}
