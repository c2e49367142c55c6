package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signals-bridge/internal/delivery"
	"github.com/aristath/signals-bridge/internal/signal"
)

// Subscription is an outbound webhook configuration: a provider's
// endpoint subscribed to a set of event types.
type Subscription struct {
	ID                  string
	ProviderID          string
	URL                 string
	Secret              string
	EventTypes          []string
	Headers             map[string]string
	Active              bool
	ConsecutiveFailures int
}

// subscribesTo reports whether this subscription wants eventKind.
func (s Subscription) subscribesTo(eventKind signal.EventKind) bool {
	for _, et := range s.EventTypes {
		if et == string(eventKind) {
			return true
		}
	}
	return false
}

// SubscriptionStore looks up active subscriptions for a provider.
type SubscriptionStore interface {
	SubscriptionsForProvider(ctx context.Context, providerID string) ([]Subscription, error)
}

// Router matches signal events to subscriptions and dispatches them.
type Router struct {
	subscriptions SubscriptionStore
	dispatcher    *delivery.Dispatcher
	log           zerolog.Logger
}

// NewRouter builds a Router wired to its subscription store and dispatcher.
func NewRouter(subscriptions SubscriptionStore, dispatcher *delivery.Dispatcher, log zerolog.Logger) *Router {
	return &Router{
		subscriptions: subscriptions,
		dispatcher:    dispatcher,
		log:           log.With().Str("component", "notify.router").Logger(),
	}
}

// NotifyHit implements monitor.HitNotifier: it resolves matching
// subscriptions for the signal's provider and fans the event out.
func (r *Router) NotifyHit(ctx context.Context, sig *signal.Signal, ev *signal.Event) {
	r.Route(ctx, sig, ev.Kind, ev.Price, ev.At)
}

// Route finds every active subscription for the signal's provider that
// wants this event type and dispatches the payload to all of them.
func (r *Router) Route(ctx context.Context, sig *signal.Signal, eventKind signal.EventKind, price *float64, at time.Time) {
	subs, err := r.subscriptions.SubscriptionsForProvider(ctx, sig.ProviderID)
	if err != nil {
		r.log.Error().Err(err).Str("provider_id", sig.ProviderID).Msg("failed to load subscriptions")
		return
	}

	// The circuit-breaker threshold itself is enforced once, inside the
	// dispatcher, which knows its own configured limit; the router only
	// filters by subscription state and event-type match.
	var targets []delivery.Target
	for _, sub := range subs {
		if !sub.Active || !sub.subscribesTo(eventKind) {
			continue
		}
		targets = append(targets, delivery.Target{
			ID: sub.ID, URL: sub.URL, Secret: sub.Secret,
			Headers: sub.Headers, ConsecutiveFailures: sub.ConsecutiveFailures,
		})
	}

	if len(targets) == 0 {
		r.log.Debug().Str("signal_id", sig.ID).Str("event", string(eventKind)).Msg("no matching subscriptions")
		return
	}

	payload := BuildPayload(sig, eventKind, price, at)
	r.log.Info().Str("signal_id", sig.ID).Str("event", string(eventKind)).Int("targets", len(targets)).Msg("dispatching webhook notifications")

	results := r.dispatcher.SendBatch(ctx, targets, payload.EventID, payload)
	for _, res := range results {
		if res.Success {
			r.log.Info().Str("target_id", res.TargetID).Str("event_id", payload.EventID).Msg("webhook delivered")
		} else {
			r.log.Warn().Str("target_id", res.TargetID).Str("event_id", payload.EventID).Err(res.Err).Msg("webhook delivery failed")
		}
	}
}
