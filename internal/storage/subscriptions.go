package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/signals-bridge/internal/notify"
)

// InsertSubscription registers a new outbound webhook subscription.
func (s *Store) InsertSubscription(ctx context.Context, sub *notify.Subscription) error {
	eventTypes := strings.Join(sub.EventTypes, ",")
	headers, err := json.Marshal(sub.Headers)
	if err != nil {
		return fmt.Errorf("marshal subscription headers: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, provider_id, url, secret, event_types, headers, is_active, consecutive_failures)
		VALUES (?,?,?,?,?,?,?,?)`,
		sub.ID, sub.ProviderID, sub.URL, sub.Secret, eventTypes, string(headers), sub.Active, sub.ConsecutiveFailures,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// SubscriptionsForProvider implements notify.SubscriptionStore: it
// returns every webhook subscription registered for a provider,
// regardless of active/circuit-breaker state — the caller filters.
func (s *Store) SubscriptionsForProvider(ctx context.Context, providerID string) ([]notify.Subscription, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, provider_id, url, secret, event_types, headers, is_active, consecutive_failures
		FROM webhook_subscriptions WHERE provider_id = ?`, providerID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions for provider %s: %w", providerID, err)
	}
	defer rows.Close()

	var out []notify.Subscription
	for rows.Next() {
		var sub notify.Subscription
		var eventTypes, headersJSON string
		if err := rows.Scan(&sub.ID, &sub.ProviderID, &sub.URL, &sub.Secret, &eventTypes, &headersJSON, &sub.Active, &sub.ConsecutiveFailures); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if eventTypes != "" {
			sub.EventTypes = strings.Split(eventTypes, ",")
		}
		if headersJSON != "" {
			_ = json.Unmarshal([]byte(headersJSON), &sub.Headers)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// RecordDeliverySuccess implements delivery.StatusRecorder: it resets the
// subscription's failure streak and stamps its last delivery time.
func (s *Store) RecordDeliverySuccess(ctx context.Context, subscriptionID string, at time.Time) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		UPDATE webhook_subscriptions SET consecutive_failures = 0, last_delivery_at = ? WHERE id = ?`,
		at, subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("record delivery success for %s: %w", subscriptionID, err)
	}
	return nil
}

// RecordDeliveryFailure implements delivery.StatusRecorder: it persists
// the caller-computed consecutive failure count for the subscription.
func (s *Store) RecordDeliveryFailure(ctx context.Context, subscriptionID string, failures int) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		UPDATE webhook_subscriptions SET consecutive_failures = ? WHERE id = ?`,
		failures, subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("record delivery failure for %s: %w", subscriptionID, err)
	}
	return nil
}

// LogDelivery implements delivery.StatusRecorder: it appends an audit
// row for a single webhook delivery attempt outcome.
func (s *Store) LogDelivery(ctx context.Context, subscriptionID, eventID string, statusCode int, success bool, responseSnippet string) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO delivery_logs (id, webhook_id, event_id, status_code, success, response_snippet)
		VALUES (?,?,?,?,?,?)`,
		"dlv_"+uuid.NewString(), subscriptionID, eventID, statusCode, success, responseSnippet,
	)
	if err != nil {
		return fmt.Errorf("log delivery for %s/%s: %w", subscriptionID, eventID, err)
	}
	return nil
}
