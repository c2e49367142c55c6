package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// DefaultMaxConsecutiveFailures is the §6 circuit-breaker threshold: a
// target with this many consecutive failures is skipped without an HTTP
// attempt, used when a caller doesn't override it via DispatcherConfig.
// The dispatcher never resets the count of a skipped target.
const DefaultMaxConsecutiveFailures = 10

// DispatcherConfig holds the operator tunables that shape delivery
// behavior, threaded in from internal/config rather than hardcoded.
type DispatcherConfig struct {
	RetryDelays            []time.Duration
	MaxConsecutiveFailures int
	RequestTimeout         time.Duration
}

// DefaultDispatcherConfig returns the §6 defaults: an immediate first
// try, then retries after 1s, 5s, and 30s, a 10s per-attempt timeout,
// and a breaker threshold of 10 consecutive failures.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		RetryDelays:            []time.Duration{0, time.Second, 5 * time.Second, 30 * time.Second},
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		RequestTimeout:         10 * time.Second,
	}
}

// Target is one outbound delivery destination.
type Target struct {
	ID                  string
	URL                 string
	Secret              string
	Headers             map[string]string
	ConsecutiveFailures int
}

// Result records the outcome of a delivery attempt against one target.
type Result struct {
	TargetID   string
	Success    bool
	StatusCode int
	Attempts   int
	Err        error
}

// StatusRecorder persists the circuit-breaker state change after a
// delivery attempt completes.
type StatusRecorder interface {
	RecordDeliverySuccess(ctx context.Context, targetID string, at time.Time) error
	RecordDeliveryFailure(ctx context.Context, targetID string, failures int) error
	LogDelivery(ctx context.Context, targetID, eventID string, statusCode int, success bool, responseSnippet string) error
}

// Dispatcher sends signed webhook payloads to targets with retry,
// circuit breaking, and bounded concurrency.
type Dispatcher struct {
	http     *resty.Client
	sem      chan struct{}
	cfg      DispatcherConfig
	recorder StatusRecorder
	log      zerolog.Logger
}

// NewDispatcher builds a Dispatcher that allows at most maxConcurrent
// in-flight deliveries at once, governed by cfg's retry schedule,
// breaker threshold, and per-attempt timeout.
func NewDispatcher(maxConcurrent int, cfg DispatcherConfig, recorder StatusRecorder, log zerolog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = DefaultDispatcherConfig().RetryDelays
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultDispatcherConfig().RequestTimeout
	}
	return &Dispatcher{
		http:     resty.New().SetTimeout(cfg.RequestTimeout),
		sem:      make(chan struct{}, maxConcurrent),
		cfg:      cfg,
		recorder: recorder,
		log:      log.With().Str("component", "delivery").Logger(),
	}
}

// SendBatch delivers payload to every target concurrently, bounded by
// the dispatcher's semaphore, and returns one Result per target.
func (d *Dispatcher) SendBatch(ctx context.Context, targets []Target, eventID string, payload any) []Result {
	body, err := json.Marshal(payload)
	if err != nil {
		results := make([]Result, len(targets))
		for i, t := range targets {
			results[i] = Result{TargetID: t.ID, Success: false, Err: fmt.Errorf("marshal payload: %w", err)}
		}
		return results
	}

	resultsCh := make(chan Result, len(targets))
	for _, target := range targets {
		target := target
		go func() {
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
			resultsCh <- d.send(ctx, target, eventID, body)
		}()
	}

	results := make([]Result, 0, len(targets))
	for range targets {
		results = append(results, <-resultsCh)
	}
	return results
}

// send delivers one payload to one target with the fixed retry schedule,
// honoring the circuit breaker.
func (d *Dispatcher) send(ctx context.Context, target Target, eventID string, body []byte) Result {
	if target.ConsecutiveFailures >= d.cfg.MaxConsecutiveFailures {
		d.log.Warn().Str("target_id", target.ID).Str("url", target.URL).Msg("circuit breaker open, skipping delivery")
		return Result{TargetID: target.ID, Success: false, Err: fmt.Errorf("circuit breaker open")}
	}

	signature := Sign(body, target.Secret)

	var lastStatus int
	var lastErr error
	attempts := 0

	for _, delay := range d.cfg.RetryDelays {
		attempts++
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{TargetID: target.ID, Success: false, Attempts: attempts, Err: ctx.Err()}
			}
			d.log.Info().Str("target_id", target.ID).Int("attempt", attempts).Dur("delay", delay).Msg("retrying webhook delivery")
		}

		status, err := d.attempt(ctx, target, eventID, body, signature)
		lastStatus, lastErr = status, err

		if err == nil && status < 300 {
			if d.recorder != nil {
				_ = d.recorder.RecordDeliverySuccess(ctx, target.ID, time.Now())
				_ = d.recorder.LogDelivery(ctx, target.ID, eventID, status, true, "")
			}
			return Result{TargetID: target.ID, Success: true, StatusCode: status, Attempts: attempts}
		}
	}

	if d.recorder != nil {
		_ = d.recorder.RecordDeliveryFailure(ctx, target.ID, target.ConsecutiveFailures+1)
		_ = d.recorder.LogDelivery(ctx, target.ID, eventID, lastStatus, false, errString(lastErr))
	}
	d.log.Error().Str("target_id", target.ID).Int("attempts", attempts).Msg("webhook delivery failed after all retries")
	return Result{TargetID: target.ID, Success: false, StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

func (d *Dispatcher) attempt(ctx context.Context, target Target, eventID string, body []byte, signature string) (int, error) {
	req := d.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Idempotency-Key", eventID).
		SetHeader("X-Signature", signature).
		SetBody(body)
	for k, v := range target.Headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Post(target.URL)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
