package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/signals-bridge/internal/priceapi"
	"github.com/aristath/signals-bridge/internal/scheduler"
	"github.com/aristath/signals-bridge/internal/signal"
	"github.com/aristath/signals-bridge/internal/statemachine"
)

// Store is the persistence surface the monitor needs. Implementations
// live in internal/storage; the monitor depends only on this interface.
type Store interface {
	SignalsDueForPoll(ctx context.Context, now time.Time, limit int) ([]*signal.Signal, error)
	UpdateSignal(ctx context.Context, sig *signal.Signal) error
	InsertEvent(ctx context.Context, ev *signal.Event) error
}

// PriceSource returns current quotes for a batch of symbols, grouped
// however the implementation sees fit.
type PriceSource interface {
	GetPricesBatch(ctx context.Context, symbols []string, classOf func(string) signal.AssetClass) map[string]priceapi.Quote
}

// HitNotifier is invoked whenever a hit is detected and the state
// machine accepted the transition, so notification dispatch can be
// wired in without the monitor importing the notify package directly.
type HitNotifier interface {
	NotifyHit(ctx context.Context, sig *signal.Signal, ev *signal.Event)
}

// Stats tracks cumulative monitor activity for an operator-facing
// health endpoint.
type Stats struct {
	Cycles         int64
	SignalsChecked int64
	HitsDetected   int64
	Errors         int64
	LastCycleAt    time.Time
}

// Monitor runs the due-signal scan / grouped fetch / hit detection loop.
type Monitor struct {
	store     Store
	prices    PriceSource
	notifier  HitNotifier
	proxCfg   scheduler.ProximityConfig
	batchSize int
	log       zerolog.Logger
	stats     Stats
}

// New builds a Monitor wired to its store, price source, and notifier.
// proxCfg drives the proximity-zone poll-interval calculation and
// batchSize bounds how many due signals a single cycle pulls.
func New(store Store, prices PriceSource, notifier HitNotifier, proxCfg scheduler.ProximityConfig, batchSize int, log zerolog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		prices:    prices,
		notifier:  notifier,
		proxCfg:   proxCfg,
		batchSize: batchSize,
		log:       log.With().Str("component", "monitor").Logger(),
	}
}

// Stats returns a snapshot of cumulative run statistics.
func (m *Monitor) Stats() Stats { return m.stats }

// RunCycle executes one monitoring pass: fetch due signals, group by
// symbol, batch-fetch prices, detect hits, and apply transitions.
func (m *Monitor) RunCycle(ctx context.Context, now time.Time) error {
	due, err := m.store.SignalsDueForPoll(ctx, now, m.batchSize)
	if err != nil {
		m.stats.Errors++
		return err
	}
	if len(due) == 0 {
		return nil
	}

	bySymbol := make(map[string][]*signal.Signal)
	for _, sig := range due {
		bySymbol[sig.Symbol] = append(bySymbol[sig.Symbol], sig)
	}

	symbols := make([]string, 0, len(bySymbol))
	classOf := make(map[string]signal.AssetClass, len(bySymbol))
	for sym, sigs := range bySymbol {
		symbols = append(symbols, sym)
		classOf[sym] = sigs[0].AssetClass
	}

	quotes := m.prices.GetPricesBatch(ctx, symbols, func(sym string) signal.AssetClass { return classOf[sym] })

	m.stats.Cycles++
	m.stats.LastCycleAt = now

	for sym, sigs := range bySymbol {
		quote, ok := quotes[sym]
		if !ok {
			m.log.Debug().Str("symbol", sym).Int("count", len(sigs)).Msg("no price available, skipping signals")
			continue
		}
		for _, sig := range sigs {
			m.stats.SignalsChecked++
			if err := m.checkSignal(ctx, sig, quote.Price, now); err != nil {
				m.stats.Errors++
				m.log.Error().Err(err).Str("signal_id", sig.ID).Msg("check signal failed")
			}
		}
	}

	return nil
}

func (m *Monitor) checkSignal(ctx context.Context, sig *signal.Signal, currentPrice float64, now time.Time) error {
	sig.LastPrice = &currentPrice
	sig.LastPriceAt = &now

	eventKind, hit := DetectEvent(sig, currentPrice)
	if hit {
		m.stats.HitsDetected++
		if err := m.processHit(ctx, sig, eventKind, currentPrice, now); err != nil {
			return err
		}
	}

	_, nextAt := scheduler.NextPoll(m.proxCfg, sig, currentPrice, now)
	sig.NextPollAt = nextAt

	return m.store.UpdateSignal(ctx, sig)
}

func (m *Monitor) processHit(ctx context.Context, sig *signal.Signal, eventKind signal.EventKind, hitPrice float64, now time.Time) error {
	result := statemachine.Apply(sig.Status, eventKind)
	if !result.DidTransition {
		m.log.Warn().
			Str("signal_id", sig.ID).
			Str("from_status", string(sig.Status)).
			Str("event", string(eventKind)).
			Msg("invalid transition, dropping hit")
		return nil
	}

	// The feed tick that triggered the hit may have overshot the level
	// (a gap, a fast candle); the event and any terminal exit are
	// recorded against the level itself, not the raw observed price.
	resolvedPrice := LevelForEvent(sig, eventKind, hitPrice)

	m.log.Info().
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Str("event", string(eventKind)).
		Float64("observed_price", hitPrice).
		Float64("resolved_price", resolvedPrice).
		Str("from", string(sig.Status)).
		Str("to", string(result.NewStatus)).
		Msg("hit detected")

	ev := &signal.Event{
		ID: uuid.NewString(), SignalID: sig.ID, Kind: eventKind,
		Price: &resolvedPrice, Source: signal.SourcePolling, At: now,
		Metadata: map[string]any{"detected_by": "price_monitor"},
	}
	if err := m.store.InsertEvent(ctx, ev); err != nil {
		return err
	}

	sig.Status = result.NewStatus

	if eventKind == signal.EventEntryHit {
		sig.ActivatedAt = &now
	}

	if result.IsTerminal {
		sig.ClosedAt = &now
		sig.CloseReason = statemachine.CloseReason(result.NewStatus)
		sig.ExitPrice = &resolvedPrice
		if sig.RiskDistance > 0 {
			sig.RValue = floatPtr(signal.ComputeRValue(sig.Direction, sig.Entry, sig.RiskDistance, resolvedPrice))
		}
	}

	m.updateExcursion(sig, hitPrice)

	if m.notifier != nil {
		m.notifier.NotifyHit(ctx, sig, ev)
	}

	return nil
}

func (m *Monitor) updateExcursion(sig *signal.Signal, price float64) {
	isLong := sig.Direction == signal.Long
	if isLong {
		if sig.MaxFavorable == 0 || price > sig.MaxFavorable {
			sig.MaxFavorable = price
		}
		if sig.MaxAdverse == 0 || price < sig.MaxAdverse {
			sig.MaxAdverse = price
		}
	} else {
		if sig.MaxFavorable == 0 || price < sig.MaxFavorable {
			sig.MaxFavorable = price
		}
		if sig.MaxAdverse == 0 || price > sig.MaxAdverse {
			sig.MaxAdverse = price
		}
	}
}

func floatPtr(f float64) *float64 { return &f }

// Job adapts Monitor to scheduler.Job so it can be cron-scheduled
// alongside the rest of the application's background work.
type Job struct {
	monitor *Monitor
}

// NewJob wraps monitor for scheduling.
func NewJob(monitor *Monitor) *Job {
	return &Job{monitor: monitor}
}

// Name implements scheduler.Job.
func (j *Job) Name() string { return "monitor" }

// Run implements scheduler.Job: executes one monitoring cycle.
func (j *Job) Run() error {
	return j.monitor.RunCycle(context.Background(), time.Now())
}
