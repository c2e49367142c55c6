// Package outcome computes post-trade analysis for closed and in-flight
// signals: result classification, R-values, price excursions, and
// provider-level aggregate statistics. Every function here is pure.
package outcome

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/aristath/signals-bridge/internal/signal"
)

// Result is the coarse classification of a signal's outcome.
type Result string

const (
	ResultOpen    Result = "OPEN"
	ResultWin     Result = "WIN"
	ResultLoss    Result = "LOSS"
	ResultPartial Result = "PARTIAL"
	ResultClosed  Result = "CLOSED"
)

// Excursion tracks the best and worst price seen while a signal was live.
type Excursion struct {
	MaxFavorable     float64
	MaxAdverse       float64
	FavorableDistance float64
	AdverseDistance   float64
}

// Outcome is the resolved analysis for one signal.
type Outcome struct {
	SignalID        string
	Result          Result
	EntryPrice      float64
	ExitPrice       *float64
	RValue          *float64
	TPHits          []int
	MaxFavorable    float64
	MaxAdverse      float64
	DurationHours   *float64
	ClosedAt        *time.Time
}

var ErrIncompleteSignal = errors.New("signal missing required entry or stop-loss")

// Resolve classifies a signal's outcome from its event history. events
// need not be sorted; Resolve orders by event kind precedence, not time.
func Resolve(sig *signal.Signal, events []signal.Event) (Outcome, error) {
	if sig.Entry == 0 && sig.SL == 0 {
		return Outcome{}, ErrIncompleteSignal
	}

	var (
		entryHitEvent *signal.Event
		slHitEvent    *signal.Event
		closeEvent    *signal.Event
		priceEvents   []signal.Event
		tpHits        []tpHit
	)

	for i := range events {
		ev := events[i]
		switch ev.Kind {
		case signal.EventEntryHit:
			entryHitEvent = &events[i]
		case signal.EventTP1Hit:
			tpHits = append(tpHits, tpHit{level: 1, event: ev})
		case signal.EventTP2Hit:
			tpHits = append(tpHits, tpHit{level: 2, event: ev})
		case signal.EventTP3Hit:
			tpHits = append(tpHits, tpHit{level: 3, event: ev})
		case signal.EventSLHit:
			slHitEvent = &events[i]
		case signal.EventManualClose:
			closeEvent = &events[i]
		case signal.EventPriceUpdate:
			priceEvents = append(priceEvents, ev)
		}
	}
	sort.Slice(tpHits, func(i, j int) bool { return tpHits[i].level < tpHits[j].level })

	var exitPrice *float64
	result := ResultOpen
	var tpLevels []int

	switch {
	case slHitEvent != nil:
		exitPrice = firstNonNil(slHitEvent.Price, &sig.SL)
		if len(tpHits) > 0 {
			result = ResultPartial
			tpLevels = levelsOf(tpHits)
		} else {
			result = ResultLoss
		}
	case len(tpHits) > 0:
		result = ResultWin
		tpLevels = levelsOf(tpHits)
		last := tpHits[len(tpHits)-1]
		exitPrice = firstNonNil(last.event.Price, tpLevelPrice(sig, last.level))
	case closeEvent != nil:
		exitPrice = closeEvent.Price
		result = ResultClosed
	}

	if exitPrice == nil && len(priceEvents) > 0 {
		exitPrice = priceEvents[len(priceEvents)-1].Price
	}

	var rValue *float64
	if exitPrice != nil {
		if r := calculateRValue(sig, *exitPrice); r != nil {
			rValue = r
		}
	}

	excursion := calculateExcursions(sig, priceEvents)

	var durationHours *float64
	if entryHitEvent != nil {
		switch {
		case closeEvent != nil:
			h := closeEvent.At.Sub(entryHitEvent.At).Hours()
			durationHours = &h
		case slHitEvent != nil || len(tpHits) > 0:
			closeTime := entryHitEvent.At
			have := false
			if slHitEvent != nil {
				closeTime = slHitEvent.At
				have = true
			}
			if len(tpHits) > 0 {
				firstTP := tpHits[0].event.At
				if !have || firstTP.Before(closeTime) {
					closeTime = firstTP
					have = true
				}
			}
			if have {
				h := closeTime.Sub(entryHitEvent.At).Hours()
				durationHours = &h
			}
		}
	}

	var closedAt *time.Time
	switch {
	case closeEvent != nil:
		closedAt = &closeEvent.At
	case slHitEvent != nil:
		closedAt = &slHitEvent.At
	}

	return Outcome{
		SignalID:     sig.ID,
		Result:       result,
		EntryPrice:   sig.Entry,
		ExitPrice:    exitPrice,
		RValue:       rValue,
		TPHits:       tpLevels,
		MaxFavorable: excursion.FavorableDistance,
		MaxAdverse:   excursion.AdverseDistance,
		DurationHours: durationHours,
		ClosedAt:     closedAt,
	}, nil
}

type tpHit struct {
	level int
	event signal.Event
}

func levelsOf(hits []tpHit) []int {
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.level
	}
	return out
}

func tpLevelPrice(sig *signal.Signal, level int) *float64 {
	switch level {
	case 1:
		return &sig.TP1
	case 2:
		return sig.TP2
	case 3:
		return sig.TP3
	default:
		return nil
	}
}

func firstNonNil(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

// calculateRValue returns profit/loss expressed in units of risk:
// LONG: (exit - entry) / risk; SHORT: (entry - exit) / risk. Nil if
// risk distance is zero or unknown.
func calculateRValue(sig *signal.Signal, exitPrice float64) *float64 {
	if sig.RiskDistance == 0 {
		return nil
	}
	var pnl float64
	if sig.Direction == signal.Long {
		pnl = exitPrice - sig.Entry
	} else {
		pnl = sig.Entry - exitPrice
	}
	r := round4(pnl / sig.RiskDistance)
	return &r
}

// calculateExcursions finds the best and worst price reached while the
// signal was live, from its PRICE_UPDATE event history.
func calculateExcursions(sig *signal.Signal, priceEvents []signal.Event) Excursion {
	var prices []float64
	for _, ev := range priceEvents {
		if ev.Price != nil {
			prices = append(prices, *ev.Price)
		}
	}
	if len(prices) == 0 {
		return Excursion{}
	}

	highest, lowest := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p > highest {
			highest = p
		}
		if p < lowest {
			lowest = p
		}
	}

	if sig.Direction == signal.Long {
		return Excursion{
			MaxFavorable: highest, MaxAdverse: lowest,
			FavorableDistance: highest - sig.Entry,
			AdverseDistance:   sig.Entry - lowest,
		}
	}
	return Excursion{
		MaxFavorable: lowest, MaxAdverse: highest,
		FavorableDistance: sig.Entry - lowest,
		AdverseDistance:   highest - sig.Entry,
	}
}

// ProviderStats aggregates a batch of outcomes into provider-level
// performance figures.
type ProviderStats struct {
	ProviderID       string
	TotalSignals     int
	Wins             int
	Losses           int
	Partials         int
	WinRate          float64
	TP1HitRate       float64
	TP2HitRate       float64
	TP3HitRate       float64
	AvgR             float64
	TotalR           float64
	BestR            float64
	WorstR           float64
	ProfitFactor     float64
	Expectancy       float64
	AvgDurationHours float64
	CalculatedAt     time.Time
}

// AggregateProviderStats rolls up a batch of outcomes into ProviderStats.
// now is injected rather than read from the clock so the result is
// reproducible in tests.
func AggregateProviderStats(outcomes []Outcome, providerID string, now time.Time) ProviderStats {
	stats := ProviderStats{ProviderID: providerID, CalculatedAt: now}
	if len(outcomes) == 0 {
		return stats
	}

	var rValues, winRValues, lossRValues, durations []float64
	var tp1, tp2, tp3 int

	for _, o := range outcomes {
		switch o.Result {
		case ResultWin:
			stats.Wins++
		case ResultLoss:
			stats.Losses++
		case ResultPartial:
			stats.Partials++
		}
		if o.RValue != nil {
			rValues = append(rValues, *o.RValue)
			switch o.Result {
			case ResultWin:
				winRValues = append(winRValues, *o.RValue)
			case ResultLoss:
				lossRValues = append(lossRValues, *o.RValue)
			}
		}
		if o.DurationHours != nil {
			durations = append(durations, *o.DurationHours)
		}
		for _, lvl := range o.TPHits {
			switch lvl {
			case 1:
				tp1++
			case 2:
				tp2++
			case 3:
				tp3++
			}
		}
	}

	stats.TotalSignals = len(outcomes)
	stats.WinRate = round2(pct(stats.Wins, stats.TotalSignals))
	stats.TP1HitRate = round2(pct(tp1, stats.TotalSignals))
	stats.TP2HitRate = round2(pct(tp2, stats.TotalSignals))
	stats.TP3HitRate = round2(pct(tp3, stats.TotalSignals))

	stats.TotalR = round4(sumOf(rValues))
	if len(rValues) > 0 {
		stats.AvgR = round4(stats.TotalR / float64(len(rValues)))
		stats.BestR = round4(maxOf(rValues))
		stats.WorstR = round4(minOf(rValues))
	}
	stats.Expectancy = stats.AvgR

	winSum := sumOf(winRValues)
	lossSum := math.Abs(sumOf(lossRValues))
	if winSum > 0 || lossSum > 0 {
		// A near-empty loss sum would otherwise blow profit factor up
		// toward infinity; floor the denominator instead of
		// special-casing "no losses" to a flat 1.0.
		denom := lossSum
		if denom < 0.01 {
			denom = 0.01
		}
		stats.ProfitFactor = round4(winSum / denom)
	} else {
		stats.ProfitFactor = 0.0
	}

	if len(durations) > 0 {
		stats.AvgDurationHours = round2(sumOf(durations) / float64(len(durations)))
	}

	return stats
}

// EquityPoint is one sample on a simulated equity curve.
type EquityPoint struct {
	ClosedAt     *time.Time
	CumulativeR  float64
	Equity       float64
	RValue       *float64
	Result       Result
}

// BuildEquityCurve simulates account growth assuming a fixed 1% risk per
// trade, walking outcomes in the order given (callers should pre-sort by
// close time).
func BuildEquityCurve(outcomes []Outcome, startingEquity float64) []EquityPoint {
	if len(outcomes) == 0 {
		return nil
	}
	riskPerTrade := startingEquity * 0.01
	var cumulativeR float64
	curve := make([]EquityPoint, 0, len(outcomes))
	for _, o := range outcomes {
		if o.RValue != nil {
			cumulativeR += *o.RValue
		}
		equity := startingEquity + cumulativeR*riskPerTrade
		curve = append(curve, EquityPoint{
			ClosedAt:    o.ClosedAt,
			CumulativeR: round4(cumulativeR),
			Equity:      round2(equity),
			RValue:      o.RValue,
			Result:      o.Result,
		})
	}
	return curve
}

// DrawdownMetrics summarizes peak-to-trough equity decline.
type DrawdownMetrics struct {
	MaxDrawdown     float64
	MaxDrawdownPct  float64
	CurrentDrawdown float64
	PeakEquity      float64
}

// CalculateDrawdown derives drawdown metrics from a simulated equity curve.
func CalculateDrawdown(outcomes []Outcome, startingEquity float64) DrawdownMetrics {
	curve := BuildEquityCurve(outcomes, startingEquity)
	if len(curve) == 0 {
		return DrawdownMetrics{}
	}

	peak := startingEquity
	var maxDrawdown, maxDrawdownPct float64
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		drawdown := peak - point.Equity
		var drawdownPct float64
		if peak > 0 {
			drawdownPct = drawdown / peak * 100
		}
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
			maxDrawdownPct = drawdownPct
		}
	}

	current := curve[len(curve)-1].Equity
	return DrawdownMetrics{
		MaxDrawdown:     round2(maxDrawdown),
		MaxDrawdownPct:  round2(maxDrawdownPct),
		CurrentDrawdown: round2(peak - current),
		PeakEquity:      round2(peak),
	}
}

// ConsistencyScore scores 0-100 based on the coefficient of variation of
// a set of R-values. Lower variance relative to the mean scores higher.
func ConsistencyScore(rValues []float64) float64 {
	if len(rValues) < 2 {
		return 0.0
	}
	avg := sumOf(rValues) / float64(len(rValues))
	if avg == 0 {
		return 0.0
	}
	sd := stddev(rValues, avg)
	cv := sd / math.Abs(avg)
	score := 100 - cv*25
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return round1(score)
}

func stddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func sumOf(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func maxOf(values []float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func minOf(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func pct(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
