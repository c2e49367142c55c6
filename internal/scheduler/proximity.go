package scheduler

import (
	"time"

	"github.com/aristath/signals-bridge/internal/signal"
)

// Zone buckets how close the current price is to the nearest TP/SL level.
type Zone string

const (
	ZoneClose Zone = "CLOSE"
	ZoneMid   Zone = "MID"
	ZoneFar   Zone = "FAR"
)

// ProximityConfig holds the closed set of polling tunables from §4.6.
type ProximityConfig struct {
	CloseRatio      float64 // <= this fraction of range => CLOSE
	MidRatio        float64 // <= this fraction of range => MID
	IntervalByZone  map[Zone]time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
}

// DefaultProximityConfig returns the §4.6 defaults: 10%/30% zone
// thresholds, 5s/15s/60s poll intervals, clamped to [1s, 300s].
func DefaultProximityConfig() ProximityConfig {
	return ProximityConfig{
		CloseRatio: 0.10,
		MidRatio:   0.30,
		IntervalByZone: map[Zone]time.Duration{
			ZoneClose: 5 * time.Second,
			ZoneMid:   15 * time.Second,
			ZoneFar:   60 * time.Second,
		},
		MinInterval: 1 * time.Second,
		MaxInterval: 300 * time.Second,
	}
}

// Proximity is the result of a proximity calculation against a signal's
// levels.
type Proximity struct {
	Zone          Zone
	DistanceRatio float64
	NearestLevel  string
}

// CalculateProximity finds the nearest SL/TP level to currentPrice and
// classifies the distance as a fraction of the TP1-to-SL range.
func CalculateProximity(cfg ProximityConfig, sig *signal.Signal, currentPrice float64) Proximity {
	levels := map[string]float64{"SL": sig.SL}
	if sig.TP1 != 0 {
		levels["TP1"] = sig.TP1
	}
	if sig.TP2 != nil {
		levels["TP2"] = *sig.TP2
	}
	if sig.TP3 != nil {
		levels["TP3"] = *sig.TP3
	}

	minDistance := -1.0
	nearest := ""
	for name, level := range levels {
		d := abs(currentPrice - level)
		if minDistance < 0 || d < minDistance {
			minDistance = d
			nearest = name
		}
	}

	totalRange := abs(sig.TP1 - sig.SL)
	if totalRange == 0 {
		return Proximity{Zone: ZoneFar, DistanceRatio: 1.0, NearestLevel: nearest}
	}

	ratio := minDistance / totalRange
	zone := ZoneFar
	switch {
	case ratio <= cfg.CloseRatio:
		zone = ZoneClose
	case ratio <= cfg.MidRatio:
		zone = ZoneMid
	}

	return Proximity{Zone: zone, DistanceRatio: ratio, NearestLevel: nearest}
}

// NextPoll computes the zone for the current price and the absolute
// time the signal should next be polled, clamped to [MinInterval,
// MaxInterval].
func NextPoll(cfg ProximityConfig, sig *signal.Signal, currentPrice float64, now time.Time) (Zone, time.Time) {
	prox := CalculateProximity(cfg, sig, currentPrice)
	interval, ok := cfg.IntervalByZone[prox.Zone]
	if !ok {
		interval = cfg.MaxInterval
	}
	if interval < cfg.MinInterval {
		interval = cfg.MinInterval
	}
	if interval > cfg.MaxInterval {
		interval = cfg.MaxInterval
	}
	return prox.Zone, now.Add(interval)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
