package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ValidatorConfig holds the closed set of validator tunables from §6/§4.2.
type ValidatorConfig struct {
	MinRRRatio         float64
	WarnRRRatio        float64
	MaxLatency         time.Duration
	WarnLatency        time.Duration
	RiskCeilingByClass map[AssetClass]float64
	PrecisionByClass   map[AssetClass]int
	DuplicateBandPct   float64 // e.g. 0.001 for 0.1%
}

// DefaultValidatorConfig returns the §4.2 defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinRRRatio:  0.5,
		WarnRRRatio: 1.0,
		MaxLatency:  300 * time.Second,
		WarnLatency: 120 * time.Second,
		RiskCeilingByClass: map[AssetClass]float64{
			Futures: 0.03,
			Forex:   0.02,
			Crypto:  0.15,
			Stocks:  0.05,
			Other:   0.10,
		},
		PrecisionByClass: map[AssetClass]int{
			Futures: 2,
			Forex:   5,
			Crypto:  8,
			Stocks:  2,
		},
		DuplicateBandPct: 0.001,
	}
}

// ValidationResult is the outcome of running all validator checks.
type ValidationResult struct {
	Errors   []string
	Warnings []string
	Score    int
}

// IsValid reports whether the signal is accepted (no errors).
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validate runs all §4.2 checks against sig and returns a ValidationResult.
// recent is the recent-signals window used for duplicate detection. Validate
// is pure and has no side effects.
func Validate(sig *Signal, cfg ValidatorConfig, recent []*Signal, now time.Time) ValidationResult {
	var result ValidationResult

	// 1. Ordering
	if err := sig.CheckOrdering(); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	// 2. RR ratio
	if sig.RRRatio < cfg.MinRRRatio {
		result.Errors = append(result.Errors, fmt.Sprintf("rr_ratio %.4f below minimum %.4f", sig.RRRatio, cfg.MinRRRatio))
	} else if sig.RRRatio < cfg.WarnRRRatio {
		result.Warnings = append(result.Warnings, fmt.Sprintf("rr_ratio %.4f below warn threshold %.4f", sig.RRRatio, cfg.WarnRRRatio))
	}
	if sig.RRRatio > 10 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("rr_ratio %.4f unusually high (likely data-entry error)", sig.RRRatio))
	}

	// 3. Risk distance
	if sig.Entry != 0 {
		riskPct := sig.RiskDistance / sig.Entry
		ceiling, ok := cfg.RiskCeilingByClass[sig.AssetClass]
		if !ok {
			ceiling = cfg.RiskCeilingByClass[Other]
		}
		if riskPct > ceiling {
			result.Errors = append(result.Errors, fmt.Sprintf("risk %.4f%% exceeds %s ceiling %.4f%%", riskPct*100, sig.AssetClass, ceiling*100))
		} else if riskPct < 0.001 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("risk %.4f%% is noise-sensitive (< 0.1%%)", riskPct*100))
		}
	}

	// 4. Latency
	age := now.Sub(sig.EntryTime)
	if age > cfg.MaxLatency {
		result.Errors = append(result.Errors, fmt.Sprintf("signal age %s exceeds max latency %s", age, cfg.MaxLatency))
	} else if age > cfg.WarnLatency {
		result.Warnings = append(result.Warnings, fmt.Sprintf("signal age %s exceeds warn latency %s", age, cfg.WarnLatency))
	}

	// 5. Precision
	precisionCeiling, ok := cfg.PrecisionByClass[sig.AssetClass]
	if ok {
		for _, level := range sig.Levels() {
			if decimalPlaces(level) > precisionCeiling {
				result.Warnings = append(result.Warnings, fmt.Sprintf("level %v exceeds %s precision ceiling of %d decimal places", level, sig.AssetClass, precisionCeiling))
				break
			}
		}
	}

	// 6. Duplicate detection
	if dup := findDuplicate(sig, recent, cfg.DuplicateBandPct); dup != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate of existing signal %s (entry drift within %.2f%%)", dup.ID, cfg.DuplicateBandPct*100))
	}

	result.Score = confidenceScore(len(result.Errors), len(result.Warnings))
	return result
}

func confidenceScore(errors, warnings int) int {
	score := 100 - 15*errors - 5*warnings
	if score < 0 {
		score = 0
	}
	return score
}

// decimalPlaces counts the significant fractional digits of f. It goes
// through shopspring/decimal rather than float64 arithmetic because a
// binary float's nearest representation of a price like 1900.1 can carry
// spurious trailing digits that would trip the precision gate on values
// that are, as sent by the provider, perfectly in bounds.
func decimalPlaces(f float64) int {
	d := decimal.NewFromFloat(f)
	return int(-d.Exponent())
}

func findDuplicate(sig *Signal, recent []*Signal, bandPct float64) *Signal {
	for _, other := range recent {
		if other == nil || other.ID == sig.ID {
			continue
		}
		if other.Symbol != sig.Symbol || other.Direction != sig.Direction {
			continue
		}
		band := sig.Entry * bandPct
		if math.Abs(other.Entry-sig.Entry) <= band {
			return other
		}
	}
	return nil
}
