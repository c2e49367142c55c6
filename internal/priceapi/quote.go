// Package priceapi fetches and caches live price quotes from external
// market-data sources, routing by asset class the way the upstream
// signal engine expects.
package priceapi

import (
	"time"

	"github.com/aristath/signals-bridge/internal/signal"
)

// Quote is a single price observation for a symbol.
type Quote struct {
	Symbol     string
	Price      float64
	Timestamp  time.Time
	AssetClass signal.AssetClass
	Source     string
}
