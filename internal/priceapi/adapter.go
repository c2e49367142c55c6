package priceapi

import (
	"context"
	"time"

	"github.com/aristath/signals-bridge/internal/signal"
)

// Adapter fetches live quotes for symbols of a given asset class.
type Adapter interface {
	Fetch(ctx context.Context, symbol string) (Quote, error)
	FetchBatch(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// Manager routes symbols to the appropriate source, applies the shared
// cache, and falls back across sources the way the upstream price
// manager does: cache, then class-specific REST source.
type Manager struct {
	cache *Cache
	rest  *RESTAdapter
}

// NewManager builds a Manager with the given cache TTL.
func NewManager(cacheTTLSeconds int, rest *RESTAdapter) *Manager {
	return &Manager{cache: NewCache(time.Duration(cacheTTLSeconds) * time.Second), rest: rest}
}

// GetPrice returns the best available quote for symbol, checking the
// cache first and falling back to the REST adapter grouped by asset class.
func (m *Manager) GetPrice(ctx context.Context, symbol string, class signal.AssetClass) (Quote, error) {
	if q, ok := m.cache.Get(symbol); ok {
		return q, nil
	}

	q, err := m.rest.fetchForClass(ctx, symbol, class)
	if err != nil {
		return Quote{}, err
	}
	m.cache.Set(symbol, q)
	return q, nil
}

// GetPricesBatch groups symbols by asset class and fetches each group
// concurrently, consulting the cache first.
func (m *Manager) GetPricesBatch(ctx context.Context, symbols []string, classOf func(string) signal.AssetClass) map[string]Quote {
	results := make(map[string]Quote, len(symbols))
	var toFetch []string
	for _, sym := range symbols {
		if q, ok := m.cache.Get(sym); ok {
			results[sym] = q
			continue
		}
		toFetch = append(toFetch, sym)
	}

	grouped := make(map[signal.AssetClass][]string)
	for _, sym := range toFetch {
		class := classOf(sym)
		grouped[class] = append(grouped[class], sym)
	}

	type fetchResult struct {
		symbol string
		quote  Quote
		err    error
	}
	resultsCh := make(chan fetchResult, len(toFetch))
	for class, syms := range grouped {
		class, syms := class, syms
		go func() {
			for _, sym := range syms {
				q, err := m.rest.fetchForClass(ctx, sym, class)
				resultsCh <- fetchResult{symbol: sym, quote: q, err: err}
			}
		}()
	}
	for range toFetch {
		r := <-resultsCh
		if r.err == nil {
			m.cache.Set(r.symbol, r.quote)
			results[r.symbol] = r.quote
		}
	}
	return results
}
