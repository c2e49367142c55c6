package priceapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/signals-bridge/internal/signal"
)

// RESTAdapterConfig carries the optional TwelveData and Alpha Vantage API
// keys. Binance and Yahoo need no key, so they have no field here.
type RESTAdapterConfig struct {
	TwelveDataAPIKey   string
	AlphaVantageAPIKey string
}

// RESTAdapter fetches quotes over plain HTTP, routed by asset class:
// crypto from Binance, forex from TwelveData with Alpha Vantage
// fallback, futures from Yahoo Finance.
type RESTAdapter struct {
	http   *resty.Client
	limits *RateLimiter
	cfg    RESTAdapterConfig
	log    zerolog.Logger
}

// NewRESTAdapter builds a REST adapter with sane retry/timeout defaults.
func NewRESTAdapter(cfg RESTAdapterConfig, log zerolog.Logger) *RESTAdapter {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(300*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &RESTAdapter{
		http:   client,
		limits: NewRateLimiter(),
		cfg:    cfg,
		log:    log.With().Str("component", "priceapi.rest").Logger(),
	}
}

// Fetch implements Adapter by auto-detecting asset class from the
// symbol shape; callers who already know the class should prefer
// fetchForClass via Manager.GetPrice instead.
func (a *RESTAdapter) Fetch(ctx context.Context, symbol string) (Quote, error) {
	return a.AnyPrice(ctx, symbol)
}

// FetchBatch implements Adapter, fetching each symbol serially. Grouped,
// concurrent fetches by asset class are available through Manager.
func (a *RESTAdapter) FetchBatch(ctx context.Context, symbols []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		q, err := a.AnyPrice(ctx, sym)
		if err != nil {
			a.log.Warn().Err(err).Str("symbol", sym).Msg("batch fetch failed for symbol")
			continue
		}
		out[sym] = q
	}
	return out, nil
}

func (a *RESTAdapter) fetchForClass(ctx context.Context, symbol string, class signal.AssetClass) (Quote, error) {
	switch class {
	case signal.Crypto:
		return a.CryptoPrice(ctx, symbol)
	case signal.Forex:
		return a.ForexPrice(ctx, symbol)
	case signal.Futures:
		return a.FuturesPrice(ctx, symbol)
	default:
		return a.AnyPrice(ctx, symbol)
	}
}

// CryptoPrice fetches a spot price from Binance's public REST ticker.
func (a *RESTAdapter) CryptoPrice(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(symbol)
	if err := a.limits.Wait(ctx, "binance"); err != nil {
		return Quote{}, err
	}

	var body struct {
		Price string `json:"price"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&body).
		Get("https://api.binance.com/api/v3/ticker/price")
	if err != nil {
		return Quote{}, fmt.Errorf("binance request for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return Quote{}, fmt.Errorf("binance returned status %d for %s", resp.StatusCode(), symbol)
	}

	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil || price <= 0 {
		return Quote{}, fmt.Errorf("invalid binance price %q for %s", body.Price, symbol)
	}

	return Quote{Symbol: symbol, Price: price, Timestamp: time.Now(), AssetClass: signal.Crypto, Source: "binance_rest"}, nil
}

// ForexPrice fetches a forex rate from TwelveData, falling back to
// Alpha Vantage when no TwelveData key is configured or it errors.
func (a *RESTAdapter) ForexPrice(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(symbol)

	if a.cfg.TwelveDataAPIKey != "" {
		if q, err := a.twelveDataForex(ctx, symbol); err == nil {
			return q, nil
		} else {
			a.log.Warn().Err(err).Str("symbol", symbol).Msg("twelvedata forex fetch failed, trying alpha vantage")
		}
	}

	return a.alphaVantageForex(ctx, symbol)
}

func (a *RESTAdapter) twelveDataForex(ctx context.Context, symbol string) (Quote, error) {
	if err := a.limits.Wait(ctx, "twelvedata"); err != nil {
		return Quote{}, err
	}

	formatted := formatForexSymbol(symbol)
	var body struct {
		Price string `json:"price"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": formatted, "apikey": a.cfg.TwelveDataAPIKey}).
		SetResult(&body).
		Get("https://api.twelvedata.com/price")
	if err != nil {
		return Quote{}, fmt.Errorf("twelvedata request for %s: %w", symbol, err)
	}
	if resp.IsError() || body.Price == "" {
		return Quote{}, fmt.Errorf("twelvedata returned no price for %s", symbol)
	}

	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil || price <= 0 {
		return Quote{}, fmt.Errorf("invalid twelvedata price %q for %s", body.Price, symbol)
	}

	return Quote{Symbol: symbol, Price: price, Timestamp: time.Now(), AssetClass: signal.Forex, Source: "twelvedata"}, nil
}

func (a *RESTAdapter) alphaVantageForex(ctx context.Context, symbol string) (Quote, error) {
	if a.cfg.AlphaVantageAPIKey == "" {
		return Quote{}, fmt.Errorf("alpha vantage not configured for %s", symbol)
	}
	if err := a.limits.Wait(ctx, "alphavantage"); err != nil {
		return Quote{}, err
	}

	from, to := symbol, "USD"
	if len(symbol) >= 6 {
		from, to = symbol[:3], symbol[3:6]
	}

	var body struct {
		Rate struct {
			ExchangeRate string `json:"5. Exchange Rate"`
		} `json:"Realtime Currency Exchange Rate"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"function":      "CURRENCY_EXCHANGE_RATE",
			"from_currency": from,
			"to_currency":   to,
			"apikey":        a.cfg.AlphaVantageAPIKey,
		}).
		SetResult(&body).
		Get("https://www.alphavantage.co/query")
	if err != nil {
		return Quote{}, fmt.Errorf("alpha vantage request for %s: %w", symbol, err)
	}
	if resp.IsError() || body.Rate.ExchangeRate == "" {
		return Quote{}, fmt.Errorf("alpha vantage returned no rate for %s", symbol)
	}

	price, err := strconv.ParseFloat(body.Rate.ExchangeRate, 64)
	if err != nil || price <= 0 {
		return Quote{}, fmt.Errorf("invalid alpha vantage rate %q for %s", body.Rate.ExchangeRate, symbol)
	}

	return Quote{Symbol: symbol, Price: price, Timestamp: time.Now(), AssetClass: signal.Forex, Source: "alphavantage"}, nil
}

// FuturesPrice fetches a futures last-close price from Yahoo Finance's
// unauthenticated chart endpoint.
func (a *RESTAdapter) FuturesPrice(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(symbol)
	if err := a.limits.Wait(ctx, "yahoo"); err != nil {
		return Quote{}, err
	}

	yahooSymbol := symbol
	if !strings.HasSuffix(yahooSymbol, "=F") {
		yahooSymbol += "=F"
	}

	var body struct {
		Chart struct {
			Result []struct {
				Indicators struct {
					Quote []struct {
						Close []*float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
		} `json:"chart"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"interval": "1m", "range": "1d"}).
		SetResult(&body).
		Get("https://query1.finance.yahoo.com/v8/finance/chart/" + yahooSymbol)
	if err != nil {
		return Quote{}, fmt.Errorf("yahoo request for %s: %w", symbol, err)
	}
	if resp.IsError() || len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return Quote{}, fmt.Errorf("yahoo returned no chart data for %s", symbol)
	}

	closes := body.Chart.Result[0].Indicators.Quote[0].Close
	var price float64
	found := false
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil {
			price = *closes[i]
			found = true
			break
		}
	}
	if !found || price <= 0 {
		return Quote{}, fmt.Errorf("no valid close price for %s", symbol)
	}

	return Quote{Symbol: symbol, Price: price, Timestamp: time.Now(), AssetClass: signal.Futures, Source: "yahoo"}, nil
}

// AnyPrice auto-detects asset class from symbol shape and tries each
// source in turn, for callers that don't already know the class.
func (a *RESTAdapter) AnyPrice(ctx context.Context, symbol string) (Quote, error) {
	upper := strings.ToUpper(symbol)

	if strings.HasSuffix(upper, "USDT") || strings.HasSuffix(upper, "USD") || strings.HasSuffix(upper, "BTC") || strings.HasSuffix(upper, "ETH") {
		if q, err := a.CryptoPrice(ctx, upper); err == nil {
			return q, nil
		}
	}
	if len(upper) == 6 && isAlpha(upper) {
		if q, err := a.ForexPrice(ctx, upper); err == nil {
			return q, nil
		}
	}
	return a.FuturesPrice(ctx, upper)
}

func formatForexSymbol(symbol string) string {
	if len(symbol) >= 6 && !strings.Contains(symbol, "/") {
		return symbol[:3] + "/" + symbol[3:6]
	}
	return symbol
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
