package signal

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NormalizationError is returned when a raw payload cannot be turned into a
// canonical Signal.
type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string {
	return "normalization failed: " + e.Reason
}

func normErr(format string, a ...any) error {
	return &NormalizationError{Reason: fmt.Sprintf(format, a...)}
}

// futuresRoots is the known futures-root set (after suffix stripping),
// checked first in asset-class detection. LoadFuturesRoots replaces it;
// LoadFuturesRootsFromFile merges into it.
var futuresRoots = map[string]bool{
	"NQ": true, "MNQ": true,
	"ES": true, "MES": true,
	"YM": true, "MYM": true,
	"RTY": true, "M2K": true,
	"GC": true, "MGC": true,
	"CL": true, "MCL": true,
	"SI": true, "SIL": true,
	"ZB": true, "ZN": true,
	"ZW": true, "ZC": true,
}

// LoadFuturesRoots replaces the whole futures-root membership set with
// roots; the built-in entries are dropped. To add roots to the built-in
// set from configs/assets.yaml, LoadFuturesRootsFromFile merges instead.
func LoadFuturesRoots(roots []string) {
	m := make(map[string]bool, len(roots))
	for _, r := range roots {
		m[strings.ToUpper(r)] = true
	}
	futuresRoots = m
}

// assetConfigFile is the shape of configs/assets.yaml: a futures_roots
// list that extends (not replaces) the built-in set.
type assetConfigFile struct {
	FuturesRoots []string `yaml:"futures_roots"`
}

// LoadFuturesRootsFromFile reads a YAML file of the form
// "futures_roots: [NQ, MNQ, ...]" and merges it into the futures-root
// set. A missing file is not an error, since the override is optional.
func LoadFuturesRootsFromFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read asset config %s: %w", path, err)
	}

	var parsed assetConfigFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse asset config %s: %w", path, err)
	}

	for _, r := range parsed.FuturesRoots {
		futuresRoots[strings.ToUpper(r)] = true
	}
	return nil
}

var (
	futuresSuffixRe = regexp.MustCompile(`[0-9]!$`)
	forexPattern    = regexp.MustCompile(`^[A-Z]{6}$`)
	cryptoSuffixes  = []string{"USDT", "USD", "BTC", "ETH", "BUSD"}
)

// NormalizeSymbol uppercases, strips a trailing digit-then-"!" suffix, and
// detects the asset class in the fixed order required by §4.1: futures root
// membership, then forex (exactly six letters — this precedes the crypto
// suffix check because e.g. "EURUSD" ends in "USD"), then crypto suffix,
// then stocks as the default.
func NormalizeSymbol(raw string) (string, AssetClass, error) {
	if raw == "" {
		return "", "", normErr("empty symbol")
	}
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	symbol = futuresSuffixRe.ReplaceAllString(symbol, "")
	if symbol == "" {
		return "", "", normErr("symbol resulted in empty string after normalization: %q", raw)
	}
	return symbol, detectAssetClass(symbol), nil
}

func detectAssetClass(symbol string) AssetClass {
	if futuresRoots[symbol] {
		return Futures
	}
	if forexPattern.MatchString(symbol) {
		return Forex
	}
	for _, suffix := range cryptoSuffixes {
		if strings.HasSuffix(symbol, suffix) {
			return Crypto
		}
	}
	return Stocks
}

// ParseTimestamp accepts ISO-8601 (with trailing Z or numeric offset),
// "YYYY-MM-DD HH:MM:SS", and decimal Unix seconds. On complete failure it
// falls back to the current UTC time, per §4.1.
func ParseTimestamp(raw string, now func() time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now().UTC()
	}

	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05-07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 && secs < 1e10 {
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * 1e9)
		return time.Unix(whole, nanos).UTC()
	}

	return now().UTC()
}

// fieldAliases maps each canonical field to its recognized synonym set,
// checked in order (first match wins), per §4.1.
var fieldAliases = map[string][]string{
	"entry": {"entry", "entry_price", "price", "open", "entry_level"},
	"sl":    {"stop_loss", "stoploss", "stop", "stop_level", "sl_price", "sl"},
	"tp1":   {"takeprofit_1", "target_1", "t1", "tp_1", "tp1"},
	"tp2":   {"takeprofit_2", "target_2", "t2", "tp_2", "tp2"},
	"tp3":   {"takeprofit_3", "target_3", "t3", "tp_3", "tp3"},
}

func lookupAliased(m map[string]any, field string) (any, bool) {
	for _, alias := range fieldAliases[field] {
		if v, ok := m[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

func toFinitePositiveFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}

// NormalizeStructured converts a structured ingress payload (map with named
// fields, field aliases per §4.1) into a canonical Signal.
func NormalizeStructured(payload map[string]any, providerID string, now func() time.Time) (*Signal, error) {
	rawSymbol, _ := payload["symbol"].(string)
	rawDirection, _ := payload["direction"].(string)

	symbol, assetClass, err := NormalizeSymbol(rawSymbol)
	if err != nil {
		return nil, normErr("symbol: %v", err)
	}

	direction, err := parseDirection(rawDirection)
	if err != nil {
		return nil, err
	}

	entryV, ok := lookupAliased(payload, "entry")
	if !ok {
		return nil, normErr("missing required field: entry")
	}
	entry, ok := toFinitePositiveFloat(entryV)
	if !ok {
		return nil, normErr("entry is not a finite positive number: %v", entryV)
	}

	slV, ok := lookupAliased(payload, "sl")
	if !ok {
		return nil, normErr("missing required field: sl")
	}
	sl, ok := toFinitePositiveFloat(slV)
	if !ok {
		return nil, normErr("sl is not a finite positive number: %v", slV)
	}

	tp1V, ok := lookupAliased(payload, "tp1")
	if !ok {
		return nil, normErr("missing required field: tp1")
	}
	tp1, ok := toFinitePositiveFloat(tp1V)
	if !ok {
		return nil, normErr("tp1 is not a finite positive number: %v", tp1V)
	}

	var tp2, tp3 *float64
	if v, ok := lookupAliased(payload, "tp2"); ok {
		if f, ok := toFinitePositiveFloat(v); ok {
			tp2 = &f
		}
	}
	if v, ok := lookupAliased(payload, "tp3"); ok {
		if f, ok := toFinitePositiveFloat(v); ok {
			tp3 = &f
		}
	}

	var ts string
	if v, ok := payload["timestamp"]; ok {
		ts = fmt.Sprint(v)
	}
	entryTime := ParseTimestamp(ts, now)

	strategy, _ := payload["strategy"].(string)
	externalID, _ := payload["external_id"].(string)

	sig := &Signal{
		ProviderID:   providerID,
		ExternalID:   externalID,
		StrategyName: strategy,
		Symbol:       symbol,
		AssetClass:   assetClass,
		Direction:    direction,
		Entry:        entry,
		SL:           sl,
		TP1:          tp1,
		TP2:          tp2,
		TP3:          tp3,
		Status:       StatusPending,
		EntryTime:    entryTime,
		RawPayload:   payload,
	}
	sig.ComputeRiskMetrics()
	return sig, nil
}

func parseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return Long, nil
	case "SHORT", "SELL":
		return Short, nil
	default:
		return "", normErr("cannot resolve direction from %q", raw)
	}
}

// Text-alert label patterns (case-insensitive), per §4.1. Each matches a
// label followed by a number; the "Target N:"/"TPn:" forms are aliases of
// "Take Profit N:" but the bare "Target:" (no number, used as a fallback in
// some provider templates) is intentionally NOT recognized per spec.md §9.
var (
	textSymbolRe    = regexp.MustCompile(`(?i)symbol\s*:\s*([A-Za-z0-9!]+)`)
	textEntryRe     = regexp.MustCompile(`(?i)entry\s*:\s*([0-9.]+)`)
	textStopRe      = regexp.MustCompile(`(?i)stop\s*loss\s*:\s*([0-9.]+)`)
	textTakeProfitN = regexp.MustCompile(`(?i)(?:take\s*profit|target)\s*([1-3])\s*:\s*([0-9.]+)`)
	textTPShort     = regexp.MustCompile(`(?i)tp\s*([1-3])\s*:\s*([0-9.]+)`)
	textBuyRe       = regexp.MustCompile(`(?i)\b(BUY|LONG)\b`)
	textSellRe      = regexp.MustCompile(`(?i)\b(SELL|SHORT)\b`)
)

// NormalizeText parses a free-text alert body (labels per §4.1, direction
// inferred from BUY/LONG/SELL/SHORT) into a canonical Signal.
func NormalizeText(body string, providerID string, now func() time.Time) (*Signal, error) {
	symMatch := textSymbolRe.FindStringSubmatch(body)
	if symMatch == nil {
		return nil, normErr("could not find Symbol: label in text alert")
	}
	symbol, assetClass, err := NormalizeSymbol(symMatch[1])
	if err != nil {
		return nil, normErr("symbol: %v", err)
	}

	var direction Direction
	switch {
	case textSellRe.MatchString(body):
		direction = Short
	case textBuyRe.MatchString(body):
		direction = Long
	default:
		return nil, normErr("could not infer direction (no BUY/LONG/SELL/SHORT found)")
	}

	entryMatch := textEntryRe.FindStringSubmatch(body)
	if entryMatch == nil {
		return nil, normErr("missing required field: entry")
	}
	entry, ok := toFinitePositiveFloat(entryMatch[1])
	if !ok {
		return nil, normErr("entry is not a finite positive number: %s", entryMatch[1])
	}

	stopMatch := textStopRe.FindStringSubmatch(body)
	if stopMatch == nil {
		return nil, normErr("missing required field: sl")
	}
	sl, ok := toFinitePositiveFloat(stopMatch[1])
	if !ok {
		return nil, normErr("sl is not a finite positive number: %s", stopMatch[1])
	}

	tps := map[int]float64{}
	for _, m := range textTakeProfitN.FindAllStringSubmatch(body, -1) {
		n, _ := strconv.Atoi(m[1])
		if f, ok := toFinitePositiveFloat(m[2]); ok {
			tps[n] = f
		}
	}
	for _, m := range textTPShort.FindAllStringSubmatch(body, -1) {
		n, _ := strconv.Atoi(m[1])
		if _, already := tps[n]; already {
			continue
		}
		if f, ok := toFinitePositiveFloat(m[2]); ok {
			tps[n] = f
		}
	}

	tp1, ok := tps[1]
	if !ok {
		return nil, normErr("missing required field: tp1")
	}
	var tp2, tp3 *float64
	if f, ok := tps[2]; ok {
		tp2 = &f
	}
	if f, ok := tps[3]; ok {
		tp3 = &f
	}

	sig := &Signal{
		ProviderID: providerID,
		Symbol:     symbol,
		AssetClass: assetClass,
		Direction:  direction,
		Entry:      entry,
		SL:         sl,
		TP1:        tp1,
		TP2:        tp2,
		TP3:        tp3,
		Status:     StatusPending,
		EntryTime:  now().UTC(),
		RawPayload: map[string]any{"body": body},
	}
	sig.ComputeRiskMetrics()
	return sig, nil
}

// NormalizationStats reports diagnostic information about symbol
// normalization, useful for debugging provider payloads.
type NormalizationStats struct {
	RawSymbol        string
	NormalizedSymbol string
	AssetClass       AssetClass
	Success          bool
	Error            string
}

// GetNormalizationStats runs NormalizeSymbol and reports the outcome without
// erroring, for operator troubleshooting endpoints.
func GetNormalizationStats(rawSymbol string) NormalizationStats {
	normalized, assetClass, err := NormalizeSymbol(rawSymbol)
	if err != nil {
		return NormalizationStats{RawSymbol: rawSymbol, Success: false, Error: err.Error()}
	}
	return NormalizationStats{
		RawSymbol:        rawSymbol,
		NormalizedSymbol: normalized,
		AssetClass:       assetClass,
		Success:          true,
	}
}

// NormalizeBatch normalizes a batch of structured payloads, skipping any
// individual payload that fails normalization and continuing with the rest.
func NormalizeBatch(payloads []map[string]any, providerID string, now func() time.Time) []*Signal {
	out := make([]*Signal, 0, len(payloads))
	for _, p := range payloads {
		sig, err := NormalizeStructured(p, providerID, now)
		if err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out
}
