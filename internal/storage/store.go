// Package storage is the sqlite-backed persistence layer: signals, their
// event history, providers, outbound webhook subscriptions, and delivery
// logs. It satisfies the narrow interfaces internal/monitor and
// internal/notify declare for their own use.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signals-bridge/internal/database"
	"github.com/aristath/signals-bridge/internal/signal"
)

// Store wraps a database.DB connection with the repository methods the
// engine needs. It is the concrete implementation behind
// monitor.Store and notify.SubscriptionStore.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// New builds a Store over an already-opened database connection. Callers
// are expected to have run db.Migrate() first.
func New(db *database.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "storage").Logger()}
}

// InsertSignal persists a newly normalized signal.
func (s *Store) InsertSignal(ctx context.Context, sig *signal.Signal) error {
	raw, err := json.Marshal(sig.RawPayload)
	if err != nil {
		return fmt.Errorf("marshal raw payload: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO signals (
			id, provider_id, external_id, strategy_name, symbol, asset_class, direction,
			entry_price, sl, tp1, tp2, tp3, risk_distance, rr_ratio, status, entry_time,
			activated_at, closed_at, exit_price, close_reason, r_value,
			max_favorable, max_adverse, next_poll_at, last_price, last_price_at, raw_payload
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig.ID, sig.ProviderID, sig.ExternalID, sig.StrategyName, sig.Symbol, string(sig.AssetClass), string(sig.Direction),
		sig.Entry, sig.SL, sig.TP1, sig.TP2, sig.TP3, sig.RiskDistance, sig.RRRatio, string(sig.Status), sig.EntryTime,
		sig.ActivatedAt, sig.ClosedAt, sig.ExitPrice, nullString(string(sig.CloseReason)), sig.RValue,
		sig.MaxFavorable, sig.MaxAdverse, sig.NextPollAt, sig.LastPrice, sig.LastPriceAt, string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// UpdateSignal writes back the mutable fields of a signal after a
// monitoring cycle or manual action.
func (s *Store) UpdateSignal(ctx context.Context, sig *signal.Signal) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		UPDATE signals SET
			status = ?, activated_at = ?, closed_at = ?, exit_price = ?, close_reason = ?,
			r_value = ?, max_favorable = ?, max_adverse = ?, next_poll_at = ?,
			last_price = ?, last_price_at = ?
		WHERE id = ?`,
		string(sig.Status), sig.ActivatedAt, sig.ClosedAt, sig.ExitPrice, nullString(string(sig.CloseReason)),
		sig.RValue, sig.MaxFavorable, sig.MaxAdverse, sig.NextPollAt,
		sig.LastPrice, sig.LastPriceAt, sig.ID,
	)
	if err != nil {
		return fmt.Errorf("update signal %s: %w", sig.ID, err)
	}
	return nil
}

// GetSignal loads a single signal by id.
func (s *Store) GetSignal(ctx context.Context, id string) (*signal.Signal, error) {
	row := s.db.Conn().QueryRowContext(ctx, signalColumns+` WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if err != nil {
		return nil, fmt.Errorf("get signal %s: %w", id, err)
	}
	return sig, nil
}

// SignalsDueForPoll returns open signals whose next_poll_at has elapsed,
// oldest-due first, capped at limit.
func (s *Store) SignalsDueForPoll(ctx context.Context, now time.Time, limit int) ([]*signal.Signal, error) {
	rows, err := s.db.Conn().QueryContext(ctx, signalColumns+`
		WHERE status IN ('PENDING','ACTIVE','TP1_HIT','TP2_HIT','TP3_HIT') AND next_poll_at <= ?
		ORDER BY next_poll_at ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due signals: %w", err)
	}
	defer rows.Close()

	var out []*signal.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// InsertEvent appends a lifecycle event to a signal's history.
func (s *Store) InsertEvent(ctx context.Context, ev *signal.Event) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO signal_events (id, signal_id, event_type, price, source, event_time, metadata)
		VALUES (?,?,?,?,?,?,?)`,
		ev.ID, ev.SignalID, string(ev.Kind), ev.Price, string(ev.Source), ev.At, string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsForSignal returns the full, ordered event history of a signal —
// the input the outcome resolver needs.
func (s *Store) EventsForSignal(ctx context.Context, signalID string) ([]signal.Event, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, signal_id, event_type, price, source, event_time, metadata
		FROM signal_events WHERE signal_id = ? ORDER BY event_time ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("query events for signal %s: %w", signalID, err)
	}
	defer rows.Close()

	var out []signal.Event
	for rows.Next() {
		var ev signal.Event
		var kind, source, metaJSON string
		if err := rows.Scan(&ev.ID, &ev.SignalID, &kind, &ev.Price, &source, &ev.At, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = signal.EventKind(kind)
		ev.Source = signal.EventSource(source)
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &ev.Metadata)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecentSignalsForSymbol returns signals for symbol created since the
// given time, used by the validator's duplicate-detection window.
func (s *Store) RecentSignalsForSymbol(ctx context.Context, symbol string, since time.Time) ([]*signal.Signal, error) {
	rows, err := s.db.Conn().QueryContext(ctx, signalColumns+`
		WHERE symbol = ? AND entry_time >= ? ORDER BY entry_time DESC`, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("query recent signals for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []*signal.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

const signalColumns = `
	SELECT id, provider_id, external_id, strategy_name, symbol, asset_class, direction,
		entry_price, sl, tp1, tp2, tp3, risk_distance, rr_ratio, status, entry_time,
		activated_at, closed_at, exit_price, close_reason, r_value,
		max_favorable, max_adverse, next_poll_at, last_price, last_price_at, raw_payload
	FROM signals`

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(row scanner) (*signal.Signal, error) {
	var sig signal.Signal
	var assetClass, direction, status string
	var closeReason sql.NullString
	var rawJSON string

	if err := row.Scan(
		&sig.ID, &sig.ProviderID, &sig.ExternalID, &sig.StrategyName, &sig.Symbol, &assetClass, &direction,
		&sig.Entry, &sig.SL, &sig.TP1, &sig.TP2, &sig.TP3, &sig.RiskDistance, &sig.RRRatio, &status, &sig.EntryTime,
		&sig.ActivatedAt, &sig.ClosedAt, &sig.ExitPrice, &closeReason, &sig.RValue,
		&sig.MaxFavorable, &sig.MaxAdverse, &sig.NextPollAt, &sig.LastPrice, &sig.LastPriceAt, &rawJSON,
	); err != nil {
		return nil, err
	}

	sig.AssetClass = signal.AssetClass(assetClass)
	sig.Direction = signal.Direction(direction)
	sig.Status = signal.Status(status)
	sig.CloseReason = signal.CloseReason(closeReason.String)
	if rawJSON != "" {
		_ = json.Unmarshal([]byte(rawJSON), &sig.RawPayload)
	}
	return &sig, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
