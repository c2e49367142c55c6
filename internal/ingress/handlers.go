package ingress

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/signals-bridge/internal/notify"
	"github.com/aristath/signals-bridge/internal/signal"
	"github.com/aristath/signals-bridge/internal/statemachine"
)

// priceLevelEventKinds is the closed set §6 ingress format (c) accepts.
var priceLevelEventKinds = map[signal.EventKind]bool{
	signal.EventEntryHit: true,
	signal.EventTP1Hit:   true,
	signal.EventTP2Hit:   true,
	signal.EventTP3Hit:   true,
	signal.EventSLHit:    true,
}

// resolveProvider implements the §6 resolution order: API key header,
// then a provider name in the payload, then the oldest active provider,
// then an auto-created provider named "default".
func (s *Server) resolveProvider(r *http.Request, payload map[string]any) (*Provider, error) {
	ctx := r.Context()

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		hash := sha256.Sum256([]byte(apiKey))
		if p, err := s.providers.GetProviderByAPIKeyHash(ctx, hex.EncodeToString(hash[:])); err == nil && p != nil {
			return p, nil
		}
	}

	if name, _ := payload["provider"].(string); name != "" {
		if p, err := s.providers.GetProviderByName(ctx, name); err == nil && p != nil {
			return p, nil
		}
	}

	return s.providers.EnsureDefaultProvider(ctx)
}

// handleTradingViewWebhook accepts structured JSON or TaskMagic-style
// raw text alerts, normalizes, validates, and persists the signal.
func (s *Server) handleTradingViewWebhook(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	provider, err := s.resolveProvider(r, body)
	if err != nil || provider == nil {
		s.log.Error().Err(err).Msg("provider resolution failed")
		writeError(w, http.StatusInternalServerError, "provider resolution failed")
		return
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}

	var sig *signal.Signal
	if rawText, ok := body["body"].(string); ok {
		if _, hasSymbol := body["symbol"]; !hasSymbol {
			sig, err = signal.NormalizeText(rawText, provider.ID, now)
		}
	}
	if sig == nil && err == nil {
		sig, err = signal.NormalizeStructured(body, provider.ID, now)
	}
	if err != nil || sig == nil {
		s.log.Warn().Err(err).Msg("signal normalization failed")
		writeError(w, http.StatusUnprocessableEntity, "signal normalization failed: "+errString(err))
		return
	}

	sig.ID = s.idGen()

	recent, err := s.signals.RecentSignalsForSymbol(r.Context(), sig.Symbol, now().Add(-s.cfg.DuplicateWindow))
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load recent signals for duplicate check")
	}

	validatorCfg := signal.ValidatorConfig{
		MinRRRatio: s.cfg.MinRRRatio, WarnRRRatio: s.cfg.WarnRRRatio,
		MaxLatency: s.cfg.MaxLatency, WarnLatency: s.cfg.WarnLatency,
		RiskCeilingByClass: s.cfg.RiskCeilingByClass, PrecisionByClass: s.cfg.PrecisionByClass,
		DuplicateBandPct: s.cfg.DuplicateBandPct,
	}
	result := signal.Validate(sig, validatorCfg, recent, now())

	if !result.IsValid() {
		sig.Status = signal.StatusInvalid
		if err := s.signals.InsertSignal(r.Context(), sig); err != nil {
			s.log.Error().Err(err).Msg("failed to store invalid signal for audit")
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "signal failed validation", "errors": result.Errors, "warnings": result.Warnings,
		})
		return
	}

	sig.NextPollAt = now()
	if err := s.signals.InsertSignal(r.Context(), sig); err != nil {
		s.log.Error().Err(err).Msg("failed to store signal")
		writeError(w, http.StatusInternalServerError, "failed to store signal")
		return
	}

	ev := &signal.Event{
		ID: s.idGen(), SignalID: sig.ID, Kind: signal.EventKind("ENTRY_REGISTERED"),
		Price: &sig.Entry, Source: signal.SourceTradingView, At: now(),
		Metadata: map[string]any{"raw_body": body},
	}
	if err := s.signals.InsertEvent(r.Context(), ev); err != nil {
		s.log.Warn().Err(err).Msg("failed to record entry-registered event")
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"signal_id": sig.ID, "status": sig.Status, "warnings": result.Warnings, "score": result.Score,
	})
}

// handlePriceEventWebhook accepts §6 ingress format (c): an explicit
// price-level event for a signal already on file (e.g. a PineScript
// monitor announcing its own TP/SL crossing). It drives the same state
// machine the polling monitor drives, records a MANUAL-source event, and
// updates the signal's status and terminal fields.
func (s *Server) handlePriceEventWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SignalID  string           `json:"signal_id"`
		EventType signal.EventKind `json:"event_type"`
		Price     float64          `json:"price"`
		Timestamp *time.Time       `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SignalID == "" {
		writeError(w, http.StatusBadRequest, "invalid price event body")
		return
	}
	if !priceLevelEventKinds[body.EventType] {
		writeError(w, http.StatusBadRequest, "event_type must be one of ENTRY_HIT, TP1_HIT, TP2_HIT, TP3_HIT, SL_HIT")
		return
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	at := now()
	if body.Timestamp != nil {
		at = *body.Timestamp
	}

	sig, err := s.signals.GetSignal(r.Context(), body.SignalID)
	if err != nil || sig == nil {
		writeError(w, http.StatusNotFound, "signal not found: "+body.SignalID)
		return
	}

	result := statemachine.Apply(sig.Status, body.EventType)
	if !result.DidTransition {
		writeJSON(w, http.StatusOK, map[string]any{
			"signal_id": sig.ID, "event_type": body.EventType,
			"did_transition": false, "status": sig.Status,
		})
		return
	}

	ev := &signal.Event{
		ID: s.idGen(), SignalID: sig.ID, Kind: body.EventType,
		Price: &body.Price, Source: signal.SourceManual, At: at,
		Metadata: map[string]any{"detected_by": "explicit_ingress"},
	}
	if err := s.signals.InsertEvent(r.Context(), ev); err != nil {
		s.log.Error().Err(err).Msg("failed to record price-level event")
		writeError(w, http.StatusInternalServerError, "failed to record event")
		return
	}

	sig.Status = result.NewStatus
	if body.EventType == signal.EventEntryHit {
		sig.ActivatedAt = &at
	}
	if result.IsTerminal {
		sig.ClosedAt = &at
		sig.CloseReason = statemachine.CloseReason(result.NewStatus)
		sig.ExitPrice = &body.Price
		if sig.RiskDistance > 0 {
			rv := signal.ComputeRValue(sig.Direction, sig.Entry, sig.RiskDistance, body.Price)
			sig.RValue = &rv
		}
	}

	if err := s.signals.UpdateSignal(r.Context(), sig); err != nil {
		s.log.Error().Err(err).Msg("failed to persist signal after price-level event")
		writeError(w, http.StatusInternalServerError, "failed to update signal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signal_id": sig.ID, "event_type": body.EventType,
		"did_transition": true, "status": sig.Status,
	})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.providers.ListProvidersHandlerView(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "provider creation is managed out of band; this stub exists to exercise the routing surface")
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderID string            `json:"provider_id"`
		URL        string            `json:"url"`
		Secret     string            `json:"secret"`
		EventTypes []string          `json:"event_types"`
		Headers    map[string]string `json:"headers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProviderID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "provider_id and url are required")
		return
	}

	secret := req.Secret
	if secret == "" {
		secret = s.cfg.WebhookHMACDefault
	}
	sub := &notify.Subscription{
		ID: s.idGen(), ProviderID: req.ProviderID, URL: req.URL, Secret: secret,
		EventTypes: req.EventTypes, Headers: req.Headers, Active: true,
	}
	if err := s.subs.InsertSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": sub.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
