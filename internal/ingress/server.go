// Package ingress exposes the HTTP surface of the bridge: webhook
// ingestion (structured JSON, TaskMagic-style text, raw price events)
// and thin CRUD for providers and outbound subscriptions.
package ingress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/signals-bridge/internal/config"
	"github.com/aristath/signals-bridge/internal/notify"
	"github.com/aristath/signals-bridge/internal/signal"
)

// ProviderStore resolves and manages signal providers.
type ProviderStore interface {
	GetProviderByAPIKeyHash(ctx context.Context, hash string) (*Provider, error)
	GetProviderByName(ctx context.Context, name string) (*Provider, error)
	EnsureDefaultProvider(ctx context.Context) (*Provider, error)
	ListProvidersHandlerView(ctx context.Context) ([]*Provider, error)
}

// Provider is the ingress-facing view of a registered signal source.
type Provider struct {
	ID            string
	Name          string
	APIKeyHash    string
	WebhookSecret string
	IngestFormat  string
	Active        bool
}

// SignalStore is the persistence surface ingress handlers need.
type SignalStore interface {
	InsertSignal(ctx context.Context, sig *signal.Signal) error
	UpdateSignal(ctx context.Context, sig *signal.Signal) error
	GetSignal(ctx context.Context, id string) (*signal.Signal, error)
	InsertEvent(ctx context.Context, ev *signal.Event) error
	RecentSignalsForSymbol(ctx context.Context, symbol string, since time.Time) ([]*signal.Signal, error)
}

// SubscriptionStore manages outbound webhook subscriptions; the only
// route that uses it is the create-subscription POST route.
type SubscriptionStore interface {
	InsertSubscription(ctx context.Context, sub *notify.Subscription) error
	SubscriptionsForProvider(ctx context.Context, providerID string) ([]notify.Subscription, error)
}

// Server is the ingress HTTP server: chi router plus its wired
// dependencies.
type Server struct {
	router       *chi.Mux
	httpServer   *http.Server
	log          zerolog.Logger
	cfg          *config.Config
	providers    ProviderStore
	signals      SignalStore
	subs         SubscriptionStore
	idGen        func() string
	now          func() time.Time
}

// New builds an ingress Server wired to its dependencies.
func New(cfg *config.Config, providers ProviderStore, signals SignalStore, subs SubscriptionStore, idGen func() string, now func() time.Time, log zerolog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       log.With().Str("component", "ingress").Logger(),
		cfg:       cfg,
		providers: providers,
		signals:   signals,
		subs:      subs,
		idGen:     idGen,
		now:       now,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/webhook", func(r chi.Router) {
			r.Post("/tradingview", s.handleTradingViewWebhook)
			r.Post("/price-event", s.handlePriceEventWebhook)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.handleListProviders)
			r.Post("/", s.handleCreateProvider)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", s.handleCreateSubscription)
		})
	})
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting ingress HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down ingress HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
