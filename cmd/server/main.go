package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/signals-bridge/internal/config"
	"github.com/aristath/signals-bridge/internal/database"
	"github.com/aristath/signals-bridge/internal/delivery"
	"github.com/aristath/signals-bridge/internal/ingress"
	"github.com/aristath/signals-bridge/internal/monitor"
	"github.com/aristath/signals-bridge/internal/notify"
	"github.com/aristath/signals-bridge/internal/priceapi"
	"github.com/aristath/signals-bridge/internal/priceapi/stream"
	"github.com/aristath/signals-bridge/internal/scheduler"
	tradingsignal "github.com/aristath/signals-bridge/internal/signal"
	"github.com/aristath/signals-bridge/internal/storage"
	"github.com/aristath/signals-bridge/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting trading-signal bridge")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.SetGlobalLogger(logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode}))

	if err := tradingsignal.LoadFuturesRootsFromFile("configs/assets.yaml"); err != nil {
		log.Warn().Err(err).Msg("failed to load futures-root overrides, using built-in set")
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	store := storage.New(db, log)

	restAdapter := priceapi.NewRESTAdapter(priceapi.RESTAdapterConfig{
		TwelveDataAPIKey:   cfg.TwelveDataAPIKey,
		AlphaVantageAPIKey: cfg.AlphaVantageAPIKey,
	}, log)
	priceManager := priceapi.NewManager(int(cfg.PriceCacheTTL.Seconds()), restAdapter)
	cryptoStream := stream.NewCryptoAdapter(log)
	_ = cryptoStream // wired for future live-tick short-circuiting of the REST poller; polling path covers quotes today

	dispatcherCfg := delivery.DispatcherConfig{
		RetryDelays:            cfg.WebhookRetryDelays,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		RequestTimeout:         cfg.WebhookTimeout,
	}
	dispatcher := delivery.NewDispatcher(cfg.DeliveryConcurrency, dispatcherCfg, store, log)
	router := notify.NewRouter(store, dispatcher, log)

	proxCfg := scheduler.ProximityConfig{
		CloseRatio: cfg.ProximityCloseRatio,
		MidRatio:   cfg.ProximityMidRatio,
		IntervalByZone: map[scheduler.Zone]time.Duration{
			scheduler.ZoneClose: cfg.PollIntervalClose,
			scheduler.ZoneMid:   cfg.PollIntervalMid,
			scheduler.ZoneFar:   cfg.PollIntervalFar,
		},
		MinInterval: 1 * time.Second,
		MaxInterval: 300 * time.Second,
	}
	mon := monitor.New(store, priceManager, router, proxCfg, cfg.MonitorBatchSize, log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := sched.AddJob("@every "+cfg.MonitorCycleInterval.String(), monitor.NewJob(mon)); err != nil {
		log.Fatal().Err(err).Msg("failed to register monitor job")
	}

	idGen := func() string { return "sig_" + uuid.NewString() }
	srv := ingress.New(cfg, store, store, store, idGen, time.Now, log)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ingress server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("bridge started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cryptoStream.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("ingress server forced to shutdown")
	}

	log.Info().Msg("bridge stopped")
}
