// Command killfeed runs the real-time killmail distribution service:
// a long-poll ingest loop, an in-memory retention log, WebSocket and
// webhook fan-out, and a thin REST surface, wired together the way
// cmd/gateway/main.go wires the teacher's modules onto a single chi
// router and Huma API.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"

	"github.com/evekillfeed/killfeed/internal/killfeed/api"
	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/cache"
	"github.com/evekillfeed/killfeed/internal/killfeed/channel"
	killfeedconfig "github.com/evekillfeed/killfeed/internal/killfeed/config"
	"github.com/evekillfeed/killfeed/internal/killfeed/enrichment"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/pipeline"
	"github.com/evekillfeed/killfeed/internal/killfeed/shiptypes"
	"github.com/evekillfeed/killfeed/internal/killfeed/statusreport"
	"github.com/evekillfeed/killfeed/internal/killfeed/stream"
	"github.com/evekillfeed/killfeed/internal/killfeed/webhook"
	"github.com/evekillfeed/killfeed/pkg/app"
	"github.com/evekillfeed/killfeed/pkg/config"
	"github.com/evekillfeed/killfeed/pkg/evegateway"
	"github.com/evekillfeed/killfeed/pkg/version"
)

func main() {
	versionInfo := version.Get()
	log.Printf("killfeed %s (%s)", versionInfo.Version, versionInfo.BuildDate)

	ctx := context.Background()
	cfg := killfeedconfig.Load()

	appCtx, err := app.InitializeApp("killfeed")
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer appCtx.Shutdown(ctx)

	killCache := cache.New(appCtx.Redis)
	killCache.Start(ctx)
	defer killCache.Stop()

	store := eventstore.New(cfg.Storage.EventBufferSize,
		eventstore.WithMaxEventsPerSystem(cfg.Storage.MaxEventsPerSystem),
		eventstore.WithGCInterval(cfg.Storage.GCInterval),
	)
	store.Start()
	defer store.Stop()

	var evegateClient *evegateway.Client
	if appCtx.Redis != nil {
		evegateClient = evegateway.NewClientWithRedis(appCtx.Redis)
	} else {
		evegateClient = evegateway.NewClient()
	}
	enricher := enrichment.New(evegateClient, killCache, cfg.Enrichment.MaxConcurrency)
	killPipeline := pipeline.New(killCache, store, enricher, evegateClient.Killmails, cfg.Storage.MaxKillAge)

	loader := shiptypes.New(killCache)
	if path := config.GetEnv("SHIP_TYPES_CSV", ""); path != "" {
		if f, err := os.Open(path); err != nil {
			slog.Warn("failed to open ship type reference data, continuing without it", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			if err := loader.LoadCSV(ctx, f); err != nil {
				slog.Warn("failed to load ship type reference data", slog.String("error", err.Error()))
			}
			f.Close()
		}
	}

	broadcaster := broadcast.New(killCache)
	webhooks := webhook.NewDispatcher()

	var poller *stream.Poller
	if !cfg.Headless {
		streamCfg := stream.Config{
			Endpoint:     cfg.Stream.Endpoint,
			QueueID:      cfg.Stream.QueueID,
			UserAgent:    "killfeed/" + versionInfo.Version,
			FastInterval: cfg.Stream.FastInterval,
			IdleInterval: cfg.Stream.IdleInterval,
			BackoffBase:  cfg.Stream.BackoffBase,
			BackoffMax:   cfg.Stream.BackoffMax,
			PollTimeout:  cfg.Stream.PollTimeout,
		}
		poller = stream.New(streamCfg, killPipeline)
		poller.Start(ctx)
		defer poller.Stop()
	} else {
		slog.Info("headless mode: ingest loop disabled, serving cached data and real-time fan-out only")
	}

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	go func() {
		for {
			select {
			case <-dispatchCtx.Done():
				return
			case ev, ok := <-store.Events():
				if !ok {
					return
				}
				broadcaster.Dispatch(dispatchCtx, ev.Killmail)
				webhooks.Dispatch(dispatchCtx, ev.Killmail)
			}
		}
	}()

	reporter := statusreport.New(poller, killPipeline, broadcaster, killCache)

	// Periodic status heartbeat, scheduled the way internal/scheduler
	// drives its cron jobs rather than a bespoke time.Ticker.
	heartbeat := cron.New()
	_, err = heartbeat.AddFunc("@every 30s", func() {
		report := reporter.Build()
		slog.Info("status snapshot", slog.String("status", report.Status), slog.Duration("uptime", report.Uptime))
	})
	if err != nil {
		slog.Warn("failed to schedule status heartbeat", slog.String("error", err.Error()))
	} else {
		heartbeat.Start()
		defer heartbeat.Stop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Logger)

	apiPrefix := config.GetAPIPrefix()

	humaConfig := huma.DefaultConfig("Killfeed API", versionInfo.Version)
	humaConfig.Info.Description = "Real-time EVE Online killmail distribution: REST, WebSocket, and webhook delivery."

	var killfeedAPI huma.API
	if apiPrefix == "" {
		killfeedAPI = humachi.New(r, humaConfig)
	} else {
		r.Route(apiPrefix, func(prefixRouter chi.Router) {
			killfeedAPI = humachi.New(prefixRouter, humaConfig)
		})
	}

	svc := api.NewService(killCache, store, webhooks, broadcaster, reporter)
	api.RegisterRoutes(killfeedAPI, apiPrefix, svc)

	wsHandler := channel.NewHandler(broadcaster, store, cfg.Monitoring.PreloadEventCount)
	r.Get("/socket", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting killfeed server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	cancelDispatch()
	slog.Info("killfeed shutdown complete")
}
