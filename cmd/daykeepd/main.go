package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/daykeep/internal/cacherouter"
	"github.com/erauner12/daykeep/internal/config"
	"github.com/erauner12/daykeep/internal/engine"
	"github.com/erauner12/daykeep/internal/event"
	"github.com/erauner12/daykeep/internal/httpapi"
	"github.com/erauner12/daykeep/internal/netmon"
	"github.com/erauner12/daykeep/internal/store"
	"github.com/erauner12/daykeep/internal/transport"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "daykeepd").Logger()

	cfg := config.Load()

	// Pretty logging for local dev
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open local store")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repair is the last resort: only a failed validation probe, never an
	// ordinary error, triggers the destructive recreate path.
	if err := st.Validate(ctx); err != nil {
		log.Error().Err(err).Msg("local store failed validation, attempting repair")
		if err := st.Repair(ctx); err != nil {
			log.Fatal().Err(err).Msg("repair failed")
		}
	}

	bus := event.NewBus()
	remote := transport.New(cfg.RemoteBaseURL, transport.StaticToken(cfg.RemoteToken))
	monitor := netmon.New(remote.Probe, cfg.ProbeInterval, bus)
	eng := engine.New(st, remote, bus, monitor, cfg.SyncInterval)

	go monitor.Run(ctx)
	go eng.Run(ctx)
	go runMaintenance(ctx, st, cfg)

	api := &httpapi.Server{
		Store:  st,
		Engine: eng,
		Bus:    bus,
		Conn:   monitor,
		Remote: remote,
	}
	apiServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the event stream stays open
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("starting control API")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("control API failed")
		}
	}()

	cacheServer := startCacheRouter(cfg)

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API shutdown error")
	}
	if cacheServer != nil {
		if err := cacheServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("cache router shutdown error")
		}
	}

	log.Info().Msg("daemon stopped")
}

// startCacheRouter brings up the asset cache proxy when an upstream is
// configured; without one the daemon runs sync-only.
func startCacheRouter(cfg *config.Config) *http.Server {
	if cfg.UpstreamURL == "" {
		return nil
	}
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.UpstreamURL).Msg("invalid upstream URL")
	}

	router := cacherouter.New(cacherouter.Config{Upstream: upstream})
	router.SetOfflinePage([]byte(offlinePage))

	srv := &http.Server{
		Addr:         cfg.CacheAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.CacheAddr).Str("upstream", cfg.UpstreamURL).Msg("starting cache router")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("cache router failed")
		}
	}()
	return srv
}

// runMaintenance purges completed queue entries past retention on a slow
// cadence. Failed entries are never purged automatically.
func runMaintenance(ctx context.Context, st *store.Store, cfg *config.Config) {
	ticker := time.NewTicker(cfg.MaintenanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PurgeCompleted(ctx, cfg.QueueRetention)
			if err != nil {
				log.Warn().Err(err).Msg("queue maintenance failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("purged completed queue entries")
			}
		}
	}
}

const offlinePage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>daykeep — offline</title></head>
<body>
<h1>You are offline</h1>
<p>daykeep keeps working locally. Changes sync when connectivity returns.</p>
</body>
</html>`
