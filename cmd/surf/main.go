// Package main is the entry point for the surf service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/browser"
	"github.com/nomadbarefoot/surf/internal/cache"
	"github.com/nomadbarefoot/surf/internal/config"
	"github.com/nomadbarefoot/surf/internal/content"
	"github.com/nomadbarefoot/surf/internal/executor"
	"github.com/nomadbarefoot/surf/internal/handlers"
	"github.com/nomadbarefoot/surf/internal/metrics"
	"github.com/nomadbarefoot/surf/internal/middleware"
	"github.com/nomadbarefoot/surf/internal/monitor"
	"github.com/nomadbarefoot/surf/internal/pacer"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/sitememory"
	"github.com/nomadbarefoot/surf/pkg/version"
)

const gaugeUpdateInterval = 15 * time.Second

func main() {
	cfg := config.Load()

	// Logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting surf")

	pool := browser.NewPool(cfg)
	registry := session.NewRegistry(cfg, pool)

	pace := pacer.New(cfg)

	mon := monitor.New(cfg.MonitorInterval)
	mon.Start()

	patterns, err := content.NewManager(cfg.PatternsFile, cfg.PatternsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load content patterns")
	}

	var memory *sitememory.Store
	if cfg.EnableSiteMemory {
		path := filepath.Join(cfg.DataDir, "site_memory.db")
		memory, err = sitememory.Open(path, cfg.SiteMemoryTTL)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to open site memory")
		}
		memory.StartCleanup(cfg.SiteMemoryCleanupInterval)
	}

	var dedup *content.Deduplicator
	if cfg.EnableContentDeduplication {
		dedup = content.NewDeduplicator(cfg.ContentDeduplicationTTL)
	}

	var cacheSvc *cache.Service
	if cfg.EnableCache {
		cacheSvc = cache.New(cfg.CacheTTL)
	}

	exec := executor.New(cfg, executor.Deps{
		Registry: registry,
		Pacer:    pace,
		Patterns: patterns,
		Memory:   memory,
		Monitor:  mon,
		Dedup:    dedup,
	})

	handler := handlers.New(handlers.Deps{
		Config:   cfg,
		Registry: registry,
		Exec:     exec,
		Pool:     pool,
		Pace:     pace,
		Monitor:  mon,
		Memory:   memory,
		Cache:    cacheSvc,
	})

	rateLimiter := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TrustProxy)

	chain := middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
		rateLimiter.Handler(),
		middleware.Auth(cfg.APIToken),
		middleware.Timeout(cfg.MaxPageLoadTimeout+30*time.Second),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      chain(handler.Routes()),
		ReadTimeout:  cfg.MaxPageLoadTimeout + 60*time.Second,
		WriteTimeout: cfg.MaxPageLoadTimeout + 60*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)
		go runGaugeUpdater(pool, registry, pace, memory, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Int("port", cfg.MetricsPort).Msg("Metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("max_sessions", cfg.MaxSessions).
			Bool("adaptive_pacing", cfg.EnableAdaptiveRateLimiting).
			Bool("site_memory", cfg.EnableSiteMemory).
			Bool("metrics_enabled", cfg.MetricsEnabled).
			Msg("surf is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}

	rateLimiter.Close()
	mon.Stop()

	if err := registry.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Session registry shutdown error")
	}
	if err := pool.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Browser pool close error")
	}
	if memory != nil {
		if err := memory.Close(); err != nil {
			log.Error().Err(err).Msg("Site memory close error")
		}
	}
	if cacheSvc != nil {
		if err := cacheSvc.Close(); err != nil {
			log.Error().Err(err).Msg("Cache close error")
		}
	}
	if err := patterns.Close(); err != nil {
		log.Error().Err(err).Msg("Pattern manager close error")
	}

	log.Info().Msg("Shutdown complete")
}

// runGaugeUpdater periodically refreshes gauges that are sampled from
// subsystem state rather than recorded at event time.
func runGaugeUpdater(pool *browser.Pool, registry *session.Registry,
	pace *pacer.Pacer, memory *sitememory.Store, stopCh <-chan struct{}) {
	ticker := time.NewTicker(gaugeUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ps := pool.SnapshotStats()
			metrics.UpdateBrowserMetrics(ps.OpenContexts, ps.ContextsTotal, ps.Launches)
			metrics.UpdateSessionMetrics(registry.Count())
			metrics.UpdatePacerMetrics(pace.CurrentDelay())
			if memory != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if s, err := memory.Stats(ctx); err == nil {
					metrics.UpdateSiteMemoryRows(s.TotalSites)
				}
				cancel()
			}
		case <-stopCh:
			return
		}
	}
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
