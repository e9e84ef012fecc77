package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"livability/internal/api"
	"livability/internal/cache"
	"livability/internal/config"
	"livability/internal/geocode"
	"livability/internal/history"
	"livability/internal/livability"
	"livability/internal/monitor"
	"livability/internal/scoring"
	"livability/internal/store"
	"livability/internal/summary"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := scoring.RegisterMetrics(reg); err != nil {
		slog.Error("failed to register scoring metrics", "err", err)
		os.Exit(1)
	}

	responses := cache.New(cache.Options{
		Name:         "responses",
		Capacity:     cfg.CacheCapacity,
		DefaultTTL:   cfg.CacheDefaultTTL,
		SingleFlight: cfg.CacheSingleFlight,
		RedactKeys:   cfg.CacheRedactKeys,
		Registerer:   reg,
	})

	slot, closeSlot, err := openHistorySlot(ctx, cfg)
	if err != nil {
		slog.Error("failed to open history storage", "err", err, "backend", cfg.HistoryBackend)
		os.Exit(1)
	}
	defer closeSlot()
	selections := history.New(slot)

	svc := livability.NewService(
		responses,
		selections,
		scoring.NewClient(cfg.ScoringURL, scoring.WithTimeout(cfg.ScoringTimeout)),
		geocode.NewClient(cfg.GeocoderURL, cfg.GeocoderUserAgent),
		summary.NewClient(cfg.SummaryURL),
	)

	r := monitor.New(responses, selections)
	go r.RunStatsLoop(ctx, cfg.StatsInterval)

	mux := http.NewServeMux()
	handler := api.NewHandler(svc, reg)
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     api.Wrap(mux, cfg.ClientSecrets),
		ReadTimeout: 5 * time.Second,
		// Scoring can take minutes while the backend retries.
		WriteTimeout: cfg.ScoringTimeout*4 + 30*time.Second,
	}

	go func() {
		slog.Info("server starting",
			"port", cfg.Port,
			"history_backend", cfg.HistoryBackend,
			"signed_requests", len(cfg.ClientSecrets) > 0,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	slog.Info("server stopped")
}

func openHistorySlot(ctx context.Context, cfg config.Config) (history.Slot, func(), error) {
	switch cfg.HistoryBackend {
	case "file":
		slot, err := store.NewFileSlot(cfg.HistoryFile)
		if err != nil {
			return nil, nil, err
		}
		return slot, func() {}, nil
	case "postgres":
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db.Slot(cfg.HistorySlot), db.Close, nil
	case "redis":
		slot, err := store.NewRedisSlot(ctx, cfg.RedisAddr, "", 0, cfg.HistorySlot)
		if err != nil {
			return nil, nil, err
		}
		return slot, func() { slot.Close() }, nil
	case "memory":
		return &history.MemorySlot{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}
}
