// Command analytics starts the standalone serving-analytics service.
//
// It consumes serve events, run completions, and ingest announcements from
// Kafka, aggregates them in memory (serve counts, latency percentiles, cache
// hit rate, top entries, zero-match entries), and exposes the result at
// GET /api/v1/stats. When PostgreSQL is reachable it also persists periodic
// snapshots and serves them at GET /api/v1/stats/history.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/analytics"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/health"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/middleware"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/postgres"
)

const snapshotSaveInterval = 15 * time.Minute

// main boots the analytics service: one Kafka consumer per topic feeding a
// shared in-memory aggregator, an optional PostgreSQL snapshot store, and the
// HTTP API. Graceful shutdown is triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator()
	consumers := []*kafka.Consumer{
		kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleServeEvent(aggregator)),
		kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RelateComplete, analytics.HandleRunEvent(aggregator)),
		kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.EntryIngest, analytics.HandleEntryEvent(aggregator)),
	}
	for _, c := range consumers {
		go func(c *kafka.Consumer) {
			if err := c.Start(ctx); err != nil {
				slog.Error("consumer error", "error", err)
			}
		}(c)
	}
	slog.Info("analytics aggregator started",
		"topics", []string{
			cfg.Kafka.Topics.AnalyticsEvents,
			cfg.Kafka.Topics.RelateComplete,
			cfg.Kafka.Topics.EntryIngest,
		},
	)

	var snapshots *analytics.Store
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, stats history disabled", "error", err)
	} else {
		defer db.Close()
		snapshots = analytics.NewStore(db)
		snapshots.StartPeriodicSave(ctx, aggregator, snapshotSaveInterval)
		slog.Info("stats history enabled", "interval", snapshotSaveInterval)
	}

	analyticsHandler := analytics.NewHandler(aggregator, snapshots)

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumers active"}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if db == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := db.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stats", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/stats/history", analyticsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
