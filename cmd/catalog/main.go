// Command catalog starts the catalog ingestion HTTP service.
//
// The service accepts new or updated catalog entries via POST /api/v1/entries
// (single) and POST /api/v1/entries/batch, normalizes them, persists them to
// PostgreSQL, and announces each change on a Kafka topic so the relator can
// rebuild its relation run.
//
// Usage:
//
//	go run ./cmd/catalog [-config configs/development.yaml]
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

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog/normalizer"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog/store"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/ingest/handler"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/ingest/publisher"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/health"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/metrics"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/middleware"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/postgres"
)

// main loads configuration, connects to PostgreSQL, creates the Kafka
// producer, wires up the ingest handler, and starts the HTTP server. Graceful
// shutdown is triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting catalog service", "port", cfg.Server.Port)

	m := metrics.New()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.EntryIngest)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.EntryIngest)

	norm := normalizer.New(normalizer.NonFreeLicenseSet(cfg.Dataset.NonFreeLicenses))
	pub := publisher.New(store.NewStore(db), producer, norm, publisher.WithMetrics(m))
	h := handler.New(pub, cfg.Ingest)

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(db.Ping))
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: "producer active"}
	})

	limiter := middleware.NewRateLimiter(cfg.Ingest.RateLimitPerMin, cfg.Ingest.RateLimitBurst)
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/entries", limiter.Middleware(http.HandlerFunc(h.Ingest)))
	mux.Handle("POST /api/v1/entries/batch", limiter.Middleware(http.HandlerFunc(h.IngestBatch)))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		stopMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer stopMetrics(context.Background())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("catalog service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog service stopped")
}
