// Command relator starts the related-entries service.
//
// On startup it loads the catalog corpus (from a YAML dataset file or
// PostgreSQL), scores every entry pair, and activates the resulting relation
// run. It then serves related-entry lists at GET /api/v1/apps/{id}/related,
// rebuilding the run whenever catalog ingest announcements arrive on Kafka.
//
// Usage:
//
//	go run ./cmd/relator [-config configs/development.yaml]
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
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog/loader"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog/store"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/cache"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/consumer"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/runner"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/server/handler"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/health"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/kafka"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/metrics"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/middleware"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/postgres"
	pkgredis "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting relator service", "port", cfg.Server.Port, "source", cfg.Dataset.Source)

	m := metrics.New()

	var db *postgres.Client
	var entryStore *store.Store
	var source runner.CorpusSource
	if cfg.Dataset.Source == "postgres" {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		entryStore = store.NewStore(db)
		source = entryStore
		slog.Info("corpus source ready", "database", cfg.Postgres.Database)
	} else {
		source = loader.NewFileLoader(cfg.Dataset)
		slog.Info("corpus source ready", "path", cfg.Dataset.Path)
	}

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, related-list caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		slog.Info("related-list cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}
	listCache := cache.New(redisClient, cfg.Redis, cache.WithMetrics(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completeProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RelateComplete)
	defer completeProducer.Close()

	engine := relate.NewEngine(cfg.Relate, relate.WithMetrics(m))
	opts := []runner.Option{
		runner.WithCache(listCache),
		runner.WithProducer(completeProducer),
	}
	if entryStore != nil {
		opts = append(opts, runner.WithStore(entryStore))
	}
	relator := runner.New(cfg.Relate, engine, source, opts...)
	if err := relator.Start(ctx); err != nil {
		slog.Error("failed to activate an initial relation run", "error", err)
		os.Exit(1)
	}

	rebuilds := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.EntryIngest, consumer.HandleMessage(relator)))
	go func() {
		if err := rebuilds.Start(ctx); err != nil {
			slog.Error("rebuild consumer error", "error", err)
		}
	}()

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, cfg.Kafka.BatchSize, 5*time.Second)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	checker := health.NewChecker()
	checker.Register("relation_run", func(ctx context.Context) health.ComponentHealth {
		run := relator.Current()
		if run == nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no relation run available"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d entries scored", run.Entries)}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if db != nil {
		checker.Register("postgres", health.Ping(db.Ping))
	}

	h := handler.New(relator, handler.WithCollector(collector), handler.WithMetrics(m))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/apps/{id}/related", h.Related)
	mux.HandleFunc("GET /api/v1/related", h.Mapping)
	mux.HandleFunc("POST /api/v1/rebuild", h.Rebuild)
	mux.HandleFunc("GET /api/v1/runs/latest", h.LatestRun)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(cfg.Server.AllowedOrigins)(chain)
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

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("relator service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("relator service stopped")
}
