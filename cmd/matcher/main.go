package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/peermatch/matcher/internal/analytics"
	"github.com/peermatch/matcher/internal/config"
	"github.com/peermatch/matcher/internal/logger"
	"github.com/peermatch/matcher/internal/matching"
	"github.com/peermatch/matcher/internal/messaging"
	"github.com/peermatch/matcher/internal/metrics"
	"github.com/peermatch/matcher/internal/observability"
	"github.com/peermatch/matcher/internal/profile"
	"github.com/peermatch/matcher/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger mode is part of the config, so fall back to dev.
		log, _ := logger.New("dev")
		log.Fatal("load config", "error", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting peermatch matcher")

	shutdownTracing := observability.InitTracing(context.Background(), log, observability.TracingConfig{
		Enabled:     cfg.OTelEnabled,
		ServiceName: "peermatch-matcher",
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	})

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatal("connect to redis", "addr", cfg.RedisAddr, "error", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsClient, err := messaging.NewNATSClient(natsConfig, log)
	if err != nil {
		log.Fatal("connect to nats", "url", cfg.NATSURL, "error", err)
	}

	// Analytics sink.
	var db *sql.DB
	var pgSink *analytics.PostgresSink
	var sink analytics.Sink = analytics.Nop
	if cfg.AnalyticsSink == config.AnalyticsPostgres {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("open postgres", "error", err)
		}
		if err := analytics.Migrate(db); err != nil {
			log.Fatal("migrate analytics schema", "error", err)
		}
		pgSink = analytics.NewPostgresSink(db)
		sink = pgSink
	}
	async := analytics.NewAsync(sink, cfg.AnalyticsBuffer, log)
	async.Start()

	scorer, err := matching.NewScorer()
	if err != nil {
		log.Fatal("build scorer", "error", err)
	}

	svc := matching.NewService(matching.ServiceDeps{
		Profiles:  profile.NewRedisStore(rdb),
		Queue:     matching.NewRedisQueue(rdb, cfg.EntryRetention),
		Selector:  matching.NewSelector(scorer),
		Analytics: async,
		Bus:       natsClient,
		Limiter:   ratelimit.NewLimiter(rdb, ratelimit.MatchRule(cfg.RateLimit, cfg.RateWindow), log),
		Log:       log,
	}, matching.ServiceConfig{
		MatchTimeout:       cfg.MatchTimeout,
		MatchInterval:      cfg.MatchInterval,
		SweepInterval:      cfg.SweepInterval,
		ProfileConcurrency: cfg.ProfileConcurrency,
		ClaimRetries:       cfg.ClaimRetries,
	})
	if err := svc.Start(); err != nil {
		log.Fatal("start matching service", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if pgSink != nil {
		mux.Handle("/stats/match-rate", analytics.MatchRateHandler(pgSink, log))
	}
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "error", err)
		}
	}()

	log.Info("peermatch matcher running",
		"redis_addr", cfg.RedisAddr,
		"nats_url", cfg.NATSURL,
		"metrics_addr", cfg.MetricsAddr,
		"analytics", cfg.AnalyticsSink)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	svc.Stop()
	natsClient.Close()
	async.Close()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", "error", err)
	}
	if db != nil {
		db.Close()
	}
	rdb.Close()
}
