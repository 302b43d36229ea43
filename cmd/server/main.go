package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/api"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/config"
	"github.com/nadmax/ecotask/internal/middleware"
	"github.com/nadmax/ecotask/internal/queue"
	"github.com/nadmax/ecotask/internal/repository/postgres"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("ECOTASK_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.InitLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	rates, err := cfg.RateTable()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid emission rates")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Postgres store")
		}
	}()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	q, err := queue.NewQueue(cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close server queue")
		}
	}()

	svc := accounting.NewService(store, co2.NewCalculator(rates), accounting.WithNotifier(q))
	apiHandler := api.NewAPI(store, svc,
		api.WithQueue(q),
		api.WithStats(store),
		api.WithAllowedOrigin(cfg.FrontendURL),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", middleware.MetricsMiddleware(apiHandler))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go startMetricsCollector(ctx, q, store)

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("redis", cfg.RedisAddr).
			Str("frontend", cfg.FrontendURL).
			Msg("server starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
