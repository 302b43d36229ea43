package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/config"
	"github.com/nadmax/ecotask/internal/job"
	"github.com/nadmax/ecotask/internal/queue"
	"github.com/nadmax/ecotask/internal/repository/postgres"
	"github.com/nadmax/ecotask/internal/worker"
	"github.com/nadmax/ecotask/internal/worker/handlers"
	"github.com/rs/zerolog/log"
)

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

	store, err := postgres.NewStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Postgres store")
		}
	}()

	q, err := queue.NewQueue(cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close worker queue")
		}
	}()

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}

	svc := accounting.NewService(store, co2.NewCalculator(rates), accounting.WithNotifier(q))

	w := worker.NewWorker(workerID, q)
	w.RegisterHandler(job.TypeRecalculate, handlers.NewRecalculateHandler(svc).Handle)
	w.RegisterHandler(job.TypeReport, handlers.NewReportGenerator(store, cfg.ReportDir).GenerateReportHandler)
	w.RegisterHandler(job.TypeEmissionAlert, alertHandler(cfg.Email).Handle)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("worker_id", workerID).Str("redis", cfg.RedisAddr).Msg("worker starting")
	w.Start(ctx)
}

// alertHandler sends alerts through SendGrid. Without an API key the alerts
// are only logged.
func alertHandler(email config.EmailConfig) *handlers.EmissionAlertHandler {
	alertCfg := handlers.AlertConfig{
		FromName:    email.FromName,
		FromAddress: email.FromAddress,
		Recipients:  email.Recipients,
	}

	if email.APIKey == "" {
		log.Warn().Msg("EMAIL_API_KEY not set, emission alerts will only be logged")
		alertCfg.Recipients = nil
	}

	return handlers.NewSendGridAlertHandler(email.APIKey, alertCfg)
}
