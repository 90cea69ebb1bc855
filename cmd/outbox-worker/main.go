package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/config"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/db"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/events"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/observability/metrics"
	"github.com/LambdaCodeStudio/Clinica-Backend/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", "prod")
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Component(logging.New(cfg.LogLevel, cfg.Env), "outbox-worker")
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("batch_size", cfg.OutboxBatchSize).
		Msg("outbox worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, ApplicationName: "clinic-outbox-worker"})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	var handler events.DeliveryHandler = events.LogHandler{Logger: logger}
	if cfg.OutboxQueueURL != "" {
		awsCfg, err := config.LoadAWSConfig(rootCtx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("aws config error")
		}
		publisher, err := events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.OutboxQueueURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqs publisher setup error")
		}
		handler = publisher
		logger.Info().Str("queue_url", cfg.OutboxQueueURL).Msg("publishing domain events to SQS")
	} else {
		logger.Warn().Msg("OUTBOX_QUEUE_URL not set, domain events are only logged")
	}

	deliverer := events.NewDeliverer(
		events.NewOutboxStore(pgPool),
		handler,
		metrics.NewSchedulerMetrics(prometheus.DefaultRegisterer),
		logger,
	).WithBatchSize(int32(cfg.OutboxBatchSize)).WithInterval(cfg.WorkerInterval)

	deliverer.Start(rootCtx)

	logger.Info().Msg("shutdown signal received, outbox worker stopped")
}
