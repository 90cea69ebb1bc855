package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/api"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/config"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/db"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/directory"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/notify"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/observability/metrics"
	redisclient "github.com/LambdaCodeStudio/Clinica-Backend/internal/redis"
	"github.com/LambdaCodeStudio/Clinica-Backend/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", "prod")
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Component(logging.New(cfg.LogLevel, cfg.Env), "api-server")
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "clinic-api-server"})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedMetrics := metrics.NewSchedulerMetrics(registry)

	runner := db.NewTxRunner(pgPool, cfg.TxMaxRetries).OnRetry(func(attempt int, err error) {
		schedMetrics.ObserveTxRetry()
		logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying serializable transaction")
	})
	repo := appointment.NewPgRepository(pgPool, runner)

	var treatments appointment.TreatmentCatalog = directory.NewTreatments(pgPool)
	if cfg.TreatmentCacheTTL > 0 {
		treatments = directory.NewCachedTreatmentCatalog(treatments, rdb, cfg.TreatmentCacheTTL, schedMetrics,
			logging.Component(logger, "treatment-cache"))
	}
	patients := directory.NewPatients(pgPool)

	email, err := newEmailSender(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("email sender setup error")
	}
	sms, err := newSMSSender(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("sms sender setup error")
	}

	dispatcher := notify.NewDispatcher(patients, repo, email, sms, notify.DispatcherConfig{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
		Timeout:   cfg.NotifyTimeout,
		Location:  cfg.ClinicLocation,
	}, schedMetrics, logging.Component(logger, "notify"))
	dispatcher.Start()

	svc := appointment.NewService(appointment.Dependencies{
		Repo:          repo,
		Locker:        redisclient.NewRedisPractitionerLocker(rdb, cfg.LockTTL, cfg.LockRetries),
		Patients:      patients,
		Practitioners: directory.NewPractitioners(pgPool),
		Treatments:    treatments,
		Notifier:      dispatcher,
		Metrics:       schedMetrics,
		Logger:        logging.Component(logger, "scheduler"),
	}, cfg)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Health:  api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:  logging.Component(logger, "http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		logger.Error().Err(err).Msg("http server error")
	}

	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notification queue not drained before shutdown")
	}

	logger.Info().Msg("api-server stopped")
}

func newEmailSender(ctx context.Context, cfg config.Config, logger zerolog.Logger) (notify.EmailSender, error) {
	emailLogger := logging.Component(logger, "email")

	switch cfg.EmailProvider {
	case config.EmailProviderSendGrid:
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, emailLogger), nil
	case config.EmailProviderSES:
		awsCfg, err := config.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, emailLogger), nil
	default:
		return notify.NewStubEmailSender(emailLogger), nil
	}
}

func newSMSSender(cfg config.Config, logger zerolog.Logger) (notify.SMSSender, error) {
	if cfg.SMSGatewayURL == "" {
		return notify.NewStubSMSSender(logging.Component(logger, "sms")), nil
	}
	return notify.NewHTTPSMSSender(notify.HTTPSMSConfig{
		BaseURL: cfg.SMSGatewayURL,
		APIKey:  cfg.SMSAPIKey,
		From:    cfg.SMSFrom,
	})
}
