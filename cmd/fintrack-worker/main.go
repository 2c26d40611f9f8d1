package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Starting fintrack-worker")

	registry := prometheus.NewRegistry()
	collector := metrics.NewPrometheus("fintrack_worker")
	if err := collector.Register(registry); err != nil {
		logger.Error("Failed to register metrics", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := cli.InitSQLite(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}

	client, err := cli.NewRemoteClient(cfg, collector, logger)
	if err != nil {
		logger.Error("Failed to create data service client", log.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := cli.DialAMQP(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	outbox := worker.NewOutboxWorker(repo, client, worker.Config{
		BatchSize:   cfg.SyncBatchSize,
		MaxAttempts: cfg.SyncMaxAttempts,
		Interval:    cfg.SyncInterval,
		Metrics:     collector,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Error("Metrics server shutdown error", log.FieldError, err)
		}
		if amqpClient != nil {
			amqpClient.Close()
		}
		repo.Close()
	})

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", log.FieldError, err, "port", cfg.Port)
		}
	}()

	// recover whatever piled up while the worker was down
	if err := outbox.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup outbox check", log.FieldError, err)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumePendingSaves(ctx, outbox.HandleMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed, relying on polling", log.FieldError, err)
			}
		}()
	} else {
		logger.Info("No broker configured, relying on polling", "interval", cfg.SyncInterval)
	}

	go func() {
		if err := outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Outbox worker stopped", log.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
