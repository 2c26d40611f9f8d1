package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sony/gobreaker"

	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/services"
	"fintrack/internal/session"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg, os.Stdout)
	if err := cfg.ValidateServer(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheus("fintrack")
	if err := collector.Register(registry); err != nil {
		logger.Error("Failed to register metrics", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := cli.InitSQLite(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	store, closeStore, err := cli.OpenSessionStore(cfg, repo)
	if err != nil {
		logger.Error("Failed to open session store", log.FieldError, err, "backend", cfg.SessionBackend)
		os.Exit(1)
	}

	client, err := cli.NewRemoteClient(cfg, collector, logger)
	if err != nil {
		logger.Error("Failed to create data service client", log.FieldError, err)
		os.Exit(1)
	}

	var notifier services.Notifier
	amqpClient, err := cli.DialAMQP(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	if amqpClient != nil {
		notifier = amqpClient
	}

	txns := cli.NewTransactionService(cfg, client, repo, notifier, collector, logger)
	caches := cache.NewManager(logger)
	caches.Register(txns.Cache())
	caches.StartCleanup(time.Minute)

	tokens, err := apphttp.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("Failed to configure API tokens", log.FieldError, err)
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Transactions: txns,
		Accounts:     services.NewAccountService(client, logger),
		Sessions: func(userID string) *session.Session {
			return session.New(store, session.WithNamespace(userID))
		},
		Tokens:   tokens,
		Metrics:  collector,
		Gatherer: registry,
		ReadyChecks: map[string]apphttp.ReadyCheck{
			"storage":  repo.Ping,
			"sessions": store.Ping,
			"data_service": func(context.Context) error {
				if client.BreakerState() == gobreaker.StateOpen {
					return errors.New("circuit breaker open")
				}
				return nil
			},
		},
		Logger:         logger,
		RateLimitRPM:   cfg.RateLimitRPM,
		TrustedProxies: cfg.TrustedProxies,
		Location:       cfg.Location(),
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if amqpClient != nil {
			amqpClient.Close()
		}
		if err := closeStore(); err != nil {
			logger.Error("Session store close error", log.FieldError, err)
		}
		repo.Close()
	})

	go func() {
		logger.Info("Starting fintrack server", "port", cfg.Port, "session_backend", cfg.SessionBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
