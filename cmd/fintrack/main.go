package main

import (
	"context"
	"errors"
	"os"

	"fintrack/internal/cli"
	"fintrack/internal/commands"
	"fintrack/internal/config"
	"fintrack/internal/export"
	"fintrack/internal/metrics"
	"fintrack/internal/services"
	"fintrack/internal/session"
)

var version = "dev"

func main() {
	cli.LoadEnvFile()

	// stdout belongs to command output
	logger := cli.SetupLogger(config.Load(), os.Stderr)

	open := func(ctx context.Context) (*commands.App, error) {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return nil, err
		}

		repo, err := cli.InitSQLite(cfg.SQLiteDBPath)
		if err != nil {
			return nil, err
		}
		store, closeStore, err := cli.OpenSessionStore(cfg, repo)
		if err != nil {
			repo.Close()
			return nil, err
		}

		client, err := cli.NewRemoteClient(cfg, metrics.NoOpCollector{}, logger)
		if err != nil {
			closeStore()
			repo.Close()
			return nil, err
		}

		var notifier services.Notifier
		amqpClient, err := cli.DialAMQP(cfg, logger)
		if err != nil {
			// the worker's poll picks queued saves up without the wake-up
			logger.Warn("Continuing without AMQP", "error", err)
		} else if amqpClient != nil {
			notifier = amqpClient
		}

		app := &commands.App{
			Transactions: cli.NewTransactionService(cfg, client, repo, notifier, metrics.NoOpCollector{}, logger),
			Accounts:     services.NewAccountService(client, logger),
			Session:      session.New(store),
			Location:     cfg.Location(),
			Sheets: func(ctx context.Context) (commands.SheetsAppender, error) {
				if err := cfg.ValidateSheets(); err != nil {
					return nil, err
				}
				return export.NewSheetsExporter(ctx, export.SheetsConfig{
					SpreadsheetID:   cfg.GoogleSpreadsheetID,
					SheetName:       cfg.GoogleSheetName,
					CredentialsFile: cfg.GoogleCredentialsFile,
					CredentialsJSON: cfg.GoogleCredentialsJSON,
					Location:        cfg.Location(),
					Logger:          logger,
				})
			},
			Close: func() error {
				var errs []error
				if amqpClient != nil {
					errs = append(errs, amqpClient.Close())
				}
				errs = append(errs, closeStore(), repo.Close())
				return errors.Join(errs...)
			},
		}
		return app, nil
	}

	if err := commands.NewRootCommand(open, version).Execute(); err != nil {
		os.Exit(1)
	}
}
