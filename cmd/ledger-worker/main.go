package main

import (
	"context"
	"os"
	"time"

	"sheetledger/internal/amqp"
	"sheetledger/internal/cli"
	applog "sheetledger/internal/log"
	"sheetledger/internal/worker"
)

// ledger-worker applies queued appends one at a time, making it the only
// writer of the ledger sheet when the HTTP server runs with ASYNC_APPEND.
func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting ledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the ledger worker")
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	l, err := cli.BuildLedger(startCtx, logger, cfg)
	if err != nil {
		cancelStart()
		logger.Error("Failed to initialize ledger", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer l.Cleanup()

	amqpClient, err := amqp.NewClient(startCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	cancelStart()
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Without a journal the worker cannot remember applied messages;
	// redelivered appends would then be written twice.
	var dedupe worker.Deduper
	if l.Journal != nil {
		dedupe = l.Journal
	} else {
		logger.Warn("JOURNAL_DB_PATH not set, queued appends are not deduplicated")
	}
	w := worker.NewAppendWorker(l.Service, dedupe)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	if err := w.Run(ctx, amqpClient); err != nil {
		logger.Error("Worker stopped", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
