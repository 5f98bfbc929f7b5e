package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"sheetledger/internal/amqp"
	"sheetledger/internal/cli"
	apphttp "sheetledger/internal/http"
	applog "sheetledger/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	l, err := cli.BuildLedger(startCtx, logger, cfg)
	cancelStart()
	if err != nil {
		logger.Error("Failed to initialize ledger", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer l.Cleanup()

	opts := []apphttp.Option{
		apphttp.WithLogger(logger.WithComponent(applog.ComponentHTTP)),
		apphttp.WithRateLimit(cfg.RateLimitPerMinute),
		apphttp.WithCORS(cfg.CORSAllowedOrigins),
	}
	if l.Journal != nil {
		opts = append(opts, apphttp.WithJournal(l.Journal))
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		dialCtx, cancelDial := context.WithTimeout(context.Background(), 30*time.Second)
		amqpClient, err = amqp.NewClient(dialCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		cancelDial()
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		opts = append(opts, apphttp.WithPublisher(amqpClient, cfg.AsyncAppend))
		logger.Info("Queued appends enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue, "async_default", cfg.AsyncAppend)
	}

	srv := apphttp.NewServer(":"+cfg.Port, l.Service, opts...)
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
	})

	logger.Info("Starting sheetledger server",
		applog.FieldOperation, applog.OpStartup,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"sheet", cfg.TransactionSheet,
		"header", cfg.TransactionHeader,
		"per_day_mode", cfg.PerDayMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
