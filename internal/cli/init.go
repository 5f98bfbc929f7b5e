// Package cli provides common initialization shared by cmd/sheetledger,
// cmd/ledger-worker and cmd/ledgerctl.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"sheetledger/internal/backend"
	"sheetledger/internal/config"
	"sheetledger/internal/ledger"
	applog "sheetledger/internal/log"
	"sheetledger/internal/storage"
)

// SetupLogger initializes structured logging for a component at the
// LOG_LEVEL from the environment and installs it as the default logger.
func SetupLogger(component string) *applog.Logger {
	level := applog.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger := applog.New(applog.Config{
		Level:     level,
		Component: component,
		Handler:   slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	})
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			applog.FieldOperation, applog.OpValidate,
			applog.FieldErrorType, applog.ErrorTypeConfiguration,
			applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitJournal opens the SQLite journal when a path is configured; a nil
// repository means journaling is disabled.
func InitJournal(logger *applog.Logger, dbPath string) (*storage.SQLiteRepository, error) {
	logger = logger.WithComponent(applog.ComponentJournal)
	if dbPath == "" {
		logger.Info("Journal disabled")
		return nil, nil
	}
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dbPath, err)
	}
	logger.Info("Journal enabled", "path", dbPath)
	return repo, nil
}

// Ledger bundles the service with what it was built from.
type Ledger struct {
	Service *ledger.Service
	Journal *storage.SQLiteRepository
	Cleanup func()
}

// BuildLedger creates the configured backend, the optional journal and
// the ledger service on top of them.
func BuildLedger(ctx context.Context, logger *applog.Logger, cfg *config.Config) (*Ledger, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, err
	}

	journal, err := InitJournal(logger, cfg.JournalDBPath)
	if err != nil {
		if res.Cleanup != nil {
			_ = res.Cleanup()
		}
		return nil, err
	}

	var opts []ledger.Option
	if res.Aggregator != nil {
		opts = append(opts, ledger.WithAggregator(res.Aggregator))
	}
	if journal != nil {
		opts = append(opts, ledger.WithJournal(journal))
	}

	svc := ledger.New(res.Store, ledger.Config{
		Sheet:        cfg.TransactionSheet,
		Header:       cfg.TransactionHeader,
		HeaderRow:    cfg.HeaderRow,
		FirstDataRow: cfg.FirstDataRow,
	}, opts...)

	return &Ledger{
		Service: svc,
		Journal: journal,
		Cleanup: func() {
			if journal != nil {
				if err := journal.Close(); err != nil {
					logger.Warn("Failed to close journal", "error", err)
				}
			}
			if res.Cleanup != nil {
				if err := res.Cleanup(); err != nil {
					logger.Warn("Backend cleanup failed", "error", err)
				}
			}
		},
	}, nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger = logger.With(applog.FieldOperation, applog.OpShutdown)
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
