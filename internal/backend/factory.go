package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sheetledger/internal/config"
	"sheetledger/internal/core"
	"sheetledger/internal/ledger"
	gsheet "sheetledger/internal/sheets/google"
	"sheetledger/internal/sheets/memory"
	"sheetledger/internal/sheets/xlsx"
)

// ledgerColumns follows the transaction header in a freshly seeded sheet.
var ledgerColumns = []string{"Note", "Price", "Cash"}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, cfg Config) (*BackendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		res *BackendResult
		err error
	)
	switch cfg.Type {
	case SheetsBackend:
		res, err = f.createSheetsBackend(ctx, cfg)
	case XLSXBackend:
		res, err = f.createXLSXBackend(cfg)
	case MemoryBackend:
		res, err = f.createMemoryBackend(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.PerDayMode == config.PerDayComputed {
		res.Aggregator = ledger.NewComputedAggregator(res.Store, ledger.Config{
			Sheet:        cfg.Sheet,
			Header:       cfg.Header,
			HeaderRow:    cfg.HeaderRow,
			FirstDataRow: cfg.FirstDataRow,
		}, time.Now)
	}
	f.logger.Info("Initialized backend",
		"type", cfg.Type,
		"per_day_mode", cfg.PerDayMode,
		"aggregator", res.Aggregator != nil)
	return res, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, cfg Config) (*BackendResult, error) {
	cli, err := gsheet.NewFromEnv(ctx, cfg.SpreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	res := &BackendResult{Store: cli}
	if cfg.PerDayMode == config.PerDayCell {
		agg, err := gsheet.NewCellAggregator(cli, cfg.PerDayRange)
		if err != nil {
			return nil, fmt.Errorf("per-day cell: %w", err)
		}
		res.Aggregator = agg
	}

	f.logger.Info("Initialized Google Sheets backend", "spreadsheet_id", cfg.SpreadsheetID)
	return res, nil
}

func (f *DefaultFactory) createXLSXBackend(cfg Config) (*BackendResult, error) {
	var (
		store *xlsx.Store
		err   error
	)
	// New workbooks get the header on row 1 only.
	if cfg.HeaderRow <= 1 {
		store, err = xlsx.Create(cfg.XLSXPath, cfg.Sheet, seedHeaders(cfg)...)
	} else {
		store, err = xlsx.Open(cfg.XLSXPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workbook: %w", err)
	}

	f.logger.Info("Initialized xlsx backend", "path", cfg.XLSXPath)
	return &BackendResult{Store: store}, nil
}

func (f *DefaultFactory) createMemoryBackend(cfg Config) (*BackendResult, error) {
	store := memory.New()
	store.SetSheet(cfg.Sheet, seedGrid(cfg))

	f.logger.Info("Initialized memory backend", "sheet", cfg.Sheet)
	return &BackendResult{Store: store}, nil
}

func seedHeaders(cfg Config) []string {
	return append([]string{cfg.Header}, ledgerColumns...)
}

// seedGrid places the header row at cfg.HeaderRow, blank rows above it.
func seedGrid(cfg Config) core.Grid {
	g := make(core.Grid, 0, max(cfg.HeaderRow, 1))
	for r := 1; r < cfg.HeaderRow; r++ {
		g = append(g, core.Row{})
	}
	return append(g, core.RowFromStrings(seedHeaders(cfg)...))
}
