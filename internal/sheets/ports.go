package sheets

import (
	"context"

	"sheetledger/internal/core"
)

// Ports for outbound adapters.
type (
	// GridStore reads and writes raw cell ranges of a spreadsheet.
	GridStore interface {
		// GetValues returns every populated row of the sheet; an empty
		// sheet yields an empty grid.
		GetValues(ctx context.Context, sheet string) (core.Grid, error)
		// GetMergeRegions returns the merged ranges of the sheet.
		GetMergeRegions(ctx context.Context, sheet string) ([]core.MergeRegion, error)
		// UpdateRange writes one row of cells at a one-based A1 address.
		// Numeric strings are stored as numbers.
		UpdateRange(ctx context.Context, sheet, address string, values core.Row) (updatedCells int, err error)
		// ClearRange blanks a rectangular range.
		ClearRange(ctx context.Context, sheet, address string) error
	}

	// DailyAggregator returns today's spend figure maintained outside the ledger core.
	DailyAggregator interface {
		PerDay(ctx context.Context) (float64, error)
	}
)
