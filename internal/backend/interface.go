package backend

import (
	"context"

	"sheetledger/internal/sheets"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the grid store, the optional per-day aggregator
// and an optional cleanup function.
type BackendResult struct {
	Store      sheets.GridStore
	Aggregator sheets.DailyAggregator
	Cleanup    CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// Ledger layout; seeds empty local stores and drives the computed
	// per-day figure
	Sheet        string
	Header       string
	HeaderRow    int
	FirstDataRow int

	// Google Sheets specific
	SpreadsheetID string

	// xlsx specific
	XLSXPath string

	// Per-day figure: none, cell (sheets only) or computed
	PerDayMode  string
	PerDayRange string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SheetsBackend BackendType = "sheets"
	XLSXBackend   BackendType = "xlsx"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SheetsBackend, XLSXBackend:
		return true
	default:
		return false
	}
}
