// Package ledger implements the transaction ledger on top of a GridStore:
// append, undo of the last entry, reading the latest entries and the
// coordinate lookups the HTTP API exposes.
//
// Every operation fetches the sheet fresh; nothing about the grid is cached
// between calls.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sheetledger/internal/core"
	"sheetledger/internal/grid"
	ports "sheetledger/internal/sheets"
)

const (
	DefaultSheet        = "T"
	DefaultHeader       = "Date"
	DefaultHeaderRow    = 1
	DefaultFirstDataRow = 2

	// maxVerifyAttempts bounds how often Append re-reads the target cell
	// before giving up with core.ErrConflict.
	maxVerifyAttempts = 3
)

// Config locates the ledger inside the spreadsheet.
type Config struct {
	Sheet        string
	Header       string
	HeaderRow    int
	FirstDataRow int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Sheet) == "" {
		c.Sheet = DefaultSheet
	}
	if strings.TrimSpace(c.Header) == "" {
		c.Header = DefaultHeader
	}
	if c.HeaderRow < 1 {
		c.HeaderRow = DefaultHeaderRow
	}
	if c.FirstDataRow <= c.HeaderRow {
		c.FirstDataRow = c.HeaderRow + 1
	}
	return c
}

// Journal receives an audit entry after each successful mutation.
type Journal interface {
	Record(ctx context.Context, e core.JournalEntry) error
}

type (
	// AppendResult reports where a transaction was written.
	AppendResult struct {
		Sheet           string    `json:"sheet"`
		Cell            string    `json:"cell"`
		Range           string    `json:"range"`
		Row             int       `json:"row"`
		Day             core.Cell `json:"day"`
		Note            string    `json:"note"`
		Price           float64   `json:"price"`
		PaidByCash      bool      `json:"paidByCash"`
		CountForSummary bool      `json:"countForSummary"`
		UpdatedCells    int       `json:"updatedCells"`
		PerDayBefore    *float64  `json:"perDayBefore,omitempty"`
		PerDayAfter     *float64  `json:"perDayAfter,omitempty"`
	}

	// UndoResult reports the row that was cleared.
	UndoResult struct {
		Sheet       string           `json:"sheet"`
		Range       string           `json:"range"`
		Row         int              `json:"row"`
		Transaction core.Transaction `json:"transaction"`
	}

	// Entry is a decoded ledger row.
	Entry struct {
		Row int `json:"row"`
		core.Transaction
	}

	// CellResult is the answer of FirstEmptyCell.
	CellResult struct {
		Sheet  string `json:"sheet"`
		Column string `json:"column"`
		Row    int    `json:"row"`
		Cell   string `json:"cell"`
	}
)

// Service runs ledger operations against a GridStore.
type Service struct {
	store      ports.GridStore
	aggregator ports.DailyAggregator
	journal    Journal
	cfg        Config
	now        func() time.Time

	// mu serializes appends and undos issued through this Service.
	mu sync.Mutex
}

type Option func(*Service)

// WithAggregator sets the source of the per-day figure reported by Append.
func WithAggregator(a ports.DailyAggregator) Option {
	return func(s *Service) { s.aggregator = a }
}

func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithClock overrides time.Now, used to stamp the default day.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store ports.GridStore, cfg Config, opts ...Option) *Service {
	s := &Service{store: store, cfg: cfg.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Append writes the transaction into the first empty row of the ledger.
func (s *Service) Append(ctx context.Context, in core.NewTransaction) (AppendResult, error) {
	if err := in.Validate(); err != nil {
		return AppendResult{}, err
	}
	day, err := in.DayCell(s.now())
	if err != nil {
		return AppendResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sheet := s.cfg.Sheet
	values, merges, err := s.fetch(ctx, sheet)
	if err != nil {
		return AppendResult{}, err
	}
	col, err := grid.ResolveHeaderColumn(values, s.cfg.Header, s.cfg.HeaderRow)
	if err != nil {
		return AppendResult{}, err
	}
	target := grid.FirstEmptyRow(values, col.Index, merges, s.cfg.FirstDataRow)

	before := s.perDay(ctx)

	for attempt := 1; ; attempt++ {
		fresh, err := s.store.GetValues(ctx, sheet)
		if err != nil {
			return AppendResult{}, err
		}
		if fresh.At(target-1, col.Index).IsBlank() {
			break
		}
		if attempt >= maxVerifyAttempts {
			return AppendResult{}, fmt.Errorf("append target %s%d kept changing after %d attempts: %w",
				col.Letter, target, attempt, core.ErrConflict)
		}
		moved := grid.FirstEmptyRow(fresh, col.Index, merges, s.cfg.FirstDataRow)
		slog.WarnContext(ctx, "Append target was filled concurrently, rescanning",
			"sheet", sheet, "row", target, "new_row", moved, "attempt", attempt)
		target = moved
	}

	row := grid.EncodeTransaction(day, in.Note, in.Price, in.PaidByCash)
	rng := grid.RowRange(target, col.Index, len(row))
	updated, err := s.store.UpdateRange(ctx, sheet, rng, row)
	if err != nil {
		return AppendResult{}, err
	}

	res := AppendResult{
		Sheet:           sheet,
		Cell:            grid.CellAddress(col.Index, target),
		Range:           rng,
		Row:             target,
		Day:             day,
		Note:            in.Note,
		Price:           in.Price,
		PaidByCash:      in.PaidByCash,
		CountForSummary: in.CountForSummary,
		UpdatedCells:    updated,
		PerDayBefore:    before,
		PerDayAfter:     s.perDay(ctx),
	}
	if in.CountForSummary {
		slog.InfoContext(ctx, "Summary mirroring requested but not supported, ignoring", "cell", res.Cell)
	}
	slog.InfoContext(ctx, "Transaction appended",
		"sheet", sheet, "range", rng, "day", day.String(), "price", in.Price, "cash", in.PaidByCash)

	s.record(ctx, core.JournalEntry{
		Op:         core.JournalAppend,
		Sheet:      sheet,
		Range:      rng,
		Day:        day.String(),
		Note:       in.Note,
		Price:      in.Price,
		PaidByCash: in.PaidByCash,
	})
	return res, nil
}

// UndoLast clears the full row of the bottom-most transaction. Rows above
// are not shifted, so the ledger may be left with a hole.
func (s *Service) UndoLast(ctx context.Context) (UndoResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sheet := s.cfg.Sheet
	values, err := s.store.GetValues(ctx, sheet)
	if err != nil {
		return UndoResult{}, err
	}
	if len(values) == 0 {
		return UndoResult{}, fmt.Errorf("undo on empty sheet %q: %w", sheet, core.ErrNoTransactions)
	}
	col, err := grid.ResolveHeaderColumn(values, s.cfg.Header, s.cfg.HeaderRow)
	if err != nil {
		return UndoResult{}, err
	}
	r := grid.LastOccupiedRow(values, col.Index, s.cfg.FirstDataRow)
	if r < 0 {
		return UndoResult{}, fmt.Errorf("undo on sheet %q: %w", sheet, core.ErrNoTransactions)
	}

	width := max(values.Width(), col.Index+grid.TransactionWidth)
	rng := grid.CellAddress(0, r+1) + ":" + grid.CellAddress(width-1, r+1)
	tx := grid.DecodeTransaction(values[r], col.Index)
	if err := s.store.ClearRange(ctx, sheet, rng); err != nil {
		return UndoResult{}, err
	}
	slog.InfoContext(ctx, "Transaction removed", "sheet", sheet, "range", rng, "note", tx.Note)

	s.record(ctx, core.JournalEntry{
		Op:         core.JournalUndo,
		Sheet:      sheet,
		Range:      rng,
		Day:        tx.Day.String(),
		Note:       tx.Note,
		Price:      tx.Price,
		PaidByCash: tx.PaidByCash,
	})
	return UndoResult{Sheet: sheet, Range: rng, Row: r + 1, Transaction: tx}, nil
}

// Last returns the bottom-most transaction.
func (s *Service) Last(ctx context.Context) (Entry, error) {
	entries, err := s.LastN(ctx, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("last on sheet %q: %w", s.cfg.Sheet, core.ErrNoTransactions)
	}
	return entries[0], nil
}

// LastN returns up to n transactions, newest (bottom-most) first. Rows whose
// transaction cell is empty are skipped.
func (s *Service) LastN(ctx context.Context, n int) ([]Entry, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1, got %d", core.ErrInvalidFormat, n)
	}
	values, err := s.store.GetValues(ctx, s.cfg.Sheet)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []Entry{}, nil
	}
	col, err := grid.ResolveHeaderColumn(values, s.cfg.Header, s.cfg.HeaderRow)
	if err != nil {
		return nil, err
	}
	rows := grid.OccupiedRows(values, col.Index, s.cfg.FirstDataRow)
	out := make([]Entry, 0, min(n, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(out) < n; i-- {
		r := rows[i]
		out = append(out, Entry{Row: r + 1, Transaction: grid.DecodeTransaction(values[r], col.Index)})
	}
	return out, nil
}

// PreviousColumnByValue locates value in sheet and returns the column to
// its left. An empty sheet name means the ledger sheet.
func (s *Service) PreviousColumnByValue(ctx context.Context, sheet, value string) (grid.Location, error) {
	sheet = s.sheetOrDefault(sheet)
	values, err := s.store.GetValues(ctx, sheet)
	if err != nil {
		return grid.Location{}, err
	}
	return grid.LocatePreviousColumn(values, value)
}

// FirstEmptyCell returns the first blank, unmerged cell of column at or
// after startRow.
func (s *Service) FirstEmptyCell(ctx context.Context, sheet, column string, startRow int) (CellResult, error) {
	sheet = s.sheetOrDefault(sheet)
	idx, err := grid.LetterToIndex(strings.TrimSpace(column))
	if err != nil {
		return CellResult{}, err
	}
	values, merges, err := s.fetch(ctx, sheet)
	if err != nil {
		return CellResult{}, err
	}
	row := grid.FirstEmptyRow(values, idx, merges, startRow)
	letter := grid.IndexToLetter(idx)
	return CellResult{Sheet: sheet, Column: letter, Row: row, Cell: letter + fmt.Sprint(row)}, nil
}

// Ping fetches the ledger header, used for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	values, err := s.store.GetValues(ctx, s.cfg.Sheet)
	if err != nil {
		return err
	}
	_, err = grid.ResolveHeaderColumn(values, s.cfg.Header, s.cfg.HeaderRow)
	return err
}

// MonthMarker formats t as "<zero-based month>/<year>", the label the
// summary sheets use for the current month column.
func MonthMarker(t time.Time) string {
	return fmt.Sprintf("%d/%d", int(t.Month())-1, t.Year())
}

func (s *Service) sheetOrDefault(sheet string) string {
	if sheet = strings.TrimSpace(sheet); sheet != "" {
		return sheet
	}
	return s.cfg.Sheet
}

// fetch reads values and merge regions of a sheet concurrently.
func (s *Service) fetch(ctx context.Context, sheet string) (core.Grid, []core.MergeRegion, error) {
	var (
		values core.Grid
		merges []core.MergeRegion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		values, err = s.store.GetValues(gctx, sheet)
		return err
	})
	g.Go(func() error {
		var err error
		merges, err = s.store.GetMergeRegions(gctx, sheet)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return values, merges, nil
}

// perDay reads the daily figure; failures are logged and reported as nil
// so they never block a write.
func (s *Service) perDay(ctx context.Context) *float64 {
	if s.aggregator == nil {
		return nil
	}
	v, err := s.aggregator.PerDay(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read per-day aggregate", "error", err)
		return nil
	}
	return &v
}

func (s *Service) record(ctx context.Context, e core.JournalEntry) {
	if s.journal == nil {
		return
	}
	e.CreatedAt = s.now().UTC()
	if err := s.journal.Record(ctx, e); err != nil {
		slog.ErrorContext(ctx, "Failed to record journal entry", "op", e.Op, "range", e.Range, "error", err)
	}
}
