package memory

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"sheetledger/internal/core"
	"sheetledger/internal/grid"
	ports "sheetledger/internal/sheets"
)

var _ ports.GridStore = (*Store)(nil)

type sheet struct {
	rows   core.Grid
	merges []core.MergeRegion
}

// Store is an in-process GridStore. Writes mimic the Sheets USER_ENTERED
// input option: numeric strings are stored as numbers.
type Store struct {
	mu     sync.Mutex
	sheets map[string]*sheet
	// Fail, when set, is returned by every call. Used by tests.
	Fail error
}

func New() *Store {
	return &Store{sheets: map[string]*sheet{}}
}

// NewLedger returns a store holding one sheet with the given header row.
func NewLedger(name string, headers ...string) *Store {
	s := New()
	s.SetSheet(name, core.Grid{core.RowFromStrings(headers...)})
	return s
}

// SetSheet replaces the content of a sheet.
func (s *Store) SetSheet(name string, g core.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh := s.sheetLocked(name)
	sh.rows = cloneGrid(g)
}

// AddMerge registers a merged region on a sheet.
func (s *Store) AddMerge(name string, m core.MergeRegion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh := s.sheetLocked(name)
	sh.merges = append(sh.merges, m)
}

// Snapshot returns a copy of the sheet content, trailing blank rows trimmed.
func (s *Store) Snapshot(name string) core.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.sheets[name]
	if !ok {
		return nil
	}
	return trimGrid(cloneGrid(sh.rows))
}

func (s *Store) GetValues(_ context.Context, name string) (core.Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, core.NewStoreError("get values", name, s.Fail)
	}
	sh, ok := s.sheets[name]
	if !ok {
		return nil, core.NewStoreError("get values", name, fmt.Errorf("sheet %q does not exist", name))
	}
	return trimGrid(cloneGrid(sh.rows)), nil
}

func (s *Store) GetMergeRegions(_ context.Context, name string) ([]core.MergeRegion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, core.NewStoreError("get merges", name, s.Fail)
	}
	sh, ok := s.sheets[name]
	if !ok {
		return nil, core.NewStoreError("get merges", name, fmt.Errorf("sheet %q does not exist", name))
	}
	return append([]core.MergeRegion(nil), sh.merges...), nil
}

func (s *Store) UpdateRange(_ context.Context, name, address string, values core.Row) (int, error) {
	fromCol, fromRow, _, _, err := grid.ParseRange(address)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, core.NewStoreError("update", name, s.Fail)
	}
	sh, ok := s.sheets[name]
	if !ok {
		return 0, core.NewStoreError("update", name, fmt.Errorf("sheet %q does not exist", name))
	}
	r := fromRow - 1
	for len(sh.rows) <= r {
		sh.rows = append(sh.rows, core.Row{})
	}
	row := sh.rows[r]
	for len(row) < fromCol+len(values) {
		row = append(row, core.Absent())
	}
	for i, v := range values {
		row[fromCol+i] = userEntered(v)
	}
	sh.rows[r] = row
	return len(values), nil
}

func (s *Store) ClearRange(_ context.Context, name, address string) error {
	fromCol, fromRow, toCol, toRow, err := grid.ParseRange(address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return core.NewStoreError("clear", name, s.Fail)
	}
	sh, ok := s.sheets[name]
	if !ok {
		return core.NewStoreError("clear", name, fmt.Errorf("sheet %q does not exist", name))
	}
	for r := fromRow - 1; r < toRow && r < len(sh.rows); r++ {
		row := sh.rows[r]
		for c := fromCol; c <= toCol && c < len(row); c++ {
			row[c] = core.Absent()
		}
	}
	return nil
}

func (s *Store) sheetLocked(name string) *sheet {
	sh, ok := s.sheets[name]
	if !ok {
		sh = &sheet{}
		s.sheets[name] = sh
	}
	return sh
}

// userEntered converts numeric text the way the Sheets UI would.
func userEntered(c core.Cell) core.Cell {
	if c.Kind != core.CellText {
		return c
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(c.Str), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return core.Number(f)
	}
	return c
}

func cloneGrid(g core.Grid) core.Grid {
	out := make(core.Grid, len(g))
	for i, r := range g {
		out[i] = append(core.Row(nil), r...)
	}
	return out
}

// trimGrid drops trailing blank cells and rows, matching what the Sheets
// values endpoint returns.
func trimGrid(g core.Grid) core.Grid {
	for i, r := range g {
		n := len(r)
		for n > 0 && r[n-1].Kind == core.CellAbsent {
			n--
		}
		g[i] = r[:n]
	}
	n := len(g)
	for n > 0 && len(g[n-1]) == 0 {
		n--
	}
	return g[:n]
}
