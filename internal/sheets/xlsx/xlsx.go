// Package xlsx stores the ledger in a local Excel workbook.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"sheetledger/internal/core"
	ports "sheetledger/internal/sheets"
)

var _ ports.GridStore = (*Store)(nil)

// Store is a GridStore over one .xlsx file. The workbook is opened for
// every call so edits made in a spreadsheet application are picked up.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a store for an existing workbook.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Store{path: path}, nil
}

// Create writes a new workbook holding sheet with a header row, unless the
// file already exists, and returns a store for it.
func Create(path, sheet string, headers ...string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return &Store{path: path}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat workbook: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("save workbook: %w", err)
	}
	slog.Info("Created ledger workbook", "path", path, "sheet", sheet)
	return &Store{path: path}, nil
}

func (s *Store) GetValues(_ context.Context, sheet string) (core.Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var g core.Grid
	err := s.read(func(f *excelize.File) error {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return err
		}
		g = gridFromRows(rows)
		return nil
	})
	if err != nil {
		return nil, core.NewStoreError("get values", sheet, err)
	}
	return g, nil
}

func (s *Store) GetMergeRegions(_ context.Context, sheet string) ([]core.MergeRegion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MergeRegion
	err := s.read(func(f *excelize.File) error {
		merged, err := f.GetMergeCells(sheet)
		if err != nil {
			return err
		}
		for _, m := range merged {
			region, err := mergeRegion(m.GetStartAxis(), m.GetEndAxis())
			if err != nil {
				return err
			}
			out = append(out, region)
		}
		return nil
	})
	if err != nil {
		return nil, core.NewStoreError("get merges", sheet, err)
	}
	return out, nil
}

// UpdateRange writes the row starting at the first cell of address.
// Numeric text is stored as a number.
func (s *Store) UpdateRange(_ context.Context, sheet, address string, values core.Row) (int, error) {
	start, _, _ := strings.Cut(address, ":")
	col, row, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidFormat, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.write(func(f *excelize.File) error {
		if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
			return fmt.Errorf("sheet %q does not exist", sheet)
		}
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+i, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, userEntered(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, core.NewStoreError("update "+address, sheet, err)
	}
	return len(values), nil
}

func (s *Store) ClearRange(_ context.Context, sheet, address string) error {
	start, end, found := strings.Cut(address, ":")
	if !found {
		end = start
	}
	fromCol, fromRow, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidFormat, err)
	}
	toCol, toRow, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidFormat, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.write(func(f *excelize.File) error {
		for r := fromRow; r <= toRow; r++ {
			for c := fromCol; c <= toCol; c++ {
				cell, err := excelize.CoordinatesToCellName(c, r)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(sheet, cell, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return core.NewStoreError("clear "+address, sheet, err)
	}
	return nil
}

func (s *Store) read(fn func(*excelize.File) error) error {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

func (s *Store) write(fn func(*excelize.File) error) error {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return err
	}
	return f.Save()
}

func mergeRegion(startAxis, endAxis string) (core.MergeRegion, error) {
	c1, r1, err := excelize.CellNameToCoordinates(startAxis)
	if err != nil {
		return core.MergeRegion{}, err
	}
	c2, r2, err := excelize.CellNameToCoordinates(endAxis)
	if err != nil {
		return core.MergeRegion{}, err
	}
	// excelize axes are one-based and inclusive.
	return core.MergeRegion{StartRow: r1 - 1, EndRow: r2, StartCol: c1 - 1, EndCol: c2}, nil
}

// gridFromRows converts raw cell strings, trimming trailing blanks the way
// the Sheets values endpoint does.
func gridFromRows(rows [][]string) core.Grid {
	g := make(core.Grid, 0, len(rows))
	last := -1
	for i, raw := range rows {
		n := len(raw)
		for n > 0 && raw[n-1] == "" {
			n--
		}
		row := make(core.Row, n)
		for j := 0; j < n; j++ {
			row[j] = parseValue(raw[j])
		}
		g = append(g, row)
		if n > 0 {
			last = i
		}
	}
	return g[:last+1]
}

// parseValue reads a raw cell as a number when it looks like one.
func parseValue(s string) core.Cell {
	if s == "" {
		return core.Empty()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return core.Number(f)
	}
	return core.Text(s)
}

func userEntered(c core.Cell) any {
	switch c.Kind {
	case core.CellNumber:
		return c.Num
	case core.CellText:
		if f, err := strconv.ParseFloat(strings.TrimSpace(c.Str), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return c.Str
	default:
		return nil
	}
}
