package grid

import (
	"fmt"
	"strings"

	"sheetledger/internal/core"
)

// Column is a resolved column in both encodings.
type Column struct {
	Index  int
	Letter string
}

// Location describes a cell matched by LocatePreviousColumn.
type Location struct {
	Column         string `json:"column"`
	Row            int    `json:"row"`
	CellAddress    string `json:"cellAddress"`
	PreviousColumn string `json:"previousColumn"`
}

// ResolveHeaderColumn finds the column whose cell in headerRow (one-based)
// equals label after trimming both sides.
func ResolveHeaderColumn(g core.Grid, label string, headerRow int) (Column, error) {
	if headerRow < 1 {
		headerRow = 1
	}
	want := strings.TrimSpace(label)
	if headerRow <= len(g) {
		for c, cell := range g[headerRow-1] {
			if cell.IsBlank() {
				continue
			}
			if cell.TrimmedString() == want {
				return Column{Index: c, Letter: IndexToLetter(c)}, nil
			}
		}
	}
	return Column{}, fmt.Errorf("header %q in row %d: %w", want, headerRow, core.ErrHeaderNotFound)
}

// LocatePreviousColumn scans rows top to bottom and cells left to right for
// the first cell whose trimmed text equals value, and returns the column to
// its left. A match in column A fails with core.ErrNoPreviousColumn; no
// match fails with core.ErrValueNotFound.
func LocatePreviousColumn(g core.Grid, value string) (Location, error) {
	want := strings.TrimSpace(value)
	for r, row := range g {
		for c, cell := range row {
			if cell.TrimmedString() != want {
				continue
			}
			if c == 0 {
				return Location{}, fmt.Errorf("value %q found in column A: %w", want, core.ErrNoPreviousColumn)
			}
			letter := IndexToLetter(c)
			return Location{
				Column:         letter,
				Row:            r + 1,
				CellAddress:    CellAddress(c, r+1),
				PreviousColumn: IndexToLetter(c - 1),
			}, nil
		}
	}
	return Location{}, fmt.Errorf("value %q: %w", want, core.ErrValueNotFound)
}
