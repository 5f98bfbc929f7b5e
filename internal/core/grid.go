package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CellKind tags the variant stored in a Cell.
type CellKind uint8

const (
	CellAbsent CellKind = iota
	CellEmpty
	CellNumber
	CellText
)

type (
	// Cell is one grid value. The zero value is an absent cell.
	Cell struct {
		Kind CellKind
		Num  float64
		Str  string
	}

	// Row is an ordered sequence of cells; it may be shorter than the sheet width.
	Row []Cell

	// Grid is the fetched content of a sheet, row 0 first.
	Grid []Row

	// MergeRegion is the half-open rectangle [StartRow,EndRow) x [StartCol,EndCol),
	// zero-based like the Sheets API GridRange.
	MergeRegion struct {
		StartRow int
		EndRow   int
		StartCol int
		EndCol   int
	}
)

// Absent returns a cell that was not present in the fetched data.
func Absent() Cell { return Cell{Kind: CellAbsent} }

// Empty returns an empty-string cell.
func Empty() Cell { return Cell{Kind: CellEmpty} }

// Number returns a numeric cell.
func Number(f float64) Cell { return Cell{Kind: CellNumber, Num: f} }

// Text returns a string cell. The empty string is normalized to Empty.
func Text(s string) Cell {
	if s == "" {
		return Empty()
	}
	return Cell{Kind: CellText, Str: s}
}

// CellFromAny converts a loosely typed value (as returned by the Sheets API
// or a JSON decoder) into a Cell.
func CellFromAny(v any) Cell {
	switch val := v.(type) {
	case nil:
		return Absent()
	case Cell:
		return val
	case string:
		return Text(val)
	case float64:
		return Number(val)
	case float32:
		return Number(float64(val))
	case int:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case int32:
		return Number(float64(val))
	case bool:
		return Text(strconv.FormatBool(val))
	default:
		return Text(fmt.Sprint(val))
	}
}

// IsBlank reports whether the cell is absent or holds the empty string.
func (c Cell) IsBlank() bool {
	return c.Kind == CellAbsent || c.Kind == CellEmpty
}

// String returns the textual form of the cell. Integral numbers render
// without a fractional part so 15 and "15" compare equal.
func (c Cell) String() string {
	switch c.Kind {
	case CellNumber:
		if c.Num == math.Trunc(c.Num) && math.Abs(c.Num) < 1e15 {
			return strconv.FormatInt(int64(c.Num), 10)
		}
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case CellText:
		return c.Str
	default:
		return ""
	}
}

// Value returns the cell as a plain value suitable for a store write.
func (c Cell) Value() any {
	switch c.Kind {
	case CellNumber:
		return c.Num
	case CellText:
		return c.Str
	default:
		return ""
	}
}

// At returns the cell at col, or Absent when the row is shorter.
func (r Row) At(col int) Cell {
	if col < 0 || col >= len(r) {
		return Absent()
	}
	return r[col]
}

// Values converts the row into plain values for a store write.
func (r Row) Values() []any {
	out := make([]any, len(r))
	for i, c := range r {
		out[i] = c.Value()
	}
	return out
}

// At returns the cell at (row, col), zero-based, or Absent outside the grid.
func (g Grid) At(row, col int) Cell {
	if row < 0 || row >= len(g) {
		return Absent()
	}
	return g[row].At(col)
}

// Width returns the length of the widest fetched row.
func (g Grid) Width() int {
	w := 0
	for _, r := range g {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// GridFromValues converts a values matrix as returned by the Sheets API.
func GridFromValues(values [][]any) Grid {
	g := make(Grid, len(values))
	for i, raw := range values {
		row := make(Row, len(raw))
		for j, v := range raw {
			row[j] = CellFromAny(v)
		}
		g[i] = row
	}
	return g
}

// RowFromStrings builds a row of text cells; handy for fixtures.
func RowFromStrings(values ...string) Row {
	row := make(Row, len(values))
	for i, v := range values {
		row[i] = Text(v)
	}
	return row
}

// Contains reports whether the zero-based cell (row, col) lies in the region.
func (m MergeRegion) Contains(row, col int) bool {
	return row >= m.StartRow && row < m.EndRow && col >= m.StartCol && col < m.EndCol
}

// TrimmedString is the comparison form used by lookups.
func (c Cell) TrimmedString() string {
	return strings.TrimSpace(c.String())
}

// MarshalJSON renders numbers as JSON numbers, text as strings and absent
// cells as null.
func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CellNumber:
		return json.Marshal(c.Num)
	case CellText:
		return json.Marshal(c.Str)
	case CellEmpty:
		return []byte(`""`), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = CellFromAny(v)
	return nil
}
