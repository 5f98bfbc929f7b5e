// Package grid resolves ledger concepts onto spreadsheet coordinates.
//
// Everything here is a pure function over core.Grid values; fetching and
// writing is left to a sheets.GridStore.
package grid

import (
	"fmt"
	"strconv"
	"strings"

	"sheetledger/internal/core"
)

// IndexToLetter converts a zero-based column index to its bijective
// base-26 letter form: 0 -> "A", 25 -> "Z", 26 -> "AA".
func IndexToLetter(index int) string {
	if index < 0 {
		return ""
	}
	var buf []byte
	for index >= 0 {
		buf = append(buf, byte('A'+index%26))
		index = index/26 - 1
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// LetterToIndex converts column letters (case-insensitive) to a zero-based
// index. Anything but A-Z letters fails with core.ErrInvalidFormat.
func LetterToIndex(letters string) (int, error) {
	if letters == "" {
		return 0, fmt.Errorf("%w: empty column", core.ErrInvalidFormat)
	}
	column := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("%w: column %q must use letters A-Z", core.ErrInvalidFormat, letters)
		}
		column = column*26 + int(r-'A'+1)
	}
	return column - 1, nil
}

// CellAddress formats a zero-based column and a one-based row as "B7".
func CellAddress(col, row int) string {
	return IndexToLetter(col) + strconv.Itoa(row)
}

// RowRange returns the one-row range starting at fromCol spanning width
// columns, e.g. RowRange(5, 0, 4) == "A5:D5".
func RowRange(row, fromCol, width int) string {
	if width <= 1 {
		return CellAddress(fromCol, row)
	}
	return CellAddress(fromCol, row) + ":" + CellAddress(fromCol+width-1, row)
}

// ParseCellAddress splits an A1 address into a zero-based column and a
// one-based row. A sheet prefix ("T!B7") and "$" anchors are ignored.
func ParseCellAddress(addr string) (col, row int, err error) {
	if i := strings.LastIndex(addr, "!"); i >= 0 {
		addr = addr[i+1:]
	}
	addr = strings.ReplaceAll(strings.TrimSpace(addr), "$", "")
	split := strings.IndexFunc(addr, func(r rune) bool { return r >= '0' && r <= '9' })
	if split <= 0 {
		return 0, 0, fmt.Errorf("%w: cell address %q", core.ErrInvalidFormat, addr)
	}
	col, err = LetterToIndex(addr[:split])
	if err != nil {
		return 0, 0, err
	}
	row, err = strconv.Atoi(addr[split:])
	if err != nil || row < 1 {
		return 0, 0, fmt.Errorf("%w: cell address %q", core.ErrInvalidFormat, addr)
	}
	return col, row, nil
}

// ParseRange splits "A5:D5" (or a single cell) into zero-based inclusive
// column bounds and one-based inclusive row bounds.
func ParseRange(rng string) (fromCol, fromRow, toCol, toRow int, err error) {
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		rng = rng[i+1:]
	}
	start, end, found := strings.Cut(rng, ":")
	fromCol, fromRow, err = ParseCellAddress(start)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if !found {
		return fromCol, fromRow, fromCol, fromRow, nil
	}
	toCol, toRow, err = ParseCellAddress(end)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if toCol < fromCol {
		fromCol, toCol = toCol, fromCol
	}
	if toRow < fromRow {
		fromRow, toRow = toRow, fromRow
	}
	return fromCol, fromRow, toCol, toRow, nil
}
