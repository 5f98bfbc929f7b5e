package grid

import "sheetledger/internal/core"

// IsMerged reports whether the zero-based cell lies in any merge region.
func IsMerged(merges []core.MergeRegion, row, col int) bool {
	for _, m := range merges {
		if m.Contains(row, col) {
			return true
		}
	}
	return false
}

// FirstEmptyRow returns the one-based number of the first row at or after
// startRow whose cell in col is blank and not covered by a merge. Merged
// cells count as occupied. Rows past the fetched grid are blank, so a fully
// occupied grid yields one past its last row. startRow < 1 means row 1.
func FirstEmptyRow(g core.Grid, col int, merges []core.MergeRegion, startRow int) int {
	if startRow < 1 {
		startRow = 1
	}
	for r := startRow - 1; r < len(g); r++ {
		if IsMerged(merges, r, col) {
			continue
		}
		if g.At(r, col).IsBlank() {
			return r + 1
		}
	}
	if len(g) >= startRow {
		return len(g) + 1
	}
	return startRow
}

// OccupiedRows returns the zero-based indices of rows whose cell in col is
// non-blank, in sheet order, skipping rows before startRow (one-based).
func OccupiedRows(g core.Grid, col int, startRow int) []int {
	if startRow < 1 {
		startRow = 1
	}
	var out []int
	for r := startRow - 1; r < len(g); r++ {
		if !g.At(r, col).IsBlank() {
			out = append(out, r)
		}
	}
	return out
}

// LastOccupiedRow scans upwards for the last row with a non-blank cell in
// col. It returns -1 when there is none at or after startRow.
func LastOccupiedRow(g core.Grid, col int, startRow int) int {
	if startRow < 1 {
		startRow = 1
	}
	for r := len(g) - 1; r >= startRow-1; r-- {
		if !g.At(r, col).IsBlank() {
			return r
		}
	}
	return -1
}
