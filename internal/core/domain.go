package core

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// CashMarker is the literal stored in the paid-by-cash column.
const CashMarker = "x"

// MaxNoteLength bounds the free-text note of a transaction.
const MaxNoteLength = 255

type (
	// Transaction is one ledger entry read back from four adjacent cells.
	Transaction struct {
		Day        Cell    `json:"day"`
		Note       string  `json:"note"`
		Price      float64 `json:"price"`
		PaidByCash bool    `json:"paidByCash"`
	}

	// NewTransaction is the input record of an append.
	NewTransaction struct {
		// Day is written as-is; empty means the current day of the month.
		Day        string  `json:"day"`
		Note       string  `json:"note"`
		Price      float64 `json:"price"`
		PaidByCash bool    `json:"paidByCash"`
		// CountForSummary is accepted and echoed back; mirroring into the
		// summary sheet is not implemented.
		CountForSummary bool `json:"countForSummary"`
	}
)

// IsZero reports whether every decoded field is empty.
func (t Transaction) IsZero() bool {
	return t.Day.IsBlank() && t.Note == "" && t.Price == 0 && !t.PaidByCash
}

// CashCell encodes the paid-by-cash flag.
func CashCell(paid bool) Cell {
	if paid {
		return Text(CashMarker)
	}
	return Empty()
}

// IsCashMarker decodes the paid-by-cash flag. Only the exact marker is true.
func IsCashMarker(c Cell) bool {
	return c.Kind == CellText && c.Str == CashMarker
}

func (t NewTransaction) Validate() error {
	if len(t.Note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return ErrInvalidPrice
	}
	if d := strings.TrimSpace(t.Day); d != "" {
		if n, err := strconv.Atoi(d); err != nil || n < 1 || n > 31 {
			return ErrInvalidDay
		}
	}
	return nil
}

// DayCell returns the cell written to the date column, stamping now's day
// of month when Day is empty. A supplied day must be an integer 1..31.
func (t NewTransaction) DayCell(now time.Time) (Cell, error) {
	d := strings.TrimSpace(t.Day)
	if d == "" {
		return Number(float64(now.Day())), nil
	}
	n, err := strconv.Atoi(d)
	if err != nil || n < 1 || n > 31 {
		return Cell{}, ErrInvalidDay
	}
	return Number(float64(n)), nil
}

// ParsePrice reads a price typed into a sheet. It accepts dot or comma
// decimals, thousands separators, a leading sign and currency symbols.
func ParsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-', r == '+':
			return r
		default:
			return -1
		}
	}, s)
	if s == "" {
		return 0, ErrInvalidPrice
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The later separator is the decimal one.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidPrice
	}
	return f, nil
}
