package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCellFromAny(t *testing.T) {
	cases := []struct {
		in   any
		kind CellKind
		str  string
	}{
		{nil, CellAbsent, ""},
		{"", CellEmpty, ""},
		{"x", CellText, "x"},
		{15.0, CellNumber, "15"},
		{12.5, CellNumber, "12.5"},
		{int64(3), CellNumber, "3"},
		{true, CellText, "true"},
	}
	for i, tc := range cases {
		c := CellFromAny(tc.in)
		if c.Kind != tc.kind || c.String() != tc.str {
			t.Fatalf("case %d: got kind=%d str=%q, want kind=%d str=%q", i, c.Kind, c.String(), tc.kind, tc.str)
		}
	}
}

func TestGridAtOutOfBounds(t *testing.T) {
	g := Grid{RowFromStrings("a", "b"), {}}
	if !g.At(0, 5).IsBlank() || !g.At(1, 0).IsBlank() || !g.At(9, 0).IsBlank() || !g.At(-1, 0).IsBlank() {
		t.Fatalf("expected absent cells outside the fetched area")
	}
	if g.At(0, 1).String() != "b" {
		t.Fatalf("unexpected cell: %q", g.At(0, 1).String())
	}
	if g.Width() != 2 {
		t.Fatalf("width = %d, want 2", g.Width())
	}
}

func TestMergeRegionContains(t *testing.T) {
	m := MergeRegion{StartRow: 0, EndRow: 2, StartCol: 1, EndCol: 3}
	if !m.Contains(0, 1) || !m.Contains(1, 2) {
		t.Fatalf("expected inside")
	}
	if m.Contains(2, 1) || m.Contains(0, 3) || m.Contains(0, 0) {
		t.Fatalf("half-open bounds violated")
	}
}

func TestCashMarkerRoundTrip(t *testing.T) {
	if !IsCashMarker(CashCell(true)) {
		t.Fatalf("true should encode to the marker")
	}
	if IsCashMarker(CashCell(false)) {
		t.Fatalf("false should encode to empty")
	}
	for _, c := range []Cell{Absent(), Empty(), Text("X"), Text(" x"), Text("yes"), Number(1)} {
		if IsCashMarker(c) {
			t.Fatalf("%+v must not decode as cash", c)
		}
	}
}

func TestNewTransactionValidate(t *testing.T) {
	good := NewTransaction{Note: "coffee", Price: 3.5}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []NewTransaction{
		{Note: strings.Repeat("a", MaxNoteLength+1), Price: 1},
		{Note: "a", Day: "0"},
		{Note: "a", Day: "32"},
		{Note: "a", Day: "abc"},
		{Note: "a", Day: "2.5"},
		{Note: "a", Day: "5/3"},
	}
	for i, tx := range bads {
		err := tx.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("case %d expected ErrInvalidFormat, got %v", i, err)
		}
	}
}

func TestDayCell(t *testing.T) {
	now := time.Date(2025, 3, 17, 10, 0, 0, 0, time.UTC)
	if got, err := (NewTransaction{}).DayCell(now); err != nil || got.Kind != CellNumber || got.Num != 17 {
		t.Fatalf("empty day should stamp 17, got %+v, %v", got, err)
	}
	if got, err := (NewTransaction{Day: " 5 "}).DayCell(now); err != nil || got.Num != 5 {
		t.Fatalf("numeric day should be kept, got %+v, %v", got, err)
	}
	for _, day := range []string{"5/3", "abc", "2.5", "0"} {
		if _, err := (NewTransaction{Day: day}).DayCell(now); !errors.Is(err, ErrInvalidDay) {
			t.Fatalf("DayCell(%q) error = %v, want ErrInvalidDay", day, err)
		}
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in  string
		out float64
		ok  bool
	}{
		{"1", 1, true},
		{"1.23", 1.23, true},
		{"1,23", 1.23, true},
		{" €2,50 ", 2.5, true},
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"-4", -4, true},
		{"abc", 0, false},
		{"", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tc := range cases {
		got, err := ParsePrice(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %v, got %v (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestStoreErrorIsStoreFailure(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := NewStoreError("get values", "T", cause)
	if !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("expected ErrStoreFailure")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if NewStoreError("x", "T", nil) != nil {
		t.Fatalf("nil cause should give nil error")
	}
	if !errors.Is(ErrNoTransactions, ErrNotFound) || !errors.Is(ErrValueNotFound, ErrNotFound) {
		t.Fatalf("not-found family must match ErrNotFound")
	}
}
