package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sheetledger/internal/core"
	"sheetledger/internal/sheets/memory"
)

var fixedNow = func() time.Time { return time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC) }

func newLedger(rows ...core.Row) *memory.Store {
	s := memory.New()
	g := core.Grid{core.RowFromStrings("Date", "Note", "Price", "Cash")}
	s.SetSheet("T", append(g, rows...))
	return s
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []core.JournalEntry
	err     error
}

func (f *fakeJournal) Record(_ context.Context, e core.JournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return f.err
}

type fixedAggregator struct {
	values []float64
	calls  int
	err    error
}

func (f *fixedAggregator) PerDay(context.Context) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	v := f.values[f.calls%len(f.values)]
	f.calls++
	return v, nil
}

func TestAppendDefaultsDayAndWritesRow(t *testing.T) {
	ctx := context.Background()
	store := newLedger(core.RowFromStrings("1", "coffee", "1.2", ""))
	journal := &fakeJournal{}
	svc := New(store, Config{}, WithClock(fixedNow), WithJournal(journal))

	res, err := svc.Append(ctx, core.NewTransaction{Note: "lunch", Price: 9.5, PaidByCash: true})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Cell != "A3" || res.Range != "A3:D3" || res.Row != 3 || res.UpdatedCells != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Day.String() != "14" {
		t.Fatalf("day should default to today's day of month, got %q", res.Day.String())
	}
	if res.PerDayBefore != nil || res.PerDayAfter != nil {
		t.Fatalf("no aggregator means no per-day figures")
	}

	g := store.Snapshot("T")
	row := g[2]
	if row.At(0).Num != 14 || row.At(1).Str != "lunch" || row.At(2).Num != 9.5 || row.At(3).Str != "x" {
		t.Fatalf("unexpected stored row: %+v", row)
	}
	if len(journal.entries) != 1 || journal.entries[0].Op != core.JournalAppend || journal.entries[0].Range != "A3:D3" {
		t.Fatalf("unexpected journal: %+v", journal.entries)
	}
}

func TestAppendExplicitDayAndCashFlag(t *testing.T) {
	ctx := context.Background()
	store := newLedger()
	svc := New(store, Config{}, WithClock(fixedNow))

	res, err := svc.Append(ctx, core.NewTransaction{Day: "3", Note: "bus", Price: 2})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Cell != "A2" || res.Day.String() != "3" {
		t.Fatalf("first append must land on the first data row: %+v", res)
	}
	last, err := svc.Last(ctx)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if last.PaidByCash || last.Note != "bus" || last.Price != 2 || last.Row != 2 {
		t.Fatalf("round trip mismatch: %+v", last)
	}
}

func TestAppendHeaderInOtherColumn(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SetSheet("Ledger", core.Grid{
		core.RowFromStrings("Month", "", "Date", "Note", "Price", "Cash"),
		core.RowFromStrings("march", "", "1", "a", "1", ""),
	})
	svc := New(store, Config{Sheet: "Ledger"}, WithClock(fixedNow))

	res, err := svc.Append(ctx, core.NewTransaction{Note: "b", Price: 3})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Range != "C3:F3" {
		t.Fatalf("write must start at the header column, got %s", res.Range)
	}
	entries, err := svc.LastN(ctx, 5)
	if err != nil || len(entries) != 2 || entries[0].Note != "b" || entries[1].Note != "a" {
		t.Fatalf("LastN = %+v, %v", entries, err)
	}
}

func TestAppendSkipsMergedRows(t *testing.T) {
	ctx := context.Background()
	store := newLedger(
		core.RowFromStrings("1", "a", "1", ""),
		core.Row{},
		core.Row{},
		core.Row{core.Absent(), core.Text("note without a day")},
	)
	store.AddMerge("T", core.MergeRegion{StartRow: 2, EndRow: 4, StartCol: 0, EndCol: 4})
	svc := New(store, Config{}, WithClock(fixedNow))

	res, err := svc.Append(ctx, core.NewTransaction{Note: "b", Price: 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Cell != "A5" {
		t.Fatalf("merged rows 3-4 must be treated as occupied, got %s", res.Cell)
	}
}

func TestAppendValidationAndHeaderErrors(t *testing.T) {
	ctx := context.Background()
	svc := New(newLedger(), Config{}, WithClock(fixedNow))

	if _, err := svc.Append(ctx, core.NewTransaction{Day: "32", Note: "x"}); !errors.Is(err, core.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}

	noHeader := memory.New()
	noHeader.SetSheet("T", core.Grid{core.RowFromStrings("When", "Note")})
	svc = New(noHeader, Config{}, WithClock(fixedNow))
	if _, err := svc.Append(ctx, core.NewTransaction{Note: "x"}); !errors.Is(err, core.ErrHeaderNotFound) {
		t.Fatalf("expected ErrHeaderNotFound, got %v", err)
	}
	if got := noHeader.Snapshot("T"); len(got) != 1 {
		t.Fatalf("nothing may be written when the header is missing, got %d rows", len(got))
	}
}

func TestAppendStoreFailure(t *testing.T) {
	store := newLedger()
	store.Fail = errors.New("quota exceeded")
	svc := New(store, Config{})
	_, err := svc.Append(context.Background(), core.NewTransaction{Note: "x"})
	if !errors.Is(err, core.ErrStoreFailure) {
		t.Fatalf("expected ErrStoreFailure, got %v", err)
	}
}

func TestAppendPerDayBeforeAndAfter(t *testing.T) {
	agg := &fixedAggregator{values: []float64{10, 19.5}}
	svc := New(newLedger(), Config{}, WithClock(fixedNow), WithAggregator(agg))

	res, err := svc.Append(context.Background(), core.NewTransaction{Note: "x", Price: 9.5})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.PerDayBefore == nil || *res.PerDayBefore != 10 || res.PerDayAfter == nil || *res.PerDayAfter != 19.5 {
		t.Fatalf("unexpected per-day figures: %v %v", res.PerDayBefore, res.PerDayAfter)
	}

	failing := New(newLedger(), Config{}, WithAggregator(&fixedAggregator{err: errors.New("no cell")}))
	res, err = failing.Append(context.Background(), core.NewTransaction{Note: "x"})
	if err != nil {
		t.Fatalf("aggregate failures must not fail the append: %v", err)
	}
	if res.PerDayBefore != nil || res.PerDayAfter != nil {
		t.Fatalf("failed aggregate should be omitted")
	}
}

// racingStore fills the first empty ledger row on every GetValues after the
// first `quiet` calls, imitating a second writer.
type racingStore struct {
	*memory.Store
	quiet int
	calls int
	races int
}

func (r *racingStore) GetValues(ctx context.Context, sheet string) (core.Grid, error) {
	r.calls++
	if r.calls > r.quiet && (r.races < 0 || r.calls-r.quiet <= r.races) {
		g := r.Store.Snapshot(sheet)
		next := len(g) + 1
		if _, err := r.Store.UpdateRange(ctx, sheet, "A"+itoa(next)+":B"+itoa(next), core.RowFromStrings("9", "other")); err != nil {
			return nil, err
		}
	}
	return r.Store.GetValues(ctx, sheet)
}

func itoa(n int) string {
	return core.Number(float64(n)).String()
}

func TestAppendRescansWhenTargetFilled(t *testing.T) {
	store := &racingStore{Store: newLedger(), quiet: 1, races: 1}
	svc := New(store, Config{}, WithClock(fixedNow))

	res, err := svc.Append(context.Background(), core.NewTransaction{Note: "mine", Price: 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Cell != "A3" {
		t.Fatalf("append should move below the concurrent write, got %s", res.Cell)
	}
	g := store.Snapshot("T")
	if g.At(1, 1).Str != "other" || g.At(2, 1).Str != "mine" {
		t.Fatalf("concurrent row must survive: %+v", g)
	}
}

func TestAppendConflictAfterRepeatedRaces(t *testing.T) {
	store := &racingStore{Store: newLedger(), quiet: 1, races: -1}
	svc := New(store, Config{}, WithClock(fixedNow))

	_, err := svc.Append(context.Background(), core.NewTransaction{Note: "mine", Price: 1})
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	for _, row := range store.Snapshot("T") {
		if row.At(1).Str == "mine" {
			t.Fatalf("nothing may be written on conflict")
		}
	}
}

func TestUndoLastLeavesHoles(t *testing.T) {
	ctx := context.Background()
	store := newLedger(
		core.RowFromStrings("1", "a", "1", ""),
		core.Row{},
		core.Row{},
		core.Row{core.Number(4), core.Text("b"), core.Number(2), core.Text("x"), core.Text("extra")},
	)
	journal := &fakeJournal{}
	svc := New(store, Config{}, WithClock(fixedNow), WithJournal(journal))

	res, err := svc.UndoLast(ctx)
	if err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	if res.Row != 5 || res.Range != "A5:E5" || res.Transaction.Note != "b" || !res.Transaction.PaidByCash {
		t.Fatalf("unexpected undo: %+v", res)
	}
	if got := store.Snapshot("T"); len(got) != 2 {
		t.Fatalf("row 5 should be fully cleared, got %d rows", len(got))
	}

	res, err = svc.UndoLast(ctx)
	if err != nil || res.Row != 2 {
		t.Fatalf("second undo should clear row 2: %+v %v", res, err)
	}
	if _, err := svc.UndoLast(ctx); !errors.Is(err, core.ErrNoTransactions) {
		t.Fatalf("expected ErrNoTransactions, got %v", err)
	}
	if len(journal.entries) != 2 || journal.entries[0].Op != core.JournalUndo {
		t.Fatalf("unexpected journal: %+v", journal.entries)
	}
	if got := store.Snapshot("T"); len(got) != 1 || got.At(0, 0).Str != "Date" {
		t.Fatalf("header must survive undo: %+v", got)
	}
}

func TestLastAndLastN(t *testing.T) {
	ctx := context.Background()
	store := newLedger(
		core.RowFromStrings("1", "a", "1", ""),
		core.RowFromStrings("2", "b", "2", "x"),
		core.Row{},
		core.RowFromStrings("3", "c", "3", ""),
	)
	svc := New(store, Config{})

	entries, err := svc.LastN(ctx, 5)
	if err != nil {
		t.Fatalf("LastN: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantNotes := []string{"c", "b", "a"}
	wantRows := []int{5, 3, 2}
	for i, e := range entries {
		if e.Note != wantNotes[i] || e.Row != wantRows[i] {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}

	two, _ := svc.LastN(ctx, 2)
	if len(two) != 2 || two[1].Note != "b" {
		t.Fatalf("LastN(2) = %+v", two)
	}

	last, err := svc.Last(ctx)
	if err != nil || last.Note != "c" {
		t.Fatalf("Last = %+v, %v", last, err)
	}

	if _, err := svc.LastN(ctx, 0); !errors.Is(err, core.ErrInvalidFormat) {
		t.Fatalf("LastN(0) expected ErrInvalidFormat, got %v", err)
	}
}

func TestLastOnEmptyLedger(t *testing.T) {
	ctx := context.Background()
	svc := New(newLedger(), Config{})
	if _, err := svc.Last(ctx); !errors.Is(err, core.ErrNoTransactions) || !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNoTransactions, got %v", err)
	}
	entries, err := svc.LastN(ctx, 5)
	if err != nil || len(entries) != 0 {
		t.Fatalf("LastN on empty ledger = %v, %v", entries, err)
	}
}

func TestEmptySheetHasNoTransactions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SetSheet("T", core.Grid{})
	svc := New(store, Config{})

	if _, err := svc.UndoLast(ctx); !errors.Is(err, core.ErrNoTransactions) {
		t.Fatalf("UndoLast on an empty sheet = %v, want ErrNoTransactions", err)
	}
	if _, err := svc.Last(ctx); !errors.Is(err, core.ErrNoTransactions) {
		t.Fatalf("Last on an empty sheet = %v, want ErrNoTransactions", err)
	}
	if entries, err := svc.LastN(ctx, 3); err != nil || len(entries) != 0 {
		t.Fatalf("LastN on an empty sheet = %v, %v", entries, err)
	}
}

func TestAppendRejectsNonIntegerDay(t *testing.T) {
	for _, day := range []string{"abc", "2.5", "5/3"} {
		t.Run(day, func(t *testing.T) {
			store := newLedger()
			svc := New(store, Config{}, WithClock(fixedNow))
			_, err := svc.Append(context.Background(), core.NewTransaction{Day: day, Note: "lunch", Price: 9.5})
			if !errors.Is(err, core.ErrInvalidDay) {
				t.Fatalf("Append(day %q) = %v, want ErrInvalidDay", day, err)
			}
			if got := store.Snapshot("T"); len(got) != 1 {
				t.Fatalf("nothing may be written for day %q, got %d rows", day, len(got))
			}
		})
	}
}

func TestPreviousColumnAndFirstEmptyCell(t *testing.T) {
	ctx := context.Background()
	store := newLedger()
	store.SetSheet("Summary", core.Grid{
		core.RowFromStrings("Category", "1/2025", "2/2025"),
		core.RowFromStrings("Food", "10", ""),
	})
	store.AddMerge("Summary", core.MergeRegion{StartRow: 1, EndRow: 2, StartCol: 2, EndCol: 3})
	svc := New(store, Config{})

	loc, err := svc.PreviousColumnByValue(ctx, "Summary", "2/2025")
	if err != nil || loc.PreviousColumn != "B" || loc.CellAddress != "C1" {
		t.Fatalf("PreviousColumnByValue = %+v, %v", loc, err)
	}
	if _, err := svc.PreviousColumnByValue(ctx, "Summary", "Category"); !errors.Is(err, core.ErrNoPreviousColumn) {
		t.Fatalf("expected ErrNoPreviousColumn, got %v", err)
	}

	cell, err := svc.FirstEmptyCell(ctx, "Summary", "c", 1)
	if err != nil || cell.Cell != "C3" {
		t.Fatalf("FirstEmptyCell = %+v, %v", cell, err)
	}
	if _, err := svc.FirstEmptyCell(ctx, "Summary", "C1", 1); !errors.Is(err, core.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	cell, err = svc.FirstEmptyCell(ctx, "", "A", 2)
	if err != nil || cell.Sheet != "T" || cell.Cell != "A2" {
		t.Fatalf("default sheet FirstEmptyCell = %+v, %v", cell, err)
	}
}

func TestMonthMarker(t *testing.T) {
	if got := MonthMarker(time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)); got != "0/2025" {
		t.Fatalf("MonthMarker = %q", got)
	}
	if got := MonthMarker(time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)); got != "11/2024" {
		t.Fatalf("MonthMarker = %q", got)
	}
}

func TestComputedAggregator(t *testing.T) {
	store := newLedger(
		core.RowFromStrings("14", "a", "1.5", ""),
		core.RowFromStrings("13", "b", "100", ""),
		core.Row{core.Number(14), core.Text("c"), core.Number(2), core.Empty()},
	)
	agg := NewComputedAggregator(store, Config{}, fixedNow)
	got, err := agg.PerDay(context.Background())
	if err != nil || got != 3.5 {
		t.Fatalf("PerDay = %v, %v", got, err)
	}
}
