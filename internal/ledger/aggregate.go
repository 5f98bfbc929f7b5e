package ledger

import (
	"context"
	"strconv"
	"strings"
	"time"

	"sheetledger/internal/core"
	"sheetledger/internal/grid"
	ports "sheetledger/internal/sheets"
)

var _ ports.DailyAggregator = (*ComputedAggregator)(nil)

// ComputedAggregator derives today's spend from the ledger itself by
// summing the prices of rows whose day equals today's day of month.
type ComputedAggregator struct {
	store ports.GridStore
	cfg   Config
	now   func() time.Time
}

func NewComputedAggregator(store ports.GridStore, cfg Config, now func() time.Time) *ComputedAggregator {
	if now == nil {
		now = time.Now
	}
	return &ComputedAggregator{store: store, cfg: cfg.withDefaults(), now: now}
}

func (a *ComputedAggregator) PerDay(ctx context.Context) (float64, error) {
	values, err := a.store.GetValues(ctx, a.cfg.Sheet)
	if err != nil {
		return 0, err
	}
	col, err := grid.ResolveHeaderColumn(values, a.cfg.Header, a.cfg.HeaderRow)
	if err != nil {
		return 0, err
	}
	today := float64(a.now().Day())
	var total float64
	for _, r := range grid.OccupiedRows(values, col.Index, a.cfg.FirstDataRow) {
		tx := grid.DecodeTransaction(values[r], col.Index)
		if dayOf(tx.Day) == today {
			total += tx.Price
		}
	}
	return total, nil
}

func dayOf(c core.Cell) float64 {
	switch c.Kind {
	case core.CellNumber:
		return c.Num
	case core.CellText:
		if n, err := strconv.Atoi(strings.TrimSpace(c.Str)); err == nil {
			return float64(n)
		}
	}
	return -1
}
