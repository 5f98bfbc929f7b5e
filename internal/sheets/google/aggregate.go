package google

import (
	"context"
	"errors"
	"fmt"

	"sheetledger/internal/core"
	ports "sheetledger/internal/sheets"
)

var _ ports.DailyAggregator = (*CellAggregator)(nil)

// CellAggregator reads today's spend from a single cell maintained by a
// spreadsheet formula, e.g. "Summary!B2".
type CellAggregator struct {
	client *Client
	rng    string
}

func NewCellAggregator(client *Client, rng string) (*CellAggregator, error) {
	if client == nil || rng == "" {
		return nil, errors.New("cell aggregator needs a client and a range")
	}
	return &CellAggregator{client: client, rng: rng}, nil
}

// PerDay returns the numeric value of the cell; an empty cell is 0.
func (a *CellAggregator) PerDay(ctx context.Context) (float64, error) {
	resp, err := a.client.svc.Spreadsheets.Values.Get(a.client.spreadsheetID, a.rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return 0, core.NewStoreError("get per-day", a.rng, err)
	}
	return cellNumber(core.GridFromValues(resp.Values).At(0, 0))
}

func cellNumber(c core.Cell) (float64, error) {
	switch c.Kind {
	case core.CellNumber:
		return c.Num, nil
	case core.CellText:
		f, err := core.ParsePrice(c.Str)
		if err != nil {
			return 0, fmt.Errorf("per-day cell %q: %w", c.Str, err)
		}
		return f, nil
	default:
		return 0, nil
	}
}
