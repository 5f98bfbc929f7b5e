package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"sheetledger/internal/core"
	ports "sheetledger/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Client is a GridStore backed by one Google spreadsheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
}

// Ensure interface conformance
var _ ports.GridStore = (*Client)(nil)

// NewFromEnv creates a Sheets client for spreadsheetID, resolving
// credentials from the environment (see credentialOptions).
func NewFromEnv(ctx context.Context, spreadsheetID string) (*Client, error) {
	opts, err := credentialOptions(ctx)
	if err != nil {
		return nil, err
	}
	return New(ctx, spreadsheetID, opts...)
}

// New creates a Sheets client with explicit client options.
func New(ctx context.Context, spreadsheetID string, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", spreadsheetID)
	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// GetValues reads the whole sheet with unformatted values so numbers come
// back as numbers.
func (c *Client) GetValues(ctx context.Context, sheet string) (core.Grid, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, quoteSheet(sheet)).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, core.NewStoreError("get values", sheet, err)
	}
	return core.GridFromValues(resp.Values), nil
}

func (c *Client) GetMergeRegions(ctx context.Context, sheet string) ([]core.MergeRegion, error) {
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Ranges(quoteSheet(sheet)).
		Fields("sheets(properties(title),merges)").
		Context(ctx).Do()
	if err != nil {
		return nil, core.NewStoreError("get merges", sheet, err)
	}
	for _, sh := range resp.Sheets {
		if sh.Properties != nil && sh.Properties.Title != sheet {
			continue
		}
		return mergesFromAPI(sh.Merges), nil
	}
	return nil, core.NewStoreError("get merges", sheet, fmt.Errorf("sheet %q not found in spreadsheet", sheet))
}

// UpdateRange writes one row with USER_ENTERED semantics.
func (c *Client) UpdateRange(ctx context.Context, sheet, address string, values core.Row) (int, error) {
	rng := quoteSheet(sheet) + "!" + address
	vr := &gsheet.ValueRange{Values: [][]any{values.Values()}}
	resp, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return 0, core.NewStoreError("update "+address, sheet, err)
	}
	return int(resp.UpdatedCells), nil
}

func (c *Client) ClearRange(ctx context.Context, sheet, address string) error {
	rng := quoteSheet(sheet) + "!" + address
	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return core.NewStoreError("clear "+address, sheet, err)
	}
	return nil
}

func mergesFromAPI(in []*gsheet.GridRange) []core.MergeRegion {
	out := make([]core.MergeRegion, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		out = append(out, core.MergeRegion{
			StartRow: int(m.StartRowIndex),
			EndRow:   int(m.EndRowIndex),
			StartCol: int(m.StartColumnIndex),
			EndCol:   int(m.EndColumnIndex),
		})
	}
	return out
}

// quoteSheet returns the sheet name as used in A1 notation. Names with
// anything but letters, digits and underscores are single-quoted.
func quoteSheet(name string) string {
	plain := name != ""
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
