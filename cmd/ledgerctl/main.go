// Command ledgerctl runs ledger operations from the command line against
// the configured backend. Flags override the environment configuration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sheetledger/internal/backend"
	"sheetledger/internal/cli"
	"sheetledger/internal/config"
	"sheetledger/internal/core"
	"sheetledger/internal/grid"
	"sheetledger/internal/ledger"
	applog "sheetledger/internal/log"
)

type options struct {
	backend       string
	sheet         string
	header        string
	xlsxPath      string
	spreadsheetID string
	journalPath   string
	pretty        bool
	verbose       bool
	timeout       time.Duration
}

func main() {
	cli.LoadEnvFile()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Read and write the spreadsheet ledger",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.backend, "backend", "", "Data backend: "+strings.Join(backend.GetBackendTypeStrings(), ", ")+" (default from DATA_BACKEND)")
	pf.StringVar(&opts.sheet, "sheet", "", "Ledger sheet name (default from TRANSACTION_SHEET)")
	pf.StringVar(&opts.header, "header", "", "Header label of the date column (default from TRANSACTION_HEADER)")
	pf.StringVar(&opts.xlsxPath, "xlsx", "", "Workbook path for the xlsx backend (default from XLSX_PATH)")
	pf.StringVar(&opts.spreadsheetID, "spreadsheet-id", "", "Spreadsheet ID for the sheets backend (default from SPREADSHEET_ID)")
	pf.StringVar(&opts.journalPath, "journal", "", "SQLite journal path (default from JOURNAL_DB_PATH)")
	pf.BoolVar(&opts.pretty, "pretty", false, "Pretty-print JSON output")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level to stderr")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for the whole operation")

	root.AddCommand(
		newAppendCmd(opts),
		newUndoCmd(opts),
		newLastCmd(opts),
		newLocateCmd(opts),
		newFirstEmptyCmd(opts),
		newColumnCmd(opts),
	)
	return root
}

func newAppendCmd(opts *options) *cobra.Command {
	var (
		day, note, price string
		cash, summary    bool
	)
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a transaction to the first empty ledger row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := core.ParsePrice(price)
			if err != nil {
				return err
			}
			tx := core.NewTransaction{Day: day, Note: note, Price: p, PaidByCash: cash, CountForSummary: summary}
			return withLedger(cmd, opts, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.Append(ctx, tx)
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "Day of month (default today)")
	cmd.Flags().StringVar(&note, "note", "", "Free-text note")
	cmd.Flags().StringVar(&price, "price", "", "Price, dot or comma decimals")
	cmd.Flags().BoolVar(&cash, "cash", false, "Paid by cash")
	cmd.Flags().BoolVar(&summary, "count-for-summary", false, "Flag the transaction for the summary sheet")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newUndoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Clear the bottom-most transaction row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.UndoLast(ctx)
			})
		},
	}
}

func newLastCmd(opts *options) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "last",
		Short: "Show the latest transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, svc *ledger.Service) (any, error) {
				if n == 1 {
					return svc.Last(ctx)
				}
				return svc.LastN(ctx, n)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 1, "Number of transactions")
	return cmd
}

func newLocateCmd(opts *options) *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "locate [value]",
		Short: "Find a value and print the column to its left (default: this month's marker)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ledger.MonthMarker(time.Now())
			if len(args) == 1 {
				value = args[0]
			}
			return withLedger(cmd, opts, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.PreviousColumnByValue(ctx, sheet, value)
			})
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet-name", "", "Sheet to search (default the ledger sheet)")
	return cmd
}

func newFirstEmptyCmd(opts *options) *cobra.Command {
	var (
		sheet    string
		startRow int
	)
	cmd := &cobra.Command{
		Use:   "first-empty <column>",
		Short: "Print the first empty, unmerged cell of a column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if startRow < 1 {
				return fmt.Errorf("%w: start row must be at least 1", core.ErrInvalidFormat)
			}
			return withLedger(cmd, opts, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.FirstEmptyCell(ctx, sheet, args[0], startRow)
			})
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet-name", "", "Sheet to scan (default the ledger sheet)")
	cmd.Flags().IntVar(&startRow, "start-row", 1, "First row to consider (one-based)")
	return cmd
}

// newColumnCmd converts between column letters and zero-based indexes.
func newColumnCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "column <letters|index>...",
		Short: "Convert column letters to zero-based indexes and back",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type conversion struct {
				Letter string `json:"letter"`
				Index  int    `json:"index"`
			}
			out := make([]conversion, 0, len(args))
			for _, arg := range args {
				arg = strings.TrimSpace(arg)
				if n, err := strconv.Atoi(arg); err == nil {
					if n < 0 {
						return fmt.Errorf("%w: index %d is negative", core.ErrInvalidFormat, n)
					}
					out = append(out, conversion{Letter: grid.IndexToLetter(n), Index: n})
					continue
				}
				idx, err := grid.LetterToIndex(arg)
				if err != nil {
					return err
				}
				out = append(out, conversion{Letter: grid.IndexToLetter(idx), Index: idx})
			}
			if len(out) == 1 {
				return printJSON(cmd.OutOrStdout(), out[0], opts.pretty)
			}
			return printJSON(cmd.OutOrStdout(), out, opts.pretty)
		},
	}
}

// withLedger loads the configuration, builds the ledger and prints the
// result of fn as JSON.
func withLedger(cmd *cobra.Command, opts *options, fn func(context.Context, *ledger.Service) (any, error)) error {
	logger := newLogger(opts.verbose)
	cfg := config.Load()
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	l, err := cli.BuildLedger(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer l.Cleanup()

	res, err := fn(ctx, l.Service)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res, opts.pretty)
}

func (o *options) apply(cfg *config.Config) {
	if o.backend != "" {
		cfg.DataBackend = o.backend
	}
	if o.sheet != "" {
		cfg.TransactionSheet = o.sheet
	}
	if o.header != "" {
		cfg.TransactionHeader = o.header
	}
	if o.xlsxPath != "" {
		cfg.XLSXPath = o.xlsxPath
	}
	if o.spreadsheetID != "" {
		cfg.SpreadsheetID = o.spreadsheetID
	}
	if o.journalPath != "" {
		cfg.JournalDBPath = o.journalPath
	}
}

// newLogger logs to stderr so stdout stays machine-readable.
func newLogger(verbose bool) *applog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := applog.New(applog.Config{
		Level:     level,
		Component: applog.ComponentCLI,
		Handler:   slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})
	applog.SetDefault(logger)
	return logger
}

func printJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
