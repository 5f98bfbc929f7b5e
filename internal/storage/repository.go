package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sheetledger/internal/core"
	applog "sheetledger/internal/log"
	"sheetledger/internal/middleware/trace"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the operations journal. Ledger data itself lives only
// in the spreadsheet; this keeps an audit trail of mutations and the ids of
// queue messages already applied.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := migrateJournal(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Record implements ledger.Journal.
func (r *SQLiteRepository) Record(ctx context.Context, e core.JournalEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = trace.GetRequestID(ctx)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO journal (op, sheet, cell_range, day, note, price, paid_by_cash, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Op, e.Sheet, e.Range, e.Day, e.Note, e.Price, boolToInt(e.PaidByCash), e.RequestID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	id, _ := res.LastInsertId()
	slog.DebugContext(ctx, "Journal entry recorded",
		applog.FieldComponent, applog.ComponentJournal, "id", id, applog.FieldOperation, e.Op, applog.FieldRange, e.Range)
	return nil
}

// List returns up to limit journal entries, newest first.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]core.JournalEntry, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, op, sheet, cell_range, day, note, price, paid_by_cash, request_id, created_at
		 FROM journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []core.JournalEntry
	for rows.Next() {
		var (
			e       core.JournalEntry
			cash    int64
			created string
		)
		if err := rows.Scan(&e.ID, &e.Op, &e.Sheet, &e.Range, &e.Day, &e.Note, &e.Price, &cash, &e.RequestID, &created); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.PaidByCash = cash != 0
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

// IsProcessed reports whether a queue message was already applied.
func (r *SQLiteRepository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_messages WHERE message_id = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup processed message: %w", err)
	}
	return true, nil
}

// MarkProcessed stores the id of an applied queue message. Marking the same
// id twice is a no-op.
func (r *SQLiteRepository) MarkProcessed(ctx context.Context, messageID, cellRange string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_messages (message_id, cell_range, processed_at) VALUES (?, ?, ?)`,
		messageID, cellRange, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
