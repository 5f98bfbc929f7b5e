package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sheetledger/internal/amqp"
	"sheetledger/internal/core"
	"sheetledger/internal/ledger"
	"sheetledger/internal/middleware/trace"
)

type (
	// Appender applies one transaction to the ledger.
	Appender interface {
		Append(ctx context.Context, in core.NewTransaction) (ledger.AppendResult, error)
	}

	// Deduper remembers which queue messages were already applied.
	Deduper interface {
		IsProcessed(ctx context.Context, messageID string) (bool, error)
		MarkProcessed(ctx context.Context, messageID, cellRange string) error
	}

	// Consumer delivers queued appends until ctx ends or the connection drops.
	Consumer interface {
		ConsumeAppends(ctx context.Context, handler amqp.AppendHandler) error
	}
)

// AppendWorker is the single writer applying queued appends in order.
type AppendWorker struct {
	ledger  Appender
	dedupe  Deduper
	backoff func(attempt int) time.Duration
}

// NewAppendWorker builds a worker; dedupe may be nil.
func NewAppendWorker(l Appender, dedupe Deduper) *AppendWorker {
	return &AppendWorker{
		ledger: l,
		dedupe: dedupe,
		backoff: func(attempt int) time.Duration {
			return min(time.Second<<min(attempt, 5), 30*time.Second)
		},
	}
}

// HandleAppendMessage applies a queued append. Validation and lookup
// failures are permanent; store failures and conflicts are retried.
func (w *AppendWorker) HandleAppendMessage(ctx context.Context, msg *amqp.AppendMessage) error {
	if msg.RequestID != "" {
		ctx = trace.WithRequestID(ctx, msg.RequestID)
	}

	if w.dedupe != nil {
		done, err := w.dedupe.IsProcessed(ctx, msg.ID)
		if err != nil {
			return fmt.Errorf("check processed: %w", err)
		}
		if done {
			slog.InfoContext(ctx, "Skipping already applied append", "message_id", msg.ID)
			return nil
		}
	}

	res, err := w.ledger.Append(ctx, msg.Transaction)
	if err != nil {
		if errors.Is(err, core.ErrInvalidFormat) || errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("%w: %w", amqp.ErrPermanent, err)
		}
		return fmt.Errorf("append: %w", err)
	}

	slog.InfoContext(ctx, "Queued append applied",
		"message_id", msg.ID,
		"range", res.Range,
		"queued_for", time.Since(msg.Timestamp).String())

	if w.dedupe != nil {
		if err := w.dedupe.MarkProcessed(ctx, msg.ID, res.Range); err != nil {
			// The row is written; a redelivery would duplicate it, so only log.
			slog.ErrorContext(ctx, "Failed to mark message processed", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled, reconnecting with backoff whenever
// the consumer stops on its own.
func (w *AppendWorker) Run(ctx context.Context, c Consumer) error {
	for attempt := 0; ; attempt++ {
		err := c.ConsumeAppends(ctx, w.HandleAppendMessage)
		if ctx.Err() != nil {
			return nil
		}
		wait := w.backoff(attempt)
		slog.WarnContext(ctx, "Consumer stopped, restarting", "error", err, "attempt", attempt+1, "wait", wait.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
