package log

import (
	"context"
	"log/slog"
	"net/http"
)

type loggerKey struct{}

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the request logger, or one wrapping slog.Default
// with component "unknown".
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return logger
	}
	return bind(slog.Default(), nil, "unknown")
}

// Middleware installs logger in each request context.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return withLogger(func(*http.Request) *Logger { return logger })
}

// ComponentMiddleware switches the request logger to component.
func ComponentMiddleware(component string) func(http.Handler) http.Handler {
	return withLogger(func(r *http.Request) *Logger {
		return FromContext(r.Context()).WithComponent(component)
	})
}

// RequestIDMiddleware adds the request id to the request logger.
func RequestIDMiddleware(extractRequestID func(*http.Request) string) func(http.Handler) http.Handler {
	return withLogger(func(r *http.Request) *Logger {
		return FromContext(r.Context()).With(FieldRequestID, extractRequestID(r))
	})
}

func withLogger(pick func(*http.Request) *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), pick(r))))
		})
	}
}

// StructuredLogger writes the ledger's domain events with consistent fields.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogAppend records a transaction written to the ledger.
func (sl *StructuredLogger) LogAppend(ctx context.Context, sheet, rng string, row int, day, note string, price float64, paidByCash bool) {
	fields := NewFields().
		WithCell(sheet, rng, row).
		WithTransaction(day, note, price, paidByCash).
		WithOperation(OpAppend)
	sl.logger.WithComponent(ComponentLedger).InfoContext(ctx, "Transaction appended", fields.ToSlice()...)
}

// LogUndo records a cleared ledger row.
func (sl *StructuredLogger) LogUndo(ctx context.Context, sheet, rng string, row int) {
	fields := NewFields().
		WithCell(sheet, rng, row).
		WithOperation(OpUndo)
	sl.logger.WithComponent(ComponentLedger).InfoContext(ctx, "Transaction undone", fields.ToSlice()...)
}

// LogError records a failed operation. fields may be nil.
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, component, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	fields = fields.WithError(err).WithOperation(operation)
	sl.logger.WithComponent(component).ErrorContext(ctx, msg, fields.ToSlice()...)
}
