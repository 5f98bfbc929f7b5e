package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sheetledger/internal/amqp"
	"sheetledger/internal/core"
	"sheetledger/internal/ledger"
	applog "sheetledger/internal/log"
	"sheetledger/internal/middleware/trace"
)

const (
	// HeaderIdempotencyKey makes a POST /addTransaction safe to retry.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed marks a response served from an earlier request.
	HeaderReplayed = "Idempotent-Replayed"

	defaultListSize = 5
	maxListSize     = 100

	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	tx, err := ParseTransaction(p)
	if err != nil {
		FromError(err).Write(w)
		return
	}
	if err := tx.Validate(); err != nil {
		FromError(err).Write(w)
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && !validIdempotencyKey(key) {
		BadRequestError("Idempotency-Key must be 1-64 letters, digits, '.', '_' or '-'").Write(w)
		return
	}

	if s.publisher != nil && (s.asyncAppend || queryBool(r, "async")) {
		s.enqueueAppend(w, r, key, tx)
		return
	}

	ctx, cancel := operationContext(r)
	defer cancel()

	run := func() (ledger.AppendResult, error) {
		return s.ledger.Append(ctx, tx)
	}
	var (
		res      ledger.AppendResult
		replayed bool
	)
	if key != "" {
		res, replayed, err = s.idem.Do(key, fingerprint(tx), run)
	} else {
		res, err = run()
	}
	if err != nil {
		s.logError(ctx, "Append failed", err, applog.OpAppend)
		FromError(err).Write(w)
		return
	}

	resp := OK("Add transaction successfully.", res)
	if replayed {
		resp.Header(HeaderReplayed, "true")
	} else {
		s.structLog.LogAppend(ctx, res.Sheet, res.Range, res.Row, res.Day.String(), res.Note, res.Price, res.PaidByCash)
	}
	resp.Write(w)
}

// enqueueAppend publishes the transaction for the ledger worker. The
// idempotency key, when given, doubles as the message id so the worker
// drops duplicates.
func (s *Server) enqueueAppend(w http.ResponseWriter, r *http.Request, key string, tx core.NewTransaction) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := key
	if id == "" {
		id = generateMessageID()
	}
	msg := amqp.NewAppendMessage(id, trace.GetRequestID(ctx), tx)
	if err := s.publisher.PublishAppend(ctx, msg); err != nil {
		s.logErrorAs(ctx, "Publish append failed", err, applog.OpPublish, applog.ErrorTypeNetwork)
		ServiceUnavailableError("Queue unavailable, try again later").Write(w)
		return
	}

	applog.FromContext(ctx).InfoContext(ctx, "Append queued",
		applog.FieldMessageID, id,
		applog.FieldNote, tx.Note,
		applog.FieldPrice, tx.Price)
	NewResponse().
		Status(http.StatusAccepted).
		Message("Transaction queued.").
		Data(map[string]string{"messageId": id}).
		Write(w)
}

func (s *Server) handleUndoTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := operationContext(r)
	defer cancel()

	res, err := s.ledger.UndoLast(ctx)
	if err != nil {
		s.logError(ctx, "Undo failed", err, applog.OpUndo)
		FromError(err).Write(w)
		return
	}
	s.structLog.LogUndo(ctx, res.Sheet, res.Range, res.Row)
	OK("Undo transaction successfully.", res).Write(w)
}

func (s *Server) handleLastTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := operationContext(r)
	defer cancel()

	entry, err := s.ledger.Last(ctx)
	if err != nil {
		s.logError(ctx, "Read last transaction failed", err, applog.OpLast)
		FromError(err).Write(w)
		return
	}
	OK("Get last transaction successfully.", entry).Write(w)
}

func (s *Server) handleLast5Transactions(w http.ResponseWriter, r *http.Request) {
	s.writeLastN(w, r, defaultListSize)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "n", defaultListSize, 1, maxListSize)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	s.writeLastN(w, r, n)
}

func (s *Server) writeLastN(w http.ResponseWriter, r *http.Request, n int) {
	ctx, cancel := operationContext(r)
	defer cancel()

	entries, err := s.ledger.LastN(ctx, n)
	if err != nil {
		s.logError(ctx, "Read transactions failed", err, applog.OpList)
		FromError(err).Write(w)
		return
	}
	OK(fmt.Sprintf("Get last %d transactions successfully.", n), entries).Write(w)
}

func (s *Server) handlePreviousColumnByValue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sheet := sanitizeInput(q.Get("sheetName"))
	value := sanitizeInput(q.Get("value"))
	if !q.Has("value") {
		value = ledger.MonthMarker(s.now())
	}

	ctx, cancel := operationContext(r)
	defer cancel()

	loc, err := s.ledger.PreviousColumnByValue(ctx, sheet, value)
	if err != nil {
		s.logError(ctx, "Locate value failed", err, applog.OpLocate)
		FromError(err).Write(w)
		return
	}
	OK("Get previous column successfully.", loc).Write(w)
}

func (s *Server) handleFirstEmptyCell(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sheet := sanitizeInput(q.Get("sheetName"))
	column := sanitizeInput(q.Get("column"))
	if column == "" {
		BadRequestError("column is required").Write(w)
		return
	}
	startRow, err := queryInt(r, "startRow", 1, 1, maxSheetRows)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	ctx, cancel := operationContext(r)
	defer cancel()

	cell, err := s.ledger.FirstEmptyCell(ctx, sheet, column, startRow)
	if err != nil {
		s.logError(ctx, "Scan column failed", err, applog.OpScan)
		FromError(err).Write(w)
		return
	}
	OK("Get first empty cell successfully.", cell).Write(w)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		NotFoundError("Journal is not enabled").Write(w)
		return
	}
	limit, err := queryInt(r, "limit", defaultJournalLimit, 1, maxJournalLimit)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	ctx, cancel := operationContext(r)
	defer cancel()

	entries, err := s.journal.List(ctx, limit)
	if err != nil {
		s.logError(ctx, "Read journal failed", err, applog.OpList)
		InternalServerError("Failed to read journal").Write(w)
		return
	}
	OK("Get journal successfully.", entries).Write(w)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	OK("ok", map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks that the ledger sheet and its header can be read.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if err := s.ledger.Ping(ctx); err != nil {
		checks["ledger"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["ledger"] = "ok"
	}

	if s.publisher != nil {
		checks["queue"] = map[string]any{"configured": true, "async_default": s.asyncAppend}
	}
	checks["idempotency_cache"] = map[string]any{"entries": s.idem.Size()}
	checks["rate_limiter"] = map[string]any{"active_clients": s.rateLimiter.ActiveClients()}

	NewResponse().
		Status(httpStatus).
		Success(httpStatus == http.StatusOK).
		Message(status).
		Data(map[string]any{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    checks,
		}).
		Write(w)
}

// handleMetrics provides request and security counters in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()

	w.WriteHeader(http.StatusOK)
	writeMetric(w, "http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	writeMetric(w, "http_requests_in_flight", "gauge", "Requests being served", traceMetrics.InFlight)
	writeMetric(w, "http_average_response_time_microseconds", "gauge", "Mean duration of completed requests", traceMetrics.AverageResponseTime)
	writeMetric(w, "rate_limit_rejections_total", "counter", "Requests rejected by the rate limiter", rateLimitMetrics.TotalHits)
	writeMetric(w, "rate_limit_clients", "gauge", "Clients tracked by the rate limiter", rateLimitMetrics.ClientCount)
	writeMetric(w, "suspicious_requests_total", "counter", "Requests flagged by the attack detector", securityMetrics.SuspiciousRequests)
	writeMetric(w, "invalid_ip_attempts_total", "counter", "Requests with an unparsable client address", securityMetrics.InvalidIPAttempts)
	writeMetric(w, "idempotency_entries", "gauge", "Remembered idempotency keys", int64(s.idem.Size()))
	idemStats := s.idem.Stats()
	writeMetric(w, "idempotency_hits_total", "counter", "Appends answered from a remembered result", idemStats.Hits)
	writeMetric(w, "idempotency_evictions_total", "counter", "Remembered results evicted before expiry", idemStats.Evictions)
	writeMetric(w, "uptime_seconds", "gauge", "Seconds since the server started", int64(time.Since(s.startedAt).Seconds()))
}
