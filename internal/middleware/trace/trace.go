// Package trace assigns request ids and writes the access log.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	applog "sheetledger/internal/log"
)

// HeaderRequestID carries the request id in and out of the service.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Middleware tags each request with an id and logs its start and end.
type Middleware struct {
	extractIP func(*http.Request) string

	requests atomic.Int64
	inFlight atomic.Int64
	totalUS  atomic.Int64
}

// Metrics summarises traffic seen by the middleware.
type Metrics struct {
	TotalRequests       int64
	InFlight            int64
	AverageResponseTime int64 // microseconds, over completed requests
}

// NewMiddleware creates the middleware. extractIP may be nil.
func NewMiddleware(extractIP func(*http.Request) string) *Middleware {
	return &Middleware{extractIP: extractIP}
}

// Middleware reuses a well-formed incoming X-Request-ID and generates one
// otherwise. The id is echoed in the response and stored in the context.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(HeaderRequestID)
		if !validRequestID.MatchString(requestID) {
			requestID = GenerateRequestID()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}
		logger := slog.Default().With(
			applog.FieldComponent, applog.ComponentTrace,
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, clientIP)
		logger.DebugContext(ctx, "HTTP request started",
			applog.FieldQuery, r.URL.RawQuery,
			applog.FieldUserAgent, r.Header.Get("User-Agent"),
			applog.FieldReferer, r.Header.Get("Referer"),
			"content_length", r.ContentLength)

		m.requests.Add(1)
		m.inFlight.Add(1)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.inFlight.Add(-1)

		elapsed := time.Since(start)
		m.totalUS.Add(elapsed.Microseconds())

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "HTTP request completed",
			applog.FieldStatusCode, rec.status,
			applog.FieldDuration, elapsed.Milliseconds(),
			applog.FieldDurationHuman, elapsed.String(),
			applog.FieldSuccess, rec.status < 400)
	})
}

// statusRecorder remembers the first status written.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// GenerateRequestID returns "req_" followed by 16 hex digits.
func GenerateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// WithRequestID stores id in ctx. The queue worker uses it to carry the id
// of the HTTP request that published a message.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the id stored by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (m *Middleware) GetMetrics() Metrics {
	total := m.requests.Load()
	inFlight := m.inFlight.Load()
	var avg int64
	if done := total - inFlight; done > 0 {
		avg = m.totalUS.Load() / done
	}
	return Metrics{TotalRequests: total, InFlight: inFlight, AverageResponseTime: avg}
}
