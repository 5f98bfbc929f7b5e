package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"sheetledger/internal/amqp"
	"sheetledger/internal/cache"
	"sheetledger/internal/core"
	"sheetledger/internal/grid"
	"sheetledger/internal/ledger"
	applog "sheetledger/internal/log"
	"sheetledger/internal/middleware/ratelimit"
	"sheetledger/internal/middleware/security"
	"sheetledger/internal/middleware/trace"
)

const (
	// maxBodyBytes caps request bodies; a transaction is a handful of fields.
	maxBodyBytes = 16 << 10

	idempotencyCacheSize = 1000
	idempotencyTTL       = 24 * time.Hour
	cacheCleanupInterval = 10 * time.Minute

	// operationTimeout bounds a single ledger call made by a handler.
	operationTimeout = 15 * time.Second
)

// Ledger is the set of operations the API exposes.
type Ledger interface {
	Append(ctx context.Context, in core.NewTransaction) (ledger.AppendResult, error)
	UndoLast(ctx context.Context) (ledger.UndoResult, error)
	Last(ctx context.Context) (ledger.Entry, error)
	LastN(ctx context.Context, n int) ([]ledger.Entry, error)
	PreviousColumnByValue(ctx context.Context, sheet, value string) (grid.Location, error)
	FirstEmptyCell(ctx context.Context, sheet, column string, startRow int) (ledger.CellResult, error)
	Ping(ctx context.Context) error
}

// JournalLister reads the audit journal.
type JournalLister interface {
	List(ctx context.Context, limit int) ([]core.JournalEntry, error)
}

// Publisher queues append commands for the ledger worker.
type Publisher interface {
	PublishAppend(ctx context.Context, msg *amqp.AppendMessage) error
}

type Server struct {
	http.Server
	ledger      Ledger
	journal     JournalLister
	publisher   Publisher
	asyncAppend bool
	now         func() time.Time

	idem         *cache.Idempotency[ledger.AppendResult]
	cacheManager *cache.Manager

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	corsOrigins      []string
	logger           *applog.Logger
	structLog        *applog.StructuredLogger

	startedAt    time.Time
	shutdownOnce sync.Once
}

type Option func(*Server)

// WithJournal enables GET /journal.
func WithJournal(j JournalLister) Option {
	return func(s *Server) { s.journal = j }
}

// WithPublisher enables queued appends. With async set every append is
// queued; otherwise only requests carrying ?async=1 are.
func WithPublisher(p Publisher, async bool) Option {
	return func(s *Server) {
		s.publisher = p
		s.asyncAppend = async
	}
}

// WithRateLimit sets the number of POST requests allowed per client per minute.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: perMinute})
	}
}

// WithCORS allows cross-origin calls from origins ("*" for any).
func WithCORS(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

func WithLogger(l *applog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides time.Now, used for the default month marker.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, l Ledger, opts ...Option) *Server {
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		ledger:           l,
		now:              time.Now,
		idem:             cache.NewIdempotency[ledger.AppendResult](idempotencyCacheSize, idempotencyTTL),
		cacheManager:     cache.NewManager(),
		securityDetector: security.NewDetector(),
		startedAt:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rateLimiter == nil {
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	if s.logger == nil {
		s.logger = applog.New(applog.Config{Handler: slog.Default().Handler(), Component: applog.ComponentHTTP})
	}
	s.structLog = applog.NewStructuredLogger(s.logger)
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP)

	s.cacheManager.Register(s.idem)
	s.cacheManager.StartCleanup(cacheCleanupInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /addTransaction", s.handleAddTransaction)
	mux.HandleFunc("POST /undoTransaction", s.handleUndoTransaction)
	mux.HandleFunc("GET /lastTransaction", s.handleLastTransaction)
	mux.HandleFunc("GET /last5Transactions", s.handleLast5Transactions)
	mux.HandleFunc("GET /transactions", s.handleTransactions)
	mux.HandleFunc("GET /getPreviousColumnByValue", s.handlePreviousColumnByValue)
	mux.HandleFunc("GET /getFirstEmptyCellInColumn", s.handleFirstEmptyCell)
	mux.HandleFunc("GET /journal", s.handleJournal)

	s.Handler = s.chain(mux)
	return s
}

// chain wraps h with the middleware stack, outermost first: tracing,
// request logger, security headers, CORS, attack detection, POST rate limit.
func (s *Server) chain(h http.Handler) http.Handler {
	limited := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimited)(h)
	h = postOnly(limited, h)
	h = s.securityDetector.Middleware(h)
	h = security.NewCORS(s.corsOrigins).Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = applog.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(h)
	h = applog.Middleware(s.logger)(h)
	return s.traceMiddleware.Middleware(h)
}

// postOnly routes POST requests through limited and everything else to h.
func postOnly(limited, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			limited.ServeHTTP(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	TooManyRequestsError("Rate limit exceeded. Please try again later.").Write(w)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// operationContext bounds a handler's ledger call.
func operationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), operationTimeout)
}

func (s *Server) logError(ctx context.Context, msg string, err error, op string) {
	s.logErrorAs(ctx, msg, err, op, errorType(err))
}

// logErrorAs logs err under an error type the caller already knows.
func (s *Server) logErrorAs(ctx context.Context, msg string, err error, op, errType string) {
	fields := applog.NewFields().
		WithRequestID(trace.GetRequestID(ctx)).
		WithErrorType(errType)
	s.structLog.LogError(ctx, msg, err, applog.ComponentHTTP, op, fields)
}
