// Package ratelimit applies a fixed one-minute request window per client.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	window = time.Minute
	// Clients idle for this long are forgotten.
	staleAfter = 10 * window
)

// Limiter counts requests per client key in one-minute windows.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*clientWindow
	limit    int
	interval time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once

	rejected atomic.Int64
}

type clientWindow struct {
	start time.Time
	count int
	seen  time.Time
}

type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewLimiter starts a limiter and its background cleanup. Call Stop when done.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}

	l := &Limiter{
		windows:  make(map[string]*clientWindow),
		limit:    config.RequestsPerMinute,
		interval: config.CleanupInterval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from key fits in its current window.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// Reserve counts a request from key. When the window is full it returns
// false and the time until the window reopens.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= window {
		l.windows[key] = &clientWindow{start: now, count: 1, seen: now}
		return true, 0
	}
	w.seen = now
	if w.count >= l.limit {
		l.rejected.Add(1)
		return false, w.start.Add(window).Sub(now)
	}
	w.count++
	return true, 0
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.forgetIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) forgetIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-staleAfter)
	for key, w := range l.windows {
		if w.seen.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}

// ActiveClients returns the number of tracked client keys.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

type Metrics struct {
	TotalHits   int64 `json:"total_hits"`
	ClientCount int64 `json:"client_count"`
}

func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalHits:   l.rejected.Load(),
		ClientCount: int64(l.ActiveClients()),
	}
}

// Middleware rejects requests over the limit. Retry-After is set before
// onLimit runs; a nil onLimit writes a plain-text 429.
func (l *Limiter) Middleware(clientKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Reserve(clientKey(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		})
	}
}
