package security

import (
	"net/http"
	"strings"
)

// CORS answers preflight requests and sets Access-Control headers for
// allowed origins. An origin of "*" allows every origin.
type CORS struct {
	origins map[string]bool
	any     bool
}

const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type, Idempotency-Key, X-Request-ID"
	corsExposeHeaders = "X-Request-ID, Idempotent-Replayed"
	corsMaxAge        = "600"
)

// NewCORS builds a CORS handler; with no origins it only passes requests through.
func NewCORS(origins []string) *CORS {
	c := &CORS{origins: make(map[string]bool)}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			c.any = true
			continue
		}
		if o != "" {
			c.origins[strings.ToLower(o)] = true
		}
	}
	return c
}

// Enabled reports whether any origin is allowed.
func (c *CORS) Enabled() bool {
	return c.any || len(c.origins) > 0
}

func (c *CORS) allowed(origin string) bool {
	return c.any || c.origins[strings.ToLower(origin)]
}

func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !c.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		if !c.allowed(origin) {
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if c.any {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
		}
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
