package security

import (
	"net/http"
	"strconv"
)

// HeadersConfig lists the response headers set on every API response.
// Empty values are not sent.
type HeadersConfig struct {
	CSP                 string
	FrameOptions        string
	ContentTypeOptions  string
	ReferrerPolicy      string
	PermissionsPolicy   string
	CrossOriginOpener   string
	CrossOriginResource string
	// Ledger reads change with every append and must not be cached.
	CacheControl string

	// HSTS is only sent on TLS connections.
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool
}

// DefaultHeadersConfig suits a JSON API that never serves documents.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'",
		FrameOptions:        "DENY",
		ContentTypeOptions:  "nosniff",
		ReferrerPolicy:      "no-referrer",
		PermissionsPolicy:   "geolocation=(), microphone=(), camera=(), payment=()",
		CrossOriginOpener:   "same-origin",
		CrossOriginResource: "same-origin",
		CacheControl:        "no-store",

		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
	}
}

// HeadersMiddleware writes a fixed header set computed once from its config.
type HeadersMiddleware struct {
	always http.Header
	hsts   string
}

func NewHeadersMiddleware(config HeadersConfig) *HeadersMiddleware {
	always := http.Header{}
	for name, value := range map[string]string{
		"Content-Security-Policy":      config.CSP,
		"X-Frame-Options":              config.FrameOptions,
		"X-Content-Type-Options":       config.ContentTypeOptions,
		"Referrer-Policy":              config.ReferrerPolicy,
		"Permissions-Policy":           config.PermissionsPolicy,
		"Cross-Origin-Opener-Policy":   config.CrossOriginOpener,
		"Cross-Origin-Resource-Policy": config.CrossOriginResource,
		"Cache-Control":                config.CacheControl,
	} {
		if value != "" {
			always.Set(name, value)
		}
	}

	var hsts string
	if config.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
		if config.HSTSPreload {
			hsts += "; preload"
		}
	}
	return &HeadersMiddleware{always: always, hsts: hsts}
}

func (h *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dst := w.Header()
		for name := range h.always {
			dst.Set(name, h.always.Get(name))
		}
		if r.TLS != nil && h.hsts != "" {
			dst.Set("Strict-Transport-Security", h.hsts)
		}
		next.ServeHTTP(w, r)
	})
}
