package security

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	applog "sheetledger/internal/log"
)

// maxURLLength is longer than any URL the API produces.
const maxURLLength = 2048

var (
	attackPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"eval(", "javascript:", "<script", "union select",
		"etc/passwd", "cmd.exe",
	}
	scannerAgents = []string{
		"sqlmap", "nmap", "nikto", "gobuster", "dirb",
		"masscan", "zgrab", "scanner", "crawler", "spider",
	}
	unusualMethods = []string{"TRACE", "TRACK", "DEBUG", "CONNECT"}
)

// rule names one attack signature. check returns true when r matches it.
type rule struct {
	name  string
	check func(r *http.Request) bool
}

var rules = []rule{
	{"path_pattern", func(r *http.Request) bool { return containsAny(strings.ToLower(r.URL.Path), attackPatterns) }},
	{"query_pattern", func(r *http.Request) bool { return containsAny(strings.ToLower(r.URL.RawQuery), attackPatterns) }},
	{"scanner_agent", func(r *http.Request) bool {
		return containsAny(strings.ToLower(r.Header.Get("User-Agent")), scannerAgents)
	}},
	{"method", func(r *http.Request) bool { return slices.Contains(unusualMethods, r.Method) }},
	{"url_length", func(r *http.Request) bool { return len(r.URL.String()) > maxURLLength }},
	{"proxy_chain", func(r *http.Request) bool { return strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5 }},
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// DetectionMetrics counts detector events.
type DetectionMetrics struct {
	SuspiciousRequests int64
	InvalidIPAttempts  int64
}

// Detector recognises scanner and attack traffic and resolves the client
// address behind trusted proxies.
type Detector struct {
	suspicious atomic.Int64
	invalidIP  atomic.Int64

	mu      sync.RWMutex
	proxies []*net.IPNet
}

// NewDetector trusts loopback and private networks as proxies.
func NewDetector() *Detector {
	d := &Detector{}
	for _, cidr := range []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		if err := d.AddTrustedProxy(cidr); err != nil {
			panic(err)
		}
	}
	return d
}

// AddTrustedProxy trusts forwarding headers sent from cidr.
func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.mu.Lock()
	d.proxies = append(d.proxies, network)
	d.mu.Unlock()
	return nil
}

// Inspect returns the name of the first rule r matches.
func (d *Detector) Inspect(r *http.Request) (string, bool) {
	for _, rl := range rules {
		if rl.check(r) {
			d.suspicious.Add(1)
			return rl.name, true
		}
	}
	return "", false
}

// DetectSuspiciousRequest reports whether r matches an attack signature.
func (d *Detector) DetectSuspiciousRequest(r *http.Request) bool {
	_, ok := d.Inspect(r)
	return ok
}

// ExtractClientIP returns the peer address, or, when the peer is a trusted
// proxy, the nearest untrusted hop in X-Forwarded-For (then X-Real-IP).
// Unparsable header values stop the walk.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	peerIP := net.ParseIP(peer)
	if peerIP == nil {
		d.invalidIP.Add(1)
		return peer
	}
	if !d.trusted(peerIP) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			ip := net.ParseIP(hop)
			if ip == nil {
				break
			}
			if !d.trusted(ip) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

func (d *Detector) trusted(ip net.IP) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range d.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: d.suspicious.Load(),
		InvalidIPAttempts:  d.invalidIP.Load(),
	}
}

// Middleware logs requests that match an attack signature. They are not blocked:
// every route validates its own input.
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reason, ok := d.Inspect(r); ok {
			slog.WarnContext(r.Context(), "Suspicious request",
				applog.FieldComponent, applog.ComponentSecurity,
				"rule", reason,
				applog.FieldClientIP, d.ExtractClientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path,
				applog.FieldUserAgent, r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}
