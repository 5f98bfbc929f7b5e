package http

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sheetledger/internal/cache"
	"sheetledger/internal/core"
	applog "sheetledger/internal/log"
)

// maxSheetRows is the row limit of a Google Sheets grid.
const maxSheetRows = 10_000_000

var validKey = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// statusForError maps the ledger error taxonomy to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNoPreviousColumn):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, cache.ErrKeyReused):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorType classifies err for the error_type log field.
func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidFormat), errors.Is(err, cache.ErrKeyReused):
		return applog.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNoPreviousColumn):
		return applog.ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict):
		return applog.ErrorTypeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return applog.ErrorTypeTimeout
	case errors.Is(err, core.ErrStoreFailure):
		return applog.ErrorTypeStore
	default:
		return applog.ErrorTypeInternal
	}
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// queryInt reads an integer query parameter within [lo, hi], returning def
// when it is absent.
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

// queryBool reports whether a query flag is set to a true value.
func queryBool(r *http.Request, name string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && b
}

func validIdempotencyKey(key string) bool {
	return validKey.MatchString(key)
}

// fingerprint identifies the transaction a client sent, so a reused
// idempotency key with different content is detected.
func fingerprint(tx core.NewTransaction) string {
	b, _ := json.Marshal(tx)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// generateMessageID creates an id for a queued append.
func generateMessageID() string {
	bytes := make([]byte, 12)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}
	return "msg_" + hex.EncodeToString(bytes)
}

func writeMetric(w io.Writer, name, kind, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n\n", name, value)
}
