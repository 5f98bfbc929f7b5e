// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Bodies may be JSON or form-encoded; both decode to the same fields.

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sheetledger/internal/core"
)

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once, at most maxBodyBytes, and stores it for
// subsequent parsing.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}

	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := strings.TrimSpace(string(p.body))
	if trimmed == "" {
		p.formData = url.Values{}
		return nil
	}

	// Try JSON first if content looks like JSON
	if trimmed[0] == '{' {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	// Fall back to form parsing
	p.formData, p.err = url.ParseQuery(trimmed)
	return p.err
}

// Has reports whether key was sent with a non-null value.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		v, ok := p.jsonData[key]
		return ok && v != nil
	}
	return p.formData != nil && p.formData.Has(key)
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// Raw returns the decoded JSON value of key, or the form string.
func (p *RequestBodyParser) Raw(key string) (any, bool) {
	if p.jsonData != nil {
		v, ok := p.jsonData[key]
		return v, ok && v != nil
	}
	if p.formData != nil && p.formData.Has(key) {
		return p.formData.Get(key), true
	}
	return nil, false
}

// Bool reads the first of keys that is present. JSON booleans, "true",
// "1", "on" and "x" count as true.
func (p *RequestBodyParser) Bool(keys ...string) bool {
	for _, key := range keys {
		v, ok := p.Raw(key)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case bool:
			return val
		case float64:
			return val != 0
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true", "1", "on", "yes", core.CashMarker:
				return true
			}
			return false
		}
		return false
	}
	return false
}

// GetRaw returns the raw body bytes.
func (p *RequestBodyParser) GetRaw() []byte {
	return p.body
}

// ContentType returns the Content-Type header value.
func (p *RequestBodyParser) ContentType() string {
	return p.contentType
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// ParseTransaction reads an add-transaction body. Field names follow the
// spreadsheet client (isPaybyCash, isCountForNhi); paidByCash and
// countForSummary are accepted as well. day may be a number, a numeric
// string or absent.
func ParseTransaction(p *RequestBodyParser) (core.NewTransaction, error) {
	tx := core.NewTransaction{
		Note:            p.Get("note"),
		PaidByCash:      p.Bool("isPaybyCash", "paidByCash"),
		CountForSummary: p.Bool("isCountForNhi", "countForSummary"),
	}

	if v, ok := p.Raw("day"); ok {
		day, err := parseDay(v)
		if err != nil {
			return core.NewTransaction{}, err
		}
		tx.Day = day
	}

	v, ok := p.Raw("price")
	if !ok {
		return core.NewTransaction{}, fmt.Errorf("%w: price is required", core.ErrInvalidFormat)
	}
	price, err := parsePrice(v)
	if err != nil {
		return core.NewTransaction{}, err
	}
	tx.Price = price
	return tx, nil
}

func parseDay(v any) (string, error) {
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) {
			return "", core.ErrInvalidDay
		}
		return strconv.Itoa(int(val)), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return "", nil
		}
		if _, err := strconv.Atoi(s); err != nil {
			return "", core.ErrInvalidDay
		}
		return s, nil
	default:
		return "", core.ErrInvalidDay
	}
}

func parsePrice(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		return core.ParsePrice(val)
	default:
		return 0, core.ErrInvalidPrice
	}
}

// stringValue converts an interface{} to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
