// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for the JSON envelope every
// endpoint answers with: {"success", "message", "data"}.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"sheetledger/internal/core"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// ResponseBuilder provides a fluent API for building JSON responses.
type ResponseBuilder struct {
	statusCode int
	envelope   Envelope
	headers    map[string]string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		envelope:   Envelope{Success: true},
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code. Codes of 400 and above clear the
// success flag.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	if code >= http.StatusBadRequest {
		b.envelope.Success = false
	}
	return b
}

// Success overrides the success flag.
func (b *ResponseBuilder) Success(ok bool) *ResponseBuilder {
	b.envelope.Success = ok
	return b
}

func (b *ResponseBuilder) Message(msg string) *ResponseBuilder {
	b.envelope.Message = msg
	return b
}

func (b *ResponseBuilder) Data(data any) *ResponseBuilder {
	b.envelope.Data = data
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	body, err := json.Marshal(b.envelope)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, `{"success":false,"message":"Internal server error","data":null}`, http.StatusInternalServerError)
		return
	}

	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

// OK creates a 200 response carrying data.
func OK(message string, data any) *ResponseBuilder {
	return NewResponse().Message(message).Data(data)
}

// ErrorResponse creates a failed response with the given status.
func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).Message(message)
}

// FromError maps err to a status and message. Client errors carry the
// error text; server errors a generic message.
func FromError(err error) *ResponseBuilder {
	status := statusForError(err)
	switch {
	case status < http.StatusInternalServerError:
		return ErrorResponse(status, err.Error())
	case errors.Is(err, core.ErrStoreFailure):
		return ErrorResponse(status, "Failed to access the spreadsheet")
	case status == http.StatusGatewayTimeout:
		return ErrorResponse(status, "The spreadsheet did not answer in time")
	default:
		return InternalServerError("Internal server error")
	}
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// TooManyRequestsError creates a 429 Too Many Requests error response.
func TooManyRequestsError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// ServiceUnavailableError creates a 503 Service Unavailable error response.
func ServiceUnavailableError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, message)
}
