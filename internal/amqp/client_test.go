package amqp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"sheetledger/internal/core"
)

func TestExponentialBackoff(t *testing.T) {
	want := map[int]time.Duration{
		-1: time.Second,
		0:  time.Second,
		1:  2 * time.Second,
		4:  16 * time.Second,
		5:  maxBackoff,
		40: maxBackoff,
	}
	for attempt, d := range want {
		if got := exponentialBackoff(attempt); got != d {
			t.Errorf("exponentialBackoff(%d) = %v, want %v", attempt, got, d)
		}
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := map[string]bool{
		"connection refused":               true,
		"unexpected EOF":                   true,
		"write: broken pipe":               true,
		"use of closed network connection": true,
		"PRECONDITION_FAILED":              false,
		"invalid input":                    false,
	}
	for msg, want := range tests {
		if got := isConnectionError(errors.New(msg)); got != want {
			t.Errorf("isConnectionError(%q) = %v, want %v", msg, got, want)
		}
	}
	if isConnectionError(nil) {
		t.Error("nil is not a connection error")
	}
	if !isConnectionError(fmt.Errorf("publish: %w", amqp091.ErrClosed)) {
		t.Error("wrapped ErrClosed is a connection error")
	}
}

func TestCircuitBreaker(t *testing.T) {
	c := &Client{}
	if c.isCircuitOpen() {
		t.Fatal("new client starts closed")
	}

	for i := 0; i < maxFailures-1; i++ {
		c.recordFailure()
	}
	if c.isCircuitOpen() {
		t.Fatalf("circuit opened before %d failures", maxFailures)
	}
	c.recordFailure()
	if !c.isCircuitOpen() {
		t.Fatal("circuit should open at the failure threshold")
	}

	c.mu.Lock()
	c.lastFailure = time.Now().Add(-openTimeout - time.Second)
	c.mu.Unlock()
	if c.isCircuitOpen() || atomic.LoadInt32(&c.state) != StateHalfOpen {
		t.Fatal("circuit should go half-open once the timeout passes")
	}

	c.recordSuccess()
	if atomic.LoadInt32(&c.state) != StateClosed || atomic.LoadInt64(&c.failureCount) != 0 {
		t.Fatal("success should close the circuit and reset failures")
	}
}

func TestPublishAppendShortCircuits(t *testing.T) {
	msg := NewAppendMessage("msg-1", "req_1", core.NewTransaction{Note: "lunch", Price: 9.5})

	open := &Client{state: StateOpen, lastFailure: time.Now()}
	if err := open.PublishAppend(context.Background(), msg); err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Fatalf("open circuit should refuse to publish, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (&Client{}).PublishAppend(ctx, msg); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context should win, got %v", err)
	}
}

func TestAppendMessage_JSON(t *testing.T) {
	timestamp := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := &AppendMessage{
		ID:          "msg-42",
		RequestID:   "req_abc",
		Transaction: core.NewTransaction{Day: "3", Note: "bus", Price: 2, PaidByCash: true},
		Timestamp:   timestamp,
	}

	jsonBytes, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	parsed, err := AppendMessageFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("AppendMessageFromJSON() error = %v", err)
	}
	if parsed.ID != msg.ID || parsed.RequestID != msg.RequestID || parsed.Transaction != msg.Transaction {
		t.Errorf("Parsed message = %+v, want %+v", parsed, msg)
	}
	if !parsed.Timestamp.Equal(timestamp) {
		t.Errorf("Parsed Timestamp = %v, want %v", parsed.Timestamp, timestamp)
	}
}

func TestAppendMessage_InvalidJSON(t *testing.T) {
	for _, body := range []string{`{"id": 12, "transaction": {}}`, `{"transaction": {"note": "x"}}`, `not json`} {
		if _, err := AppendMessageFromJSON([]byte(body)); err == nil {
			t.Errorf("AppendMessageFromJSON(%s) should fail", body)
		}
	}
}

func TestHandleDelivery(t *testing.T) {
	body, _ := NewAppendMessage("msg-1", "", core.NewTransaction{Note: "x"}).ToJSON()
	ctx := context.Background()

	tests := []struct {
		name    string
		body    []byte
		handler AppendHandler
		want    outcome
	}{
		{"success acks", body, func(context.Context, *AppendMessage) error { return nil }, ack},
		{"transient failure requeues", body, func(context.Context, *AppendMessage) error { return errors.New("quota") }, requeue},
		{"permanent failure rejects", body, func(context.Context, *AppendMessage) error {
			return fmt.Errorf("%w: %w", ErrPermanent, core.ErrInvalidFormat)
		}, reject},
		{"garbage rejects", []byte("{"), func(context.Context, *AppendMessage) error {
			t.Fatal("handler must not run for undecodable messages")
			return nil
		}, reject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := handleDelivery(ctx, tt.body, tt.handler); got != tt.want {
				t.Errorf("handleDelivery = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsureChannelWithoutURL(t *testing.T) {
	c := &Client{}
	if _, err := c.ensureChannel(); err == nil {
		t.Fatal("expected error when not connected")
	}
}

type fakeAcknowledger struct {
	err   error
	calls []string
}

func (f *fakeAcknowledger) Ack(multiple bool) error {
	f.calls = append(f.calls, fmt.Sprintf("ack(%v)", multiple))
	return f.err
}

func (f *fakeAcknowledger) Nack(multiple, requeue bool) error {
	f.calls = append(f.calls, fmt.Sprintf("nack(%v,%v)", multiple, requeue))
	return f.err
}

func TestSettle(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name     string
		outcome  outcome
		ackErr   error
		wantCall string
		wantLog  bool
	}{
		{"ack", ack, nil, "ack(false)", false},
		{"requeue", requeue, nil, "nack(false,true)", false},
		{"reject", reject, nil, "nack(false,false)", false},
		{"failed ack is logged", ack, amqp091.ErrClosed, "ack(false)", true},
		{"failed requeue is logged", requeue, amqp091.ErrClosed, "nack(false,true)", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
			d := &fakeAcknowledger{err: tt.ackErr}

			err := settle(context.Background(), d, "msg-1", tt.outcome)
			if len(d.calls) != 1 || d.calls[0] != tt.wantCall {
				t.Fatalf("calls = %v, want [%s]", d.calls, tt.wantCall)
			}
			if !errors.Is(err, tt.ackErr) || (tt.ackErr == nil) != (err == nil) {
				t.Fatalf("err = %v, want %v", err, tt.ackErr)
			}
			logged := buf.String()
			if tt.wantLog != strings.Contains(logged, "Failed to settle message") {
				t.Fatalf("log = %q, want settle error logged: %v", logged, tt.wantLog)
			}
			if tt.wantLog {
				for _, want := range []string{"component=amqp", "message_id=msg-1", "outcome=" + tt.outcome.String()} {
					if !strings.Contains(logged, want) {
						t.Errorf("log %q is missing %s", logged, want)
					}
				}
			}
		})
	}
}
