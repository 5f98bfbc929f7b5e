package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	applog "sheetledger/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures     = 5
	openTimeout     = 30 * time.Second
	maxBackoff      = 30 * time.Second
	maxDialAttempts = 5
	publishTimeout  = 5 * time.Second
)

// ErrPermanent marks a handler failure that retrying cannot fix; such
// messages are rejected without requeue.
var ErrPermanent = errors.New("permanent failure")

type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

// NewClient dials the broker, retrying with exponential backoff, and
// declares the exchange and queue.
func NewClient(ctx context.Context, url, exchangeName, queueName string) (*Client, error) {
	c := &Client{url: url, exchangeName: exchangeName, queueName: queueName}

	var err error
	for attempt := 0; attempt < maxDialAttempts; attempt++ {
		if err = c.connect(); err == nil {
			return c, nil
		}
		wait := exponentialBackoff(attempt)
		amqpLog().WarnContext(ctx, "AMQP connection failed, retrying",
			"attempt", attempt+1, "wait", wait.String(), applog.FieldError, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("dial AMQP after %d attempts: %w", maxDialAttempts, err)
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchangeName, queueName string) error {
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key equals the queue name on a direct exchange.
	if err := ch.QueueBind(queueName, queueName, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// One unacknowledged message at a time keeps the worker a single writer.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// PublishAppend enqueues an append command.
func (c *Client) PublishAppend(ctx context.Context, msg *AppendMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return errors.New("AMQP circuit breaker is open, publish skipped")
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msg.ID,
			CorrelationId: msg.RequestID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	amqpLog().InfoContext(ctx, "Published append message",
		applog.FieldMessageID, msg.ID,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// AppendHandler applies one queued append.
type AppendHandler func(ctx context.Context, msg *AppendMessage) error

// ConsumeAppends delivers queued appends to handler one at a time until ctx
// is cancelled or the channel closes.
func (c *Client) ConsumeAppends(ctx context.Context, handler AppendHandler) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	amqpLog().InfoContext(ctx, "Started consuming append messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			amqpLog().InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				c.dropConnection()
				return errors.New("message channel closed")
			}
			// A failed settle leaves the message unacked; the broker
			// redelivers it once the channel drops.
			_ = settle(ctx, delivery, delivery.MessageId, handleDelivery(ctx, delivery.Body, handler))
		}
	}
}

type outcome int

const (
	ack outcome = iota
	requeue
	reject
)

func (o outcome) String() string {
	switch o {
	case ack:
		return "ack"
	case requeue:
		return "requeue"
	case reject:
		return "reject"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// acknowledger is the part of amqp091.Delivery that settles a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// settle acks, requeues or rejects d and logs when the broker call fails.
func settle(ctx context.Context, d acknowledger, messageID string, o outcome) error {
	var err error
	switch o {
	case ack:
		err = d.Ack(false)
	case requeue:
		err = d.Nack(false, true)
	case reject:
		err = d.Nack(false, false)
	default:
		err = fmt.Errorf("unknown %s", o)
	}
	if err != nil {
		amqpLog().ErrorContext(ctx, "Failed to settle message",
			applog.FieldMessageID, messageID,
			"outcome", o.String(),
			applog.FieldError, err)
		return fmt.Errorf("settle %s: %w", o, err)
	}
	return nil
}

// handleDelivery decodes and applies one message and decides its fate.
func handleDelivery(ctx context.Context, body []byte, handler AppendHandler) outcome {
	msg, err := AppendMessageFromJSON(body)
	if err != nil {
		amqpLog().ErrorContext(ctx, "Failed to unmarshal message", applog.FieldError, err)
		return reject
	}

	amqpLog().InfoContext(ctx, "Processing append message",
		applog.FieldMessageID, msg.ID, applog.FieldRequestID, msg.RequestID)

	if err := handler(ctx, msg); err != nil {
		if errors.Is(err, ErrPermanent) {
			amqpLog().ErrorContext(ctx, "Dropping append message", applog.FieldMessageID, msg.ID, applog.FieldError, err)
			return reject
		}
		amqpLog().ErrorContext(ctx, "Failed to handle message, requeueing", applog.FieldMessageID, msg.ID, applog.FieldError, err)
		return requeue
	}

	amqpLog().InfoContext(ctx, "Successfully processed append message", applog.FieldMessageID, msg.ID)
	return ack
}

func amqpLog() *slog.Logger {
	return slog.Default().With(applog.FieldComponent, applog.ComponentAMQP)
}

func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	if c.url == "" {
		return nil, errors.New("AMQP not connected")
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel, nil
}

func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns 1s, 2s, 4s... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
