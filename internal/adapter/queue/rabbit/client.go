// Package rabbit provides the AMQP broker adapter.
//
// Each flavor owns a durable task/result queue pair on the default
// exchange. Publishers use persistent delivery; consumers use manual
// ack with prefetch 1. Connections redial with exponential backoff and
// queues are redeclared after every reconnect.
package rabbit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
)

// Client manages a single AMQP connection shared by the process's
// publishers and consumers.
type Client struct {
	url          string
	reconnectMin time.Duration
	reconnectMax time.Duration

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewClient constructs a Client. No connection is made until the first
// operation needs one.
func NewClient(url string, reconnectMin, reconnectMax time.Duration) *Client {
	if reconnectMin <= 0 {
		reconnectMin = 500 * time.Millisecond
	}
	if reconnectMax <= 0 {
		reconnectMax = 30 * time.Second
	}
	return &Client{url: url, reconnectMin: reconnectMin, reconnectMax: reconnectMax}
}

// newBackoff returns the dial retry schedule: exponential from min to max,
// retrying forever until the context is cancelled.
func newBackoff(min, max time.Duration) *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = min
	expo.MaxInterval = max
	expo.MaxElapsedTime = 0
	return expo
}

// connection returns a live connection, dialing with backoff until one is
// established or ctx is cancelled.
func (c *Client) connection(ctx context.Context) (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}
	var conn *amqp.Connection
	op := func() error {
		var err error
		conn, err = amqp.Dial(c.url)
		if err != nil {
			observability.QueueReconnectsTotal.Inc()
			slog.Warn("broker dial failed; retrying", slog.Any("error", err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(newBackoff(c.reconnectMin, c.reconnectMax), ctx)); err != nil {
		return nil, fmt.Errorf("op=queue.dial: %w", err)
	}
	c.conn = conn
	return conn, nil
}

// reset drops the cached connection so the next operation redials.
func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.conn = nil
}

// Ping verifies the broker is reachable. Used by readiness probes; it does
// not retry.
func (c *Client) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("op=queue.ping: %w", err)
	}
	c.conn = conn
	return nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// declareQueue declares a durable queue on the given channel.
func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("op=queue.declare %s: %w", name, err)
	}
	return nil
}
