package rabbit

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. A nil return acks the delivery; an
// error nacks it with requeue so the broker redelivers.
type Handler func(ctx context.Context, body []byte) error

// Consumer drains one queue with manual acks. Deliveries are handed to a
// single executor goroutine through a bounded channel of size 1, keeping the
// AMQP reader free to service broker heartbeats while a long task runs.
type Consumer struct {
	client   *Client
	queue    string
	prefetch int
}

// NewConsumer constructs a Consumer for the given queue.
func NewConsumer(c *Client, queue string, prefetch int) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{client: c, queue: queue, prefetch: prefetch}
}

// Run consumes until ctx is cancelled, resubscribing whenever the session
// drops. The in-flight message is drained before returning so graceful
// shutdown never abandons a half-processed task.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		err := c.runSession(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("consumer session ended; resubscribing",
				slog.String("queue", c.queue), slog.Any("error", err))
		}
	}
}

func (c *Consumer) runSession(ctx context.Context, handler Handler) error {
	conn, err := c.client.connection(ctx)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		c.client.reset()
		return fmt.Errorf("op=queue.channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("op=queue.qos: %w", err)
	}
	msgs, err := ch.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("op=queue.consume %s: %w", c.queue, err)
	}

	work := make(chan amqp.Delivery, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range work {
			if err := handler(ctx, d.Body); err != nil {
				slog.Warn("handler failed; requeueing delivery",
					slog.String("queue", c.queue), slog.Any("error", err))
				_ = d.Nack(false, true)
			} else {
				_ = d.Ack(false)
			}
		}
	}()
	drain := func() {
		close(work)
		<-done
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return nil
		case d, ok := <-msgs:
			if !ok {
				drain()
				return fmt.Errorf("op=queue.consume %s: delivery channel closed", c.queue)
			}
			select {
			case work <- d:
			case <-ctx.Done():
				// Not yet handed off; leave unacked for redelivery.
				_ = d.Nack(false, true)
				drain()
				return nil
			}
		}
	}
}
