package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// Publisher publishes task and result messages on the default exchange
// (routing key = queue name). It implements domain.TaskQueue and
// domain.ResultQueue.
type Publisher struct {
	client *Client

	mu       sync.Mutex
	ch       *amqp.Channel
	declared map[string]bool
}

// NewPublisher constructs a Publisher sharing the given client's connection.
func NewPublisher(c *Client) *Publisher {
	return &Publisher{client: c, declared: make(map[string]bool)}
}

// buildPublishing assembles the persistent JSON publishing with the
// request_id header mirroring the body id.
func buildPublishing(requestID string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{"request_id": requestID},
		Body:         body,
	}
}

// channel returns the cached publish channel, opening one (and redialing
// the connection) when needed. Queues seen by this publisher are declared
// once per channel; a fresh channel after reconnect redeclares them all.
func (p *Publisher) channel(ctx context.Context, queue string) (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		conn, err := p.client.connection(ctx)
		if err != nil {
			return nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			p.client.reset()
			return nil, fmt.Errorf("op=queue.channel: %w", err)
		}
		p.ch = ch
		p.declared = make(map[string]bool)
	}
	if !p.declared[queue] {
		if err := declareQueue(p.ch, queue); err != nil {
			return nil, err
		}
		p.declared[queue] = true
	}
	return p.ch, nil
}

func (p *Publisher) publish(ctx context.Context, queue, requestID string, body []byte) error {
	var lastErr error
	// One retry: a channel that died since the last publish is replaced and
	// the publish reattempted on the fresh connection.
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := p.channel(ctx, queue)
		if err != nil {
			lastErr = err
			continue
		}
		if err := ch.PublishWithContext(ctx, "", queue, false, false, buildPublishing(requestID, body)); err != nil {
			lastErr = err
			p.reset()
			continue
		}
		observability.QueuePublishedTotal.WithLabelValues(queue).Inc()
		return nil
	}
	return fmt.Errorf("op=queue.publish %s: %w", queue, lastErr)
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.client.reset()
}

// PublishTask publishes a task message to the flavor's task queue.
func (p *Publisher) PublishTask(ctx domain.Context, queue string, t domain.TaskMessage) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("op=queue.publish_task: %w", err)
	}
	return p.publish(ctx, queue, t.RequestID, body)
}

// PublishResult publishes a result message to the flavor's result queue.
func (p *Publisher) PublishResult(ctx domain.Context, queue string, r domain.ResultMessage) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("op=queue.publish_result: %w", err)
	}
	return p.publish(ctx, queue, r.RequestID, body)
}

// Close releases the publish channel. The shared connection is owned by the
// Client and closed separately.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
