// Package mq publishes run lifecycle events to RabbitMQ.
package mq

// File: internal/mq/publisher.go
// Purpose: Publish run lifecycle events to the perf.events exchange.

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Routing keys for run lifecycle events.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
	EventRunAnalyzed  = "run.analyzed"
)

// EventPublisher is what the orchestrator needs from a broker.
type EventPublisher interface {
	Publish(routingKey string, payload map[string]any) error
	Close()
}

// Publisher owns one AMQP connection and channel bound to a topic exchange.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewPublisher dials url and declares exchange as a durable topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Close releases the channel, then the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Publish emits a JSON event to the configured exchange. Runs publish from
// many goroutines, so the shared channel is guarded.
func (p *Publisher) Publish(routingKey string, payload map[string]any) error {
	body, err := Encode(routingKey, payload, time.Now())
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Publish(
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprint(payload["event_id"]),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// Event builds the common envelope for a run event. Extra fields are merged in.
func Event(eventType, runID string, fields map[string]any) map[string]any {
	ev := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		ev[k] = v
	}
	ev["event_id"] = uuid.NewString()
	ev["event_type"] = eventType
	ev["run_id"] = runID
	return ev
}

// Encode stamps the routing key and time onto payload and marshals it.
func Encode(routingKey string, payload map[string]any, now time.Time) ([]byte, error) {
	payload["routing_key"] = routingKey
	payload["ts_utc"] = now.UTC().Format(time.RFC3339Nano)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return body, nil
}

// Noop drops every event. It is used when EVENTS_ENABLED is false or the broker is unreachable.
type Noop struct{}

// Publish implements EventPublisher.
func (Noop) Publish(string, map[string]any) error { return nil }

// Close implements EventPublisher.
func (Noop) Close() {}
