package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/benchmark-ops/order-workflow-api/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// OrderEvent is published after every committed transition
type OrderEvent struct {
	ID          string                 `json:"id"`
	Action      string                 `json:"action"`
	OrderID     uint                   `json:"order_id"`
	OrderNumber string                 `json:"order_number"`
	ProjectID   uint                   `json:"project_id"`
	From        models.WorkflowState   `json:"from"`
	To          models.WorkflowState   `json:"to"`
	Path        []models.WorkflowState `json:"path"`
	ActorID     *uint                  `json:"actor_id,omitempty"`
	AssignedTo  *uint                  `json:"assigned_to"`
	Version     int                    `json:"version"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// RoutingKey is the topic key the event is published under, e.g. order.submit
func (e OrderEvent) RoutingKey() string {
	return "order." + strings.ToLower(e.Action)
}

// EventPublisher delivers order change notifications to subscribers
type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

// NoopPublisher drops every event; used when no broker is configured
type NoopPublisher struct{}

// Publish does nothing
func (NoopPublisher) Publish(ctx context.Context, event OrderEvent) error { return nil }

// confirmation is the broker's answer for one published message
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// RabbitPublisher publishes events to a topic exchange with publisher confirms
type RabbitPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	publish  func(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error)
}

// NewRabbitPublisher dials the broker and declares the durable topic exchange
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p := &RabbitPublisher{conn: conn, ch: ch, exchange: exchange}
	p.publish = func(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error) {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
		if err != nil || dc == nil {
			return nil, err
		}
		return dc, nil
	}
	return p, nil
}

// Publish sends the event and waits for the broker's confirmation of that delivery
func (p *RabbitPublisher) Publish(ctx context.Context, event OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	conf, err := p.publish(ctx, event.RoutingKey(), amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if conf == nil {
		return fmt.Errorf("no publisher confirmation for event %s", event.ID)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirmation of event %s: %w", event.ID, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected event %s", event.ID)
	}
	return nil
}

// Close closes the channel and connection
func (p *RabbitPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
