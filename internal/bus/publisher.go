package bus

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

// Publisher publishes outbox events to the fanout exchange. One Publisher
// per dispatcher channel; amqp091-go channels are not safe for concurrent
// publish, and the dispatcher publishes from a single goroutine through
// one Publisher (see internal/dispatch).
type Publisher struct {
	ch *amqp.Channel
}

// NewPublisher wraps an already-open channel. Publisher confirms are not
// enabled; the dispatcher relies on the store, not bus acks, as its source
// of truth (spec.md §4.2: "the dispatcher never needs to read bus acks").
func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// PublishEvent publishes ev to ExchangeEvents with routing key
// ev.EventName and the persistent delivery flag, matching spec.md §4.2
// step 3 and the wire contract in §6.
func (p *Publisher) PublishEvent(ctx context.Context, ev models.Event) error {
	switch ev.EventName {
	case models.EventNameTaskCreated:
		msg := TaskCreatedMessage{EventID: ev.ID, EventName: ev.EventName, Payload: ev.Event.Payload}
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal task created message: %w", err)
		}
		return p.publish(ctx, ev.EventName, body)
	default:
		return fmt.Errorf("publish event: unknown event name %q", ev.EventName)
	}
}

func (p *Publisher) publish(ctx context.Context, routingKey string, body []byte) error {
	return p.ch.PublishWithContext(ctx, ExchangeEvents, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}
