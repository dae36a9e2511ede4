package bus

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

// Consumer wraps a single AMQP channel bound to one queue at prefetch=1,
// matching spec.md §4.3: "Each worker subscribes to queue q.worker.task
// with prefetch = 1 (one in-flight message per consumer)."
type Consumer struct {
	ch         *amqp.Channel
	tag        string
	deliveries <-chan amqp.Delivery
}

// NewConsumer sets QoS to the given prefetch (cmd/worker passes 1) and
// opens the delivery channel.
func NewConsumer(ch *amqp.Channel, queue, consumerTag string, prefetch int) (*Consumer, error) {
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return &Consumer{ch: ch, tag: consumerTag, deliveries: deliveries}, nil
}

// Deliveries exposes the raw channel for a run loop to range over.
func (c *Consumer) Deliveries() <-chan amqp.Delivery { return c.deliveries }

// Cancel stops delivery of new messages without closing the channel,
// letting an in-flight message finish during graceful shutdown.
func (c *Consumer) Cancel() error { return c.ch.Cancel(c.tag, false) }

// DecodeTaskCreated unmarshals a delivery body into TaskCreatedMessage.
// Returns an error for a malformed body or an event name other than
// models.EventNameTaskCreated; the caller ack-drops per spec.md §4.3 step 1
// ("if eventId or payload is absent, ack-drop and log").
func DecodeTaskCreated(body []byte) (TaskCreatedMessage, error) {
	var msg TaskCreatedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return TaskCreatedMessage{}, fmt.Errorf("decode task created message: %w", err)
	}
	if msg.EventName != models.EventNameTaskCreated {
		return TaskCreatedMessage{}, fmt.Errorf("decode task created message: unknown event name %q", msg.EventName)
	}
	if msg.EventID == "" || msg.Payload.TaskID == "" {
		return TaskCreatedMessage{}, fmt.Errorf("decode task created message: missing eventId or payload")
	}
	return msg, nil
}

// AckDelivery and NackToDLX resolve the outcomes the processor drives a
// message to (spec.md §4.3 error classification): success/poison -> ack;
// transient write-conflict -> reject without requeue (routed to the DLX
// delay path); anything unexpected -> ack after a best-effort fallback
// write, to avoid an infinite redelivery loop.
func AckDelivery(d amqp.Delivery) error { return d.Ack(false) }

func NackToDLX(ctx context.Context, d amqp.Delivery) error { return d.Reject(false) }
