// Package bus is the Message Bus (C4) and Bus Topology (T): an AMQP 0-9-1
// wrapper over amqp091-go declaring the fanout/topic exchanges, durable
// queues, DLX, and delay queue spec.md §4.4 requires, plus a publisher and
// a prefetch=1 consumer. Structurally this keeps the teacher's
// Producer/Consumer split (internal/queue/kafka_{producer,consumer}.go)
// but rebuilds it against exchanges and bindings kafka-go has no model
// for (see DESIGN.md).
package bus

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeEvents = "x.events" // fanout, durable
	ExchangeWorker = "x.worker" // topic, durable
	ExchangeDLQ    = "x.dlq"    // topic, durable

	QueueWorkerTask    = "q.worker.task"
	QueueDLQWorkerTask = "q.dlq.worker-task"

	RoutingTaskEvent  = "task.event"
	RoutingDLQPublish = "dlq-publish"
	RoutingDLQDelay   = "dlq-delay"

	BindingEventsToWorkerPattern = "#.event"
)

// Conn is a thin handle over an amqp.Connection, opening fresh channels on
// demand: each binary opens separate channels for topology declaration and
// for its publisher or consumer.
type Conn struct {
	conn *amqp.Connection
}

// Dial connects to the broker at url.
func Dial(url string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Channel opens a new AMQP channel.
func (c *Conn) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// IsClosed reports whether the underlying connection has been closed,
// used by the healthz endpoint.
func (c *Conn) IsClosed() bool { return c.conn.IsClosed() }

// Close closes the underlying connection. Part of the Lifecycle
// Supervisor's shutdown sequence.
func (c *Conn) Close() error { return c.conn.Close() }

// DeclareTopology declares every exchange, queue, and binding in spec.md
// §4.4, idempotently (durable, non-autoDelete). Every binary calls this
// before registering its own publishers/consumers, so topology exists
// regardless of process start order.
//
// Retry trajectory: q.worker.task -> (reject, requeue=false) -> x.dlq ->
// q.dlq.worker-task -> (dlqDelayMs TTL expiry) -> x.dlq -> re-bound to
// q.worker.task via dlq-publish. This gives bounded-delay retry without
// blocking the live consumer.
func DeclareTopology(ch *amqp.Channel, dlqDelayMs int) error {
	if err := ch.ExchangeDeclare(ExchangeEvents, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeEvents, err)
	}
	if err := ch.ExchangeDeclare(ExchangeWorker, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeWorker, err)
	}
	if err := ch.ExchangeDeclare(ExchangeDLQ, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeDLQ, err)
	}

	if err := ch.ExchangeBind(ExchangeWorker, BindingEventsToWorkerPattern, ExchangeEvents, false, nil); err != nil {
		return fmt.Errorf("bind %s -> %s: %w", ExchangeEvents, ExchangeWorker, err)
	}
	if err := ch.ExchangeBind(ExchangeWorker, RoutingDLQPublish, ExchangeDLQ, false, nil); err != nil {
		return fmt.Errorf("bind %s -> %s: %w", ExchangeDLQ, ExchangeWorker, err)
	}

	if _, err := ch.QueueDeclare(QueueWorkerTask, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ExchangeDLQ,
		"x-dead-letter-routing-key": RoutingDLQDelay,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", QueueWorkerTask, err)
	}
	for _, key := range []string{RoutingTaskEvent, RoutingDLQPublish} {
		if err := ch.QueueBind(QueueWorkerTask, key, ExchangeWorker, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s/%s: %w", QueueWorkerTask, ExchangeWorker, key, err)
		}
	}

	if _, err := ch.QueueDeclare(QueueDLQWorkerTask, true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(dlqDelayMs),
		"x-dead-letter-exchange":    ExchangeDLQ,
		"x-dead-letter-routing-key": RoutingDLQPublish,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", QueueDLQWorkerTask, err)
	}
	if err := ch.QueueBind(QueueDLQWorkerTask, RoutingDLQDelay, ExchangeDLQ, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s/%s: %w", QueueDLQWorkerTask, ExchangeDLQ, RoutingDLQDelay, err)
	}

	return nil
}
