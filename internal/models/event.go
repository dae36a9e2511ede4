package models

import "time"

// EventStatus is the lifecycle state of an outbox Event.
// NEW -> PROCESSING -> PUBLISHED (dispatcher), PROCESSING -> NEW (stale recovery),
// PUBLISHED -> PROCESSED (consumer).
type EventStatus string

const (
	EventNew        EventStatus = "NEW"
	EventProcessing EventStatus = "PROCESSING"
	EventPublished  EventStatus = "PUBLISHED"
	EventProcessed  EventStatus = "PROCESSED"
	EventFailed     EventStatus = "FAILED"
)

// EventNameTaskCreated is the routing key and payload shape for the only event
// kind this system emits today. New event kinds are added here, not by
// relaxing the payload into an untyped map.
const EventNameTaskCreated = "task.created.event"

// TaskCreatedPayload is the envelope body published to the bus for a newly
// assembled upload.
type TaskCreatedPayload struct {
	TaskID           string `bson:"taskId" json:"taskId"`
	FilePath         string `bson:"filePath" json:"filePath"`
	OriginalFileName string `bson:"originalFileName" json:"originalFileName"`
}

// EventEnvelope is the embedded {eventName, payload} envelope stored on the
// Event document and published verbatim to the bus.
type EventEnvelope struct {
	EventName string             `bson:"eventName" json:"eventName"`
	Payload   TaskCreatedPayload `bson:"payload" json:"payload"`
}

// EventError records why a non-retryable failure left an Event in
// PROCESSED with details rather than a clean success.
type EventError struct {
	Message string      `bson:"message" json:"message"`
	Details interface{} `bson:"details,omitempty" json:"details,omitempty"`
}

// Event is a durable intent-to-publish: the transactional outbox row.
type Event struct {
	ID        string        `bson:"_id,omitempty" json:"id,omitempty"`
	EventName string        `bson:"eventName" json:"eventName"`
	Event     EventEnvelope `bson:"event" json:"event"`
	Status    EventStatus   `bson:"status" json:"status"`
	Attempts  int           `bson:"attempts" json:"attempts"`

	WorkerID     string     `bson:"workerId,omitempty" json:"workerId,omitempty"`
	ProcessingAt *time.Time `bson:"processingAt,omitempty" json:"processingAt,omitempty"`

	PublishedAt *time.Time  `bson:"publishedAt,omitempty" json:"publishedAt,omitempty"`
	ProcessedAt *time.Time  `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
	Error       *EventError `bson:"error,omitempty" json:"error,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
