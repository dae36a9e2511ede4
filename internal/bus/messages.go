package bus

import "github.com/mac-lisowski/mysmarthotel-task/internal/models"

// TaskCreatedMessage is the wire envelope published for
// models.EventNameTaskCreated. New event kinds get their own message type
// and are dispatched on EventName by the consumer rather than folded into
// an untyped payload map (spec.md §9: "use a tagged sum over known event
// names; unknown names ack-drop with a log").
type TaskCreatedMessage struct {
	EventID   string                    `json:"eventId"`
	EventName string                    `json:"eventName"`
	Payload   models.TaskCreatedPayload `json:"payload"`
}
