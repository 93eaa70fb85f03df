package domain

import (
	"time"
)

// CurrentActionSchemaVersion is written on every persisted action. Older
// payloads are upcast on load.
const CurrentActionSchemaVersion = 1

const (
	TopicSearchIndex  = "search.index"
	TopicNotification = "notification"
	TopicConfirmation = "confirmation"
)

func SearchTopic(eventType string) string {
	return TopicSearchIndex + "." + eventType
}

func NotificationTopic(eventType string, t ActionType) string {
	return TopicNotification + "." + eventType + "." + string(t)
}

func ConfirmationTopic(eventType string, a Action) string {
	name := string(a.Type)
	if a.Type == ActionCustom {
		name = a.CustomActionType
	}
	return TopicConfirmation + "." + eventType + "." + name
}

// EventEnvelope is what the outbox delivers to the search, notification and
// confirmation collaborators.
type EventEnvelope struct {
	MessageID     string         `json:"message_id"`
	SchemaVersion int            `json:"schema_version"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	TrackingID    string         `json:"tracking_id"`
	EventVersion  int64          `json:"event_version"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Action        *Action        `json:"action,omitempty"`
	Document      *EventDocument `json:"document,omitempty"`
}

// OutboxMessage is written in the same transaction as the actions it describes.
type OutboxMessage struct {
	Topic    string
	Envelope EventEnvelope
}

type OutboxEvent struct {
	ID            int64
	MessageID     string
	EventID       string
	Topic         string
	PayloadJSON   []byte
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

const (
	OutboxStatusPending    = "pending"
	OutboxStatusDispatched = "dispatched"
	OutboxStatusDead       = "dead"
)
