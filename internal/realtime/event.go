package realtime

import (
	"time"

	"github.com/gofrs/uuid"
)

const (
	EventTodoCreated            = "todo_created"
	EventTodoUpdated            = "todo_updated"
	EventTodoDeleted            = "todo_deleted"
	EventTodoRestored           = "todo_restored"
	EventTodoPermanentlyDeleted = "todo_permanently_deleted"
	EventTodosReordered         = "todos_reordered"
)

// Event is the envelope written to every joined connection.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

func NewEvent(eventType string, payload interface{}) Event {
	return Event{Type: eventType, Payload: payload, SentAt: time.Now().UTC()}
}

// IDPayload is carried by events about records that are no longer visible.
type IDPayload struct {
	ID uuid.UUID `json:"id"`
}

// Broadcaster delivers an owner's events to that owner's connections only.
type Broadcaster interface {
	Broadcast(ownerID uuid.UUID, event Event)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(uuid.UUID, Event) {}
