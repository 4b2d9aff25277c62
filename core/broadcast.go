package core

// Event types delivered to connected clients.
const (
	EventMessageCreated  = "message.created"
	EventMessageReleased = "message.released"
	EventMessageBlocked  = "message.blocked"
)

// Event is pushed to the clients subscribed to ClassID.
// RecipientIDs restricts delivery to these users when set.
type Event struct {
	Type         string      `json:"type"`
	ClassID      string      `json:"class_id"`
	RecipientIDs []string    `json:"-"`
	Payload      interface{} `json:"payload"`
}

// Broadcaster is any service that can push events to connected clients.
type Broadcaster interface {
	Broadcast(ev Event)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(Event) {}
