package webhook

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Event is one inbound notification. Payload holds the full request body
// and is forwarded unchanged to every matched route.
type Event struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	EventType  string         `json:"eventType"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

func (e Event) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Source, validation.Required),
		validation.Field(&e.EventType, validation.Required),
	)
}

// EventFromPayload builds an event from a decoded ingestion body. Source
// and eventType are read from the body; non-string values leave them
// empty so validation rejects the event.
func EventFromPayload(payload map[string]any) Event {
	source, _ := payload["source"].(string)
	eventType, _ := payload["eventType"].(string)

	return Event{
		Source:    source,
		EventType: eventType,
		Payload:   payload,
	}
}

// Receipt acknowledges an accepted event.
type Receipt struct {
	EventID       string `json:"eventId"`
	RoutesMatched int    `json:"routesMatched"`
}
