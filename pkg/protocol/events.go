package protocol

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies a server push event on the notification channel.
type EventKind string

const (
	EventNewTicket    EventKind = "new_ticket"
	EventUpdateTicket EventKind = "update_ticket"
	// EventUnknown marks a frame with a type this client does not know.
	// Unknown events are valid and must be ignored, so newer backends
	// can add event types without breaking older clients.
	EventUnknown EventKind = ""
)

// Event is a decoded notification frame. Kind is EventUnknown for
// forward-compatible frames; Ticket is populated only for the known
// ticket event kinds.
type Event struct {
	Kind   EventKind
	Ticket Ticket
}

// ParseEvent decodes a raw notification frame into a closed set of
// event kinds. A frame with an unrecognized type decodes successfully
// as EventUnknown. A frame that is not valid JSON, or whose data does
// not match the expected shape for its type, returns an error.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, fmt.Errorf("protocol: parse event frame: %w", err)
	}

	switch EventKind(head.Type) {
	case EventNewTicket, EventUpdateTicket:
		var t Ticket
		if err := json.Unmarshal(head.Data, &t); err != nil {
			return Event{}, fmt.Errorf("protocol: parse %s data: %w", head.Type, err)
		}
		return Event{Kind: EventKind(head.Type), Ticket: t}, nil
	default:
		return Event{Kind: EventUnknown}, nil
	}
}
