package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type names the kind of an event. It doubles as the SSE "event:" field.
type Type string

const (
	TypeNewReport        Type = "new_report"
	TypeStatusChange     Type = "status_change"
	TypeAssignmentChange Type = "assignment_change"
	TypeProximityAlert   Type = "proximity_alert"

	// Transport-level types are synthesized per connection and never stored.
	TypeConnected Type = "connected"
	TypeHeartbeat Type = "heartbeat"
	TypeTimeout   Type = "timeout"
)

// Transport reports whether t only exists on the wire.
func (t Type) Transport() bool {
	switch t {
	case TypeConnected, TypeHeartbeat, TypeTimeout:
		return true
	}
	return false
}

// Known reports whether t is part of the event vocabulary.
func (t Type) Known() bool {
	switch t {
	case TypeNewReport, TypeStatusChange, TypeAssignmentChange, TypeProximityAlert:
		return true
	}
	return t.Transport()
}

// Event is one immutable record in the broadcast log.
type Event struct {
	ID        string
	Type      Type
	Payload   Payload
	CreatedAt time.Time
}

// wireEvent is the JSON shape used by the polling API.
type wireEvent struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// MarshalJSON encodes the event with its payload inlined.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return json.Marshal(wireEvent{ID: e.ID, Type: e.Type, Payload: data, CreatedAt: e.CreatedAt})
}

// UnmarshalJSON decodes the payload into the struct matching the type.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := NewPayload(w.Type)
	if err != nil {
		return err
	}
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
	}
	*e = Event{ID: w.ID, Type: w.Type, Payload: p, CreatedAt: w.CreatedAt}
	return nil
}
