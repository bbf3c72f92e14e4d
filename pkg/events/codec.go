package events

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// wireEvent is the encoded shape shared by the YAML log format and the
// gateway JSON format: identity fields plus the tag and a nested payload.
type wireEvent struct {
	ID          string    `json:"id" yaml:"id"`
	Type        Type      `json:"type" yaml:"type"`
	SessionName string    `json:"session_name" yaml:"session_name"`
	EventNumber int       `json:"event_number" yaml:"event_number"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	ParentID    string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Payload     any       `json:"payload,omitempty" yaml:"payload,omitempty"`
}

func (e Event) wire() wireEvent {
	return wireEvent{
		ID:          e.ID,
		Type:        e.Type,
		SessionName: e.SessionName,
		EventNumber: e.EventNumber,
		Timestamp:   e.Timestamp,
		ParentID:    e.ParentID,
		Payload:     e.Payload,
	}
}

// MarshalYAML encodes the event for the stored log.
func (e Event) MarshalYAML() (any, error) {
	return e.wire(), nil
}

// UnmarshalYAML decodes a stored event, rejecting unknown type tags.
func (e *Event) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID          string    `yaml:"id"`
		Type        Type      `yaml:"type"`
		SessionName string    `yaml:"session_name"`
		EventNumber int       `yaml:"event_number"`
		Timestamp   time.Time `yaml:"timestamp"`
		ParentID    string    `yaml:"parent_id"`
		Payload     yaml.Node `yaml:"payload"`
	}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	p, err := newPayload(raw.Type)
	if err != nil {
		return err
	}
	if !raw.Payload.IsZero() {
		if err := raw.Payload.Decode(p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", raw.Type, err)
		}
	}

	e.ID = raw.ID
	e.Type = raw.Type
	e.SessionName = raw.SessionName
	e.EventNumber = raw.EventNumber
	e.Timestamp = raw.Timestamp
	e.ParentID = raw.ParentID
	e.Payload = p
	return nil
}

// MarshalJSON encodes the event for gateway delivery (SSE, WebSocket).
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

// UnmarshalJSON decodes a gateway-encoded event, rejecting unknown type tags.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string          `json:"id"`
		Type        Type            `json:"type"`
		SessionName string          `json:"session_name"`
		EventNumber int             `json:"event_number"`
		Timestamp   time.Time       `json:"timestamp"`
		ParentID    string          `json:"parent_id"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	p, err := newPayload(raw.Type)
	if err != nil {
		return err
	}
	if len(raw.Payload) > 0 {
		if err := json.Unmarshal(raw.Payload, p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", raw.Type, err)
		}
	}

	e.ID = raw.ID
	e.Type = raw.Type
	e.SessionName = raw.SessionName
	e.EventNumber = raw.EventNumber
	e.Timestamp = raw.Timestamp
	e.ParentID = raw.ParentID
	e.Payload = p
	return nil
}
