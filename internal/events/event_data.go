package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// DayChangedData contains data for DayChanged events
type DayChangedData struct {
	PreviousDay string `json:"previous_day"`
	CurrentDay  string `json:"current_day"`
}

// EventType returns the event type for DayChangedData
func (d *DayChangedData) EventType() EventType {
	return DayChanged
}

// Session status values carried by SessionChangedData.
const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// SessionChangedData contains data for SessionChanged events
type SessionChangedData struct {
	Status string `json:"status"` // "open" or "closed"
	Day    string `json:"day"`    // YYYY-MM-DD in market time
}

// EventType returns the event type for SessionChangedData
func (d *SessionChangedData) EventType() EventType {
	return SessionChanged
}

// RulesChangedData contains data for RulesChanged events
type RulesChangedData struct {
	Source string `json:"source"` // "pubsub", "api", "safety_reload"
}

// EventType returns the event type for RulesChangedData
func (d *RulesChangedData) EventType() EventType {
	return RulesChanged
}

// SlotChangedData contains data for SlotChanged events
type SlotChangedData struct {
	Slot int    `json:"slot"`
	Day  string `json:"day"`
}

// EventType returns the event type for SlotChangedData
func (d *SlotChangedData) EventType() EventType {
	return SlotChanged
}

// CycleCompletedData contains data for CycleCompleted events
type CycleCompletedData struct {
	SnapshotTimestamp int64   `json:"snapshot_timestamp"`
	Tickers           int     `json:"tickers"`
	Changed           int     `json:"changed"`
	Removed           int     `json:"removed"`
	Skipped           int     `json:"skipped"`
	DurationMs        float64 `json:"duration_ms"`
}

// EventType returns the event type for CycleCompletedData
func (d *CycleCompletedData) EventType() EventType {
	return CycleCompleted
}

// SystemStatusChangedData contains data for SystemStatusChanged events
type SystemStatusChangedData struct {
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EventType returns the event type for SystemStatusChangedData
func (d *SystemStatusChangedData) EventType() EventType {
	return SystemStatusChanged
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	// Marshal the data separately
	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	// Unmarshal data based on event type
	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case DayChanged:
			eventData = &DayChangedData{}
		case SessionChanged:
			eventData = &SessionChangedData{}
		case RulesChanged:
			eventData = &RulesChangedData{}
		case SlotChanged:
			eventData = &SlotChangedData{}
		case CycleCompleted:
			eventData = &CycleCompletedData{}
		case SystemStatusChanged:
			eventData = &SystemStatusChangedData{}
		default:
			// For unknown types, use raw map
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if err := json.Unmarshal(aux.Data, eventData); err != nil {
			return err
		}
		e.Data = eventData
	}

	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
