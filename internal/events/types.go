// Package events provides the in-process event bus that carries upload
// session changes to websocket subscribers.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Upload pipeline event types
const (
	EventProvenanceChanged EventType = "provenance.changed"
	EventISRCChanged       EventType = "isrc.changed"
	EventUploadProgress    EventType = "upload.progress"
	EventUploadCompleted   EventType = "upload.completed"
	EventUploadFailed      EventType = "upload.failed"
	EventQuotaUpdated      EventType = "quota.updated"
	EventSessionWarning    EventType = "session.warning"

	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, upload, etc.
	Target    string                 `json:"target"` // user the event belongs to, empty for broadcast
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions. Empty fields match
// everything.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Targets []string    `json:"targets,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	DroppedEvents       int64            `json:"dropped_events"`
	HandlerErrors       int64            `json:"handler_errors"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig tunes the bus
type EventBusConfig struct {
	BufferSize   int
	RecentEvents int
}

// DefaultEventBusConfig returns sensible defaults
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:   1024,
		RecentEvents: 100,
	}
}

// NewEvent creates an event with the given type, source and target user.
func NewEvent(eventType EventType, source, target string, data map[string]interface{}) Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Event{
		Type:      eventType,
		Source:    source,
		Target:    target,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// MatchesFilter reports whether event passes filter.
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Targets) > 0 && event.Target != "" {
		found := false
		for _, target := range filter.Targets {
			if target == event.Target {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// FilterEvents returns the events that pass filter.
func FilterEvents(events []Event, filter EventFilter) []Event {
	var filtered []Event
	for _, event := range events {
		if MatchesFilter(event, filter) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}
