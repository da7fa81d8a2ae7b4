// Package streaming delivers execution progress events to live subscribers
// and replays completed runs to late ones.
package streaming

import (
	"encoding/json"
	"time"
)

// EventType identifies what happened during an execution.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventWaveStarted        EventType = "wave_started"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventStepSkipped        EventType = "step_skipped"
	EventStepRetrying       EventType = "step_retrying"
	EventProgressUpdate     EventType = "progress_update"
	EventLog                EventType = "log"
	EventError              EventType = "error"
	EventRiskDecision       EventType = "risk_decision"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
)

// terminal event types close the stream once published.
func (t EventType) terminal() bool {
	return t == EventExecutionCompleted || t == EventExecutionFailed
}

// Event is a single progress notification. Data is event-type specific.
type Event struct {
	Type        EventType              `json:"event"`
	ExecutionID string                 `json:"execution_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps the event with the current time.
func NewEvent(eventType EventType, executionID string, data map[string]interface{}) Event {
	return Event{
		Type:        eventType,
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}
}

// Marshal renders the event for a wire transport (SSE data line, NATS payload).
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
