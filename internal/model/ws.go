package model

import "time"

type EventType string

const (
	EventAgentStarted   EventType = "agent_started"
	EventAgentStopped   EventType = "agent_stopped"
	EventLinkState      EventType = "link_state"
	EventJobPrinted     EventType = "job_printed"
	EventJobPrintFailed EventType = "job_print_failed"
	EventJobAckFailed   EventType = "job_ack_failed"
	EventPollFailed     EventType = "poll_failed"
)

// --- WebSocket Messages ---

// Event is the envelope pushed to control-stream subscribers.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
}
