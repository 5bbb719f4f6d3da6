// Package server exposes the monitor's state over HTTP and pushes live
// updates to dashboard clients over WebSocket.
package server

import "clawmon/internal/monitor"

// WebSocket push message types. Every frame is a tagged union discriminated
// by the "type" field.
const (
	WSTypeState          = "state"
	WSTypeEvent          = "event"
	WSTypeRunStarted     = "run_started"
	WSTypeRunCompleted   = "run_completed"
	WSTypeSessionUpdated = "session_updated"
)

// WSMessage is one WebSocket frame.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// StateSnapshot is the full dashboard state: sent on WebSocket connect and
// served at GET /api/state.
type StateSnapshot struct {
	Sessions         []monitor.SessionEntry `json:"sessions"`
	Runs             []monitor.Run          `json:"runs"`
	Events           []monitor.Event        `json:"events"`
	ConnectedClients int                    `json:"connectedClients"`
	StartedAt        int64                  `json:"startedAt"`
}

// SessionUpdatedPayload carries one session refresh.
type SessionUpdatedPayload struct {
	SessionKey string               `json:"sessionKey"`
	Entry      monitor.SessionEntry `json:"entry"`
}

// IngestResponse acknowledges an externally pushed event.
type IngestResponse struct {
	Status  string `json:"status"`
	EventID string `json:"eventId"`
}

// ErrorResponse is the JSON body for non-2xx API responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
