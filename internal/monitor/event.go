// Package monitor holds clawmon's event model and the three in-memory cores:
// the run registry, the bounded event buffer, and the tool-call coordinator
// that cross-correlates the two file-tail sources.
package monitor

import "sync/atomic"

// Stream discriminates the kind of agent activity an event describes. It is an
// open enum: unrecognized values from the runtime are preserved as-is.
type Stream string

const (
	StreamLifecycle Stream = "lifecycle"
	StreamTool      Stream = "tool"
	StreamAssistant Stream = "assistant"
	StreamError     Stream = "error"
)

// Lifecycle sub-events carried in Event.Data under the "event" key.
const (
	RunStarted   = "run_started"
	RunCompleted = "run_completed"
	RunFailed    = "run_failed"
	RunAborted   = "run_aborted"
)

// Tool sub-events carried in Event.Data under the "event" key.
const (
	ToolStart = "start"
	ToolEnd   = "end"
	ToolCall  = "call"
)

// SessionKeyUnknown is the sentinel when no session mapping can be resolved.
const SessionKeyUnknown = "unknown"

// Event is an immutable fact about agent activity. Timestamps come from the
// source log's own clock, not ingestion time. Once an event has been handed to
// the registry or buffer it is never mutated; enrichment produces a new Event.
type Event struct {
	RunID      string         `json:"runId"`
	Seq        uint64         `json:"seq"`
	Stream     Stream         `json:"stream"`
	TS         int64          `json:"ts"`
	Data       map[string]any `json:"data"`
	SessionKey string         `json:"sessionKey,omitempty"`
}

// CloneWithData returns a copy of the event carrying a fresh data map merged
// from the original plus extra. The receiver is left untouched.
func (e Event) CloneWithData(extra map[string]any) Event {
	data := make(map[string]any, len(e.Data)+len(extra))
	for k, v := range e.Data {
		data[k] = v
	}
	for k, v := range extra {
		data[k] = v
	}
	e.Data = data
	return e
}

// SubEvent returns the "event" discriminator from the data map, if any.
func (e Event) SubEvent() string {
	s, _ := e.Data["event"].(string)
	return s
}

// ToolCallID returns the correlation id for tool events, if present.
func (e Event) ToolCallID() string {
	s, _ := e.Data["toolCallId"].(string)
	return s
}

// RunStatus is the reconstructed state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Run is one reconstructed unit of agent work. SessionKey is inherited from
// the first event observed for the run and never overwritten afterwards.
type Run struct {
	RunID       string    `json:"runId"`
	SessionKey  string    `json:"sessionKey,omitempty"`
	Status      RunStatus `json:"status"`
	StartedAt   int64     `json:"startedAt"`
	CompletedAt int64     `json:"completedAt,omitempty"`
	EventCount  int       `json:"eventCount"`
	LastEvent   *Event    `json:"lastEvent,omitempty"`
}

// SessionEntry is metadata about an agent session, sourced from the external
// CLI and from session snapshot files. The monitor only consumes it for
// display and sessionId -> sessionKey resolution.
type SessionEntry struct {
	SessionKey    string `json:"sessionKey"`
	SessionID     string `json:"sessionId,omitempty"`
	UpdatedAt     int64  `json:"updatedAt,omitempty"`
	ChatType      string `json:"chatType,omitempty"`
	Model         string `json:"model,omitempty"`
	ModelProvider string `json:"modelProvider,omitempty"`
	Channel       string `json:"channel,omitempty"`
	Label         string `json:"label,omitempty"`
	InputTokens   int64  `json:"inputTokens,omitempty"`
	OutputTokens  int64  `json:"outputTokens,omitempty"`
	TotalTokens   int64  `json:"totalTokens,omitempty"`
	ContextTokens int64  `json:"contextTokens,omitempty"`
	SystemSent    bool   `json:"systemSent,omitempty"`
	AbortedLast   bool   `json:"abortedLastRun,omitempty"`
}

// Sequencer allocates event sequence numbers: monotonically increasing and
// unique for the process lifetime, shared by every event producer so ordering
// is comparable across sources.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting from 1.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}
