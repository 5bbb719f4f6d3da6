package monitor

import (
	"sync"
	"time"

	"clawmon/internal/logging"
)

// Coordinator merges the two asynchronous tool-event sources: the log tail
// emits tool start/end framing without argument detail, the transcript tail
// emits argument detail without run-scoped framing. The two race in either
// direction, so the coordinator keeps a toolCallId -> arguments map plus a
// FIFO queue of events still waiting for their arguments. Enrichment is best
// effort: if a record never materializes the event simply stays unenriched.
type Coordinator struct {
	mu sync.Mutex

	records map[string]toolCallRecord
	order   []string // record insertion order, for capped eviction

	pending map[string][]pendingEvent

	maxRecords    int
	pendingMaxAge time.Duration
	now           func() time.Time

	logger logging.Logger

	// onRelease receives enriched copies of events that were queued before
	// their argument record arrived. The immediate Enrich caller already got
	// the unenriched original; this is the late-delivery path.
	onRelease func(Event)
}

type toolCallRecord struct {
	tool    string
	rawArgs map[string]any
	summary string
}

type pendingEvent struct {
	event    Event
	queuedAt time.Time
}

const (
	defaultMaxToolCallRecords = 1000
	defaultPendingMaxAge      = 5 * time.Minute
)

// CoordinatorOption customizes coordinator behavior.
type CoordinatorOption func(*Coordinator)

// WithMaxRecords caps the argument-record map.
func WithMaxRecords(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxRecords = n
		}
	}
}

// WithPendingMaxAge bounds how long an uncorrelated event stays queued.
func WithPendingMaxAge(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.pendingMaxAge = d
		}
	}
}

// WithReleaseHandler registers the late-delivery sink for events enriched
// after their Enrich call already returned.
func WithReleaseHandler(fn func(Event)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onRelease = fn
	}
}

// WithCoordinatorLogger sets the logger for coordinator diagnostics.
func WithCoordinatorLogger(logger logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logging.OrNop(logger)
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator constructs an empty coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		records:       make(map[string]toolCallRecord),
		pending:       make(map[string][]pendingEvent),
		maxRecords:    defaultMaxToolCallRecords,
		pendingMaxAge: defaultPendingMaxAge,
		now:           time.Now,
		logger:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordToolCall stores the argument record for a tool call and, if tool
// events are already queued on this id, releases each of them enriched, in
// original arrival order.
func (c *Coordinator) RecordToolCall(toolCallID, tool string, rawArgs map[string]any, summary string) {
	if toolCallID == "" {
		return
	}

	c.mu.Lock()
	if _, seen := c.records[toolCallID]; !seen {
		c.order = append(c.order, toolCallID)
	}
	c.records[toolCallID] = toolCallRecord{tool: tool, rawArgs: rawArgs, summary: summary}

	waiting := c.pending[toolCallID]
	delete(c.pending, toolCallID)
	c.mu.Unlock()

	if len(waiting) == 0 || c.onRelease == nil {
		return
	}
	for _, p := range waiting {
		c.onRelease(c.enriched(p.event, rawArgs, summary))
	}
}

// Enrich merges stored argument detail into a tool event. Already-enriched
// events pass through unchanged. When the record has not arrived yet the
// original event is returned and a copy is queued for late release; events
// without a toolCallId pass through untouched.
func (c *Coordinator) Enrich(event Event, toolCallID string) Event {
	if event.Stream != StreamTool {
		return event
	}
	if _, ok := event.Data["args"]; ok {
		return event
	}
	if _, ok := event.Data["rawArgs"]; ok {
		return event
	}
	if toolCallID == "" {
		return event
	}

	c.mu.Lock()
	record, ok := c.records[toolCallID]
	if !ok {
		c.pending[toolCallID] = append(c.pending[toolCallID], pendingEvent{
			event:    event,
			queuedAt: c.now(),
		})
		c.mu.Unlock()
		return event
	}
	c.mu.Unlock()

	return c.enriched(event, record.rawArgs, record.summary)
}

func (c *Coordinator) enriched(event Event, rawArgs map[string]any, summary string) Event {
	return event.CloneWithData(map[string]any{
		"args":    summary,
		"rawArgs": rawArgs,
	})
}

// Cleanup bounds memory: the record map is capped at its configured size by
// evicting in insertion order, and queued events older than the pending age
// bound are dropped. Intended to run on a periodic sweep.
func (c *Coordinator) Cleanup() {
	cutoff := c.now().Add(-c.pendingMaxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for len(c.records) > c.maxRecords && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.records, oldest)
		evicted++
	}

	dropped := 0
	for id, queue := range c.pending {
		kept := queue[:0]
		for _, p := range queue {
			if p.queuedAt.After(cutoff) {
				kept = append(kept, p)
			} else {
				dropped++
			}
		}
		if len(kept) == 0 {
			delete(c.pending, id)
		} else {
			c.pending[id] = kept
		}
	}

	if evicted > 0 || dropped > 0 {
		c.logger.Debug("coordinator sweep: evicted %d records, dropped %d stale pending events", evicted, dropped)
	}
}

// PendingCount reports how many events are queued awaiting argument records.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, queue := range c.pending {
		n += len(queue)
	}
	return n
}

// RecordCount reports the current argument-record map size.
func (c *Coordinator) RecordCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
