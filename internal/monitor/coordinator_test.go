package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolStartEvent(runID, toolCallID string) Event {
	return Event{
		RunID:  runID,
		Stream: StreamTool,
		TS:     time.Now().UnixMilli(),
		Data: map[string]any{
			"tool":       "read",
			"event":      ToolStart,
			"toolCallId": toolCallID,
		},
	}
}

func TestCoordinator_RecordFirstThenEnrich(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	c.RecordToolCall("call1", "read", map[string]any{"file": "x.txt"}, "📄 x.txt")

	enriched := c.Enrich(toolStartEvent("run1", "call1"), "call1")

	require.Equal(t, "📄 x.txt", enriched.Data["args"])
	rawArgs, ok := enriched.Data["rawArgs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x.txt", rawArgs["file"])
}

func TestCoordinator_EventFirstThenRecordReleases(t *testing.T) {
	t.Parallel()

	var released []Event
	c := NewCoordinator(WithReleaseHandler(func(ev Event) {
		released = append(released, ev)
	}))

	original := toolStartEvent("run1", "call1")
	returned := c.Enrich(original, "call1")

	// The immediate caller gets the unenriched original back.
	require.Nil(t, returned.Data["args"])
	require.Equal(t, 1, c.PendingCount())

	c.RecordToolCall("call1", "read", map[string]any{"file": "x.txt"}, "📄 x.txt")

	require.Len(t, released, 1)
	assert.Equal(t, "📄 x.txt", released[0].Data["args"])
	rawArgs := released[0].Data["rawArgs"].(map[string]any)
	assert.Equal(t, "x.txt", rawArgs["file"])
	assert.Equal(t, 0, c.PendingCount())

	// The original event object was never mutated.
	assert.Nil(t, original.Data["args"])
}

func TestCoordinator_EnrichmentIsOrderIndependent(t *testing.T) {
	t.Parallel()

	// Record before event.
	c1 := NewCoordinator()
	c1.RecordToolCall("c", "exec", map[string]any{"command": "ls"}, "$ ls")
	first := c1.Enrich(toolStartEvent("r", "c"), "c")

	// Event before record.
	var second Event
	c2 := NewCoordinator(WithReleaseHandler(func(ev Event) { second = ev }))
	c2.Enrich(toolStartEvent("r", "c"), "c")
	c2.RecordToolCall("c", "exec", map[string]any{"command": "ls"}, "$ ls")

	assert.Equal(t, first.Data["args"], second.Data["args"])
	assert.Equal(t, first.Data["rawArgs"], second.Data["rawArgs"])
}

func TestCoordinator_EnrichIsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	c.RecordToolCall("call1", "read", map[string]any{"file": "x.txt"}, "📄 x.txt")

	once := c.Enrich(toolStartEvent("r", "call1"), "call1")
	twice := c.Enrich(once, "call1")

	assert.Equal(t, once.Data["args"], twice.Data["args"])
	assert.Equal(t, once.Data["rawArgs"], twice.Data["rawArgs"])
}

func TestCoordinator_PassThroughCases(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()

	// Non-tool streams are untouched.
	lifecycle := Event{Stream: StreamLifecycle, Data: map[string]any{"event": RunStarted}}
	assert.Equal(t, lifecycle, c.Enrich(lifecycle, ""))

	// Tool events without a toolCallId pass through and are not queued.
	bare := Event{Stream: StreamTool, Data: map[string]any{"tool": "read", "event": ToolStart}}
	assert.Equal(t, bare, c.Enrich(bare, ""))
	assert.Equal(t, 0, c.PendingCount())
}

func TestCoordinator_ReleasePreservesArrivalOrder(t *testing.T) {
	t.Parallel()

	var released []Event
	c := NewCoordinator(WithReleaseHandler(func(ev Event) {
		released = append(released, ev)
	}))

	start := toolStartEvent("r", "c1")
	end := toolStartEvent("r", "c1")
	end.Data["event"] = ToolEnd
	c.Enrich(start, "c1")
	c.Enrich(end, "c1")

	c.RecordToolCall("c1", "read", map[string]any{"file": "f"}, "📄 f")

	require.Len(t, released, 2)
	assert.Equal(t, ToolStart, released[0].Data["event"])
	assert.Equal(t, ToolEnd, released[1].Data["event"])
}

func TestCoordinator_CleanupCapsRecordMap(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(WithMaxRecords(3))
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		c.RecordToolCall(id, "read", nil, "")
	}
	c.Cleanup()

	require.Equal(t, 3, c.RecordCount())

	// Oldest two were evicted in insertion order; the newest still resolve.
	got := c.Enrich(toolStartEvent("r", "a"), "a")
	assert.Nil(t, got.Data["args"], "evicted record should not enrich")
	got = c.Enrich(toolStartEvent("r", "e"), "e")
	assert.NotNil(t, got.Data["args"])
}

func TestCoordinator_CleanupDropsStalePending(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := now
	c := NewCoordinator(
		WithPendingMaxAge(5*time.Minute),
		WithClock(func() time.Time { return clock }),
	)

	c.Enrich(toolStartEvent("r", "old"), "old")
	clock = now.Add(4 * time.Minute)
	c.Enrich(toolStartEvent("r", "fresh"), "fresh")

	clock = now.Add(6 * time.Minute)
	c.Cleanup()

	require.Equal(t, 1, c.PendingCount())

	// The surviving pending event still gets released.
	var released int
	c2 := NewCoordinator(WithReleaseHandler(func(Event) { released++ }))
	c2.Enrich(toolStartEvent("r", "x"), "x")
	c2.Cleanup()
	c2.RecordToolCall("x", "read", nil, "")
	assert.Equal(t, 1, released)
}
