package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"clawmon/internal/monitor"
)

func newTestSessionFiles(t *testing.T, dir string) (*SessionFiles, *[]monitor.Event) {
	t.Helper()
	var events []monitor.Event
	w, err := NewSessionFiles(dir, &monitor.Sequencer{}, func(ev monitor.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("NewSessionFiles() error = %v", err)
	}
	return w, &events
}

func toolCallLine(id, tool, argsJSON string) string {
	return fmt.Sprintf(`{"type":"message","id":"run-1","timestamp":"2026-01-02T10:00:00.000Z","message":{"role":"assistant","content":[{"type":"toolCall","id":%q,"name":%q,"arguments":%s}]}}`, id, tool, argsJSON)
}

func TestSessionFiles_EmitsToolCallEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, events := newTestSessionFiles(t, dir)

	path := filepath.Join(dir, "abc.jsonl")
	w.offsets[path] = 0
	appendLines(t, path, toolCallLine("call1", "read", `{"file":"x.txt"}`))
	w.readFile(path)

	if len(*events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(*events))
	}
	ev := (*events)[0]
	if ev.Stream != monitor.StreamTool || ev.SubEvent() != monitor.ToolCall {
		t.Fatalf("event = %s/%s", ev.Stream, ev.SubEvent())
	}
	if ev.ToolCallID() != "call1" {
		t.Fatalf("toolCallId = %q", ev.ToolCallID())
	}
	if ev.Data["args"] != "📄 x.txt" {
		t.Fatalf("args summary = %v", ev.Data["args"])
	}
	rawArgs, ok := ev.Data["rawArgs"].(map[string]any)
	if !ok || rawArgs["file"] != "x.txt" {
		t.Fatalf("rawArgs = %v", ev.Data["rawArgs"])
	}
	if ev.RunID != "run-1" {
		t.Fatalf("runId = %q", ev.RunID)
	}
}

func TestSessionFiles_DiscoverySkipsExistingContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "abc.jsonl")
	appendLines(t, path, toolCallLine("old", "read", `{"file":"old.txt"}`))

	w, events := newTestSessionFiles(t, dir)
	w.rescan()

	w.readFile(path)
	if len(*events) != 0 {
		t.Fatalf("pre-discovery history emitted: %d events", len(*events))
	}

	appendLines(t, path, toolCallLine("new", "read", `{"file":"new.txt"}`))
	w.readFile(path)
	if len(*events) != 1 {
		t.Fatalf("expected only post-discovery growth, got %d events", len(*events))
	}
	if got := (*events)[0].ToolCallID(); got != "new" {
		t.Fatalf("toolCallId = %q, want new", got)
	}
}

func TestSessionFiles_IgnoresResetAndDeletedFiles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want bool
	}{
		{"abc.jsonl", true},
		{"abc.reset.jsonl", false},
		{"abc.deleted.jsonl", false},
		{"abc.json", false},
		{"notes.txt", false},
	}
	for _, tc := range cases {
		if got := transcriptFile(tc.name); got != tc.want {
			t.Fatalf("transcriptFile(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSessionFiles_SkipsNonAssistantAndMalformedLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, events := newTestSessionFiles(t, dir)

	path := filepath.Join(dir, "abc.jsonl")
	w.offsets[path] = 0
	appendLines(t, path,
		"garbage",
		`{"type":"message","message":{"role":"user","content":[{"type":"toolCall","id":"x","name":"read"}]}}`,
		`{"type":"state","message":{"role":"assistant"}}`,
		`{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`,
	)
	w.readFile(path)

	if len(*events) != 0 {
		t.Fatalf("expected no events from noise, got %d", len(*events))
	}
}

func TestSessionFiles_RemoveDropsWatermark(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, _ := newTestSessionFiles(t, dir)

	path := filepath.Join(dir, "abc.jsonl")
	appendLines(t, path, toolCallLine("c", "read", `{}`))
	w.rescan()
	if _, ok := w.offsets[path]; !ok {
		t.Fatal("rescan did not register the file")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	w.rescan()
	// Reads of a vanished file are transient no-ops.
	w.readFile(path)
}

func TestSessionFiles_StopBeforeStartIsSafe(t *testing.T) {
	t.Parallel()

	w, _ := newTestSessionFiles(t, t.TempDir())
	w.Stop()
	w.Stop()
}

func TestSummarizeArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"exec", map[string]any{"command": "ls -la"}, "$ ls -la"},
		{"exec", map[string]any{}, ""},
		{"read", map[string]any{"file": "a.go"}, "📄 a.go"},
		{"write", map[string]any{"file": "b.go"}, "📝 b.go"},
		{"process", map[string]any{"action": "restart"}, "⚡ restart"},
	}
	for _, tc := range cases {
		if got := SummarizeArgs(tc.tool, tc.args); got != tc.want {
			t.Fatalf("SummarizeArgs(%s) = %q, want %q", tc.tool, got, tc.want)
		}
	}
}

func TestSummarizeArgs_UnknownToolTruncatesJSON(t *testing.T) {
	t.Parallel()

	long := make(map[string]any)
	for i := 0; i < 20; i++ {
		long[fmt.Sprintf("key-%02d", i)] = "some fairly long value to overflow the limit"
	}
	got := SummarizeArgs("mystery", long)
	if len(got) != maxSummaryLen {
		t.Fatalf("expected %d chars, got %d", maxSummaryLen, len(got))
	}

	if got := SummarizeArgs("mystery", map[string]any{"a": 1}); got != `{"a":1}` {
		t.Fatalf("small args should dump verbatim, got %q", got)
	}
}
