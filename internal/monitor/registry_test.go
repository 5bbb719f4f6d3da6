package monitor

import (
	"fmt"
	"testing"
	"time"
)

func lifecycleEvent(runID, subEvent string, ts int64) Event {
	return Event{
		RunID:  runID,
		Stream: StreamLifecycle,
		TS:     ts,
		Data:   map[string]any{"event": subEvent},
	}
}

func TestRegistry_CreatesOneRunPerRunID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for i := 0; i < 5; i++ {
		for j := 0; j < 3; j++ {
			r.ProcessEvent(Event{RunID: fmt.Sprintf("run-%d", i), Stream: StreamTool, TS: int64(i)})
		}
	}

	if got := len(r.Runs()); got != 5 {
		t.Fatalf("expected 5 runs, got %d", got)
	}
}

func TestRegistry_EventCountCountsAllStreams(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ProcessEvent(lifecycleEvent("r1", RunStarted, 1))
	r.ProcessEvent(Event{RunID: "r1", Stream: StreamTool, TS: 2, Data: map[string]any{}})
	run := r.ProcessEvent(Event{RunID: "r1", Stream: StreamAssistant, TS: 3, Data: map[string]any{}})

	if run.EventCount != 3 {
		t.Fatalf("expected eventCount 3, got %d", run.EventCount)
	}
	if run.Status != StatusRunning {
		t.Fatalf("expected running, got %s", run.Status)
	}
}

func TestRegistry_LifecycleTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		subEvent string
		want     RunStatus
	}{
		{RunCompleted, StatusCompleted},
		{RunFailed, StatusFailed},
		{RunAborted, StatusAborted},
	}
	for _, tc := range cases {
		r := NewRegistry()
		r.ProcessEvent(lifecycleEvent("r1", RunStarted, 100))
		run := r.ProcessEvent(lifecycleEvent("r1", tc.subEvent, 200))

		if run.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.subEvent, tc.want, run.Status)
		}
		if run.CompletedAt != 200 {
			t.Fatalf("%s: expected completedAt 200, got %d", tc.subEvent, run.CompletedAt)
		}
		if run.StartedAt != 100 {
			t.Fatalf("%s: startedAt changed to %d", tc.subEvent, run.StartedAt)
		}
	}
}

func TestRegistry_TerminalStateIsSticky(t *testing.T) {
	t.Parallel()

	anomalies := 0
	r := NewRegistry(WithAnomalyHook(func(runID, subEvent string) {
		anomalies++
		if runID != "r1" || subEvent != RunFailed {
			t.Fatalf("unexpected anomaly %s/%s", runID, subEvent)
		}
	}))

	r.ProcessEvent(lifecycleEvent("r1", RunCompleted, 100))
	run := r.ProcessEvent(lifecycleEvent("r1", RunFailed, 200))

	if run.Status != StatusCompleted {
		t.Fatalf("terminal status overwritten: %s", run.Status)
	}
	if run.CompletedAt != 100 {
		t.Fatalf("completedAt overwritten: %d", run.CompletedAt)
	}
	if anomalies != 1 {
		t.Fatalf("expected 1 anomaly, got %d", anomalies)
	}
	// The repeat event still counts toward eventCount.
	if run.EventCount != 2 {
		t.Fatalf("expected eventCount 2, got %d", run.EventCount)
	}
}

func TestRegistry_SessionKeyInheritedFromFirstEvent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ProcessEvent(Event{RunID: "r1", Stream: StreamTool, TS: 1, SessionKey: "alpha"})
	run := r.ProcessEvent(Event{RunID: "r1", Stream: StreamTool, TS: 2, SessionKey: "beta"})

	if run.SessionKey != "alpha" {
		t.Fatalf("sessionKey overwritten: %q", run.SessionKey)
	}
}

func TestRegistry_ActiveAndRecentRuns(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ProcessEvent(Event{RunID: "old", Stream: StreamTool, TS: 10})
	r.ProcessEvent(Event{RunID: "mid", Stream: StreamTool, TS: 20})
	r.ProcessEvent(Event{RunID: "new", Stream: StreamTool, TS: 30})
	r.ProcessEvent(lifecycleEvent("mid", RunCompleted, 25))

	active := r.ActiveRuns()
	if len(active) != 2 {
		t.Fatalf("expected 2 active runs, got %d", len(active))
	}

	recent := r.RecentRuns(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent runs, got %d", len(recent))
	}
	if recent[0].RunID != "new" || recent[1].RunID != "mid" {
		t.Fatalf("wrong recency order: %s, %s", recent[0].RunID, recent[1].RunID)
	}
}

func TestRegistry_CleanupEvictsOldTerminalRuns(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	r.ProcessEvent(lifecycleEvent("stale", RunCompleted, old))
	r.ProcessEvent(lifecycleEvent("fresh", RunCompleted, time.Now().UnixMilli()))
	r.ProcessEvent(Event{RunID: "live", Stream: StreamTool, TS: old})

	if removed := r.Cleanup(time.Hour); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, ok := r.Run("stale"); ok {
		t.Fatal("stale run survived cleanup")
	}
	if _, ok := r.Run("fresh"); !ok {
		t.Fatal("fresh run evicted")
	}
	if _, ok := r.Run("live"); !ok {
		t.Fatal("running run evicted despite never completing")
	}
}

func TestRegistry_SnapshotsDoNotAliasInternalState(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ProcessEvent(Event{RunID: "r1", Stream: StreamTool, TS: 1})

	runs := r.Runs()
	mutated := runs["r1"]
	mutated.EventCount = 999

	if got, _ := r.Run("r1"); got.EventCount != 1 {
		t.Fatalf("snapshot mutation leaked into registry: %d", got.EventCount)
	}
}
