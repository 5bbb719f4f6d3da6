package sessions

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSnapshot(t *testing.T, dir, name, payload string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func TestSnapshotMonitor_LoadsExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSnapshot(t, dir, "main.session.json", `{"sessionId":"sess-1","model":"glm-5"}`)
	writeSnapshot(t, dir, "side.session.json", `{"sessionId":"sess-2"}`)
	writeSnapshot(t, dir, "ignored.txt", `{}`)
	writeSnapshot(t, dir, "broken.session.json", `{malformed`)

	store := NewStore()
	m, err := NewSnapshotMonitor(dir, store)
	if err != nil {
		t.Fatalf("NewSnapshotMonitor() error = %v", err)
	}
	m.loadAll()

	if store.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", store.Len())
	}
	entry, ok := store.Get("main")
	if !ok {
		t.Fatal("main session missing")
	}
	if entry.SessionID != "sess-1" || entry.Model != "glm-5" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestSnapshotMonitor_SessionKeyFromPath(t *testing.T) {
	t.Parallel()

	if got := sessionKeyFromPath("/some/dir/main.session.json"); got != "main" {
		t.Fatalf("sessionKeyFromPath = %q", got)
	}
}

func TestSnapshotMonitor_StopBeforeStartIsSafe(t *testing.T) {
	t.Parallel()

	m, err := NewSnapshotMonitor(t.TempDir(), NewStore())
	if err != nil {
		t.Fatalf("NewSnapshotMonitor() error = %v", err)
	}
	m.Stop()
	m.Stop()
}
