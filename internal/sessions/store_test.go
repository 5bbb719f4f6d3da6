package sessions

import (
	"testing"

	"clawmon/internal/monitor"
)

func TestStore_PutAndGet(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Put("main", monitor.SessionEntry{SessionID: "sess-1", Model: "glm-5"})

	entry, ok := s.Get("main")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.SessionKey != "main" {
		t.Fatalf("sessionKey not stamped: %q", entry.SessionKey)
	}
	if entry.Model != "glm-5" {
		t.Fatalf("model = %q", entry.Model)
	}

	if s.Len() != 1 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestStore_PutIgnoresEmptyKey(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Put("", monitor.SessionEntry{SessionID: "x"})
	if s.Len() != 0 {
		t.Fatalf("empty key stored, len = %d", s.Len())
	}
}

func TestStore_UpdateHookFiresOnPut(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var gotKey string
	s.OnUpdate(func(key string, entry monitor.SessionEntry) {
		gotKey = key
	})

	s.Put("main", monitor.SessionEntry{})
	if gotKey != "main" {
		t.Fatalf("hook saw %q", gotKey)
	}
}

func TestStore_KeysBySessionID(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Put("main", monitor.SessionEntry{SessionID: "sess-1"})
	s.Put("side", monitor.SessionEntry{SessionID: "sess-2"})
	s.Put("nokey", monitor.SessionEntry{})

	keys := s.KeysBySessionID()
	if len(keys) != 2 {
		t.Fatalf("len = %d", len(keys))
	}
	if keys["sess-1"] != "main" || keys["sess-2"] != "side" {
		t.Fatalf("unexpected mapping: %v", keys)
	}
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Put("main", monitor.SessionEntry{})
	s.Delete("main")
	if _, ok := s.Get("main"); ok {
		t.Fatal("entry survived delete")
	}
}
