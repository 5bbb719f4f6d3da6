package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"clawmon/internal/async"
	"clawmon/internal/logging"
	"clawmon/internal/monitor"
)

const snapshotSuffix = ".session.json"

// SnapshotMonitor watches a directory of per-session snapshot files, loading
// each into the store on start and on every change, and dropping entries when
// their file goes away.
type SnapshotMonitor struct {
	dir    string
	store  *Store
	logger logging.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// SnapshotOption customizes the snapshot monitor.
type SnapshotOption func(*SnapshotMonitor)

// WithSnapshotLogger sets the logger for snapshot diagnostics.
func WithSnapshotLogger(logger logging.Logger) SnapshotOption {
	return func(m *SnapshotMonitor) {
		m.logger = logging.OrNop(logger)
	}
}

// NewSnapshotMonitor constructs a monitor over dir feeding store.
func NewSnapshotMonitor(dir string, store *Store, opts ...SnapshotOption) (*SnapshotMonitor, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshots dir required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store required")
	}

	m := &SnapshotMonitor{
		dir:    filepath.Clean(dir),
		store:  store,
		logger: logging.Nop(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start loads all existing snapshots and begins watching for changes.
func (m *SnapshotMonitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.loadAll()

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create snapshot watcher: %w", err)
	}
	if err := fsWatcher.Add(m.dir); err != nil {
		_ = fsWatcher.Close()
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}
	m.mu.Lock()
	m.watcher = fsWatcher
	m.mu.Unlock()

	async.Go(m.logger, "snapshots.watch", func() { m.watchLoop(fsWatcher) })
	m.logger.Info("watching %s (%d sessions)", m.dir, m.store.Len())
	return nil
}

// Stop terminates the monitor. Safe to call before Start and more than once.
func (m *SnapshotMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		if m.watcher != nil {
			_ = m.watcher.Close()
			m.watcher = nil
		}
		m.mu.Unlock()
	})
}

func (m *SnapshotMonitor) loadAll() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn("snapshot dir unreadable: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		m.loadFile(filepath.Join(m.dir, entry.Name()))
	}
}

func (m *SnapshotMonitor) watchLoop(fsWatcher *fsnotify.Watcher) {
	// Writers replace snapshots non-atomically; debounce by a short delay so
	// we read settled files.
	const settle = 100 * time.Millisecond

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, snapshotSuffix) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				time.Sleep(settle)
				m.loadFile(event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				m.store.Delete(sessionKeyFromPath(event.Name))
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("snapshot watcher error: %v", err)
		}
	}
}

func (m *SnapshotMonitor) loadFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		m.logger.Debug("snapshot read failed: %v", err)
		return
	}
	var entry monitor.SessionEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		m.logger.Debug("snapshot %s malformed: %v", filepath.Base(path), err)
		return
	}
	m.store.Put(sessionKeyFromPath(path), entry)
}

func sessionKeyFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), snapshotSuffix)
}
