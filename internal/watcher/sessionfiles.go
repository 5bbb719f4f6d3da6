package watcher

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

// SessionFiles tails a directory of per-session, append-only JSONL transcript
// files and extracts tool-call argument records from assistant messages. Files
// already present when first seen start with their watermark at EOF; only
// growth after first sight produces events.
type SessionFiles struct {
	dir            string
	rescanInterval time.Duration
	seq            *monitor.Sequencer
	emit           func(monitor.Event)
	logger         logging.Logger

	mu      sync.Mutex
	offsets map[string]int64 // file path -> byte watermark
	watcher *fsnotify.Watcher
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// SessionFilesOption customizes transcript watcher behavior.
type SessionFilesOption func(*SessionFiles)

// WithSessionFilesLogger sets the logger for watcher diagnostics.
func WithSessionFilesLogger(logger logging.Logger) SessionFilesOption {
	return func(w *SessionFiles) {
		w.logger = logging.OrNop(logger)
	}
}

// WithRescanInterval sets the periodic directory rescan interval.
func WithRescanInterval(d time.Duration) SessionFilesOption {
	return func(w *SessionFiles) {
		if d > 0 {
			w.rescanInterval = d
		}
	}
}

// NewSessionFiles constructs a watcher over the transcripts directory.
func NewSessionFiles(dir string, seq *monitor.Sequencer, emit func(monitor.Event), opts ...SessionFilesOption) (*SessionFiles, error) {
	if dir == "" {
		return nil, fmt.Errorf("transcripts dir required")
	}
	if seq == nil {
		return nil, fmt.Errorf("sequencer required")
	}
	if emit == nil {
		return nil, fmt.Errorf("emit callback required")
	}

	w := &SessionFiles{
		dir:            filepath.Clean(dir),
		rescanInterval: 5 * time.Second,
		seq:            seq,
		emit:           emit,
		logger:         logging.Nop(),
		offsets:        make(map[string]int64),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start registers existing transcripts (watermarked at EOF) and begins
// watching for appends and new files.
func (w *SessionFiles) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	w.rescan()
	w.logger.Info("watching %s (%d transcripts)", w.dir, w.trackedFiles())

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create transcript watcher: %w", err)
	}
	if err := fsWatcher.Add(w.dir); err != nil {
		_ = fsWatcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.mu.Lock()
	w.watcher = fsWatcher
	w.mu.Unlock()

	async.Go(w.logger, "sessionfiles.watch", func() { w.watchLoop(fsWatcher) })
	return nil
}

// Stop terminates the watcher. Safe to call before Start and more than once.
func (w *SessionFiles) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

func (w *SessionFiles) trackedFiles() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.offsets)
}

// transcriptFile reports whether name is a live transcript; reset and deleted
// markers are carved out of the watch entirely.
func transcriptFile(name string) bool {
	if !strings.HasSuffix(name, ".jsonl") {
		return false
	}
	return !strings.Contains(name, ".reset.") && !strings.Contains(name, ".deleted.")
}

func (w *SessionFiles) watchLoop(fsWatcher *fsnotify.Watcher) {
	ticker := time.NewTicker(w.rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("transcript watcher error: %v", err)
		case <-ticker.C:
			// Rescan covers files whose notifications were lost.
			w.rescan()
			w.readAllTracked()
		}
	}
}

func (w *SessionFiles) handleFSEvent(event fsnotify.Event) {
	if !transcriptFile(filepath.Base(event.Name)) {
		return
	}
	path := filepath.Clean(event.Name)

	switch {
	case event.Op&fsnotify.Create != 0:
		// A freshly created transcript has no pre-discovery history; start
		// its watermark at zero so the first appends are captured.
		w.mu.Lock()
		if _, seen := w.offsets[path]; !seen {
			w.offsets[path] = 0
		}
		w.mu.Unlock()
		w.readFile(path)
	case event.Op&fsnotify.Write != 0:
		w.mu.Lock()
		_, seen := w.offsets[path]
		w.mu.Unlock()
		if !seen {
			// First sight through a write notification: treat it as
			// discovery and skip existing content.
			w.discover(path)
			return
		}
		w.readFile(path)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		delete(w.offsets, path)
		w.mu.Unlock()
	}
}

// rescan registers transcripts that appeared without a notification. Newly
// discovered files start at their current size.
func (w *SessionFiles) rescan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Debug("transcript rescan failed, retrying next tick: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !transcriptFile(entry.Name()) {
			continue
		}
		w.discover(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *SessionFiles) discover(path string) {
	w.mu.Lock()
	_, seen := w.offsets[path]
	w.mu.Unlock()
	if seen {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	if _, raced := w.offsets[path]; !raced {
		w.offsets[path] = info.Size()
	}
	w.mu.Unlock()
}

func (w *SessionFiles) readAllTracked() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.offsets))
	for path := range w.offsets {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	for _, path := range paths {
		w.readFile(path)
	}
}

func (w *SessionFiles) readFile(path string) {
	w.mu.Lock()
	offset, tracked := w.offsets[path]
	w.mu.Unlock()
	if !tracked {
		return
	}

	lines, newOffset, err := readNewLines(path, offset)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Debug("transcript read failed, retrying next tick: %v", err)
		}
		return
	}

	w.mu.Lock()
	stopped := w.started && w.watcher == nil
	w.offsets[path] = newOffset
	w.mu.Unlock()
	if stopped {
		return
	}

	for _, raw := range lines {
		w.parseLine(raw)
	}
}

// transcriptMessage is the slice of the JSONL record shape the watcher cares
// about; everything else in the record is ignored.
type transcriptMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Role    string            `json:"role"`
		Content []json.RawMessage `json:"content"`
	} `json:"message"`
}

type transcriptToolCall struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseLine extracts toolCall items from assistant messages. Anything that
// fails to decode is expected noise and skipped.
func (w *SessionFiles) parseLine(raw string) {
	var record transcriptMessage
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return
	}
	if record.Type != "message" || record.Message.Role != "assistant" {
		return
	}

	for _, item := range record.Message.Content {
		var call transcriptToolCall
		if err := json.Unmarshal(item, &call); err != nil {
			continue
		}
		if call.Type != "toolCall" || call.ID == "" {
			continue
		}
		w.emitToolCall(call, record)
	}
}

func (w *SessionFiles) emitToolCall(call transcriptToolCall, record transcriptMessage) {
	runID := record.ID
	if runID == "" {
		runID = "unknown"
	}

	ts := time.Now().UnixMilli()
	if record.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, record.Timestamp); err == nil {
			ts = parsed.UnixMilli()
		}
	}

	summary := SummarizeArgs(call.Name, call.Arguments)

	w.emit(monitor.Event{
		RunID:  runID,
		Seq:    w.seq.Next(),
		Stream: monitor.StreamTool,
		TS:     ts,
		Data: map[string]any{
			"tool":       call.Name,
			"event":      monitor.ToolCall,
			"toolCallId": call.ID,
			"args":       summary,
			"rawArgs":    call.Arguments,
		},
		SessionKey: monitor.SessionKeyUnknown,
	})
	w.logger.Debug("tool call %s: %s", call.Name, truncate(summary, 50))
}
