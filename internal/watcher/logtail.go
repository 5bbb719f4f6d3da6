package watcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"clawmon/internal/async"
	"clawmon/internal/logging"
	"clawmon/internal/monitor"
)

// LogTail incrementally parses the runtime's append-only daily log file into
// structured lifecycle and tool events. It maintains the run -> session
// correlation map populated from "embedded run start" lines, including a
// one-time backfill scan of the file at startup (which emits no events).
type LogTail struct {
	path            string
	pollInterval    time.Duration
	seq             *monitor.Sequencer
	emit            func(monitor.Event)
	loadSessionKeys func() map[string]string
	logger          logging.Logger

	mu          sync.Mutex
	offset      int64
	runSessions map[string]string // runId -> sessionId
	sessionKeys map[string]string // sessionId -> sessionKey, loaded once at startup
	watcher     *fsnotify.Watcher
	started     bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// LogTailOption customizes log tail behavior.
type LogTailOption func(*LogTail)

// WithLogTailLogger sets the logger for watcher diagnostics.
func WithLogTailLogger(logger logging.Logger) LogTailOption {
	return func(t *LogTail) {
		t.logger = logging.OrNop(logger)
	}
}

// WithLogPollInterval sets the fallback poll interval.
func WithLogPollInterval(d time.Duration) LogTailOption {
	return func(t *LogTail) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithSessionKeyLoader injects the sessionId -> sessionKey snapshot source,
// consulted once at startup. The default loader resolves nothing.
func WithSessionKeyLoader(fn func() map[string]string) LogTailOption {
	return func(t *LogTail) {
		if fn != nil {
			t.loadSessionKeys = fn
		}
	}
}

// NewLogTail constructs a watcher over path. Emitted events are pushed to emit
// with sequence numbers drawn from seq.
func NewLogTail(path string, seq *monitor.Sequencer, emit func(monitor.Event), opts ...LogTailOption) (*LogTail, error) {
	if path == "" {
		return nil, fmt.Errorf("log path required")
	}
	if seq == nil {
		return nil, fmt.Errorf("sequencer required")
	}
	if emit == nil {
		return nil, fmt.Errorf("emit callback required")
	}

	t := &LogTail{
		path:            filepath.Clean(path),
		pollInterval:    time.Second,
		seq:             seq,
		emit:            emit,
		loadSessionKeys: func() map[string]string { return nil },
		logger:          logging.Nop(),
		runSessions:     make(map[string]string),
		sessionKeys:     make(map[string]string),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Start backfills the run -> session map from the existing file contents,
// loads the session key snapshot, and begins tailing for new lines. Watching
// is set up on the parent directory because the daily file may not exist yet.
func (t *LogTail) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	t.backfill()

	keys := t.loadSessionKeys()
	t.mu.Lock()
	for id, key := range keys {
		t.sessionKeys[id] = key
	}
	t.mu.Unlock()
	t.logger.Info("watching %s (%d run mappings, %d session keys)", t.path, len(t.runSessions), len(keys))

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(t.path)); err != nil {
		_ = fsWatcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
	}
	t.mu.Lock()
	t.watcher = fsWatcher
	t.mu.Unlock()

	async.Go(t.logger, "logtail.watch", func() { t.watchLoop(fsWatcher) })
	return nil
}

// Stop terminates the watcher. Safe to call before Start and more than once.
func (t *LogTail) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.mu.Lock()
		if t.watcher != nil {
			_ = t.watcher.Close()
			t.watcher = nil
		}
		t.mu.Unlock()
	})
}

// backfill scans the file from position zero to learn run -> session mappings
// from lines that predate the monitor, then parks the watermark at EOF so
// history is never re-emitted as events.
func (t *LogTail) backfill() {
	lines, offset, err := readNewLines(t.path, 0)
	if err != nil {
		// The daily file may not exist yet; the tail loop picks it up later.
		t.logger.Debug("backfill skipped: %v", err)
		return
	}

	for _, raw := range lines {
		line, ok := decodeLogLine(raw)
		if !ok {
			continue
		}
		if m := runStartPattern.FindStringSubmatch(line.message); m != nil {
			t.rememberRun(m[1], m[2])
		}
	}

	t.mu.Lock()
	t.offset = offset
	t.mu.Unlock()
}

func (t *LogTail) watchLoop(fsWatcher *fsnotify.Watcher) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			t.readNew()
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("log watcher error: %v", err)
		case <-ticker.C:
			// Fallback poll; the watermark makes this a no-op when nothing
			// was appended.
			t.readNew()
		}
	}
}

func (t *LogTail) readNew() {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	lines, newOffset, err := readNewLines(t.path, offset)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Debug("log read failed, retrying next tick: %v", err)
		}
		return
	}

	t.mu.Lock()
	stopped := t.watcher == nil && t.started
	t.offset = newOffset
	t.mu.Unlock()
	if stopped {
		return
	}

	for _, raw := range lines {
		t.parseLine(raw)
	}
}

// logLine is the decoded shape of one JSON log record. The runtime logs the
// human message under the "1" key (positional logger args) with a plain
// "message" fallback.
type logLine struct {
	message string
	time    string
}

func decodeLogLine(raw string) (logLine, bool) {
	if !strings.HasPrefix(raw, "{") {
		return logLine{}, false
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return logLine{}, false
	}

	message, _ := record["1"].(string)
	if message == "" {
		message, _ = record["message"].(string)
	}
	if message == "" {
		return logLine{}, false
	}
	ts, _ := record["time"].(string)
	return logLine{message: message, time: ts}, true
}

func (l logLine) millis() int64 {
	if l.time != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, l.time); err == nil {
			return parsed.UnixMilli()
		}
	}
	return time.Now().UnixMilli()
}

// The fixed vocabulary of runtime log messages. Each pattern pairs a regexp
// with the handler that turns its captures into an event, so a new log shape
// is a table entry rather than another branch.
var (
	runStartPattern = regexp.MustCompile(`embedded run start: runId=(\S+) sessionId=(\S+)`)
	runDonePattern  = regexp.MustCompile(`embedded run done: runId=(\S+) sessionId=(\S+) durationMs=(\d+) aborted=(true|false)`)
	toolPattern     = regexp.MustCompile(`embedded run tool (start|end): runId=(\S+) tool=(\S+) toolCallId=(\S+)`)
)

type logPattern struct {
	re     *regexp.Regexp
	handle func(*LogTail, []string, logLine)
}

var logPatterns = []logPattern{
	{runStartPattern, (*LogTail).handleRunStart},
	{runDonePattern, (*LogTail).handleRunDone},
	{toolPattern, (*LogTail).handleTool},
}

// parseLine matches one decoded log line against the pattern table. Lines that
// decode or match nothing are expected noise and skipped silently.
func (t *LogTail) parseLine(raw string) {
	line, ok := decodeLogLine(raw)
	if !ok {
		return
	}
	if !strings.Contains(line.message, "embedded run") {
		return
	}
	for _, p := range logPatterns {
		if m := p.re.FindStringSubmatch(line.message); m != nil {
			p.handle(t, m, line)
			return
		}
	}
}

func (t *LogTail) handleRunStart(m []string, line logLine) {
	runID, sessionID := m[1], m[2]
	t.rememberRun(runID, sessionID)

	t.emit(monitor.Event{
		RunID:  runID,
		Seq:    t.seq.Next(),
		Stream: monitor.StreamLifecycle,
		TS:     line.millis(),
		Data: map[string]any{
			"event":     monitor.RunStarted,
			"sessionId": sessionID,
		},
		SessionKey: t.sessionKey(sessionID),
	})
}

func (t *LogTail) handleRunDone(m []string, line logLine) {
	runID, sessionID := m[1], m[2]
	durationMs, _ := strconv.ParseInt(m[3], 10, 64)
	aborted := m[4] == "true"

	subEvent := monitor.RunCompleted
	if aborted {
		subEvent = monitor.RunAborted
	}

	t.emit(monitor.Event{
		RunID:  runID,
		Seq:    t.seq.Next(),
		Stream: monitor.StreamLifecycle,
		TS:     line.millis(),
		Data: map[string]any{
			"event":      subEvent,
			"sessionId":  sessionID,
			"durationMs": durationMs,
		},
		SessionKey: t.sessionKey(sessionID),
	})
}

func (t *LogTail) handleTool(m []string, line logLine) {
	subEvent, runID, tool, toolCallID := m[1], m[2], m[3], m[4]

	t.mu.Lock()
	sessionID := t.runSessions[runID]
	t.mu.Unlock()

	data := map[string]any{
		"tool":       tool,
		"event":      subEvent,
		"timestamp":  line.time,
		"toolCallId": toolCallID,
	}
	if sessionID != "" {
		data["sessionId"] = sessionID
	}

	t.emit(monitor.Event{
		RunID:      runID,
		Seq:        t.seq.Next(),
		Stream:     monitor.StreamTool,
		TS:         line.millis(),
		Data:       data,
		SessionKey: t.sessionKey(sessionID),
	})
}

func (t *LogTail) rememberRun(runID, sessionID string) {
	t.mu.Lock()
	t.runSessions[runID] = sessionID
	t.mu.Unlock()
}

// sessionKey resolves sessionId -> sessionKey from the startup snapshot,
// degrading to a synthesized "session:"-prefixed key and finally "unknown".
func (t *LogTail) sessionKey(sessionID string) string {
	if sessionID == "" {
		return monitor.SessionKeyUnknown
	}
	t.mu.Lock()
	key := t.sessionKeys[sessionID]
	t.mu.Unlock()
	if key != "" {
		return key
	}
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return "session:" + short
}
