package monitor

import (
	"sort"
	"sync"
	"time"

	"clawmon/internal/logging"
)

// Registry owns the canonical set of runs, derived purely from the event
// stream. Runs are created implicitly on the first event for an unseen runId
// and move to exactly one terminal state; terminal states are sticky, and a
// repeated terminal lifecycle event is reported as an anomaly instead of
// applied.
type Registry struct {
	mu     sync.Mutex
	runs   map[string]*Run
	logger logging.Logger

	// onAnomaly fires when a lifecycle event tries to re-transition a run
	// that is already terminal.
	onAnomaly func(runID, subEvent string)
}

// RegistryOption customizes registry behavior.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for registry diagnostics.
func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logging.OrNop(logger)
	}
}

// WithAnomalyHook registers an observer for ignored terminal re-transitions.
func WithAnomalyHook(fn func(runID, subEvent string)) RegistryOption {
	return func(r *Registry) {
		r.onAnomaly = fn
	}
}

// NewRegistry constructs an empty run registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		runs:   make(map[string]*Run),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessEvent attributes the event to its run, creating the run on first
// sight, and returns a snapshot of the run's state after the event.
func (r *Registry) ProcessEvent(event Event) Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[event.RunID]
	if !ok {
		run = &Run{
			RunID:      event.RunID,
			SessionKey: event.SessionKey,
			Status:     StatusRunning,
			StartedAt:  event.TS,
		}
		r.runs[event.RunID] = run
	}

	run.EventCount++
	ev := event
	run.LastEvent = &ev

	if event.Stream == StreamLifecycle {
		r.applyLifecycle(run, event)
	}

	return r.snapshotLocked(run)
}

func (r *Registry) applyLifecycle(run *Run, event Event) {
	var next RunStatus
	switch event.SubEvent() {
	case RunCompleted:
		next = StatusCompleted
	case RunFailed:
		next = StatusFailed
	case RunAborted:
		next = StatusAborted
	default:
		return
	}

	if run.Status.Terminal() {
		r.logger.Warn("ignoring lifecycle %s for already-%s run %s", event.SubEvent(), run.Status, run.RunID)
		if r.onAnomaly != nil {
			r.onAnomaly(run.RunID, event.SubEvent())
		}
		return
	}

	run.Status = next
	run.CompletedAt = event.TS
}

// Run returns a snapshot of a single run.
func (r *Registry) Run(runID string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return Run{}, false
	}
	return r.snapshotLocked(run), true
}

// Runs returns a stable snapshot of every tracked run keyed by runId.
func (r *Registry) Runs() map[string]Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Run, len(r.runs))
	for id, run := range r.runs {
		out[id] = r.snapshotLocked(run)
	}
	return out
}

// ActiveRuns returns the runs still in the running state.
func (r *Registry) ActiveRuns() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Run
	for _, run := range r.runs {
		if run.Status == StatusRunning {
			out = append(out, r.snapshotLocked(run))
		}
	}
	return out
}

// RecentRuns returns up to limit runs sorted by start time, newest first.
func (r *Registry) RecentRuns(limit int) []Run {
	r.mu.Lock()
	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, r.snapshotLocked(run))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt > out[j].StartedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cleanup evicts terminal runs whose completion is older than maxAge,
// capping memory over long uptimes. Returns the number of runs removed.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, run := range r.runs {
		if run.CompletedAt > 0 && run.CompletedAt < cutoff {
			delete(r.runs, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("evicted %d completed runs older than %s", removed, maxAge)
	}
	return removed
}

// snapshotLocked copies the run so callers never alias registry-owned state.
func (r *Registry) snapshotLocked(run *Run) Run {
	out := *run
	if run.LastEvent != nil {
		ev := *run.LastEvent
		out.LastEvent = &ev
	}
	return out
}
