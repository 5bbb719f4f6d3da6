// Package app wires the monitor together: file watchers feed the event
// coordinator, which feeds the run registry, the event buffer, and the
// WebSocket broadcast. It also owns the periodic cleanup sweeps and shutdown
// sequencing.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"clawmon/internal/async"
	"clawmon/internal/config"
	"clawmon/internal/logging"
	"clawmon/internal/metrics"
	"clawmon/internal/monitor"
	"clawmon/internal/server"
	"clawmon/internal/sessions"
	"clawmon/internal/watcher"
)

// App is the assembled monitor.
type App struct {
	cfg    *config.Config
	logger logging.Logger

	seq         *monitor.Sequencer
	registry    *monitor.Registry
	buffer      *monitor.Buffer
	coordinator *monitor.Coordinator

	store     *sessions.Store
	cli       *sessions.CLI
	poller    *sessions.Poller
	snapshots *sessions.SnapshotMonitor

	logTail      *watcher.LogTail
	sessionFiles *watcher.SessionFiles

	srv *server.Server

	stopCh chan struct{}
}

// New assembles the monitor from configuration.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	a := &App{
		cfg:    cfg,
		logger: logging.NewComponentLogger("App"),
		seq:    &monitor.Sequencer{},
		stopCh: make(chan struct{}),
	}

	a.registry = monitor.NewRegistry(
		monitor.WithRegistryLogger(logging.NewComponentLogger("Registry")),
		monitor.WithAnomalyHook(func(string, string) {
			metrics.TerminalAnomalies.Inc()
		}),
	)
	a.buffer = monitor.NewBuffer(cfg.EventBufferSize)
	a.coordinator = monitor.NewCoordinator(
		monitor.WithMaxRecords(cfg.ToolCallMapSize),
		monitor.WithPendingMaxAge(cfg.PendingEventMaxAge),
		monitor.WithCoordinatorLogger(logging.NewComponentLogger("Coordinator")),
		monitor.WithReleaseHandler(a.onLateEnrichment),
	)

	a.store = sessions.NewStore()
	a.cli = sessions.NewCLI(cfg.CLICommand, sessions.WithCLILogger(logging.NewComponentLogger("CLI")))
	a.poller = sessions.NewPoller(a.cli, a.store, cfg.CLIPollInterval, logging.NewComponentLogger("SessionPoller"))

	var err error
	a.snapshots, err = sessions.NewSnapshotMonitor(cfg.SnapshotsDir, a.store,
		sessions.WithSnapshotLogger(logging.NewComponentLogger("Snapshots")))
	if err != nil {
		return nil, fmt.Errorf("snapshot monitor: %w", err)
	}

	a.logTail, err = watcher.NewLogTail(cfg.LogFilePath(time.Now()), a.seq, a.onLogEvent,
		watcher.WithLogTailLogger(logging.NewComponentLogger("LogTail")),
		watcher.WithLogPollInterval(cfg.LogPollInterval),
		watcher.WithSessionKeyLoader(a.loadSessionKeys),
	)
	if err != nil {
		return nil, fmt.Errorf("log tail: %w", err)
	}

	a.sessionFiles, err = watcher.NewSessionFiles(cfg.TranscriptsDir, a.seq, a.onTranscriptEvent,
		watcher.WithSessionFilesLogger(logging.NewComponentLogger("SessionFiles")),
		watcher.WithRescanInterval(cfg.TranscriptRescanInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("session files: %w", err)
	}

	a.srv, err = server.New(
		server.Options{Addr: cfg.Addr(), Debug: cfg.Debug, EnableCORS: true},
		server.Deps{
			Registry: a.registry,
			Buffer:   a.buffer,
			Sessions: a.store,
			Seq:      a.seq,
			Ingest:   a.dispatch,
			Logger:   logging.NewComponentLogger("Server"),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	a.store.OnUpdate(func(sessionKey string, entry monitor.SessionEntry) {
		a.srv.Hub().Broadcast(server.WSMessage{
			Type:    server.WSTypeSessionUpdated,
			Payload: server.SessionUpdatedPayload{SessionKey: sessionKey, Entry: entry},
		})
	})

	return a, nil
}

// loadSessionKeys is the log tail's one-time startup snapshot of
// sessionId -> sessionKey, taken straight from the runtime CLI.
func (a *App) loadSessionKeys() map[string]string {
	out := make(map[string]string)
	for _, entry := range a.cli.Sessions() {
		if entry.SessionID != "" {
			out[entry.SessionID] = entry.SessionKey
		}
	}
	return out
}

// onLogEvent handles every event from the log tail: tool events pass through
// the coordinator for argument enrichment, then everything is dispatched.
func (a *App) onLogEvent(event monitor.Event) {
	enriched := a.coordinator.Enrich(event, event.ToolCallID())
	run := a.dispatch(enriched)

	switch {
	case event.Stream == monitor.StreamLifecycle && event.SubEvent() == monitor.RunStarted:
		a.srv.Hub().Broadcast(server.WSMessage{Type: server.WSTypeRunStarted, Payload: run})
	case run.Status.Terminal():
		a.srv.Hub().Broadcast(server.WSMessage{Type: server.WSTypeRunCompleted, Payload: run})
	}
}

// onTranscriptEvent handles tool-call events from the transcript tail. They
// exist to feed the coordinator's argument map; the log tail provides the
// run-scoped framing that reaches the registry and buffer.
func (a *App) onTranscriptEvent(event monitor.Event) {
	toolCallID := event.ToolCallID()
	if toolCallID == "" {
		return
	}
	tool, _ := event.Data["tool"].(string)
	rawArgs, _ := event.Data["rawArgs"].(map[string]any)
	summary, _ := event.Data["args"].(string)
	a.coordinator.RecordToolCall(toolCallID, tool, rawArgs, summary)
}

// onLateEnrichment re-broadcasts a tool event whose arguments arrived after
// the event was first delivered. The registry and buffer keep the original
// copy; re-processing it would double-count the run's events.
func (a *App) onLateEnrichment(event monitor.Event) {
	metrics.ToolCallsEnrichedLate.Inc()
	a.srv.Hub().Broadcast(server.WSMessage{Type: server.WSTypeEvent, Payload: event})
}

// dispatch is the single pipeline entry: registry, buffer, metrics,
// broadcast. Watcher callbacks and POST /api/events both land here.
func (a *App) dispatch(event monitor.Event) monitor.Run {
	run := a.registry.ProcessEvent(event)
	a.buffer.Append(event)

	metrics.EventsIngested.WithLabelValues(string(event.Stream)).Inc()
	metrics.RunsActive.Set(float64(len(a.registry.ActiveRuns())))

	a.srv.Hub().Broadcast(server.WSMessage{Type: server.WSTypeEvent, Payload: event})
	return run
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// listener fails. Watcher startup failure is the one fatal path.
func (a *App) Run(ctx context.Context) error {
	if err := a.snapshots.Start(); err != nil {
		return fmt.Errorf("start snapshot monitor: %w", err)
	}
	if a.cfg.EnableLogWatcher {
		if err := a.logTail.Start(); err != nil {
			return fmt.Errorf("start log tail: %w", err)
		}
	}
	if err := a.sessionFiles.Start(); err != nil {
		return fmt.Errorf("start session files: %w", err)
	}
	if a.cfg.EnableCLIPolling {
		a.poller.Start()
	}

	async.Go(a.logger, "app.sweeps", a.sweepLoop)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(a.srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return nil
	})
	return g.Wait()
}

func (a *App) sweepLoop() {
	coordTicker := time.NewTicker(a.cfg.CoordinatorSweep)
	defer coordTicker.Stop()
	runTicker := time.NewTicker(a.cfg.RunSweep)
	defer runTicker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-coordTicker.C:
			a.coordinator.Cleanup()
		case <-runTicker.C:
			a.registry.Cleanup(a.cfg.RunRetention)
		}
	}
}

func (a *App) shutdown() {
	a.logger.Info("shutting down")
	close(a.stopCh)

	a.poller.Stop()
	a.sessionFiles.Stop()
	a.logTail.Stop()
	a.snapshots.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Stop(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown: %v", err)
	}
}
