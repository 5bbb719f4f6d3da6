// Package metrics exposes clawmon's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts normalized events flowing through the pipeline,
	// labeled by stream.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawmon_events_ingested_total",
		Help: "Normalized agent events ingested, by stream.",
	}, []string{"stream"})

	// RunsActive tracks the number of runs currently in the running state.
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clawmon_runs_active",
		Help: "Runs currently in the running state.",
	})

	// TerminalAnomalies counts lifecycle events that tried to re-transition
	// an already-terminal run and were ignored.
	TerminalAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clawmon_run_terminal_anomalies_total",
		Help: "Lifecycle events ignored because the run was already terminal.",
	})

	// ToolCallsEnrichedLate counts tool events released with arguments after
	// their Enrich call had already returned unenriched.
	ToolCallsEnrichedLate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clawmon_tool_calls_enriched_late_total",
		Help: "Tool events enriched after their argument record arrived late.",
	})

	// ConnectedClients tracks currently connected WebSocket clients.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clawmon_ws_clients",
		Help: "Connected WebSocket dashboard clients.",
	})
)
