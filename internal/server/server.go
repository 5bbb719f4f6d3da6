package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clawmon/internal/logging"
	"clawmon/internal/monitor"
	"clawmon/internal/sessions"
)

// Deps are the monitor cores the server reads from. Ingest is the pipeline
// entry for externally pushed events and must route them exactly like
// watcher-produced events.
type Deps struct {
	Registry *monitor.Registry
	Buffer   *monitor.Buffer
	Sessions *sessions.Store
	Seq      *monitor.Sequencer
	Ingest   func(monitor.Event) monitor.Run
	Logger   logging.Logger
}

// Options configures the HTTP listener.
type Options struct {
	Addr       string
	Debug      bool
	EnableCORS bool
}

// Server is the HTTP + WebSocket boundary of the monitor.
type Server struct {
	deps       Deps
	hub        *Hub
	engine     *gin.Engine
	httpServer *http.Server
	runEvents  *runEventsCache
	startTime  time.Time
	logger     logging.Logger
}

// New constructs the server and registers all routes.
func New(opts Options, deps Deps) (*Server, error) {
	if deps.Registry == nil || deps.Buffer == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("registry, buffer and session store required")
	}
	if deps.Seq == nil {
		return nil, fmt.Errorf("sequencer required")
	}
	if deps.Ingest == nil {
		return nil, fmt.Errorf("ingest pipeline required")
	}

	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if opts.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		deps:      deps,
		engine:    engine,
		runEvents: newRunEventsCache(),
		startTime: time.Now(),
		logger:    logging.OrNop(deps.Logger),
	}
	s.hub = NewHub(s.snapshot, s.logger)

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/ws", s.hub.Handle)

	api := s.engine.Group("/api")
	{
		api.GET("/state", s.handleState)
		api.GET("/sessions", s.handleSessions)
		api.GET("/sessions/:key", s.handleSession)
		api.GET("/runs", s.handleRuns)
		api.GET("/runs/:id", s.handleRun)
		api.GET("/runs/:id/events", s.handleRunEvents)
		api.GET("/events", s.handleEvents)
		api.POST("/events", s.handleIngest)
	}
}

// Hub exposes the broadcast fan-out for the pipeline.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves HTTP until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop disconnects WebSocket clients and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshot() StateSnapshot {
	return StateSnapshot{
		Sessions:         s.deps.Sessions.All(),
		Runs:             s.deps.Registry.RecentRuns(50),
		Events:           s.deps.Buffer.Recent(100),
		ConnectedClients: s.hub.ClientCount(),
		StartedAt:        s.startTime.UnixMilli(),
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Sessions.All())
}

func (s *Server) handleSession(c *gin.Context) {
	entry, ok := s.deps.Sessions.Get(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleRuns(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Registry.RecentRuns(50))
}

func (s *Server) handleRun(c *gin.Context) {
	run, ok := s.deps.Registry.Run(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunEvents(c *gin.Context) {
	runID := c.Param("id")
	if events, ok := s.runEvents.get(runID); ok {
		c.JSON(http.StatusOK, events)
		return
	}
	events := s.deps.Buffer.ForRun(runID)
	if events == nil {
		events = []monitor.Event{}
	}
	s.runEvents.put(runID, events)
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
	}
	c.JSON(http.StatusOK, s.deps.Buffer.Recent(limit))
}

// handleIngest accepts one externally pushed event (bridge scripts, tests)
// and routes it through the same pipeline as watcher events.
func (s *Server) handleIngest(c *gin.Context) {
	var event monitor.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed event: " + err.Error()})
		return
	}
	if event.RunID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "runId required"})
		return
	}
	if event.Seq == 0 {
		event.Seq = s.deps.Seq.Next()
	}
	if event.TS == 0 {
		event.TS = time.Now().UnixMilli()
	}

	s.deps.Ingest(event)

	c.JSON(http.StatusOK, IngestResponse{
		Status:  "ok",
		EventID: fmt.Sprintf("%s-%d", event.RunID, event.Seq),
	})
}
