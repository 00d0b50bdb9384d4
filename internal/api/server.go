package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fleetsim/internal/infrastructure/config"
	"github.com/nerrad567/fleetsim/internal/infrastructure/database"
	"github.com/nerrad567/fleetsim/internal/infrastructure/logging"
	"github.com/nerrad567/fleetsim/internal/journal"
	"github.com/nerrad567/fleetsim/internal/scenario"
	"github.com/nerrad567/fleetsim/internal/simulator"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by optional components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ScenarioLoader returns the scenarios POST /scenarios/run may execute.
type ScenarioLoader func() ([]*scenario.Scenario, error)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Simulator *simulator.Service

	// Journal is optional; GET /journal reports 503 without it.
	Journal journal.Repository

	// Scenarios is optional; defaults to the built-in scenarios.
	Scenarios ScenarioLoader

	// ReseedAfterScenarios restores the seed topology once a scenario run ends.
	ReseedAfterScenarios bool

	// DB is optional and only used for connection pool metrics.
	DB *database.DB

	// Components are health-checked by name on /health.
	Components map[string]HealthChecker

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for fleetsim.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	sim        *simulator.Service
	runner     *scenario.Runner
	journal    journal.Repository
	scenarios  ScenarioLoader
	reseed     bool
	db         *database.DB
	components map[string]HealthChecker
	version    string
	startTime  time.Time
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Simulator == nil {
		return nil, fmt.Errorf("simulator is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		sim:        deps.Simulator,
		runner:     scenario.NewRunner(deps.Simulator, deps.Logger),
		journal:    deps.Journal,
		scenarios:  deps.Scenarios,
		reseed:     deps.ReseedAfterScenarios,
		db:         deps.DB,
		components: deps.Components,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        deps.ExternalHub,
	}
	if s.scenarios == nil {
		s.scenarios = scenario.Defaults
	}
	return s, nil
}

// Hub returns the server's WebSocket hub. Nil until Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
		s.sim.SetBroadcaster(s.hub)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
