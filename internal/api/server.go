package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/entry"
	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/config"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Manager is the entry manager surface the API drives.
type Manager interface {
	Statuses(ctx context.Context) ([]entry.Status, error)
	Status(ctx context.Context, id string) (entry.Status, error)
	Reload(ctx context.Context, id string) error
	Command(ctx context.Context, id string, cmd session.Command) (map[string]any, error)
}

// EventSource delivers every bus event to the stream hub.
type EventSource interface {
	Tap(h eventbus.Handler) func()
}

// HealthChecker is a dependency reported by /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Manager  Manager
	// Events is optional; without it the stream hub never broadcasts.
	Events EventSource
	// Checks are named dependencies run by the health route.
	Checks  map[string]HealthChecker
	Version string
}

// Server is the status and control API.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	manager Manager
	events  EventSource
	checks  map[string]HealthChecker
	version string

	hub     *Hub
	tickets *ticketStore

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	untap    func()
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("entry manager is required")
	}

	logger := deps.Logger.With("component", "api")
	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  logger,
		manager: deps.Manager,
		events:  deps.Events,
		checks:  deps.Checks,
		version: deps.Version,
		hub:     NewHub(deps.WS, logger),
		tickets: newTicketStore(),
	}, nil
}

// Start binds the API port, starts the stream hub and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	if s.events != nil {
		s.untap = s.events.Tap(s.hub.Publish)
	}

	s.listener = l
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", l.Addr().String(), "auth", s.cfg.Auth.Enabled)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the hub and shuts the listener down.
func (s *Server) Close() error {
	if s.untap != nil {
		s.untap()
		s.untap = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
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
