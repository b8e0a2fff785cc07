package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
)

// Well-known push paths.
const (
	PathGimbalState  = "/recamera/state"
	PathWatcherEvent = "/v1/notification/event"
)

// DefaultPort is the port devices are configured to push to.
const DefaultPort = 8887

const (
	defaultMaxBodySize = 16 << 20
	defaultReadTimeout = 30 * time.Second
	unregisteredLabel  = "unregistered"
)

// Handler processes one push body. The context carries the request id and is
// cancelled if the device disconnects.
type Handler func(ctx context.Context, body []byte) (any, error)

// Registration identifies one Register call.
type Registration struct {
	path    string
	handler Handler
}

// Path returns the registered path.
func (r *Registration) Path() string { return r.path }

// Options configures a Server.
type Options struct {
	Host        string
	Port        int
	MaxBodySize int64
	ReadTimeout time.Duration
	Logger      *logging.Logger
}

// Server multiplexes device pushes by path.
//
// Thread Safety:
//   - Register and Unregister may be called concurrently with request dispatch.
type Server struct {
	opts   Options
	logger *logging.Logger

	mu       sync.RWMutex
	handlers map[string]*Registration

	router   http.Handler
	server   *http.Server
	listener net.Listener
}

// NewServer creates a server. It does not listen until Start.
func NewServer(opts Options) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	s := &Server{
		opts:     opts,
		logger:   opts.Logger.With("component", "ingress", "port", opts.Port),
		handlers: make(map[string]*Registration),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Post("/*", s.dispatch)
	return r
}

// Register installs h for path, replacing any current handler.
func (s *Server) Register(path string, h Handler) *Registration {
	reg := &Registration{path: path, handler: h}

	s.mu.Lock()
	_, replaced := s.handlers[path]
	s.handlers[path] = reg
	s.mu.Unlock()

	if replaced {
		s.logger.Debug("ingress handler replaced", "path", path)
	}
	return reg
}

// Unregister removes reg if it is still the current handler for its path.
// It reports whether anything was removed. Nil and stale registrations are no-ops.
func (s *Server) Unregister(reg *Registration) bool {
	if reg == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers[reg.path] != reg {
		return false
	}
	delete(s.handlers, reg.path)
	return true
}

// Registered reports whether path currently has a handler.
func (s *Server) Registered(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handlers[path]
	return ok
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ingress listen on %s: %w", addr, err)
	}

	s.listener = l
	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: s.opts.ReadTimeout,
	}

	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ingress server error", "error", err)
		}
	}()

	s.logger.Info("ingress server listening", "address", l.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the listener down, waiting for in-flight requests until ctx ends.
func (s *Server) Close(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down ingress server: %w", err)
	}
	return nil
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	s.mu.RLock()
	reg := s.handlers[path]
	s.mu.RUnlock()

	if reg == nil {
		s.logger.Debug("push on unregistered path", "path", path)
		s.respond(w, unregisteredLabel, Fail(CodeNotRegistered, MsgNotRegistered))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		s.respond(w, path, Fail(CodeHandlerError, MsgIllegalInput))
		return
	}

	result, err := s.invoke(r.Context(), reg, body)
	if err != nil {
		s.logger.Warn("ingress handler failed",
			"path", path,
			"error", err,
			"request_id", RequestID(r.Context()),
		)
		s.respond(w, path, Fail(CodeHandlerError, err.Error()))
		return
	}

	s.respond(w, path, envelope(result))
}

// invoke runs the handler, turning a panic into an error.
func (s *Server) invoke(ctx context.Context, reg *Registration, body []byte) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return reg.handler(ctx, body)
}

func (s *Server) respond(w http.ResponseWriter, pathLabel string, reply Reply) {
	metrics.IngressRequests.WithLabelValues(pathLabel, strconv.Itoa(reply.Code)).Inc()
	writeReply(w, reply)
}
