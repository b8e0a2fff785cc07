package watcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/ingress"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// sensorKeys are the readings a push may carry, in publish order.
var sensorKeys = []string{"temperature", "humidity", "CO2"}

// unavailable is published for a sensor missing from a non-empty reading.
const unavailable = "unavailable"

// HTTPConfig is the stored form of an HTTPSession.
type HTTPConfig struct {
	DeviceID string `json:"device_id"`
}

// HTTPSession ingests Watcher pushes from the shared ingress server.
type HTTPSession struct {
	deps      session.Deps
	logger    *logging.Logger
	cfg       HTTPConfig
	retention Retention

	mu  sync.Mutex
	reg *ingress.Registration

	sweeps sync.WaitGroup
}

var _ session.Session = (*HTTPSession)(nil)

// NewHTTP creates an HTTP watcher session.
func NewHTTP(cfg HTTPConfig, deps session.Deps) (*HTTPSession, error) {
	if err := session.Require("device_id", cfg.DeviceID); err != nil {
		return nil, err
	}
	deps = deps.WithDefaults()
	logger := deps.Logger.With("component", "watcher", "device_id", cfg.DeviceID)
	return &HTTPSession{
		deps:   deps,
		logger: logger,
		cfg:    cfg,
		retention: Retention{
			Dir:      deps.Watcher.ImageDir,
			MaxFiles: deps.Watcher.MaxImages,
			MaxAge:   deps.Watcher.Retention(),
			Now:      deps.Now,
			Logger:   logger,
		},
	}, nil
}

// HTTPFromConfig rebuilds a session from MarshalConfig output.
func HTTPFromConfig(data []byte, deps session.Deps) (*HTTPSession, error) {
	var cfg HTTPConfig
	if err := session.DecodeConfig(data, &cfg); err != nil {
		return nil, err
	}
	return NewHTTP(cfg, deps)
}

func (s *HTTPSession) DeviceID() string   { return s.cfg.DeviceID }
func (s *HTTPSession) Kind() session.Kind { return session.KindWatcherHTTP }

// MarshalConfig implements session.Session.
func (s *HTTPSession) MarshalConfig() ([]byte, error) { return json.Marshal(s.cfg) }

// Connected reports whether the push handler is registered.
func (s *HTTPSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg != nil
}

// Setup registers the push handler.
func (s *HTTPSession) Setup(context.Context) error {
	if s.deps.Ingress == nil {
		return fmt.Errorf("%w: no ingress server", session.ErrInvalidConfig)
	}
	reg := s.deps.Ingress.Register(ingress.PathWatcherEvent, s.handlePush)

	s.mu.Lock()
	old := s.reg
	s.reg = reg
	s.mu.Unlock()

	if old != nil {
		s.deps.Ingress.Unregister(old)
	}
	s.logger.Info("watcher push handler registered", "path", ingress.PathWatcherEvent)
	return nil
}

// Cleanup unregisters the handler if it is still ours and waits for
// in-flight retention passes.
func (s *HTTPSession) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	reg := s.reg
	s.reg = nil
	s.mu.Unlock()

	if reg != nil {
		s.deps.Ingress.Unregister(reg)
	}

	done := make(chan struct{})
	go func() {
		s.sweeps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.Info("watcher resources cleaned up")
	return nil
}

type pushBody struct {
	DeviceEUI *string     `json:"deviceEui"`
	Events    *pushEvents `json:"events"`
}

type pushEvents struct {
	Text string `json:"text"`
	Img  string `json:"img"`
	Data *struct {
		Sensor map[string]any `json:"sensor"`
	} `json:"data"`
}

func (s *HTTPSession) handlePush(_ context.Context, body []byte) (any, error) {
	var push pushBody
	if err := json.Unmarshal(body, &push); err != nil {
		s.logger.Error("error handling watcher push", "error", err)
		return nil, err
	}
	if push.DeviceEUI == nil || push.Events == nil {
		return ingress.Fail(ingress.CodeInvalidParams, ingress.MsgInvalidParams), nil
	}
	eui, ev := *push.DeviceEUI, push.Events

	if ev.Text != "" {
		s.deps.Bus.Fire(eventbus.Name("watcher", eui, "alarm"), map[string]any{"text": ev.Text})
	}

	if ev.Img != "" {
		s.startSweep()
		path, err := s.saveImage(ev.Img)
		if err != nil {
			s.logger.Error("saving watcher image failed", "eui", eui, "error", err)
		} else {
			s.deps.Bus.Fire(eventbus.Name("watcher", eui, "image"), map[string]any{
				"image_path": path,
				"alarm_text": ev.Text,
			})
		}
	}

	if ev.Data != nil && len(ev.Data.Sensor) > 0 {
		for _, key := range sensorKeys {
			v, ok := ev.Data.Sensor[key]
			if !ok {
				v = unavailable
			}
			s.deps.Bus.Fire(eventbus.Name("watcher", eui, strings.ToLower(key)), map[string]any{"value": v})
		}
	}

	return map[string]any{}, nil
}

// startSweep runs one retention pass in the background. Every image push
// starts its own pass; none start once Cleanup has begun.
func (s *HTTPSession) startSweep() {
	s.mu.Lock()
	if s.reg == nil {
		s.mu.Unlock()
		return
	}
	s.sweeps.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.sweeps.Done()
		if _, err := s.retention.Sweep(); err != nil {
			s.logger.Error("image retention failed", "error", err)
		}
	}()
}

func (s *HTTPSession) saveImage(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}
	dir := s.retention.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, imageName(s.deps.Now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
