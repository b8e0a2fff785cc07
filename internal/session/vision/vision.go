// Package vision implements the SSCMA vision sensor session: an inference
// module reached through an MQTT pipe that publishes per-class detection
// counts and streams frames.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/session"
	"github.com/nerrad567/sensecraft-core/internal/sscma"
)

// Thresholds applied when the device connects.
const (
	DefaultScoreThreshold = 70
	DefaultIoUThreshold   = 45
)

// DefaultReadyTimeout bounds how long Setup waits for the device handshake.
const DefaultReadyTimeout = 30 * time.Second

// Command actions.
const (
	ActionConfidence = "confidence"
	ActionIoU        = "iou"
)

// Config is the stored form of a vision session.
type Config struct {
	DeviceName   string       `json:"device_name"`
	DeviceID     string       `json:"device_id"`
	MQTTBroker   string       `json:"mqtt_broker"`
	MQTTPort     session.Port `json:"mqtt_port"`
	MQTTUsername string       `json:"mqtt_username"`
	MQTTPassword string       `json:"mqtt_password"`
	MQTTTopic    string       `json:"mqtt_topic"`
}

// StreamReceiver consumes base64 frames.
type StreamReceiver func(image string)

// Session is one SSCMA vision sensor.
type Session struct {
	deps   session.Deps
	logger *logging.Logger
	cfg    Config

	// ReadyTimeout overrides DefaultReadyTimeout when positive.
	ReadyTimeout time.Duration

	opMu sync.Mutex

	mu        sync.Mutex
	mq        session.MQTTTransport
	device    *sscma.Client
	ready     chan struct{}
	connected bool
	classes   []string
	score     int
	iou       int
	onStream  StreamReceiver
}

var (
	_ session.Session   = (*Session)(nil)
	_ session.Commander = (*Session)(nil)
)

// New creates a vision session.
func New(cfg Config, deps session.Deps) (*Session, error) {
	if err := session.Require("device_id", cfg.DeviceID, "mqtt_broker", cfg.MQTTBroker, "mqtt_topic", cfg.MQTTTopic); err != nil {
		return nil, err
	}
	deps = deps.WithDefaults()
	return &Session{
		deps:   deps,
		logger: deps.Logger.With("component", "sscma", "device_id", cfg.DeviceID),
		cfg:    cfg,
	}, nil
}

// FromConfig rebuilds a session from MarshalConfig output.
func FromConfig(data []byte, deps session.Deps) (*Session, error) {
	var cfg Config
	if err := session.DecodeConfig(data, &cfg); err != nil {
		return nil, err
	}
	return New(cfg, deps)
}

func (s *Session) DeviceID() string   { return s.cfg.DeviceID }
func (s *Session) Kind() session.Kind { return session.KindVision }

// MarshalConfig implements session.Session.
func (s *Session) MarshalConfig() ([]byte, error) { return json.Marshal(s.cfg) }

// Connected reports whether the device completed its handshake.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Classes returns the model's class names.
func (s *Session) Classes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.classes...)
}

// Thresholds returns the last score and IoU thresholds sent.
func (s *Session) Thresholds() (score, iou int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score, s.iou
}

// OnStream sets the single frame receiver.
func (s *Session) OnStream(fn StreamReceiver) {
	s.mu.Lock()
	s.onStream = fn
	s.mu.Unlock()
}

// Setup connects to the broker, waits for the device handshake and starts
// continuous inference.
func (s *Session) Setup(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stop()

	rx := mqtt.Topics{}.VisionRx(s.cfg.MQTTTopic)
	tx := mqtt.Topics{}.VisionTx(s.cfg.MQTTTopic)

	clientID := fmt.Sprintf("sscma-%s-%s", s.cfg.DeviceID, uuid.NewString()[:8])
	mq, err := s.deps.NewMQTT(s.deps.MQTTOptions(s.cfg.MQTTBroker, s.cfg.MQTTPort.Or(mqtt.DefaultPort),
		s.cfg.MQTTUsername, s.cfg.MQTTPassword, clientID))
	if err != nil {
		return fmt.Errorf("creating mqtt client: %w", err)
	}

	device := sscma.NewClient(func(p []byte) error { return mq.Publish(tx, p, 0, false) })
	device.OnConnect(func(info sscma.ModelInfo) { s.onDeviceConnect(device, info) })
	device.OnResult(s.onResult)

	ready := make(chan struct{}, 1)
	s.mu.Lock()
	s.mq, s.device, s.ready = mq, device, ready
	s.mu.Unlock()

	mq.SetMessageHandler(func(_ string, payload []byte) error { return device.Receive(payload) })
	mq.SetOnConnectionChange(func(up bool) { s.linkChanged(device, up) })
	if err := mq.Subscribe(rx, 0); err != nil {
		return fmt.Errorf("subscribing %s: %w", rx, err)
	}
	if err := mq.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", s.cfg.MQTTBroker, err)
	}

	wait := s.ReadyTimeout
	if wait <= 0 {
		wait = DefaultReadyTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: device did not answer within %s", session.ErrNotConnected, wait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// linkChanged handshakes on every broker (re)connect. The handshake runs off
// the transport's callback goroutine.
func (s *Session) linkChanged(device *sscma.Client, up bool) {
	if !up {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		return
	}
	go func() {
		if err := device.Handshake(); err != nil {
			s.logger.Warn("handshake failed", "error", err)
		}
	}()
}

func (s *Session) onDeviceConnect(device *sscma.Client, info sscma.ModelInfo) {
	s.mu.Lock()
	if s.device != device {
		s.mu.Unlock()
		return
	}
	ready := s.ready
	s.classes = info.Classes
	s.mu.Unlock()

	// Replies to these commands arrive on the receive path, so send them
	// from a separate goroutine.
	go func() {
		if err := device.Invoke(-1, false, false); err != nil {
			s.logger.Warn("starting inference failed", "error", err)
			return
		}
		if err := s.setThresholds(device, DefaultScoreThreshold, DefaultIoUThreshold); err != nil {
			s.logger.Warn("setting thresholds failed", "error", err)
		}

		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		s.logger.Info("device connected", "model", info.Name, "classes", len(info.Classes))

		select {
		case ready <- struct{}{}:
		default:
		}
	}()
}

func (s *Session) setThresholds(device *sscma.Client, score, iou int) error {
	if err := device.SetScoreThreshold(score); err != nil {
		return err
	}
	if err := device.SetIoUThreshold(iou); err != nil {
		return err
	}
	s.mu.Lock()
	s.score, s.iou = score, iou
	s.mu.Unlock()
	return nil
}

// onResult recounts detections per class and publishes every class count.
func (s *Session) onResult(r sscma.Result) {
	s.mu.Lock()
	classes := s.classes
	receiver := s.onStream
	s.mu.Unlock()

	counts := r.Count(len(classes))
	for id, name := range classes {
		s.deps.Bus.Fire(eventbus.Name("inference", s.cfg.DeviceID, strings.ToLower(name)),
			map[string]any{"value": counts[id]})
	}

	if r.Image != "" && receiver != nil {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("stream receiver panic", "panic", rec)
				}
			}()
			receiver(r.Image)
		}()
	}
}

// Cleanup disconnects from the broker. Idempotent.
func (s *Session) Cleanup(context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stop()
	return nil
}

func (s *Session) stop() {
	s.mu.Lock()
	mq := s.mq
	s.mq, s.device, s.ready = nil, nil, nil
	s.connected = false
	s.mu.Unlock()

	if mq != nil {
		mq.Disconnect()
	}
}

// Command implements session.Commander.
func (s *Session) Command(_ context.Context, cmd session.Command) (result map[string]any, err error) {
	defer func() {
		metrics.ControlCommands.WithLabelValues(string(session.KindVision), metrics.Result(err)).Inc()
	}()

	switch cmd.Action {
	case ActionConfidence, ActionIoU:
	default:
		return nil, fmt.Errorf("%w: %q", session.ErrUnknownCommand, cmd.Action)
	}

	f, err := session.FloatValue(cmd.Value)
	if err != nil {
		return nil, err
	}
	v := int(f)
	if v < 0 || v > 100 {
		return nil, fmt.Errorf("%w: %s must be within 0-100", session.ErrUnknownCommand, cmd.Action)
	}

	s.mu.Lock()
	device, connected := s.device, s.connected
	s.mu.Unlock()
	if device == nil || !connected {
		return nil, session.ErrNotConnected
	}

	if cmd.Action == ActionConfidence {
		err = device.SetScoreThreshold(v)
	} else {
		err = device.SetIoUThreshold(v)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrCommandFailed, err)
	}

	s.mu.Lock()
	if cmd.Action == ActionConfidence {
		s.score = v
	} else {
		s.iou = v
	}
	s.mu.Unlock()
	return map[string]any{"value": v}, nil
}
