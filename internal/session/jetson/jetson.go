// Package jetson implements the SenseCraft Jetson edge box session. The box
// publishes inference results and system stats for every attached stream on
// a shared broker topic, and answers model and info queries over HTTP.
package jetson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// DefaultDevicePort is the box's HTTP port.
const DefaultDevicePort = 1880

// Event names on the shared topic.
const (
	eventInference  = "inferenceResultEvent"
	eventDeviceInfo = "deviceInfo"
)

// HTTP query commands. MODLE is the firmware's spelling.
const (
	QueryModel = "MODLE"
	QueryInfo  = "INFO"
)

// ActionStream selects the stream whose frames and info are published.
const ActionStream = "stream"

// Config is the stored form of a Jetson session.
type Config struct {
	DeviceHost   string       `json:"device_host"`
	DevicePort   session.Port `json:"device_port"`
	DeviceName   string       `json:"device_name"`
	DeviceMAC    string       `json:"device_mac"`
	DeviceType   string       `json:"device_type"`
	MQTTBroker   string       `json:"mqtt_broker"`
	MQTTPort     session.Port `json:"mqtt_port"`
	MQTTUsername string       `json:"mqtt_username"`
	MQTTPassword string       `json:"mqtt_password"`
}

// FrameReceiver consumes the current stream's base64 frames.
type FrameReceiver func(frame string)

// StreamListReceiver consumes the stream names seen in each result.
type StreamListReceiver func(names []string)

// Session is one Jetson box.
type Session struct {
	deps   session.Deps
	logger *logging.Logger
	cfg    Config

	opMu sync.Mutex

	mu        sync.Mutex
	mq        session.MQTTTransport
	connected bool
	current   string
	onFrame   FrameReceiver
	onStreams StreamListReceiver
}

var (
	_ session.Session   = (*Session)(nil)
	_ session.Commander = (*Session)(nil)
)

// New creates a Jetson session.
func New(cfg Config, deps session.Deps) (*Session, error) {
	if err := session.Require("device_mac", cfg.DeviceMAC, "mqtt_broker", cfg.MQTTBroker); err != nil {
		return nil, err
	}
	if cfg.DevicePort == 0 {
		cfg.DevicePort = DefaultDevicePort
	}
	deps = deps.WithDefaults()
	return &Session{
		deps:   deps,
		logger: deps.Logger.With("component", "jetson", "device_mac", cfg.DeviceMAC),
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

// DeviceID is the box MAC, which also keys its events.
func (s *Session) DeviceID() string   { return s.cfg.DeviceMAC }
func (s *Session) Kind() session.Kind { return session.KindJetson }

// MarshalConfig implements session.Session.
func (s *Session) MarshalConfig() ([]byte, error) { return json.Marshal(s.cfg) }

// Connected reports the broker connection state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// OnFrame sets the single frame receiver.
func (s *Session) OnFrame(fn FrameReceiver) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

// OnStreamList sets the single stream list receiver.
func (s *Session) OnStreamList(fn StreamListReceiver) {
	s.mu.Lock()
	s.onStreams = fn
	s.mu.Unlock()
}

// SelectStream chooses the stream to follow.
func (s *Session) SelectStream(name string) {
	s.mu.Lock()
	s.current = name
	s.mu.Unlock()
}

// CurrentStream returns the followed stream name.
func (s *Session) CurrentStream() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Setup connects to the broker and subscribes to the shared event topic.
func (s *Session) Setup(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stop()

	clientID := fmt.Sprintf("jetson-%s-%s", s.cfg.DeviceMAC, uuid.NewString()[:8])
	mq, err := s.deps.NewMQTT(s.deps.MQTTOptions(s.cfg.MQTTBroker, s.cfg.MQTTPort.Or(mqtt.DefaultPort),
		s.cfg.MQTTUsername, s.cfg.MQTTPassword, clientID))
	if err != nil {
		return fmt.Errorf("creating mqtt client: %w", err)
	}
	mq.SetMessageHandler(s.handleMessage)
	mq.SetOnConnectionChange(func(up bool) {
		s.mu.Lock()
		s.connected = up
		s.mu.Unlock()
	})
	if err := mq.Subscribe(mqtt.TopicJetsonEvent, 0); err != nil {
		return fmt.Errorf("subscribing %s: %w", mqtt.TopicJetsonEvent, err)
	}

	s.mu.Lock()
	s.mq = mq
	s.mu.Unlock()

	if err := mq.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", s.cfg.MQTTBroker, err)
	}
	return nil
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
	s.mq = nil
	s.connected = false
	s.mu.Unlock()

	if mq != nil {
		mq.Disconnect()
	}
}

// Command implements session.Commander.
func (s *Session) Command(_ context.Context, cmd session.Command) (map[string]any, error) {
	if cmd.Action != ActionStream {
		return nil, fmt.Errorf("%w: %q", session.ErrUnknownCommand, cmd.Action)
	}
	name, ok := cmd.Value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: stream wants a name", session.ErrUnknownCommand)
	}
	s.SelectStream(name)
	return map[string]any{"stream": name}, nil
}

// =============================================================================
// Events
// =============================================================================

type envelope struct {
	MAC  string          `json:"mac"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

type inferenceData struct {
	Streams []struct {
		StreamName string         `json:"stream_name"`
		Frame      string         `json:"frame"`
		Info       map[string]any `json:"info"`
	} `json:"Streams"`
}

func (s *Session) handleMessage(topic string, payload []byte) error {
	if topic != mqtt.TopicJetsonEvent {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	if env.MAC != s.cfg.DeviceMAC {
		return nil
	}

	switch env.Name {
	case eventInference:
		var data inferenceData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("decoding inference result: %w", err)
		}
		s.handleInference(data)
	case eventDeviceInfo:
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("decoding device info: %w", err)
		}
		s.handleDeviceInfo(data)
	}
	return nil
}

func (s *Session) handleInference(data inferenceData) {
	s.mu.Lock()
	current, onFrame, onStreams := s.current, s.onFrame, s.onStreams
	s.mu.Unlock()

	names := make([]string, 0, len(data.Streams))
	for _, st := range data.Streams {
		names = append(names, st.StreamName)
		if st.StreamName != current {
			continue
		}
		if onFrame != nil {
			s.safeCall(func() { onFrame(st.Frame) })
		}
		for key, v := range st.Info {
			if key == "timestamp" {
				continue
			}
			s.deps.Bus.Fire(eventbus.Name("inference", s.cfg.DeviceMAC, key), map[string]any{"value": v})
		}
	}
	if onStreams != nil {
		s.safeCall(func() { onStreams(names) })
	}
}

// usageRatios are published as used/total rounded to two places.
var usageRatios = []struct{ used, total string }{
	{"memoryUsed", "memoryTotal"},
	{"sdUsed", "sdTotal"},
	{"flashUsed", "flashTotal"},
}

func (s *Session) handleDeviceInfo(data map[string]any) {
	info := func(key string, v any) {
		s.deps.Bus.Fire(eventbus.Name("info", s.cfg.DeviceMAC, key), map[string]any{"value": v})
	}

	for _, r := range usageRatios {
		used, _ := session.FloatValue(data[r.used])
		total, _ := session.FloatValue(data[r.total])
		ratio := 0.0
		if used > 0 && total > 0 {
			ratio = round2(used / total)
		}
		info(r.used, ratio)
	}

	info("cpuTemperature", data["cpuTemperature"])
	if cpu, err := session.FloatValue(data["cpuUsed"]); err == nil {
		info("cpuUsed", round2(cpu))
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Session) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("receiver panic", "panic", r)
		}
	}()
	fn()
}

// =============================================================================
// HTTP Queries
// =============================================================================

// Model returns the box's model description.
func (s *Session) Model(ctx context.Context) (any, error) {
	return s.query(ctx, QueryModel)
}

// Info returns the box's device info.
func (s *Session) Info(ctx context.Context) (any, error) {
	return s.query(ctx, QueryInfo)
}

func (s *Session) query(ctx context.Context, cmd string) (data any, err error) {
	defer func() {
		metrics.ControlCommands.WithLabelValues(string(session.KindJetson), metrics.Result(err)).Inc()
	}()

	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(s.cfg.DeviceHost, strconv.Itoa(s.cfg.DevicePort.Or(DefaultDevicePort))),
		Path:     "/data",
		RawQuery: "cmd=" + url.QueryEscape(cmd),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := s.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrCommandFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply: %w", session.ErrCommandFailed, err)
	}
	var reply struct {
		Code any `json:"code"`
		Data any `json:"data"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %w", session.ErrCommandFailed, err)
	}
	code, err := session.FloatValue(reply.Code)
	if err != nil || code != 0 || reply.Data == nil {
		s.logger.Warn("query rejected", "url", u.String(), "code", reply.Code)
		return nil, fmt.Errorf("%w: %s answered code %v", session.ErrCommandFailed, cmd, reply.Code)
	}
	return reply.Data, nil
}
