package gimbal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/wsclient"
	"github.com/nerrad567/sensecraft-core/internal/ingress"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// Push state types.
const (
	stateUpdateAngle          = "update_angle"
	stateUpdateTrackingTarget = "update_tracking_target"
	stateUpdateTrackingEnable = "update_tracking_enable"
)

// Gimbal is one reCamera gimbal.
//
// Thread Safety:
//   - Setup, Cleanup and UpdateConfig are serialised by opMu.
//   - Transport callbacks and ingress pushes only take mu.
type Gimbal struct {
	deps   session.Deps
	logger *logging.Logger

	opMu sync.Mutex

	mu        sync.Mutex
	cfg       Config
	ws        session.WSTransport
	mq        session.MQTTTransport
	reg       *ingress.Registration
	connected bool
	angles    map[int]map[string]any
	target    map[string]any
	tracking  *bool
	onFrame   FrameReceiver
	pending   map[string]chan map[string]any
}

var (
	_ session.Session      = (*Gimbal)(nil)
	_ session.Commander    = (*Gimbal)(nil)
	_ session.Reconfigurer = (*Gimbal)(nil)
)

// New creates a gimbal session. Nothing connects until Setup.
func New(cfg Config, deps session.Deps) (*Gimbal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps = deps.WithDefaults()
	return &Gimbal{
		deps:    deps,
		logger:  deps.Logger.With("component", "recamera", "device_id", cfg.DeviceID),
		cfg:     cfg,
		angles:  make(map[int]map[string]any),
		pending: make(map[string]chan map[string]any),
	}, nil
}

// FromConfig rebuilds a session from MarshalConfig output.
func FromConfig(data []byte, deps session.Deps) (*Gimbal, error) {
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return New(cfg, deps)
}

func (g *Gimbal) DeviceID() string   { return g.cfg.DeviceID }
func (g *Gimbal) Kind() session.Kind { return session.KindGimbal }

// DeviceName is the display name used for entities.
func (g *Gimbal) DeviceName() string { return "sensecraft_recamera_" + g.cfg.DeviceID }

// Config returns the current configuration.
func (g *Gimbal) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// MarshalConfig implements session.Session.
func (g *Gimbal) MarshalConfig() ([]byte, error) {
	return g.Config().Marshal()
}

// Connected reports the last transport state.
func (g *Gimbal) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// OnFrame sets the single frame receiver, replacing any previous one.
func (g *Gimbal) OnFrame(fn FrameReceiver) {
	g.mu.Lock()
	g.onFrame = fn
	g.mu.Unlock()
}

// Angle returns the last update_angle data for a motor.
func (g *Gimbal) Angle(motorID int) (map[string]any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.angles[motorID]
	return d, ok
}

// TrackingTarget returns the last pushed target data, or nil.
func (g *Gimbal) TrackingTarget() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

// TrackingEnabled returns the tracking state and whether it is known.
func (g *Gimbal) TrackingEnabled() (enabled, known bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tracking == nil {
		return false, false
	}
	return *g.tracking, true
}

// =============================================================================
// Lifecycle
// =============================================================================

// Setup registers the state handler and starts the transport. In WebSocket
// mode a retry loop owns the connection and Setup returns at once.
func (g *Gimbal) Setup(ctx context.Context) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()
	return g.setup(ctx)
}

func (g *Gimbal) setup(ctx context.Context) error {
	g.teardown()

	cfg := g.Config()
	if g.deps.Ingress != nil {
		reg := g.deps.Ingress.Register(ingress.PathGimbalState, g.handlePush)
		g.mu.Lock()
		g.reg = reg
		g.mu.Unlock()
	}

	if cfg.transport() == TransportMQTT {
		return g.setupMQTT(ctx, cfg)
	}
	return g.setupWS(cfg)
}

func (g *Gimbal) setupWS(cfg Config) error {
	if cfg.DeviceHost == "" {
		return fmt.Errorf("%w: device_host is required", session.ErrInvalidConfig)
	}
	ws, err := g.deps.NewWS(g.deps.WSOptions(wsclient.URLForHost(cfg.DeviceHost)))
	if err != nil {
		return fmt.Errorf("creating websocket client: %w", err)
	}
	ws.SetMessageHandler(g.handleFrame)
	ws.SetOnConnectionChange(g.handleState)

	g.mu.Lock()
	g.ws = ws
	g.mu.Unlock()

	ws.Start()
	g.logger.Info("gimbal streaming started", "host", cfg.DeviceHost)
	return nil
}

func (g *Gimbal) setupMQTT(ctx context.Context, cfg Config) error {
	clientID := fmt.Sprintf("recamera-%s-%s", cfg.DeviceID, uuid.NewString()[:8])
	mq, err := g.deps.NewMQTT(g.deps.MQTTOptions(cfg.MQTTBroker, cfg.MQTTPort.Or(mqtt.DefaultPort),
		cfg.MQTTUsername, cfg.MQTTPassword, clientID))
	if err != nil {
		return fmt.Errorf("creating mqtt client: %w", err)
	}
	mq.SetMessageHandler(g.handleMQTT)
	mq.SetOnConnectionChange(g.handleState)

	topics := mqtt.Topics{}
	for _, topic := range []string{
		topics.GimbalState(cfg.namespace(), cfg.DeviceID),
		topics.GimbalAck(cfg.namespace(), cfg.DeviceID),
	} {
		if err := mq.Subscribe(topic, 1); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}

	g.mu.Lock()
	g.mq = mq
	g.mu.Unlock()

	if err := mq.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.MQTTBroker, err)
	}
	return nil
}

// teardown disconnects any live transport. Callers hold opMu.
func (g *Gimbal) teardown() {
	g.mu.Lock()
	ws, mq := g.ws, g.mq
	g.ws, g.mq = nil, nil
	g.mu.Unlock()

	if ws != nil {
		ws.Disconnect()
	}
	if mq != nil {
		mq.Disconnect()
	}

	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
}

// Cleanup unregisters the state handler if it is still ours and disconnects.
func (g *Gimbal) Cleanup(context.Context) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.Lock()
	reg := g.reg
	g.reg = nil
	g.mu.Unlock()

	if reg != nil && g.deps.Ingress != nil {
		g.deps.Ingress.Unregister(reg)
	}
	g.teardown()
	g.logger.Info("gimbal resources cleaned up")
	return nil
}

// UpdateConfig applies a new device host, reconnecting when it changed.
func (g *Gimbal) UpdateConfig(ctx context.Context, host string) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.Lock()
	changed := g.cfg.DeviceHost != host
	g.cfg.DeviceHost = host
	g.mu.Unlock()

	if !changed {
		return nil
	}
	g.teardown()
	if host == "" {
		return nil
	}
	return g.setup(ctx)
}

// Reconfigure implements session.Reconfigurer. Only a device_host change
// is applied in place.
func (g *Gimbal) Reconfigure(ctx context.Context, data []byte) (bool, error) {
	next, err := ParseConfig(data)
	if err != nil {
		return false, nil
	}
	cur := g.Config()
	cur.DeviceHost = next.DeviceHost
	if cur != next {
		return false, nil
	}
	return true, g.UpdateConfig(ctx, next.DeviceHost)
}

// TestConnection dials the gimbal once with a temporary client.
func (g *Gimbal) TestConnection(ctx context.Context) bool {
	host := g.Config().DeviceHost
	if host == "" {
		g.logger.Error("cannot connect: device host not configured")
		return false
	}
	ws, err := g.deps.NewWS(g.deps.WSOptions(wsclient.URLForHost(host)))
	if err != nil {
		return false
	}
	err = ws.Connect(ctx)
	ws.Disconnect()
	if err != nil {
		g.logger.Warn("gimbal connection test failed", "error", err)
		return false
	}
	return true
}

// =============================================================================
// Inbound
// =============================================================================

func (g *Gimbal) event(fact ...string) string {
	return eventbus.Name(append([]string{"recamera", g.cfg.DeviceID}, fact...)...)
}

func (g *Gimbal) handleState(connected bool) {
	g.mu.Lock()
	g.connected = connected
	g.mu.Unlock()

	g.deps.Bus.Fire(g.event("connection_state"), map[string]any{"connected": connected})
	g.logger.Info("gimbal connection state changed", "connected", connected)
}

func (g *Gimbal) handleFrame(messageType int, data []byte) {
	frame, err := DecodeFrame(messageType, data)
	if err != nil {
		g.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	g.mu.Lock()
	receiver := g.onFrame
	g.mu.Unlock()
	if receiver == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("frame receiver panic", "panic", r)
		}
	}()
	receiver(frame)
}

type statePush struct {
	SN    string         `json:"sn"`
	State string         `json:"state"`
	Data  map[string]any `json:"data"`
}

// handlePush serves /recamera/state.
func (g *Gimbal) handlePush(_ context.Context, body []byte) (any, error) {
	var push statePush
	if err := json.Unmarshal(body, &push); err != nil {
		g.logger.Error("error handling gimbal push", "error", err)
		return ingress.Fail(ingress.CodeServerError, err.Error()), nil
	}
	if push.SN != g.cfg.DeviceID {
		return ingress.Fail(ingress.CodeBadRequest, "Device ID mismatch"), nil
	}
	g.applyState(push)
	return map[string]any{}, nil
}

func (g *Gimbal) handleMQTT(topic string, payload []byte) error {
	cfg := g.Config()
	topics := mqtt.Topics{}

	switch topic {
	case topics.GimbalState(cfg.namespace(), cfg.DeviceID):
		var push statePush
		if err := json.Unmarshal(payload, &push); err != nil {
			return fmt.Errorf("decoding state: %w", err)
		}
		if push.SN != "" && push.SN != cfg.DeviceID {
			g.logger.Debug("ignoring state for another device", "sn", push.SN)
			return nil
		}
		g.applyState(push)
	case topics.GimbalAck(cfg.namespace(), cfg.DeviceID):
		var ack map[string]any
		if err := json.Unmarshal(payload, &ack); err != nil {
			return fmt.Errorf("decoding ack: %w", err)
		}
		g.resolve(ack)
	default:
		g.logger.Debug("ignoring message", "topic", topic)
	}
	return nil
}

func (g *Gimbal) applyState(push statePush) {
	data := push.Data
	if data == nil {
		data = map[string]any{}
	}

	switch push.State {
	case stateUpdateAngle:
		motor, ok := motorID(data["motor_id"])
		if !ok || (motor != MotorYaw && motor != MotorPitch) {
			g.logger.Debug("ignoring angle for unknown motor", "motor_id", data["motor_id"])
			return
		}
		g.mu.Lock()
		g.angles[motor] = data
		g.mu.Unlock()
		g.deps.Bus.Fire(g.event(strconv.Itoa(motor), "angle"), map[string]any{"data": data})

	case stateUpdateTrackingTarget:
		g.mu.Lock()
		g.target = data
		g.mu.Unlock()
		g.deps.Bus.Fire(g.event("tracking_target"), map[string]any{"data": data})

	case stateUpdateTrackingEnable:
		if v, ok := data["value"].(bool); ok {
			g.mu.Lock()
			g.tracking = &v
			g.mu.Unlock()
		}
		g.deps.Bus.Fire(g.event("tracking_enable"), map[string]any{"data": data})

	default:
		g.logger.Debug("ignoring state", "state", push.State)
	}
}

func motorID(v any) (int, bool) {
	f, err := session.FloatValue(v)
	if err != nil {
		return 0, false
	}
	return int(f), true
}
