package gimbal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// Command actions.
const (
	ActionSleep         = "sleep"
	ActionStandby       = "standby"
	ActionCalibrate     = "calibrate"
	ActionEmergencyStop = "emergency_stop"
	ActionTracking      = "tracking"
	ActionTarget        = "target"
	ActionAngle         = "angle"
	ActionPing          = "ping"
	ActionTestConn      = "test_connection"
)

// TargetIDs maps selectable tracking targets to model class ids.
var TargetIDs = map[string]int{
	"Person":     0,
	"Car":        2,
	"Cat":        15,
	"Dog":        16,
	"Bottle":     39,
	"Cup":        41,
	"Cell Phone": 67,
}

const (
	controlPath  = "/recamera/control"
	maxReplySize = 1 << 20
	metricsKind  = "recamera"
)

// controlURL builds the control endpoint. A host that already names a port
// is used as is.
func controlURL(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return "http://" + host + controlPath
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(ControlPort)) + controlPath
}

// Command implements session.Commander.
func (g *Gimbal) Command(ctx context.Context, cmd session.Command) (map[string]any, error) {
	switch cmd.Action {
	case ActionSleep, ActionStandby, ActionCalibrate, ActionEmergencyStop:
		return g.SendControl(ctx, motorControl(cmd.Action))

	case ActionTracking:
		enabled, err := session.BoolValue(cmd.Value)
		if err != nil {
			return nil, err
		}
		return g.SetTracking(ctx, enabled)

	case ActionTarget:
		id, err := targetID(cmd.Value)
		if err != nil {
			return nil, err
		}
		return g.SendControl(ctx, map[string]any{
			"code": 0,
			"data": map[string]any{"type": "tracking", "command": "set_target", "target_id": id},
		})

	case ActionAngle:
		param, err := angleParam(cmd.Value)
		if err != nil {
			return nil, err
		}
		return g.SendControl(ctx, map[string]any{"command": "set_angle", "param": param})

	case ActionPing:
		return g.SendControl(ctx, map[string]any{"command": "ping"})

	case ActionTestConn:
		return map[string]any{"reachable": g.TestConnection(ctx)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", session.ErrUnknownCommand, cmd.Action)
	}
}

// SetTracking enables or disables target tracking. The device must answer
// with code 0; the local state changes only then.
func (g *Gimbal) SetTracking(ctx context.Context, enabled bool) (map[string]any, error) {
	result, err := g.SendControl(ctx, map[string]any{
		"command": "tracking_enable",
		"param":   map[string]any{"value": enabled},
	})
	if err != nil {
		return nil, err
	}
	if code, err := session.FloatValue(result["code"]); err != nil || code != 0 {
		return nil, fmt.Errorf("%w: tracking_enable answered %v", session.ErrCommandFailed, result["code"])
	}

	g.mu.Lock()
	g.tracking = &enabled
	g.mu.Unlock()
	return result, nil
}

func motorControl(command string) map[string]any {
	return map[string]any{
		"code": 0,
		"data": map[string]any{"type": "motor_control", "command": command},
	}
}

func targetID(v any) (int, error) {
	if name, ok := v.(string); ok {
		if id, ok := TargetIDs[name]; ok {
			return id, nil
		}
	}
	f, err := session.FloatValue(v)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown target %v", session.ErrUnknownCommand, v)
	}
	return int(f), nil
}

func angleParam(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: angle wants {motor_id, angle}", session.ErrUnknownCommand)
	}
	motor, ok := motorID(m["motor_id"])
	if !ok || (motor != MotorYaw && motor != MotorPitch) {
		return nil, fmt.Errorf("%w: unknown motor %v", session.ErrUnknownCommand, m["motor_id"])
	}
	angle, err := session.FloatValue(m["angle"])
	if err != nil {
		return nil, err
	}
	return map[string]any{"motor_id": motor, "angle": angle}, nil
}

// SendControl sends command data over the configured transport and returns
// the device reply.
func (g *Gimbal) SendControl(ctx context.Context, commandData map[string]any) (result map[string]any, err error) {
	defer func() {
		metrics.ControlCommands.WithLabelValues(metricsKind, metrics.Result(err)).Inc()
	}()

	cfg := g.Config()
	if cfg.transport() == TransportMQTT {
		return g.sendMQTT(ctx, cfg, commandData)
	}
	return g.sendHTTP(ctx, cfg, commandData)
}

func (g *Gimbal) sendHTTP(ctx context.Context, cfg Config, commandData map[string]any) (map[string]any, error) {
	if cfg.DeviceHost == "" {
		return nil, fmt.Errorf("%w: device host not configured", session.ErrCommandFailed)
	}
	body, err := json.Marshal(map[string]any{"sn": cfg.DeviceID, "command_data": commandData})
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	url := controlURL(cfg.DeviceHost)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	g.logger.Info("sending control command", "url", url, "command", commandData)
	resp, err := g.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrCommandFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply: %w", session.ErrCommandFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", session.ErrCommandFailed, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %w", session.ErrCommandFailed, err)
	}
	return result, nil
}

func (g *Gimbal) sendMQTT(ctx context.Context, cfg Config, commandData map[string]any) (map[string]any, error) {
	g.mu.Lock()
	mq := g.mq
	g.mu.Unlock()
	if mq == nil || !mq.IsConnected() {
		return nil, session.ErrNotConnected
	}

	requestID := uuid.NewString()
	msg := maps.Clone(commandData)
	if msg == nil {
		msg = map[string]any{}
	}
	msg["request_id"] = requestID
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	ack := make(chan map[string]any, 1)
	g.mu.Lock()
	g.pending[requestID] = ack
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()
	}()

	topic := mqtt.Topics{}.GimbalControl(cfg.namespace(), cfg.DeviceID)
	if err := mq.Publish(topic, payload, 1, false); err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrCommandFailed, err)
	}

	timeout := g.deps.ControlTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ack:
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no ack within %s", session.ErrCommandFailed, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve hands an ack to the waiting command, if any.
func (g *Gimbal) resolve(ack map[string]any) {
	id, _ := ack["request_id"].(string)

	g.mu.Lock()
	ch, ok := g.pending[id]
	g.mu.Unlock()

	if !ok {
		g.logger.Debug("ignoring unsolicited ack", "request_id", id)
		return
	}
	select {
	case ch <- ack:
	default:
	}
}
