package gimbal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/ingress"
	"github.com/nerrad567/sensecraft-core/internal/session"
	"github.com/nerrad567/sensecraft-core/internal/session/sessiontest"
)

func newTestGimbal(t *testing.T, env *sessiontest.Env, cfg Config) *Gimbal {
	t.Helper()
	g, err := New(cfg, env.Deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { g.Cleanup(context.Background()) })
	return g
}

func push(t *testing.T, srv *ingress.Server, body string) ingress.Reply {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, ingress.PathGimbalState, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var reply ingress.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decoding reply %q: %v", rec.Body.String(), err)
	}
	return reply
}

// =============================================================================
// Config Tests
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"websocket default", Config{DeviceID: "cam1", DeviceHost: "h"}, false},
		{"missing id", Config{DeviceHost: "h"}, true},
		{"mqtt without broker", Config{DeviceID: "cam1", Transport: TransportMQTT}, true},
		{"mqtt", Config{DeviceID: "cam1", Transport: TransportMQTT, MQTTBroker: "b"}, false},
		{"unknown transport", Config{DeviceID: "cam1", Transport: "serial"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, session.ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestMarshalConfig_WebSocketShape(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "cam.local"})

	data, err := g.MarshalConfig()
	if err != nil {
		t.Fatalf("MarshalConfig() error = %v", err)
	}
	if string(data) != `{"device_id":"cam1","device_host":"cam.local"}` {
		t.Errorf("MarshalConfig() = %s", data)
	}

	back, err := FromConfig(data, env.Deps)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if back.Config() != g.Config() {
		t.Errorf("FromConfig() config = %+v, want %+v", back.Config(), g.Config())
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestSetup_StartsStreamAndRegisters(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "cam.local"})

	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	ws := env.Transports.LastWS()
	if ws == nil || !ws.Started() {
		t.Fatal("Setup() did not start the websocket retry loop")
	}
	if ws.Opts.URL != "ws://cam.local:8090" {
		t.Errorf("URL = %q, want ws://cam.local:8090", ws.Opts.URL)
	}
	if !env.Ingress.Registered(ingress.PathGimbalState) {
		t.Error("state handler not registered")
	}
}

func TestSetup_MissingHost(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1"})

	if err := g.Setup(context.Background()); !errors.Is(err, session.ErrInvalidConfig) {
		t.Errorf("Setup() error = %v, want ErrInvalidConfig", err)
	}
	if len(env.Transports.AllWS()) != 0 {
		t.Error("Setup() built a transport without a host")
	}
}

func TestSetup_AtMostOneTransport(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "cam.local"})

	for i := 0; i < 3; i++ {
		if err := g.Setup(context.Background()); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
	}

	all := env.Transports.AllWS()
	if len(all) != 3 {
		t.Fatalf("transports built = %d, want 3", len(all))
	}
	live := 0
	for _, ws := range all {
		if ws.Started() {
			live++
		}
	}
	if live != 1 {
		t.Errorf("live transports = %d, want 1", live)
	}
	if !all[0].Disconnected() || !all[1].Disconnected() {
		t.Error("replaced transports were not disconnected")
	}
}

func TestCleanup_UnregistersOnlyOwnHandler(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	first := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	second := newTestGimbal(t, env, Config{DeviceID: "cam2", DeviceHost: "b"})

	ctx := context.Background()
	if err := first.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := second.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if err := first.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if !env.Ingress.Registered(ingress.PathGimbalState) {
		t.Fatal("Cleanup() removed a handler it no longer owned")
	}

	if err := second.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if env.Ingress.Registered(ingress.PathGimbalState) {
		t.Error("handler still registered after owner cleanup")
	}
	if err := second.Cleanup(ctx); err != nil {
		t.Errorf("second Cleanup() error = %v", err)
	}
}

func TestUpdateConfig_HostChangeReconnects(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	ctx := context.Background()

	if err := g.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := g.UpdateConfig(ctx, "a"); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if n := len(env.Transports.AllWS()); n != 1 {
		t.Fatalf("same host rebuilt transport: %d built", n)
	}

	if err := g.UpdateConfig(ctx, "b"); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	all := env.Transports.AllWS()
	if len(all) != 2 {
		t.Fatalf("transports built = %d, want 2", len(all))
	}
	if !all[0].Disconnected() {
		t.Error("old transport not disconnected")
	}
	if all[1].Opts.URL != "ws://b:8090" {
		t.Errorf("new URL = %q", all[1].Opts.URL)
	}
}

func TestTestConnection(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})

	if !g.TestConnection(context.Background()) {
		t.Error("TestConnection() = false with a reachable fake")
	}
	ws := env.Transports.LastWS()
	if ws == nil || !ws.Disconnected() {
		t.Error("temporary client was not disconnected")
	}

	empty := newTestGimbal(t, env, Config{DeviceID: "cam2"})
	if empty.TestConnection(context.Background()) {
		t.Error("TestConnection() = true without a host")
	}
}

func TestReconfigure(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	ctx := context.Background()
	if err := g.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	tests := []struct {
		name    string
		data    string
		applied bool
		host    string
	}{
		{"host only", `{"device_id":"cam1","device_host":"b"}`, true, "b"},
		{"device id", `{"device_id":"cam2","device_host":"c"}`, false, "b"},
		{"transport", `{"device_id":"cam1","device_host":"b","transport":"mqtt","mqtt_broker":"m"}`, false, "b"},
		{"invalid", `{"device_id":""}`, false, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := g.Reconfigure(ctx, []byte(tt.data))
			if err != nil {
				t.Fatalf("Reconfigure() error = %v", err)
			}
			if applied != tt.applied || g.Config().DeviceHost != tt.host {
				t.Errorf("Reconfigure() = %v, host %q; want %v, %q", applied, g.Config().DeviceHost, tt.applied, tt.host)
			}
		})
	}
}

func TestCommand_TestConnection(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})

	out, err := g.Command(context.Background(), session.Command{Action: ActionTestConn})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if out["reachable"] != true {
		t.Errorf("reachable = %v, want true", out["reachable"])
	}
}

// =============================================================================
// Inbound Tests
// =============================================================================

func TestPush_Angles(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	reply := push(t, env.Ingress, `{"sn":"cam1","state":"update_angle","data":{"motor_id":321,"angle":12.5}}`)
	if reply.Code != ingress.CodeSuccess {
		t.Fatalf("reply = %+v, want success", reply)
	}
	push(t, env.Ingress, `{"sn":"cam1","state":"update_angle","data":{"motor_id":322,"angle":-3}}`)

	ev, ok := env.Bus.Last("sensecraft_recamera_cam1_321_angle")
	if !ok {
		t.Fatal("yaw event not fired")
	}
	data := ev.Data["data"].(map[string]any)
	if data["angle"] != 12.5 {
		t.Errorf("yaw data = %v", data)
	}
	if _, ok := env.Bus.Last("sensecraft_recamera_cam1_322_angle"); !ok {
		t.Error("pitch event not fired")
	}
	if d, ok := g.Angle(MotorPitch); !ok || d["angle"] != float64(-3) {
		t.Errorf("Angle(pitch) = %v, %v", d, ok)
	}
}

func TestPush_Tracking(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	push(t, env.Ingress, `{"sn":"cam1","state":"update_tracking_target","data":{"target_id":16}}`)
	push(t, env.Ingress, `{"sn":"cam1","state":"update_tracking_enable","data":{"value":true}}`)

	if _, ok := env.Bus.Last("sensecraft_recamera_cam1_tracking_target"); !ok {
		t.Error("tracking_target event not fired")
	}
	if _, ok := env.Bus.Last("sensecraft_recamera_cam1_tracking_enable"); !ok {
		t.Error("tracking_enable event not fired")
	}
	if tgt := g.TrackingTarget(); tgt["target_id"] != float64(16) {
		t.Errorf("TrackingTarget() = %v", tgt)
	}
	if on, known := g.TrackingEnabled(); !on || !known {
		t.Errorf("TrackingEnabled() = %v, %v", on, known)
	}
}

func TestPush_DeviceMismatch(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	reply := push(t, env.Ingress, `{"sn":"other","state":"update_angle","data":{"motor_id":321}}`)
	if reply.Code != ingress.CodeBadRequest || reply.Msg != "Device ID mismatch" {
		t.Errorf("reply = %+v, want 400 Device ID mismatch", reply)
	}
	if n := len(env.Bus.Events()); n != 0 {
		t.Errorf("events fired = %d, want 0", n)
	}
}

func TestPush_MalformedData(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	reply := push(t, env.Ingress, `{"sn":"cam1","state":"update_angle","data":"nope"}`)
	if reply.Code != ingress.CodeServerError {
		t.Errorf("reply = %+v, want 500", reply)
	}
}

func TestConnectionStateEvents(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	ws := env.Transports.LastWS()
	ws.SetLive(true)
	if !g.Connected() {
		t.Error("Connected() = false after link up")
	}
	ws.SetLive(false)
	if g.Connected() {
		t.Error("Connected() = true after link down")
	}

	evs := env.Bus.Named("sensecraft_recamera_cam1_connection_state")
	if len(evs) != 2 || evs[0].Data["connected"] != true || evs[1].Data["connected"] != false {
		t.Errorf("connection events = %+v", evs)
	}
}

func TestFrames_DeliveredToReceiver(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	var mu sync.Mutex
	var frames []Frame
	g.OnFrame(func(f Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	})

	ws := env.Transports.LastWS()
	img := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	ws.Deliver(websocket.TextMessage, []byte(`{"image":"`+img+`","boxes":[[1,2,3,4,90,0]]}`))
	ws.Deliver(websocket.BinaryMessage, []byte{0xff, 0xd8, 0xff})
	ws.Deliver(websocket.TextMessage, []byte(`not json`))

	mu.Lock()
	defer mu.Unlock()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if string(frames[0].Image) != "jpeg" || len(frames[0].Boxes) != 1 {
		t.Errorf("frame[0] = %+v", frames[0])
	}
	if !bytes.Equal(frames[1].Image, []byte{0xff, 0xd8, 0xff}) {
		t.Errorf("frame[1].Image = %v", frames[1].Image)
	}
}

// =============================================================================
// Control Tests
// =============================================================================

type controlServer struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
	reply  string
}

func (c *controlServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/recamera/control" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	status, reply := c.status, c.reply
	c.mu.Unlock()

	w.WriteHeader(status)
	w.Write([]byte(reply))
}

func (c *controlServer) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[len(c.bodies)-1]
}

func startControl(t *testing.T, status int, reply string) (*controlServer, string) {
	t.Helper()
	cs := &controlServer{status: status, reply: reply}
	srv := httptest.NewServer(cs)
	t.Cleanup(srv.Close)
	return cs, strings.TrimPrefix(srv.URL, "http://")
}

func TestControlURL(t *testing.T) {
	if got := controlURL("cam.local"); got != "http://cam.local:1880/recamera/control" {
		t.Errorf("controlURL() = %q", got)
	}
	if got := controlURL("127.0.0.1:9000"); got != "http://127.0.0.1:9000/recamera/control" {
		t.Errorf("controlURL() = %q", got)
	}
}

func TestCommand_HTTPMotorControl(t *testing.T) {
	cs, host := startControl(t, http.StatusOK, `{"code":0}`)
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: host})

	result, err := g.Command(context.Background(), session.Command{Action: ActionSleep})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if result["code"] != float64(0) {
		t.Errorf("result = %v", result)
	}

	body := cs.last()
	if body["sn"] != "cam1" {
		t.Errorf("sn = %v", body["sn"])
	}
	data := body["command_data"].(map[string]any)["data"].(map[string]any)
	if data["type"] != "motor_control" || data["command"] != "sleep" {
		t.Errorf("command_data = %v", body["command_data"])
	}
}

func TestCommand_TargetName(t *testing.T) {
	cs, host := startControl(t, http.StatusOK, `{"code":0}`)
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: host})

	if _, err := g.Command(context.Background(), session.Command{Action: ActionTarget, Value: "Dog"}); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	data := cs.last()["command_data"].(map[string]any)["data"].(map[string]any)
	if data["command"] != "set_target" || data["target_id"] != float64(16) {
		t.Errorf("data = %v", data)
	}

	if _, err := g.Command(context.Background(), session.Command{Action: ActionTarget, Value: "Horse"}); !errors.Is(err, session.ErrUnknownCommand) {
		t.Errorf("Command(Horse) error = %v, want ErrUnknownCommand", err)
	}
}

func TestCommand_Angle(t *testing.T) {
	cs, host := startControl(t, http.StatusOK, `{"code":0}`)
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: host})

	_, err := g.Command(context.Background(), session.Command{
		Action: ActionAngle,
		Value:  map[string]any{"motor_id": float64(MotorYaw), "angle": 45.0},
	})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	cmd := cs.last()["command_data"].(map[string]any)
	param := cmd["param"].(map[string]any)
	if cmd["command"] != "set_angle" || param["motor_id"] != float64(MotorYaw) || param["angle"] != 45.0 {
		t.Errorf("command_data = %v", cmd)
	}

	_, err = g.Command(context.Background(), session.Command{
		Action: ActionAngle,
		Value:  map[string]any{"motor_id": 7.0, "angle": 1.0},
	})
	if !errors.Is(err, session.ErrUnknownCommand) {
		t.Errorf("Command(motor 7) error = %v, want ErrUnknownCommand", err)
	}
}

func TestCommand_HTTPFailure(t *testing.T) {
	_, host := startControl(t, http.StatusInternalServerError, `boom`)
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: host})

	_, err := g.Command(context.Background(), session.Command{Action: ActionPing})
	if !errors.Is(err, session.ErrCommandFailed) {
		t.Errorf("Command() error = %v, want ErrCommandFailed", err)
	}
}

func TestSetTracking_RequiresZeroCode(t *testing.T) {
	_, host := startControl(t, http.StatusOK, `{"code":1}`)
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: host})

	if _, err := g.SetTracking(context.Background(), true); !errors.Is(err, session.ErrCommandFailed) {
		t.Errorf("SetTracking() error = %v, want ErrCommandFailed", err)
	}
	if _, known := g.TrackingEnabled(); known {
		t.Error("tracking state changed after a rejected command")
	}
}

func TestCommand_Unknown(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, Config{DeviceID: "cam1", DeviceHost: "a"})

	if _, err := g.Command(context.Background(), session.Command{Action: "dance"}); !errors.Is(err, session.ErrUnknownCommand) {
		t.Errorf("Command() error = %v, want ErrUnknownCommand", err)
	}
}

// =============================================================================
// MQTT Mode Tests
// =============================================================================

func mqttConfig() Config {
	return Config{DeviceID: "cam1", Transport: TransportMQTT, MQTTBroker: "broker", MQTTNamespace: "home"}
}

func TestMQTT_SetupSubscribes(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, mqttConfig())
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	mq := env.Transports.LastMQTT()
	if !mq.Subscribed("home/recamera/cam1/state") || !mq.Subscribed("home/recamera/cam1/ack") {
		t.Error("state and ack topics not subscribed")
	}
	if mq.Opts.Port != mqtt.DefaultPort {
		t.Errorf("Port = %d, want %d", mq.Opts.Port, mqtt.DefaultPort)
	}
	if !g.Connected() {
		t.Error("Connected() = false after MQTT connect")
	}
}

func TestMQTT_StatePush(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, mqttConfig())
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	mq := env.Transports.LastMQTT()

	mq.Deliver("home/recamera/cam1/state", []byte(`{"sn":"other","state":"update_angle","data":{"motor_id":321}}`))
	if _, ok := g.Angle(MotorYaw); ok {
		t.Error("state from another device was applied")
	}

	mq.Deliver("home/recamera/cam1/state", []byte(`{"sn":"cam1","state":"update_angle","data":{"motor_id":321,"angle":3}}`))
	if _, ok := g.Angle(MotorYaw); !ok {
		t.Error("state for this device not applied")
	}
}

func TestMQTT_CommandAwaitsAck(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, mqttConfig())
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	mq := env.Transports.LastMQTT()

	mq.OnPublish(func(p sessiontest.Published) {
		if p.Topic != "home/recamera/cam1/control" {
			return
		}
		var msg map[string]any
		json.Unmarshal(p.Payload, &msg)
		mq.Deliver("home/recamera/cam1/ack", []byte(`{"request_id":"unrelated","code":1}`))
		ack, _ := json.Marshal(map[string]any{"request_id": msg["request_id"], "code": 0})
		mq.Deliver("home/recamera/cam1/ack", ack)
	})

	result, err := g.SetTracking(context.Background(), true)
	if err != nil {
		t.Fatalf("SetTracking() error = %v", err)
	}
	if result["code"] != float64(0) {
		t.Errorf("result = %v", result)
	}
	if on, known := g.TrackingEnabled(); !on || !known {
		t.Errorf("TrackingEnabled() = %v, %v", on, known)
	}
}

func TestMQTT_CommandTimeout(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, mqttConfig())
	if err := g.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	_, err := g.Command(context.Background(), session.Command{Action: ActionPing})
	if !errors.Is(err, session.ErrCommandFailed) {
		t.Errorf("Command() error = %v, want ErrCommandFailed", err)
	}
}

func TestMQTT_CommandNotConnected(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	g := newTestGimbal(t, env, mqttConfig())

	_, err := g.Command(context.Background(), session.Command{Action: ActionPing})
	if !errors.Is(err, session.ErrNotConnected) {
		t.Errorf("Command() error = %v, want ErrNotConnected", err)
	}
}
