package jetson

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/session"
	"github.com/nerrad567/sensecraft-core/internal/session/sessiontest"
)

func testConfig() Config {
	return Config{
		DeviceHost: "jetson.local",
		DeviceName: "reComputer",
		DeviceMAC:  "aa:bb",
		DeviceType: "jetson",
		MQTTBroker: "broker",
	}
}

func setupSession(t *testing.T) (*Session, *sessiontest.Env) {
	t.Helper()
	env := sessiontest.NewEnv(t.TempDir())
	s, err := New(testConfig(), env.Deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	t.Cleanup(func() { s.Cleanup(context.Background()) })
	return s, env
}

func TestNew_DefaultPort(t *testing.T) {
	env := sessiontest.NewEnv(t.TempDir())
	s, err := New(testConfig(), env.Deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	data, _ := s.MarshalConfig()
	back, err := FromConfig(data, env.Deps)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if back.cfg.DevicePort != DefaultDevicePort {
		t.Errorf("DevicePort = %d, want %d", back.cfg.DevicePort, DefaultDevicePort)
	}
	if back.cfg != s.cfg {
		t.Errorf("round trip = %+v, want %+v", back.cfg, s.cfg)
	}

	if _, err := FromConfig([]byte(`{"device_port":"1880"}`), env.Deps); !errors.Is(err, session.ErrInvalidConfig) {
		t.Errorf("FromConfig(no mac) error = %v", err)
	}
}

func TestSetup_SubscribesSharedTopic(t *testing.T) {
	s, env := setupSession(t)
	if !env.Transports.LastMQTT().Subscribed(mqtt.TopicJetsonEvent) {
		t.Error("shared topic not subscribed")
	}
	if !s.Connected() {
		t.Error("Connected() = false")
	}
}

// =============================================================================
// Event Tests
// =============================================================================

const inferencePayload = `{
	"mac": "aa:bb",
	"name": "inferenceResultEvent",
	"data": {"Streams": [
		{"stream_name": "door", "frame": "ZnJhbWU=", "info": {"person": 2, "timestamp": 123}},
		{"stream_name": "yard", "frame": "eWFyZA==", "info": {"car": 1}}
	]}
}`

func TestInference_CurrentStreamOnly(t *testing.T) {
	s, env := setupSession(t)
	mq := env.Transports.LastMQTT()

	var frames []string
	var lists [][]string
	s.OnFrame(func(f string) { frames = append(frames, f) })
	s.OnStreamList(func(names []string) { lists = append(lists, names) })
	if _, err := s.Command(context.Background(), session.Command{Action: ActionStream, Value: "door"}); err != nil {
		t.Fatalf("Command() error = %v", err)
	}

	if err := mq.Deliver(mqtt.TopicJetsonEvent, []byte(inferencePayload)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if len(frames) != 1 || frames[0] != "ZnJhbWU=" {
		t.Errorf("frames = %v, want only the door frame", frames)
	}
	if len(lists) != 1 || len(lists[0]) != 2 || lists[0][1] != "yard" {
		t.Errorf("stream lists = %v", lists)
	}
	if ev, ok := env.Bus.Last("sensecraft_inference_aa:bb_person"); !ok || ev.Data["value"] != float64(2) {
		t.Errorf("person = %+v, %v", ev, ok)
	}
	if _, ok := env.Bus.Last("sensecraft_inference_aa:bb_timestamp"); ok {
		t.Error("timestamp published")
	}
	if _, ok := env.Bus.Last("sensecraft_inference_aa:bb_car"); ok {
		t.Error("info from a non-current stream published")
	}
}

func TestMessages_OtherDeviceIgnored(t *testing.T) {
	_, env := setupSession(t)
	mq := env.Transports.LastMQTT()

	mq.Deliver(mqtt.TopicJetsonEvent, []byte(`{"mac":"cc:dd","name":"deviceInfo","data":{"cpuUsed":1}}`))
	mq.Deliver("/other/topic", []byte(`{"mac":"aa:bb","name":"deviceInfo","data":{"cpuUsed":1}}`))
	if n := len(env.Bus.Events()); n != 0 {
		t.Errorf("events fired = %d, want 0", n)
	}
}

func TestDeviceInfo_Ratios(t *testing.T) {
	_, env := setupSession(t)
	mq := env.Transports.LastMQTT()

	err := mq.Deliver(mqtt.TopicJetsonEvent, []byte(`{"mac":"aa:bb","name":"deviceInfo","data":{
		"memoryUsed": 1, "memoryTotal": 3,
		"sdUsed": 0, "sdTotal": 64,
		"flashUsed": 5, "flashTotal": 0,
		"cpuTemperature": 48.5,
		"cpuUsed": "12.345"
	}}`))
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	tests := []struct {
		key  string
		want any
	}{
		{"memoryUsed", 0.33},
		{"sdUsed", 0.0},
		{"flashUsed", 0.0},
		{"cpuTemperature", 48.5},
		{"cpuUsed", 12.35},
	}
	for _, tt := range tests {
		ev, ok := env.Bus.Last("sensecraft_info_aa:bb_" + tt.key)
		if !ok {
			t.Errorf("%s not fired", tt.key)
			continue
		}
		if ev.Data["value"] != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, ev.Data["value"], tt.want)
		}
	}
}

func TestCommand_Invalid(t *testing.T) {
	s, _ := setupSession(t)
	if _, err := s.Command(context.Background(), session.Command{Action: "zoom"}); !errors.Is(err, session.ErrUnknownCommand) {
		t.Errorf("Command(zoom) error = %v", err)
	}
	if _, err := s.Command(context.Background(), session.Command{Action: ActionStream, Value: 3}); !errors.Is(err, session.ErrUnknownCommand) {
		t.Errorf("Command(stream 3) error = %v", err)
	}
}

// =============================================================================
// HTTP Query Tests
// =============================================================================

func queryServer(t *testing.T) (host string, port int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("cmd") {
		case QueryModel:
			w.Write([]byte(`{"code":0,"data":{"model":"yolov8"}}`))
		case QueryInfo:
			w.Write([]byte(`{"code":"1","data":null}`))
		}
	}))
	t.Cleanup(srv.Close)

	h, p, _ := net.SplitHostPort(srv.Listener.Addr().String())
	n, _ := strconv.Atoi(p)
	return h, n
}

func TestQueries(t *testing.T) {
	host, port := queryServer(t)
	env := sessiontest.NewEnv(t.TempDir())

	cfg := testConfig()
	cfg.DeviceHost = host
	cfg.DevicePort = session.Port(port)
	s, err := New(cfg, env.Deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	model, err := s.Model(context.Background())
	if err != nil {
		t.Fatalf("Model() error = %v", err)
	}
	if m, ok := model.(map[string]any); !ok || m["model"] != "yolov8" {
		t.Errorf("Model() = %v", model)
	}

	if _, err := s.Info(context.Background()); !errors.Is(err, session.ErrCommandFailed) {
		t.Errorf("Info() error = %v, want ErrCommandFailed", err)
	}
}
