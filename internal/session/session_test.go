package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/config"
)

func TestPort_Unmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    Port
		wantErr bool
	}{
		{`1883`, 1883, false},
		{`"1883"`, 1883, false},
		{`""`, 0, false},
		{`"abc"`, 0, true},
		{`true`, 0, true},
	}
	for _, tt := range tests {
		var p Port
		err := json.Unmarshal([]byte(tt.in), &p)
		if (err != nil) != tt.wantErr {
			t.Errorf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if p != tt.want {
			t.Errorf("Unmarshal(%s) = %d, want %d", tt.in, p, tt.want)
		}
	}
}

func TestPort_Or(t *testing.T) {
	if got := Port(0).Or(1880); got != 1880 {
		t.Errorf("Port(0).Or(1880) = %d", got)
	}
	if got := Port(9000).Or(1880); got != 9000 {
		t.Errorf("Port(9000).Or(1880) = %d", got)
	}
}

func TestRequire(t *testing.T) {
	if err := Require("a", "x", "b", "y"); err != nil {
		t.Errorf("Require() error = %v", err)
	}
	err := Require("a", "x", "b", "")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Require() error = %v, want ErrInvalidConfig", err)
	}
}

func TestDecodeConfig_Invalid(t *testing.T) {
	var v struct{}
	if err := DecodeConfig([]byte("{"), &v); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("DecodeConfig() error = %v, want ErrInvalidConfig", err)
	}
}

func TestValues(t *testing.T) {
	if b, err := BoolValue("true"); err != nil || !b {
		t.Errorf("BoolValue(\"true\") = %v, %v", b, err)
	}
	if _, err := BoolValue(3); err == nil {
		t.Error("BoolValue(3) should fail")
	}
	if f, err := FloatValue(json.Number("1.5")); err != nil || f != 1.5 {
		t.Errorf("FloatValue(1.5) = %v, %v", f, err)
	}
	if f, err := FloatValue(7); err != nil || f != 7 {
		t.Errorf("FloatValue(7) = %v, %v", f, err)
	}
}

func TestDeps_WithDefaults(t *testing.T) {
	d := Deps{}.WithDefaults()
	if d.Logger == nil || d.HTTPClient == nil || d.NewMQTT == nil || d.NewWS == nil || d.Now == nil {
		t.Fatalf("WithDefaults() left nil fields: %+v", d)
	}
	if got := d.ControlTimeout(); got != 5*time.Second {
		t.Errorf("ControlTimeout() = %v, want 5s default", got)
	}
}

func TestDeps_Options(t *testing.T) {
	d := Deps{
		Transport: config.TransportConfig{
			MQTT:      config.MQTTTransportConfig{ConnectTimeout: 10, KeepAlive: 120},
			WebSocket: config.WebSocketTransportConfig{Heartbeat: 30, HandshakeTimeout: 10, ReceiveTimeout: 30, RetryInterval: 5},
		},
	}.WithDefaults()

	mo := d.MQTTOptions("broker", 1883, "u", "p", "id")
	if mo.ConnectTimeout != 10*time.Second || mo.KeepAlive != 120*time.Second {
		t.Errorf("MQTTOptions() = %+v", mo)
	}
	wo := d.WSOptions("ws://h:8090")
	if wo.RetryInterval != 5*time.Second || wo.Heartbeat != 30*time.Second {
		t.Errorf("WSOptions() = %+v", wo)
	}
}
