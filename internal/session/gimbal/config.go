package gimbal

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// Transport selects how the gimbal streams frames and receives commands.
type Transport string

// Transports.
const (
	TransportWebSocket Transport = "websocket"
	TransportMQTT      Transport = "mqtt"
)

// ControlPort is the device-local HTTP control port.
const ControlPort = 1880

// Motor ids reported in update_angle pushes.
const (
	MotorYaw   = 0x141
	MotorPitch = 0x142
)

// Config is the stored form of a gimbal session.
type Config struct {
	DeviceID   string    `json:"device_id"`
	DeviceHost string    `json:"device_host"`
	Transport  Transport `json:"transport,omitempty"`

	MQTTBroker    string       `json:"mqtt_broker,omitempty"`
	MQTTPort      session.Port `json:"mqtt_port,omitempty"`
	MQTTUsername  string       `json:"mqtt_username,omitempty"`
	MQTTPassword  string       `json:"mqtt_password,omitempty"`
	MQTTNamespace string       `json:"mqtt_namespace,omitempty"`
}

// ParseConfig decodes and validates a stored config.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := session.DecodeConfig(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields needed to build a session.
func (c Config) Validate() error {
	if err := session.Require("device_id", c.DeviceID); err != nil {
		return err
	}
	switch c.transport() {
	case TransportWebSocket:
		return nil
	case TransportMQTT:
		return session.Require("mqtt_broker", c.MQTTBroker)
	default:
		return fmt.Errorf("%w: unknown transport %q", session.ErrInvalidConfig, c.Transport)
	}
}

func (c Config) transport() Transport {
	if c.Transport == "" {
		return TransportWebSocket
	}
	return c.Transport
}

func (c Config) namespace() string {
	if c.MQTTNamespace == "" {
		return mqtt.DefaultGimbalNamespace
	}
	return c.MQTTNamespace
}

// Marshal returns the stored form.
func (c Config) Marshal() ([]byte, error) {
	return json.Marshal(c)
}
