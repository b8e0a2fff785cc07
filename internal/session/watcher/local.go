package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// MQTTConfig is the stored form of an MQTTSession.
type MQTTConfig struct {
	DeviceName   string       `json:"device_name"`
	DeviceID     string       `json:"device_id"`
	MQTTBroker   string       `json:"mqtt_broker"`
	MQTTPort     session.Port `json:"mqtt_port"`
	MQTTUsername string       `json:"mqtt_username"`
	MQTTPassword string       `json:"mqtt_password"`
	MQTTTopic    string       `json:"mqtt_topic"`
}

// MQTTSession receives Watcher events from a broker topic.
type MQTTSession struct {
	deps   session.Deps
	logger *logging.Logger
	cfg    MQTTConfig

	opMu sync.Mutex

	mu        sync.Mutex
	client    session.MQTTTransport
	connected bool
}

var _ session.Session = (*MQTTSession)(nil)

// NewMQTT creates an MQTT watcher session.
func NewMQTT(cfg MQTTConfig, deps session.Deps) (*MQTTSession, error) {
	if err := session.Require("device_id", cfg.DeviceID, "mqtt_broker", cfg.MQTTBroker, "mqtt_topic", cfg.MQTTTopic); err != nil {
		return nil, err
	}
	deps = deps.WithDefaults()
	return &MQTTSession{
		deps:   deps,
		logger: deps.Logger.With("component", "watcher_mqtt", "device_id", cfg.DeviceID),
		cfg:    cfg,
	}, nil
}

// MQTTFromConfig rebuilds a session from MarshalConfig output.
func MQTTFromConfig(data []byte, deps session.Deps) (*MQTTSession, error) {
	var cfg MQTTConfig
	if err := session.DecodeConfig(data, &cfg); err != nil {
		return nil, err
	}
	return NewMQTT(cfg, deps)
}

func (s *MQTTSession) DeviceID() string   { return s.cfg.DeviceID }
func (s *MQTTSession) Kind() session.Kind { return session.KindWatcherMQTT }

// MarshalConfig implements session.Session.
func (s *MQTTSession) MarshalConfig() ([]byte, error) { return json.Marshal(s.cfg) }

// Connected reports the broker connection state.
func (s *MQTTSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Setup connects to the broker and subscribes to the configured topic.
func (s *MQTTSession) Setup(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stop()

	clientID := fmt.Sprintf("watcher-%s-%s", s.cfg.DeviceID, uuid.NewString()[:8])
	client, err := s.deps.NewMQTT(s.deps.MQTTOptions(s.cfg.MQTTBroker, s.cfg.MQTTPort.Or(mqtt.DefaultPort),
		s.cfg.MQTTUsername, s.cfg.MQTTPassword, clientID))
	if err != nil {
		return fmt.Errorf("creating mqtt client: %w", err)
	}
	client.SetMessageHandler(s.handleMessage)
	client.SetOnConnectionChange(s.setConnected)
	if err := client.Subscribe(s.cfg.MQTTTopic, 0); err != nil {
		return fmt.Errorf("subscribing %s: %w", s.cfg.MQTTTopic, err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", s.cfg.MQTTBroker, err)
	}
	return nil
}

// Cleanup disconnects from the broker. Idempotent.
func (s *MQTTSession) Cleanup(context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stop()
	return nil
}

func (s *MQTTSession) stop() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	s.setConnected(false)
}

func (s *MQTTSession) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

type localMessage struct {
	DeviceEUI string `json:"deviceEui"`
	Events    *struct {
		Text *string `json:"text"`
		Img  *string `json:"img"`
		Data *struct {
			Sensor map[string]any `json:"sensor"`
		} `json:"data"`
	} `json:"events"`
}

var errNoEvents = errors.New("message has no events")

// handleMessage fires sensecraft_watcher_<fact>_<eui> for every field present.
func (s *MQTTSession) handleMessage(_ string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var msg localMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding watcher message: %w", err)
	}
	if msg.Events == nil {
		return errNoEvents
	}
	ev, eui := msg.Events, msg.DeviceEUI

	if ev.Text != nil {
		s.deps.Bus.Fire(eventbus.Name("watcher", "alarm", eui), map[string]any{"text": *ev.Text})
	}
	if ev.Img != nil {
		s.deps.Bus.Fire(eventbus.Name("watcher", "image", eui), map[string]any{"image": *ev.Img})
	}
	if ev.Data == nil || ev.Data.Sensor == nil {
		return nil
	}
	for _, key := range []struct{ field, fact string }{
		{"temperature", "temperature"},
		{"humidity", "humidity"},
		{"CO2", "co2"},
	} {
		if v, ok := ev.Data.Sensor[key.field]; ok && v != nil {
			s.deps.Bus.Fire(eventbus.Name("watcher", key.fact, eui), map[string]any{"value": v})
		}
	}
	return nil
}
