package session

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/config"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/wsclient"
	"github.com/nerrad567/sensecraft-core/internal/ingress"
)

// defaultHTTPTimeout bounds device and cloud HTTP calls.
const defaultHTTPTimeout = 15 * time.Second

// MQTTTransport is the MQTT client surface sessions use.
type MQTTTransport interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	SetMessageHandler(h mqtt.MessageHandler)
	SetOnConnectionChange(cb func(connected bool))
	IsConnected() bool
	Disconnect()
}

// WSTransport is the WebSocket client surface sessions use.
type WSTransport interface {
	Start()
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	SetMessageHandler(h wsclient.MessageHandler)
	SetOnConnectionChange(cb func(connected bool))
}

// Router is the ingress registration surface.
type Router interface {
	Register(path string, h ingress.Handler) *ingress.Registration
	Unregister(reg *ingress.Registration) bool
}

// MQTTFactory builds an MQTT transport.
type MQTTFactory func(opts mqtt.Options) (MQTTTransport, error)

// WSFactory builds a WebSocket transport.
type WSFactory func(opts wsclient.Options) (WSTransport, error)

// Deps are the collaborators every session kind draws from.
type Deps struct {
	Bus        eventbus.Publisher
	Logger     *logging.Logger
	Ingress    Router
	HTTPClient *http.Client

	NewMQTT MQTTFactory
	NewWS   WSFactory

	Transport config.TransportConfig
	Watcher   config.WatcherConfig
	Cloud     config.CloudConfig

	Now func() time.Time
}

// WithDefaults fills unset collaborators with production implementations.
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if d.NewMQTT == nil {
		d.NewMQTT = func(opts mqtt.Options) (MQTTTransport, error) {
			return mqtt.New(opts)
		}
	}
	if d.NewWS == nil {
		d.NewWS = func(opts wsclient.Options) (WSTransport, error) {
			return wsclient.New(opts)
		}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// MQTTOptions builds client options with the configured tunables.
func (d Deps) MQTTOptions(broker string, port int, username, password, clientID string) mqtt.Options {
	return mqtt.Options{
		Broker:         broker,
		Port:           port,
		Username:       username,
		Password:       password,
		ClientID:       clientID,
		ConnectTimeout: d.Transport.MQTT.ConnectTimeoutDuration(),
		KeepAlive:      d.Transport.MQTT.KeepAliveDuration(),
		Logger:         d.Logger,
	}
}

// WSOptions builds WebSocket options with the configured tunables.
func (d Deps) WSOptions(url string) wsclient.Options {
	ws := d.Transport.WebSocket
	return wsclient.Options{
		URL:              url,
		Heartbeat:        ws.HeartbeatDuration(),
		HandshakeTimeout: ws.HandshakeTimeoutDuration(),
		ReceiveTimeout:   ws.ReceiveTimeoutDuration(),
		RetryInterval:    ws.RetryIntervalDuration(),
		Logger:           d.Logger,
	}
}

// ControlTimeout returns the command ack wait, defaulting to 5s.
func (d Deps) ControlTimeout() time.Duration {
	if t := d.Transport.ControlTimeoutDuration(); t > 0 {
		return t
	}
	return 5 * time.Second
}
