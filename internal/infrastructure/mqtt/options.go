package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// DefaultConnectTimeout is how long Connect waits for CONNACK.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultKeepAlive matches the device firmware's expectation.
	DefaultKeepAlive = 120 * time.Second

	// DefaultPort is the plain MQTT port.
	DefaultPort = 1883

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxReconnectInterval caps paho's reconnect backoff after a drop.
	maxReconnectInterval = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options configures one device-facing MQTT client.
type Options struct {
	Broker   string
	Port     int
	Username string
	Password string
	ClientID string
	TLS      bool

	ConnectTimeout time.Duration
	KeepAlive      time.Duration

	// Logger receives handler errors and connection transitions. Optional.
	Logger Logger
}

func (o *Options) applyDefaults() {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
}

func (o Options) validate() error {
	if o.Broker == "" {
		return fmt.Errorf("%w: broker is required", ErrInvalidOptions)
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidOptions)
	}
	return nil
}

// brokerURL returns tcp:// or ssl:// depending on TLS.
func (o Options) brokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Broker, o.Port)
}

// buildClientOptions creates paho options.
//
// The initial connect is not retried by paho (Connect reports failure to the
// session instead); once connected, paho reconnects on its own after a drop.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.brokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetOrderMatters(true)

	if o.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
