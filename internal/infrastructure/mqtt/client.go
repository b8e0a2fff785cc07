package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
)

const transportLabel = "mqtt"

// Client is a per-device MQTT connection.
//
// Subscriptions may be added before or after Connect; they are tracked and
// re-applied on every (re)connect. All inbound messages go to the single
// handler set with SetMessageHandler.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - The message handler runs on paho's delivery goroutine.
type Client struct {
	client pahomqtt.Client
	opts   Options

	subscriptions map[string]byte
	subMu         sync.RWMutex

	connected bool
	closed    bool
	// ready is closed by handleConnect when the Connect in flight is usable.
	ready  chan struct{}
	connMu sync.RWMutex

	handler      MessageHandler
	onConnChange func(connected bool)
	callbackMu   sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// MessageHandler is the callback signature for received messages.
//
// The returned error is logged and does not affect acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// New creates a client without connecting.
func New(opts Options) (*Client, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		opts:          opts,
		subscriptions: make(map[string]byte),
	}

	po := buildClientOptions(opts)
	po.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	po.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.opts.Logger.Debug("mqtt reconnecting", "broker", c.opts.brokerURL())
	})
	po.SetDefaultPublishHandler(c.deliver)

	c.client = pahomqtt.NewClient(po)
	return c, nil
}

// Connect opens the connection and waits until it is usable: CONNACK
// received and every tracked subscription acknowledged.
//
// It returns within Options.ConnectTimeout (or when ctx ends). A refused
// connection or non-zero return code yields ErrConnectionFailed; no answer
// in time yields ErrTimeout (which also matches ErrConnectionFailed).
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return ErrClosed
	}
	ready := make(chan struct{})
	c.ready = ready
	c.connMu.Unlock()

	token := c.client.Connect()

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-token.Done():
		if tErr := token.Error(); tErr != nil {
			err = fmt.Errorf("%w: %w", ErrConnectionFailed, tErr)
		}
	case <-timer.C:
		err = fmt.Errorf("%w: %w: no CONNACK after %v", ErrConnectionFailed, ErrTimeout, c.opts.ConnectTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	if err == nil {
		// Subscriptions are restored on paho's OnConnect goroutine.
		select {
		case <-ready:
		case <-timer.C:
			err = fmt.Errorf("%w: %w: subscriptions not restored after %v", ErrConnectionFailed, ErrTimeout, c.opts.ConnectTimeout)
		case <-ctx.Done():
			err = fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		}
	}

	metrics.TransportConnectAttempts.WithLabelValues(transportLabel, metrics.Result(err)).Inc()

	if err != nil {
		c.connMu.Lock()
		if c.ready == ready {
			c.ready = nil
		}
		c.connMu.Unlock()
		// Stop any attempt still in flight so it cannot connect later.
		c.client.Disconnect(0)
		c.setConnected(false)
		c.opts.Logger.Warn("mqtt connect failed", "broker", c.opts.brokerURL(), "error", err)
		return err
	}
	return nil
}

// handleConnect is called by paho, on its own goroutine, after every
// successful (re)connect. Connected is reported only once the broker has
// acknowledged the tracked subscriptions.
func (c *Client) handleConnect() {
	if c.isClosed() {
		c.client.Disconnect(0)
		return
	}

	c.restoreSubscriptions()
	c.setConnected(true)

	c.connMu.Lock()
	ready := c.ready
	c.ready = nil
	c.connMu.Unlock()
	if ready != nil {
		close(ready)
	}
}

// handleDisconnect is called by paho when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.opts.Logger.Warn("mqtt connection lost", "broker", c.opts.brokerURL(), "error", err)
	c.setConnected(false)
}

// setConnected records state and notifies only on transitions. A closed
// client never reports connected again.
func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	if v && c.closed {
		c.connMu.Unlock()
		return
	}
	changed := c.connected != v
	c.connected = v
	c.connMu.Unlock()

	if !changed {
		return
	}

	c.callbackMu.RLock()
	cb := c.onConnChange
	c.callbackMu.RUnlock()
	if cb != nil {
		cb(v)
	}
}

func (c *Client) isClosed() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.closed
}

// restoreSubscriptions applies all tracked topics after (re)connect and
// waits for each acknowledgment.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make(map[string]byte, len(c.subscriptions))
	for topic, qos := range c.subscriptions {
		subs[topic] = qos
	}
	c.subMu.RUnlock()

	for topic, qos := range subs {
		token := c.client.Subscribe(topic, qos, c.deliver)
		if !token.WaitTimeout(defaultPublishTimeout) {
			c.opts.Logger.Warn("mqtt resubscribe timed out", "topic", topic)
			continue
		}
		if err := token.Error(); err != nil {
			c.opts.Logger.Warn("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// Disconnect closes the connection for good. Safe to call before Connect
// and more than once.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return
	}
	c.closed = true
	c.connMu.Unlock()

	// Also stops paho's reconnect loop when the link is down.
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
}

// HealthCheck reports ErrNotConnected when the link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnectionOpen()
}

// SetMessageHandler sets the single inbound handler. Last call wins.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.callbackMu.Lock()
	c.handler = h
	c.callbackMu.Unlock()
}

// SetOnConnectionChange sets a callback invoked on every connected/disconnected transition.
func (c *Client) SetOnConnectionChange(cb func(connected bool)) {
	c.callbackMu.Lock()
	c.onConnChange = cb
	c.callbackMu.Unlock()
}

// deliver hands a message to the handler with panic recovery.
func (c *Client) deliver(_ pahomqtt.Client, msg pahomqtt.Message) {
	metrics.MessagesReceived.WithLabelValues(transportLabel).Inc()

	c.callbackMu.RLock()
	h := c.handler
	c.callbackMu.RUnlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Error("MQTT handler panic recovered",
				"topic", msg.Topic(),
				"panic", r,
			)
		}
	}()

	if err := h(msg.Topic(), msg.Payload()); err != nil {
		c.opts.Logger.Warn("MQTT handler returned error",
			"topic", msg.Topic(),
			"error", err,
		)
	}
}
