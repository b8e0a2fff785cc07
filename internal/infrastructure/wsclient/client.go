package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
)

// Defaults match the gimbal firmware.
const (
	DefaultPort             = 8090
	DefaultHeartbeat        = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReceiveTimeout   = 30 * time.Second
	DefaultRetryInterval    = 5 * time.Second

	transportLabel  = "websocket"
	maxMessageBytes = 8 << 20
)

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}

// Options configures a Client.
type Options struct {
	URL    string
	Header http.Header

	// Heartbeat is the ping interval.
	Heartbeat time.Duration
	// HandshakeTimeout bounds the dial and upgrade.
	HandshakeTimeout time.Duration
	// ReceiveTimeout is added to Heartbeat to form the read deadline.
	ReceiveTimeout time.Duration
	// RetryInterval is the fixed wait between Start attempts.
	RetryInterval time.Duration

	Logger Logger
}

// MessageHandler receives every text and binary frame in receipt order.
type MessageHandler func(messageType int, data []byte)

// URLForHost returns the device stream URL for host.
func URLForHost(host string) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(DefaultPort))
}

// link is one live connection and its goroutines.
type link struct {
	conn       *websocket.Conn
	stop       chan struct{}
	readerDone chan struct{}
	pingDone   chan struct{}
	closing    atomic.Bool
	once       sync.Once
}

// Client is a single-link WebSocket client.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The message handler runs on the receive goroutine.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	connectMu sync.Mutex // serialises Connect

	mu         sync.Mutex
	link       *link
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	handler    MessageHandler
	onState    func(connected bool)
	callbackMu sync.RWMutex
}

// New creates a client. It does not dial.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidOptions)
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}, nil
}

// SetMessageHandler sets the frame receiver. Last call wins.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.callbackMu.Lock()
	c.handler = h
	c.callbackMu.Unlock()
}

// SetOnConnectionChange sets the state callback. It is called with true once
// per successful connect and with false after each failed attempt or drop.
func (c *Client) SetOnConnectionChange(cb func(connected bool)) {
	c.callbackMu.Lock()
	c.onState = cb
	c.callbackMu.Unlock()
}

// IsConnected reports whether a link is live.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Connect dials once.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.IsConnected() {
		return ErrAlreadyConnected
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	metrics.TransportConnectAttempts.WithLabelValues(transportLabel, metrics.Result(err)).Inc()
	if err != nil {
		c.notify(false)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	conn.SetReadLimit(maxMessageBytes)
	l := &link{
		conn:       conn,
		stop:       make(chan struct{}),
		readerDone: make(chan struct{}),
		pingDone:   make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readWindow()))
	})

	c.mu.Lock()
	c.link = l
	c.mu.Unlock()

	c.opts.Logger.Info("websocket connected", "url", c.opts.URL)
	c.notify(true)

	go c.receive(l)
	go c.ping(l)
	return nil
}

// Start launches the retry loop and returns immediately. No-op while running.
func (c *Client) Start() {
	c.mu.Lock()
	if c.loopCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.loopCancel = cancel
	c.loopDone = done
	c.mu.Unlock()

	go c.retryLoop(ctx, done)
}

func (c *Client) retryLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := c.Connect(ctx)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyConnected):
			if l := c.currentLink(); l != nil {
				select {
				case <-l.readerDone:
				case <-ctx.Done():
					return
				}
			}
		case ctx.Err() != nil:
			return
		default:
			c.opts.Logger.Debug("websocket connect failed, retrying",
				"url", c.opts.URL,
				"retry_in", c.opts.RetryInterval,
				"error", err,
			)
		}

		timer := time.NewTimer(c.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Disconnect stops the retry loop and closes the link. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.loopCancel, c.loopDone
	c.loopCancel, c.loopDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	l := c.currentLink()
	if l == nil {
		return
	}

	l.closing.Store(true)
	// Unblock ReadMessage so the receive goroutine exits before the socket
	// closes. The reader may re-arm its deadline once, so repeat until it is gone.
	for waiting := true; waiting; {
		_ = l.conn.SetReadDeadline(time.Now())
		select {
		case <-l.readerDone:
			waiting = false
		case <-time.After(50 * time.Millisecond):
		}
	}

	c.shutdown(l, true)
}

func (c *Client) currentLink() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *Client) readWindow() time.Duration {
	return c.opts.Heartbeat + c.opts.ReceiveTimeout
}

func (c *Client) receive(l *link) {
	defer close(l.readerDone)

	for !l.closing.Load() {
		_ = l.conn.SetReadDeadline(time.Now().Add(c.readWindow()))
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			if !l.closing.Load() {
				c.opts.Logger.Warn("websocket receive ended", "url", c.opts.URL, "error", err)
			}
			break
		}
		if l.closing.Load() {
			break
		}
		metrics.MessagesReceived.WithLabelValues(transportLabel).Inc()
		c.deliver(mt, data)
	}

	if !l.closing.Load() {
		c.shutdown(l, false)
	}
}

func (c *Client) ping(l *link) {
	defer close(l.pingDone)

	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.HandshakeTimeout)
			if err := l.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.opts.Logger.Debug("websocket ping failed", "url", c.opts.URL, "error", err)
				l.conn.Close()
				return
			}
		}
	}
}

// shutdown detaches and closes l exactly once and reports false.
func (c *Client) shutdown(l *link, graceful bool) {
	l.once.Do(func() {
		c.mu.Lock()
		if c.link == l {
			c.link = nil
		}
		c.mu.Unlock()

		close(l.stop)
		<-l.pingDone

		if graceful {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		l.conn.Close()

		c.opts.Logger.Info("websocket disconnected", "url", c.opts.URL)
		c.notify(false)
	})
}

func (c *Client) deliver(mt int, data []byte) {
	c.callbackMu.RLock()
	h := c.handler
	c.callbackMu.RUnlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Warn("websocket handler panic recovered", "url", c.opts.URL, "panic", r)
		}
	}()
	h(mt, data)
}

func (c *Client) notify(connected bool) {
	c.callbackMu.RLock()
	cb := c.onState
	c.callbackMu.RUnlock()
	if cb != nil {
		cb(connected)
	}
}
