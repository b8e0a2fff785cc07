// Package sessiontest provides in-memory collaborators for session tests.
package sessiontest

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/config"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/wsclient"
	"github.com/nerrad567/sensecraft-core/internal/ingress"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// =============================================================================
// Bus
// =============================================================================

// Bus records fired events synchronously.
type Bus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

// Fire implements eventbus.Publisher.
func (b *Bus) Fire(name string, data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventbus.Event{Name: name, Data: data, Time: time.Now()})
}

// Events returns a copy of everything fired so far.
func (b *Bus) Events() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]eventbus.Event(nil), b.events...)
}

// Named returns events with the given name, in order.
func (b *Bus) Named(name string) []eventbus.Event {
	var out []eventbus.Event
	for _, ev := range b.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the latest event with name and whether one exists.
func (b *Bus) Last(name string) (eventbus.Event, bool) {
	evs := b.Named(name)
	if len(evs) == 0 {
		return eventbus.Event{}, false
	}
	return evs[len(evs)-1], true
}

// Reset drops recorded events.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// =============================================================================
// MQTT
// =============================================================================

// MQTT is a scriptable in-memory MQTT transport.
type MQTT struct {
	Opts       mqtt.Options
	ConnectErr error

	mu           sync.Mutex
	connected    bool
	disconnected bool
	subs         map[string]byte
	published    []Published
	handler      mqtt.MessageHandler
	onChange     func(bool)
	onPublish    func(Published)
}

// Published is one recorded publish.
type Published struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// NewMQTT creates a fake with no subscriptions.
func NewMQTT(opts mqtt.Options) *MQTT {
	return &MQTT{Opts: opts, subs: make(map[string]byte)}
}

func (m *MQTT) Connect(context.Context) error {
	m.mu.Lock()
	if m.ConnectErr != nil {
		m.mu.Unlock()
		return m.ConnectErr
	}
	m.connected = true
	cb := m.onChange
	m.mu.Unlock()
	if cb != nil {
		cb(true)
	}
	return nil
}

func (m *MQTT) Subscribe(topic string, qos byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = qos
	return nil
}

func (m *MQTT) Publish(topic string, payload []byte, qos byte, _ bool) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	p := Published{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos}
	m.published = append(m.published, p)
	hook := m.onPublish
	m.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (m *MQTT) SetMessageHandler(h mqtt.MessageHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *MQTT) SetOnConnectionChange(cb func(bool)) {
	m.mu.Lock()
	m.onChange = cb
	m.mu.Unlock()
}

func (m *MQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MQTT) Disconnect() {
	m.mu.Lock()
	was := m.connected
	m.connected = false
	m.disconnected = true
	cb := m.onChange
	m.mu.Unlock()
	if was && cb != nil {
		cb(false)
	}
}

// OnPublish installs a hook run after each publish, outside the lock.
func (m *MQTT) OnPublish(hook func(Published)) {
	m.mu.Lock()
	m.onPublish = hook
	m.mu.Unlock()
}

// Deliver feeds an inbound message to the handler.
func (m *MQTT) Deliver(topic string, payload []byte) error {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(topic, payload)
}

// Subscribed reports whether topic was subscribed.
func (m *MQTT) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[topic]
	return ok
}

// Published returns a copy of all publishes.
func (m *MQTT) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.published...)
}

// Disconnected reports whether Disconnect was called.
func (m *MQTT) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

// =============================================================================
// WebSocket
// =============================================================================

// WS is an in-memory WebSocket transport.
type WS struct {
	Opts wsclient.Options

	mu           sync.Mutex
	started      bool
	live         bool
	disconnected bool
	handler      wsclient.MessageHandler
	onChange     func(bool)
}

func (w *WS) Start() {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
}

func (w *WS) Connect(context.Context) error {
	w.SetLive(true)
	return nil
}

func (w *WS) Disconnect() {
	w.mu.Lock()
	w.disconnected = true
	w.started = false
	w.mu.Unlock()
	w.SetLive(false)
}

func (w *WS) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.live
}

func (w *WS) SetMessageHandler(h wsclient.MessageHandler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

func (w *WS) SetOnConnectionChange(cb func(bool)) {
	w.mu.Lock()
	w.onChange = cb
	w.mu.Unlock()
}

// SetLive simulates a link change and fires the state callback on transitions.
func (w *WS) SetLive(v bool) {
	w.mu.Lock()
	changed := w.live != v
	w.live = v
	cb := w.onChange
	w.mu.Unlock()
	if changed && cb != nil {
		cb(v)
	}
}

// Deliver feeds a frame to the handler.
func (w *WS) Deliver(mt int, data []byte) {
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h != nil {
		h(mt, data)
	}
}

// Started reports whether Start was called and not undone by Disconnect.
func (w *WS) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Disconnected reports whether Disconnect was called.
func (w *WS) Disconnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disconnected
}

// =============================================================================
// Factories and Deps
// =============================================================================

// Transports records every transport a session builds.
type Transports struct {
	mu   sync.Mutex
	MQTT []*MQTT
	WS   []*WS

	// MQTTConnectErr is applied to each new MQTT fake.
	MQTTConnectErr error

	// OnMQTT runs for each new MQTT fake before it is returned.
	OnMQTT func(*MQTT)
}

// NewMQTT is a session.MQTTFactory.
func (t *Transports) NewMQTT(opts mqtt.Options) (session.MQTTTransport, error) {
	m := NewMQTT(opts)
	t.mu.Lock()
	m.ConnectErr = t.MQTTConnectErr
	t.MQTT = append(t.MQTT, m)
	hook := t.OnMQTT
	t.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return m, nil
}

// NewWS is a session.WSFactory.
func (t *Transports) NewWS(opts wsclient.Options) (session.WSTransport, error) {
	w := &WS{Opts: opts}
	t.mu.Lock()
	t.WS = append(t.WS, w)
	t.mu.Unlock()
	return w, nil
}

// LastMQTT returns the most recent MQTT fake or nil.
func (t *Transports) LastMQTT() *MQTT {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.MQTT) == 0 {
		return nil
	}
	return t.MQTT[len(t.MQTT)-1]
}

// LastWS returns the most recent WS fake or nil.
func (t *Transports) LastWS() *WS {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.WS) == 0 {
		return nil
	}
	return t.WS[len(t.WS)-1]
}

// AllWS returns every WS fake built.
func (t *Transports) AllWS() []*WS {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*WS(nil), t.WS...)
}

// Env bundles fakes for a session under test.
type Env struct {
	Bus        *Bus
	Ingress    *ingress.Server
	Transports *Transports
	Deps       session.Deps
}

// NewEnv returns Deps wired to fakes and an unstarted ingress server.
func NewEnv(imageDir string) *Env {
	bus := &Bus{}
	tr := &Transports{}
	srv := ingress.NewServer(ingress.Options{Logger: logging.Nop()})

	deps := session.Deps{
		Bus:     bus,
		Logger:  logging.Nop(),
		Ingress: srv,
		NewMQTT: tr.NewMQTT,
		NewWS:   tr.NewWS,
		Transport: config.TransportConfig{
			MQTT:           config.MQTTTransportConfig{ConnectTimeout: 1, KeepAlive: 120},
			WebSocket:      config.WebSocketTransportConfig{Heartbeat: 30, HandshakeTimeout: 1, ReceiveTimeout: 30, RetryInterval: 5},
			ControlTimeout: 1,
		},
		Watcher: config.WatcherConfig{ImageDir: imageDir, MaxImages: 10000, RetentionDays: 30},
	}.WithDefaults()

	return &Env{Bus: bus, Ingress: srv, Transports: tr, Deps: deps}
}
