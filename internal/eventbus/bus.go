package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
)

// Domain prefixes every event name.
const Domain = "sensecraft"

// Event is a named fact published by a session.
type Event struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
	Time time.Time      `json:"time"`
}

// Publisher is the only bus capability a session needs.
type Publisher interface {
	Fire(name string, data map[string]any)
}

// Handler receives events on the dispatcher goroutine. It must not block.
type Handler func(Event)

// Bus is an unbounded FIFO event queue with one dispatcher.
type Bus struct {
	logger *slog.Logger

	queueMu sync.Mutex
	queue   []Event
	wake    chan struct{}

	subMu  sync.RWMutex
	nextID uint64
	byName map[string]map[uint64]Handler
	taps   map[uint64]Handler

	now func() time.Time
}

// New creates a bus. Events queue until Run is called.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger.With("component", "eventbus"),
		wake:   make(chan struct{}, 1),
		byName: make(map[string]map[uint64]Handler),
		taps:   make(map[uint64]Handler),
		now:    time.Now,
	}
}

// Name joins parts into an event name under Domain.
//
//	Name("recamera", "cam1", "321", "angle") == "sensecraft_recamera_cam1_321_angle"
func Name(parts ...string) string {
	return Domain + "_" + strings.Join(parts, "_")
}

// Fire queues an event and returns immediately. Safe from any goroutine.
func (b *Bus) Fire(name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	ev := Event{
		ID:   uuid.NewString(),
		Name: name,
		Data: data,
		Time: b.now(),
	}

	b.queueMu.Lock()
	b.queue = append(b.queue, ev)
	b.queueMu.Unlock()

	metrics.EventsPublished.Inc()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers h for events named exactly name.
// The returned func removes the subscription; calling it twice is harmless.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextID++
	id := b.nextID
	if b.byName[name] == nil {
		b.byName[name] = make(map[uint64]Handler)
	}
	b.byName[name][id] = h

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if subs, ok := b.byName[name]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.byName, name)
			}
		}
	}
}

// Tap registers h for every event.
func (b *Bus) Tap(h Handler) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextID++
	id := b.nextID
	b.taps[id] = h

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.taps, id)
	}
}

// Run dispatches queued events until ctx is cancelled.
// Events still queued at cancellation are delivered before Run returns.
func (b *Bus) Run(ctx context.Context) {
	for {
		b.drain()
		select {
		case <-ctx.Done():
			b.drain()
			return
		case <-b.wake:
		}
	}
}

// Pending reports the number of queued, undelivered events.
func (b *Bus) Pending() int {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return len(b.queue)
}

func (b *Bus) drain() {
	for {
		b.queueMu.Lock()
		batch := b.queue
		b.queue = nil
		b.queueMu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.subMu.RLock()
	handlers := make([]Handler, 0, len(b.byName[ev.Name])+len(b.taps))
	for _, h := range b.byName[ev.Name] {
		handlers = append(handlers, h)
	}
	for _, h := range b.taps {
		handlers = append(handlers, h)
	}
	b.subMu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, ev)
	}
}

func (b *Bus) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", ev.Name,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	h(ev)
}
