package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/sensecraft-core/internal/infrastructure/config"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// defaultSetupConcurrency bounds parallel Setup calls in SetupAll. A vision
// setup can block for its whole ready timeout.
const defaultSetupConcurrency = 4

// State is an entry's lifecycle state.
type State string

// Entry states.
const (
	StateLoaded     State = "loaded"
	StateSetupError State = "setup_error"
	StateNotLoaded  State = "not_loaded"
	StateDisabled   State = "disabled"
)

// Status describes one entry for the API.
type Status struct {
	ID        string       `json:"id"`
	Kind      session.Kind `json:"kind"`
	Title     string       `json:"title"`
	DeviceID  string       `json:"device_id,omitempty"`
	State     State        `json:"state"`
	Connected bool         `json:"connected"`
	Error     string       `json:"error,omitempty"`
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Builders defaults to DefaultBuilders.
	Builders map[session.Kind]Builder
	Logger   *logging.Logger
	// Concurrency bounds SetupAll; defaults to 4.
	Concurrency int
}

type loaded struct {
	entry Entry
	sess  session.Session
	err   error
}

// Manager owns the live session of every entry.
type Manager struct {
	repo        Repository
	deps        session.Deps
	builders    map[session.Kind]Builder
	logger      *logging.Logger
	concurrency int

	mu     sync.Mutex
	byID   map[string]*loaded
	locks  map[string]*sync.Mutex
	closed bool
}

// NewManager creates a manager. deps are passed to every session builder.
func NewManager(repo Repository, deps session.Deps, opts ManagerOptions) *Manager {
	if opts.Builders == nil {
		opts.Builders = DefaultBuilders()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultSetupConcurrency
	}
	return &Manager{
		repo:        repo,
		deps:        deps,
		builders:    opts.Builders,
		logger:      opts.Logger.With("component", "entry_manager"),
		concurrency: opts.Concurrency,
		byID:        make(map[string]*loaded),
		locks:       make(map[string]*sync.Mutex),
	}
}

// lock serialises lifecycle operations on one entry id.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Seed upserts entries declared in configuration.
func (m *Manager) Seed(ctx context.Context, seeds []config.EntryConfig) error {
	var errs []error
	for _, s := range seeds {
		data := []byte("{}")
		if s.Data != nil {
			var err error
			if data, err = json.Marshal(s.Data); err != nil {
				errs = append(errs, fmt.Errorf("seed %s: encoding data: %w", s.ID, err))
				continue
			}
		}
		e := Entry{ID: s.ID, Kind: session.Kind(s.Kind), Title: s.Title, Data: data}
		if err := m.repo.Upsert(ctx, &e); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}

// SetupAll sets up every enabled entry. One failing entry does not stop the
// others; the returned error joins every failure.
func (m *Manager) SetupAll(ctx context.Context) error {
	entries, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(m.concurrency)
	for _, e := range entries {
		if e.Disabled {
			continue
		}
		e := e
		g.Go(func() error {
			if err := m.Setup(ctx, e); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("entry %s: %w", e.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines collect into errs

	m.logger.Info("entries set up", "total", len(entries), "failed", len(errs))
	return errors.Join(errs...)
}

// Setup builds and sets up e's session, replacing any session already
// loaded for e.ID. A failed setup is recorded in Statuses and returned.
func (m *Manager) Setup(ctx context.Context, e Entry) error {
	unlock := m.lock(e.ID)
	defer unlock()
	return m.setup(ctx, e)
}

func (m *Manager) setup(ctx context.Context, e Entry) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return fmt.Errorf("entry %s: manager closed", e.ID)
	}

	log := m.logger.With("entry_id", e.ID, "kind", string(e.Kind))
	if err := m.unload(ctx, e.ID, false); err != nil {
		log.Warn("unloading previous session", "error", err)
	}

	build, ok := m.builders[e.Kind]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
		m.record(e, nil, err)
		return err
	}
	sess, err := build(e.data(), m.deps)
	if err != nil {
		m.record(e, nil, err)
		return err
	}

	if err := sess.Setup(ctx); err != nil {
		log.Warn("session setup failed", "error", err)
		if cerr := sess.Cleanup(ctx); cerr != nil {
			log.Warn("cleanup after failed setup", "error", cerr)
		}
		m.record(e, nil, err)
		return err
	}

	m.record(e, sess, nil)
	metrics.SessionsActive.WithLabelValues(string(e.Kind)).Inc()
	log.Info("session set up", "device_id", sess.DeviceID())
	return nil
}

func (m *Manager) record(e Entry, sess session.Session, err error) {
	m.mu.Lock()
	m.byID[e.ID] = &loaded{entry: e, sess: sess, err: err}
	m.mu.Unlock()
}

// Unload cleans up id's session and persists its config.
func (m *Manager) Unload(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	m.mu.Lock()
	_, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return ErrEntryNotFound
	}
	return m.unload(ctx, id, true)
}

func (m *Manager) unload(ctx context.Context, id string, persist bool) error {
	m.mu.Lock()
	l, ok := m.byID[id]
	delete(m.byID, id)
	m.mu.Unlock()
	if !ok || l.sess == nil {
		return nil
	}

	metrics.SessionsActive.WithLabelValues(string(l.entry.Kind)).Dec()

	var errs []error
	if persist {
		if data, err := l.sess.MarshalConfig(); err != nil {
			errs = append(errs, fmt.Errorf("marshalling config: %w", err))
		} else if err := m.repo.UpdateData(ctx, id, data); err != nil && !errors.Is(err, ErrEntryNotFound) {
			errs = append(errs, fmt.Errorf("persisting config: %w", err))
		}
	}
	if err := l.sess.Cleanup(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cleanup: %w", err))
	}
	return errors.Join(errs...)
}

// Reload re-reads id from the store and sets it up again. It is the update
// listener: call it after changing an entry's data.
func (m *Manager) Reload(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()
	return m.reload(ctx, id)
}

func (m *Manager) reload(ctx context.Context, id string) error {
	e, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Disabled {
		return m.unload(ctx, id, false)
	}
	return m.setup(ctx, *e)
}

// Update stores new data for id and applies it. A live session that
// implements session.Reconfigurer gets the first chance to apply the change
// in place; otherwise, or when that fails, the entry is reloaded.
func (m *Manager) Update(ctx context.Context, id string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: data is not valid JSON", ErrInvalidEntry)
	}
	if err := m.repo.UpdateData(ctx, id, data); err != nil {
		return err
	}

	unlock := m.lock(id)
	defer unlock()

	if m.reconfigure(ctx, id, data) {
		return nil
	}
	return m.reload(ctx, id)
}

func (m *Manager) reconfigure(ctx context.Context, id string, data json.RawMessage) bool {
	m.mu.Lock()
	l, ok := m.byID[id]
	m.mu.Unlock()
	if !ok || l.sess == nil || l.entry.Disabled {
		return false
	}
	r, ok := l.sess.(session.Reconfigurer)
	if !ok {
		return false
	}

	applied, err := r.Reconfigure(ctx, data)
	if err != nil {
		m.logger.Warn("in-place reconfigure failed, reloading", "entry_id", id, "error", err)
		return false
	}
	if !applied {
		return false
	}

	m.mu.Lock()
	if cur, ok := m.byID[id]; ok && cur == l {
		l.entry.Data = slices.Clone(data)
	}
	m.mu.Unlock()
	m.logger.Info("session reconfigured in place", "entry_id", id)
	return true
}

// Session returns id's live session.
func (m *Manager) Session(id string) (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byID[id]
	if !ok || l.sess == nil {
		return nil, false
	}
	return l.sess, true
}

// Command sends cmd to id's session.
func (m *Manager) Command(ctx context.Context, id string, cmd session.Command) (map[string]any, error) {
	sess, ok := m.Session(id)
	if !ok {
		return nil, ErrEntryNotFound
	}
	c, ok := sess.(session.Commander)
	if !ok {
		return nil, fmt.Errorf("%w: %s sessions take no commands", session.ErrUnknownCommand, sess.Kind())
	}
	return c.Command(ctx, cmd)
}

// Statuses describes every stored entry, ordered by id.
func (m *Manager) Statuses(ctx context.Context) ([]Status, error) {
	entries, err := m.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, m.statusLocked(e))
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Status describes one entry.
func (m *Manager) Status(ctx context.Context, id string) (Status, error) {
	e, err := m.repo.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(*e), nil
}

func (m *Manager) statusLocked(e Entry) Status {
	st := Status{ID: e.ID, Kind: e.Kind, Title: e.Title, State: StateNotLoaded}
	if e.Disabled {
		st.State = StateDisabled
	}
	l, ok := m.byID[e.ID]
	switch {
	case !ok:
	case l.err != nil:
		st.State = StateSetupError
		st.Error = l.err.Error()
	case l.sess != nil:
		st.State = StateLoaded
		st.DeviceID = l.sess.DeviceID()
		st.Connected = l.sess.Connected()
	}
	return st
}

// Close unloads every session, persisting each config. Later Setup calls fail.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		unlock := m.lock(id)
		if err := m.unload(ctx, id, true); err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", id, err))
		}
		unlock()
	}
	return errors.Join(errs...)
}
