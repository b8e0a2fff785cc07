// Package cloud implements the SenseCAP cloud session.
//
// One session covers a whole organisation: it holds the fixed API key pair,
// subscribes to the organisation's wildcard sensor topic on the openstream
// broker, and republishes readings for the selected devices only. Topics have
// the shape
//
//	/device_sensor_data/<org>/<eui>/<channel>/<reserved>/<measurement>
//
// and anything with a different segment count is dropped.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"slices"
	"strconv"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensecraft-core/internal/session"
)

// BrokerPort is the openstream MQTT port.
const BrokerPort = 1883

// ActionRefresh re-reads the selected device list.
const ActionRefresh = "refresh"

// topicSegments is the split length of a sensor data topic.
const topicSegments = 7

// Config is the stored form of a cloud session.
type Config struct {
	Username           string   `json:"username"`
	Password           string   `json:"password"`
	Env                string   `json:"env"`
	AccessID           string   `json:"access_id"`
	AccessKey          string   `json:"access_key"`
	OrgID              ID       `json:"org_id"`
	SelectedDeviceEUIs []string `json:"selected_device_euis"`

	// Endpoints overrides the env table, for private deployments.
	Endpoints *Endpoints `json:"endpoints,omitempty"`
}

func (c Config) endpoints() (Endpoints, error) {
	if c.Endpoints != nil {
		return *c.Endpoints, nil
	}
	return EndpointsFor(c.Env)
}

func (c Config) hasAccess() bool {
	return c.AccessID != "" && c.AccessKey != "" && c.OrgID != ""
}

func (c Config) access() Access {
	return Access{AccessID: c.AccessID, AccessKey: c.AccessKey}
}

// Measurement is one selected device channel and measurement id.
type Measurement struct {
	EUI           string `json:"eui"`
	Name          string `json:"name"`
	UniformType   string `json:"uniform_type"`
	ChannelIndex  int    `json:"channel_index"`
	MeasurementID string `json:"measurement_id"`
}

// Type returns the measurement's display name and unit.
func (m Measurement) Type() (MeasurementType, bool) {
	return LookupMeasurement(m.MeasurementID)
}

// Session is one SenseCAP organisation.
type Session struct {
	deps   session.Deps
	logger *logging.Logger
	api    *APIClient
	ep     Endpoints

	opMu sync.Mutex

	mu           sync.Mutex
	cfg          Config
	selected     map[string]struct{}
	measurements []Measurement
	mq           session.MQTTTransport
	sched        *cron.Cron
	connected    bool
}

var (
	_ session.Session   = (*Session)(nil)
	_ session.Commander = (*Session)(nil)
)

// New creates a cloud session. A config without the key pair and
// organisation needs a username and plaintext password; Setup signs in
// with them.
func New(cfg Config, deps session.Deps) (*Session, error) {
	if !cfg.hasAccess() {
		if err := session.Require("username", cfg.Username, "password", cfg.Password); err != nil {
			return nil, fmt.Errorf("%w, or access_id, access_key and org_id", err)
		}
	}
	ep, err := cfg.endpoints()
	if err != nil {
		return nil, err
	}
	deps = deps.WithDefaults()
	cfg.SelectedDeviceEUIs = slices.Clone(cfg.SelectedDeviceEUIs)

	s := &Session{
		deps:   deps,
		logger: deps.Logger.With("component", "cloud", "org_id", string(cfg.OrgID)),
		api:    NewAPIClient(deps.HTTPClient, ep, deps.Logger),
		ep:     ep,
		cfg:    cfg,
	}
	s.selected = euiSet(cfg.SelectedDeviceEUIs)
	return s, nil
}

// FromConfig rebuilds a session from MarshalConfig output.
func FromConfig(data []byte, deps session.Deps) (*Session, error) {
	var cfg Config
	if err := session.DecodeConfig(data, &cfg); err != nil {
		return nil, err
	}
	return New(cfg, deps)
}

func euiSet(euis []string) map[string]struct{} {
	set := make(map[string]struct{}, len(euis))
	for _, eui := range euis {
		set[eui] = struct{}{}
	}
	return set
}

// DeviceID is the organisation id, empty until a username-only config signs in.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.cfg.OrgID)
}

func (s *Session) Kind() session.Kind { return session.KindCloud }

// MarshalConfig implements session.Session. The selection reflects the last refresh.
func (s *Session) MarshalConfig() ([]byte, error) {
	s.mu.Lock()
	cfg := s.cfg
	cfg.SelectedDeviceEUIs = slices.Clone(s.cfg.SelectedDeviceEUIs)
	s.mu.Unlock()
	return json.Marshal(cfg)
}

// Connected reports the broker connection state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Selected returns the selected device EUIs.
func (s *Session) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cfg.SelectedDeviceEUIs)
}

// Select replaces the selected device EUIs.
func (s *Session) Select(euis []string) {
	s.mu.Lock()
	s.cfg.SelectedDeviceEUIs = slices.Clone(euis)
	s.selected = euiSet(euis)
	s.mu.Unlock()
}

// Measurements returns the result of the last refresh.
func (s *Session) Measurements() []Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.measurements)
}

// Setup connects to the openstream broker and starts the refresh schedule.
func (s *Session) Setup(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stop()

	if err := s.login(ctx); err != nil {
		return err
	}

	var sched *cron.Cron
	if spec := s.deps.Cloud.RefreshSchedule; spec != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(spec, s.scheduledRefresh); err != nil {
			return fmt.Errorf("%w: refresh schedule %q: %w", session.ErrInvalidConfig, spec, err)
		}
	}

	org := string(s.cfg.OrgID)
	clientID := fmt.Sprintf("org-%s-%d", org, rand.Intn(1001))
	mq, err := s.deps.NewMQTT(s.deps.MQTTOptions(s.ep.OpenStream, BrokerPort, "org-"+org, s.cfg.AccessKey, clientID))
	if err != nil {
		return fmt.Errorf("creating mqtt client: %w", err)
	}
	mq.SetMessageHandler(s.handleMessage)
	mq.SetOnConnectionChange(func(up bool) {
		s.mu.Lock()
		s.connected = up
		s.mu.Unlock()
	})
	topic := mqtt.Topics{}.CloudSensorData(org)
	if err := mq.Subscribe(topic, 0); err != nil {
		return fmt.Errorf("subscribing %s: %w", topic, err)
	}

	s.mu.Lock()
	s.mq = mq
	s.sched = sched
	s.mu.Unlock()

	if err := mq.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", s.ep.OpenStream, err)
	}
	if sched != nil {
		sched.Start()
	}
	return nil
}

// login fills in the key pair and organisation from the account. The
// stored password becomes its md5 digest, which MarshalConfig writes back.
func (s *Session) login(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg.hasAccess() {
		return nil
	}

	auth, err := Authenticate(ctx, s.api, cfg.Username, cfg.Password, cfg.Env)
	if err != nil {
		return fmt.Errorf("signing in as %s: %w", cfg.Username, err)
	}

	s.mu.Lock()
	s.cfg.Password = auth.Password
	s.cfg.AccessID = auth.AccessID
	s.cfg.AccessKey = auth.AccessKey
	s.cfg.OrgID = auth.OrgID
	s.mu.Unlock()
	s.logger = s.deps.Logger.With("component", "cloud", "org_id", string(auth.OrgID))
	s.logger.Info("signed in to SenseCAP", "username", cfg.Username)
	return nil
}

// Cleanup disconnects and stops the refresh schedule. Idempotent.
func (s *Session) Cleanup(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if done := s.stop(); done != nil {
		select {
		case <-done.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// stop releases the transport and returns the schedule's drain context, if any.
func (s *Session) stop() context.Context {
	s.mu.Lock()
	mq, sched := s.mq, s.sched
	s.mq, s.sched = nil, nil
	s.connected = false
	s.mu.Unlock()

	if mq != nil {
		mq.Disconnect()
	}
	if sched != nil {
		return sched.Stop()
	}
	return nil
}

func (s *Session) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.HTTPClient.Timeout+s.deps.ControlTimeout())
	defer cancel()
	if _, err := s.SelectedDeviceInfo(ctx); err != nil {
		s.logger.Warn("scheduled device refresh failed", "error", err)
	}
}

// Command implements session.Commander.
func (s *Session) Command(ctx context.Context, cmd session.Command) (map[string]any, error) {
	if cmd.Action != ActionRefresh {
		return nil, fmt.Errorf("%w: %q", session.ErrUnknownCommand, cmd.Action)
	}
	list, err := s.SelectedDeviceInfo(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"measurements": list}, nil
}

// =============================================================================
// Devices
// =============================================================================

// ListDevices lists every device in the organisation.
func (s *Session) ListDevices(ctx context.Context) ([]Device, error) {
	return s.api.ListDevices(ctx, s.cfg.access())
}

// SelectedDeviceInfo prunes the selection to devices that still exist and
// returns one Measurement per selected device, channel and measurement id.
func (s *Session) SelectedDeviceInfo(ctx context.Context) ([]Measurement, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	known := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		known[d.EUI] = struct{}{}
	}

	pruned := make([]string, 0)
	for _, eui := range s.Selected() {
		if _, ok := known[eui]; ok {
			pruned = append(pruned, eui)
		}
	}

	var channels []DeviceChannels
	if len(pruned) > 0 {
		channels, err = s.api.ListDeviceChannels(ctx, s.cfg.access(), pruned)
		if err != nil {
			return nil, fmt.Errorf("listing device channels: %w", err)
		}
	}

	list := flatten(channels)

	s.mu.Lock()
	s.cfg.SelectedDeviceEUIs = pruned
	s.selected = euiSet(pruned)
	s.measurements = list
	s.mu.Unlock()

	s.logger.Debug("device list refreshed", "devices", len(pruned), "measurements", len(list))
	return slices.Clone(list), nil
}

func flatten(devices []DeviceChannels) []Measurement {
	var out []Measurement
	for _, d := range devices {
		for _, ch := range d.Channels {
			idx, err := strconv.Atoi(string(ch.Index))
			if err != nil {
				continue
			}
			for _, id := range ch.MeasurementIDs {
				out = append(out, Measurement{
					EUI:           d.EUI,
					Name:          d.Name,
					UniformType:   string(d.UniformType),
					ChannelIndex:  idx,
					MeasurementID: string(id),
				})
			}
		}
	}
	return out
}

// =============================================================================
// Messages
// =============================================================================

func (s *Session) handleMessage(topic string, payload []byte) error {
	var msg struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding sensor data: %w", err)
	}
	if msg.Value == nil {
		return nil
	}

	parts := mqtt.Segments(topic)
	if len(parts) != topicSegments {
		return nil
	}
	eui, channel, measurement := parts[3], parts[4], parts[6]

	s.mu.Lock()
	_, ok := s.selected[eui]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.deps.Bus.Fire(eventbus.Name("cloud", eui, channel, measurement), map[string]any{"value": msg.Value})
	return nil
}
