package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind names a session type. The values match stored config entry kinds.
type Kind string

// Session kinds.
const (
	KindCloud       Kind = "cloud"
	KindJetson      Kind = "sensecraft"
	KindVision      Kind = "sscma"
	KindWatcherMQTT Kind = "watcher"
	KindWatcherHTTP Kind = "watcher_http"
	KindGimbal      Kind = "recamera"
)

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{KindCloud, KindJetson, KindVision, KindWatcherMQTT, KindWatcherHTTP, KindGimbal}
}

// Session is one configured device.
type Session interface {
	// DeviceID is the stable routing key used in event names.
	DeviceID() string
	Kind() Kind
	// Setup connects the transport. A transport failure is returned as an
	// error; sessions with a retry loop return nil and keep retrying.
	Setup(ctx context.Context) error
	// Cleanup releases the transport and ingress handlers. Idempotent.
	Cleanup(ctx context.Context) error
	Connected() bool
	// MarshalConfig serialises everything needed to rebuild the session.
	MarshalConfig() ([]byte, error)
}

// Command is a control action addressed to a session.
type Command struct {
	Action string `json:"action"`
	Value  any    `json:"value,omitempty"`
}

// Commander is implemented by sessions that accept control commands.
type Commander interface {
	Command(ctx context.Context, cmd Command) (map[string]any, error)
}

// Reconfigurer is implemented by sessions that can apply some config
// changes without a rebuild. Reconfigure reports false, with nothing
// changed, when data needs the session rebuilt.
type Reconfigurer interface {
	Reconfigure(ctx context.Context, data []byte) (bool, error)
}

// Errors shared by session kinds.
var (
	// ErrCommandFailed is returned when the device rejects or does not answer a command.
	ErrCommandFailed = errors.New("session: command failed")

	// ErrUnknownCommand is returned for an action the session does not support.
	ErrUnknownCommand = errors.New("session: unknown command")

	// ErrInvalidConfig is returned when a stored config cannot build a session.
	ErrInvalidConfig = errors.New("session: invalid config")

	// ErrNotConnected is returned for commands that need a live transport.
	ErrNotConnected = errors.New("session: not connected")
)

// Port is a TCP port that decodes from a JSON number or numeric string.
type Port int

// UnmarshalJSON accepts 1883 and "1883".
func (p *Port) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*p = Port(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	if s == "" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port %q: %w", s, err)
	}
	*p = Port(n)
	return nil
}

// Or returns p, or def when p is unset.
func (p Port) Or(def int) int {
	if p == 0 {
		return def
	}
	return int(p)
}

// DecodeConfig unmarshals a stored config into v, wrapping failures in ErrInvalidConfig.
func DecodeConfig(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Require takes name/value pairs and returns ErrInvalidConfig naming the
// first empty value.
//
//	Require("device_id", cfg.DeviceID, "device_host", cfg.DeviceHost)
func Require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, pairs[i])
		}
	}
	return nil
}

// BoolValue extracts a boolean command value.
func BoolValue(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("%w: want bool, got %T", ErrUnknownCommand, v)
	}
}

// FloatValue extracts a numeric command value.
func FloatValue(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("%w: want number, got %T", ErrUnknownCommand, v)
	}
}
