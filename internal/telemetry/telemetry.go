// Package telemetry records numeric and boolean event values as time series.
//
// A Sink taps the event bus. Every event whose data carries a numeric or
// boolean "value" becomes one point in the sensecraft_events measurement,
// tagged with the event name. Other events, and values such as
// "unavailable", are skipped. Booleans are stored as 1 or 0.
package telemetry

import (
	"encoding/json"
	"math"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/eventbus"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensecraft-core/internal/infrastructure/metrics"
)

// Measurement is the InfluxDB measurement events are written to.
const Measurement = "sensecraft_events"

// Writer queues points without blocking. *influxdb.Client implements it.
type Writer interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Tapper is the bus capability a Sink needs.
type Tapper interface {
	Tap(h eventbus.Handler) func()
}

// Sink converts events into points.
type Sink struct {
	w      Writer
	logger *logging.Logger
}

// New creates a sink writing to w.
func New(w Writer, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{w: w, logger: logger.With("component", "telemetry")}
}

// Attach taps bus and returns the func that detaches the sink.
func (s *Sink) Attach(bus Tapper) func() {
	s.logger.Info("telemetry attached", "measurement", Measurement)
	return bus.Tap(s.Handle)
}

// Handle writes ev if it carries a recordable value.
func (s *Sink) Handle(ev eventbus.Event) {
	v, ok := Value(ev.Data)
	if !ok {
		return
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	s.w.WritePoint(Measurement, map[string]string{"event": ev.Name}, map[string]any{"value": v}, ts)
	metrics.TelemetryPoints.Inc()
}

// Value extracts data["value"] as a float64. Booleans become 1 or 0 so
// every point under an event name shares one field type.
func Value(data map[string]any) (float64, bool) {
	raw, ok := data["value"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint8:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
