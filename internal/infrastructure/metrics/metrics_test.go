package metrics

import (
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestResult(t *testing.T) {
	if got := Result(nil); got != ResultSuccess {
		t.Errorf("Result(nil) = %q, want %q", got, ResultSuccess)
	}
	if got := Result(errors.New("boom")); got != ResultFailure {
		t.Errorf("Result(err) = %q, want %q", got, ResultFailure)
	}
}

func TestTransportConnectAttempts(t *testing.T) {
	c := TransportConnectAttempts.WithLabelValues("test", ResultSuccess)
	read := func() float64 {
		var m dto.Metric
		if err := c.Write(&m); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		return m.GetCounter().GetValue()
	}

	before := read()
	c.Inc()
	if got := read(); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}
}
