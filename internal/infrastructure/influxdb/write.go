package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues one point. It never blocks on the network and is
// dropped silently once the client is closed.
//
//	client.WritePoint("sensecraft_events",
//	    map[string]string{"event": "sensecraft_watcher_eui1_temperature"},
//	    map[string]any{"value": 21.5}, time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
