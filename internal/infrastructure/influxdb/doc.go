// Package influxdb writes time-series points to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// checks and a non-blocking, batched write path:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("influx write", "error", err) })
//	client.WritePoint("sensecraft_events", tags, fields, time.Now())
//
// Batch size and flush interval come from config (batch_size,
// flush_interval in seconds). Connection and health check errors are
// returned directly; write errors arrive through the callback.
package influxdb
