// Package influxdb records fleet update telemetry in InfluxDB v2.
//
// Two measurements are written:
//
//	node_ota      tags node_uuid, outcome                 fields version
//	endpoint_dfu  tags serial, hardware_type, outcome     fields version, battery, backlog
//
// Writes are non-blocking and batched per the influxdb config section
// (batch_size, flush_interval). Asynchronous failures reach the SetOnError
// callback wrapped in ErrWriteFailed.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteNodeOTA("MOXA_ABC33", "applied", 34)
package influxdb
