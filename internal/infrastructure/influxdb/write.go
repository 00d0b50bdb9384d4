package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementNodeOTA     = "node_ota"
	MeasurementEndpointDFU = "endpoint_dfu"
)

// NodeOTAPoint builds a node_ota point: one per settled OTA outcome.
func NodeOTAPoint(nodeUUID, outcome string, version int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementNodeOTA,
		map[string]string{
			"node_uuid": nodeUUID,
			"outcome":   outcome,
		},
		map[string]any{
			"version": version,
		},
		ts,
	)
}

// EndpointDFUPoint builds an endpoint_dfu point: one per DFU decision.
func EndpointDFUPoint(serial, hardwareType, outcome string, version, battery, backlog int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEndpointDFU,
		map[string]string{
			"serial":        serial,
			"hardware_type": hardwareType,
			"outcome":       outcome,
		},
		map[string]any{
			"version": version,
			"battery": battery,
			"backlog": backlog,
		},
		ts,
	)
}

// WriteNodeOTA queues a node_ota point stamped now.
func (c *Client) WriteNodeOTA(nodeUUID, outcome string, version int) {
	c.writePoint(NodeOTAPoint(nodeUUID, outcome, version, time.Now()))
}

// WriteEndpointDFU queues an endpoint_dfu point stamped now.
func (c *Client) WriteEndpointDFU(serial, hardwareType, outcome string, version, battery, backlog int) {
	c.writePoint(EndpointDFUPoint(serial, hardwareType, outcome, version, battery, backlog, time.Now()))
}

// WritePoint queues an arbitrary point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
