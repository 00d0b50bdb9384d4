// Package simulator is the operational surface of the fleet: the calls an
// HTTP handler, MQTT message or scripted scenario makes against a Registry.
//
// # Architecture
//
//	  api ──┐
//	 mqtt ──┼──► Service ──► fleet.Registry
//	scenario┘       │
//	                ├──► Journal      (journal.Repository)
//	                ├──► Publisher    (MQTT retained state + events)
//	                ├──► Recorder     (InfluxDB points)
//	                └──► Broadcaster  (WebSocket hub)
//
// Reads have side effects, as on the simulated devices: GetNode
// settles any posted OTA artifact, and PollEndpoint runs the DFU check
// for the endpoint. Every state change becomes an Event delivered to the
// configured sinks. Sink failures are logged and never returned.
//
// # Thread Safety
//
// Service methods are safe for concurrent use. Composite operations
// (poll, endpoint setters) are serialized so a DFU decision always sees
// a consistent battery, backlog and version.
package simulator
