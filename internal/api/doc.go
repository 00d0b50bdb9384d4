// Package api implements the HTTP REST API and WebSocket server for fleetsim.
//
// This package provides:
//   - REST endpoints for reading nodes, posting OTA artifacts and driving endpoint DFU
//   - Endpoint state overrides (battery, backlog, version) and firmware releases
//   - Journal listing and on-demand scenario runs
//   - WebSocket hub for live fleet events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
//	HTTP client ──► chi router ──► handlers ──► simulator.Service ──► fleet.Registry
//	                                                   │
//	WebSocket client ◄── Hub ◄── Broadcast ◄───────────┘
//
// Reading a node through GET /api/v1/nodes/{uuid} applies any artifact
// posted to its channel since the last read. Reading an endpoint through
// GET /api/v1/endpoints/{serial} runs DFU when the endpoint is eligible.
//
// # Graceful Degradation
//
// The server runs without MQTT, InfluxDB or the SQLite journal. Only the
// features backed by a missing component report it as unavailable.
package api
