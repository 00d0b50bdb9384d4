// Package fleet provides the in-memory fleet model for the simulator.
//
// The fleet is a small set of gateway Nodes, each owning a fixed list of
// Endpoints (sensors/devices). Two update mechanisms are modelled:
//
//   - OTA: firmware artifacts are posted to a node's channel and applied the
//     next time the node is read (settle on read).
//   - DFU: endpoint firmware is applied only when the endpoint has no backlog
//     and enough battery for its hardware type. Versions never go down.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                         Registry                             │
//	│                                                              │
//	│   nodes (arena, seed order)        serial index              │
//	│   ┌────────────┐                   ┌──────────────────────┐  │
//	│   │ Node       │◀──────────────────│ serial → (node, idx) │  │
//	│   │ • version  │                   └──────────────────────┘  │
//	│   │ • latest   │   latest endpoint version per hardware type │
//	│   │ • []Endpoint (owned)                                     │
//	│   └────────────┘                                             │
//	└──────────────────────────────────────────────────────────────┘
//
// Lookup failures (unknown uuid, serial or hardware type) are returned as
// sentinel errors. Business rejections (hardware mismatch, low battery,
// pending backlog) are never errors: they show up as unchanged versions or
// as the node's last error.
//
// # Usage
//
//	reg := fleet.NewRegistry()
//	reg.SetLogger(log)
//	reg.Seed()
//
//	reg.PostToChannel("OTA_MOXA_ABC33", "MOXA_34.swu")
//	node, _ := reg.GetNode("MOXA_ABC33") // version 34, settled on read
//
// # Thread Safety
//
// The Registry is safe for concurrent use; every operation holds a single
// mutex for its whole duration. Node and Endpoint values are not locked on
// their own and must only be mutated through the Registry once seeded.
package fleet
