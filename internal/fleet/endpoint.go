package fleet

// Endpoint is one physical device attached to a Node.
//
// Endpoints are created by Registry.Seed and owned by their Node's endpoint
// list; the registry's serial index refers to that same value.
type Endpoint struct {
	serialNumber string
	hardwareType HardwareType
	nodeUUID     string
	version      int
	battery      int
	backlog      int
}

// EndpointSnapshot is an immutable view of an Endpoint.
type EndpointSnapshot struct {
	SerialNumber string       `json:"serial_number"`
	Battery      int          `json:"battery"`
	HardwareType HardwareType `json:"hardware_type"`
	NodeUUID     string       `json:"uuid"`
	Version      int          `json:"version"`
	Backlog      int          `json:"backlog"`
}

// NewEndpoint creates an endpoint with the seed defaults (version 1,
// battery 5000, empty backlog).
func NewEndpoint(serialNumber string, hw HardwareType, nodeUUID string) Endpoint {
	return Endpoint{
		serialNumber: serialNumber,
		hardwareType: hw,
		nodeUUID:     nodeUUID,
		version:      InitialEndpointVersion,
		battery:      InitialBattery,
	}
}

// SerialNumber returns the endpoint's unique key.
func (e *Endpoint) SerialNumber() string { return e.serialNumber }

// HardwareType returns the endpoint's hardware classification.
func (e *Endpoint) HardwareType() HardwareType { return e.hardwareType }

// NodeUUID returns the uuid of the owning node.
func (e *Endpoint) NodeUUID() string { return e.nodeUUID }

// Version returns the current firmware version.
func (e *Endpoint) Version() int { return e.version }

// Battery returns the current battery level.
func (e *Endpoint) Battery() int { return e.battery }

// Backlog returns the number of pending operations.
func (e *Endpoint) Backlog() int { return e.backlog }

// ApplyDFU moves the endpoint to candidate if it is idle and the candidate
// is newer. A busy endpoint (backlog > 0) or an older/equal candidate is a
// silent no-op. It reports whether the version changed.
func (e *Endpoint) ApplyDFU(candidate int) bool {
	if e.backlog > 0 {
		return false
	}
	if candidate <= e.version {
		return false
	}
	e.version = candidate
	return true
}

// Snapshot returns an immutable copy of the endpoint state.
func (e *Endpoint) Snapshot() EndpointSnapshot {
	return EndpointSnapshot{
		SerialNumber: e.serialNumber,
		Battery:      e.battery,
		HardwareType: e.hardwareType,
		NodeUUID:     e.nodeUUID,
		Version:      e.version,
		Backlog:      e.backlog,
	}
}
