package fleet

import (
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// endpointRef locates an endpoint inside the node arena.
type endpointRef struct {
	node  int
	index int
}

// Settlement is the result of reading a node: its state before and after
// reconciliation and what the reconciliation did.
type Settlement struct {
	Before   NodeSnapshot
	After    NodeSnapshot
	Outcome  OTAOutcome
	Artifact string

	// NewArtifact is set when something was posted since the previous read.
	NewArtifact bool
}

// Changed reports whether reconciliation altered the node's version or last error.
func (s Settlement) Changed() bool {
	return s.Before.Version != s.After.Version || s.Before.LastError != s.After.LastError
}

// Reportable reports whether the read consumed a new artifact or altered
// the node. A matching artifact that leaves the version as it was is still
// reportable; a repeat read of the same artifact is not.
func (s Settlement) Reportable() bool {
	return (s.NewArtifact && s.Outcome != OTANoArtifact) || s.Changed()
}

// Registry owns every Node in the fleet and indexes endpoints by serial number.
//
// Nodes live in an arena kept in seed order. Endpoints are owned by their
// node; the serial index only stores arena positions, so there is never a
// second copy of an endpoint.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.Mutex
	nodes    []*Node
	byUUID   map[string]int
	bySerial map[string]endpointRef
	latest   map[HardwareType]int
	logger   Logger
}

// NewRegistry creates an empty registry. Call Seed to populate it.
func NewRegistry() *Registry {
	return &Registry{
		byUUID:   make(map[string]int),
		bySerial: make(map[string]endpointRef),
		latest:   defaultLatestVersions(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

func defaultLatestVersions() map[HardwareType]int {
	latest := make(map[HardwareType]int, len(hardwareTypes))
	for _, hw := range hardwareTypes {
		latest[hw] = InitialEndpointVersion
	}
	return latest
}

// Seed clears all state and recreates the fixed topology: every seed node
// at InitialNodeVersion with one endpoint per hardware type. Latest endpoint
// versions are reset as well. Safe to call repeatedly.
func (r *Registry) Seed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make([]*Node, 0, len(seedNodes))
	r.byUUID = make(map[string]int, len(seedNodes))
	r.bySerial = make(map[string]endpointRef, len(seedNodes)*len(hardwareTypes))
	r.latest = defaultLatestVersions()

	for _, uuid := range seedNodes {
		node := NewNode(uuid, InitialNodeVersion)
		pos := len(r.nodes)
		r.nodes = append(r.nodes, node)
		r.byUUID[uuid] = pos

		for _, hw := range hardwareTypes {
			idx := node.AddEndpoint(hw)
			r.bySerial[node.endpoint(idx).SerialNumber()] = endpointRef{node: pos, index: idx}
		}
	}

	r.logger.Info("fleet seeded", "nodes", len(r.nodes), "endpoints", len(r.bySerial))
}

// node returns the node for uuid. Caller must hold r.mu.
func (r *Registry) node(uuid string) (*Node, error) {
	pos, ok := r.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, uuid)
	}
	return r.nodes[pos], nil
}

// endpoint returns the endpoint for serial. Caller must hold r.mu.
func (r *Registry) endpoint(serial string) (*Endpoint, error) {
	ref, ok := r.bySerial[serial]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEndpointNotFound, serial)
	}
	return r.nodes[ref.node].endpoint(ref.index), nil
}

// Settle looks up a node and runs its OTA reconciliation. Reading a node is
// what applies a posted artifact, so every read path goes through here.
//
// Returns ErrNodeNotFound if the uuid is not registered.
func (r *Registry) Settle(uuid string) (Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, err := r.node(uuid)
	if err != nil {
		return Settlement{}, err
	}

	before := node.Snapshot()
	outcome := node.ReconcileOTA()
	after := node.Snapshot()

	s := Settlement{Before: before, After: after, Outcome: outcome, NewArtifact: node.takeNewPosts()}
	s.Artifact, _ = node.LatestArtifact()
	if s.Reportable() {
		r.logger.Debug("node settled",
			"uuid", uuid,
			"outcome", outcome,
			"version", after.Version,
			"last_error", after.LastError,
		)
	}
	return s, nil
}

// GetNode returns the settled state of a node.
// Returns ErrNodeNotFound if the uuid is not registered.
func (r *Registry) GetNode(uuid string) (NodeSnapshot, error) {
	s, err := r.Settle(uuid)
	if err != nil {
		return NodeSnapshot{}, err
	}
	return s.After, nil
}

// Nodes returns snapshots of all nodes in seed order without reconciling them.
func (r *Registry) Nodes() []NodeSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]NodeSnapshot, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.Snapshot()
	}
	return out
}

// NodeCount returns the number of registered nodes.
func (r *Registry) NodeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// EndpointCount returns the number of indexed endpoints.
func (r *Registry) EndpointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySerial)
}

// GetEndpoint returns the current state of an endpoint. It does not apply DFU.
// Returns ErrEndpointNotFound if the serial is not registered.
func (r *Registry) GetEndpoint(serial string) (EndpointSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, err := r.endpoint(serial)
	if err != nil {
		return EndpointSnapshot{}, err
	}
	return ep.Snapshot(), nil
}

// PostToChannel routes an artifact to the node listening on channel.
// An unknown channel is reported as StatusBadRequest and changes nothing.
func (r *Registry) PostToChannel(channel, artifact string) StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.nodes {
		if n.OTAChannel() == channel {
			status := n.ReceiveArtifact(artifact)
			r.logger.Debug("artifact posted", "channel", channel, "artifact", artifact, "uuid", n.UUID())
			return status
		}
	}

	r.logger.Warn("artifact posted to unknown channel", "channel", channel, "artifact", artifact)
	return StatusBadRequest
}

// DFUThreshold returns the minimum battery required for DFU on hw.
// Returns ErrUnsupportedHardware if the type is not in the threshold table.
func (r *Registry) DFUThreshold(hw HardwareType) (int, error) {
	return BatteryThreshold(hw)
}

// LatestEndpointVersion returns the newest known firmware version for hw.
// Returns ErrUnsupportedHardware for unknown types.
func (r *Registry) LatestEndpointVersion(hw HardwareType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.latest[hw]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedHardware, string(hw))
	}
	return v, nil
}

// SetLatestEndpointVersion publishes a new firmware version for hw.
// Endpoints pick it up on their next DFU evaluation.
// Returns ErrUnsupportedHardware for unknown types.
func (r *Registry) SetLatestEndpointVersion(hw HardwareType, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.latest[hw]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedHardware, string(hw))
	}
	r.latest[hw] = version
	r.logger.Info("latest endpoint firmware set", "hardware_type", hw, "version", version)
	return nil
}

// ApplyDFU offers candidate to the endpoint. The endpoint's own rule decides
// (idle and newer only); the registry does not check battery here.
// Returns the resulting state, or ErrEndpointNotFound.
func (r *Registry) ApplyDFU(serial string, candidate int) (EndpointSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, err := r.endpoint(serial)
	if err != nil {
		return EndpointSnapshot{}, err
	}
	if ep.ApplyDFU(candidate) {
		r.logger.Debug("endpoint firmware updated", "serial", serial, "version", ep.Version())
	}
	return ep.Snapshot(), nil
}

// SetEndpointBattery overwrites an endpoint's battery level. No range check.
func (r *Registry) SetEndpointBattery(serial string, battery int) error {
	return r.mutateEndpoint(serial, func(ep *Endpoint) { ep.battery = battery })
}

// SetEndpointBacklog overwrites an endpoint's backlog. No range check.
func (r *Registry) SetEndpointBacklog(serial string, backlog int) error {
	return r.mutateEndpoint(serial, func(ep *Endpoint) { ep.backlog = backlog })
}

// SetEndpointVersion overwrites an endpoint's firmware version, bypassing DFU rules.
func (r *Registry) SetEndpointVersion(serial string, version int) error {
	return r.mutateEndpoint(serial, func(ep *Endpoint) { ep.version = version })
}

func (r *Registry) mutateEndpoint(serial string, fn func(*Endpoint)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, err := r.endpoint(serial)
	if err != nil {
		return err
	}
	fn(ep)
	return nil
}

// CheckEndpointVersion compares an endpoint's version with expected:
// StatusOK on match, StatusBadRequest otherwise. Pure read.
// Returns ErrEndpointNotFound if the serial is not registered.
func (r *Registry) CheckEndpointVersion(serial string, expected int) (StatusCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, err := r.endpoint(serial)
	if err != nil {
		return 0, err
	}
	if ep.Version() == expected {
		return StatusOK, nil
	}
	return StatusBadRequest, nil
}
