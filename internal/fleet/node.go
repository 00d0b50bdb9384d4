package fleet

// OTAOutcome describes what a reconciliation pass did.
type OTAOutcome string

// Reconciliation outcomes.
const (
	// OTANoArtifact means nothing has been posted to the node's channel.
	OTANoArtifact OTAOutcome = "no_artifact"

	// OTAApplied means the latest artifact matched the node family and its
	// version is now the node version.
	OTAApplied OTAOutcome = "applied"

	// OTARejected means the latest artifact was refused and LastError is set.
	OTARejected OTAOutcome = "rejected"
)

// Diagnostic prefixes written to Node.LastError.
const (
	badFirmwarePrefix = "bad_firmware:"
	badVersionPrefix  = "bad_version:"
)

// Node is a gateway in the fleet. It owns its endpoints and decides whether
// an OTA artifact posted to its channel applies.
//
// Only the most recent artifact is kept: reconciliation never looks past
// it, so superseded artifacts are counted but not retained. The full post
// history belongs to the journal.
type Node struct {
	uuid       string
	version    int
	otaChannel string
	endpoints  []Endpoint
	lastError  string

	latestArtifact string
	postedCount    int
	settledCount   int
}

// NodeSnapshot is an immutable view of a Node and its endpoints.
type NodeSnapshot struct {
	UUID       string             `json:"uuid"`
	OTAChannel string             `json:"ota_channel"`
	Version    int                `json:"version"`
	Endpoints  []EndpointSnapshot `json:"endpoints"`
	LastError  string             `json:"last_error,omitempty"`
}

// NewNode creates a node listening on OTA_<uuid> with no endpoints.
func NewNode(uuid string, version int) *Node {
	return &Node{
		uuid:       uuid,
		version:    version,
		otaChannel: OTAChannel(uuid),
	}
}

// UUID returns the node's unique key.
func (n *Node) UUID() string { return n.uuid }

// Version returns the current node firmware version.
func (n *Node) Version() int { return n.version }

// OTAChannel returns the channel this node receives artifacts on.
func (n *Node) OTAChannel() string { return n.otaChannel }

// LastError returns the diagnostic from the last rejected reconciliation,
// or "" if the last reconciliation succeeded.
func (n *Node) LastError() string { return n.lastError }

// PostedCount returns how many artifacts have been received in total.
func (n *Node) PostedCount() int { return n.postedCount }

// AddEndpoint attaches a new endpoint of the given type and returns its
// position in the node's endpoint list.
func (n *Node) AddEndpoint(hw HardwareType) int {
	n.endpoints = append(n.endpoints, NewEndpoint(SerialNumber(n.uuid, hw), hw, n.uuid))
	return len(n.endpoints) - 1
}

// endpoint returns a pointer into the owned endpoint list.
func (n *Node) endpoint(i int) *Endpoint {
	return &n.endpoints[i]
}

// ReceiveArtifact records an artifact posted to the node's channel.
// Nothing is validated here; validation happens on reconciliation.
func (n *Node) ReceiveArtifact(artifact string) StatusCode {
	n.latestArtifact = artifact
	n.postedCount++
	return StatusOK
}

// LatestArtifact returns the most recently received artifact.
// The boolean is false when nothing has been posted.
func (n *Node) LatestArtifact() (string, bool) {
	if n.postedCount == 0 || n.latestArtifact == "" {
		return "", false
	}
	return n.latestArtifact, true
}

// takeNewPosts reports whether artifacts arrived since the previous call.
func (n *Node) takeNewPosts() bool {
	fresh := n.postedCount != n.settledCount
	n.settledCount = n.postedCount
	return fresh
}

// ReconcileOTA applies the latest artifact if its hardware family matches
// the node's. On mismatch the version is kept and LastError names the
// artifact; on match the version is taken from the artifact name and
// LastError is cleared. Repeated calls without a new post give the same state.
func (n *Node) ReconcileOTA() OTAOutcome {
	latest, ok := n.LatestArtifact()
	if !ok {
		return OTANoArtifact
	}

	if NodeFamily(n.uuid) != ArtifactFamily(latest) {
		n.lastError = badFirmwarePrefix + latest
		return OTARejected
	}

	version, err := ArtifactVersion(latest)
	if err != nil {
		n.lastError = badVersionPrefix + latest
		return OTARejected
	}

	n.version = version
	n.lastError = ""
	return OTAApplied
}

// Snapshot returns an immutable copy of the node and its endpoints, in order.
func (n *Node) Snapshot() NodeSnapshot {
	endpoints := make([]EndpointSnapshot, len(n.endpoints))
	for i := range n.endpoints {
		endpoints[i] = n.endpoints[i].Snapshot()
	}
	return NodeSnapshot{
		UUID:       n.uuid,
		OTAChannel: n.otaChannel,
		Version:    n.version,
		Endpoints:  endpoints,
		LastError:  n.lastError,
	}
}
