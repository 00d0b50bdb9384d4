package simulator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/fleetsim/internal/fleet"
	"github.com/nerrad567/fleetsim/internal/journal"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Journal persists events. journal.Repository satisfies it.
type Journal interface {
	Record(ctx context.Context, e *journal.Entry) error
}

// Publisher mirrors state and events onto a message bus.
type Publisher interface {
	PublishNode(node fleet.NodeSnapshot) error
	PublishEndpoint(ep fleet.EndpointSnapshot) error
	PublishEvent(ev Event) error
}

// Recorder writes update telemetry. *influxdb.Client satisfies it.
type Recorder interface {
	WriteNodeOTA(nodeUUID, outcome string, version int)
	WriteEndpointDFU(serial, hardwareType, outcome string, version, battery, backlog int)
}

// Broadcaster pushes live events to subscribers of a channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Options wires optional sinks into a Service. Nil sinks are skipped.
type Options struct {
	Journal     Journal
	Publisher   Publisher
	Recorder    Recorder
	Broadcaster Broadcaster
	Logger      Logger

	// Now overrides the event clock. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Service drives a fleet.Registry and reports what happens to it.
type Service struct {
	mu       sync.Mutex
	registry *fleet.Registry

	journal     Journal
	publisher   Publisher
	recorder    Recorder
	broadcaster Broadcaster
	logger      Logger
	now         func() time.Time
}

// New creates a Service over registry. The registry is not seeded; call Init.
func New(registry *fleet.Registry, opts Options) *Service {
	s := &Service{
		registry:    registry,
		journal:     opts.Journal,
		publisher:   opts.Publisher,
		recorder:    opts.Recorder,
		broadcaster: opts.Broadcaster,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// SetPublisher attaches a publisher after construction. The MQTT bridge
// needs the Service before it can publish for it.
func (s *Service) SetPublisher(p Publisher) {
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

// SetBroadcaster attaches a broadcaster after construction.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.broadcaster = b
	s.mu.Unlock()
}

// Registry returns the underlying registry.
func (s *Service) Registry() *fleet.Registry {
	return s.registry
}

// Init seeds the registry, discarding all previous state, and publishes the
// seeded topology.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.Seed()
	nodes := s.registry.Nodes()

	s.emit(ctx, Event{
		Kind:   journal.KindSeed,
		Detail: fmt.Sprintf("nodes=%d endpoints=%d", len(nodes), s.registry.EndpointCount()),
	})
	for _, n := range nodes {
		s.publishNode(n)
		for _, ep := range n.Endpoints {
			s.publishEndpoint(ep)
		}
	}

	s.logger.Info("simulation initialised", "nodes", len(nodes), "endpoints", s.registry.EndpointCount())
	return nil
}

// GetNode reads a node, applying any artifact posted since the last read.
// Returns fleet.ErrNodeNotFound for unknown uuids.
func (s *Service) GetNode(ctx context.Context, uuid string) (fleet.NodeSnapshot, error) {
	settlement, err := s.registry.Settle(uuid)
	if err != nil {
		return fleet.NodeSnapshot{}, err
	}
	if !settlement.Reportable() {
		return settlement.After, nil
	}

	node := settlement.After
	kind := journal.KindOTAApplied
	if settlement.Outcome == fleet.OTARejected {
		kind = journal.KindOTARejected
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emit(ctx, Event{
		Kind:     kind,
		NodeUUID: uuid,
		Channel:  node.OTAChannel,
		Artifact: settlement.Artifact,
		Version:  node.Version,
		Detail:   node.LastError,
		Node:     &node,
	})
	s.publishNode(node)
	if s.recorder != nil {
		s.recorder.WriteNodeOTA(uuid, string(settlement.Outcome), node.Version)
	}
	return node, nil
}

// Nodes reads every node in seed order, settling each one.
func (s *Service) Nodes(ctx context.Context) ([]fleet.NodeSnapshot, error) {
	uuids := s.registry.Nodes()
	out := make([]fleet.NodeSnapshot, 0, len(uuids))
	for _, n := range uuids {
		node, err := s.GetNode(ctx, n.UUID)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// PostToChannel routes an artifact to the node on channel.
// fleet.StatusBadRequest means no node listens there and nothing changed.
func (s *Service) PostToChannel(ctx context.Context, channel, artifact string) fleet.StatusCode {
	status := s.registry.PostToChannel(channel, artifact)

	s.mu.Lock()
	defer s.mu.Unlock()

	ev := Event{
		Kind:     journal.KindArtifactPosted,
		Channel:  channel,
		Artifact: artifact,
		Status:   int(status),
	}
	if !status.OK() {
		ev.Detail = "unknown channel"
	} else if uuid, ok := nodeForChannel(channel); ok {
		ev.NodeUUID = uuid
	}
	s.emit(ctx, ev)
	return status
}

// nodeForChannel derives the node uuid from an OTA channel name.
func nodeForChannel(channel string) (string, bool) {
	uuid, ok := strings.CutPrefix(channel, "OTA_")
	return uuid, ok && uuid != ""
}

// Endpoint returns an endpoint's current state without running DFU.
func (s *Service) Endpoint(serial string) (fleet.EndpointSnapshot, error) {
	return s.registry.GetEndpoint(serial)
}

// PollEndpoint reads an endpoint and, if it is eligible, applies the latest
// firmware for its hardware type.
func (s *Service) PollEndpoint(ctx context.Context, serial string) (DFUResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elig, err := s.eligibility(serial)
	if err != nil {
		return DFUResult{}, err
	}
	before, err := s.registry.GetEndpoint(serial)
	if err != nil {
		return DFUResult{}, err
	}

	if !elig.Eligible {
		s.emit(ctx, Event{
			Kind:     journal.KindDFUSkipped,
			NodeUUID: before.NodeUUID,
			Serial:   serial,
			Version:  before.Version,
			Reason:   string(elig.Reason),
			Endpoint: &before,
		})
		s.recordDFU(before, "skipped_"+string(elig.Reason))
		return DFUResult{Endpoint: before, Outcome: DFUSkipped, Reason: elig.Reason}, nil
	}

	after, err := s.registry.ApplyDFU(serial, elig.Candidate)
	if err != nil {
		return DFUResult{}, err
	}
	if after.Version == before.Version {
		return DFUResult{Endpoint: after, Outcome: DFUCurrent}, nil
	}

	s.emit(ctx, Event{
		Kind:     journal.KindDFUApplied,
		NodeUUID: after.NodeUUID,
		Serial:   serial,
		Version:  after.Version,
		Detail:   fmt.Sprintf("from=%d", before.Version),
		Endpoint: &after,
	})
	s.publishEndpoint(after)
	s.recordDFU(after, string(DFUApplied))
	return DFUResult{Endpoint: after, Outcome: DFUApplied}, nil
}

// DFUEligibility reports whether a poll would update the endpoint right now.
func (s *Service) DFUEligibility(_ context.Context, serial string) (Eligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eligibility(serial)
}

// eligibility computes the DFU verdict. Caller must hold s.mu.
func (s *Service) eligibility(serial string) (Eligibility, error) {
	ep, err := s.registry.GetEndpoint(serial)
	if err != nil {
		return Eligibility{}, err
	}
	threshold, err := s.registry.DFUThreshold(ep.HardwareType)
	if err != nil {
		return Eligibility{}, err
	}
	candidate, err := s.registry.LatestEndpointVersion(ep.HardwareType)
	if err != nil {
		return Eligibility{}, err
	}

	e := Eligibility{
		Serial:          ep.SerialNumber,
		HardwareType:    ep.HardwareType,
		Battery:         ep.Battery,
		Threshold:       threshold,
		BatteryOK:       ep.Battery >= threshold,
		Backlog:         ep.Backlog,
		BacklogOK:       ep.Backlog == 0,
		CurrentVersion:  ep.Version,
		Candidate:       candidate,
		UpdateAvailable: candidate > ep.Version,
		Eligible:        fleet.Eligible(ep, threshold),
	}
	switch {
	case !e.BacklogOK:
		e.Reason = SkipBacklog
	case !e.BatteryOK:
		e.Reason = SkipBattery
	}
	return e, nil
}

// SetEndpointBattery overwrites an endpoint's battery level.
func (s *Service) SetEndpointBattery(ctx context.Context, serial string, battery int) error {
	return s.changeEndpoint(ctx, serial, "battery", battery, s.registry.SetEndpointBattery)
}

// SetEndpointBacklog overwrites an endpoint's backlog.
func (s *Service) SetEndpointBacklog(ctx context.Context, serial string, backlog int) error {
	return s.changeEndpoint(ctx, serial, "backlog", backlog, s.registry.SetEndpointBacklog)
}

// SetEndpointVersion overwrites an endpoint's firmware version.
func (s *Service) SetEndpointVersion(ctx context.Context, serial string, version int) error {
	return s.changeEndpoint(ctx, serial, "version", version, s.registry.SetEndpointVersion)
}

func (s *Service) changeEndpoint(ctx context.Context, serial, field string, value int, set func(string, int) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := set(serial, value); err != nil {
		return err
	}
	ep, err := s.registry.GetEndpoint(serial)
	if err != nil {
		return err
	}

	s.emit(ctx, Event{
		Kind:     journal.KindEndpointChanged,
		NodeUUID: ep.NodeUUID,
		Serial:   serial,
		Version:  ep.Version,
		Detail:   fmt.Sprintf("%s=%d", field, value),
		Endpoint: &ep,
	})
	s.publishEndpoint(ep)
	return nil
}

// SetLatestEndpointVersion releases firmware version for hw. Endpoints pick
// it up on their next eligible poll.
func (s *Service) SetLatestEndpointVersion(ctx context.Context, hw fleet.HardwareType, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.SetLatestEndpointVersion(hw, version); err != nil {
		return err
	}
	s.emit(ctx, Event{
		Kind:    journal.KindFirmwareReleased,
		Version: version,
		Detail:  "hardware_type=" + string(hw),
	})
	return nil
}

// LatestEndpointVersion returns the released firmware version for hw.
func (s *Service) LatestEndpointVersion(hw fleet.HardwareType) (int, error) {
	return s.registry.LatestEndpointVersion(hw)
}

// CheckEndpointVersion is StatusOK when the endpoint runs expected.
func (s *Service) CheckEndpointVersion(_ context.Context, serial string, expected int) (fleet.StatusCode, error) {
	return s.registry.CheckEndpointVersion(serial, expected)
}

// DFUThreshold returns the minimum battery for DFU on hw.
func (s *Service) DFUThreshold(hw fleet.HardwareType) (int, error) {
	return s.registry.DFUThreshold(hw)
}

// RecordScenario journals the outcome of a scripted scenario run.
func (s *Service) RecordScenario(ctx context.Context, name string, passed bool, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := int(fleet.StatusOK)
	if !passed {
		status = int(fleet.StatusBadRequest)
	}
	s.emit(ctx, Event{
		Kind:   journal.KindScenarioRun,
		Status: status,
		Detail: name + ": " + detail,
	})
}

// emit stamps ev and hands it to every sink. Caller must hold s.mu.
func (s *Service) emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	if s.journal != nil {
		if err := s.journal.Record(ctx, ev.entry()); err != nil {
			s.logger.Warn("journal write failed", "kind", ev.Kind, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishEvent(ev); err != nil {
			s.logger.Warn("event publish failed", "kind", ev.Kind, "error", err)
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(broadcastChannel(ev.Kind), ev)
	}

	s.logger.Debug("fleet event",
		"kind", ev.Kind,
		"node_uuid", ev.NodeUUID,
		"serial", ev.Serial,
		"version", ev.Version,
	)
}

func (s *Service) publishNode(n fleet.NodeSnapshot) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishNode(n); err != nil {
		s.logger.Warn("node state publish failed", "uuid", n.UUID, "error", err)
	}
}

func (s *Service) publishEndpoint(ep fleet.EndpointSnapshot) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEndpoint(ep); err != nil {
		s.logger.Warn("endpoint state publish failed", "serial", ep.SerialNumber, "error", err)
	}
}

func (s *Service) recordDFU(ep fleet.EndpointSnapshot, outcome string) {
	if s.recorder == nil {
		return
	}
	s.recorder.WriteEndpointDFU(ep.SerialNumber, string(ep.HardwareType), outcome,
		ep.Version, ep.Battery, ep.Backlog)
}
