package simulator

import (
	"time"

	"github.com/nerrad567/fleetsim/internal/fleet"
	"github.com/nerrad567/fleetsim/internal/journal"
)

// Broadcast channels used for live events.
const (
	ChannelOTA        = "ota"
	ChannelDFU        = "dfu"
	ChannelArtifacts  = "channel"
	ChannelSimulation = "simulation"
)

// SkipReason explains why DFU did not run on a poll.
type SkipReason string

// Skip reasons, checked in this order.
const (
	SkipBacklog SkipReason = "backlog"
	SkipBattery SkipReason = "battery"
)

// DFUOutcome is the result of polling an endpoint.
type DFUOutcome string

// Poll outcomes.
const (
	DFUApplied DFUOutcome = "applied"
	DFUCurrent DFUOutcome = "current"
	DFUSkipped DFUOutcome = "skipped"
)

// Event describes one change in the simulated fleet.
type Event struct {
	Kind      journal.Kind            `json:"kind"`
	NodeUUID  string                  `json:"node_uuid,omitempty"`
	Serial    string                  `json:"serial,omitempty"`
	Channel   string                  `json:"channel,omitempty"`
	Artifact  string                  `json:"artifact,omitempty"`
	Status    int                     `json:"status,omitempty"`
	Version   int                     `json:"version,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	Detail    string                  `json:"detail,omitempty"`
	Node      *fleet.NodeSnapshot     `json:"node,omitempty"`
	Endpoint  *fleet.EndpointSnapshot `json:"endpoint,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// broadcastChannel maps an event kind to its live channel.
func broadcastChannel(kind journal.Kind) string {
	switch kind {
	case journal.KindOTAApplied, journal.KindOTARejected:
		return ChannelOTA
	case journal.KindDFUApplied, journal.KindDFUSkipped:
		return ChannelDFU
	case journal.KindArtifactPosted:
		return ChannelArtifacts
	default:
		return ChannelSimulation
	}
}

// entry converts the event to its journal form.
func (e Event) entry() *journal.Entry {
	detail := e.Detail
	if detail == "" && e.Reason != "" {
		detail = e.Reason
	}
	return &journal.Entry{
		Kind:      e.Kind,
		NodeUUID:  e.NodeUUID,
		Serial:    e.Serial,
		Channel:   e.Channel,
		Artifact:  e.Artifact,
		Status:    e.Status,
		Version:   e.Version,
		Detail:    detail,
		CreatedAt: e.Timestamp,
	}
}

// DFUResult is what a poll observed and did.
type DFUResult struct {
	Endpoint fleet.EndpointSnapshot `json:"endpoint"`
	Outcome  DFUOutcome             `json:"outcome"`
	Reason   SkipReason             `json:"reason,omitempty"`
}

// Eligibility is the DFU verdict for an endpoint without applying anything.
type Eligibility struct {
	Serial          string             `json:"serial_number"`
	HardwareType    fleet.HardwareType `json:"hardware_type"`
	Battery         int                `json:"battery"`
	Threshold       int                `json:"threshold"`
	BatteryOK       bool               `json:"battery_ok"`
	Backlog         int                `json:"backlog"`
	BacklogOK       bool               `json:"backlog_ok"`
	CurrentVersion  int                `json:"current_version"`
	Candidate       int                `json:"candidate"`
	UpdateAvailable bool               `json:"update_available"`
	Eligible        bool               `json:"eligible"`
	Reason          SkipReason         `json:"reason,omitempty"`
}
