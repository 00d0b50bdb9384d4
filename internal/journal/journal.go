// Package journal records what happened to the fleet: artifacts posted to
// OTA channels, node updates applied or rejected, endpoint DFU decisions,
// and operator changes. Entries are append-only and listed newest first.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a journal entry.
type Kind string

// Entry kinds.
const (
	KindSeed             Kind = "seed"
	KindArtifactPosted   Kind = "artifact_posted"
	KindOTAApplied       Kind = "ota_applied"
	KindOTARejected      Kind = "ota_rejected"
	KindDFUApplied       Kind = "dfu_applied"
	KindDFUSkipped       Kind = "dfu_skipped"
	KindEndpointChanged  Kind = "endpoint_changed"
	KindFirmwareReleased Kind = "firmware_released"
	KindScenarioRun      Kind = "scenario_run"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// idPrefix starts every generated entry ID.
const idPrefix = "evt-"

// ErrInvalidEntry is returned by Record when an entry has no kind.
var ErrInvalidEntry = errors.New("journal: entry kind is required")

// Entry is a single journal record. Fields that do not apply to a kind are
// left empty.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	NodeUUID  string    `json:"node_uuid,omitempty"`
	Serial    string    `json:"serial,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Status    int       `json:"status,omitempty"`
	Version   int       `json:"version,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns. Empty fields match anything.
type Filter struct {
	Kind     Kind
	NodeUUID string
	Serial   string
	Channel  string
	Limit    int // default 50, max 200
	Offset   int
}

// ListResult is a page of entries plus the total matching count.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists journal entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// prepare validates e and fills ID and CreatedAt when empty.
func prepare(e *Entry) error {
	if e.Kind == "" {
		return ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = idPrefix + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

// clamp applies the page size bounds.
func (f Filter) clamp() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f Filter) matches(e Entry) bool {
	return (f.Kind == "" || e.Kind == f.Kind) &&
		(f.NodeUUID == "" || e.NodeUUID == f.NodeUUID) &&
		(f.Serial == "" || e.Serial == f.Serial) &&
		(f.Channel == "" || e.Channel == f.Channel)
}
