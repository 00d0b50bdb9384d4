// Package scenario loads and runs scripted fleet checks described in YAML.
//
// A scenario is a list of steps run against a freshly seeded simulator:
//
//	id: ota-moxa-happy-flow
//	name: OTA update happy flow
//	steps:
//	  - kind: ota
//	    node: MOXA_ABC33
//	    artifact: MOXA_34.swu
//
// An ota step reads the node, posts the artifact to its channel and reads it
// again, expecting the artifact's version (or a rejection when expect_error
// is set). A dfu step prepares an endpoint's battery and backlog, releases a
// firmware version for its hardware type, checks eligibility, polls the
// endpoint and confirms the version it ended up on.
package scenario

import "strconv"

// StepKind selects what a step exercises.
type StepKind string

// Step kinds.
const (
	StepOTA StepKind = "ota"
	StepDFU StepKind = "dfu"
)

// Scenario is a named sequence of steps loaded from YAML.
type Scenario struct {
	// ID uniquely identifies the scenario (e.g. "dfu-canary-battery").
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable title.
	Name string `yaml:"name" json:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Steps run in order. The first failing step stops the run.
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one action within a scenario. Which fields apply depends on Kind.
type Step struct {
	Kind        StepKind `yaml:"kind" json:"kind"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`

	// ota
	Node        string `yaml:"node,omitempty" json:"node,omitempty"`
	Artifact    string `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	ExpectError bool   `yaml:"expect_error,omitempty" json:"expect_error,omitempty"`

	// dfu
	Serial     string `yaml:"serial,omitempty" json:"serial,omitempty"`
	Battery    *int   `yaml:"battery,omitempty" json:"battery,omitempty"`
	Backlog    *int   `yaml:"backlog,omitempty" json:"backlog,omitempty"`
	Version    int    `yaml:"version,omitempty" json:"version,omitempty"`
	ExpectSkip string `yaml:"expect_skip,omitempty" json:"expect_skip,omitempty"`
}

// LoadError provides details about a scenario loading error.
type LoadError struct {
	// File is the path that failed to load. Empty for in-memory data.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// stepError builds a LoadError for the step at index i.
func stepError(i int, msg string) *LoadError {
	return &LoadError{Message: "step " + strconv.Itoa(i+1) + ": " + msg}
}
