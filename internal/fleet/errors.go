package fleet

import "errors"

// Domain errors for the fleet package.
//
// Only lookup failures are errors. Rejected updates are reported through
// state (unchanged version, Node.LastError) instead.
var (
	// ErrNodeNotFound is returned when a node uuid is not registered.
	ErrNodeNotFound = errors.New("fleet: node not found")

	// ErrEndpointNotFound is returned when an endpoint serial number is not registered.
	ErrEndpointNotFound = errors.New("fleet: endpoint not found")

	// ErrUnsupportedHardware is returned for hardware types missing from the threshold table.
	ErrUnsupportedHardware = errors.New("fleet: unsupported device type")

	// ErrInvalidArtifact is returned when an artifact name does not follow <family>_<version>.<ext>.
	ErrInvalidArtifact = errors.New("fleet: invalid artifact name")

	// ErrInvalidSerial is returned when a serial number does not follow <uuid>_<type>_SERIAL.
	ErrInvalidSerial = errors.New("fleet: invalid serial number")
)
