package fleet

import (
	"fmt"
	"strconv"
	"strings"
)

// Naming convention tokens.
const (
	familySeparator = "_"
	serialSuffix    = "_SERIAL"
	channelPrefix   = "OTA_"
)

// NodeFamily returns the hardware family of a node from its uuid:
// the part before the first separator, upper-cased.
//
//	NodeFamily("AHN2_ABC11") // "AHN2"
func NodeFamily(uuid string) string {
	family, _, _ := strings.Cut(uuid, familySeparator)
	return strings.ToUpper(family)
}

// ArtifactFamily returns the hardware family an artifact targets, using the
// same convention as NodeFamily.
//
//	ArtifactFamily("moxa_34.swu") // "MOXA"
func ArtifactFamily(artifact string) string {
	family, _, _ := strings.Cut(artifact, familySeparator)
	return strings.ToUpper(family)
}

// ArtifactVersion extracts the version number embedded in an artifact name
// of the form <family>_<version>.<ext>.
//
// Returns ErrInvalidArtifact if there is no version token or it is not an integer.
func ArtifactVersion(artifact string) (int, error) {
	base := artifact
	if i := strings.LastIndex(artifact, "."); i >= 0 {
		base = artifact[:i]
	}

	_, token, found := strings.Cut(base, familySeparator)
	if !found {
		return 0, fmt.Errorf("%w: %q has no version token", ErrInvalidArtifact, artifact)
	}

	version, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidArtifact, artifact, err)
	}
	return version, nil
}

// OTAChannel returns the channel name a node listens on.
func OTAChannel(uuid string) string {
	return channelPrefix + uuid
}

// SerialNumber builds the deterministic serial for an endpoint.
//
//	SerialNumber("MOXA_ABC33", HardwareCanaryA) // "MOXA_ABC33_Canary_A_SERIAL"
func SerialNumber(nodeUUID string, hw HardwareType) string {
	return nodeUUID + familySeparator + string(hw) + serialSuffix
}

// ParseSerialNumber splits a serial back into its owning node uuid and
// hardware type. Hardware types may themselves contain the separator
// (Canary_A), so the type is matched as a known suffix rather than split.
//
// Returns ErrInvalidSerial if the serial does not follow the convention.
func ParseSerialNumber(serial string) (string, HardwareType, error) {
	rest, ok := strings.CutSuffix(serial, serialSuffix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
	}

	for _, hw := range hardwareTypes {
		nodeUUID, ok := strings.CutSuffix(rest, familySeparator+string(hw))
		if ok && nodeUUID != "" {
			return nodeUUID, hw, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
}
