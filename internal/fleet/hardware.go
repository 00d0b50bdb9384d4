package fleet

import "fmt"

// HardwareType classifies an endpoint. It keys both the DFU battery
// threshold table and the latest known firmware version.
type HardwareType string

// Supported endpoint hardware types.
const (
	HardwareEP1     HardwareType = "EP1"
	HardwareEP2     HardwareType = "EP2"
	HardwareCanaryA HardwareType = "Canary_A"
)

// hardwareTypes lists the supported types in seed order.
var hardwareTypes = []HardwareType{HardwareEP1, HardwareEP2, HardwareCanaryA}

// batteryThresholds is the minimum battery level required for DFU eligibility.
var batteryThresholds = map[HardwareType]int{
	HardwareEP1:     2500,
	HardwareEP2:     2500,
	HardwareCanaryA: 3600,
}

// Seed defaults.
const (
	// InitialNodeVersion is the firmware version every node starts with.
	InitialNodeVersion = 33

	// InitialEndpointVersion is the firmware version every endpoint starts with.
	InitialEndpointVersion = 1

	// InitialBattery is the battery level every endpoint starts with.
	InitialBattery = 5000
)

// seedNodes is the fixed node topology created by Registry.Seed.
var seedNodes = []string{"AHN2_ABC11", "CASSIA_ABC22", "MOXA_ABC33"}

// HardwareTypes returns the supported hardware types in seed order.
func HardwareTypes() []HardwareType {
	out := make([]HardwareType, len(hardwareTypes))
	copy(out, hardwareTypes)
	return out
}

// SeedNodeUUIDs returns the uuids of the seeded nodes in seed order.
func SeedNodeUUIDs() []string {
	out := make([]string, len(seedNodes))
	copy(out, seedNodes)
	return out
}

// Valid reports whether the hardware type is present in the threshold table.
func (h HardwareType) Valid() bool {
	_, ok := batteryThresholds[h]
	return ok
}

// BatteryThreshold returns the minimum battery for DFU on this hardware type.
// Returns ErrUnsupportedHardware if the type is not in the table.
func BatteryThreshold(h HardwareType) (int, error) {
	threshold, ok := batteryThresholds[h]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedHardware, string(h))
	}
	return threshold, nil
}

// Eligible reports whether an endpoint may take a DFU update given the
// threshold for its hardware type.
func Eligible(ep EndpointSnapshot, threshold int) bool {
	return ep.Backlog == 0 && ep.Battery >= threshold
}
