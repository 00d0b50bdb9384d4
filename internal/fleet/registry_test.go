package fleet

import (
	"errors"
	"sync"
	"testing"
)

func seededRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	r.Seed()
	return r
}

func TestRegistry_Seed(t *testing.T) {
	r := seededRegistry(t)

	if r.NodeCount() != 3 {
		t.Errorf("NodeCount() = %d, want 3", r.NodeCount())
	}
	if r.EndpointCount() != 9 {
		t.Errorf("EndpointCount() = %d, want 9", r.EndpointCount())
	}

	nodes := r.Nodes()
	for i, uuid := range SeedNodeUUIDs() {
		if nodes[i].UUID != uuid {
			t.Errorf("Nodes()[%d].UUID = %q, want %q", i, nodes[i].UUID, uuid)
		}
		if nodes[i].Version != InitialNodeVersion {
			t.Errorf("Nodes()[%d].Version = %d, want %d", i, nodes[i].Version, InitialNodeVersion)
		}
		if nodes[i].OTAChannel != "OTA_"+uuid {
			t.Errorf("Nodes()[%d].OTAChannel = %q, want OTA_%s", i, nodes[i].OTAChannel, uuid)
		}
	}
}

func TestRegistry_SeedSerialsRoundTrip(t *testing.T) {
	r := seededRegistry(t)

	for _, node := range r.Nodes() {
		for _, ep := range node.Endpoints {
			uuid, hw, err := ParseSerialNumber(ep.SerialNumber)
			if err != nil {
				t.Fatalf("ParseSerialNumber(%q) error = %v", ep.SerialNumber, err)
			}
			if uuid != node.UUID || uuid != ep.NodeUUID {
				t.Errorf("serial %q parsed uuid %q, want %q", ep.SerialNumber, uuid, node.UUID)
			}
			if hw != ep.HardwareType || !hw.Valid() {
				t.Errorf("serial %q parsed type %q, want %q", ep.SerialNumber, hw, ep.HardwareType)
			}
		}
	}
}

func TestRegistry_SeedResets(t *testing.T) {
	r := seededRegistry(t)

	serial := "MOXA_ABC33_EP1_SERIAL"
	r.PostToChannel("OTA_MOXA_ABC33", "MOXA_34.swu")
	if err := r.SetEndpointBattery(serial, 10); err != nil {
		t.Fatalf("SetEndpointBattery() error = %v", err)
	}
	if err := r.SetLatestEndpointVersion(HardwareEP1, 7); err != nil {
		t.Fatalf("SetLatestEndpointVersion() error = %v", err)
	}

	r.Seed()

	node, err := r.GetNode("MOXA_ABC33")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.Version != InitialNodeVersion {
		t.Errorf("Version after reseed = %d, want %d", node.Version, InitialNodeVersion)
	}
	ep, _ := r.GetEndpoint(serial)
	if ep.Battery != InitialBattery {
		t.Errorf("Battery after reseed = %d, want %d", ep.Battery, InitialBattery)
	}
	if v, _ := r.LatestEndpointVersion(HardwareEP1); v != InitialEndpointVersion {
		t.Errorf("LatestEndpointVersion after reseed = %d, want %d", v, InitialEndpointVersion)
	}
	if r.EndpointCount() != 9 {
		t.Errorf("EndpointCount() after reseed = %d, want 9", r.EndpointCount())
	}
}

func TestRegistry_IndexSharesNodeEndpoint(t *testing.T) {
	r := seededRegistry(t)

	serial := "AHN2_ABC11_EP2_SERIAL"
	if err := r.SetEndpointBacklog(serial, 4); err != nil {
		t.Fatalf("SetEndpointBacklog() error = %v", err)
	}

	node, err := r.GetNode("AHN2_ABC11")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.Endpoints[1].SerialNumber != serial || node.Endpoints[1].Backlog != 4 {
		t.Errorf("node endpoint = %+v, want backlog 4 on %s", node.Endpoints[1], serial)
	}
}

func TestRegistry_NotFound(t *testing.T) {
	r := seededRegistry(t)

	if _, err := r.GetNode("NOPE_1"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("GetNode() error = %v, want ErrNodeNotFound", err)
	}
	if _, err := r.GetEndpoint("NOPE_EP1_SERIAL"); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("GetEndpoint() error = %v, want ErrEndpointNotFound", err)
	}
	if err := r.SetEndpointBattery("x", 1); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("SetEndpointBattery() error = %v, want ErrEndpointNotFound", err)
	}
	if err := r.SetEndpointBacklog("x", 1); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("SetEndpointBacklog() error = %v, want ErrEndpointNotFound", err)
	}
	if err := r.SetEndpointVersion("x", 1); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("SetEndpointVersion() error = %v, want ErrEndpointNotFound", err)
	}
	if _, err := r.CheckEndpointVersion("x", 1); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("CheckEndpointVersion() error = %v, want ErrEndpointNotFound", err)
	}
	if _, err := r.ApplyDFU("x", 2); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("ApplyDFU() error = %v, want ErrEndpointNotFound", err)
	}
}

func TestRegistry_UnsupportedHardware(t *testing.T) {
	r := seededRegistry(t)

	if _, err := r.DFUThreshold("EP3"); !errors.Is(err, ErrUnsupportedHardware) {
		t.Errorf("DFUThreshold() error = %v, want ErrUnsupportedHardware", err)
	}
	if _, err := r.LatestEndpointVersion("EP3"); !errors.Is(err, ErrUnsupportedHardware) {
		t.Errorf("LatestEndpointVersion() error = %v, want ErrUnsupportedHardware", err)
	}
	if err := r.SetLatestEndpointVersion("EP3", 2); !errors.Is(err, ErrUnsupportedHardware) {
		t.Errorf("SetLatestEndpointVersion() error = %v, want ErrUnsupportedHardware", err)
	}
}

func TestRegistry_OTAHappyFlow(t *testing.T) {
	r := seededRegistry(t)

	if status := r.PostToChannel("OTA_MOXA_ABC33", "MOXA_34.swu"); status != StatusOK {
		t.Fatalf("PostToChannel() = %d, want %d", status, StatusOK)
	}

	// Posting does not apply the update; reading does.
	if v := r.Nodes()[2].Version; v != InitialNodeVersion {
		t.Errorf("Version before read = %d, want %d", v, InitialNodeVersion)
	}

	node, err := r.GetNode("MOXA_ABC33")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.Version != 34 {
		t.Errorf("Version = %d, want 34", node.Version)
	}
	if node.LastError != "" {
		t.Errorf("LastError = %q, want empty", node.LastError)
	}
}

func TestRegistry_OTAMismatch(t *testing.T) {
	r := seededRegistry(t)

	r.PostToChannel("OTA_MOXA_ABC33", "AHN2_40.swu")

	node, err := r.GetNode("MOXA_ABC33")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.Version != InitialNodeVersion {
		t.Errorf("Version = %d, want %d", node.Version, InitialNodeVersion)
	}
	if node.LastError != "bad_firmware:AHN2_40.swu" {
		t.Errorf("LastError = %q, want bad_firmware:AHN2_40.swu", node.LastError)
	}
}

func TestRegistry_PostUnknownChannel(t *testing.T) {
	r := seededRegistry(t)
	before := r.Nodes()

	if status := r.PostToChannel("OTA_NOPE", "MOXA_34.swu"); status != StatusBadRequest {
		t.Errorf("PostToChannel() = %d, want %d", status, StatusBadRequest)
	}
	// Channel names are exact, not case folded.
	if status := r.PostToChannel("ota_moxa_abc33", "MOXA_34.swu"); status != StatusBadRequest {
		t.Errorf("PostToChannel(lower case) = %d, want %d", status, StatusBadRequest)
	}

	for _, uuid := range SeedNodeUUIDs() {
		s, err := r.Settle(uuid)
		if err != nil {
			t.Fatalf("Settle() error = %v", err)
		}
		if s.Outcome != OTANoArtifact || s.Changed() {
			t.Errorf("%s: Settle() = %+v, want untouched node", uuid, s)
		}
	}
	after := r.Nodes()
	for i := range before {
		if before[i].Version != after[i].Version || before[i].LastError != after[i].LastError {
			t.Errorf("node %s mutated by unknown channel post", before[i].UUID)
		}
	}
}

func TestRegistry_SettleReportsChange(t *testing.T) {
	r := seededRegistry(t)
	r.PostToChannel("OTA_CASSIA_ABC22", "CASSIA_40.swu")

	first, err := r.Settle("CASSIA_ABC22")
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if !first.Changed() || first.Outcome != OTAApplied {
		t.Errorf("first Settle() = %+v, want applied change", first)
	}

	second, _ := r.Settle("CASSIA_ABC22")
	if second.Changed() {
		t.Errorf("second Settle() changed state: %+v", second)
	}
	if second.After.Version != first.After.Version || second.After.LastError != first.After.LastError {
		t.Errorf("Settle() not idempotent: %+v vs %+v", first.After, second.After)
	}
	if !first.Reportable() || second.Reportable() {
		t.Errorf("Reportable() = %v, %v, want true, false", first.Reportable(), second.Reportable())
	}
}

func TestRegistry_SettleSameVersionArtifact(t *testing.T) {
	r := seededRegistry(t)
	r.PostToChannel("OTA_MOXA_ABC33", "MOXA_33.swu")

	s, err := r.Settle("MOXA_ABC33")
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if s.Changed() {
		t.Errorf("Settle() changed = true, want false for %+v", s)
	}
	if s.Outcome != OTAApplied || !s.NewArtifact || !s.Reportable() {
		t.Errorf("Settle() = %+v, want reportable applied outcome", s)
	}

	again, _ := r.Settle("MOXA_ABC33")
	if again.NewArtifact || again.Reportable() {
		t.Errorf("repeat Settle() = %+v, want nothing to report", again)
	}

	// A second post of the same artifact is a new delivery.
	r.PostToChannel("OTA_MOXA_ABC33", "MOXA_33.swu")
	if third, _ := r.Settle("MOXA_ABC33"); !third.Reportable() {
		t.Errorf("Settle() after repost = %+v, want reportable", third)
	}
}

func TestRegistry_DFUScenario(t *testing.T) {
	r := seededRegistry(t)
	serial := "CASSIA_ABC22_Canary_A_SERIAL"

	if err := r.SetEndpointBattery(serial, 5000); err != nil {
		t.Fatalf("SetEndpointBattery() error = %v", err)
	}
	if err := r.SetEndpointBacklog(serial, 0); err != nil {
		t.Fatalf("SetEndpointBacklog() error = %v", err)
	}

	ep, err := r.GetEndpoint(serial)
	if err != nil {
		t.Fatalf("GetEndpoint() error = %v", err)
	}
	threshold, err := r.DFUThreshold(ep.HardwareType)
	if err != nil {
		t.Fatalf("DFUThreshold() error = %v", err)
	}
	if threshold != 3600 {
		t.Errorf("DFUThreshold(Canary_A) = %d, want 3600", threshold)
	}
	if !Eligible(ep, threshold) {
		t.Fatalf("Eligible(%+v, %d) = false, want true", ep, threshold)
	}

	ep, err = r.ApplyDFU(serial, 2)
	if err != nil {
		t.Fatalf("ApplyDFU() error = %v", err)
	}
	if ep.Version != 2 {
		t.Errorf("Version = %d, want 2", ep.Version)
	}

	status, err := r.CheckEndpointVersion(serial, 2)
	if err != nil {
		t.Fatalf("CheckEndpointVersion() error = %v", err)
	}
	if status != StatusOK {
		t.Errorf("CheckEndpointVersion(2) = %d, want %d", status, StatusOK)
	}
	if status, _ := r.CheckEndpointVersion(serial, 3); status != StatusBadRequest {
		t.Errorf("CheckEndpointVersion(3) = %d, want %d", status, StatusBadRequest)
	}
}

func TestRegistry_LowBatteryNotEligible(t *testing.T) {
	r := seededRegistry(t)
	serial := "AHN2_ABC11_EP1_SERIAL"

	if err := r.SetEndpointBattery(serial, 2499); err != nil {
		t.Fatalf("SetEndpointBattery() error = %v", err)
	}

	ep, _ := r.GetEndpoint(serial)
	threshold, _ := r.DFUThreshold(ep.HardwareType)
	if Eligible(ep, threshold) {
		t.Errorf("Eligible() = true with battery %d < %d", ep.Battery, threshold)
	}
	if ep.Version != InitialEndpointVersion {
		t.Errorf("Version = %d, want %d", ep.Version, InitialEndpointVersion)
	}
}

func TestRegistry_ApplyDFUWithBacklog(t *testing.T) {
	r := seededRegistry(t)
	serial := "MOXA_ABC33_EP2_SERIAL"

	if err := r.SetEndpointBacklog(serial, 2); err != nil {
		t.Fatalf("SetEndpointBacklog() error = %v", err)
	}
	ep, err := r.ApplyDFU(serial, 10)
	if err != nil {
		t.Fatalf("ApplyDFU() error = %v", err)
	}
	if ep.Version != InitialEndpointVersion {
		t.Errorf("Version = %d, want %d", ep.Version, InitialEndpointVersion)
	}
}

func TestRegistry_SettersArePermissive(t *testing.T) {
	r := seededRegistry(t)
	serial := "MOXA_ABC33_EP1_SERIAL"

	if err := r.SetEndpointBattery(serial, -10); err != nil {
		t.Fatalf("SetEndpointBattery(-10) error = %v", err)
	}
	if err := r.SetEndpointBacklog(serial, -1); err != nil {
		t.Fatalf("SetEndpointBacklog(-1) error = %v", err)
	}
	if err := r.SetEndpointVersion(serial, 0); err != nil {
		t.Fatalf("SetEndpointVersion(0) error = %v", err)
	}

	ep, _ := r.GetEndpoint(serial)
	if ep.Battery != -10 || ep.Backlog != -1 || ep.Version != 0 {
		t.Errorf("endpoint = %+v, want battery -10, backlog -1, version 0", ep)
	}
}

func TestRegistry_LatestEndpointVersion(t *testing.T) {
	r := seededRegistry(t)

	for _, hw := range HardwareTypes() {
		v, err := r.LatestEndpointVersion(hw)
		if err != nil {
			t.Fatalf("LatestEndpointVersion(%q) error = %v", hw, err)
		}
		if v != InitialEndpointVersion {
			t.Errorf("LatestEndpointVersion(%q) = %d, want %d", hw, v, InitialEndpointVersion)
		}
	}

	if err := r.SetLatestEndpointVersion(HardwareCanaryA, 4); err != nil {
		t.Fatalf("SetLatestEndpointVersion() error = %v", err)
	}
	if v, _ := r.LatestEndpointVersion(HardwareCanaryA); v != 4 {
		t.Errorf("LatestEndpointVersion(Canary_A) = %d, want 4", v)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := seededRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.PostToChannel("OTA_AHN2_ABC11", "AHN2_40.swu")
			_, _ = r.GetNode("AHN2_ABC11")
			_ = r.SetEndpointBattery("AHN2_ABC11_EP1_SERIAL", 3000+i)
			_, _ = r.ApplyDFU("AHN2_ABC11_EP1_SERIAL", 2)
			_ = r.Nodes()
		}(i)
	}
	wg.Wait()

	node, err := r.GetNode("AHN2_ABC11")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.Version != 40 {
		t.Errorf("Version = %d, want 40", node.Version)
	}
}
