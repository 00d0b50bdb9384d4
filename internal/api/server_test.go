package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nerrad567/fleetsim/internal/fleet"
	"github.com/nerrad567/fleetsim/internal/infrastructure/config"
	"github.com/nerrad567/fleetsim/internal/infrastructure/logging"
	"github.com/nerrad567/fleetsim/internal/journal"
	"github.com/nerrad567/fleetsim/internal/scenario"
	"github.com/nerrad567/fleetsim/internal/simulator"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testServer creates a Server over a seeded simulator with an in-memory journal.
func testServer(t *testing.T, mutate ...func(*Deps)) (*Server, *simulator.Service) {
	t.Helper()

	log := testLogger()
	repo := journal.NewMemoryRepository()
	sim := simulator.New(fleet.NewRegistry(), simulator.Options{Journal: repo, Logger: log})
	if err := sim.Init(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:                   testWSConfig(),
		Logger:               log,
		Simulator:            sim,
		Journal:              repo,
		ReseedAfterScenarios: true,
		Version:              "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(ctx)
	sim.SetBroadcaster(srv.hub)

	return srv, sim
}

// do runs one request through the router.
func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger: error = nil, want error")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() with no simulator: error = nil, want error")
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start: error = nil, want error")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start: error = %v, want nil", err)
	}
}

// ─── Health and Metrics ────────────────────────────────────────────

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Components = map[string]HealthChecker{
			"journal": fakeChecker{},
			"mqtt":    fakeChecker{err: errors.New("mqtt: client not connected")},
		}
	})
	w := do(t, srv, http.MethodGet, "/api/v1/health", "")

	resp := decode[struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}](t, w)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Components["journal"] != "ok" {
		t.Errorf("components[journal] = %q, want ok", resp.Components["journal"])
	}
	if resp.Components["mqtt"] != "mqtt: client not connected" {
		t.Errorf("components[mqtt] = %q, want the check error", resp.Components["mqtt"])
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/metrics", "")

	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	m := decode[SystemMetrics](t, w)
	if m.Fleet.Nodes != 3 || m.Fleet.Endpoints != 9 {
		t.Errorf("fleet = %d nodes / %d endpoints, want 3 / 9", m.Fleet.Nodes, m.Fleet.Endpoints)
	}
	if m.Fleet.NodeVersions["MOXA_ABC33"] != fleet.InitialNodeVersion {
		t.Errorf("node_versions[MOXA_ABC33] = %d, want %d", m.Fleet.NodeVersions["MOXA_ABC33"], fleet.InitialNodeVersion)
	}
	if m.Fleet.LatestFirmware["Canary_A"] != fleet.InitialEndpointVersion {
		t.Errorf("latest_firmware[Canary_A] = %d, want %d", m.Fleet.LatestFirmware["Canary_A"], fleet.InitialEndpointVersion)
	}
	if m.Database != nil {
		t.Errorf("database = %+v, want omitted without a DB", m.Database)
	}
	if len(m.WebSocket.Subscribers) != 4 || m.WebSocket.ConnectedClients != 0 {
		t.Errorf("websocket = %+v, want 4 channels and no clients", m.WebSocket)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/health", "")

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		origin   string
		wantACAO string
	}{
		{"empty list allows all", nil, "http://localhost:3000", "http://localhost:3000"},
		{"listed origin", []string{"http://ops.local"}, "http://ops.local", "http://ops.local"},
		{"unlisted origin", []string{"http://ops.local"}, "http://evil.local", ""},
		{"wildcard", []string{"*"}, "http://any.local", "http://any.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = tt.allowed })

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Errorf("ACAO = %q, want %q", got, tt.wantACAO)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/nonexistent", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Nodes and Channels ────────────────────────────────────────────

func TestListNodes(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/nodes", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode[struct {
		Nodes []fleet.NodeSnapshot `json:"nodes"`
		Count int                  `json:"count"`
	}](t, w)
	if resp.Count != 3 || len(resp.Nodes) != 3 {
		t.Errorf("count = %d, len = %d, want 3", resp.Count, len(resp.Nodes))
	}
	if len(resp.Nodes[0].Endpoints) != 3 {
		t.Errorf("nodes[0] endpoints = %d, want 3", len(resp.Nodes[0].Endpoints))
	}
}

func TestOTAHappyFlow(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/nodes/MOXA_ABC33", "")
	if node := decode[fleet.NodeSnapshot](t, w); node.Version != 33 {
		t.Fatalf("initial version = %d, want 33", node.Version)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/channels/OTA_MOXA_ABC33/artifacts", `{"artifact":"MOXA_34.swu"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("post artifact status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decode[StatusResponse](t, w); resp.Status != 200 {
		t.Errorf("post artifact body status = %d, want 200", resp.Status)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/nodes/MOXA_ABC33", "")
	node := decode[fleet.NodeSnapshot](t, w)
	if node.Version != 34 {
		t.Errorf("version after post = %d, want 34", node.Version)
	}
	if node.LastError != "" {
		t.Errorf("last_error = %q, want empty", node.LastError)
	}
}

func TestOTAHardwareMismatch(t *testing.T) {
	srv, _ := testServer(t)

	do(t, srv, http.MethodPost, "/api/v1/channels/OTA_MOXA_ABC33/artifacts", `{"artifact":"CASSIA_50.swu"}`)
	w := do(t, srv, http.MethodGet, "/api/v1/nodes/MOXA_ABC33", "")

	node := decode[fleet.NodeSnapshot](t, w)
	if node.Version != 33 {
		t.Errorf("version = %d, want 33", node.Version)
	}
	if !strings.Contains(node.LastError, "CASSIA_50.swu") {
		t.Errorf("last_error = %q, want it to name the artifact", node.LastError)
	}
}

func TestPostArtifact_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown channel", "/api/v1/channels/OTA_NOPE/artifacts", `{"artifact":"MOXA_34.swu"}`, http.StatusBadRequest},
		{"invalid JSON", "/api/v1/channels/OTA_MOXA_ABC33/artifacts", "not json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t)
			w := do(t, srv, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetNode_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodGet, "/api/v1/nodes/NOPE", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if e := decode[Error](t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

// ─── Endpoints and DFU ─────────────────────────────────────────────

func TestDFUFlow(t *testing.T) {
	srv, _ := testServer(t)
	const base = "/api/v1/endpoints/CASSIA_ABC22_Canary_A_SERIAL"

	for path, body := range map[string]string{
		base + "/battery":                  `{"value":5000}`,
		base + "/backlog":                  `{"value":0}`,
		"/api/v1/firmware/Canary_A/latest": `{"value":2}`,
	} {
		if w := do(t, srv, http.MethodPut, path, body); w.Code != http.StatusOK {
			t.Fatalf("PUT %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}

	w := do(t, srv, http.MethodGet, base+"/eligibility", "")
	elig := decode[simulator.Eligibility](t, w)
	if !elig.Eligible || elig.Threshold != 3600 || elig.Candidate != 2 {
		t.Errorf("eligibility = %+v, want eligible, threshold 3600, candidate 2", elig)
	}

	w = do(t, srv, http.MethodGet, base+"/version/check?expected=2", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("version check before poll = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, srv, http.MethodGet, base, "")
	res := decode[simulator.DFUResult](t, w)
	if res.Outcome != simulator.DFUApplied || res.Endpoint.Version != 2 {
		t.Errorf("poll = %+v, want applied at version 2", res)
	}

	w = do(t, srv, http.MethodGet, base+"/version/check?expected=2", "")
	if w.Code != http.StatusOK {
		t.Errorf("version check after poll = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestPollEndpoint_Skipped(t *testing.T) {
	srv, _ := testServer(t)
	const base = "/api/v1/endpoints/MOXA_ABC33_EP1_SERIAL"

	do(t, srv, http.MethodPut, base+"/backlog", `{"value":4}`)
	do(t, srv, http.MethodPut, "/api/v1/firmware/EP1/latest", `{"value":3}`)

	w := do(t, srv, http.MethodGet, base, "")
	res := decode[simulator.DFUResult](t, w)
	if res.Outcome != simulator.DFUSkipped || res.Reason != simulator.SkipBacklog {
		t.Errorf("poll = %+v, want skipped for backlog", res)
	}
	if res.Endpoint.Version != 1 {
		t.Errorf("version = %d, want 1", res.Endpoint.Version)
	}
}

func TestSetEndpointField(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, http.MethodPut, "/api/v1/endpoints/AHN2_ABC11_EP2_SERIAL/version", `{"value":7}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ep := decode[fleet.EndpointSnapshot](t, w); ep.Version != 7 {
		t.Errorf("version = %d, want 7", ep.Version)
	}
}

func TestEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"poll unknown", http.MethodGet, "/api/v1/endpoints/NOPE_EP1_SERIAL", "", http.StatusNotFound},
		{"eligibility unknown", http.MethodGet, "/api/v1/endpoints/NOPE_EP1_SERIAL/eligibility", "", http.StatusNotFound},
		{"battery unknown", http.MethodPut, "/api/v1/endpoints/NOPE_EP1_SERIAL/battery", `{"value":1}`, http.StatusNotFound},
		{"battery missing value", http.MethodPut, "/api/v1/endpoints/MOXA_ABC33_EP1_SERIAL/battery", `{}`, http.StatusBadRequest},
		{"battery invalid JSON", http.MethodPut, "/api/v1/endpoints/MOXA_ABC33_EP1_SERIAL/battery", `nope`, http.StatusBadRequest},
		{"check non-integer", http.MethodGet, "/api/v1/endpoints/MOXA_ABC33_EP1_SERIAL/version/check?expected=x", "", http.StatusBadRequest},
		{"check unknown", http.MethodGet, "/api/v1/endpoints/NOPE_EP1_SERIAL/version/check?expected=1", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t)
			w := do(t, srv, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// ─── Thresholds and Firmware ───────────────────────────────────────

func TestThresholds(t *testing.T) {
	tests := []struct {
		hw         string
		wantStatus int
		want       int
	}{
		{"EP1", http.StatusOK, 2500},
		{"EP2", http.StatusOK, 2500},
		{"Canary_A", http.StatusOK, 3600},
		{"EP9", http.StatusNotFound, 0},
	}

	srv, _ := testServer(t)
	for _, tt := range tests {
		t.Run(tt.hw, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, "/api/v1/thresholds/"+tt.hw, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[map[string]any](t, w)
			if got := int(resp["threshold"].(float64)); got != tt.want {
				t.Errorf("threshold = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLatestFirmware(t *testing.T) {
	srv, _ := testServer(t)

	if w := do(t, srv, http.MethodPut, "/api/v1/firmware/EP9/latest", `{"value":2}`); w.Code != http.StatusNotFound {
		t.Errorf("PUT unsupported status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := do(t, srv, http.MethodPut, "/api/v1/firmware/EP2/latest", `{"value":5}`); w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d", w.Code, http.StatusOK)
	}

	w := do(t, srv, http.MethodGet, "/api/v1/firmware/EP2/latest", "")
	resp := decode[map[string]any](t, w)
	if got := int(resp["version"].(float64)); got != 5 {
		t.Errorf("version = %d, want 5", got)
	}
}

// ─── Seed, Journal, Scenarios ──────────────────────────────────────

func TestSeed(t *testing.T) {
	srv, sim := testServer(t)
	ctx := context.Background()

	sim.PostToChannel(ctx, "OTA_MOXA_ABC33", "MOXA_34.swu")
	if _, err := sim.GetNode(ctx, "MOXA_ABC33"); err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}

	w := do(t, srv, http.MethodPost, "/api/v1/simulation/seed", "")
	if w.Code != http.StatusOK {
		t.Fatalf("seed status = %d, want %d", w.Code, http.StatusOK)
	}

	node, err := sim.GetNode(ctx, "MOXA_ABC33")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.Version != 33 {
		t.Errorf("version after seed = %d, want 33", node.Version)
	}
}

func TestListJournal(t *testing.T) {
	srv, _ := testServer(t)

	do(t, srv, http.MethodPost, "/api/v1/channels/OTA_MOXA_ABC33/artifacts", `{"artifact":"MOXA_34.swu"}`)
	do(t, srv, http.MethodPost, "/api/v1/channels/OTA_NOPE/artifacts", `{"artifact":"MOXA_34.swu"}`)

	w := do(t, srv, http.MethodGet, "/api/v1/journal?kind=artifact_posted&limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	res := decode[journal.ListResult](t, w)
	if res.Total != 2 {
		t.Errorf("total = %d, want 2", res.Total)
	}
	if len(res.Entries) != 1 || res.Entries[0].Channel != "OTA_NOPE" {
		t.Errorf("entries = %+v, want the most recent post only", res.Entries)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/journal?channel=OTA_MOXA_ABC33", "")
	res = decode[journal.ListResult](t, w)
	if res.Total != 1 {
		t.Errorf("channel filter total = %d, want 1", res.Total)
	}
}

func TestListJournal_NotConfigured(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Journal = nil })
	w := do(t, srv, http.MethodGet, "/api/v1/journal", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRunScenarios(t *testing.T) {
	srv, sim := testServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/scenarios/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode[RunScenariosResponse](t, w)
	if !resp.Passed || len(resp.Results) != 2 {
		t.Errorf("response = %+v, want 2 passing results", resp)
	}

	// Reseeded afterwards.
	node, err := sim.GetNode(context.Background(), "MOXA_ABC33")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if node.Version != 33 {
		t.Errorf("version after run = %d, want 33", node.Version)
	}
}

func TestRunScenarios_Select(t *testing.T) {
	failing := &scenario.Scenario{ID: "bad", Steps: []scenario.Step{
		{Kind: scenario.StepOTA, Node: "MOXA_ABC33", Artifact: "AHN2_40.swu"},
	}}
	srv, _ := testServer(t, func(d *Deps) {
		d.Scenarios = func() ([]*scenario.Scenario, error) {
			defaults, err := scenario.Defaults()
			return append(defaults, failing), err
		}
	})

	w := do(t, srv, http.MethodPost, "/api/v1/scenarios/run", `{"ids":["bad"]}`)
	resp := decode[RunScenariosResponse](t, w)
	if resp.Passed || len(resp.Results) != 1 || resp.Results[0].ID != "bad" {
		t.Errorf("response = %+v, want one failing result for bad", resp)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/scenarios/run", `{"ids":["missing"]}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/scenarios/run", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRunScenarios_LoadError(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Scenarios = func() ([]*scenario.Scenario, error) {
			return nil, &scenario.LoadError{File: "x.yaml", Message: "broken"}
		}
	})

	w := do(t, srv, http.MethodPost, "/api/v1/scenarios/run", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
