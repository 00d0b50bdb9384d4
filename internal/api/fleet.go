package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleetsim/internal/fleet"
)

// ArtifactRequest is the body of POST /channels/{channel}/artifacts.
type ArtifactRequest struct {
	Artifact string `json:"artifact"`
}

// ValueRequest is the body of the endpoint and firmware PUT routes.
type ValueRequest struct {
	Value *int `json:"value"`
}

// StatusResponse carries a fleet acknowledgement code.
type StatusResponse struct {
	Status int `json:"status"`
}

// decodeValue reads a ValueRequest, writing a 400 and reporting false on failure.
func decodeValue(w http.ResponseWriter, r *http.Request) (int, bool) {
	var req ValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return 0, false
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return 0, false
	}
	return *req.Value, true
}

// handleSeed discards all simulation state and recreates the seed topology.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if err := s.sim.Init(r.Context()); err != nil {
		s.logger.Error("failed to seed simulation", "error", err)
		writeInternalError(w, "failed to seed simulation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":     s.sim.Registry().NodeCount(),
		"endpoints": s.sim.Registry().EndpointCount(),
	})
}

// handleListNodes returns every node, applying pending artifacts.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.sim.Nodes(r.Context())
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// handleGetNode returns one node, applying its pending artifact.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.sim.GetNode(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handlePostArtifact routes an artifact to a channel. The response status
// mirrors the fleet acknowledgement: 200 when a node listens, 400 otherwise.
func (s *Server) handlePostArtifact(w http.ResponseWriter, r *http.Request) {
	var req ArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	status := s.sim.PostToChannel(r.Context(), chi.URLParam(r, "channel"), req.Artifact)
	writeJSON(w, int(status), StatusResponse{Status: int(status)})
}

// handlePollEndpoint reads an endpoint, running DFU when it is eligible.
func (s *Server) handlePollEndpoint(w http.ResponseWriter, r *http.Request) {
	res, err := s.sim.PollEndpoint(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEligibility reports the DFU verdict without applying anything.
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	e, err := s.sim.DFUEligibility(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleSetBattery(w http.ResponseWriter, r *http.Request) {
	s.setEndpointField(w, r, s.sim.SetEndpointBattery)
}

func (s *Server) handleSetBacklog(w http.ResponseWriter, r *http.Request) {
	s.setEndpointField(w, r, s.sim.SetEndpointBacklog)
}

func (s *Server) handleSetVersion(w http.ResponseWriter, r *http.Request) {
	s.setEndpointField(w, r, s.sim.SetEndpointVersion)
}

// setEndpointField applies a PUT {"value": n} and returns the endpoint's new state.
func (s *Server) setEndpointField(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, serial string, v int) error) {
	value, ok := decodeValue(w, r)
	if !ok {
		return
	}

	serial := chi.URLParam(r, "serial")
	if err := set(r.Context(), serial, value); err != nil {
		writeFleetError(w, err)
		return
	}

	ep, err := s.sim.Endpoint(serial)
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

// handleCheckVersion compares the endpoint version with ?expected=n.
// Answers 200 on match and 400 on mismatch.
func (s *Server) handleCheckVersion(w http.ResponseWriter, r *http.Request) {
	expected, err := strconv.Atoi(r.URL.Query().Get("expected"))
	if err != nil {
		writeBadRequest(w, "expected must be an integer")
		return
	}

	status, err := s.sim.CheckEndpointVersion(r.Context(), chi.URLParam(r, "serial"), expected)
	if err != nil {
		writeFleetError(w, err)
		return
	}
	if !status.OK() {
		writeError(w, int(status), ErrCodeVersionCheck, "endpoint version does not match")
		return
	}
	writeJSON(w, int(status), StatusResponse{Status: int(status)})
}

// handleGetThreshold returns the DFU battery threshold for a hardware type.
func (s *Server) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	hw := fleet.HardwareType(chi.URLParam(r, "hardwareType"))
	threshold, err := s.sim.DFUThreshold(hw)
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hardware_type": hw,
		"threshold":     threshold,
	})
}

// handleGetLatestFirmware returns the released firmware version for a hardware type.
func (s *Server) handleGetLatestFirmware(w http.ResponseWriter, r *http.Request) {
	hw := fleet.HardwareType(chi.URLParam(r, "hardwareType"))
	version, err := s.sim.LatestEndpointVersion(hw)
	if err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hardware_type": hw,
		"version":       version,
	})
}

// handleSetLatestFirmware releases a firmware version for a hardware type.
func (s *Server) handleSetLatestFirmware(w http.ResponseWriter, r *http.Request) {
	version, ok := decodeValue(w, r)
	if !ok {
		return
	}

	hw := fleet.HardwareType(chi.URLParam(r, "hardwareType"))
	if err := s.sim.SetLatestEndpointVersion(r.Context(), hw, version); err != nil {
		writeFleetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hardware_type": hw,
		"version":       version,
	})
}
