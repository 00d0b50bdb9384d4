package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/fleetsim/internal/scenario"
)

// RunScenariosRequest selects scenarios by ID. An empty list runs all of them.
type RunScenariosRequest struct {
	IDs []string `json:"ids"`
}

// RunScenariosResponse reports each scenario's result.
type RunScenariosResponse struct {
	Passed  bool              `json:"passed"`
	Results []scenario.Result `json:"results"`
}

// handleRunScenarios runs scripted scenarios against the live simulator.
// Each scenario reseeds first, so existing state is lost.
func (s *Server) handleRunScenarios(w http.ResponseWriter, r *http.Request) {
	var req RunScenariosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	all, err := s.scenarios()
	if err != nil {
		s.logger.Error("failed to load scenarios", "error", err)
		writeInternalError(w, "failed to load scenarios: "+err.Error())
		return
	}

	selected, missing := selectScenarios(all, req.IDs)
	if len(missing) > 0 {
		writeNotFound(w, "unknown scenario: "+missing[0])
		return
	}

	results := s.runner.RunAll(r.Context(), selected)
	if s.reseed {
		if err := s.sim.Init(r.Context()); err != nil {
			s.logger.Warn("reseed after scenarios failed", "error", err)
		}
	}

	resp := RunScenariosResponse{Passed: true, Results: results}
	for _, res := range results {
		if !res.Passed {
			resp.Passed = false
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// selectScenarios picks scenarios by ID in request order. IDs with no match
// are returned as missing.
func selectScenarios(all []*scenario.Scenario, ids []string) (selected []*scenario.Scenario, missing []string) {
	if len(ids) == 0 {
		return all, nil
	}

	byID := make(map[string]*scenario.Scenario, len(all))
	for _, sc := range all {
		byID[sc.ID] = sc
	}
	for _, id := range ids {
		sc, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		selected = append(selected, sc)
	}
	return selected, missing
}
