package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Post("/simulation/seed", s.handleSeed)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.handleListNodes)
			r.Get("/{uuid}", s.handleGetNode)
		})

		r.Post("/channels/{channel}/artifacts", s.handlePostArtifact)

		r.Route("/endpoints/{serial}", func(r chi.Router) {
			r.Get("/", s.handlePollEndpoint)
			r.Get("/eligibility", s.handleEligibility)
			r.Put("/battery", s.handleSetBattery)
			r.Put("/backlog", s.handleSetBacklog)
			r.Put("/version", s.handleSetVersion)
			r.Get("/version/check", s.handleCheckVersion)
		})

		r.Get("/thresholds/{hardwareType}", s.handleGetThreshold)

		r.Route("/firmware/{hardwareType}/latest", func(r chi.Router) {
			r.Get("/", s.handleGetLatestFirmware)
			r.Put("/", s.handleSetLatestFirmware)
		})

		r.Get("/journal", s.handleListJournal)
		r.Post("/scenarios/run", s.handleRunScenarios)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server status and the health of optional components.
// A failing component degrades the status but still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.components))
	for name, c := range s.components {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
