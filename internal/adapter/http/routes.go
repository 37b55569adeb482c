package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Policies
		r.Post("/policies", h.CreatePolicy)
		r.Post("/policies/validate", h.ValidatePolicy)
		r.Get("/policies/{id}", h.GetPolicy)
		r.Put("/policies/{id}", h.UpdatePolicy)
		r.Delete("/policies/{id}", h.DeletePolicy)
		r.Post("/policies/{id}/activate", h.ActivatePolicy)
		r.Post("/policies/{id}/deactivate", h.DeactivatePolicy)
		r.Get("/policies/{id}/compliance", h.PolicyCompliance)

		// Policies (nested under projects)
		r.Get("/projects/{id}/policies", h.ListPolicies)

		// Agents
		r.Post("/agents", h.RegisterAgent)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}", h.GetAgent)
		r.Post("/agents/{id}/start", h.StartAgent)
		r.Post("/agents/{id}/pause", h.PauseAgent)
		r.Post("/agents/{id}/resume", h.ResumeAgent)
		r.Post("/agents/{id}/stop", h.StopAgent)
		r.Get("/agents/{id}/actions", h.ListAgentActions)

		// Actions
		r.Get("/actions/{id}", h.GetAction)
		r.Post("/actions/{id}/approve", h.ApproveAction)
		r.Post("/actions/{id}/reject", h.RejectAction)
		r.Post("/actions/{id}/execute", h.ExecuteAction)

		// Alerts
		r.Get("/alerts", h.ListAlerts)
	})
}
