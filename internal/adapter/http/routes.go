package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Review checkpoints (synchronous: the response carries the verdict)
		r.Post("/checkpoints/decision", h.SubmitDecision)
		r.Post("/checkpoints/plan", h.SubmitPlan)
		r.Post("/checkpoints/completion", h.SubmitCompletion)

		// Decision history and governance status
		r.Get("/decisions", h.ListDecisions)
		r.Get("/governance/status", h.GovernanceStatus)

		// Governed task pairs
		r.Post("/tasks/governed", h.CreateGovernedTask)
		r.Post("/tasks/{id}/blockers", h.AddReviewBlocker)
		r.Get("/tasks/{id}/review-status", h.TaskReviewStatus)

		// Review items
		r.Post("/reviews/{id}/complete", h.CompleteReview)
		r.Get("/reviews/pending", h.PendingReviews)

		// Execution gate
		r.Post("/gate/check", h.GateCheck)

		// Holistic session reviews
		r.Get("/sessions/{id}/holistic", h.SessionHolistic)
	})
}
