package http

import (
	"errors"
	"net/http"

	"github.com/wardenhq/warden/internal/domain/decision"
	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/holistic"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/database"
	"github.com/wardenhq/warden/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Checkpoints *service.CheckpointService
	Governed    *service.GovernedService
	Holistic    *service.HolisticService
	Gate        *service.GateService
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

type decisionResponse struct {
	Decision *decision.Decision `json:"decision"`
	Review   *review.Review     `json:"review"`
}

// SubmitDecision handles POST /checkpoints/decision. The call blocks until a
// verdict exists; the agent never proceeds on an unreviewed decision.
func (h *Handlers) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decision.SubmitRequest](w, r)
	if !ok {
		return
	}

	d, rev, err := h.Checkpoints.SubmitDecision(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "decision not recorded")
		return
	}
	writeJSON(w, http.StatusCreated, decisionResponse{Decision: d, Review: rev})
}

// SubmitPlan handles POST /checkpoints/plan.
func (h *Handlers) SubmitPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.PlanSubmission](w, r)
	if !ok {
		return
	}

	result, err := h.Checkpoints.SubmitPlan(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "plan not reviewed")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// SubmitCompletion handles POST /checkpoints/completion.
func (h *Handlers) SubmitCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.CompletionSubmission](w, r)
	if !ok {
		return
	}

	result, err := h.Checkpoints.SubmitCompletion(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "completion not reviewed")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListDecisions handles GET /decisions with optional task_id, agent, and
// verdict query filters.
func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.DecisionFilter{
		TaskID:  q.Get("task_id"),
		Agent:   q.Get("agent"),
		Verdict: review.Verdict(q.Get("verdict")),
	}
	if f.Verdict != "" && !f.Verdict.Valid() {
		writeError(w, http.StatusBadRequest, "unknown verdict filter")
		return
	}

	decisions, err := h.Checkpoints.DecisionHistory(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "decisions not found")
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}

// GovernanceStatus handles GET /governance/status.
func (h *Handlers) GovernanceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Checkpoints.GovernanceStatus(r.Context())
	if err != nil {
		writeDomainError(w, err, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ---------------------------------------------------------------------------
// Governed tasks
// ---------------------------------------------------------------------------

// CreateGovernedTask handles POST /tasks/governed.
func (h *Handlers) CreateGovernedTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[governed.CreateRequest](w, r)
	if !ok {
		return
	}

	task, err := h.Governed.CreateGovernedTask(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "governed task not created")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type addBlockerRequest struct {
	ReviewType string `json:"review_type"`
	Context    string `json:"context,omitempty"`
}

// AddReviewBlocker handles POST /tasks/{id}/blockers, where {id} is the
// implementation item id.
func (h *Handlers) AddReviewBlocker(w http.ResponseWriter, r *http.Request) {
	implItemID := urlParam(r, "id")
	req, ok := readJSON[addBlockerRequest](w, r)
	if !ok {
		return
	}

	item, err := h.Governed.AddReviewBlocker(r.Context(), implItemID, req.ReviewType, req.Context)
	if err != nil {
		writeDomainError(w, err, "implementation item not found")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type completeReviewRequest struct {
	Verdict           review.Verdict   `json:"verdict"`
	Guidance          string           `json:"guidance,omitempty"`
	Findings          []review.Finding `json:"findings,omitempty"`
	StandardsVerified []string         `json:"standards_verified,omitempty"`
}

// CompleteReview handles POST /reviews/{id}/complete, where {id} is the
// review item id.
func (h *Handlers) CompleteReview(w http.ResponseWriter, r *http.Request) {
	reviewItemID := urlParam(r, "id")
	req, ok := readJSON[completeReviewRequest](w, r)
	if !ok {
		return
	}

	task, err := h.Governed.CompleteTaskReview(r.Context(), reviewItemID,
		req.Verdict, req.Guidance, req.Findings, req.StandardsVerified)
	if err != nil {
		if errors.Is(err, review.ErrInvalidVerdict) {
			writeError(w, http.StatusBadRequest, "verdict must be approved, blocked, or needs-human-review")
			return
		}
		writeDomainError(w, err, "review item not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// TaskReviewStatus handles GET /tasks/{id}/review-status, where {id} is the
// implementation item id.
func (h *Handlers) TaskReviewStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Governed.TaskReviewStatus(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "implementation item not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// PendingReviews handles GET /reviews/pending.
func (h *Handlers) PendingReviews(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Governed.PendingReviews(r.Context())
	if err != nil {
		writeDomainError(w, err, "pending reviews unavailable")
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// ---------------------------------------------------------------------------
// Gate and holistic
// ---------------------------------------------------------------------------

type gateCheckRequest struct {
	ImplItemID string `json:"impl_item_id"`
}

// GateCheck handles POST /gate/check.
func (h *Handlers) GateCheck(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[gateCheckRequest](w, r)
	if !ok {
		return
	}
	if req.ImplItemID == "" {
		writeError(w, http.StatusBadRequest, "impl_item_id is required")
		return
	}

	d, err := h.Gate.CheckExecution(r.Context(), req.ImplItemID)
	if err != nil {
		writeDomainError(w, err, "gate check failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type sessionHolisticResponse struct {
	Outstanding bool              `json:"outstanding"`
	Guidance    string            `json:"guidance,omitempty"`
	Reviews     []holistic.Record `json:"reviews"`
}

// SessionHolistic handles GET /sessions/{id}/holistic: the session's
// collective-review history plus whether an unresolved review currently
// holds the session.
func (h *Handlers) SessionHolistic(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")

	outstanding, guidance, err := h.Holistic.OutstandingGuidance(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	reviews, err := h.Holistic.SessionReviews(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "session reviews unavailable")
		return
	}
	if reviews == nil {
		reviews = []holistic.Record{}
	}
	writeJSON(w, http.StatusOK, sessionHolisticResponse{
		Outstanding: outstanding,
		Guidance:    guidance,
		Reviews:     reviews,
	})
}
