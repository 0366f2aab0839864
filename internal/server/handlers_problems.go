package server

import (
	"net/http"

	"github.com/solacehq/solace/internal/model"
)

// defaultProblemPage is the page size of GET /v1/problems.
const defaultProblemPage = 20

// HandleCreateProblem handles POST /v1/problems.
func (h *Handlers) HandleCreateProblem(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProblemRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	p, err := h.problems.CreateProblem(r.Context(), callerID(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

// HandleListProblems handles GET /v1/problems.
func (h *Handlers) HandleListProblems(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultProblemPage)
	offset := queryOffset(r)
	ps, err := h.problems.ListProblems(r.Context(), callerID(r), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, ps, len(ps), limit, offset)
}

// HandleGetProblem handles GET /v1/problems/{id}.
func (h *Handlers) HandleGetProblem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	p, err := h.problems.GetProblem(r.Context(), callerID(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleDeleteProblem handles DELETE /v1/problems/{id}.
func (h *Handlers) HandleDeleteProblem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.problems.DeleteProblem(r.Context(), callerID(r), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegenerateAdvice handles POST /v1/problems/{id}/advice.
func (h *Handlers) HandleRegenerateAdvice(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	p, err := h.problems.RegenerateAdvice(r.Context(), callerID(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleSubmitFeedback handles POST /v1/feedback.
func (h *Handlers) HandleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req model.FeedbackRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	f, err := h.problems.SubmitFeedback(r.Context(), callerID(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, f)
}

// HandleCreatePlan handles POST /v1/reading-plans.
func (h *Handlers) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePlanRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	plan, err := h.problems.CreatePlan(r.Context(), callerID(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, plan)
}

// HandleGetPlan handles GET /v1/reading-plans/{id}.
func (h *Handlers) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	plan, err := h.problems.GetPlan(r.Context(), callerID(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, plan)
}

// HandleUpdatePlanItem handles PATCH /v1/reading-plans/{id}/items.
func (h *Handlers) HandleUpdatePlanItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req model.UpdatePlanItemRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	item, err := h.problems.UpdatePlanItem(r.Context(), callerID(r), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}
