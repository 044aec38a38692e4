package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/shipyard/internal/api/request"
	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
	"github.com/edvin/shipyard/internal/model"
)

type Deployment struct {
	svc *core.DeploymentService
}

func NewDeployment(svc *core.DeploymentService) *Deployment {
	return &Deployment{svc: svc}
}

// Create triggers a deployment for a project. Admission and quota run inside
// the service; a superseded or joined in-flight build surfaces in the
// response status.
func (h *Deployment) Create(w http.ResponseWriter, r *http.Request) {
	projectID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Branch        string `json:"branch" validate:"required,branch"`
		CommitRef     string `json:"commit_ref" validate:"required,commitref"`
		TriggerSource string `json:"trigger_source"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	trigger := req.TriggerSource
	if trigger == "" {
		trigger = model.TriggerDashboard
	}

	deployment, err := h.svc.Create(r.Context(), projectID, req.Branch, req.CommitRef, trigger)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, deployment)
}

func (h *Deployment) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	deployment, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, deployment)
}

func (h *Deployment) ListByProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	pg := request.ParsePagination(r)

	deployments, hasMore, err := h.svc.ListByProject(r.Context(), projectID, pg.Limit, pg.Cursor)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(deployments) > 0 {
		nextCursor = deployments[len(deployments)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, deployments, nextCursor, hasMore)
}

// Cancel requests cooperative cancellation. Cancelling an already-terminal
// deployment succeeds without side effects.
func (h *Deployment) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Cancel(r.Context(), id); err != nil {
		writeCoreError(w, err)
		return
	}

	deployment, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, deployment)
}

// Rollback re-promotes a previous ready deployment to active.
func (h *Deployment) Rollback(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	deployment, err := h.svc.Rollback(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, deployment)
}

// Redeploy re-runs the deployment's branch and commit through admission.
func (h *Deployment) Redeploy(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	deployment, err := h.svc.Redeploy(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, deployment)
}

func (h *Deployment) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeCoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
