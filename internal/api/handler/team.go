package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/shipyard/internal/api/middleware"
	"github.com/edvin/shipyard/internal/api/request"
	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
	"github.com/edvin/shipyard/internal/model"
)

type Team struct {
	svc *core.TeamService
}

func NewTeam(svc *core.TeamService) *Team {
	return &Team{svc: svc}
}

func (h *Team) List(w http.ResponseWriter, r *http.Request) {
	projectID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	members, err := h.svc.List(r.Context(), projectID)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, members)
}

// Add grants a user a role on the project. Owner cannot be granted directly;
// ownership moves only through TransferOwnership.
func (h *Team) Add(w http.ResponseWriter, r *http.Request) {
	projectID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		UserID string `json:"user_id" validate:"required"`
		Role   string `json:"role" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := model.ParseTeamRole(req.Role)
	if err != nil {
		response.WriteErrorCode(w, http.StatusBadRequest, core.CodeValidation, err.Error())
		return
	}

	actorID := mw.UserID(r.Context())
	if err := h.svc.Add(r.Context(), actorID, projectID, req.UserID, role); err != nil {
		writeCoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Team) SetRole(w http.ResponseWriter, r *http.Request) {
	projectID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := request.RequireID(chi.URLParam(r, "userID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Role string `json:"role" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := model.ParseTeamRole(req.Role)
	if err != nil {
		response.WriteErrorCode(w, http.StatusBadRequest, core.CodeValidation, err.Error())
		return
	}

	actorID := mw.UserID(r.Context())
	if err := h.svc.SetRole(r.Context(), actorID, projectID, userID, role); err != nil {
		writeCoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Team) Remove(w http.ResponseWriter, r *http.Request) {
	projectID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := request.RequireID(chi.URLParam(r, "userID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	actorID := mw.UserID(r.Context())
	if err := h.svc.Remove(r.Context(), actorID, projectID, userID); err != nil {
		writeCoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TransferOwnership atomically demotes the current owner to admin and
// promotes the target member.
func (h *Team) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	projectID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		NewOwnerID string `json:"new_owner_id" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	actorID := mw.UserID(r.Context())
	if err := h.svc.TransferOwnership(r.Context(), actorID, projectID, req.NewOwnerID); err != nil {
		writeCoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
