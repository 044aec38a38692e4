package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/shipyard/internal/api/middleware"
	"github.com/edvin/shipyard/internal/api/request"
	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
)

type Project struct {
	svc *core.ProjectService
}

func NewProject(svc *core.ProjectService) *Project {
	return &Project{svc: svc}
}

func (h *Project) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug         string `json:"slug" validate:"required,slug"`
		BuildCommand string `json:"build_command"`
		OutputDir    string `json:"output_dir"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ownerID := mw.UserID(r.Context())
	project, err := h.svc.Create(r.Context(), ownerID, req.Slug, req.BuildCommand, req.OutputDir)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, project)
}

func (h *Project) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, project)
}

// List returns the caller's projects, newest first.
func (h *Project) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	ownerID := mw.UserID(r.Context())

	projects, hasMore, err := h.svc.ListByOwner(r.Context(), ownerID, pg.Limit, pg.Cursor)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(projects) > 0 {
		nextCursor = projects[len(projects)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, projects, nextCursor, hasMore)
}

func (h *Project) Delete(w http.ResponseWriter, r *http.Request) {
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
