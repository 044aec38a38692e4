package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/shipyard/internal/api/request"
	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
	"github.com/edvin/shipyard/internal/model"
)

type Region struct {
	svc *core.RegionService
}

func NewRegion(svc *core.RegionService) *Region {
	return &Region{svc: svc}
}

func (h *Region) List(w http.ResponseWriter, r *http.Request) {
	regions, err := h.svc.List(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, regions)
}

func (h *Region) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             string `json:"id" validate:"required,slug"`
		Name           string `json:"name" validate:"required"`
		Endpoint       string `json:"endpoint" validate:"required,url"`
		IsPrimary      bool   `json:"is_primary"`
		Priority       int    `json:"priority"`
		MaxDeployments int    `json:"max_deployments" validate:"required,min=1"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	region := &model.Region{
		ID:             req.ID,
		Name:           req.Name,
		Endpoint:       req.Endpoint,
		Status:         model.RegionHealthy,
		IsPrimary:      req.IsPrimary,
		Priority:       req.Priority,
		MaxDeployments: req.MaxDeployments,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.svc.Create(r.Context(), region); err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, region)
}

func (h *Region) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	region, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, region)
}

// HealthCheck records one probe outcome for a region. The cron worker is the
// usual caller of the underlying service; this endpoint lets an operator
// force an observation.
func (h *Region) HealthCheck(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Healthy   bool `json:"healthy"`
		LatencyMs int  `json:"latency_ms" validate:"min=0"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	region, err := h.svc.RecordHealthCheck(r.Context(), id, req.Healthy, req.LatencyMs)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, region)
}

// Maintenance toggles a region in or out of maintenance mode.
func (h *Region) Maintenance(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.SetMaintenance(r.Context(), id, req.Enabled); err != nil {
		writeCoreError(w, err)
		return
	}

	region, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, region)
}

func (h *Region) Delete(w http.ResponseWriter, r *http.Request) {
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
