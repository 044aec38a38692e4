package handler

import (
	"net/http"

	"github.com/edvin/shipyard/internal/api/request"
	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
)

// BuilderCallback receives progress and terminal results from the external
// builder fleet.
type BuilderCallback struct {
	svc *core.DeploymentService
	hub *core.BuildLogHub
}

func NewBuilderCallback(svc *core.DeploymentService, hub *core.BuildLogHub) *BuilderCallback {
	return &BuilderCallback{svc: svc, hub: hub}
}

// Result applies the builder's terminal callback. The result is forwarded as
// a workflow signal; a callback arriving after the deployment went terminal
// is acknowledged and dropped.
func (h *BuilderCallback) Result(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeploymentID    string  `json:"deployment_id" validate:"required"`
		Status          string  `json:"status" validate:"required"`
		URL             *string `json:"url,omitempty"`
		DurationSeconds *int    `json:"duration_seconds,omitempty"`
		ErrorDetail     *string `json:"error_detail,omitempty"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.svc.SignalBuilderCallback(r.Context(), req.DeploymentID, core.BuilderResult{
		Status:          req.Status,
		URL:             req.URL,
		DurationSeconds: req.DurationSeconds,
		ErrorDetail:     req.ErrorDetail,
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	// The builder sends nothing after its terminal result.
	h.hub.Close(req.DeploymentID)

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Logs ingests a batch of build log lines and fans them out to any attached
// log stream subscribers.
func (h *BuilderCallback) Logs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeploymentID string   `json:"deployment_id" validate:"required"`
		Lines        []string `json:"lines" validate:"required,min=1"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.hub.Publish(req.DeploymentID, req.Lines...)
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
