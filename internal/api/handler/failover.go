package handler

import (
	"net/http"

	"github.com/edvin/shipyard/internal/api/request"
	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
)

type Failover struct {
	ctrl *core.FailoverController
}

func NewFailover(ctrl *core.FailoverController) *Failover {
	return &Failover{ctrl: ctrl}
}

// Trigger moves the primary serving role away from a region. With an
// explicit target the move is validated against that region; without one the
// controller picks the best healthy candidate.
func (h *Failover) Trigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID    string `json:"project_id" validate:"required"`
		FromRegionID string `json:"from_region_id" validate:"required"`
		ToRegionID   string `json:"to_region_id"`
		Reason       string `json:"reason"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	toID := req.ToRegionID
	if toID == "" {
		chosen, err := h.ctrl.AutoFailover(r.Context(), req.ProjectID, req.FromRegionID, req.Reason)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		toID = chosen
	} else {
		if err := h.ctrl.Failover(r.Context(), req.ProjectID, req.FromRegionID, toID, req.Reason); err != nil {
			writeCoreError(w, err)
			return
		}
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{
		"from_region_id": req.FromRegionID,
		"to_region_id":   toID,
	})
}
