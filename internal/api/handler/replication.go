package handler

import (
	"net/http"

	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
)

type Replication struct {
	svc *core.ReplicationService
}

func NewReplication(svc *core.ReplicationService) *Replication {
	return &Replication{svc: svc}
}

// List returns every tracked replication pair. With ?stale=true, only pairs
// whose last sync is older than the freshness window.
func (h *Replication) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stale") == "true" {
		stale, err := h.svc.Stale(r.Context())
		if err != nil {
			writeCoreError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, stale)
		return
	}

	all, err := h.svc.List(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, all)
}
