package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/shipyard/internal/api/request"
	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
	"github.com/edvin/shipyard/internal/model"
)

type Usage struct {
	svc *core.UsageService
}

func NewUsage(svc *core.UsageService) *Usage {
	return &Usage{svc: svc}
}

// MetricReport is one metric's consumption against its plan limit. A limit
// of -1 means unlimited; its percentage is always 0.
type MetricReport struct {
	Used    int64   `json:"used"`
	Limit   int64   `json:"limit"`
	Percent float64 `json:"percent"`
}

// UsageReport is the current billing period's consumption for a user.
type UsageReport struct {
	UserID  string                  `json:"user_id"`
	Period  string                  `json:"period"`
	Plan    string                  `json:"plan"`
	Metrics map[string]MetricReport `json:"metrics"`
}

// Get returns the user's current-period usage with per-metric percentages.
func (h *Usage) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := request.RequireID(chi.URLParam(r, "userID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	plan, err := h.svc.GetPlan(r.Context(), userID)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	report := UsageReport{
		UserID:  userID,
		Period:  record.Period,
		Plan:    plan.Name,
		Metrics: make(map[string]MetricReport, 4),
	}
	for _, metric := range []model.UsageMetric{
		model.MetricDeployments, model.MetricBuildMinutes,
		model.MetricBandwidthMB, model.MetricFunctionInvocations,
	} {
		used := record.Counter(metric)
		limit := plan.Limit(metric)
		report.Metrics[string(metric)] = MetricReport{
			Used:    used,
			Limit:   limit,
			Percent: core.UsagePercentage(float64(used), float64(limit)),
		}
	}

	response.WriteJSON(w, http.StatusOK, report)
}
