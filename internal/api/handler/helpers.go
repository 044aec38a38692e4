package handler

import (
	"errors"
	"net/http"

	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
)

// writeCoreError maps a core error to an HTTP status and emits the stable
// reason code alongside the message.
func writeCoreError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrFailoverInFlight):
		status = http.StatusConflict
		code = core.CodeRegionUnavailable
	default:
		switch code {
		case core.CodeValidation:
			status = http.StatusBadRequest
		case core.CodeInvalidTransition, core.CodeAdmissionConflict:
			status = http.StatusConflict
		case core.CodeQuotaExceeded:
			status = http.StatusTooManyRequests
		case core.CodeRegionUnavailable:
			status = http.StatusConflict
		case core.CodeTransientInfra:
			status = http.StatusServiceUnavailable
		}
	}

	if code == "" {
		response.WriteError(w, status, err.Error())
		return
	}
	response.WriteErrorCode(w, status, code, err.Error())
}
