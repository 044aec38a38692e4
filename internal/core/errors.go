package core

import (
	"errors"
	"fmt"
)

// Stable machine-checkable reason codes. Callers (CLI, dashboard) branch on
// these, so they are part of the API contract.
const (
	CodeValidation         = "validation_error"
	CodeInvalidTransition  = "invalid_transition"
	CodeAdmissionConflict  = "admission_conflict"
	CodeQuotaExceeded      = "quota_exceeded"
	CodeRegionUnavailable  = "region_unavailable"
	CodeBuilderFailure     = "builder_failure"
	CodeTransientInfra     = "transient_infra_error"
	CodeNotFound           = "not_found"
)

// ValidationError rejects malformed input before admission. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// Code returns the stable reason code.
func (e *ValidationError) Code() string { return CodeValidation }

// InvalidTransitionError signals a state-machine contract violation. Always
// a caller bug; the stored status is left unchanged.
type InvalidTransitionError struct {
	DeploymentID string
	From         string
	To           string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("deployment %s: invalid transition %s -> %s", e.DeploymentID, e.From, e.To)
}

func (e *InvalidTransitionError) Code() string { return CodeInvalidTransition }

// AdmissionConflictError reports an in-flight build for the same
// (project, branch) key. InFlightID lets a caller join the existing
// deployment under the join policy.
type AdmissionConflictError struct {
	ProjectID  string
	Branch     string
	InFlightID string
}

func (e *AdmissionConflictError) Error() string {
	return fmt.Sprintf("deployment %s already in flight for %s/%s", e.InFlightID, e.ProjectID, e.Branch)
}

func (e *AdmissionConflictError) Code() string { return CodeAdmissionConflict }

// QuotaExceededError carries the current counter and limit so callers can
// present differentiated UI. Not retried.
type QuotaExceededError struct {
	UserID  string
	Metric  string
	Current int64
	Limit   int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %s at %d of %d", e.UserID, e.Metric, e.Current, e.Limit)
}

func (e *QuotaExceededError) Code() string { return CodeQuotaExceeded }

// RegionUnavailableError rejects a failover to an unusable target.
type RegionUnavailableError struct {
	RegionID string
	Reason   string
}

func (e *RegionUnavailableError) Error() string {
	return fmt.Sprintf("region %s unavailable: %s", e.RegionID, e.Reason)
}

func (e *RegionUnavailableError) Code() string { return CodeRegionUnavailable }

// TransientInfraError reports a dependency hiccup (workflow engine, builder
// fleet) where retrying the same request can succeed. Surfaces as 503 so
// callers with retry loops back off and try again.
type TransientInfraError struct {
	Op  string
	Err error
}

func (e *TransientInfraError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientInfraError) Unwrap() error { return e.Err }

func (e *TransientInfraError) Code() string { return CodeTransientInfra }

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrFailoverInFlight rejects a second failover for a project while one is
// already running.
var ErrFailoverInFlight = errors.New("failover already in flight")

// ErrorCode maps an error to its stable reason code, or empty if the error
// carries none.
func ErrorCode(err error) string {
	type coded interface{ Code() string }
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound
	}
	return ""
}
