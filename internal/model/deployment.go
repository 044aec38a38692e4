package model

import (
	"fmt"
	"time"
)

// DeploymentStatus is the lifecycle state of a deployment. It is a closed
// enum: values are parsed at the API boundary and unknown tokens are
// rejected before they ever reach storage.
type DeploymentStatus string

const (
	DeploymentQueued    DeploymentStatus = "queued"
	DeploymentCloning   DeploymentStatus = "cloning"
	DeploymentBuilding  DeploymentStatus = "building"
	DeploymentDeploying DeploymentStatus = "deploying"
	DeploymentReady     DeploymentStatus = "ready"
	DeploymentError     DeploymentStatus = "error"
	DeploymentCancelled DeploymentStatus = "cancelled"
)

// deploymentTransitions is the full transition table. Terminal states have
// no entry.
var deploymentTransitions = map[DeploymentStatus][]DeploymentStatus{
	DeploymentQueued:    {DeploymentCloning, DeploymentCancelled, DeploymentError},
	DeploymentCloning:   {DeploymentBuilding, DeploymentCancelled, DeploymentError},
	DeploymentBuilding:  {DeploymentDeploying, DeploymentCancelled, DeploymentError},
	DeploymentDeploying: {DeploymentReady, DeploymentError},
}

// ParseDeploymentStatus validates a status token. Matching is exact;
// wrong-case or unknown strings are rejected.
func ParseDeploymentStatus(s string) (DeploymentStatus, error) {
	switch DeploymentStatus(s) {
	case DeploymentQueued, DeploymentCloning, DeploymentBuilding,
		DeploymentDeploying, DeploymentReady, DeploymentError, DeploymentCancelled:
		return DeploymentStatus(s), nil
	}
	return "", fmt.Errorf("unknown deployment status %q", s)
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentReady || s == DeploymentError || s == DeploymentCancelled
}

// CanTransitionTo reports whether the transition table allows s -> to.
func (s DeploymentStatus) CanTransitionTo(to DeploymentStatus) bool {
	for _, allowed := range deploymentTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NonTerminalDeploymentStatuses returns the statuses counted as in-flight
// for admission purposes.
func NonTerminalDeploymentStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		DeploymentQueued, DeploymentCloning, DeploymentBuilding, DeploymentDeploying,
	}
}

// Trigger source constants.
const (
	TriggerGitPush   = "git_push"
	TriggerCLI       = "cli"
	TriggerDashboard = "dashboard"
	TriggerRollback  = "rollback"
	TriggerRedeploy  = "redeploy"
)

type Deployment struct {
	ID            string           `json:"id" db:"id"`
	ProjectID     string           `json:"project_id" db:"project_id"`
	Branch        string           `json:"branch" db:"branch"`
	CommitRef     string           `json:"commit_ref" db:"commit_ref"`
	TriggerSource string           `json:"trigger_source" db:"trigger_source"`
	Status        DeploymentStatus `json:"status" db:"status"`
	RegionID      *string          `json:"region_id,omitempty" db:"region_id"`
	BuildSeconds  *int             `json:"build_seconds,omitempty" db:"build_seconds"`
	URL           *string          `json:"url,omitempty" db:"url"`
	ErrorDetail   *string          `json:"error_detail,omitempty" db:"error_detail"`
	IsActive      bool             `json:"is_active" db:"is_active"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}
