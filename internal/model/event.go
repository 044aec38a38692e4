package model

import "time"

// Deployment event types emitted to the notification collaborator. Exactly
// one event is emitted per terminal transition, plus one on start.
const (
	EventDeploymentStarted = "deployment_started"
	EventDeploymentSuccess = "deployment_success"
	EventDeploymentFailure = "deployment_failure"
)

// DeploymentEvent is the payload handed to the notification collaborator.
// Delivery, retries, and channel formatting are the collaborator's concern.
type DeploymentEvent struct {
	Type         string            `json:"type"`
	UserID       string            `json:"user_id"`
	ProjectID    string            `json:"project_id"`
	DeploymentID string            `json:"deployment_id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}
