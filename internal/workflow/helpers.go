package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/shipyard/internal/activity"
	"github.com/edvin/shipyard/internal/model"
)

// transitionDeployment advances the deployment through the state machine.
func transitionDeployment(ctx workflow.Context, id string, to model.DeploymentStatus) error {
	return workflow.ExecuteActivity(ctx, "TransitionDeployment", activity.TransitionDeploymentParams{
		ID: id,
		To: string(to),
	}).Get(ctx, nil)
}

// meterBuild bills consumed build time. Best-effort: metering failures are
// logged, never fail the deploy.
func meterBuild(ctx workflow.Context, projectID string, buildSeconds int) {
	if buildSeconds <= 0 {
		return
	}
	err := workflow.ExecuteActivity(ctx, "MeterBuildMinutes", activity.MeterBuildMinutesParams{
		ProjectID:    projectID,
		BuildSeconds: buildSeconds,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("meter build minutes failed",
			"project", projectID, "build_seconds", buildSeconds, "error", err)
	}
}

// sendEvent fires a deployment event notification. Best-effort: delivery
// failures are logged, never propagated.
func sendEvent(ctx workflow.Context, project model.Project, deployment model.Deployment, eventType string, metadata map[string]string) {
	event := model.DeploymentEvent{
		Type:         eventType,
		UserID:       project.OwnerID,
		ProjectID:    project.ID,
		DeploymentID: deployment.ID,
		Metadata:     metadata,
		OccurredAt:   workflow.Now(ctx),
	}
	if err := workflow.ExecuteActivity(ctx, "SendEvent", event).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("send event failed",
			"type", eventType, "deployment", deployment.ID, "error", err)
	}
}

// releaseRegion hands back a placement slot after a failed deploy phase.
func releaseRegion(ctx workflow.Context, regionID string) {
	if err := workflow.ExecuteActivity(ctx, "ReleaseRegionSlot", regionID).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("release region slot failed", "region", regionID, "error", err)
	}
}

// recordAudit appends an audit row from a cron workflow. Best-effort.
func recordAudit(ctx workflow.Context, params activity.RecordAuditLogParams) {
	if err := workflow.ExecuteActivity(ctx, "RecordAuditLog", params).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("record audit log failed", "action", params.Action, "error", err)
	}
}
