package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/shipyard/internal/activity"
	"github.com/edvin/shipyard/internal/core"
	"github.com/edvin/shipyard/internal/model"
)

// buildTimeout bounds the wait for the external builder's callback. A build
// that never reports back lands in error, not limbo.
const buildTimeout = 30 * time.Minute

// DeployWorkflow drives one deployment through its lifecycle: cloning,
// building (delegated to the external builder, which reports back through a
// signal), then deploying into a region. Cancellation is honored up to the
// point the build result is accepted; the deploying phase always runs to a
// terminal outcome.
func DeployWorkflow(ctx workflow.Context, deploymentID string) error {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var deployment model.Deployment
	if err := workflow.ExecuteActivity(ctx, "GetDeploymentByID", deploymentID).Get(ctx, &deployment); err != nil {
		return fmt.Errorf("get deployment: %w", err)
	}
	var project model.Project
	if err := workflow.ExecuteActivity(ctx, "GetProjectByID", deployment.ProjectID).Get(ctx, &project); err != nil {
		return fmt.Errorf("get project: %w", err)
	}

	sendEvent(ctx, project, deployment, model.EventDeploymentStarted, nil)

	// Clone.
	if err := transitionDeployment(ctx, deploymentID, model.DeploymentCloning); err != nil {
		return err
	}
	err := workflow.ExecuteActivity(ctx, "CloneRepo", activity.CloneRepoParams{
		DeploymentID: deploymentID,
		ProjectID:    deployment.ProjectID,
		Branch:       deployment.Branch,
		CommitRef:    deployment.CommitRef,
	}).Get(ctx, nil)
	if err != nil {
		return abandonDeploy(ctx, project, deployment, 0, err)
	}

	// Build. The builder works asynchronously and reports through the
	// builder-result signal; the workflow waits with a hard timeout.
	if err := transitionDeployment(ctx, deploymentID, model.DeploymentBuilding); err != nil {
		return abandonDeploy(ctx, project, deployment, 0, err)
	}
	buildStart := workflow.Now(ctx)

	err = workflow.ExecuteActivity(ctx, "StartBuild", activity.StartBuildParams{
		DeploymentID: deploymentID,
		ProjectID:    deployment.ProjectID,
		BuildCommand: project.BuildCommand,
		OutputDir:    project.OutputDir,
	}).Get(ctx, nil)
	if err != nil {
		return abandonDeploy(ctx, project, deployment, 0, err)
	}

	result, err := awaitBuildResult(ctx, deploymentID)
	buildSeconds := int(workflow.Now(ctx).Sub(buildStart).Seconds())
	if err != nil {
		return abandonDeploy(ctx, project, deployment, buildSeconds, err)
	}
	if result.DurationSeconds != nil {
		buildSeconds = *result.DurationSeconds
	}
	if result.Status != string(model.DeploymentReady) {
		detail := "build failed"
		if result.ErrorDetail != nil {
			detail = *result.ErrorDetail
		}
		return abandonDeploy(ctx, project, deployment, buildSeconds, fmt.Errorf("%s", detail))
	}

	// Deploy. Past this point cancellation is not honored: the phase runs on
	// a disconnected context so a late CancelWorkflow cannot strand a
	// half-placed deployment.
	deployCtx, _ := workflow.NewDisconnectedContext(ctx)
	deployCtx = workflow.WithActivityOptions(deployCtx, ao)

	if err := transitionDeployment(deployCtx, deploymentID, model.DeploymentDeploying); err != nil {
		return abandonDeploy(deployCtx, project, deployment, buildSeconds, err)
	}

	var placement activity.AssignRegionResult
	err = workflow.ExecuteActivity(deployCtx, "AssignRegion", deploymentID).Get(deployCtx, &placement)
	if err != nil {
		return abandonDeploy(deployCtx, project, deployment, buildSeconds, err)
	}

	var artifactURL string
	if result.URL != nil {
		err = workflow.ExecuteActivity(deployCtx, "UploadArtifact", activity.UploadArtifactParams{
			DeploymentID: deploymentID,
			ProjectSlug:  project.Slug,
			SourceURL:    *result.URL,
		}).Get(deployCtx, &artifactURL)
		if err != nil {
			releaseRegion(deployCtx, placement.RegionID)
			return abandonDeploy(deployCtx, project, deployment, buildSeconds, err)
		}
	}

	err = workflow.ExecuteActivity(deployCtx, "ActivateDeployment", activity.ActivateDeploymentParams{
		ID:           deploymentID,
		URL:          artifactURL,
		BuildSeconds: buildSeconds,
	}).Get(deployCtx, nil)
	if err != nil {
		releaseRegion(deployCtx, placement.RegionID)
		return abandonDeploy(deployCtx, project, deployment, buildSeconds, err)
	}

	meterBuild(deployCtx, deployment.ProjectID, buildSeconds)
	sendEvent(deployCtx, project, deployment, model.EventDeploymentSuccess, map[string]string{
		"region": placement.RegionID,
		"url":    artifactURL,
	})

	logger.Info("deployment ready",
		"deployment", deploymentID, "region", placement.RegionID, "build_seconds", buildSeconds)
	return nil
}

// awaitBuildResult waits for the builder's terminal callback or the build
// timeout. Workflow cancellation aborts the timer, so a cancel wakes the
// selector too and lands in the cancelled branch below.
func awaitBuildResult(ctx workflow.Context, deploymentID string) (*core.BuilderResult, error) {
	resultCh := workflow.GetSignalChannel(ctx, core.SignalBuilderResult)

	var result core.BuilderResult
	var outcome string

	selector := workflow.NewSelector(ctx)
	selector.AddReceive(resultCh, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &result)
		outcome = "result"
	})
	selector.AddFuture(workflow.NewTimer(ctx, buildTimeout), func(workflow.Future) {
		outcome = "timeout"
	})
	selector.Select(ctx)

	if ctx.Err() != nil {
		outcome = "cancelled"
	}

	switch outcome {
	case "result":
		return &result, nil
	case "cancelled":
		return nil, cancelBuild(ctx, deploymentID)
	default:
		return nil, fmt.Errorf("build timed out after %s", buildTimeout)
	}
}

// cancelBuild stops the builder and writes the cancelled terminal state.
// Runs on a disconnected context so the cleanup survives the cancellation
// that triggered it.
func cancelBuild(ctx workflow.Context, deploymentID string) error {
	cleanupCtx, _ := workflow.NewDisconnectedContext(ctx)
	cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})

	if err := workflow.ExecuteActivity(cleanupCtx, "CancelBuild", deploymentID).Get(cleanupCtx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("cancel build failed", "deployment", deploymentID, "error", err)
	}
	if err := workflow.ExecuteActivity(cleanupCtx, "MarkDeploymentCancelled", deploymentID).Get(cleanupCtx, nil); err != nil {
		workflow.GetLogger(ctx).Error("mark cancelled failed", "deployment", deploymentID, "error", err)
	}
	return temporal.NewCanceledError("deployment cancelled")
}

// abandonDeploy is the one failure path: the consumed build time is billed,
// the deployment lands in error (unless it was cancelled), and a failure
// event goes out.
func abandonDeploy(ctx workflow.Context, project model.Project, deployment model.Deployment, buildSeconds int, cause error) error {
	if temporal.IsCanceledError(cause) {
		meterBuild(ctx, deployment.ProjectID, buildSeconds)
		return cause
	}

	cleanupCtx, _ := workflow.NewDisconnectedContext(ctx)
	cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})

	if err := workflow.ExecuteActivity(cleanupCtx, "MarkDeploymentError", activity.MarkDeploymentErrorParams{
		ID:     deployment.ID,
		Detail: cause.Error(),
	}).Get(cleanupCtx, nil); err != nil {
		workflow.GetLogger(ctx).Error("mark error failed", "deployment", deployment.ID, "error", err)
	}

	meterBuild(cleanupCtx, deployment.ProjectID, buildSeconds)
	sendEvent(cleanupCtx, project, deployment, model.EventDeploymentFailure, map[string]string{
		"error": cause.Error(),
	})
	return cause
}
