package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/shipyard/internal/activity"
	"github.com/edvin/shipyard/internal/model"
)

// RegionHealthWorkflow runs on a cron schedule: it probes every region,
// records the outcomes, and fails primary away from a region that has gone
// unhealthy.
func RegionHealthWorkflow(ctx workflow.Context) error {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var regions []model.Region
	if err := workflow.ExecuteActivity(ctx, "ListRegions").Get(ctx, &regions); err != nil {
		return fmt.Errorf("list regions: %w", err)
	}
	if len(regions) == 0 {
		return nil
	}

	var results []activity.ProbeResult
	if err := workflow.ExecuteActivity(ctx, "ProbeRegions", regions).Get(ctx, &results); err != nil {
		return fmt.Errorf("probe regions: %w", err)
	}

	wasPrimary := make(map[string]bool, len(regions))
	for _, r := range regions {
		wasPrimary[r.ID] = r.IsPrimary
	}

	for _, result := range results {
		var updated model.Region
		err := workflow.ExecuteActivity(ctx, "RecordHealthCheck", activity.RecordHealthCheckParams{
			RegionID:  result.RegionID,
			Healthy:   result.Healthy,
			LatencyMs: result.LatencyMs,
		}).Get(ctx, &updated)
		if err != nil {
			logger.Warn("record health check failed", "region", result.RegionID, "error", err)
			continue
		}

		if updated.Status != model.RegionUnhealthy || !wasPrimary[updated.ID] {
			continue
		}

		// The primary just crossed the failure threshold; move primary to
		// the best healthy candidate.
		reason := fmt.Sprintf("region unhealthy after %d consecutive failures: %s",
			updated.ConsecutiveFailures, result.Error)
		var toID string
		err = workflow.ExecuteActivity(ctx, "AutoFailover", activity.AutoFailoverParams{
			ProjectID:    "global",
			FromRegionID: updated.ID,
			Reason:       reason,
		}).Get(ctx, &toID)
		if err != nil {
			logger.Error("auto-failover failed", "from", updated.ID, "error", err)
			continue
		}

		logger.Info("auto-failover completed", "from", updated.ID, "to", toID)
		recordAudit(ctx, activity.RecordAuditLogParams{
			ActorID:      "region-health-cron",
			Action:       "region.failover",
			ResourceType: "region",
			ResourceID:   updated.ID,
			Detail:       fmt.Sprintf("primary moved to %s: %s", toID, reason),
		})
	}

	return nil
}
