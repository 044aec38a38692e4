package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/shipyard/internal/activity"
	"github.com/edvin/shipyard/internal/model"
)

// replicationDataTypes are the streams tracked between every primary and
// replica region pair.
var replicationDataTypes = []string{
	model.ReplicationDataDeployments,
	model.ReplicationDataAssets,
	model.ReplicationDataMetadata,
}

// ReplicationMonitorWorkflow runs on a cron schedule: for every primary to
// replica pair it measures per-stream lag and records the result, so the
// registry always reflects how far behind each replica is.
func ReplicationMonitorWorkflow(ctx workflow.Context) error {
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

	var sources, targets []model.Region
	for _, r := range regions {
		if r.IsPrimary {
			sources = append(sources, r)
		} else if r.Status != model.RegionMaintenance {
			targets = append(targets, r)
		}
	}

	for _, source := range sources {
		for _, target := range targets {
			var results []activity.ReplicationProbeResult
			err := workflow.ExecuteActivity(ctx, "ProbeReplication", activity.ReplicationProbeParams{
				SourceRegionID: source.ID,
				TargetRegionID: target.ID,
				TargetEndpoint: target.Endpoint,
				DataTypes:      replicationDataTypes,
			}).Get(ctx, &results)
			if err != nil {
				logger.Warn("replication probe failed",
					"source", source.ID, "target", target.ID, "error", err)
				continue
			}

			for _, result := range results {
				var pair model.Replication
				err := workflow.ExecuteActivity(ctx, "ReportReplication", activity.ReportReplicationParams{
					SourceRegionID: source.ID,
					TargetRegionID: target.ID,
					DataType:       result.DataType,
					LagSeconds:     result.LagSeconds,
					ProbeFailed:    result.Failed,
				}).Get(ctx, &pair)
				if err != nil {
					logger.Warn("report replication failed",
						"source", source.ID, "target", target.ID,
						"data_type", result.DataType, "error", err)
					continue
				}

				if pair.Status == model.ReplicationError {
					logger.Error("replication pair in error",
						"source", source.ID, "target", target.ID,
						"data_type", result.DataType,
						"lag_seconds", result.LagSeconds,
						"probe_failed", result.Failed)
					recordAudit(ctx, activity.RecordAuditLogParams{
						ActorID:      "replication-monitor-cron",
						Action:       "replication.error",
						ResourceType: "replication",
						ResourceID:   fmt.Sprintf("%s:%s:%s", source.ID, target.ID, result.DataType),
						Detail:       fmt.Sprintf("lag %ds, probe_failed=%v", result.LagSeconds, result.Failed),
					})
				}
			}
		}
	}

	return nil
}
