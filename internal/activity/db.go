package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/shipyard/internal/core"
	"github.com/edvin/shipyard/internal/model"
)

// DB defines the database operations used by activity structs.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CoreDB contains activities that read from and update the core database.
// Status mutations go through the same guarded statements the services use,
// so a workflow replay or a raced cancel can never push a deployment
// backwards through the lifecycle.
type CoreDB struct {
	db       DB
	services *core.Services
}

// NewCoreDB creates a new CoreDB activity struct.
func NewCoreDB(db DB, services *core.Services) *CoreDB {
	return &CoreDB{db: db, services: services}
}

// GetDeploymentByID retrieves a deployment by its ID.
func (a *CoreDB) GetDeploymentByID(ctx context.Context, id string) (*model.Deployment, error) {
	return a.services.Deployment.GetByID(ctx, id)
}

// GetProjectByID retrieves a project by its ID.
func (a *CoreDB) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	return a.services.Project.GetByID(ctx, id)
}

// TransitionDeploymentParams holds the parameters for TransitionDeployment.
type TransitionDeploymentParams struct {
	ID string `json:"id"`
	To string `json:"to"`
}

// TransitionDeployment advances a deployment through the state machine. An
// invalid transition is non-retryable: retrying cannot make a cancelled
// deployment buildable again.
func (a *CoreDB) TransitionDeployment(ctx context.Context, params TransitionDeploymentParams) error {
	to, err := model.ParseDeploymentStatus(params.To)
	if err != nil {
		return temporal.NewNonRetryableApplicationError(err.Error(), core.CodeValidation, err)
	}
	if err := a.services.Deployment.Transition(ctx, params.ID, to); err != nil {
		if core.ErrorCode(err) == core.CodeInvalidTransition {
			return temporal.NewNonRetryableApplicationError(err.Error(), core.CodeInvalidTransition, err)
		}
		return err
	}
	return nil
}

// MarkDeploymentErrorParams holds the parameters for MarkDeploymentError.
type MarkDeploymentErrorParams struct {
	ID     string `json:"id"`
	Detail string `json:"detail"`
}

// MarkDeploymentError moves a deployment to the error terminal state with a
// stored detail message. Guarded: a deployment that already reached a
// terminal state is left untouched.
func (a *CoreDB) MarkDeploymentError(ctx context.Context, params MarkDeploymentErrorParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE deployments SET status = $1, error_detail = $2, updated_at = now()
		 WHERE id = $3 AND status IN ($4, $5, $6, $7)`,
		model.DeploymentError, params.Detail, params.ID,
		model.DeploymentQueued, model.DeploymentCloning,
		model.DeploymentBuilding, model.DeploymentDeploying,
	)
	if err != nil {
		return fmt.Errorf("mark deployment %s error: %w", params.ID, err)
	}
	return nil
}

// MarkDeploymentCancelled moves a deployment to cancelled if it has not
// passed the point of safe abort. Deploying and terminal rows are left alone.
func (a *CoreDB) MarkDeploymentCancelled(ctx context.Context, id string) error {
	_, err := a.db.Exec(ctx,
		`UPDATE deployments SET status = $1, updated_at = now()
		 WHERE id = $2 AND status IN ($3, $4, $5)`,
		model.DeploymentCancelled, id,
		model.DeploymentQueued, model.DeploymentCloning, model.DeploymentBuilding,
	)
	if err != nil {
		return fmt.Errorf("mark deployment %s cancelled: %w", id, err)
	}
	return nil
}

// AssignRegionResult reports the region a deployment was placed in.
type AssignRegionResult struct {
	RegionID string `json:"region_id"`
	Endpoint string `json:"endpoint"`
}

// AssignRegion places a deployment in the best available region: the
// highest-priority healthy region with free capacity. Selection and the
// capacity increment are one statement, so two placements cannot both take
// the last slot.
func (a *CoreDB) AssignRegion(ctx context.Context, deploymentID string) (*AssignRegionResult, error) {
	var result AssignRegionResult
	err := a.db.QueryRow(ctx,
		`UPDATE regions SET active_deployments = active_deployments + 1, updated_at = now()
		 WHERE id = (
		    SELECT id FROM regions
		    WHERE status = $1 AND active_deployments < max_deployments
		    ORDER BY priority, active_deployments, id
		    LIMIT 1
		 )
		 RETURNING id, endpoint`,
		model.RegionHealthy,
	).Scan(&result.RegionID, &result.Endpoint)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Retryable: a region may recover or free capacity.
			return nil, fmt.Errorf("assign region for %s: %w",
				deploymentID, &core.RegionUnavailableError{Reason: "no healthy region with free capacity"})
		}
		return nil, fmt.Errorf("assign region for %s: %w", deploymentID, err)
	}

	_, err = a.db.Exec(ctx,
		`UPDATE deployments SET region_id = $1, updated_at = now() WHERE id = $2`,
		result.RegionID, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("record region for %s: %w", deploymentID, err)
	}
	return &result, nil
}

// ReleaseRegionSlot returns a placement slot, clamped at zero.
func (a *CoreDB) ReleaseRegionSlot(ctx context.Context, regionID string) error {
	_, err := a.db.Exec(ctx,
		`UPDATE regions SET active_deployments = GREATEST(active_deployments - 1, 0), updated_at = now()
		 WHERE id = $1`, regionID)
	if err != nil {
		return fmt.Errorf("release region slot %s: %w", regionID, err)
	}
	return nil
}

// ActivateDeploymentParams holds the parameters for ActivateDeployment.
type ActivateDeploymentParams struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	BuildSeconds int    `json:"build_seconds"`
}

// ActivateDeployment finishes a successful deploy: the deployment becomes
// ready and active, the previously active deployment for the project is
// deactivated, and the project's active pointer moves. One statement, so
// a project never shows two active deployments.
func (a *CoreDB) ActivateDeployment(ctx context.Context, params ActivateDeploymentParams) error {
	var projectID string
	err := a.db.QueryRow(ctx,
		`WITH target AS (
		    UPDATE deployments SET status = $2, is_active = true, url = $3, build_seconds = $4, updated_at = now()
		    WHERE id = $1 AND status = $5
		    RETURNING id, project_id
		 ), cleared AS (
		    UPDATE deployments d SET is_active = false, updated_at = now()
		    FROM target t
		    WHERE d.project_id = t.project_id AND d.is_active AND d.id <> t.id
		 )
		 UPDATE projects p SET active_deployment_id = t.id, updated_at = now()
		 FROM target t WHERE p.id = t.project_id
		 RETURNING p.id`,
		params.ID, model.DeploymentReady, params.URL, params.BuildSeconds, model.DeploymentDeploying,
	).Scan(&projectID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("deployment %s is not deploying", params.ID),
				core.CodeInvalidTransition, nil)
		}
		return fmt.Errorf("activate deployment %s: %w", params.ID, err)
	}
	return nil
}

// MeterBuildMinutesParams holds the parameters for MeterBuildMinutes.
type MeterBuildMinutesParams struct {
	ProjectID    string `json:"project_id"`
	BuildSeconds int    `json:"build_seconds"`
}

// MeterBuildMinutes bills consumed build time against the project owner,
// rounded up to whole minutes. Failed and cancelled builds are billed too;
// the compute was spent either way.
func (a *CoreDB) MeterBuildMinutes(ctx context.Context, params MeterBuildMinutesParams) error {
	if params.BuildSeconds <= 0 {
		return nil
	}
	minutes := int64((params.BuildSeconds + 59) / 60)

	project, err := a.services.Project.GetByID(ctx, params.ProjectID)
	if err != nil {
		return err
	}
	return a.services.Usage.Record(ctx, project.OwnerID, model.MetricBuildMinutes, minutes)
}

// ListRegions returns every region in priority order.
func (a *CoreDB) ListRegions(ctx context.Context) ([]model.Region, error) {
	return a.services.Region.List(ctx)
}

// RecordHealthCheckParams holds the parameters for RecordHealthCheck.
type RecordHealthCheckParams struct {
	RegionID  string `json:"region_id"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int    `json:"latency_ms"`
}

// RecordHealthCheck applies one probe outcome to a region and returns the
// resulting state.
func (a *CoreDB) RecordHealthCheck(ctx context.Context, params RecordHealthCheckParams) (*model.Region, error) {
	return a.services.Region.RecordHealthCheck(ctx, params.RegionID, params.Healthy, params.LatencyMs)
}

// AutoFailoverParams holds the parameters for AutoFailover.
type AutoFailoverParams struct {
	ProjectID    string `json:"project_id"`
	FromRegionID string `json:"from_region_id"`
	Reason       string `json:"reason"`
}

// AutoFailover moves primary away from a failed region to the best healthy
// candidate and returns the chosen region ID.
func (a *CoreDB) AutoFailover(ctx context.Context, params AutoFailoverParams) (string, error) {
	toID, err := a.services.Failover.AutoFailover(ctx, params.ProjectID, params.FromRegionID, params.Reason)
	if err != nil {
		if core.ErrorCode(err) == core.CodeRegionUnavailable {
			return "", temporal.NewNonRetryableApplicationError(err.Error(), core.CodeRegionUnavailable, err)
		}
		return "", err
	}
	return toID, nil
}

// ReportReplicationParams holds the parameters for ReportReplication.
type ReportReplicationParams struct {
	SourceRegionID string `json:"source_region_id"`
	TargetRegionID string `json:"target_region_id"`
	DataType       string `json:"data_type"`
	LagSeconds     int    `json:"lag_seconds"`
	ProbeFailed    bool   `json:"probe_failed"`
}

// ReportReplication records one replication probe result and returns the
// resulting pair state.
func (a *CoreDB) ReportReplication(ctx context.Context, params ReportReplicationParams) (*model.Replication, error) {
	return a.services.Replication.Report(ctx, params.SourceRegionID, params.TargetRegionID,
		params.DataType, params.LagSeconds, params.ProbeFailed)
}

// RecordAuditLogParams holds the parameters for RecordAuditLog.
type RecordAuditLogParams struct {
	ActorID      string `json:"actor_id"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Detail       string `json:"detail"`
}

// RecordAuditLog appends an audit trail row. Best-effort from workflows.
func (a *CoreDB) RecordAuditLog(ctx context.Context, params RecordAuditLogParams) error {
	// The detail column is jsonb; the free-text detail goes in as a JSON
	// string.
	detail, err := json.Marshal(params.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	_, err = a.db.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, resource_type, resource_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		params.ActorID, params.Action, params.ResourceType, params.ResourceID, detail)
	if err != nil {
		return fmt.Errorf("record audit log: %w", err)
	}
	return nil
}
