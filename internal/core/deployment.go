package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/shipyard/internal/model"
)

const taskQueue = "shipyard-tasks"

// SignalBuilderResult carries the external builder's terminal callback into
// the deploy workflow.
const SignalBuilderResult = "builder-result"

// DeployWorkflowID builds the Temporal workflow ID for a deployment.
func DeployWorkflowID(deploymentID string) string {
	return "deploy-" + deploymentID
}

var branchRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,254}$`)
var commitRegex = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// DeploymentService owns the deployment lifecycle: creation through
// admission and quota, cancellation, rollback, redeploy, and deletion.
// Status mutations go through guarded single-statement updates so no
// transition can ever skip the table in model.
type DeploymentService struct {
	db        DB
	tc        temporalclient.Client
	admission *AdmissionController
	usage     *UsageService
}

func NewDeploymentService(db DB, tc temporalclient.Client, admission *AdmissionController, usage *UsageService) *DeploymentService {
	return &DeploymentService{db: db, tc: tc, admission: admission, usage: usage}
}

const deploymentColumns = `id, project_id, branch, commit_ref, trigger_source, status, region_id, build_seconds, url, error_detail, is_active, created_at, updated_at`

func scanDeployment(row interface{ Scan(dest ...any) error }) (model.Deployment, error) {
	var d model.Deployment
	err := row.Scan(&d.ID, &d.ProjectID, &d.Branch, &d.CommitRef, &d.TriggerSource,
		&d.Status, &d.RegionID, &d.BuildSeconds, &d.URL, &d.ErrorDetail,
		&d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	return d, nil
}

// Create validates the trigger, reserves deployment quota, passes admission,
// inserts the queued row, and starts the deploy workflow. The admission key
// mutex is held across check and insert so rapid consecutive triggers for
// one (project, branch) converge on exactly one non-cancelled deployment.
func (s *DeploymentService) Create(ctx context.Context, projectID, branch, commitRef, triggerSource string) (*model.Deployment, error) {
	if !branchRegex.MatchString(branch) || strings.Contains(branch, "..") {
		return nil, &ValidationError{Field: "branch", Reason: "not a valid branch name"}
	}
	if !commitRegex.MatchString(commitRef) {
		return nil, &ValidationError{Field: "commit_ref", Reason: "not a valid commit hash"}
	}

	var ownerID string
	err := s.db.QueryRow(ctx, `SELECT owner_id FROM projects WHERE id = $1`, projectID).Scan(&ownerID)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("look up project %s: %w", projectID, err)
	}

	if err := s.usage.Reserve(ctx, ownerID, model.MetricDeployments, 1); err != nil {
		return nil, err
	}

	ticket, release, err := s.admission.Admit(ctx, projectID, branch)
	if err != nil {
		// Admission rejected after the counter was bumped; hand the unit back.
		_ = s.usage.Refund(ctx, ownerID, model.MetricDeployments, 1)
		return nil, err
	}
	defer release()

	if ticket.SupersededID != "" {
		// The superseded row is already cancelled; stop its workflow so the
		// builder is signalled to abandon the work.
		if err := s.tc.CancelWorkflow(ctx, DeployWorkflowID(ticket.SupersededID), ""); err != nil {
			// The workflow may have already completed; the guarded status
			// update above is authoritative either way.
		}
	}

	now := time.Now()
	d := &model.Deployment{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Branch:        branch,
		CommitRef:     commitRef,
		TriggerSource: triggerSource,
		Status:        model.DeploymentQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO deployments (id, project_id, branch, commit_ref, trigger_source, status, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8)`,
		d.ID, d.ProjectID, d.Branch, d.CommitRef, d.TriggerSource, d.Status, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		_ = s.usage.Refund(ctx, ownerID, model.MetricDeployments, 1)
		if isUniqueViolation(err) {
			// Another process won the key between our check and insert.
			return nil, &AdmissionConflictError{ProjectID: projectID, Branch: branch}
		}
		return nil, fmt.Errorf("insert deployment: %w", err)
	}

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        DeployWorkflowID(d.ID),
		TaskQueue: taskQueue,
	}, "DeployWorkflow", d.ID)
	if err != nil {
		detail := fmt.Sprintf("start deploy workflow: %v", err)
		_, _ = s.db.Exec(ctx,
			`UPDATE deployments SET status = $1, error_detail = $2, updated_at = now() WHERE id = $3`,
			model.DeploymentError, detail, d.ID)
		return nil, fmt.Errorf("start deploy workflow for %s: %w", d.ID, err)
	}

	return d, nil
}

// GetByID retrieves a deployment.
func (s *DeploymentService) GetByID(ctx context.Context, id string) (*model.Deployment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, id)
	d, err := scanDeployment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get deployment %s: %w", id, err)
	}
	return &d, nil
}

// ListByProject returns deployments for a project, newest first, with cursor
// pagination.
func (s *DeploymentService) ListByProject(ctx context.Context, projectID string, limit int, cursor string) ([]model.Deployment, bool, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE project_id = $1`
	args := []any{projectID}
	argIdx := 2

	if cursor != "" {
		query += fmt.Sprintf(` AND id < $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list deployments for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var deployments []model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate deployments: %w", err)
	}

	hasMore := len(deployments) > limit
	if hasMore {
		deployments = deployments[:limit]
	}
	return deployments, hasMore, nil
}

// Transition applies from -> to through the state machine. The UPDATE is
// guarded on the expected from-status, so a stale caller (late builder
// callback, raced cancel) changes nothing and gets InvalidTransitionError.
func (s *DeploymentService) Transition(ctx context.Context, id string, to model.DeploymentStatus) error {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !d.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{DeploymentID: id, From: string(d.Status), To: string(to)}
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE deployments SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, d.Status,
	)
	if err != nil {
		return fmt.Errorf("transition deployment %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		// Status moved underneath us; report against the fresh value.
		fresh, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return &InvalidTransitionError{DeploymentID: id, From: string(fresh.Status), To: string(to)}
	}
	return nil
}

// Cancel requests cooperative cancellation. Idempotent: cancelling an
// already-terminal deployment is a no-op success with no further side
// effects. Cancellation during deploying is rejected; the caller waits for
// the terminal outcome.
func (s *DeploymentService) Cancel(ctx context.Context, id string) error {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Status.IsTerminal() {
		return nil
	}
	if d.Status == model.DeploymentDeploying {
		return &InvalidTransitionError{DeploymentID: id, From: string(d.Status), To: string(model.DeploymentCancelled)}
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE deployments SET status = $1, updated_at = now()
		 WHERE id = $2 AND status IN ($3, $4, $5)`,
		model.DeploymentCancelled, id,
		model.DeploymentQueued, model.DeploymentCloning, model.DeploymentBuilding,
	)
	if err != nil {
		return fmt.Errorf("cancel deployment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		fresh, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status.IsTerminal() {
			// Lost a race with another cancel or a terminal transition;
			// still a no-op success.
			return nil
		}
		return &InvalidTransitionError{DeploymentID: id, From: string(fresh.Status), To: string(model.DeploymentCancelled)}
	}

	// Signal the builder to stop. The builder may finish anyway; its late
	// callback is ignored by the guarded status update above.
	if err := s.tc.CancelWorkflow(ctx, DeployWorkflowID(id), ""); err != nil {
		// Workflow already finished; the row is terminal regardless.
	}
	return nil
}

// Rollback re-promotes a prior ready deployment to active. The whole
// repoint is one statement so two concurrent rollbacks cannot leave two
// active deployments.
func (s *DeploymentService) Rollback(ctx context.Context, id string) (*model.Deployment, error) {
	var projectID string
	err := s.db.QueryRow(ctx,
		`WITH target AS (
		    SELECT id, project_id FROM deployments WHERE id = $1 AND status = $2
		 ), cleared AS (
		    UPDATE deployments d SET is_active = false, updated_at = now()
		    FROM target t
		    WHERE d.project_id = t.project_id AND d.is_active AND d.id <> t.id
		 ), promoted AS (
		    UPDATE deployments d SET is_active = true, updated_at = now()
		    FROM target t WHERE d.id = t.id
		 )
		 UPDATE projects p SET active_deployment_id = t.id, updated_at = now()
		 FROM target t WHERE p.id = t.project_id
		 RETURNING p.id`,
		id, model.DeploymentReady,
	).Scan(&projectID)
	if err != nil {
		if isNoRows(err) {
			d, getErr := s.GetByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, &ValidationError{
				Field:  "deployment_id",
				Reason: fmt.Sprintf("rollback target is %s, not %s", d.Status, model.DeploymentReady),
			}
		}
		return nil, fmt.Errorf("rollback to deployment %s: %w", id, err)
	}

	return s.GetByID(ctx, id)
}

// Redeploy re-triggers admission with the deployment's branch and commit.
func (s *DeploymentService) Redeploy(ctx context.Context, id string) (*model.Deployment, error) {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, d.ProjectID, d.Branch, d.CommitRef, model.TriggerRedeploy)
}

// Delete removes a deployment record. Terminal deployments are deleted
// directly; in-flight ones are cancelled first and deploying ones are never
// force-deleted.
func (s *DeploymentService) Delete(ctx context.Context, id string) error {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !d.Status.IsTerminal() {
		if err := s.Cancel(ctx, id); err != nil {
			return err
		}
	}

	_, err = s.db.Exec(ctx, `DELETE FROM deployments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete deployment %s: %w", id, err)
	}
	return nil
}

// SignalBuilderCallback forwards the external builder's terminal result into
// the deploy workflow. A callback arriving after the workflow completed is
// dropped: terminal deployments are never resurrected.
func (s *DeploymentService) SignalBuilderCallback(ctx context.Context, id string, result BuilderResult) error {
	if _, err := model.ParseDeploymentStatus(result.Status); err != nil {
		return &ValidationError{Field: "status", Reason: err.Error()}
	}
	if result.Status != string(model.DeploymentReady) && result.Status != string(model.DeploymentError) {
		return &ValidationError{Field: "status", Reason: "builder result must be ready or error"}
	}

	err := s.tc.SignalWorkflow(ctx, DeployWorkflowID(id), "", SignalBuilderResult, result)
	if err != nil {
		d, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if d.Status.IsTerminal() {
			// Late callback after cancellation or timeout; ignore.
			return nil
		}
		// The deployment is still in flight; the signal failure is a workflow
		// engine hiccup and the builder should retry the callback.
		return &TransientInfraError{Op: fmt.Sprintf("signal builder result for %s", id), Err: err}
	}
	return nil
}

// BuilderResult is the terminal callback payload from the external builder.
type BuilderResult struct {
	Status          string  `json:"status"`
	URL             *string `json:"url,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	ErrorDetail     *string `json:"error_detail,omitempty"`
}
