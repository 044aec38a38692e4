package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/edvin/shipyard/internal/model"
)

// AdmissionPolicy decides what happens when a deployment is requested for a
// (project, branch) key that already has a build in flight.
type AdmissionPolicy string

const (
	// PolicyJoin rejects the new request with the in-flight deployment's ID
	// so the caller can attach to it as a waiter.
	PolicyJoin AdmissionPolicy = "join"
	// PolicySupersede cancels the in-flight deployment before admitting the
	// new one. The superseded terminal write is ordered before the new
	// insert, so an observer never sees two non-terminal deployments for
	// one key.
	PolicySupersede AdmissionPolicy = "supersede"
)

// ParseAdmissionPolicy validates a policy token.
func ParseAdmissionPolicy(s string) (AdmissionPolicy, error) {
	switch AdmissionPolicy(s) {
	case PolicyJoin, PolicySupersede:
		return AdmissionPolicy(s), nil
	}
	return "", fmt.Errorf("unknown admission policy %q", s)
}

// Ticket is the result of a successful admission. SupersededID is non-empty
// when an in-flight deployment was cancelled to make room.
type Ticket struct {
	ProjectID    string
	Branch       string
	SupersededID string
}

// AdmissionController grants at most one in-flight build per
// (project, branch) key. A keyed mutex serializes the check-then-admit
// window within a process; the partial unique index on non-terminal
// deployments enforces the same invariant across processes. The admission
// lock itself is the non-terminal deployment row, held from queued until a
// terminal status is written.
type AdmissionController struct {
	db     DB
	policy AdmissionPolicy

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAdmissionController(db DB, policy AdmissionPolicy) *AdmissionController {
	return &AdmissionController{
		db:     db,
		policy: policy,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Policy returns the configured conflict policy.
func (a *AdmissionController) Policy() AdmissionPolicy { return a.policy }

func admissionKey(projectID, branch string) string {
	return projectID + "\x00" + branch
}

// keyLock returns the mutex for a (project, branch) key, creating it on
// first use. Key mutexes are never removed; the key space is bounded by the
// set of actively deploying branches.
func (a *AdmissionController) keyLock(projectID, branch string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := admissionKey(projectID, branch)
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	return l
}

// Admit grants admission for the key or returns AdmissionConflictError.
// The returned release function must be called once the queued deployment
// row has been inserted (or on failure) to close the check-then-insert
// window.
func (a *AdmissionController) Admit(ctx context.Context, projectID, branch string) (*Ticket, func(), error) {
	l := a.keyLock(projectID, branch)
	l.Lock()
	release := func() { l.Unlock() }

	inflight, err := a.InFlight(ctx, projectID, branch)
	if err != nil {
		release()
		return nil, nil, err
	}
	if inflight == nil {
		return &Ticket{ProjectID: projectID, Branch: branch}, release, nil
	}

	if a.policy == PolicyJoin {
		release()
		return nil, nil, &AdmissionConflictError{
			ProjectID:  projectID,
			Branch:     branch,
			InFlightID: inflight.ID,
		}
	}

	// Supersede: the in-flight deployment must reach its cancelled terminal
	// state before the new one is admitted. Past the point of safe abort
	// (deploying) the caller has to wait for the terminal outcome instead.
	if inflight.Status == model.DeploymentDeploying {
		release()
		return nil, nil, &AdmissionConflictError{
			ProjectID:  projectID,
			Branch:     branch,
			InFlightID: inflight.ID,
		}
	}

	tag, err := a.db.Exec(ctx,
		`UPDATE deployments SET status = $1, updated_at = now()
		 WHERE id = $2 AND status IN ($3, $4, $5)`,
		model.DeploymentCancelled, inflight.ID,
		model.DeploymentQueued, model.DeploymentCloning, model.DeploymentBuilding,
	)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("supersede deployment %s: %w", inflight.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Raced into deploying or a terminal state between the read and the
		// guarded update. Treat as conflict; the caller retries.
		release()
		return nil, nil, &AdmissionConflictError{
			ProjectID:  projectID,
			Branch:     branch,
			InFlightID: inflight.ID,
		}
	}

	return &Ticket{ProjectID: projectID, Branch: branch, SupersededID: inflight.ID}, release, nil
}

// InFlight returns the non-terminal deployment for the key, or nil.
func (a *AdmissionController) InFlight(ctx context.Context, projectID, branch string) (*model.Deployment, error) {
	var d model.Deployment
	err := a.db.QueryRow(ctx,
		`SELECT id, project_id, branch, commit_ref, trigger_source, status, created_at, updated_at
		 FROM deployments
		 WHERE project_id = $1 AND branch = $2 AND status IN ($3, $4, $5, $6)
		 ORDER BY created_at DESC LIMIT 1`,
		projectID, branch,
		model.DeploymentQueued, model.DeploymentCloning,
		model.DeploymentBuilding, model.DeploymentDeploying,
	).Scan(&d.ID, &d.ProjectID, &d.Branch, &d.CommitRef, &d.TriggerSource,
		&d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find in-flight deployment for %s/%s: %w", projectID, branch, err)
	}
	return &d, nil
}
