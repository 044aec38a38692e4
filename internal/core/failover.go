package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/edvin/shipyard/internal/model"
)

// FailoverController moves the primary serving role between regions. Each
// failover is one atomic statement; a per-project in-flight guard rejects a
// second failover for the same project while one is running, rather than
// queueing it.
type FailoverController struct {
	db      DB
	regions *RegionService

	mu       sync.Mutex
	inflight map[string]bool
}

func NewFailoverController(db DB, regions *RegionService) *FailoverController {
	return &FailoverController{
		db:       db,
		regions:  regions,
		inflight: make(map[string]bool),
	}
}

func (c *FailoverController) acquire(projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[projectID] {
		return ErrFailoverInFlight
	}
	c.inflight[projectID] = true
	return nil
}

func (c *FailoverController) releaseLock(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, projectID)
}

// Failover reassigns primary from one region to another. The target must
// exist, must not be unhealthy, and must not already be primary. The demote
// and promote happen in one statement, and the failover counter is bumped
// on the region being failed away from.
func (c *FailoverController) Failover(ctx context.Context, projectID, fromID, toID, reason string) error {
	if fromID == toID {
		return &ValidationError{Field: "to_region_id", Reason: "source and target are the same region"}
	}
	if err := c.acquire(projectID); err != nil {
		return err
	}
	defer c.releaseLock(projectID)

	target, err := c.regions.GetByID(ctx, toID)
	if err != nil {
		return err
	}
	if target.Status == model.RegionUnhealthy {
		return &RegionUnavailableError{RegionID: toID, Reason: "target region is unhealthy"}
	}
	if target.IsPrimary {
		return &ValidationError{Field: "to_region_id", Reason: "target region is already primary"}
	}

	var promotedID string
	err = c.db.QueryRow(ctx,
		`WITH demoted AS (
		    UPDATE regions
		    SET is_primary = false, failover_count = failover_count + 1, updated_at = now()
		    WHERE id = $1 AND is_primary
		    RETURNING id
		 )
		 UPDATE regions
		 SET is_primary = true, updated_at = now()
		 WHERE id = $2 AND status <> $3 AND NOT is_primary
		   AND EXISTS (SELECT 1 FROM demoted)
		 RETURNING id`,
		fromID, toID, model.RegionUnhealthy,
	).Scan(&promotedID)
	if err != nil {
		if isNoRows(err) {
			// Lost a race: the source stopped being primary or the target
			// became unusable between the check and the update.
			return &RegionUnavailableError{RegionID: toID, Reason: "failover preconditions no longer hold"}
		}
		return fmt.Errorf("failover from %s to %s: %w", fromID, toID, err)
	}

	return nil
}

// AutoFailover selects the best replacement for a degraded primary: the
// highest-priority healthy non-primary region, ties broken by the lowest
// active deployment count. Returns the chosen region ID.
func (c *FailoverController) AutoFailover(ctx context.Context, projectID, fromID, reason string) (string, error) {
	var toID string
	err := c.db.QueryRow(ctx,
		`SELECT id FROM regions
		 WHERE status = $1 AND NOT is_primary AND id <> $2
		 ORDER BY priority, active_deployments, id
		 LIMIT 1`,
		model.RegionHealthy, fromID,
	).Scan(&toID)
	if err != nil {
		if isNoRows(err) {
			return "", &RegionUnavailableError{RegionID: fromID, Reason: "no healthy non-primary region available"}
		}
		return "", fmt.Errorf("select failover target: %w", err)
	}

	if err := c.Failover(ctx, projectID, fromID, toID, reason); err != nil {
		return "", err
	}
	return toID, nil
}
