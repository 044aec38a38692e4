package core

import (
	"context"
	"fmt"

	"github.com/edvin/shipyard/internal/model"
)

// RegionService is the catalog of deploy regions. Probing happens in the
// worker (activity layer); this service only records probe outcomes and
// serves the registry.
type RegionService struct {
	db DB
}

func NewRegionService(db DB) *RegionService {
	return &RegionService{db: db}
}

const regionColumns = `id, name, endpoint, status, is_primary, priority, max_deployments, active_deployments, consecutive_failures, last_check_at, last_latency_ms, failover_count, created_at, updated_at`

func scanRegion(row interface{ Scan(dest ...any) error }) (model.Region, error) {
	var r model.Region
	err := row.Scan(&r.ID, &r.Name, &r.Endpoint, &r.Status, &r.IsPrimary, &r.Priority,
		&r.MaxDeployments, &r.ActiveDeployments, &r.ConsecutiveFailures,
		&r.LastCheckAt, &r.LastLatencyMs, &r.FailoverCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	return r, nil
}

func (s *RegionService) Create(ctx context.Context, region *model.Region) error {
	if _, err := model.ParseRegionStatus(string(region.Status)); err != nil {
		return &ValidationError{Field: "status", Reason: err.Error()}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO regions (id, name, endpoint, status, is_primary, priority, max_deployments, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		region.ID, region.Name, region.Endpoint, region.Status, region.IsPrimary,
		region.Priority, region.MaxDeployments, region.CreatedAt, region.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create region: %w", err)
	}
	return nil
}

func (s *RegionService) GetByID(ctx context.Context, id string) (*model.Region, error) {
	row := s.db.QueryRow(ctx, `SELECT `+regionColumns+` FROM regions WHERE id = $1`, id)
	r, err := scanRegion(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("region %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get region %s: %w", id, err)
	}
	return &r, nil
}

// List returns all regions in priority order.
func (s *RegionService) List(ctx context.Context) ([]model.Region, error) {
	rows, err := s.db.Query(ctx, `SELECT `+regionColumns+` FROM regions ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var regions []model.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regions = append(regions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regions: %w", err)
	}
	return regions, nil
}

// RecordHealthCheck applies one probe outcome: a success resets the region
// to healthy, one failure marks it degraded, a second consecutive failure
// marks it unhealthy. Regions in maintenance keep their status. The whole
// step is a single statement so concurrent probes cannot lose a failure
// count.
func (s *RegionService) RecordHealthCheck(ctx context.Context, id string, healthy bool, latencyMs int) (*model.Region, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE regions SET
		    consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures + 1 END,
		    status = CASE
		        WHEN status = $4 THEN status
		        WHEN $2 THEN $5
		        WHEN consecutive_failures + 1 >= 2 THEN $6
		        ELSE $7
		    END,
		    last_check_at = now(),
		    last_latency_ms = $3,
		    updated_at = now()
		 WHERE id = $1
		 RETURNING `+regionColumns,
		id, healthy, latencyMs,
		model.RegionMaintenance, model.RegionHealthy, model.RegionUnhealthy, model.RegionDegraded,
	)
	r, err := scanRegion(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("region %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("record health check for region %s: %w", id, err)
	}
	return &r, nil
}

// SetMaintenance toggles a region in or out of maintenance mode.
func (s *RegionService) SetMaintenance(ctx context.Context, id string, enabled bool) error {
	status := model.RegionMaintenance
	if !enabled {
		status = model.RegionHealthy
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE regions SET status = $1, consecutive_failures = 0, updated_at = now() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("set maintenance for region %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("region %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *RegionService) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM regions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete region %s: %w", id, err)
	}
	return nil
}
