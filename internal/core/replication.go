package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/shipyard/internal/model"
)

// ReplicationService tracks sync lag per (source, target, data type) pair.
// "synced" is a snapshot, not a terminal state: new writes re-enter
// "syncing" and probe failures or excessive lag move a pair to "error",
// from which a successful probe re-enters "syncing".
type ReplicationService struct {
	db DB

	// lagCeiling is the lag beyond which a pair is marked error.
	lagCeiling time.Duration
	// freshness is the window within which zero lag counts as synced.
	freshness time.Duration
}

func NewReplicationService(db DB, lagCeiling, freshness time.Duration) *ReplicationService {
	return &ReplicationService{db: db, lagCeiling: lagCeiling, freshness: freshness}
}

const replicationColumns = `source_region_id, target_region_id, data_type, status, lag_seconds, last_synced_at, updated_at`

func scanReplication(row interface{ Scan(dest ...any) error }) (model.Replication, error) {
	var r model.Replication
	err := row.Scan(&r.SourceRegionID, &r.TargetRegionID, &r.DataType,
		&r.Status, &r.LagSeconds, &r.LastSyncedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	return r, nil
}

// Report applies one probe result for a pair, creating the row on first
// sight. probeFailed or lag over the ceiling moves the pair to error; zero
// lag moves it to synced; anything else is syncing.
func (s *ReplicationService) Report(ctx context.Context, sourceID, targetID, dataType string, lagSeconds int, probeFailed bool) (*model.Replication, error) {
	if lagSeconds < 0 {
		return nil, &ValidationError{Field: "lag_seconds", Reason: "must not be negative"}
	}

	status := model.ReplicationSyncing
	switch {
	case probeFailed || time.Duration(lagSeconds)*time.Second > s.lagCeiling:
		status = model.ReplicationError
	case lagSeconds == 0:
		status = model.ReplicationSynced
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO replications (source_region_id, target_region_id, data_type, status, lag_seconds, last_synced_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, CASE WHEN $4 = $6 THEN now() END, now())
		 ON CONFLICT (source_region_id, target_region_id, data_type) DO UPDATE SET
		    status = EXCLUDED.status,
		    lag_seconds = EXCLUDED.lag_seconds,
		    last_synced_at = CASE WHEN EXCLUDED.status = $6 THEN now() ELSE replications.last_synced_at END,
		    updated_at = now()
		 RETURNING `+replicationColumns,
		sourceID, targetID, dataType, status, lagSeconds, model.ReplicationSynced,
	)
	r, err := scanReplication(row)
	if err != nil {
		return nil, fmt.Errorf("report replication %s->%s/%s: %w", sourceID, targetID, dataType, err)
	}
	return &r, nil
}

// List returns all tracked pairs.
func (s *ReplicationService) List(ctx context.Context) ([]model.Replication, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+replicationColumns+` FROM replications ORDER BY source_region_id, target_region_id, data_type`)
	if err != nil {
		return nil, fmt.Errorf("list replications: %w", err)
	}
	defer rows.Close()

	var reps []model.Replication
	for rows.Next() {
		r, err := scanReplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan replication: %w", err)
		}
		reps = append(reps, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replications: %w", err)
	}
	return reps, nil
}

// Stale returns pairs that have not reached synced within the freshness
// window, for the monitor cron to re-probe first.
func (s *ReplicationService) Stale(ctx context.Context) ([]model.Replication, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+replicationColumns+` FROM replications
		 WHERE status <> $1 OR last_synced_at IS NULL OR last_synced_at < now() - $2::interval
		 ORDER BY updated_at`,
		model.ReplicationSynced, fmt.Sprintf("%d seconds", int(s.freshness.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale replications: %w", err)
	}
	defer rows.Close()

	var reps []model.Replication
	for rows.Next() {
		r, err := scanReplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan replication: %w", err)
		}
		reps = append(reps, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replications: %w", err)
	}
	return reps, nil
}
