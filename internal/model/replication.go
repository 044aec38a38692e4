package model

import (
	"fmt"
	"time"
)

// ReplicationStatus tracks a (source, target, data type) sync pair. Unlike
// deployment statuses, "synced" is a point-in-time snapshot, not a terminal
// state: new writes move a pair back to "syncing" and a failed probe moves
// it to "error", from which a retry re-enters "syncing".
type ReplicationStatus string

const (
	ReplicationSynced  ReplicationStatus = "synced"
	ReplicationSyncing ReplicationStatus = "syncing"
	ReplicationError   ReplicationStatus = "error"
)

// ParseReplicationStatus validates a replication status token.
func ParseReplicationStatus(s string) (ReplicationStatus, error) {
	switch ReplicationStatus(s) {
	case ReplicationSynced, ReplicationSyncing, ReplicationError:
		return ReplicationStatus(s), nil
	}
	return "", fmt.Errorf("unknown replication status %q", s)
}

// Replication data type constants.
const (
	ReplicationDataDeployments = "deployments"
	ReplicationDataAssets      = "assets"
	ReplicationDataMetadata    = "metadata"
)

type Replication struct {
	SourceRegionID string            `json:"source_region_id" db:"source_region_id"`
	TargetRegionID string            `json:"target_region_id" db:"target_region_id"`
	DataType       string            `json:"data_type" db:"data_type"`
	Status         ReplicationStatus `json:"status" db:"status"`
	LagSeconds     int               `json:"lag_seconds" db:"lag_seconds"`
	LastSyncedAt   *time.Time        `json:"last_synced_at,omitempty" db:"last_synced_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}
